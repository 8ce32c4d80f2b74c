package clock

import "time"

// Session names the phase of the trading day a timestamp falls in.
type Session string

const (
	SessionPremarket  Session = "PRE"
	SessionRegular    Session = "RTH"
	SessionPostmarket Session = "POST"
	SessionClosed     Session = "CLOSED"
	SessionUnknown    Session = "UNKNOWN"
)

var eastern = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EarlyClose maps a "YYYY-MM-DD" day key to the minutes-from-midnight ET
// at which the regular session ends early (e.g. the day after
// Thanksgiving, 13:00 ET = 780).
type EarlyClose map[string]int

// SessionCalendar answers "what session is it" and "how many minutes
// until close" against an injected Clock, so tests never depend on the
// wall clock. Holidays are approximated by a configured set of day
// keys, not derived from an exchange calendar feed.
type SessionCalendar struct {
	clock      Clock
	holidays   map[string]bool
	earlyClose EarlyClose
}

func NewSessionCalendar(clock Clock, holidays map[string]bool, earlyClose EarlyClose) *SessionCalendar {
	if holidays == nil {
		holidays = map[string]bool{}
	}
	if earlyClose == nil {
		earlyClose = EarlyClose{}
	}
	return &SessionCalendar{clock: clock, holidays: holidays, earlyClose: earlyClose}
}

const (
	premarketStartMin = 4 * 60
	marketOpenMin     = 9*60 + 30
	marketCloseMin    = 16 * 60
	postmarketEndMin  = 20 * 60
)

// DayKey returns the "YYYY-MM-DD" key for t in Eastern time, used to
// index holidays, early-close overrides, and daily counter resets.
func DayKey(t time.Time) string {
	return t.In(eastern).Format("2006-01-02")
}

func (c *SessionCalendar) isHoliday(t time.Time) bool {
	return c.holidays[DayKey(t)]
}

func (c *SessionCalendar) closeMinuteFor(t time.Time) int {
	if m, ok := c.earlyClose[DayKey(t)]; ok {
		return m
	}
	return marketCloseMin
}

// Current returns the session for the clock's current instant.
func (c *SessionCalendar) Current() Session {
	return c.At(c.clock.Now())
}

// At returns the session for an arbitrary instant, so the calendar can
// also be used to classify historical bar timestamps.
func (c *SessionCalendar) At(t time.Time) Session {
	et := t.In(eastern)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return SessionClosed
	}
	if c.isHoliday(et) {
		return SessionClosed
	}

	minutes := et.Hour()*60 + et.Minute()
	closeMin := c.closeMinuteFor(et)

	switch {
	case minutes >= premarketStartMin && minutes < marketOpenMin:
		return SessionPremarket
	case minutes >= marketOpenMin && minutes < closeMin:
		return SessionRegular
	case minutes >= closeMin && minutes < postmarketEndMin:
		return SessionPostmarket
	default:
		return SessionClosed
	}
}

// IsRTH is a convenience for the common "are we in regular trading
// hours right now" check the suppression chain and rate limiter both
// need.
func (c *SessionCalendar) IsRTH() bool {
	return c.Current() == SessionRegular
}

// MinutesToClose returns the whole minutes remaining until the close of
// the current session's regular-hours window, or -1 if the market is
// not currently open. Used by the EOD Flattener to trigger its
// close-minus-N-minutes window.
func (c *SessionCalendar) MinutesToClose() int {
	now := c.clock.Now()
	if c.At(now) != SessionRegular {
		return -1
	}
	et := now.In(eastern)
	nowMin := et.Hour()*60 + et.Minute()
	return c.closeMinuteFor(et) - nowMin
}

// IsWithinOpeningAuctionWindow reports whether now falls in the
// 09:25-09:35 ET window right after the opening print settles, when
// the Flattener sweeps any position that's still open from overnight.
func (c *SessionCalendar) IsWithinOpeningAuctionWindow() bool {
	now := c.clock.Now()
	et := now.In(eastern)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.isHoliday(et) {
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= (9*60+25) && minutes < (9*60+35)
}
