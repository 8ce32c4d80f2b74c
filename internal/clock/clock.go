// Package clock provides an injectable notion of wall time and the
// exchange session calendar the rest of the pipeline gates on.
package clock

import "time"

// Clock is the seam every component uses instead of calling time.Now()
// directly, so tests can drive the pipeline through a fixed or stepped
// timeline.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Useful for tests that
// need every timestamp in a run to line up exactly.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }

// OffsetClock advances a base instant by a caller-controlled delta,
// letting a test simulate the passage of time deterministically.
type OffsetClock struct {
	Base   time.Time
	Offset time.Duration
}

func (o *OffsetClock) Now() time.Time { return o.Base.Add(o.Offset) }

// Advance moves the clock forward by d and returns the new instant.
func (o *OffsetClock) Advance(d time.Duration) time.Time {
	o.Offset += d
	return o.Now()
}
