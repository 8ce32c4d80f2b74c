package bars

import (
	"sync"
)

// windowSize is the number of trailing bars retained per symbol. Large
// enough to cover the slowest indicator (EMA50 stabilizes after several
// multiples of its period).
const windowSize = 200

// Store is the single in-process owner of bar history, per the data
// model's ownership note that the Bar Store is authoritative and
// in-memory. It is safe for concurrent use by the ingestor writer and
// any number of reader goroutines (regime detector, mixer, dispatcher).
type Store struct {
	mu      sync.RWMutex
	history map[string][]Bar
}

func NewStore() *Store {
	return &Store{history: make(map[string][]Bar)}
}

// Append adds a bar to symbol's rolling window, evicting the oldest bar
// once the window is full. Bars must arrive in non-decreasing timestamp
// order per symbol; the ingestor is responsible for that ordering.
func (s *Store) Append(b Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[b.Symbol]
	h = append(h, b)
	if len(h) > windowSize {
		h = h[len(h)-windowSize:]
	}
	s.history[b.Symbol] = h
}

// Window returns a copy of the last n bars for symbol, oldest first. If
// fewer than n bars are available, all available bars are returned.
func (s *Store) Window(symbol string, n int) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[symbol]
	if n <= 0 || n > len(h) {
		n = len(h)
	}
	out := make([]Bar, n)
	copy(out, h[len(h)-n:])
	return out
}

// Latest returns the most recent bar for symbol, and whether one exists.
func (s *Store) Latest(symbol string) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[symbol]
	if len(h) == 0 {
		return Bar{}, false
	}
	return h[len(h)-1], true
}

// Symbols returns every symbol currently tracked, for periodic sweeps
// (regime recompute, EOD flatten checks).
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.history))
	for sym := range s.history {
		out = append(out, sym)
	}
	return out
}

// Compute derives the full Indicators snapshot for symbol from its
// current window. Ready is false until at least 50 bars are present,
// matching the EMA50 stabilization requirement.
func (s *Store) Compute(symbol string) Indicators {
	window := s.Window(symbol, windowSize)
	return computeIndicators(symbol, window)
}
