package realtime

import (
	"sync"
	"time"
)

const (
	DefaultStormWindow    = 30 * time.Second
	DefaultStormThreshold = 10
)

// stormDetector counts channel creations in a rolling window.
// A storm starts when creations exceed the threshold and ends when they fall back under it.
type stormDetector struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	creations []time.Time
	inStorm   bool
	storms    int64
}

func newStormDetector(window time.Duration, threshold int) *stormDetector {
	if window <= 0 {
		window = DefaultStormWindow
	}
	if threshold <= 0 {
		threshold = DefaultStormThreshold
	}
	return &stormDetector{window: window, threshold: threshold}
}

// record adds one creation and reports whether it started a new storm
func (s *stormDetector) record(now time.Time) (started bool, inWindow int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.creations = append(s.creations, now)

	if len(s.creations) <= s.threshold {
		s.inStorm = false
		return false, len(s.creations)
	}
	if s.inStorm {
		return false, len(s.creations)
	}
	s.inStorm = true
	s.storms++
	return true, len(s.creations)
}

func (s *stormDetector) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.creations) && !s.creations[i].After(cutoff) {
		i++
	}
	s.creations = s.creations[i:]
}

func (s *stormDetector) snapshot(now time.Time) (inWindow int, storms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	return len(s.creations), s.storms
}
