// File: internal/recognition/stats.go
package recognition

import (
	"sync"
	"time"

	"github.com/riftlab/automaton/api/schemas"
)

// Stats holds per-engine match counters. Counters are owned by the engine
// instance, never process-wide, so two engines do not contaminate each
// other's numbers.
type Stats struct {
	mu        sync.Mutex
	attempts  uint64
	successes uint64
	failures  uint64
	totalTime time.Duration
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Attempts  uint64
	Successes uint64
	Failures  uint64
	TotalTime time.Duration
}

// AvgDuration returns the mean match time, or zero with no attempts.
func (s StatsSnapshot) AvgDuration() time.Duration {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Attempts)
}

func (s *Stats) record(res schemas.RecognitionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if res.Status == schemas.RecognitionSuccess {
		s.successes++
	} else {
		s.failures++
	}
	s.totalTime += res.Duration
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Attempts:  s.attempts,
		Successes: s.successes,
		Failures:  s.failures,
		TotalTime: s.totalTime,
	}
}
