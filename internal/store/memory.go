package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/airquality-forecast/internal/airquality"
)

var (
	// ErrNotFound is returned when no observations match a query.
	ErrNotFound = errors.New("no observations for requested range")
)

// MemoryStore is a concurrency-safe in-memory holder of the observation
// series. A reload replaces the whole series; readers get copies.
type MemoryStore struct {
	mu sync.RWMutex

	series []airquality.Observation

	// retention configuration
	maxHistory int // max number of observations kept (0 = unlimited)
}

// NewMemoryStore creates a new MemoryStore.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
	}
}

// Replace swaps in a new series, sorting it by time and enforcing retention.
func (s *MemoryStore) Replace(series []airquality.Observation) {
	next := make([]airquality.Observation, len(series))
	copy(next, series)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Time.Before(next[j].Time)
	})

	// Enforce retention by count, keeping the most recent rows.
	if s.maxHistory > 0 && len(next) > s.maxHistory {
		over := len(next) - s.maxHistory
		next = next[over:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = next
}

// All returns a copy of the whole series.
func (s *MemoryStore) All() []airquality.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]airquality.Observation, len(s.series))
	copy(out, s.series)
	return out
}

// Tail returns a copy of the last n observations (fewer if not available).
func (s *MemoryStore) Tail(n int) []airquality.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []airquality.Observation{}
	}
	if n > len(s.series) {
		n = len(s.series)
	}
	out := make([]airquality.Observation, n)
	copy(out, s.series[len(s.series)-n:])
	return out
}

// Latest returns the most recent observation.
func (s *MemoryStore) Latest() (airquality.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.series) == 0 {
		return airquality.Observation{}, ErrNotFound
	}
	return s.series[len(s.series)-1], nil
}

// Range returns all observations between from and to (inclusive).
func (s *MemoryStore) Range(from, to time.Time) ([]airquality.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []airquality.Observation
	for _, obs := range s.series {
		if (obs.Time.Equal(from) || obs.Time.After(from)) &&
			(obs.Time.Equal(to) || obs.Time.Before(to)) {
			result = append(result, obs)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

// Len returns the number of stored observations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}
