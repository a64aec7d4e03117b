package ratelimiter

import (
	"context"
	"sync"
	"time"
)

const idleEviction = 2 * time.Hour

// MemoryStore is the process-local counter store: a map of subjects to
// timestamp windows, guarded per subject so two requests for the same user
// in the same millisecond cannot lose an update.
type MemoryStore struct {
	mu          sync.Mutex
	subjects    map[string]*subjectCounters
	lastCleanup time.Time
}

type subjectCounters struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	lastSeen time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:    make(map[string]*subjectCounters),
		lastCleanup: time.Now(),
	}
}

func (s *MemoryStore) Take(ctx context.Context, subject string, now time.Time, windows []Window) (*Decision, error) {
	sc := s.get(subject, now)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.lastSeen = now

	// Purge then check each window in order; do not record until every
	// window has passed.
	for _, w := range windows {
		stamps := purge(sc.windows[w.Name], now.Add(-w.Duration))
		sc.windows[w.Name] = stamps

		if len(stamps) >= w.Limit {
			return &Decision{
				Allowed:    false,
				Window:     w.Name,
				RetryAfter: retryAfter(stamps[0], w.Duration, now),
			}, nil
		}
	}

	for _, w := range windows {
		sc.windows[w.Name] = append(sc.windows[w.Name], now)
	}
	return &Decision{Allowed: true}, nil
}

func (s *MemoryStore) Reset(ctx context.Context, subject string, windows []Window) error {
	s.mu.Lock()
	delete(s.subjects, subject)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) get(subject string, now time.Time) *subjectCounters {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastCleanup) > idleEviction {
		for key, sc := range s.subjects {
			sc.mu.Lock()
			idle := now.Sub(sc.lastSeen) > idleEviction
			sc.mu.Unlock()
			if idle {
				delete(s.subjects, key)
			}
		}
		s.lastCleanup = now
	}

	sc, ok := s.subjects[subject]
	if !ok {
		sc = &subjectCounters{
			windows:  make(map[string][]time.Time),
			lastSeen: now,
		}
		s.subjects[subject] = sc
	}
	return sc
}

// purge drops timestamps at or before the cutoff. Entries are appended in
// order, so the slice stays sorted and the first element is the oldest.
func purge(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}

// retryAfter is the whole number of seconds until the oldest timestamp in
// the violated window rolls out of it, never less than one.
func retryAfter(oldest time.Time, window time.Duration, now time.Time) int {
	wait := oldest.Add(window).Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
