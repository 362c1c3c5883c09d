package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// memoryEntry is one stored record. A zero expiresAt means no expiry.
type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// expiryRecord marks a key for the reaper. Records are appended in insertion
// order; because every write uses the same TTL per scope the queue head is
// always the earliest deadline.
type expiryRecord struct {
	expiresAt time.Time
	key       string
}

// MemoryStore is the in-process Store backend. Reads never return expired
// entries; physical removal happens lazily on Get and in bulk through
// CleanupExpired, which the serve lifecycle drives via Reap.
type MemoryStore struct {
	scope  string
	logger *slog.Logger

	mu          sync.Mutex
	data        map[string]memoryEntry
	expiryQueue []expiryRecord

	// now is swapped out in tests.
	now func() time.Time
}

// NewMemoryStore returns an empty store for the given scope.
func NewMemoryStore(scope string, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		scope:  scope,
		logger: logger,
		data:   make(map[string]memoryEntry),
		now:    time.Now,
	}
}

// Set stores value under key, replacing any previous entry.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal %s/%s: %w", s.scope, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{raw: raw}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
		s.expiryQueue = append(s.expiryQueue, expiryRecord{expiresAt: e.expiresAt, key: key})
	}
	s.data[key] = e
	return nil
}

// Get loads the entry under key into dest. Entries past their deadline are
// removed and reported as ErrNotFound even before the reaper runs.
func (s *MemoryStore) Get(_ context.Context, key string, dest any) error {
	s.mu.Lock()
	e, ok := s.data[key]
	if ok && !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.data, key)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(e.raw, dest); err != nil {
		return fmt.Errorf("storage: unmarshal %s/%s: %w", s.scope, key, err)
	}
	return nil
}

// Delete removes the entry under key, if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Remove deletes the entry under key and reports whether a live entry was
// removed. Entries past their deadline count as absent.
func (s *MemoryStore) Remove(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return false, nil
	}
	delete(s.data, key)
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		return false, nil
	}
	return true, nil
}

// CleanupExpired pops the expiry queue while the head deadline has passed
// and removes the named entries. A key overwritten since its record was
// queued may carry a fresher deadline, so each entry's own expiry is checked
// again before removal. Returns the number of entries removed.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for len(s.expiryQueue) > 0 && !now.Before(s.expiryQueue[0].expiresAt) {
		rec := s.expiryQueue[0]
		s.expiryQueue = s.expiryQueue[1:]

		e, ok := s.data[rec.key]
		if ok && !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.data, rec.key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, counting out entries whose
// deadline has passed but which the reaper has not collected yet.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.data {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Reap runs CleanupExpired on the given interval until ctx is cancelled. A
// panicking sweep is logged and the loop keeps running; the reaper must
// outlive any single bad cycle.
func (s *MemoryStore) Reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("storage cleanup failed", "scope", s.scope, "panic", r)
		}
	}()
	if n := s.CleanupExpired(); n > 0 {
		s.logger.Debug("expired entries removed", "scope", s.scope, "count", n)
	}
}
