package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Seen cache — idempotency keys with TTL and a durable JSON snapshot
// ---------------------------------------------------------------------------

// BuyKey builds the debounce key for a (wallet, mint) pair.
func BuyKey(wallet, mint string) string {
	return "buy:" + wallet + ":" + mint
}

// Store is a TTL'd key -> timestamp(ms) cache. Dedup is advisory, so the
// get-then-set window is acceptable.
type Store struct {
	path string
	ttl  time.Duration

	mu   sync.RWMutex
	seen map[string]int64
}

// NewStore creates a cache persisted at path with the given TTL. A missing
// or corrupt snapshot loads as empty.
func NewStore(path string, ttl time.Duration) *Store {
	s := &Store{
		path: path,
		ttl:  ttl,
		seen: make(map[string]int64),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var snapshot map[string]int64
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("dedup: corrupt snapshot, starting empty")
		return
	}
	s.seen = snapshot
	log.Info().Int("entries", len(snapshot)).Msg("dedup: snapshot loaded")
}

// SeenWithin reports whether the key was set within the TTL. A fresh key is
// recorded as seen now.
func (s *Store) SeenWithin(key string) bool {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ts, ok := s.seen[key]; ok {
		if now-ts < s.ttl.Milliseconds() {
			return true
		}
	}
	s.seen[key] = now
	return false
}

// Has reports whether the key is present and fresh, without recording it.
func (s *Store) Has(key string) bool {
	now := time.Now().UnixMilli()
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.seen[key]
	return ok && now-ts < s.ttl.Milliseconds()
}

// Set records the key at the current time.
func (s *Store) Set(key string) {
	s.mu.Lock()
	s.seen[key] = time.Now().UnixMilli()
	s.mu.Unlock()
}

// Delete removes a key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Prune drops entries older than the TTL and returns how many were removed.
func (s *Store) Prune() int {
	cutoff := time.Now().UnixMilli() - s.ttl.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ts := range s.seen {
		if ts < cutoff {
			delete(s.seen, k)
			removed++
		}
	}
	return removed
}

// Flush writes the snapshot via temp file + atomic rename. Failures are
// logged, never propagated.
func (s *Store) Flush() {
	s.mu.RLock()
	snapshot := make(map[string]int64, len(s.seen))
	for k, v := range s.seen {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := writeAtomic(s.path, snapshot); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("dedup: snapshot write failed")
	}
}

// Run prunes and flushes periodically until the context is cancelled, then
// flushes a final time.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			if removed := s.Prune(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("dedup: pruned expired entries")
			}
			s.Flush()
		}
	}
}

func writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
