// Package nonce implements NonceSource: a strictly increasing per-API-key
// integer sequence, persisted to disk so a process restart never reuses a
// value.
package nonce

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"bitfinex-trading-core/pkg/jsonstore"
)

const fileName = "nonce_store.json"

type fileFormat struct {
	LastIssued map[string]int64 `json:"last_issued"`
}

// Source issues monotonically increasing nonces, one sequence per API key.
// Issuance is serialized with a single mutex: a per-key mutex would do, but
// a single process here only ever has one configured key, and a global
// lock keeps the persisted file write trivially consistent across keys if
// that ever changes.
type Source struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger

	last map[string]int64
}

// New loads (or initializes) the nonce store rooted at stateDir.
func New(stateDir string, log *slog.Logger) *Source {
	s := &Source{
		path: filepath.Join(stateDir, fileName),
		log:  log,
		last: map[string]int64{},
	}
	var f fileFormat
	if err := jsonstore.Load(s.path, &f); err != nil {
		s.log.Warn("nonce store unreadable, reinitializing", "err", err)
	} else if f.LastIssued != nil {
		s.last = f.LastIssued
	}
	return s
}

// Next returns the next nonce for key: max(now_microseconds, last+1).
// Persists the new value before returning it so a crash between issuance
// and use cannot cause a later process to reissue the same value.
func (s *Source) Next(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMicro()
	next := now
	if last, ok := s.last[key]; ok && last+1 > next {
		next = last + 1
	}
	s.last[key] = next

	if err := jsonstore.Save(s.path, fileFormat{LastIssued: s.last}); err != nil {
		s.log.Error("nonce store persist failed", "err", err)
	}
	return next
}
