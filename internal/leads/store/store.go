// Package store keeps the lead cache in memory and snapshots it to disk.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/platform/apperr"
	"phoneagent_backend/platform/logger"
)

// snapshot is the on-disk format. Leads are keyed by CRM id; order is
// rebuilt on load from CachedAt so re-dispatch walks leads in ingest order.
type snapshot struct {
	LastUpdated time.Time              `json:"lastUpdated"`
	Processed   map[string]domain.Lead `json:"processed"`
}

// Store is the in-memory lead cache. All methods are safe for
// concurrent use.
type Store struct {
	mu           sync.RWMutex
	leads        map[string]*domain.Lead
	order        []string
	path         string
	persistEvery int
	dirtyWrites  int
	log          *logger.Logger
}

// New creates a store persisting to path. persistEvery controls how many
// upserts accumulate before an automatic snapshot; values below one
// default to ten.
func New(path string, persistEvery int, log *logger.Logger) *Store {
	if persistEvery < 1 {
		persistEvery = 10
	}
	return &Store{
		leads:        make(map[string]*domain.Lead),
		path:         path,
		persistEvery: persistEvery,
		log:          log,
	}
}

// Load reads the snapshot file. A missing file is a fresh start, not an
// error. A file that exists but cannot be parsed returns a CorruptState
// error so the caller can decide whether to discard it.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return apperr.CorruptState(fmt.Sprintf("state file %s is not valid JSON", s.path), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = make(map[string]*domain.Lead, len(snap.Processed))
	s.order = s.order[:0]
	for id, lead := range snap.Processed {
		l := lead
		if l.ID == "" {
			l.ID = id
		}
		s.leads[id] = &l
		s.order = append(s.order, id)
	}
	sort.Slice(s.order, func(i, j int) bool {
		a, b := s.leads[s.order[i]], s.leads[s.order[j]]
		if a.CachedAt.Equal(b.CachedAt) {
			return a.ID < b.ID
		}
		return a.CachedAt.Before(b.CachedAt)
	})
	return nil
}

// Discard drops the on-disk snapshot and resets the in-memory cache.
// Used to recover from a corrupt state file.
func (s *Store) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = make(map[string]*domain.Lead)
	s.order = nil
	s.dirtyWrites = 0
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// Upsert adds or replaces a lead. Every persistEvery-th write triggers an
// automatic snapshot.
func (s *Store) Upsert(lead domain.Lead) error {
	if err := lead.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	if lead.CachedAt.IsZero() {
		lead.CachedAt = time.Now()
	}

	s.mu.Lock()
	if _, exists := s.leads[lead.ID]; !exists {
		s.order = append(s.order, lead.ID)
	}
	l := lead
	s.leads[lead.ID] = &l
	s.dirtyWrites++
	due := s.dirtyWrites >= s.persistEvery
	if due {
		s.dirtyWrites = 0
	}
	s.mu.Unlock()

	if due {
		if err := s.Persist(); err != nil {
			s.log.Error("automatic state snapshot failed", "error", err)
		}
	}
	return nil
}

// Get returns a copy of the lead, or a NotFound error.
func (s *Store) Get(id string) (domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, apperr.NotFound(fmt.Sprintf("lead %s not found", id))
	}
	return *lead, nil
}

// Has reports whether the lead is already cached.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.leads[id]
	return ok
}

// FindByCallID returns the lead associated with an in-flight call id.
func (s *Store) FindByCallID(callID string) (domain.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if lead := s.leads[id]; lead.CallID == callID {
			return *lead, true
		}
	}
	return domain.Lead{}, false
}

// Update applies fn to the stored lead under the write lock. Returns
// NotFound if the lead does not exist. Counts against the same persist
// threshold as Upsert, so a crash mid-batch loses at most the last
// persistEvery status changes.
func (s *Store) Update(id string, fn func(*domain.Lead)) error {
	s.mu.Lock()
	lead, ok := s.leads[id]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFound(fmt.Sprintf("lead %s not found", id))
	}
	fn(lead)
	s.dirtyWrites++
	due := s.dirtyWrites >= s.persistEvery
	if due {
		s.dirtyWrites = 0
	}
	s.mu.Unlock()

	if due {
		if err := s.Persist(); err != nil {
			s.log.Error("automatic state snapshot failed", "error", err)
		}
	}
	return nil
}

// Pending returns up to limit unprocessed leads in ingest order.
// A limit below one returns all pending leads.
func (s *Store) Pending(limit int) []domain.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Lead
	for _, id := range s.order {
		lead := s.leads[id]
		if lead.Processed() {
			continue
		}
		out = append(out, *lead)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// All returns every cached lead in ingest order.
func (s *Store) All() []domain.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Lead, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.leads[id])
	}
	return out
}

// Stats counts leads by status and, for worked leads, by call outcome.
type Stats struct {
	Total        int                    `json:"total"`
	NotProcessed int                    `json:"notProcessed"`
	Called       int                    `json:"called"`
	Errored      int                    `json:"errored"`
	Outcomes     map[domain.Outcome]int `json:"outcomes,omitempty"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Total: len(s.leads)}
	for _, lead := range s.leads {
		switch lead.Status {
		case domain.StatusCalled:
			stats.Called++
		case domain.StatusError:
			stats.Errored++
		default:
			stats.NotProcessed++
		}
		if lead.Outcome != "" {
			if stats.Outcomes == nil {
				stats.Outcomes = make(map[domain.Outcome]int)
			}
			stats.Outcomes[lead.Outcome]++
		}
	}
	return stats
}

// Persist writes the snapshot atomically: a temp file in the same
// directory, then rename. A crash mid-write leaves the old snapshot
// intact.
func (s *Store) Persist() error {
	s.mu.Lock()
	snap := snapshot{
		LastUpdated: time.Now(),
		Processed:   make(map[string]domain.Lead, len(s.leads)),
	}
	for id, lead := range s.leads {
		snap.Processed[id] = *lead
	}
	s.dirtyWrites = 0
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
