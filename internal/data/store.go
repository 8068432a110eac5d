// Package data provides the console client, guide storage and guide refresh coordination.
package data

import (
	"sync"
	"time"

	"github.com/savid/iptv-console/internal/guide"
)

// Params are the guide request parameters a refresh was issued with.
type Params struct {
	WindowDays int
	Provider   string
	Group      string
}

// Store provides thread-safe storage for the current guide model. The model is
// always replaced as a whole.
type Store struct {
	mu sync.RWMutex

	model       *guide.Model
	lastApplied Params
	hasApplied  bool
	lastSync    time.Time
}

// NewStore creates a new guide store.
func NewStore() *Store {
	return &Store{}
}

// SetModel swaps in a new model.
func (s *Store) SetModel(m *guide.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.model = m
	s.lastSync = time.Now()
}

// Model returns the current model.
func (s *Store) Model() (*guide.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.model == nil {
		return nil, false
	}

	return s.model, true
}

// Clear discards the model and the last applied parameters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.model = nil
	s.lastApplied = Params{}
	s.hasApplied = false
}

// SetApplied records the parameters of the last successful guide merge.
func (s *Store) SetApplied(p Params) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastApplied = p
	s.hasApplied = true
}

// LastApplied returns the parameters of the last successful guide merge.
func (s *Store) LastApplied() (Params, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastApplied, s.hasApplied
}

// LastSync returns the time the model was last replaced.
func (s *Store) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastSync
}

// HasModel returns true if a guide model is loaded.
func (s *Store) HasModel() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.model != nil
}
