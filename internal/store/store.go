// Package store holds in-memory analysis results keyed by analysis id.
// It is the authoritative read path for the API; the repository and
// cache layers are write-behind copies.
package store

import (
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryStore is a mutex-guarded map of analysis results.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*domain.AnalysisResult
}

// NewMemoryStore creates an empty result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*domain.AnalysisResult),
	}
}

// Put stores or replaces a result atomically. The submission time of a
// pending placeholder survives the replacement; terminal results get a
// completion timestamp if the caller left it unset.
func (s *MemoryStore) Put(id string, result *domain.AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.AnalysisID = id
	if prev, ok := s.results[id]; ok && result.CreatedAt.IsZero() {
		result.CreatedAt = prev.CreatedAt
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	terminal := result.Status == domain.StatusComplete || result.Status == domain.StatusError
	if terminal && result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	s.results[id] = result
}

// Get returns the result for an analysis id, if present.
func (s *MemoryStore) Get(id string) (*domain.AnalysisResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	return result, ok
}

// UpdateStatus transitions the stored result's status, creating a
// placeholder entry when the analysis has not produced output yet.
func (s *MemoryStore) UpdateStatus(id string, status domain.AnalysisStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.results[id]
	if !ok {
		result = &domain.AnalysisResult{
			AnalysisID: id,
			CreatedAt:  time.Now().UTC(),
		}
		s.results[id] = result
	}
	result.Status = status
	result.Error = errMsg
	if status == domain.StatusComplete || status == domain.StatusError {
		result.CompletedAt = time.Now().UTC()
	}
}

// Exists reports whether an analysis id is known.
func (s *MemoryStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.results[id]
	return ok
}

// Len returns the number of stored results.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
