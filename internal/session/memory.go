package session

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory. Used by tests and
// ephemeral runs where the credential should not outlive the process.
type MemoryStore struct {
	mu         sync.RWMutex
	credential string
	ok         bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored credential.
func (s *MemoryStore) Get(_ context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.ok
}

// Set stores the credential.
func (s *MemoryStore) Set(_ context.Context, credential string) error {
	s.mu.Lock()
	s.credential, s.ok = credential, true
	s.mu.Unlock()
	return nil
}

// Clear removes the credential.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.credential, s.ok = "", false
	s.mu.Unlock()
	return nil
}
