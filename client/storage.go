package client

import (
	"sync"
)

// Secure storage keys for the persisted credential set. All four are cleared
// together on logout so storage never holds a partial pair.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserID       = "userId"
	KeyUserEmail    = "userEmail"
)

// SecureStore is the external secure key-value capability: encrypted at rest,
// synchronous access. Implementations are provided by the host application
// (keychain, OS keyring); MemoryStore covers tests and examples.
type SecureStore interface {
	Save(key, value string) error
	Get(key string) (string, bool)
	Delete(key string) error
}

// ClearCredentials removes the whole credential set from storage
func ClearCredentials(store SecureStore) {
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUserID, KeyUserEmail} {
		_ = store.Delete(key)
	}
}

// MemoryStore is an in-process SecureStore
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ SecureStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

// Save stores the value under key
func (s *MemoryStore) Save(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Get returns the value and whether it was present
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Delete removes the value under key
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
