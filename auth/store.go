// Package auth implements credential handling for the client core: the
// token store boundary, the single-flight refresh coordinator, and the
// auth header provider.
package auth

import "sync"

// TokenStore is the boundary to wherever tokens physically live (keychain,
// encrypted file, ...). Implementations must write the access/refresh pair
// atomically: a concurrent reader must never observe a half-updated pair.
type TokenStore interface {
	AccessToken() (string, error)
	RefreshToken() (string, error)
	SaveTokens(access, refresh string) error
	ClearTokens() error
}

// MemoryTokenStore is an in-memory TokenStore. Both tokens live under one
// lock, which gives the atomic pair-write guarantee for free.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// AccessToken returns the stored access token, empty when absent.
func (s *MemoryTokenStore) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, nil
}

// RefreshToken returns the stored refresh token, empty when absent.
func (s *MemoryTokenStore) RefreshToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh, nil
}

// SaveTokens replaces both tokens in one critical section.
func (s *MemoryTokenStore) SaveTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	return nil
}

// ClearTokens removes both tokens.
func (s *MemoryTokenStore) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	return nil
}
