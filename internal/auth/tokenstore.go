package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// TokenStore persists one token per server id. Load returns nil, nil when
// nothing is stored, and deleting a missing entry is not an error.
type TokenStore interface {
	Load(serverID string) (*Token, error)
	Save(serverID string, token *Token) error
	Delete(serverID string) error
}

const keyringServicePrefix = "mcp-client-"

// KeyringStore keeps tokens in the operating system's secret store.
type KeyringStore struct{}

// NewKeyringStore returns a store backed by the system keyring.
func NewKeyringStore() *KeyringStore { return &KeyringStore{} }

func keyringService(serverID string) string { return keyringServicePrefix + serverID }

// Load implements TokenStore.
func (KeyringStore) Load(serverID string) (*Token, error) {
	secret, err := keyring.Get(keyringService(serverID), serverID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token for %s from keyring: %w", serverID, err)
	}

	var tok Token
	if err := json.Unmarshal([]byte(secret), &tok); err != nil {
		return nil, fmt.Errorf("failed to decode stored token for %s: %w", serverID, err)
	}
	return &tok, nil
}

// Save implements TokenStore.
func (KeyringStore) Save(serverID string, token *Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := keyring.Set(keyringService(serverID), serverID, string(data)); err != nil {
		return fmt.Errorf("failed to store token for %s in keyring: %w", serverID, err)
	}
	return nil
}

// Delete implements TokenStore.
func (KeyringStore) Delete(serverID string) error {
	err := keyring.Delete(keyringService(serverID), serverID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token for %s from keyring: %w", serverID, err)
	}
	return nil
}

// MemoryStore keeps tokens for the lifetime of the process.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

// Load implements TokenStore.
func (s *MemoryStore) Load(serverID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[serverID]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

// Save implements TokenStore.
func (s *MemoryStore) Save(serverID string, token *Token) error {
	if token == nil {
		return fmt.Errorf("cannot store nil token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[serverID] = *token
	return nil
}

// Delete implements TokenStore.
func (s *MemoryStore) Delete(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, serverID)
	return nil
}
