package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TokenStorage represents saved tokens for a specific client
type TokenStorage struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	ClientID     string    `json:"client_id"`
}

// TokenStorageMap manages tokens for multiple clients
type TokenStorageMap struct {
	Tokens map[string]*TokenStorage `json:"tokens"` // key = client_id
}

// tokenStore holds the working copy of one client's credentials and
// persists every change to the shared token file. Reads are served from
// memory, so the session pipeline can attach the current access token to
// any number of concurrent requests; writes merge with other clients'
// entries under a file lock.
type tokenStore struct {
	path     string
	clientID string

	mu       sync.RWMutex
	current  *TokenStorage
	onUpdate func(TokenStorage)
}

// openTokenStore loads the client's saved tokens if the token file has
// any. A missing or unreadable file is not an error; the store just
// starts out empty.
func openTokenStore(path, clientID string) *tokenStore {
	ts := &tokenStore{path: path, clientID: clientID}

	data, err := os.ReadFile(path)
	if err != nil {
		return ts
	}
	var storageMap TokenStorageMap
	if err := json.Unmarshal(data, &storageMap); err != nil {
		return ts
	}
	if storage, ok := storageMap.Tokens[clientID]; ok {
		ts.current = storage
	}
	return ts
}

// OnUpdate registers a callback observing every credential update. Set it
// before the store is shared between goroutines.
func (ts *tokenStore) OnUpdate(fn func(TokenStorage)) {
	ts.onUpdate = fn
}

// HasCredentials reports whether the store holds tokens for the client.
func (ts *tokenStore) HasCredentials() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.current != nil
}

// AccessToken returns the current access token, or "" when logged out.
func (ts *tokenStore) AccessToken() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.current == nil {
		return ""
	}
	return ts.current.AccessToken
}

// RefreshToken returns the current refresh token, or "" when logged out.
func (ts *tokenStore) RefreshToken() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.current == nil {
		return ""
	}
	return ts.current.RefreshToken
}

// ExpiresAt returns the access token's expiry time, zero when logged out.
func (ts *tokenStore) ExpiresAt() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.current == nil {
		return time.Time{}
	}
	return ts.current.ExpiresAt
}

// Current returns a snapshot of the stored credentials.
func (ts *tokenStore) Current() (TokenStorage, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.current == nil {
		return TokenStorage{}, false
	}
	return *ts.current, true
}

// Update replaces the client's credentials and persists them to the token
// file, merging with other clients' entries. The in-memory copy is
// updated even when persisting fails, so the session can carry on; the
// caller decides whether a persist failure matters.
func (ts *tokenStore) Update(storage *TokenStorage) error {
	if storage.ClientID == "" {
		storage.ClientID = ts.clientID
	}

	ts.mu.Lock()
	ts.current = storage
	ts.mu.Unlock()

	err := ts.persist(storage)
	if ts.onUpdate != nil {
		ts.onUpdate(*storage)
	}
	return err
}

// persist writes the credentials into the shared token file. Uses file
// locking against other processes on the same file, and an atomic rename
// so a crash never leaves a half-written file behind.
func (ts *tokenStore) persist(storage *TokenStorage) error {
	lock, err := lockTokenFile(ts.path)
	if err != nil {
		return fmt.Errorf("failed to lock token file: %w", err)
	}
	defer func() {
		if unlockErr := lock.unlock(); unlockErr != nil {
			fmt.Fprintf(os.Stderr, "failed to unlock token file: %v\n", unlockErr)
		}
	}()

	// Load the existing token map inside the lock so another client's
	// concurrent save is not lost.
	var storageMap TokenStorageMap
	if existingData, err := os.ReadFile(ts.path); err == nil {
		if unmarshalErr := json.Unmarshal(existingData, &storageMap); unmarshalErr != nil {
			storageMap.Tokens = make(map[string]*TokenStorage)
		}
	}
	if storageMap.Tokens == nil {
		storageMap.Tokens = make(map[string]*TokenStorage)
	}

	storageMap.Tokens[storage.ClientID] = storage

	data, err := json.MarshalIndent(storageMap, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first (atomic write pattern)
	tempFile := ts.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, ts.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
