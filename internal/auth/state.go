// Package auth issues and validates the one-time CSRF state tokens used by
// the OAuth login flow.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	stateTTL      = 10 * time.Minute
	sweepInterval = 1 * time.Minute
	stateBytes    = 32
)

type stateEntry struct {
	purpose string
	expiry  time.Time
}

// StateManager holds active OAuth state tokens. Each token validates at most
// once; expired tokens are removed on lookup and by the periodic sweep.
type StateManager struct {
	mu     sync.Mutex
	states map[string]stateEntry
	clock  clockwork.Clock
}

// NewStateManager creates a StateManager using the given clock.
func NewStateManager(clock clockwork.Clock) *StateManager {
	return &StateManager{
		states: make(map[string]stateEntry),
		clock:  clock,
	}
}

// Generate produces a URL-safe random state token and records it together
// with an opaque purpose string (e.g. which account the callback is for).
func (sm *StateManager) Generate(purpose string) (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	sm.mu.Lock()
	sm.states[token] = stateEntry{
		purpose: purpose,
		expiry:  sm.clock.Now().Add(stateTTL),
	}
	sm.mu.Unlock()

	return token, nil
}

// Consume validates a state token and returns its purpose. The entry is
// removed whether or not validation succeeds, so a second call with the
// same token always fails.
func (sm *StateManager) Consume(token string) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	entry, ok := sm.states[token]
	if !ok {
		return "", false
	}
	delete(sm.states, token)

	if sm.clock.Now().After(entry.expiry) {
		return "", false
	}
	return entry.purpose, true
}

// CleanupExpired removes all entries whose expiry has passed and returns
// how many were swept. Unexpired entries are untouched.
func (sm *StateManager) CleanupExpired() int {
	now := sm.clock.Now()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	swept := 0
	for token, entry := range sm.states {
		if now.After(entry.expiry) {
			delete(sm.states, token)
			swept++
		}
	}
	return swept
}

// Run sweeps expired states periodically until ctx is cancelled.
func (sm *StateManager) Run(ctx context.Context) {
	ticker := sm.clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if swept := sm.CleanupExpired(); swept > 0 {
				slog.Debug("Swept expired OAuth states", "count", swept)
			}
		}
	}
}
