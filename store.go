package playerauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/playforge/playerauth/vault"
)

const stateKeyPrefix = "authstate:"

// tokenStore persists one AuthState per game identity through a vault.
// save and erase are mutually exclusive, so an initialize racing a logout
// cannot interleave a stale write over a fresh one.
type tokenStore struct {
	mu    sync.Mutex
	vault vault.Vault
	key   string
	log   zerolog.Logger
}

func newTokenStore(v vault.Vault, gameID string, log zerolog.Logger) *tokenStore {
	return &tokenStore{vault: v, key: stateKeyPrefix + gameID, log: log}
}

func (s *tokenStore) save(ctx context.Context, state AuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("serializing auth state: %w", err)
	}
	if err := s.vault.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("persisting auth state: %w", err)
	}
	return nil
}

// load returns the stored state, or nil when nothing usable is stored.
// Corrupt or undecryptable records degrade to nil with a warning; the system
// falls back to unauthenticated rather than failing.
func (s *tokenStore) load(ctx context.Context) (*AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.vault.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, vault.ErrDecrypt) {
			s.log.Warn().Err(err).Msg("stored credentials unreadable, treating as absent")
			return nil, nil
		}
		return nil, fmt.Errorf("reading auth state: %w", err)
	}

	var state AuthState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn().Err(err).Msg("stored credentials corrupt, treating as absent")
		return nil, nil
	}
	return &state, nil
}

func (s *tokenStore) erase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.vault.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("erasing auth state: %w", err)
	}
	return nil
}
