// Package vault provides encrypted at-rest storage for credential records.
//
// A Vault is a small keyed byte store. The file and redis implementations
// seal every record with AES-256-GCM under a key derived per record from a
// 32-byte master secret; Memory keeps plaintext bytes for tests and
// ephemeral sessions.
package vault

import (
	"context"
	"errors"
)

// Errors returned by Vault implementations.
var (
	// ErrNotFound indicates no record exists for the key.
	ErrNotFound = errors.New("vault: record not found")

	// ErrDecrypt indicates a record exists but cannot be authenticated or
	// decrypted with the current master secret.
	ErrDecrypt = errors.New("vault: cannot decrypt record")

	// ErrMasterKeySize indicates a master secret that is not 32 bytes.
	ErrMasterKeySize = errors.New("vault: master key must be 32 bytes")
)

// Vault stores opaque byte records by key.
type Vault interface {
	// Put writes the record for key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the record for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CheckHealth verifies the backing storage is usable.
	CheckHealth(ctx context.Context) error
}
