package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const masterKeySize = 32

// sealer encrypts records with AES-256-GCM. Each record gets its own key,
// derived from the master secret and the record name, so key and ciphertext
// never travel together and records cannot be swapped between names.
type sealer struct {
	master []byte
}

func newSealer(master []byte) (*sealer, error) {
	if len(master) != masterKeySize {
		return nil, ErrMasterKeySize
	}
	s := &sealer{master: make([]byte, masterKeySize)}
	copy(s.master, master)
	return s, nil
}

// recordKey derives the AES key for a named record via HKDF-SHA256.
func (s *sealer) recordKey(name string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, nil, []byte("playerauth:record:"+name))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving record key: %w", err)
	}
	return key, nil
}

func (s *sealer) gcm(name string) (cipher.AEAD, error) {
	key, err := s.recordKey(name)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// seal encrypts plaintext for the named record. The nonce is prepended to
// the returned ciphertext.
func (s *sealer) seal(name string, plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm(name)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a sealed record. Tampered, truncated, or foreign-key data
// comes back as ErrDecrypt.
func (s *sealer) open(name string, sealed []byte) ([]byte, error) {
	gcm, err := s.gcm(name)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrDecrypt
	}
	plaintext, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
