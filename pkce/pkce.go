// Package pkce generates Proof Key for Code Exchange material (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Method identifies the challenge transformation sent to the server.
const Method = "S256"

// Verifier length bounds per RFC 7636 section 4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// VerifierLength is the length of locally generated verifiers.
	VerifierLength = 64
)

// charset is the unreserved set a code verifier may be drawn from.
const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// ErrInvalidVerifier indicates a verifier outside RFC 7636 length or charset bounds.
var ErrInvalidVerifier = errors.New("invalid code verifier")

// NewVerifier returns a cryptographically random code verifier of
// VerifierLength characters from the unreserved set.
func NewVerifier() (string, error) {
	var b strings.Builder
	b.Grow(VerifierLength)
	for i := 0; i < VerifierLength; i++ {
		c, err := randomChar(charset)
		if err != nil {
			return "", fmt.Errorf("generating verifier: %w", err)
		}
		b.WriteByte(c)
	}
	v := b.String()
	if err := ValidateVerifier(v); err != nil {
		return "", err
	}
	return v, nil
}

// randomChar selects a random character from set without modulo bias.
func randomChar(set string) (byte, error) {
	setLen := len(set)
	// Reject random bytes that would skew the distribution
	maxNeeded := 256 - (256 % setLen)

	b := make([]byte, 1)
	for {
		if _, err := rand.Read(b); err != nil {
			return 0, err
		}
		if int(b[0]) >= maxNeeded {
			continue
		}
		return set[int(b[0])%setLen], nil
	}
}

// ValidateVerifier checks length and charset bounds per RFC 7636 section 4.1.
func ValidateVerifier(verifier string) error {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return fmt.Errorf("%w: length %d outside [%d,%d]",
			ErrInvalidVerifier, len(verifier), MinVerifierLength, MaxVerifierLength)
	}
	for i := 0; i < len(verifier); i++ {
		if strings.IndexByte(charset, verifier[i]) < 0 {
			return fmt.Errorf("%w: character %q at position %d", ErrInvalidVerifier, verifier[i], i)
		}
	}
	return nil
}

// ChallengeS256 derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)) with padding stripped.
func ChallengeS256(verifier string) (string, error) {
	if err := ValidateVerifier(verifier); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
