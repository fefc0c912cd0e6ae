package playerauth

import (
	"time"

	"github.com/playforge/playerauth/authapi"
)

// TokenKind distinguishes how a credential was obtained.
type TokenKind string

const (
	// KindDeveloper marks a credential supplied out-of-band. It has no
	// expiry and is never refreshed.
	KindDeveloper TokenKind = "developer"

	// KindPlayer marks a credential obtained through the device flow. It
	// is expiry-bound and refreshable.
	KindPlayer TokenKind = "player"
)

// AuthState is the authenticated identity held by the SDK and mirrored to
// the vault on every mutation.
type AuthState struct {
	Kind             TokenKind `json:"kind"`
	AccessToken      string    `json:"access_token"`
	Scope            string    `json:"scope,omitempty"`
	ObtainedAt       time.Time `json:"obtained_at"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// Authenticated reports whether the state carries a token valid at now. An
// expired player token is never presented as valid; a developer token always
// is.
func (s AuthState) Authenticated(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	if s.Kind == KindDeveloper {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// Refreshable reports whether the state holds a refresh token usable at now.
func (s AuthState) Refreshable(now time.Time) bool {
	if s.Kind != KindPlayer || s.RefreshToken == "" {
		return false
	}
	return s.RefreshExpiresAt.IsZero() || now.Before(s.RefreshExpiresAt)
}

// stateFromGrant converts an issued credential into a player AuthState.
func stateFromGrant(grant *authapi.TokenGrant, now time.Time) AuthState {
	return AuthState{
		Kind:             KindPlayer,
		AccessToken:      grant.AccessToken,
		Scope:            grant.Scope,
		ObtainedAt:       now,
		ExpiresAt:        grant.ExpiresAt,
		RefreshToken:     grant.RefreshToken,
		RefreshExpiresAt: grant.RefreshExpiresAt,
	}
}
