package playerauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenSource adapts the session to golang.org/x/oauth2, so any
// bearer-token-aware HTTP stack can consume the credential with automatic
// refresh. The returned source is safe for concurrent use.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s}
}

type sessionTokenSource struct {
	ctx     context.Context
	session *Session
}

func (t *sessionTokenSource) Token() (*oauth2.Token, error) {
	if state, ok := t.session.CurrentState(); ok {
		return oauthToken(state), nil
	}
	if err := t.session.life.refreshIfNeeded(t.ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if state, ok := t.session.CurrentState(); ok {
		return oauthToken(state), nil
	}
	return nil, ErrNotAuthenticated
}

func oauthToken(state AuthState) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: state.AccessToken,
		TokenType:   "Bearer",
		Expiry:      state.ExpiresAt,
	}
}
