package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, func() time.Time) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := New(srv.URL, "game-1", WithNowFunc(func() time.Time { return now }))
	require.NoError(t, err)
	return c, func() time.Time { return now }
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "game-1")
	require.Error(t, err)

	_, err = New("https://auth.example.com", "")
	require.Error(t, err)

	c, err := New("https://auth.example.com/", "game-1")
	require.NoError(t, err)
	require.Equal(t, "https://auth.example.com/device-auth/initiate", c.initiateURL)
}

func TestInitiate(t *testing.T) {
	c, now := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/device-auth/initiate", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "game-1", req["game_id"])
		require.Equal(t, "S256", req["code_challenge_method"])
		require.Equal(t, "challenge-abc", req["code_challenge"])
		require.Equal(t, "player", req["scope"])

		json.NewEncoder(w).Encode(map[string]any{
			"session_id":    "s1",
			"auth_url":      "https://play.example.com/authorize?s=s1",
			"poll_interval": 5,
			"expires_in":    600,
			"game":          map[string]string{"id": "game-1", "name": "Starforge"},
		})
	}))

	sess, err := c.Initiate(context.Background(), "challenge-abc", "player")
	require.NoError(t, err)
	require.Equal(t, "s1", sess.SessionID)
	require.Equal(t, "https://play.example.com/authorize?s=s1", sess.VerificationURL)
	require.Equal(t, 5*time.Second, sess.PollInterval)
	require.Equal(t, now().Add(600*time.Second), sess.ExpiresAt)
	require.Equal(t, "Starforge", sess.Game.Name)
}

func TestInitiateMalformed(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"session_id": "s1"})
	}))

	_, err := c.Initiate(context.Background(), "challenge", "player")
	require.Equal(t, CodeMalformedResponse, CodeOf(err))
}

func TestInitiateServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, err := c.Initiate(context.Background(), "challenge", "player")
	require.Equal(t, CodeServerError, CodeOf(err))
	require.True(t, IsTransient(err))
}

func TestInitiateNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := New(srv.URL, "game-1")
	require.NoError(t, err)
	srv.Close()

	_, err = c.Initiate(context.Background(), "challenge", "player")
	require.Equal(t, CodeNetwork, CodeOf(err))
	require.True(t, IsTransient(err))
}

func TestPollOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       map[string]any
		want       PollStatus
		wantIvl    time.Duration
		wantErr    Code
	}{
		{
			name:   "pending without hint",
			status: http.StatusOK,
			body:   map[string]any{"status": "pending"},
			want:   StatusPending,
		},
		{
			name:    "pending with hint",
			status:  http.StatusOK,
			body:    map[string]any{"status": "pending", "poll_interval": 7},
			want:    StatusPending,
			wantIvl: 7 * time.Second,
		},
		{
			name:    "slow down",
			status:  http.StatusTooManyRequests,
			body:    map[string]any{"error": "slow_down", "poll_interval": 10},
			want:    StatusSlowDown,
			wantIvl: 10 * time.Second,
		},
		{
			name:   "slow down without interval",
			status: http.StatusTooManyRequests,
			body:   map[string]any{"error": "slow_down"},
			want:   StatusSlowDown,
		},
		{
			name:   "denied",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "access_denied"},
			want:   StatusDenied,
		},
		{
			name:   "expired",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "expired_token"},
			want:   StatusExpired,
		},
		{
			name:    "unknown rejection",
			status:  http.StatusBadRequest,
			body:    map[string]any{"error": "mystery", "error_description": "huh"},
			wantErr: CodeProtocol,
		},
		{
			name:    "unknown status",
			status:  http.StatusOK,
			body:    map[string]any{"status": "mystery"},
			wantErr: CodeMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "s1", r.URL.Query().Get("session_id"))
				require.Equal(t, "verifier-1", r.URL.Query().Get("code_verifier"))
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))

			res, err := c.Poll(context.Background(), "s1", "verifier-1")
			if tt.wantErr != "" {
				require.Error(t, err)
				require.Equal(t, tt.wantErr, CodeOf(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Status)
			require.Equal(t, tt.wantIvl, res.Interval)
		})
	}
}

func TestPollAuthorized(t *testing.T) {
	c, now := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":             "authorized",
			"access_token":       "at-1",
			"token_type":         "Bearer",
			"expires_in":         3600,
			"refresh_token":      "rt-1",
			"refresh_expires_in": 86400,
			"scope":              "player",
		})
	}))

	res, err := c.Poll(context.Background(), "s1", "verifier-1")
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, res.Status)
	require.NotNil(t, res.Grant)
	require.Equal(t, "at-1", res.Grant.AccessToken)
	require.Equal(t, "rt-1", res.Grant.RefreshToken)
	require.Equal(t, now().Add(time.Hour), res.Grant.ExpiresAt)
	require.Equal(t, now().Add(24*time.Hour), res.Grant.RefreshExpiresAt)
}

func TestRefresh(t *testing.T) {
	c, now := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "rt-1", req["refresh_token"])

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":       "at-2",
			"expires_in":         3600,
			"refresh_token":      "rt-2",
			"refresh_expires_in": 86400,
		})
	}))

	grant, err := c.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	require.Equal(t, "at-2", grant.AccessToken)
	require.Equal(t, "rt-2", grant.RefreshToken)
	require.Equal(t, now().Add(time.Hour), grant.ExpiresAt)
}

func TestRefreshWithoutRotation(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-2",
			"expires_in":   3600,
		})
	}))

	grant, err := c.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	require.Empty(t, grant.RefreshToken)
	require.True(t, grant.RefreshExpiresAt.IsZero())
}

func TestRefreshInvalidGrant(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
	}))

	_, err := c.Refresh(context.Background(), "rt-revoked")
	require.Equal(t, CodeInvalidGrant, CodeOf(err))
	require.False(t, IsTransient(err))
}
