// Package authtest provides an in-process PlayForge authorization server
// implementing the device-authorization wire contract, with a scriptable
// user, PKCE proof verification, and single-use refresh-token rotation. SDK
// consumers use it to test their integrations without a real backend.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/playforge/playerauth/pkce"
)

// Server is a fake authorization server. The zero value is not usable; call
// New.
type Server struct {
	http *httptest.Server

	mu       sync.Mutex
	sessions map[string]*session
	refresh  map[string]*refreshRecord

	pollInterval float64
	sessionTTL   time.Duration
	tokenTTL     time.Duration
	refreshTTL   time.Duration

	approveAfter int
	deny         bool
	slowDown     float64

	initiateCalls int
	pollCalls     int
	refreshCalls  int
}

type session struct {
	challenge string
	scope     string
	polls     int
	expiresAt time.Time
}

type refreshRecord struct {
	used  bool
	scope string
}

// New starts a fake authorization server. By default every session stays
// pending; script the user with ApproveAfter or Deny.
func New() *Server {
	s := &Server{
		sessions:     make(map[string]*session),
		refresh:      make(map[string]*refreshRecord),
		pollInterval: 5,
		sessionTTL:   10 * time.Minute,
		tokenTTL:     time.Hour,
		refreshTTL:   24 * time.Hour,
	}

	r := chi.NewRouter()
	r.Post("/device-auth/initiate", s.handleInitiate)
	r.Get("/device-auth/poll", s.handlePoll)
	r.Post("/auth/refresh", s.handleRefresh)
	s.http = httptest.NewServer(r)
	return s
}

// URL is the server's base URL.
func (s *Server) URL() string { return s.http.URL }

// Close shuts the server down.
func (s *Server) Close() { s.http.Close() }

// ApproveAfter scripts the user to authorize on the nth poll of each
// session. Zero means never.
func (s *Server) ApproveAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approveAfter = n
}

// Deny scripts the user to refuse consent on the next poll.
func (s *Server) Deny() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deny = true
}

// ForceSlowDown makes every poll answer slow_down with the given interval in
// seconds until ClearSlowDown.
func (s *Server) ForceSlowDown(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowDown = seconds
}

// ClearSlowDown lifts a forced slow_down.
func (s *Server) ClearSlowDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowDown = 0
}

// ExpireSessions lapses every open session immediately.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.expiresAt = time.Now().Add(-time.Second)
	}
}

// SeedRefreshToken registers a refresh token as valid, for tests that start
// from a stored credential.
func (s *Server) SeedRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[token] = &refreshRecord{scope: "player"}
}

// SetPollInterval sets the interval (seconds) handed out by initiate.
func (s *Server) SetPollInterval(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = seconds
}

// SetSessionTTL sets the expires_in handed out by initiate.
func (s *Server) SetSessionTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionTTL = d
}

// SetTokenTTL sets the access-token lifetime of issued grants.
func (s *Server) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = d
}

// InitiateCalls reports how many initiate requests were served.
func (s *Server) InitiateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiateCalls
}

// PollCalls reports how many poll requests were served.
func (s *Server) PollCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCalls
}

// RefreshCalls reports how many refresh requests were served.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameID              string `json:"game_id"`
		CodeChallenge       string `json:"code_challenge"`
		CodeChallengeMethod string `json:"code_challenge_method"`
		Scope               string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if req.GameID == "" || req.CodeChallenge == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "game_id and code_challenge are required")
		return
	}
	if req.CodeChallengeMethod != pkce.Method {
		writeError(w, http.StatusBadRequest, "invalid_request", "unsupported code_challenge_method")
		return
	}

	s.mu.Lock()
	s.initiateCalls++
	id := uuid.NewString()
	s.sessions[id] = &session{
		challenge: req.CodeChallenge,
		scope:     req.Scope,
		expiresAt: time.Now().Add(s.sessionTTL),
	}
	interval := s.pollInterval
	ttl := s.sessionTTL
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    id,
		"auth_url":      s.http.URL + "/authorize?session=" + id,
		"poll_interval": interval,
		"expires_in":    ttl.Seconds(),
		"game":          map[string]string{"id": req.GameID, "name": "Test Game"},
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	verifier := r.URL.Query().Get("code_verifier")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollCalls++

	sess, ok := s.sessions[sessionID]
	if !ok || time.Now().After(sess.expiresAt) {
		delete(s.sessions, sessionID)
		writeError(w, http.StatusBadRequest, "expired_token", "")
		return
	}

	// The PKCE proof is checked on every poll; a session id alone never
	// yields a token.
	challenge, err := pkce.ChallengeS256(verifier)
	if err != nil || challenge != sess.challenge {
		writeError(w, http.StatusBadRequest, "access_denied", "proof key verification failed")
		return
	}

	if s.deny {
		delete(s.sessions, sessionID)
		writeError(w, http.StatusBadRequest, "access_denied", "")
		return
	}
	if s.slowDown > 0 {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":         "slow_down",
			"poll_interval": s.slowDown,
		})
		return
	}

	sess.polls++
	if s.approveAfter > 0 && sess.polls >= s.approveAfter {
		delete(s.sessions, sessionID)
		refreshToken := uuid.NewString()
		s.refresh[refreshToken] = &refreshRecord{scope: sess.scope}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "authorized",
			"access_token":       "at-" + uuid.NewString(),
			"token_type":         "Bearer",
			"expires_in":         s.tokenTTL.Seconds(),
			"refresh_token":      refreshToken,
			"refresh_expires_in": s.refreshTTL.Seconds(),
			"scope":              sess.scope,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++

	rec, ok := s.refresh[req.RefreshToken]
	if !ok || rec.used {
		// Reuse of a rotated token is indistinguishable from revocation.
		writeError(w, http.StatusBadRequest, "invalid_grant", "")
		return
	}
	rec.used = true

	rotated := uuid.NewString()
	s.refresh[rotated] = &refreshRecord{scope: rec.scope}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       "at-" + uuid.NewString(),
		"token_type":         "Bearer",
		"expires_in":         s.tokenTTL.Seconds(),
		"refresh_token":      rotated,
		"refresh_expires_in": s.refreshTTL.Seconds(),
		"scope":              rec.scope,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
