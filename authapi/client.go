// Package authapi implements the PlayForge device-authorization wire
// protocol: initiate, poll, and refresh. Each method performs exactly one
// network call; retry policy belongs to the caller.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	initiatePath = "/device-auth/initiate"
	pollPath     = "/device-auth/poll"
	refreshPath  = "/auth/refresh"

	defaultTimeout = 10 * time.Second
)

// Client speaks the device-authorization protocol for one game identity.
type Client struct {
	client      *http.Client
	gameID      string
	initiateURL string
	pollURL     string
	refreshURL  string
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(cl *Client) {
		cl.log = log
	}
}

// WithNowFunc replaces the wall clock used to compute absolute expiries.
func WithNowFunc(now func() time.Time) Option {
	return func(cl *Client) {
		cl.now = now
	}
}

// New creates a client for the authorization server at baseURL.
func New(baseURL, gameID string, opts ...Option) (*Client, error) {
	if gameID == "" {
		return nil, fmt.Errorf("game ID is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		client:      &http.Client{Timeout: defaultTimeout},
		gameID:      gameID,
		initiateURL: baseURL + initiatePath,
		pollURL:     baseURL + pollPath,
		refreshURL:  baseURL + refreshPath,
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Initiate opens a device-authorization session for the given PKCE challenge
// and scope. Single attempt, no internal retry.
func (c *Client) Initiate(ctx context.Context, codeChallenge, scope string) (*GrantSession, error) {
	reqBody := struct {
		GameID              string `json:"game_id"`
		CodeChallenge       string `json:"code_challenge"`
		CodeChallengeMethod string `json:"code_challenge_method"`
		Scope               string `json:"scope"`
	}{
		GameID:              c.gameID,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: "S256",
		Scope:               scope,
	}

	status, body, err := c.post(ctx, c.initiateURL, reqBody)
	if err != nil {
		return nil, networkError("sending initiate request", err)
	}
	if status != http.StatusOK {
		return nil, c.rejection("initiate", status, body)
	}

	var resp struct {
		SessionID    string  `json:"session_id"`
		AuthURL      string  `json:"auth_url"`
		PollInterval float64 `json:"poll_interval"`
		ExpiresIn    float64 `json:"expires_in"`
		Game         Game    `json:"game"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformedError("parsing initiate response", status, err)
	}
	if resp.SessionID == "" || resp.AuthURL == "" || resp.PollInterval <= 0 || resp.ExpiresIn <= 0 {
		return nil, malformedError("initiate response missing required fields", status, nil)
	}

	c.log.Debug().
		Str("session_id", resp.SessionID).
		Float64("poll_interval", resp.PollInterval).
		Msg("device authorization session opened")

	return &GrantSession{
		SessionID:       resp.SessionID,
		VerificationURL: resp.AuthURL,
		PollInterval:    secondsToDuration(resp.PollInterval),
		ExpiresAt:       c.now().Add(secondsToDuration(resp.ExpiresIn)),
		Game:            resp.Game,
	}, nil
}

// Poll checks the session for a terminal outcome. The code verifier is sent
// on every poll so the server validates the PKCE proof at the moment of
// token issuance; a stolen session id alone never yields a token.
func (c *Client) Poll(ctx context.Context, sessionID, codeVerifier string) (*PollResult, error) {
	q := url.Values{
		"session_id":    {sessionID},
		"code_verifier": {codeVerifier},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pollURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, networkError("creating poll request", err)
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, networkError("sending poll request", err)
	}

	if status != http.StatusOK {
		return c.pollRejection(status, body)
	}

	var resp struct {
		Status           string  `json:"status"`
		PollInterval     float64 `json:"poll_interval"`
		AccessToken      string  `json:"access_token"`
		TokenType        string  `json:"token_type"`
		ExpiresIn        float64 `json:"expires_in"`
		RefreshToken     string  `json:"refresh_token"`
		RefreshExpiresIn float64 `json:"refresh_expires_in"`
		Scope            string  `json:"scope"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformedError("parsing poll response", status, err)
	}

	switch resp.Status {
	case "pending":
		return &PollResult{
			Status:   StatusPending,
			Interval: secondsToDuration(resp.PollInterval),
		}, nil
	case "authorized":
		if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
			return nil, malformedError("authorized response missing token fields", status, nil)
		}
		return &PollResult{
			Status: StatusAuthorized,
			Grant:  c.grantFrom(resp.AccessToken, resp.TokenType, resp.Scope, resp.ExpiresIn, resp.RefreshToken, resp.RefreshExpiresIn),
		}, nil
	default:
		return nil, malformedError(fmt.Sprintf("unknown poll status %q", resp.Status), status, nil)
	}
}

// pollRejection maps a non-200 poll response onto the protocol outcomes the
// state machine understands; everything else becomes a classified error.
func (c *Client) pollRejection(status int, body []byte) (*PollResult, error) {
	if status >= http.StatusInternalServerError {
		return nil, &Error{Code: CodeServerError, Description: "poll request failed", HTTPStatus: status}
	}

	var errResp struct {
		Error            string  `json:"error"`
		ErrorDescription string  `json:"error_description"`
		PollInterval     float64 `json:"poll_interval"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return nil, malformedError("parsing poll error response", status, err)
	}

	switch errResp.Error {
	case "slow_down":
		return &PollResult{
			Status:   StatusSlowDown,
			Interval: secondsToDuration(errResp.PollInterval),
		}, nil
	case "access_denied":
		return &PollResult{Status: StatusDenied}, nil
	case "expired_token":
		return &PollResult{Status: StatusExpired}, nil
	default:
		return nil, protocolError(errResp.Error, errResp.ErrorDescription, status)
	}
}

// Refresh exchanges a refresh token for a new credential. The caller must
// treat the supplied refresh token as spent whether or not the response
// carries a rotated one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	reqBody := struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: refreshToken}

	status, body, err := c.post(ctx, c.refreshURL, reqBody)
	if err != nil {
		return nil, networkError("sending refresh request", err)
	}
	if status != http.StatusOK {
		return nil, c.rejection("refresh", status, body)
	}

	var resp struct {
		AccessToken      string  `json:"access_token"`
		TokenType        string  `json:"token_type"`
		ExpiresIn        float64 `json:"expires_in"`
		RefreshToken     string  `json:"refresh_token"`
		RefreshExpiresIn float64 `json:"refresh_expires_in"`
		Scope            string  `json:"scope"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformedError("parsing refresh response", status, err)
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return nil, malformedError("refresh response missing token fields", status, nil)
	}

	c.log.Debug().Bool("rotated", resp.RefreshToken != "").Msg("access token refreshed")

	return c.grantFrom(resp.AccessToken, resp.TokenType, resp.Scope, resp.ExpiresIn, resp.RefreshToken, resp.RefreshExpiresIn), nil
}

// rejection classifies a non-200 response for initiate and refresh.
func (c *Client) rejection(op string, status int, body []byte) error {
	if status >= http.StatusInternalServerError {
		return &Error{Code: CodeServerError, Description: op + " request failed", HTTPStatus: status}
	}
	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return malformedError("parsing "+op+" error response", status, err)
	}
	return protocolError(errResp.Error, errResp.ErrorDescription, status)
}

func (c *Client) grantFrom(accessToken, tokenType, scope string, expiresIn float64, refreshToken string, refreshExpiresIn float64) *TokenGrant {
	now := c.now()
	grant := &TokenGrant{
		AccessToken:  accessToken,
		TokenType:    tokenType,
		Scope:        scope,
		ExpiresAt:    now.Add(secondsToDuration(expiresIn)),
		RefreshToken: refreshToken,
	}
	if refreshToken != "" && refreshExpiresIn > 0 {
		grant.RefreshExpiresAt = now.Add(secondsToDuration(refreshExpiresIn))
	}
	return grant
}

func (c *Client) post(ctx context.Context, url string, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
