package authapi

import "time"

// Game identifies the title a grant session was opened for.
type Game struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GrantSession is the server-issued session for one authorization attempt.
// The code verifier that belongs to it is held by the caller and never
// appears here.
type GrantSession struct {
	SessionID       string
	VerificationURL string
	PollInterval    time.Duration
	ExpiresAt       time.Time
	Game            Game
}

// PollStatus classifies one poll outcome.
type PollStatus string

const (
	// StatusPending means the user has not completed authorization yet.
	StatusPending PollStatus = "pending"

	// StatusSlowDown means the server instructed a larger poll interval.
	StatusSlowDown PollStatus = "slow_down"

	// StatusAuthorized means tokens were issued; Grant is populated.
	StatusAuthorized PollStatus = "authorized"

	// StatusDenied means the user refused consent. Terminal.
	StatusDenied PollStatus = "denied"

	// StatusExpired means the session lapsed before authorization. Terminal.
	StatusExpired PollStatus = "expired"
)

// PollResult is the normalized outcome of one poll call.
type PollResult struct {
	Status PollStatus

	// Interval carries the server's poll-interval instruction for
	// StatusSlowDown, or an optional hint on StatusPending. Zero when the
	// server gave none.
	Interval time.Duration

	// Grant holds the issued tokens when Status is StatusAuthorized.
	Grant *TokenGrant
}

// TokenGrant is an issued credential, from authorization or refresh.
type TokenGrant struct {
	AccessToken      string
	TokenType        string
	Scope            string
	ExpiresAt        time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
