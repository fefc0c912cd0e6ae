package playerauth

import (
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/playforge/playerauth/vault"
)

// Option configures a Session at construction time.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger *zerolog.Logger
	clock  clockwork.Clock
	vault  vault.Vault
	client *http.Client
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *sessionOptions) {
		o.logger = &log
	}
}

// WithClock replaces the wall clock and timer source, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(o *sessionOptions) {
		o.clock = clock
	}
}

// WithVault replaces the credential store. The default is a file vault under
// Config.StorageDir (or the user configuration directory); pass a
// vault.Redis for hosts without a usable per-user filesystem, or a
// vault.Memory for ephemeral sessions.
func WithVault(v vault.Vault) Option {
	return func(o *sessionOptions) {
		o.vault = v
	}
}

// WithHTTPClient replaces the HTTP client used for all wire calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *sessionOptions) {
		o.client = c
	}
}
