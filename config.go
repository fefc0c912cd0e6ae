package playerauth

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds SDK configuration, loadable from PLAYFORGE_* environment
// variables.
type Config struct {
	// BaseURL is the authorization server, e.g. https://auth.playforge.gg.
	BaseURL string `envconfig:"BASE_URL" required:"true"`

	// GameID identifies the game this session authenticates for. Stored
	// credentials are keyed by it, so games on one device never share
	// tokens.
	GameID string `envconfig:"GAME_ID" required:"true"`

	// Scope is the default scope requested when StartAuthorization is
	// called with an empty one.
	Scope string `envconfig:"SCOPE" default:"player"`

	// HTTPTimeout bounds each individual network call. It is independent
	// of the device-flow session expiry.
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`

	// StorageDir overrides where the file vault keeps encrypted
	// credentials. Empty means the user configuration directory.
	StorageDir string `envconfig:"STORAGE_DIR"`
}

const envPrefix = "playforge"

// ConfigFromEnv loads configuration from PLAYFORGE_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.GameID == "" {
		return fmt.Errorf("game ID is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}
	return nil
}
