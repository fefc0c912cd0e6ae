// Command playerauth-login runs the PlayForge device-authorization flow end
// to end: it loads any stored credential, starts the device flow when none
// is usable, opens the verification URL in the default browser, and prints
// progress until a bearer token is available.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/playforge/playerauth"
	"github.com/playforge/playerauth/deviceflow"
)

var errNotAuthorized = errors.New("authorization did not complete")

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := run(log); err != nil {
		log.Error().Err(err).Msg("login failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger) error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := playerauth.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	session, err := playerauth.New(cfg, playerauth.WithLogger(log))
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	events, unsubscribe := session.Events()
	defer unsubscribe()
	go func() {
		for ev := range events {
			switch ev.Kind {
			case playerauth.EventAwaitingUser:
				log.Info().Str("url", ev.VerificationURL).Msg("complete login in your browser")
			case playerauth.EventTokenRefreshed:
				log.Info().Msg("access token refreshed")
			case playerauth.EventError:
				log.Warn().Err(ev.Err).Msg("authorization error")
			default:
				log.Info().Str("event", string(ev.Kind)).Msg("auth progress")
			}
		}
	}()

	ev, err := session.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	if ev.Kind != playerauth.EventAuthenticated {
		if err := authorize(ctx, session, cfg.Scope, log); err != nil {
			return err
		}
	}

	token, ok := session.CurrentToken()
	if !ok {
		return errors.New("no valid token after authorization")
	}
	log.Info().Str("game_id", cfg.GameID).Msg("authenticated")

	// The token goes to stdout so it can be piped into other tooling.
	os.Stdout.WriteString(token + "\n")
	return nil
}

// authorize drives one device-authorization attempt to completion. The CLI
// is the UI collaborator here: it opens the URL and acknowledges.
func authorize(ctx context.Context, session *playerauth.Session, scope string, log zerolog.Logger) error {
	attempt, err := session.StartAuthorization(ctx, scope)
	if err != nil {
		return err
	}

	url, err := attempt.VerificationURL(ctx)
	if err != nil {
		return err
	}
	if game, err := attempt.Game(ctx); err == nil && game.Name != "" {
		log.Info().Str("game", game.Name).Msg("authorizing")
	}

	if err := browser.OpenURL(url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("could not open browser, open the URL manually")
	}
	attempt.AcknowledgeOpened()

	res, err := attempt.Wait(ctx)
	if err != nil {
		attempt.Cancel()
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	if res.State != deviceflow.StateAuthorized {
		return fmt.Errorf("%w: %s", errNotAuthorized, res.State)
	}
	return nil
}
