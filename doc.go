// Package playerauth turns a PlayForge game identity into a long-lived,
// securely stored, auto-refreshing player credential via a browser-mediated
// Device Authorization Grant with PKCE.
//
// A Session is the single entry point. Construct one explicitly, initialize
// it to pick up a stored credential, and start the device flow only when the
// user asks for it:
//
//	sess, err := playerauth.New(cfg)
//	if err != nil { ... }
//	defer sess.Close()
//
//	ev, _ := sess.Initialize(ctx)
//	if ev.Kind == playerauth.EventUnauthenticated {
//		attempt, _ := sess.StartAuthorization(ctx, "player")
//		url, _ := attempt.VerificationURL(ctx)
//		// hand url to the user, then:
//		attempt.AcknowledgeOpened()
//		attempt.Wait(ctx)
//	}
//
// The session emits an ordered event stream (Events) that UI layers and
// other SDK clients subscribe to, and adapts to golang.org/x/oauth2 via
// TokenSource for bearer-token-aware HTTP stacks.
package playerauth
