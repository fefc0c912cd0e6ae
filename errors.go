package playerauth

import "errors"

var (
	// ErrNotAuthenticated indicates no valid credential is held and none
	// could be obtained without re-running the device flow.
	ErrNotAuthenticated = errors.New("playerauth: not authenticated")

	// ErrClosed indicates the session has been shut down.
	ErrClosed = errors.New("playerauth: session closed")
)
