package session

import "errors"

// Session lifecycle errors.
var (
	// ErrNoSession is returned when an operation requires a held session.
	ErrNoSession = errors.New("no session")
	// ErrRefreshInFlight is returned when a refresh is already outstanding.
	// The concurrent call is a deliberate no-op, not a retryable failure.
	ErrRefreshInFlight = errors.New("token refresh already in flight")
)
