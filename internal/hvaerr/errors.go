// Package hvaerr defines the typed error kinds shared across hvacd's
// components and a small bounded-backoff helper used by the hub client's
// reconnect loop.
package hvaerr

import "errors"

// Sentinel error kinds. Components wrap one of these with context via
// fmt.Errorf("...: %w", ...) so callers can still errors.Is/errors.As.
var (
	// ErrConfig marks a configuration validation failure. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrAuth marks a hub authentication rejection. Fatal on initial
	// connect; retried with logging on reconnect.
	ErrAuth = errors.New("auth error")

	// ErrNetwork marks a transient transport failure. Triggers reconnect
	// or is returned to the REST caller to decide.
	ErrNetwork = errors.New("network error")

	// ErrConnect marks exhaustion of the initial-connect retry budget.
	ErrConnect = errors.New("connect error")

	// ErrNotFound marks a 404 from a per-entity REST call.
	ErrNotFound = errors.New("entity not found")

	// ErrHub marks any other non-2xx REST response.
	ErrHub = errors.New("hub error")

	// ErrState marks a public API call made while the component is not
	// in a state that allows it (e.g. controller not running).
	ErrState = errors.New("invalid state")

	// ErrInvalidObservation marks a non-numeric sensor state.
	ErrInvalidObservation = errors.New("invalid observation")
)
