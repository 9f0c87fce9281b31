package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayNotFound indicates the gateway is not registered.
	ErrGatewayNotFound = errors.New("gateway: not found")
	// ErrMalformedTelegram indicates a gateway telegram could not be parsed or lacks fields.
	ErrMalformedTelegram = errors.New("gateway: malformed telegram")
	// ErrDuplicateTelegram indicates the telegram was already processed recently.
	ErrDuplicateTelegram = errors.New("gateway: duplicate telegram")
	// ErrQueueFull indicates the dispatch queue cannot accept more work.
	ErrQueueFull = errors.New("gateway: dispatch queue full")
	// ErrNoEndpoint indicates the gateway has no push endpoint configured.
	ErrNoEndpoint = errors.New("gateway: no endpoint")
)

// StatusError reports a non-success HTTP status from a gateway.
type StatusError struct {
	GatewayID  string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: unexpected status %d", e.GatewayID, e.StatusCode)
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedTelegram, reason)
}
