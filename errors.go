package oauthflow

import (
	"errors"
	"fmt"
	"strings"
)

// Callback rejection reasons. The engine converts each into the same
// generic 400 response; they exist so the host's logs can tell an
// attacker's forged callback apart from a provider outage.
var (
	// ErrMalformedCallback means the callback query was missing code or
	// state, or carried a provider error parameter.
	ErrMalformedCallback = errors.New("oauthflow: malformed callback request")
	// ErrStateMismatch means no state was stored for this user agent or
	// the presented value did not match. Possible CSRF, an expired login
	// attempt, or a replayed callback URL.
	ErrStateMismatch = errors.New("oauthflow: state mismatch")
)

// ConfigError reports an invalid engine configuration at construction
// time. It is fatal to startup and never surfaces per-request.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "oauthflow: config missing " + strings.Join(e.Missing, ", ")
}

// ExchangeError wraps a failed token exchange: a transport error, a
// non-2xx response, or an undecodable body. Status and Body carry the
// provider's answer for server-side logs; neither should be shown to the
// user agent.
type ExchangeError struct {
	// Status is the provider's HTTP status code, or 0 when the request
	// never completed.
	Status int
	// Body is a bounded copy of the provider's response body.
	Body string
	Err  error
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oauthflow: token exchange failed: status=%d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("oauthflow: token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }
