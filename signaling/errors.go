// Package signaling implements the control-plane FSM and WebSocket
// session a peer connection uses to exchange SDP offers/answers and
// trickled ICE candidates with a remote peer through a cloud
// rendezvous point (spec.md §4.9, component J).
package signaling

import "errors"

var (
	ErrChannelNameRequired = errors.New("signaling: channel name is required")
	ErrNoCredentialProvider = errors.New("signaling: no credential provider configured")
	ErrNotReady             = errors.New("signaling: client is not in the ready state")
	ErrNotConnected         = errors.New("signaling: client is not connected")
	ErrMessageTooLarge      = errors.New("signaling: message payload exceeds 10KB")
	ErrMissingRecipient     = errors.New("signaling: message requires a non-empty recipient client id")
	ErrQueueOverflow        = errors.New("signaling: inbound dispatch queue overflowed")
	ErrDuplicateCorrelation = errors.New("signaling: duplicate correlation id")
	ErrRetriesExhausted     = errors.New("signaling: retry budget exhausted")
	ErrChannelNotFound      = errors.New("signaling: channel does not exist")
)

// StatusError wraps a STATUS_RESPONSE whose statusCode was not 200.
// The read loop counts it as an error; the session is not restarted.
type StatusError struct {
	StatusCode  string
	ErrorType   string
	Description string
}

func (e *StatusError) Error() string {
	return "signaling: status " + e.StatusCode + " (" + e.ErrorType + "): " + e.Description
}

// HTTPError wraps a non-2xx control-plane response, per spec.md §7
// "Signaling 4xx (other than 401): abort ... do not retry; 5xx: retry".
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return "signaling: control-plane call failed: " + e.Body
}

// Retryable reports whether the failure warrants a backoff-and-retry
// per spec.md §7's "5xx / network: retry with backoff" rule, rather
// than aborting the current FSM state.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 401 || e.StatusCode >= 500
}
