package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// DisconnectKind classifies why a stream connection ended. It is assigned
// once, at the boundary where the failure is first observed, and matched
// exhaustively by the supervisor's reconnect policy.
type DisconnectKind int

const (
	// KindConnectionLost covers network blips, upstream-initiated closes and
	// locally-forced closes after a liveness timeout.
	KindConnectionLost DisconnectKind = iota

	// KindRateLimited is the provider's explicit rate-limit signal.
	KindRateLimited

	// KindCancelled is the deliberate closure caused by local shutdown.
	KindCancelled

	// KindOther is anything that fits none of the above.
	KindOther
)

func (k DisconnectKind) String() string {
	switch k {
	case KindConnectionLost:
		return "connection_lost"
	case KindRateLimited:
		return "rate_limited"
	case KindCancelled:
		return "cancelled"
	default:
		return "other"
	}
}

// DisconnectError wraps the underlying failure with its classification.
type DisconnectError struct {
	Kind DisconnectKind
	Err  error
}

func (e *DisconnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stream disconnected (%s)", e.Kind)
	}
	return fmt.Sprintf("stream disconnected (%s): %v", e.Kind, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// Kind extracts the classification from an error returned by the stream
// package. Unclassified errors map to KindOther.
func Kind(err error) DisconnectKind {
	var de *DisconnectError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindOther
}

// Close codes the gateway uses to signal throttling. 1013 is the standard
// "try again later" code; 4429 mirrors HTTP 429 per gateway convention.
const (
	closeTryAgainLater = 1013
	closeRateLimited   = 4429
)

// classifyDial classifies a handshake failure. resp may be nil.
func classifyDial(err error, resp *http.Response) *DisconnectError {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return &DisconnectError{Kind: KindRateLimited, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &DisconnectError{Kind: KindCancelled, Err: err}
	}
	return &DisconnectError{Kind: KindConnectionLost, Err: err}
}

// classifyRead classifies a failure surfaced by the read loop of a
// connection that was closed by the remote side (or the network), not by us.
func classifyRead(err error) *DisconnectError {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &DisconnectError{Kind: KindCancelled, Err: err}
	case websocket.IsCloseError(err, closeTryAgainLater, closeRateLimited):
		return &DisconnectError{Kind: KindRateLimited, Err: err}
	default:
		return &DisconnectError{Kind: KindConnectionLost, Err: err}
	}
}
