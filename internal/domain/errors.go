package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotMapped is returned when a thread has no routing rule.
var ErrNotMapped = errors.New("thread is not mapped to a destination channel")

// ErrEndpointNotConfigured is returned when identity-preserving delivery is
// requested but the rule carries no usable webhook endpoint.
var ErrEndpointNotConfigured = errors.New("no webhook endpoint configured for thread")

// RateLimitedError reports that the platform refused a request and indicated
// how long to wait before retrying.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// DeliveryError wraps a transport failure with the routing context it
// occurred in.
type DeliveryError struct {
	ThreadID  string
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver thread %s -> channel %s: %v", e.ThreadID, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
