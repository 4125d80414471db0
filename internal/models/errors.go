package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// NotLinkedError indicates the user has no valid GitHub credential.
// It is fatal: retrying cannot help until the user re-links the account.
type NotLinkedError struct {
	UserID string
}

func (e *NotLinkedError) Error() string {
	if e.UserID == "" {
		return "github account not linked"
	}
	return fmt.Sprintf("github account not linked for user %s", e.UserID)
}

// ContentFetchError indicates repository content could not be read.
// Retryable distinguishes transient failures (rate limits, 5xx, network)
// from permanent ones (missing repository, malformed content).
type ContentFetchError struct {
	Path      string
	Retryable bool
	Err       error
}

func (e *ContentFetchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to fetch repository content: %v", e.Err)
	}
	return fmt.Sprintf("failed to fetch repository content at %q: %v", e.Path, e.Err)
}

func (e *ContentFetchError) Unwrap() error { return e.Err }

func (e *ContentFetchError) Transient() bool { return e.Retryable }

// RateLimitError indicates the user's subscription quota is exhausted.
// It is fatal for the current run and surfaced to the user as a rejection.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

// DeliveryError indicates posting the review comment failed after the review
// was generated. The review is persisted regardless so no output is lost;
// the run is not retried to avoid double-posting.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver review comment: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// transienter is implemented by errors that know whether retrying makes sense
type transienter interface {
	Transient() bool
}

// IsTransient reports whether an error is worth retrying with backoff.
// Typed domain errors decide for themselves; otherwise network timeouts
// and deadline expirations count as transient.
func IsTransient(err error) bool {
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
