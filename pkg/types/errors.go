package types

import (
	"errors"
	"fmt"
)

var (
	// ErrResolutionFailed means a provider address refresh missed. Never fatal.
	ErrResolutionFailed = errors.New("endpoint resolution failed")

	// ErrNoStreamFound means extraction exhausted every strategy or the depth bound.
	ErrNoStreamFound = errors.New("no stream found")

	// ErrChallengeTimeout means polling hit the attempt bound or deadline.
	ErrChallengeTimeout = errors.New("challenge timed out")

	// ErrChallengeCancelled means the caller or the interactive user aborted.
	ErrChallengeCancelled = errors.New("challenge cancelled")

	// ErrCertificateRejected means TLS certificate validation failed.
	ErrCertificateRejected = errors.New("certificate rejected")

	// ErrMalformedPayload means an obfuscated payload did not have the expected shape.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInteractionUnsupported means the renderer cannot accept pointer input.
	ErrInteractionUnsupported = errors.New("renderer does not support interaction")

	// ErrSessionNotFound means no live challenge session has the given ID.
	ErrSessionNotFound = errors.New("challenge session not found")
)

// ChallengeError is returned by the challenge engine on timeout or cancellation.
// Partial carries whatever DOM was available when the session ended.
type ChallengeError struct {
	Kind    error
	URL     string
	Polls   int
	Partial *RenderedDocument
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("%s: %s after %d polls", e.Kind, e.URL, e.Polls)
}

func (e *ChallengeError) Unwrap() error {
	return e.Kind
}

// NoStreamError wraps ErrNoStreamFound with the reference and the reason.
type NoStreamError struct {
	URL    string
	Reason string
}

func (e *NoStreamError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrNoStreamFound, e.URL, e.Reason)
}

func (e *NoStreamError) Unwrap() error {
	return ErrNoStreamFound
}

// NewNoStreamError builds a NoStreamError.
func NewNoStreamError(url, reason string) error {
	return &NoStreamError{URL: url, Reason: reason}
}
