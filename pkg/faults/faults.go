// Package faults defines the stable error kinds surfaced by the medvault
// core. Callers match with errors.Is; the human-readable reason travels in
// the wrapping message.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentity means a participant identifier failed validation.
	// Rejected before any external call, never retried.
	ErrInvalidIdentity = errors.New("medvault: invalid identity")

	// ErrInvalidDuration means a temporary grant duration was out of range.
	ErrInvalidDuration = errors.New("medvault: invalid duration")

	// ErrUnauthorized is a final authorization decision, re-evaluated fresh
	// on every call.
	ErrUnauthorized = errors.New("medvault: unauthorized")

	// ErrContentNotFound means the content store has no blob for the
	// requested content id. Terminal for that id.
	ErrContentNotFound = errors.New("medvault: content not found")

	// ErrDecryptionFailed means the envelope could not authenticate or
	// decrypt a ciphertext: wrong key, truncation, or tampering. Terminal.
	ErrDecryptionFailed = errors.New("medvault: decryption failed")

	// ErrChainConnection means the ledger node was unreachable.
	ErrChainConnection = errors.New("medvault: chain connection failed")

	// ErrSubmission means a ledger-mutating transaction was not accepted.
	// Wrap in a SubmissionError to carry the retryable/terminal distinction.
	ErrSubmission = errors.New("medvault: transaction submission failed")

	// ErrInvalidSignature means the registry rejected a signature-authorized
	// payload (bad signature or reused nonce), or the payload was malformed.
	ErrInvalidSignature = errors.New("medvault: invalid signature")
)

// SubmissionError describes a failed transaction submission. Retryable
// failures are transport-level (the outcome is unknown); terminal failures
// carry the node's rejection reason verbatim.
type SubmissionError struct {
	Reason    string
	Retryable bool
	Cause     error
}

func (e *SubmissionError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%v (%s): %s", ErrSubmission, kind, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// Is makes every SubmissionError match ErrSubmission.
func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// Retryable reports whether err is a submission failure the caller may
// safely retry. Terminal rejections and non-submission errors return false.
func Retryable(err error) bool {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
