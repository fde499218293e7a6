package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidAddress is returned when an Ethereum address is invalid
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidChainID is returned when a chain ID is invalid
	ErrInvalidChainID = errors.New("invalid chain ID")

	// ErrUnknownLeafType is returned for a leaf or discriminator this build does not know
	ErrUnknownLeafType = errors.New("unknown leaf type")

	// ErrInvalidConfiguration is returned when a reconstructed topology does not hash
	// to the expected image hash
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientWeight is matched by InsufficientWeightError via errors.Is
	ErrInsufficientWeight = errors.New("insufficient weight")

	// ErrCheckpointRegression is returned when a configuration update does not move the checkpoint forward
	ErrCheckpointRegression = errors.New("checkpoint regression")

	// ErrSigner wraps failures of a single signer backend
	ErrSigner = errors.New("signer error")

	// ErrPermissionNotMatched is returned when no session permission authorizes a call
	ErrPermissionNotMatched = errors.New("no permission matched")

	// ErrCumulativeLimitExceeded is returned when a cumulative rule would exceed its limit
	ErrCumulativeLimitExceeded = errors.New("cumulative limit exceeded")

	// ErrSessionExpired is returned when a session's deadline has passed
	ErrSessionExpired = errors.New("session expired")

	// ErrUnencodable is returned when a value does not fit the signature wire format
	ErrUnencodable = errors.New("cannot encode signature")

	// ErrInvalidSignature is returned when a signature fails cryptographic validation
	ErrInvalidSignature = errors.New("invalid signature")
)

// StructuralDecodeError reports malformed or truncated binary input
type StructuralDecodeError struct {
	Offset int
	Reason string
}

func (e *StructuralDecodeError) Error() string {
	return fmt.Sprintf("malformed signature at byte %d: %s", e.Offset, e.Reason)
}

// InsufficientWeightError is returned when the signed weight does not reach the threshold.
// It is retryable: more signatures may still be collected.
type InsufficientWeightError struct {
	Weight    uint64
	Threshold uint64
}

func (e *InsufficientWeightError) Error() string {
	return fmt.Sprintf("more signatures required: weight %d of threshold %d", e.Weight, e.Threshold)
}

func (e *InsufficientWeightError) Is(target error) bool {
	return target == ErrInsufficientWeight
}

// IsRetryable reports whether err may be resolved by collecting more signatures
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientWeight)
}
