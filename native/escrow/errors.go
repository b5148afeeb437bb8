package escrow

import "errors"

var (
	// ErrInvalidInput covers zero amounts, self-dealing, amounts below the
	// configured minimum and durations below the dispute floor.
	ErrInvalidInput = errors.New("escrow: invalid input")
	// ErrNotAuthorized is returned when the caller is not the participant or
	// role the operation requires. Unauthorized calls always fail loudly,
	// never no-op.
	ErrNotAuthorized = errors.New("escrow: caller not authorized")
	// ErrInvalidState is returned when the operation is not valid in the
	// escrow's current state.
	ErrInvalidState = errors.New("escrow: operation not valid in current state")
	// ErrAlreadyResolved is returned by every mutating operation on an
	// escrow that reached a terminal state.
	ErrAlreadyResolved = errors.New("escrow: already resolved")
	// ErrAlreadyDisputed is returned when raising a dispute on an escrow
	// that owned one at any point of its lifetime.
	ErrAlreadyDisputed = errors.New("escrow: dispute already raised")
	// ErrExpired is returned when the operation requires a live escrow.
	ErrExpired = errors.New("escrow: expired")
	// ErrNotYetExpired is returned for expiry-gated operations before the
	// deadline.
	ErrNotYetExpired = errors.New("escrow: not yet expired")
	// ErrNotFound is returned for unknown escrow identifiers.
	ErrNotFound = errors.New("escrow: not found")
)
