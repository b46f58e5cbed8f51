package types

import "errors"

// Error taxonomy of the earn flow. Components wrap these with errors.Join or %w.
var (
	// ErrInvalidAmount is returned for malformed user input, before any I/O.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAllowance is a failed allowance read. Any cached record is kept.
	ErrAllowance = errors.New("allowance query failed")
	// ErrSync is a failed balance or rewards read. The prior snapshot is kept.
	ErrSync = errors.New("balance synchronization failed")
	// ErrSigningDeclined means the wallet did not produce a signature.
	ErrSigningDeclined = errors.New("signing declined")
	// ErrSubmissionFailed means the transaction never left the client.
	ErrSubmissionFailed = errors.New("transaction submission failed")
	// ErrReverted means the transaction was mined but did not succeed.
	ErrReverted = errors.New("transaction reverted")
	// ErrOperationInProgress is returned when an exclusive operation is already outstanding.
	ErrOperationInProgress = errors.New("operation in progress")

	ErrVaultNotFound     = errors.New("vault not found")
	ErrNoPermitSignature = errors.New("no permit signature held")
	ErrPermitMismatch    = errors.New("permit signature does not match deposit")
	ErrInvalidPayload    = errors.New("invalid typed data payload")
)
