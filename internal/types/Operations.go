/*

This file contains the types for the transactions the executor drives through their lifecycle.

*/

package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// OperationKind names a state-changing vault operation.
type OperationKind string

const (
	OperationApprove  OperationKind = "APPROVE"
	OperationDeposit  OperationKind = "DEPOSIT"
	OperationWithdraw OperationKind = "WITHDRAW"
	OperationClaim    OperationKind = "CLAIM"
)

// OperationPhase is a state of the executor state machine.
type OperationPhase string

const (
	PhaseIdle                OperationPhase = "IDLE"
	PhaseSubmitting          OperationPhase = "SUBMITTING"
	PhasePendingConfirmation OperationPhase = "PENDING_CONFIRMATION"
	PhaseConfirmed           OperationPhase = "CONFIRMED"
	PhaseReverted            OperationPhase = "REVERTED"
	PhaseSubmissionFailed    OperationPhase = "SUBMISSION_FAILED"
)

// IsTerminal reports whether no further transition follows the phase.
func (p OperationPhase) IsTerminal() bool {
	return p == PhaseConfirmed || p == PhaseReverted || p == PhaseSubmissionFailed
}

// OperationKey identifies an operation instance. Operations sharing a key are mutually exclusive.
type OperationKey struct {
	Kind  OperationKind  `json:"kind"`
	Vault common.Address `json:"vault"`
}

// OperationReceipt is the terminal record of one executed operation.
type OperationReceipt struct {
	ID        uuid.UUID      `json:"id"`
	Kind      OperationKind  `json:"kind"`
	Vault     common.Address `json:"vault"`
	Account   common.Address `json:"account"`
	TxHash    common.Hash    `json:"tx_hash"`
	Outcome   OperationPhase `json:"outcome"`
	Message   string         `json:"message,omitempty"`
	GasUsed   uint64         `json:"gas_used"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewOperationReceipt creates a receipt with a fresh id.
func NewOperationReceipt(kind OperationKind, vault, account common.Address) OperationReceipt {
	return OperationReceipt{
		ID:        uuid.New(),
		Kind:      kind,
		Vault:     vault,
		Account:   account,
		Timestamp: time.Now().UTC(),
	}
}
