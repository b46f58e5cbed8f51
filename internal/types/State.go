/*

This file contains the session state shared by every component of the earn flow.

EarnState is treated as an immutable value: every With* method returns a modified copy and
never writes into maps held by the receiver. This lets readers keep a snapshot while writers
publish a new one.

*/

package types

import (
	"maps"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// AllowanceKey identifies an allowance by asset contract and spender.
type AllowanceKey struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
}

// AllowanceRecord is the last known allowance granted by Owner to Spender on Token.
// A zero allowance is a valid value.
type AllowanceRecord struct {
	Token     common.Address `json:"token"`
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Allowance sdkmath.Int    `json:"allowance"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Key returns the cache key of the record.
func (a AllowanceRecord) Key() AllowanceKey {
	return AllowanceKey{Token: a.Token, Spender: a.Spender}
}

// IsSufficient reports whether the allowance covers the required amount.
func (a AllowanceRecord) IsSufficient(required sdkmath.Int) bool {
	if a.Allowance.IsNil() || required.IsNil() {
		return false
	}
	return a.Allowance.GTE(required)
}

// OperationFlags are the in-flight markers the UI observes.
type OperationFlags struct {
	CurrentlyApproving  bool `json:"currently_approving"`
	CurrentlyDepositing bool `json:"currently_depositing"`
	DepositingProcess   bool `json:"depositing_process"` // A permit is held and a deposit may proceed
	DepositError        bool `json:"deposit_error"`      // Sticky until the next deposit attempt starts
}

// EarnState is the single mutable resource of a session.
type EarnState struct {
	Signature   *PermitSignature                        `json:"signature,omitempty"`
	Allowances  map[AllowanceKey]AllowanceRecord        `json:"-"`
	Snapshots   map[common.Address]VaultBalanceSnapshot `json:"snapshots"`
	InFlight    map[OperationKey]OperationPhase         `json:"-"`
	Flags       OperationFlags                          `json:"flags"`
	InputAmount string                                  `json:"input_amount"`
}

// NewEarnState returns the initial state for the given vaults.
func NewEarnState(vaults []VaultRecord) EarnState {
	snapshots := make(map[common.Address]VaultBalanceSnapshot, len(vaults))
	for _, v := range vaults {
		snapshots[v.VaultAddress] = EmptySnapshot()
	}
	return EarnState{
		Allowances: map[AllowanceKey]AllowanceRecord{},
		Snapshots:  snapshots,
		InFlight:   map[OperationKey]OperationPhase{},
	}
}

// Snapshot returns the balance snapshot of a vault, or the empty snapshot if none was recorded.
func (s EarnState) Snapshot(vault common.Address) VaultBalanceSnapshot {
	if snap, ok := s.Snapshots[vault]; ok {
		return snap
	}
	return EmptySnapshot()
}

// Allowance returns the cached allowance record, if any.
func (s EarnState) Allowance(token, spender common.Address) (AllowanceRecord, bool) {
	rec, ok := s.Allowances[AllowanceKey{Token: token, Spender: spender}]
	return rec, ok
}

// Phase returns the phase of an operation, Idle when nothing is in flight.
func (s EarnState) Phase(kind OperationKind, vault common.Address) OperationPhase {
	if phase, ok := s.InFlight[OperationKey{Kind: kind, Vault: vault}]; ok {
		return phase
	}
	return PhaseIdle
}

// IsInFlight reports whether the operation is between Submitting and its outcome.
func (s EarnState) IsInFlight(kind OperationKind, vault common.Address) bool {
	_, ok := s.InFlight[OperationKey{Kind: kind, Vault: vault}]
	return ok
}

// WithSignature stores sig in the single signature slot, replacing any previous one.
func (s EarnState) WithSignature(sig *PermitSignature) EarnState {
	s.Signature = sig
	return s
}

// WithoutSignature empties the signature slot.
func (s EarnState) WithoutSignature() EarnState {
	s.Signature = nil
	return s
}

// WithFlags replaces the operation flags.
func (s EarnState) WithFlags(flags OperationFlags) EarnState {
	s.Flags = flags
	return s
}

// WithInputAmount replaces the input amount string.
func (s EarnState) WithInputAmount(amount string) EarnState {
	s.InputAmount = amount
	return s
}

// WithAllowance stores rec, overwriting any record for the same token and spender.
func (s EarnState) WithAllowance(rec AllowanceRecord) EarnState {
	next := maps.Clone(s.Allowances)
	if next == nil {
		next = map[AllowanceKey]AllowanceRecord{}
	}
	next[rec.Key()] = rec
	s.Allowances = next
	return s
}

// WithSnapshot replaces the snapshot of a vault.
func (s EarnState) WithSnapshot(vault common.Address, snap VaultBalanceSnapshot) EarnState {
	next := maps.Clone(s.Snapshots)
	if next == nil {
		next = map[common.Address]VaultBalanceSnapshot{}
	}
	next[vault] = snap
	s.Snapshots = next
	return s
}

// WithPhase records the phase of an in-flight operation.
func (s EarnState) WithPhase(kind OperationKind, vault common.Address, phase OperationPhase) EarnState {
	next := maps.Clone(s.InFlight)
	if next == nil {
		next = map[OperationKey]OperationPhase{}
	}
	next[OperationKey{Kind: kind, Vault: vault}] = phase
	s.InFlight = next
	return s
}

// WithoutOperation drops an operation from the in-flight set.
func (s EarnState) WithoutOperation(kind OperationKind, vault common.Address) EarnState {
	next := maps.Clone(s.InFlight)
	delete(next, OperationKey{Kind: kind, Vault: vault})
	s.InFlight = next
	return s
}
