/*

This file contains the types describing a vault and the per-vault figures we keep in sync with the chain.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Asset is the token a vault accepts as deposit.
type Asset struct {
	Name            string         `json:"name"`             // e.g., "Aave Token"
	Symbol          string         `json:"symbol"`           // e.g., "AAVE"
	Decimals        int            `json:"decimals"`         // e.g., 18
	ContractAddress common.Address `json:"contract_address"` // ERC-20 contract of the asset
}

// VaultRecord holds the static terms of one vault. Loaded once from configuration and never mutated.
type VaultRecord struct {
	VaultAddress    common.Address `json:"vault_address"`
	StrategyAddress common.Address `json:"strategy_address"` // Underlying yield strategy the vault deposits into
	RewardToken     common.Address `json:"reward_token"`
	PoolStartTime   int64          `json:"pool_start_time"` // Unix seconds
	PoolEndTime     int64          `json:"pool_end_time"`   // Unix seconds
	Duration        int64          `json:"duration"`        // Seconds
	Asset           Asset          `json:"asset"`
}

// IsActive reports whether the reward period covers the given unix timestamp.
func (v VaultRecord) IsActive(timestamp int64) bool {
	return timestamp >= v.PoolStartTime && timestamp < v.PoolEndTime
}

// VaultBalanceSnapshot is the dynamic state of a vault for the connected account.
// All amounts are in the asset's smallest unit. A snapshot is always replaced as a whole.
type VaultBalanceSnapshot struct {
	UserDeposited  sdkmath.Int `json:"user_deposited"`
	TotalDeposited sdkmath.Int `json:"total_deposited"`
	PendingRewards sdkmath.Int `json:"pending_rewards"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// EmptySnapshot returns the zero snapshot every vault starts a session with.
func EmptySnapshot() VaultBalanceSnapshot {
	return VaultBalanceSnapshot{
		UserDeposited:  sdkmath.ZeroInt(),
		TotalDeposited: sdkmath.ZeroInt(),
		PendingRewards: sdkmath.ZeroInt(),
	}
}

// VaultView joins a vault record with its latest snapshot for presentation.
type VaultView struct {
	VaultRecord
	Balances VaultBalanceSnapshot `json:"balances"`
}
