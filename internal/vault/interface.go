package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/wallet"
)

// Reader performs the read-only contract calls of the earn flow.
type Reader interface {
	// Allowance returns token.allowance(owner, spender).
	Allowance(ctx context.Context, token, owner, spender common.Address) (sdkmath.Int, error)

	// BalanceOf returns contract.balanceOf(account). Works for vault shares and strategy balances alike.
	BalanceOf(ctx context.Context, contract, account common.Address) (sdkmath.Int, error)

	// Earned returns the pending reward of account on a vault.
	Earned(ctx context.Context, vault, account common.Address) (sdkmath.Int, error)

	// Nonce returns the approval target permit nonce of owner.
	Nonce(ctx context.Context, approvalTarget, owner common.Address) (sdkmath.Int, error)
}

// TxBuilder encodes the state-changing contract calls. It performs no I/O.
type TxBuilder interface {
	// Approve encodes token.approve(spender, amount).
	Approve(token, spender common.Address, amount sdkmath.Int) (wallet.TxRequest, error)

	// Deposit encodes vault.depositWithApprovalTarget for amount, consuming sig.
	Deposit(vault, owner common.Address, amount sdkmath.Int, sig types.PermitSignature) (wallet.TxRequest, error)

	// Withdraw encodes vault.withdraw(), which exits the full position.
	Withdraw(vault common.Address) (wallet.TxRequest, error)

	// Claim encodes vault.getReward().
	Claim(vault common.Address) (wallet.TxRequest, error)
}

// VaultManager is everything the earn flow needs from the vault contracts.
type VaultManager interface {
	Reader
	TxBuilder
}
