package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/metrics"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/wallet"
)

var (
	ErrInvalidAddress   = errors.New("contract address is invalid")
	ErrRPCRequestFailed = errors.New("RPC request failed")
	ErrInvalidResponse  = errors.New("response data is invalid")
	ErrPackFailed       = errors.New("calldata encoding failed")
)

// VaultClient talks to the ERC-20, vault and approval target contracts over an ethereum node.
type VaultClient struct {
	caller  bind.ContractCaller
	limiter *rate.Limiter
	metrics metrics.Indicators
	log     zerolog.Logger
}

var _ VaultManager = (*VaultClient)(nil)

// NewVaultClient creates a client issuing at most readsPerSecond contract reads.
func NewVaultClient(caller bind.ContractCaller, readsPerSecond float64, indicators metrics.Indicators) (*VaultClient, error) {
	if caller == nil {
		return nil, errors.New("contract caller cannot be nil")
	}
	if readsPerSecond <= 0 {
		return nil, fmt.Errorf("read rate must be positive, got %f", readsPerSecond)
	}
	if indicators == nil {
		indicators = metrics.Noop{}
	}
	burst := int(readsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &VaultClient{
		caller:  caller,
		limiter: rate.NewLimiter(rate.Limit(readsPerSecond), burst),
		metrics: indicators,
		log:     logger.GetForComponent("vault_client"),
	}, nil
}

func (v *VaultClient) Allowance(ctx context.Context, token, owner, spender common.Address) (sdkmath.Int, error) {
	return v.callUint256(ctx, ERC20ABI, token, "allowance", owner, spender)
}

func (v *VaultClient) BalanceOf(ctx context.Context, contract, account common.Address) (sdkmath.Int, error) {
	return v.callUint256(ctx, ERC20ABI, contract, "balanceOf", account)
}

func (v *VaultClient) Earned(ctx context.Context, vault, account common.Address) (sdkmath.Int, error) {
	return v.callUint256(ctx, VaultABI, vault, "earned", account)
}

func (v *VaultClient) Nonce(ctx context.Context, approvalTarget, owner common.Address) (sdkmath.Int, error) {
	return v.callUint256(ctx, ApprovalTargetABI, approvalTarget, "nonces", owner)
}

func (v *VaultClient) Approve(token, spender common.Address, amount sdkmath.Int) (wallet.TxRequest, error) {
	if amount.IsNil() || amount.IsNegative() {
		return wallet.TxRequest{}, errors.Join(ErrPackFailed, errors.New("approval amount must be non-negative"))
	}
	return pack(ERC20ABI, token, "approve", spender, amount.BigInt())
}

func (v *VaultClient) Deposit(vault, owner common.Address, amount sdkmath.Int, sig types.PermitSignature) (wallet.TxRequest, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return wallet.TxRequest{}, errors.Join(ErrPackFailed, errors.New("deposit amount must be positive"))
	}
	// The account is both beneficiary and token owner, and the permitted amount is the deposit itself.
	return pack(VaultABI, vault, "depositWithApprovalTarget",
		amount.BigInt(),
		owner,
		owner,
		amount.BigInt(),
		big.NewInt(sig.Deadline),
		sig.V,
		sig.R,
		sig.S,
	)
}

func (v *VaultClient) Withdraw(vault common.Address) (wallet.TxRequest, error) {
	return pack(VaultABI, vault, "withdraw")
}

func (v *VaultClient) Claim(vault common.Address) (wallet.TxRequest, error) {
	return pack(VaultABI, vault, "getReward")
}

func (v *VaultClient) callUint256(ctx context.Context, contractABI abi.ABI, contract common.Address, method string, args ...interface{}) (sdkmath.Int, error) {
	if contract == (common.Address{}) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s on zero address", ErrInvalidAddress, method)
	}

	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return sdkmath.Int{}, errors.Join(ErrPackFailed, err)
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return sdkmath.Int{}, errors.Join(ErrRPCRequestFailed, err)
	}

	output, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		v.metrics.IncrementReadErrors(method)
		v.log.Warn().Err(err).Str("method", method).Str("contract", contract.Hex()).Msg("Contract call failed")
		return sdkmath.Int{}, errors.Join(ErrRPCRequestFailed, fmt.Errorf("%s: %w", method, err))
	}

	values, err := contractABI.Unpack(method, output)
	if err != nil {
		v.metrics.IncrementReadErrors(method)
		return sdkmath.Int{}, errors.Join(ErrInvalidResponse, fmt.Errorf("%s: %w", method, err))
	}
	if len(values) != 1 {
		v.metrics.IncrementReadErrors(method)
		return sdkmath.Int{}, fmt.Errorf("%w: %s returned %d values", ErrInvalidResponse, method, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok || value == nil {
		v.metrics.IncrementReadErrors(method)
		return sdkmath.Int{}, fmt.Errorf("%w: %s returned %T", ErrInvalidResponse, method, values[0])
	}

	return sdkmath.NewIntFromBigInt(value), nil
}

func pack(contractABI abi.ABI, contract common.Address, method string, args ...interface{}) (wallet.TxRequest, error) {
	if contract == (common.Address{}) {
		return wallet.TxRequest{}, fmt.Errorf("%w: %s on zero address", ErrInvalidAddress, method)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return wallet.TxRequest{}, errors.Join(ErrPackFailed, fmt.Errorf("%s: %w", method, err))
	}
	return wallet.TxRequest{To: contract, Data: data, Method: method}, nil
}
