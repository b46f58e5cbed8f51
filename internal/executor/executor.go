// Package executor drives vault transactions through Idle, Submitting, PendingConfirmation and one of
// Confirmed, Reverted or SubmissionFailed.
//
// Every operation is admitted by a single session update that checks exclusivity and raises the
// in-flight markers before any transaction is built. Every exit path lowers them again.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/metrics"
	"github.com/elys-network/earn/internal/notify"
	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/utils"
	"github.com/elys-network/earn/internal/vault"
	"github.com/elys-network/earn/internal/wallet"
)

// Submitter sends transactions and waits for their receipts.
type Submitter interface {
	Address() common.Address
	SendTransaction(ctx context.Context, req wallet.TxRequest) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*wallet.Receipt, error)
}

// Refresher resynchronizes vault figures after a confirmed operation.
type Refresher interface {
	RefreshLocked(ctx context.Context, v types.VaultRecord) (types.VaultBalanceSnapshot, error)
	RefreshEarned(ctx context.Context, v types.VaultRecord) (sdkmath.Int, error)
}

// AllowanceQuerier re-reads an allowance after a confirmed approval.
type AllowanceQuerier interface {
	QueryAllowance(ctx context.Context, owner, spender, token common.Address) (types.AllowanceRecord, error)
}

// GasLimits are fixed gas limits per operation. Zero means estimate.
type GasLimits struct {
	Deposit uint64
	Approve uint64
}

// Dependencies groups the collaborators of an Executor.
type Dependencies struct {
	Submitter      Submitter
	Builder        vault.TxBuilder
	Store          *session.Store
	Refresher      Refresher
	Allowances     AllowanceQuerier
	Publisher      notify.Publisher
	Recorder       state.Recorder
	Metrics        metrics.Indicators
	ApprovalTarget common.Address
	Gas            GasLimits
}

type Executor struct {
	submitter      Submitter
	builder        vault.TxBuilder
	store          *session.Store
	refresher      Refresher
	allowances     AllowanceQuerier
	publisher      notify.Publisher
	recorder       state.Recorder
	metrics        metrics.Indicators
	approvalTarget common.Address
	gas            GasLimits
	log            zerolog.Logger
}

func New(deps Dependencies) (*Executor, error) {
	if deps.Submitter == nil || deps.Builder == nil || deps.Store == nil || deps.Refresher == nil || deps.Allowances == nil || deps.Publisher == nil {
		return nil, errors.New("executor: submitter, builder, store, refresher, allowances and publisher are required")
	}
	if deps.ApprovalTarget == (common.Address{}) {
		return nil, errors.New("executor: approval target cannot be the zero address")
	}
	if deps.Recorder == nil {
		deps.Recorder = state.NewMemoryRecorder(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	return &Executor{
		submitter:      deps.Submitter,
		builder:        deps.Builder,
		store:          deps.Store,
		refresher:      deps.Refresher,
		allowances:     deps.Allowances,
		publisher:      deps.Publisher,
		recorder:       deps.Recorder,
		metrics:        deps.Metrics,
		approvalTarget: deps.ApprovalTarget,
		gas:            deps.Gas,
		log:            logger.GetForComponent("transaction_executor"),
	}, nil
}

// Deposit consumes the held permit signature to deposit amount into v.
func (e *Executor) Deposit(ctx context.Context, v types.VaultRecord, amount sdkmath.Int) (types.OperationReceipt, error) {
	var sig types.PermitSignature
	_, err := e.store.Update(func(st types.EarnState) (types.EarnState, error) {
		if st.Flags.CurrentlyDepositing || st.Flags.CurrentlyApproving {
			return st, types.ErrOperationInProgress
		}
		if st.Signature == nil {
			return st, types.ErrNoPermitSignature
		}
		if st.Signature.Vault != v.VaultAddress || !st.Signature.Value.Equal(amount) {
			return st, fmt.Errorf("%w: signed %s for %s, requested %s for %s", types.ErrPermitMismatch,
				st.Signature.Value, st.Signature.Vault.Hex(), amount, v.VaultAddress.Hex())
		}
		sig = *st.Signature

		flags := st.Flags
		flags.CurrentlyDepositing = true
		flags.DepositingProcess = false
		flags.DepositError = false
		return st.WithFlags(flags).WithPhase(types.OperationDeposit, v.VaultAddress, types.PhaseSubmitting), nil
	})
	if err != nil {
		e.log.Warn().Err(err).Str("vault", v.VaultAddress.Hex()).Msg("Deposit rejected")
		return types.OperationReceipt{}, err
	}

	display, _ := utils.SDKIntToFloat64(amount, v.Asset.Decimals)
	e.log.Info().
		Str("vault", v.VaultAddress.Hex()).
		Str("amount", amount.String()).
		Float64(v.Asset.Symbol, display).
		Msg("Deposit started")

	req, err := e.builder.Deposit(v.VaultAddress, e.submitter.Address(), amount, sig)
	if err != nil {
		err = errors.Join(types.ErrSubmissionFailed, err)
		rec := e.outcome(types.OperationDeposit, v.VaultAddress, common.Hash{}, nil, err)
		return e.depositFailed(v, rec, err)
	}
	req.GasLimit = e.gas.Deposit

	rec, err := e.submit(ctx, types.OperationDeposit, v.VaultAddress, req)
	if err != nil {
		return e.depositFailed(v, rec, err)
	}

	e.store.Apply(func(st types.EarnState) types.EarnState {
		flags := st.Flags
		flags.CurrentlyDepositing = false
		flags.DepositingProcess = false
		flags.DepositError = false
		return st.WithInputAmount("").
			WithoutSignature().
			WithFlags(flags).
			WithoutOperation(types.OperationDeposit, v.VaultAddress)
	})
	e.record(ctx, rec)
	e.publisher.Publish(notify.ChannelEarnDeposit, notify.MessageDepositSucceeded)

	if _, err := e.refresher.RefreshLocked(ctx, v); err != nil {
		e.log.Warn().Err(err).Str("vault", v.VaultAddress.Hex()).Msg("Post-deposit refresh failed")
	}
	return rec, nil
}

// depositFailed applies the single failure path shared by submission failures and reverts.
func (e *Executor) depositFailed(v types.VaultRecord, rec types.OperationReceipt, cause error) (types.OperationReceipt, error) {
	e.store.Apply(func(st types.EarnState) types.EarnState {
		flags := st.Flags
		flags.CurrentlyDepositing = false
		flags.DepositingProcess = false
		flags.DepositError = true
		return st.WithoutSignature().
			WithFlags(flags).
			WithoutOperation(types.OperationDeposit, v.VaultAddress)
	})
	e.record(context.Background(), rec)
	e.publisher.Publish(notify.ChannelEarnDeposit, notify.MessageDepositFailed)

	e.log.Error().Err(cause).
		Str("vault", v.VaultAddress.Hex()).
		Str("outcome", string(rec.Outcome)).
		Msg("Deposit failed")
	return rec, cause
}

// Approve grants the approval target an unlimited allowance on the asset of v.
func (e *Executor) Approve(ctx context.Context, v types.VaultRecord) (types.OperationReceipt, error) {
	_, err := e.store.Update(func(st types.EarnState) (types.EarnState, error) {
		if st.Flags.CurrentlyDepositing || st.Flags.CurrentlyApproving {
			return st, types.ErrOperationInProgress
		}
		flags := st.Flags
		flags.CurrentlyApproving = true
		return st.WithFlags(flags).WithPhase(types.OperationApprove, v.VaultAddress, types.PhaseSubmitting), nil
	})
	if err != nil {
		e.log.Warn().Err(err).Str("vault", v.VaultAddress.Hex()).Msg("Approval rejected")
		return types.OperationReceipt{}, err
	}

	release := func() {
		e.store.Apply(func(st types.EarnState) types.EarnState {
			flags := st.Flags
			flags.CurrentlyApproving = false
			return st.WithFlags(flags).WithoutOperation(types.OperationApprove, v.VaultAddress)
		})
	}

	req, err := e.builder.Approve(v.Asset.ContractAddress, e.approvalTarget, sdkmath.NewIntFromBigInt(abi.MaxUint256))
	if err != nil {
		err = errors.Join(types.ErrSubmissionFailed, err)
		rec := e.outcome(types.OperationApprove, v.VaultAddress, common.Hash{}, nil, err)
		release()
		e.record(context.Background(), rec)
		return rec, err
	}
	req.GasLimit = e.gas.Approve

	rec, err := e.submit(ctx, types.OperationApprove, v.VaultAddress, req)
	release()
	e.record(ctx, rec)
	if err != nil {
		e.log.Error().Err(err).Str("token", v.Asset.ContractAddress.Hex()).Msg("Approval failed")
		return rec, err
	}

	if _, err := e.allowances.QueryAllowance(ctx, e.submitter.Address(), e.approvalTarget, v.Asset.ContractAddress); err != nil {
		e.log.Warn().Err(err).Msg("Post-approval allowance query failed")
	}
	return rec, nil
}

// Withdraw exits the full position in v.
func (e *Executor) Withdraw(ctx context.Context, v types.VaultRecord) (types.OperationReceipt, error) {
	return e.runVaultOperation(ctx, types.OperationWithdraw, v, e.builder.Withdraw, func(ctx context.Context) error {
		_, err := e.refresher.RefreshLocked(ctx, v)
		return err
	})
}

// Claim collects the pending rewards of v.
func (e *Executor) Claim(ctx context.Context, v types.VaultRecord) (types.OperationReceipt, error) {
	return e.runVaultOperation(ctx, types.OperationClaim, v, e.builder.Claim, func(ctx context.Context) error {
		_, err := e.refresher.RefreshEarned(ctx, v)
		return err
	})
}

func (e *Executor) runVaultOperation(
	ctx context.Context,
	kind types.OperationKind,
	v types.VaultRecord,
	build func(common.Address) (wallet.TxRequest, error),
	refresh func(context.Context) error,
) (types.OperationReceipt, error) {
	_, err := e.store.Update(func(st types.EarnState) (types.EarnState, error) {
		if st.IsInFlight(kind, v.VaultAddress) {
			return st, types.ErrOperationInProgress
		}
		return st.WithPhase(kind, v.VaultAddress, types.PhaseSubmitting), nil
	})
	if err != nil {
		e.log.Warn().Str("kind", string(kind)).Str("vault", v.VaultAddress.Hex()).Msg("Operation rejected, already in flight")
		return types.OperationReceipt{}, err
	}
	defer e.store.Apply(func(st types.EarnState) types.EarnState {
		return st.WithoutOperation(kind, v.VaultAddress)
	})

	req, err := build(v.VaultAddress)
	if err != nil {
		err = errors.Join(types.ErrSubmissionFailed, err)
		rec := e.outcome(kind, v.VaultAddress, common.Hash{}, nil, err)
		e.record(context.Background(), rec)
		return rec, err
	}

	rec, err := e.submit(ctx, kind, v.VaultAddress, req)
	e.record(ctx, rec)
	if err != nil {
		e.log.Error().Err(err).Str("kind", string(kind)).Str("vault", v.VaultAddress.Hex()).Msg("Operation failed")
		return rec, err
	}

	if err := refresh(ctx); err != nil {
		e.log.Warn().Err(err).Str("kind", string(kind)).Msg("Post-operation refresh failed")
	}
	return rec, nil
}

// submit moves an admitted operation from Submitting to its terminal phase.
// The returned error wraps ErrSubmissionFailed or ErrReverted.
func (e *Executor) submit(ctx context.Context, kind types.OperationKind, vaultAddr common.Address, req wallet.TxRequest) (types.OperationReceipt, error) {
	e.metrics.IncrementProcessingTxCount()
	defer e.metrics.DecrementProcessingTxCount()
	start := time.Now()

	hash, err := e.submitter.SendTransaction(ctx, req)
	if err != nil {
		err = errors.Join(types.ErrSubmissionFailed, err)
		return e.outcome(kind, vaultAddr, common.Hash{}, nil, err), err
	}

	e.store.Apply(func(st types.EarnState) types.EarnState {
		return st.WithPhase(kind, vaultAddr, types.PhasePendingConfirmation)
	})
	e.log.Info().Str("kind", string(kind)).Str("txHash", hash.Hex()).Msg("Transaction pending confirmation")

	receipt, err := e.submitter.WaitForReceipt(ctx, hash)
	if err != nil {
		err = errors.Join(types.ErrReverted, err)
		return e.outcome(kind, vaultAddr, hash, nil, err), err
	}
	e.metrics.ObserveConfirmationLatencyMs(string(kind), time.Since(start).Milliseconds())
	e.metrics.ObserveGasUsed(string(kind), receipt.GasUsed)

	if !receipt.Succeeded() {
		err = fmt.Errorf("%w: status %d in block %d", types.ErrReverted, receipt.Status, receipt.BlockNumber)
		return e.outcome(kind, vaultAddr, hash, receipt, err), err
	}

	e.log.Info().
		Str("kind", string(kind)).
		Str("txHash", hash.Hex()).
		Uint64("gasUsed", receipt.GasUsed).
		Msg("Transaction confirmed")
	return e.outcome(kind, vaultAddr, hash, receipt, nil), nil
}

// outcome builds the receipt of a terminal phase and counts it.
func (e *Executor) outcome(kind types.OperationKind, vaultAddr common.Address, hash common.Hash, receipt *wallet.Receipt, err error) types.OperationReceipt {
	rec := types.NewOperationReceipt(kind, vaultAddr, e.submitter.Address())
	rec.TxHash = hash
	if receipt != nil {
		rec.GasUsed = receipt.GasUsed
	}
	switch {
	case err == nil:
		rec.Outcome = types.PhaseConfirmed
	case errors.Is(err, types.ErrReverted):
		rec.Outcome = types.PhaseReverted
		rec.Message = err.Error()
	default:
		rec.Outcome = types.PhaseSubmissionFailed
		rec.Message = err.Error()
	}
	e.metrics.IncrementProcessedTxsTotal(string(kind), string(rec.Outcome))
	return rec
}

func (e *Executor) record(ctx context.Context, rec types.OperationReceipt) {
	if err := e.recorder.RecordOperation(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Warn().Err(err).Str("operation", rec.ID.String()).Msg("Failed to record operation receipt")
	}
}
