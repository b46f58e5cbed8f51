// Package earn composes the registry, allowance tracker, permit signer, transaction executor and
// balance synchronizer into the operations a user drives: check approval, approve, sign a permit,
// deposit, withdraw, claim and refresh.
package earn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/registry"
	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/utils"
)

type AllowanceQuerier interface {
	QueryAllowance(ctx context.Context, owner, spender, token common.Address) (types.AllowanceRecord, error)
}

type PermitRequester interface {
	RequestSignature(ctx context.Context, v types.VaultRecord, amount sdkmath.Int) (*types.PermitSignature, error)
}

type OperationExecutor interface {
	Approve(ctx context.Context, v types.VaultRecord) (types.OperationReceipt, error)
	Deposit(ctx context.Context, v types.VaultRecord, amount sdkmath.Int) (types.OperationReceipt, error)
	Withdraw(ctx context.Context, v types.VaultRecord) (types.OperationReceipt, error)
	Claim(ctx context.Context, v types.VaultRecord) (types.OperationReceipt, error)
}

type BalanceRefresher interface {
	RefreshAllLocked(ctx context.Context, vaults []types.VaultRecord) error
	RefreshAllEarned(ctx context.Context, vaults []types.VaultRecord) error
}

// Dependencies groups the collaborators of an Orchestrator.
type Dependencies struct {
	Registry       *registry.Registry
	Store          *session.Store
	Allowances     AllowanceQuerier
	Permits        PermitRequester
	Executor       OperationExecutor
	Balances       BalanceRefresher
	Account        common.Address
	ApprovalTarget common.Address
}

// ApprovalStatus is the outcome of an approval check.
type ApprovalStatus struct {
	Allowance  types.AllowanceRecord `json:"allowance"`
	Required   sdkmath.Int           `json:"required"`
	Sufficient bool                  `json:"sufficient"`
}

// Orchestrator is the single entry point for a session.
type Orchestrator struct {
	registry       *registry.Registry
	store          *session.Store
	allowances     AllowanceQuerier
	permits        PermitRequester
	executor       OperationExecutor
	balances       BalanceRefresher
	account        common.Address
	approvalTarget common.Address
	log            zerolog.Logger
}

func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Store == nil {
		return nil, errors.New("earn: registry and store are required")
	}
	if deps.Allowances == nil || deps.Permits == nil || deps.Executor == nil || deps.Balances == nil {
		return nil, errors.New("earn: allowances, permits, executor and balances are required")
	}
	if deps.Account == (common.Address{}) || deps.ApprovalTarget == (common.Address{}) {
		return nil, errors.New("earn: account and approval target cannot be the zero address")
	}
	return &Orchestrator{
		registry:       deps.Registry,
		store:          deps.Store,
		allowances:     deps.Allowances,
		permits:        deps.Permits,
		executor:       deps.Executor,
		balances:       deps.Balances,
		account:        deps.Account,
		approvalTarget: deps.ApprovalTarget,
		log:            logger.GetForComponent("earn_orchestrator"),
	}, nil
}

func (o *Orchestrator) Account() common.Address { return o.account }

func (o *Orchestrator) ApprovalTarget() common.Address { return o.approvalTarget }

// State returns the current session snapshot.
func (o *Orchestrator) State() types.EarnState {
	return o.store.Snapshot()
}

// Signature returns a copy of the live permit signature, or nil.
func (o *Orchestrator) Signature() *types.PermitSignature {
	sig := o.store.Snapshot().Signature
	if sig == nil {
		return nil
	}
	cp := *sig
	return &cp
}

// Vaults joins every registered vault with its latest snapshot.
func (o *Orchestrator) Vaults() []types.VaultView {
	st := o.store.Snapshot()
	records := o.registry.ListVaults()
	views := make([]types.VaultView, 0, len(records))
	for _, v := range records {
		views = append(views, types.VaultView{VaultRecord: v, Balances: st.Snapshot(v.VaultAddress)})
	}
	return views
}

func (o *Orchestrator) Vault(address common.Address) (types.VaultView, error) {
	v, err := o.registry.FindVault(address)
	if err != nil {
		return types.VaultView{}, err
	}
	return types.VaultView{VaultRecord: v, Balances: o.store.Snapshot().Snapshot(address)}, nil
}

// SetInputAmount stores the amount the user is typing. It is not validated until used.
func (o *Orchestrator) SetInputAmount(amount string) types.EarnState {
	amount = strings.TrimSpace(amount)
	return o.store.Apply(func(st types.EarnState) types.EarnState {
		return st.WithInputAmount(amount)
	})
}

// CheckApproval reads the allowance the account granted the approval target on the asset of the
// vault. An empty amount checks for any allowance at all.
func (o *Orchestrator) CheckApproval(ctx context.Context, address common.Address, amount string) (ApprovalStatus, error) {
	v, err := o.registry.FindVault(address)
	if err != nil {
		return ApprovalStatus{}, err
	}

	required := sdkmath.OneInt()
	if strings.TrimSpace(amount) != "" {
		if required, err = parseAmount(v, amount); err != nil {
			return ApprovalStatus{}, err
		}
	}

	rec, err := o.allowances.QueryAllowance(ctx, o.account, o.approvalTarget, v.Asset.ContractAddress)
	if err != nil {
		return ApprovalStatus{}, err
	}
	return ApprovalStatus{Allowance: rec, Required: required, Sufficient: rec.IsSufficient(required)}, nil
}

func (o *Orchestrator) Approve(ctx context.Context, address common.Address) (types.OperationReceipt, error) {
	v, err := o.registry.FindVault(address)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	return o.executor.Approve(ctx, v)
}

// PermitDeposit asks the wallet for a permit covering amount, which Deposit then consumes.
func (o *Orchestrator) PermitDeposit(ctx context.Context, address common.Address, amount string) (*types.PermitSignature, error) {
	v, err := o.registry.FindVault(address)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(v, amount)
	if err != nil {
		return nil, err
	}
	sig, err := o.permits.RequestSignature(ctx, v, value)
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("vault", v.VaultAddress.Hex()).Str("value", value.String()).Msg("Permit held, deposit may proceed")
	return sig, nil
}

func (o *Orchestrator) Deposit(ctx context.Context, address common.Address, amount string) (types.OperationReceipt, error) {
	v, err := o.registry.FindVault(address)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	value, err := parseAmount(v, amount)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	return o.executor.Deposit(ctx, v, value)
}

// Withdraw exits the whole position. Partial withdrawal is not supported.
func (o *Orchestrator) Withdraw(ctx context.Context, address common.Address) (types.OperationReceipt, error) {
	v, err := o.registry.FindVault(address)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	return o.executor.Withdraw(ctx, v)
}

func (o *Orchestrator) Claim(ctx context.Context, address common.Address) (types.OperationReceipt, error) {
	v, err := o.registry.FindVault(address)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	return o.executor.Claim(ctx, v)
}

func (o *Orchestrator) RefreshAllLocked(ctx context.Context) error {
	return o.balances.RefreshAllLocked(ctx, o.registry.ListVaults())
}

func (o *Orchestrator) RefreshAllEarned(ctx context.Context) error {
	return o.balances.RefreshAllEarned(ctx, o.registry.ListVaults())
}

// Sync refreshes locked and earned values of every vault. Per-vault failures are joined.
func (o *Orchestrator) Sync(ctx context.Context) error {
	vaults := o.registry.ListVaults()
	err := errors.Join(
		o.balances.RefreshAllLocked(ctx, vaults),
		o.balances.RefreshAllEarned(ctx, vaults),
	)
	if err != nil {
		o.log.Warn().Err(err).Msg("Sync completed with errors")
		return err
	}
	o.log.Debug().Int("vaults", len(vaults)).Msg("Sync completed")
	return nil
}

// parseAmount converts user input into a positive amount in the asset's smallest unit.
func parseAmount(v types.VaultRecord, amount string) (sdkmath.Int, error) {
	value, err := utils.ParseUnits(amount, v.Asset.Decimals)
	if err != nil {
		return sdkmath.Int{}, errors.Join(types.ErrInvalidAmount, err)
	}
	if !value.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: %q is not a positive %s amount", types.ErrInvalidAmount, amount, v.Asset.Symbol)
	}
	return value, nil
}
