package earn

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/elys-network/earn/internal/allowance"
	"github.com/elys-network/earn/internal/balance"
	"github.com/elys-network/earn/internal/executor"
	"github.com/elys-network/earn/internal/notify"
	"github.com/elys-network/earn/internal/permit"
	"github.com/elys-network/earn/internal/registry"
	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/wallet"
)

const chainTime int64 = 1_700_000_000

var (
	approvalTarget = common.HexToAddress("0x996BEA13192f358d9F16f4665D4c4A7fCF342b93")
	aaveVault      = types.VaultRecord{
		VaultAddress:    common.HexToAddress("0x6874e9A0c6b5592a30d53297E933dE870deFFd17"),
		StrategyAddress: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Asset: types.Asset{
			Name:            "Aave Token",
			Symbol:          "AAVE",
			Decimals:        18,
			ContractAddress: common.HexToAddress("0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"),
		},
	}
	uniVault = types.VaultRecord{
		VaultAddress:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		StrategyAddress: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Asset: types.Asset{
			Symbol:          "UNI",
			Decimals:        18,
			ContractAddress: common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"),
		},
	}
)

type balanceKey struct{ contract, holder common.Address }

// fakeChain is a minimal in-memory stand-in for the node, the contracts and the wallet.
type fakeChain struct {
	mu          sync.Mutex
	key         *ecdsa.PrivateKey
	declineSign error
	signCalls   int
	allowances  map[common.Address]sdkmath.Int
	balances    map[balanceKey]sdkmath.Int
	earned      map[common.Address]sdkmath.Int
	readErr     map[common.Address]error
	statuses    []uint64 // Receipt statuses handed out in order; success when exhausted
	sent        []wallet.TxRequest
	pending     map[common.Hash]wallet.TxRequest
}

func newFakeChain(t *testing.T) *fakeChain {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeChain{
		key:        key,
		allowances: map[common.Address]sdkmath.Int{},
		balances:   map[balanceKey]sdkmath.Int{},
		earned:     map[common.Address]sdkmath.Int{},
		readErr:    map[common.Address]error{},
		pending:    map[common.Hash]wallet.TxRequest{},
	}
}

func (c *fakeChain) Address() common.Address { return crypto.PubkeyToAddress(c.key.PublicKey) }
func (c *fakeChain) ChainID() *big.Int       { return big.NewInt(1) }

func (c *fakeChain) SignTypedData(_ context.Context, td apitypes.TypedData) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signCalls++
	if c.declineSign != nil {
		return nil, c.declineSign
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(hash, c.key)
}

func (c *fakeChain) CurrentTimestamp(context.Context) (int64, error) { return chainTime, nil }

func (c *fakeChain) Allowance(_ context.Context, token, _, _ common.Address) (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr[token]; err != nil {
		return sdkmath.Int{}, err
	}
	if v, ok := c.allowances[token]; ok {
		return v, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (c *fakeChain) BalanceOf(_ context.Context, contract, holder common.Address) (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr[contract]; err != nil {
		return sdkmath.Int{}, err
	}
	if v, ok := c.balances[balanceKey{contract, holder}]; ok {
		return v, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (c *fakeChain) Earned(_ context.Context, v, _ common.Address) (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr[v]; err != nil {
		return sdkmath.Int{}, err
	}
	if e, ok := c.earned[v]; ok {
		return e, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (c *fakeChain) Nonce(context.Context, common.Address, common.Address) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), nil
}

func (c *fakeChain) Approve(token, _ common.Address, amount sdkmath.Int) (wallet.TxRequest, error) {
	return wallet.TxRequest{To: token, Data: amount.BigInt().Bytes(), Method: "approve"}, nil
}

func (c *fakeChain) Deposit(v, _ common.Address, amount sdkmath.Int, _ types.PermitSignature) (wallet.TxRequest, error) {
	return wallet.TxRequest{To: v, Data: amount.BigInt().Bytes(), Method: "depositWithApprovalTarget"}, nil
}

func (c *fakeChain) Withdraw(v common.Address) (wallet.TxRequest, error) {
	return wallet.TxRequest{To: v, Method: "withdraw"}, nil
}

func (c *fakeChain) Claim(v common.Address) (wallet.TxRequest, error) {
	return wallet.TxRequest{To: v, Method: "getReward"}, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, req wallet.TxRequest) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, req)
	hash := common.BigToHash(big.NewInt(int64(len(c.sent))))
	c.pending[hash] = req
	return hash, nil
}

// WaitForReceipt mines the transaction, applying its effect when it succeeds.
func (c *fakeChain) WaitForReceipt(_ context.Context, hash common.Hash) (*wallet.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.pending[hash]
	delete(c.pending, hash)

	status := ethtypes.ReceiptStatusSuccessful
	if len(c.statuses) > 0 {
		status, c.statuses = c.statuses[0], c.statuses[1:]
	}
	if status == ethtypes.ReceiptStatusSuccessful {
		c.apply(req)
	}
	return &wallet.Receipt{TxHash: hash, Status: status, GasUsed: 21_000, BlockNumber: 1}, nil
}

func (c *fakeChain) apply(req wallet.TxRequest) {
	account := c.Address()
	amount := sdkmath.NewIntFromBigInt(new(big.Int).SetBytes(req.Data))
	switch req.Method {
	case "approve":
		c.allowances[req.To] = amount
	case "depositWithApprovalTarget":
		for _, v := range []types.VaultRecord{aaveVault, uniVault} {
			if v.VaultAddress != req.To {
				continue
			}
			user := balanceKey{v.VaultAddress, account}
			total := balanceKey{v.StrategyAddress, v.VaultAddress}
			c.balances[user] = c.balanceLocked(user).Add(amount)
			c.balances[total] = c.balanceLocked(total).Add(amount)
		}
	case "withdraw":
		delete(c.balances, balanceKey{req.To, account})
	case "getReward":
		delete(c.earned, req.To)
	}
}

func (c *fakeChain) balanceLocked(k balanceKey) sdkmath.Int {
	if v, ok := c.balances[k]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (c *fakeChain) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type OrchestratorSuite struct {
	suite.Suite
	chain    *fakeChain
	store    *session.Store
	emitter  *notify.Emitter
	messages chan notify.Message
	orch     *Orchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.chain = newFakeChain(s.T())
	vaults := []types.VaultRecord{aaveVault, uniVault}
	s.store = session.NewStore(types.NewEarnState(vaults))
	s.emitter = notify.NewEmitter()
	s.messages = make(chan notify.Message, 16)
	s.emitter.Subscribe(notify.ChannelEarnDeposit, func(m notify.Message) { s.messages <- m })

	account := s.chain.Address()
	tracker := allowance.NewTracker(s.chain, s.store)
	syncer := balance.NewSynchronizer(s.chain, s.store, account)
	exec, err := executor.New(executor.Dependencies{
		Submitter:      s.chain,
		Builder:        s.chain,
		Store:          s.store,
		Refresher:      syncer,
		Allowances:     tracker,
		Publisher:      s.emitter,
		Recorder:       state.NewMemoryRecorder(10),
		ApprovalTarget: approvalTarget,
	})
	s.Require().NoError(err)

	s.orch, err = New(Dependencies{
		Registry:       registry.New(vaults),
		Store:          s.store,
		Allowances:     tracker,
		Permits:        permit.NewSigner(s.chain, s.chain, s.chain, s.store, approvalTarget, 0),
		Executor:       exec,
		Balances:       syncer,
		Account:        account,
		ApprovalTarget: approvalTarget,
	})
	s.Require().NoError(err)
}

func (s *OrchestratorSuite) nextMessage() notify.Message {
	s.emitter.Wait()
	select {
	case m := <-s.messages:
		return m
	default:
		s.FailNow("no notification published")
		return notify.Message{}
	}
}

func (s *OrchestratorSuite) TestApproveThenPermitThenDeposit() {
	ctx := context.Background()
	want := sdkmath.NewInt(1_500_000_000_000_000_000)

	status, err := s.orch.CheckApproval(ctx, aaveVault.VaultAddress, "1.5")
	s.Require().NoError(err)
	s.False(status.Sufficient)
	s.True(status.Required.Equal(want))

	_, err = s.orch.Approve(ctx, aaveVault.VaultAddress)
	s.Require().NoError(err)
	cached, ok := s.orch.State().Allowance(aaveVault.Asset.ContractAddress, approvalTarget)
	s.Require().True(ok)
	s.Equal(0, cached.Allowance.BigInt().Cmp(abi.MaxUint256))

	status, err = s.orch.CheckApproval(ctx, aaveVault.VaultAddress, "1.5")
	s.Require().NoError(err)
	s.True(status.Sufficient)

	s.orch.SetInputAmount(" 1.5 ")
	s.Equal("1.5", s.orch.State().InputAmount)

	sig, err := s.orch.PermitDeposit(ctx, aaveVault.VaultAddress, "1.5")
	s.Require().NoError(err)
	s.True(sig.Value.Equal(want))
	s.Equal(chainTime+43200, sig.Deadline)
	s.True(s.orch.State().Flags.DepositingProcess)
	s.Require().NotNil(s.orch.Signature())

	rec, err := s.orch.Deposit(ctx, aaveVault.VaultAddress, "1.5")
	s.Require().NoError(err)
	s.Equal(types.PhaseConfirmed, rec.Outcome)

	st := s.orch.State()
	s.Nil(st.Signature)
	s.Nil(s.orch.Signature())
	s.False(st.Flags.CurrentlyDepositing)
	s.False(st.Flags.DepositError)
	s.Equal("", st.InputAmount)
	s.True(st.Snapshot(aaveVault.VaultAddress).UserDeposited.Equal(want))
	s.True(st.Snapshot(aaveVault.VaultAddress).TotalDeposited.Equal(want))
	s.Equal(notify.MessageDepositSucceeded, s.nextMessage().Text)

	view, err := s.orch.Vault(aaveVault.VaultAddress)
	s.Require().NoError(err)
	s.True(view.Balances.UserDeposited.Equal(want))
}

func (s *OrchestratorSuite) TestInvalidAmountRejectedBeforeIO() {
	for _, amount := range []string{"abc", "", "1.2.3", "-1", "0", "0.0000000000000000001"} {
		_, err := s.orch.PermitDeposit(context.Background(), aaveVault.VaultAddress, amount)
		s.ErrorIs(err, types.ErrInvalidAmount, amount)

		_, err = s.orch.Deposit(context.Background(), aaveVault.VaultAddress, amount)
		s.ErrorIs(err, types.ErrInvalidAmount, amount)
	}
	s.Equal(0, s.chain.signCalls)
	s.Equal(0, s.chain.sentCount())
}

func (s *OrchestratorSuite) TestSignerDeclines() {
	s.chain.declineSign = errors.New("user rejected the request")

	_, err := s.orch.PermitDeposit(context.Background(), aaveVault.VaultAddress, "1.5")
	s.Require().ErrorIs(err, types.ErrSigningDeclined)
	s.Nil(s.orch.Signature())
	s.False(s.orch.State().Flags.DepositingProcess)
	s.False(s.orch.State().Flags.DepositError)

	_, err = s.orch.Deposit(context.Background(), aaveVault.VaultAddress, "1.5")
	s.Require().ErrorIs(err, types.ErrNoPermitSignature)
	s.Equal(0, s.chain.sentCount())
}

func (s *OrchestratorSuite) TestRevertThenSuccess() {
	ctx := context.Background()
	s.chain.statuses = []uint64{ethtypes.ReceiptStatusFailed}

	_, err := s.orch.PermitDeposit(ctx, uniVault.VaultAddress, "2")
	s.Require().NoError(err)
	_, err = s.orch.Deposit(ctx, uniVault.VaultAddress, "2")
	s.Require().ErrorIs(err, types.ErrReverted)
	s.True(s.orch.State().Flags.DepositError)
	s.Nil(s.orch.Signature())
	s.Equal(notify.MessageDepositFailed, s.nextMessage().Text)

	_, err = s.orch.PermitDeposit(ctx, uniVault.VaultAddress, "2")
	s.Require().NoError(err)
	s.True(s.orch.State().Flags.DepositError)

	_, err = s.orch.Deposit(ctx, uniVault.VaultAddress, "2")
	s.Require().NoError(err)
	s.False(s.orch.State().Flags.DepositError)
	s.Equal(notify.MessageDepositSucceeded, s.nextMessage().Text)
	s.Equal(2, s.chain.sentCount())
}

func (s *OrchestratorSuite) TestDepositForDifferentAmountThanSigned() {
	ctx := context.Background()
	_, err := s.orch.PermitDeposit(ctx, aaveVault.VaultAddress, "1")
	s.Require().NoError(err)

	_, err = s.orch.Deposit(ctx, aaveVault.VaultAddress, "2")
	s.Require().ErrorIs(err, types.ErrPermitMismatch)
	_, err = s.orch.Deposit(ctx, uniVault.VaultAddress, "1")
	s.Require().ErrorIs(err, types.ErrPermitMismatch)
	s.NotNil(s.orch.Signature())
	s.Equal(0, s.chain.sentCount())
}

func (s *OrchestratorSuite) TestUnknownVault() {
	unknown := common.HexToAddress("0xdead")
	_, err := s.orch.Vault(unknown)
	s.ErrorIs(err, types.ErrVaultNotFound)
	_, err = s.orch.Deposit(context.Background(), unknown, "1")
	s.ErrorIs(err, types.ErrVaultNotFound)
	_, err = s.orch.Withdraw(context.Background(), unknown)
	s.ErrorIs(err, types.ErrVaultNotFound)
	_, err = s.orch.CheckApproval(context.Background(), unknown, "")
	s.ErrorIs(err, types.ErrVaultNotFound)
}

func (s *OrchestratorSuite) TestSyncKeepsSnapshotOfFailingVault() {
	ctx := context.Background()
	account := s.chain.Address()
	s.chain.balances[balanceKey{aaveVault.VaultAddress, account}] = sdkmath.NewInt(5)
	s.chain.balances[balanceKey{uniVault.VaultAddress, account}] = sdkmath.NewInt(7)
	s.chain.earned[uniVault.VaultAddress] = sdkmath.NewInt(3)
	s.Require().NoError(s.orch.Sync(ctx))

	before := s.orch.State().Snapshot(uniVault.VaultAddress)
	s.chain.balances[balanceKey{uniVault.VaultAddress, account}] = sdkmath.NewInt(100)
	s.chain.readErr[uniVault.StrategyAddress] = errors.New("connection reset")

	err := s.orch.Sync(ctx)
	s.Require().ErrorIs(err, types.ErrSync)
	s.Equal(before, s.orch.State().Snapshot(uniVault.VaultAddress))

	views := s.orch.Vaults()
	s.Require().Len(views, 2)
	s.Equal(aaveVault.VaultAddress, views[0].VaultAddress)
	s.True(views[0].Balances.UserDeposited.Equal(sdkmath.NewInt(5)))
	s.True(views[1].Balances.PendingRewards.Equal(sdkmath.NewInt(3)))
}

func (s *OrchestratorSuite) TestWithdrawAndClaimRefresh() {
	ctx := context.Background()
	account := s.chain.Address()
	s.chain.balances[balanceKey{aaveVault.VaultAddress, account}] = sdkmath.NewInt(5)
	s.chain.earned[aaveVault.VaultAddress] = sdkmath.NewInt(9)
	s.Require().NoError(s.orch.Sync(ctx))

	_, err := s.orch.Withdraw(ctx, aaveVault.VaultAddress)
	s.Require().NoError(err)
	s.True(s.orch.State().Snapshot(aaveVault.VaultAddress).UserDeposited.IsZero())

	_, err = s.orch.Claim(ctx, aaveVault.VaultAddress)
	s.Require().NoError(err)
	s.True(s.orch.State().Snapshot(aaveVault.VaultAddress).PendingRewards.IsZero())
	s.False(s.orch.State().Flags.DepositError)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
}
