package permit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/utils"
)

var approvalTarget = common.HexToAddress("0x996BEA13192f358d9F16f4665D4c4A7fCF342b93")

var testVault = types.VaultRecord{
	VaultAddress:    common.HexToAddress("0x6874e9A0c6b5592a30d53297E933dE870deFFd17"),
	StrategyAddress: common.HexToAddress("0x2222222222222222222222222222222222222222"),
	Asset: types.Asset{
		Name:            "Aave Token",
		Symbol:          "AAVE",
		Decimals:        18,
		ContractAddress: common.HexToAddress("0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"),
	},
}

type keyWallet struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	decline error
	lastTD  apitypes.TypedData
	calls   int
	onSign  func()
}

func (w *keyWallet) Address() common.Address { return crypto.PubkeyToAddress(w.key.PublicKey) }
func (w *keyWallet) ChainID() *big.Int       { return w.chainID }

func (w *keyWallet) SignTypedData(_ context.Context, td apitypes.TypedData) ([]byte, error) {
	w.calls++
	w.lastTD = td
	if w.onSign != nil {
		w.onSign()
	}
	if w.decline != nil {
		return nil, w.decline
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(hash, w.key)
}

type fixedClock struct {
	ts  int64
	err error
}

func (c fixedClock) CurrentTimestamp(context.Context) (int64, error) { return c.ts, c.err }

type fixedNonce struct {
	nonce sdkmath.Int
	err   error
}

func (n fixedNonce) Nonce(context.Context, common.Address, common.Address) (sdkmath.Int, error) {
	return n.nonce, n.err
}

type SignerSuite struct {
	suite.Suite
	wallet *keyWallet
	store  *session.Store
	signer *Signer
}

func (s *SignerSuite) SetupTest() {
	key, err := crypto.GenerateKey()
	s.Require().NoError(err)
	s.wallet = &keyWallet{key: key, chainID: big.NewInt(1)}
	s.store = session.NewStore(types.NewEarnState([]types.VaultRecord{testVault}))
	s.signer = NewSigner(s.wallet, fixedClock{ts: 1_700_000_000}, fixedNonce{nonce: sdkmath.NewInt(4)}, s.store, approvalTarget, 0)
}

func TestSignerSuite(t *testing.T) {
	suite.Run(t, new(SignerSuite))
}

func (s *SignerSuite) TestSignatureStoredAndRecoverable() {
	amount, err := utils.ParseUnits("1.5", testVault.Asset.Decimals)
	s.Require().NoError(err)
	s.Equal("1500000000000000000", amount.String())

	sig, err := s.signer.RequestSignature(context.Background(), testVault, amount)
	s.Require().NoError(err)
	s.Equal(int64(1_700_000_000+43200), sig.Deadline)
	s.Equal(testVault.VaultAddress, sig.Vault)
	s.True(sig.Value.Equal(amount))

	st := s.store.Snapshot()
	s.Require().NotNil(st.Signature)
	s.Equal(sig, st.Signature)
	s.True(st.Flags.DepositingProcess)

	hash, _, err := apitypes.TypedDataAndHash(s.wallet.lastTD)
	s.Require().NoError(err)
	raw := append(append(append([]byte{}, sig.R[:]...), sig.S[:]...), sig.V-27)
	pub, err := crypto.SigToPub(hash, raw)
	s.Require().NoError(err)
	s.Equal(s.wallet.Address(), crypto.PubkeyToAddress(*pub))
}

func (s *SignerSuite) TestTypedDataContents() {
	_, err := s.signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(10))
	s.Require().NoError(err)

	td := s.wallet.lastTD
	s.Equal("ApprovalTarget", td.Domain.Name)
	s.Equal("1", td.Domain.Version)
	s.Equal(approvalTarget.Hex(), td.Domain.VerifyingContract)
	s.Equal(int64(1), (*big.Int)(td.Domain.ChainId).Int64())
	s.Equal("PermitAndTransferFrom", td.PrimaryType)
	s.Equal(testVault.Asset.ContractAddress.Hex(), td.Message["erc20"])
	s.Equal(testVault.VaultAddress.Hex(), td.Message["spender"])
	s.Equal(big.NewInt(4), td.Message["nonce"])
	s.Equal(big.NewInt(1_700_043_200), td.Message["deadline"])
}

func (s *SignerSuite) TestForkDomainChainID() {
	signer := NewSigner(s.wallet, fixedClock{ts: 1}, fixedNonce{nonce: sdkmath.ZeroInt()}, s.store, approvalTarget, 1337)
	_, err := signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(10))
	s.Require().NoError(err)
	s.Equal(int64(1337), (*big.Int)(s.wallet.lastTD.Domain.ChainId).Int64())
}

func (s *SignerSuite) TestDeclinedStoresNothing() {
	s.wallet.decline = errors.New("user rejected request")

	_, err := s.signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(10))
	s.Require().ErrorIs(err, types.ErrSigningDeclined)

	st := s.store.Snapshot()
	s.Nil(st.Signature)
	s.False(st.Flags.DepositingProcess)
	s.False(st.Flags.DepositError)
}

func (s *SignerSuite) TestNewRequestAbandonsPriorSignature() {
	_, err := s.signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(10))
	s.Require().NoError(err)

	s.wallet.decline = errors.New("user rejected request")
	_, err = s.signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(20))
	s.Require().Error(err)

	st := s.store.Snapshot()
	s.Nil(st.Signature)
	s.False(st.Flags.DepositingProcess)
}

func (s *SignerSuite) TestRejectedWhileDepositing() {
	s.store.Apply(func(st types.EarnState) types.EarnState {
		return st.WithFlags(types.OperationFlags{CurrentlyDepositing: true})
	})

	_, err := s.signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(10))
	s.Require().ErrorIs(err, types.ErrOperationInProgress)
	s.Equal(0, s.wallet.calls)
}

func (s *SignerSuite) TestDepositAdmittedWhileSigningDiscardsSignature() {
	held := &types.PermitSignature{V: 27, Vault: testVault.VaultAddress, Value: sdkmath.NewInt(5)}
	s.wallet.onSign = func() {
		s.store.Apply(func(st types.EarnState) types.EarnState {
			return st.WithSignature(held).WithFlags(types.OperationFlags{CurrentlyDepositing: true, DepositingProcess: true})
		})
	}

	_, err := s.signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(10))
	s.Require().ErrorIs(err, types.ErrOperationInProgress)

	st := s.store.Snapshot()
	s.Same(held, st.Signature)
	s.True(st.Flags.CurrentlyDepositing)
}

func (s *SignerSuite) TestNonceFailureIsSyncError() {
	signer := NewSigner(s.wallet, fixedClock{ts: 1}, fixedNonce{err: errors.New("timeout")}, s.store, approvalTarget, 0)
	_, err := signer.RequestSignature(context.Background(), testVault, sdkmath.NewInt(10))
	s.Require().ErrorIs(err, types.ErrSync)
	s.Equal(0, s.wallet.calls)
}

func (s *SignerSuite) TestInvalidAmountRejectedBeforeSigning() {
	_, err := s.signer.RequestSignature(context.Background(), testVault, sdkmath.ZeroInt())
	s.Require().ErrorIs(err, types.ErrInvalidPayload)
	s.Equal(0, s.wallet.calls)
}

func TestBuildPayloadRejectsZeroAddresses(t *testing.T) {
	_, err := BuildPayload(common.Address{}, testVault.VaultAddress, testVault.Asset.ContractAddress, approvalTarget,
		sdkmath.NewInt(1), big.NewInt(1), sdkmath.ZeroInt(), 100)
	require.ErrorIs(t, err, types.ErrInvalidPayload)
}

func TestDeadline(t *testing.T) {
	assert.Equal(t, int64(43200), Deadline(0))
	assert.Equal(t, int64(1_700_043_200), Deadline(1_700_000_000))
}
