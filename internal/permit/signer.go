package permit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/types"
)

// TypedDataSigner is the wallet side of permit signing.
type TypedDataSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

// Clock returns the chain-relative current time.
type Clock interface {
	CurrentTimestamp(ctx context.Context) (int64, error)
}

// NonceReader reads the approval target permit nonce.
type NonceReader interface {
	Nonce(ctx context.Context, approvalTarget, owner common.Address) (sdkmath.Int, error)
}

// Signer obtains permit signatures and keeps the latest one in the session.
type Signer struct {
	wallet         TypedDataSigner
	clock          Clock
	nonces         NonceReader
	store          *session.Store
	approvalTarget common.Address
	domainChainID  *big.Int // nil uses the wallet chain id
	log            zerolog.Logger
}

// NewSigner creates a permit signer. A positive domainChainID replaces the wallet chain id in the
// typed-data domain, which a local mainnet fork requires.
func NewSigner(wallet TypedDataSigner, clock Clock, nonces NonceReader, store *session.Store, approvalTarget common.Address, domainChainID int64) *Signer {
	s := &Signer{
		wallet:         wallet,
		clock:          clock,
		nonces:         nonces,
		store:          store,
		approvalTarget: approvalTarget,
		log:            logger.GetForComponent("permit_signer"),
	}
	if domainChainID > 0 {
		s.domainChainID = big.NewInt(domainChainID)
	}
	return s
}

// BuildPayload assembles and validates the PermitAndTransferFrom payload.
func BuildPayload(account, vault, token, approvalTarget common.Address, amount sdkmath.Int, chainID *big.Int, nonce sdkmath.Int, deadline int64) (types.PermitPayload, error) {
	payload := types.PermitPayload{
		Domain: types.PermitDomain{
			Name:              types.PermitDomainName,
			Version:           types.PermitDomainVersion,
			ChainID:           chainID,
			VerifyingContract: approvalTarget,
		},
		Message: types.PermitMessage{
			Token:    token,
			Owner:    account,
			Spender:  vault,
			Value:    amount,
			Nonce:    nonce,
			Deadline: deadline,
		},
	}
	if err := payload.Validate(); err != nil {
		return types.PermitPayload{}, err
	}
	return payload, nil
}

// Deadline returns the permit deadline for the given chain timestamp.
func Deadline(timestamp int64) int64 {
	return timestamp + types.PermitValidity
}

// RequestSignature asks the wallet to sign a permit for depositing amount into v.
//
// Any previously held signature is abandoned when the request starts. Nothing is stored unless the
// wallet returns a well-formed signature, in which case depositingProcess turns true.
func (s *Signer) RequestSignature(ctx context.Context, v types.VaultRecord, amount sdkmath.Int) (*types.PermitSignature, error) {
	_, err := s.store.Update(func(st types.EarnState) (types.EarnState, error) {
		if st.Flags.CurrentlyDepositing || st.Flags.CurrentlyApproving {
			return st, types.ErrOperationInProgress
		}
		flags := st.Flags
		flags.DepositingProcess = false
		return st.WithoutSignature().WithFlags(flags), nil
	})
	if err != nil {
		s.log.Warn().Str("vault", v.VaultAddress.Hex()).Msg("Permit request rejected, an operation is in progress")
		return nil, err
	}

	account := s.wallet.Address()

	timestamp, err := s.clock.CurrentTimestamp(ctx)
	if err != nil {
		return nil, errors.Join(types.ErrSync, fmt.Errorf("failed to read chain timestamp: %w", err))
	}
	nonce, err := s.nonces.Nonce(ctx, s.approvalTarget, account)
	if err != nil {
		return nil, errors.Join(types.ErrSync, fmt.Errorf("failed to read permit nonce: %w", err))
	}

	chainID := s.domainChainID
	if chainID == nil {
		chainID = s.wallet.ChainID()
	}

	deadline := Deadline(timestamp)
	payload, err := BuildPayload(account, v.VaultAddress, v.Asset.ContractAddress, s.approvalTarget, amount, chainID, nonce, deadline)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("vault", v.VaultAddress.Hex()).
		Str("amount", amount.String()).
		Str("nonce", nonce.String()).
		Int64("deadline", deadline).
		Msg("Requesting permit signature")

	raw, err := s.wallet.SignTypedData(ctx, payload.TypedData())
	if err != nil {
		s.log.Warn().Err(err).Str("vault", v.VaultAddress.Hex()).Msg("Permit signature declined")
		return nil, errors.Join(types.ErrSigningDeclined, err)
	}

	sig, err := types.SplitSignature(raw, deadline, v.VaultAddress, amount)
	if err != nil {
		s.log.Warn().Err(err).Msg("Wallet returned a malformed signature")
		return nil, errors.Join(types.ErrSigningDeclined, err)
	}

	// A deposit or approval may have been admitted while the wallet was signing.
	_, err = s.store.Update(func(st types.EarnState) (types.EarnState, error) {
		if st.Flags.CurrentlyDepositing || st.Flags.CurrentlyApproving {
			return st, types.ErrOperationInProgress
		}
		flags := st.Flags
		flags.DepositingProcess = true
		return st.WithSignature(sig).WithFlags(flags), nil
	})
	if err != nil {
		s.log.Warn().Str("vault", v.VaultAddress.Hex()).Msg("Permit signature discarded, an operation started while signing")
		return nil, err
	}

	s.log.Info().Str("vault", v.VaultAddress.Hex()).Msg("Permit signature stored")
	return sig, nil
}
