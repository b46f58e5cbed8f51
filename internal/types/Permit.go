/*

This file contains the typed-data schema for the approval target permit and the signature it yields.

The schema is fixed: a payload is only usable once Validate has accepted it.

*/

package types

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// PermitDomainName is the EIP-712 domain name of the approval target contract.
	PermitDomainName = "ApprovalTarget"
	// PermitDomainVersion is the EIP-712 domain version of the approval target contract.
	PermitDomainVersion = "1"
	// PermitPrimaryType is the struct name signed by the account.
	PermitPrimaryType = "PermitAndTransferFrom"
	// PermitValidity is how long a permit stays valid past the current chain timestamp.
	PermitValidity int64 = 12 * 60 * 60
)

// permitFields is the ordered field list of PermitAndTransferFrom.
var permitFields = []apitypes.Type{
	{Name: "erc20", Type: "address"},
	{Name: "owner", Type: "address"},
	{Name: "spender", Type: "address"},
	{Name: "value", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// PermitDomain is the EIP-712 domain of a permit.
type PermitDomain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chain_id"`
	VerifyingContract common.Address `json:"verifying_contract"`
}

// PermitMessage is the PermitAndTransferFrom struct.
type PermitMessage struct {
	Token    common.Address `json:"erc20"`
	Owner    common.Address `json:"owner"`
	Spender  common.Address `json:"spender"` // The vault receiving the deposit
	Value    sdkmath.Int    `json:"value"`
	Nonce    sdkmath.Int    `json:"nonce"`
	Deadline int64          `json:"deadline"`
}

// PermitPayload is a complete structured-signing request.
type PermitPayload struct {
	Domain  PermitDomain  `json:"domain"`
	Message PermitMessage `json:"message"`
}

// Validate rejects payloads with missing or malformed fields.
func (p PermitPayload) Validate() error {
	if p.Domain.Name != PermitDomainName {
		return fmt.Errorf("%w: domain name %q", ErrInvalidPayload, p.Domain.Name)
	}
	if p.Domain.Version != PermitDomainVersion {
		return fmt.Errorf("%w: domain version %q", ErrInvalidPayload, p.Domain.Version)
	}
	if p.Domain.ChainID == nil || p.Domain.ChainID.Sign() <= 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrInvalidPayload)
	}
	if p.Domain.VerifyingContract == (common.Address{}) {
		return fmt.Errorf("%w: verifying contract is the zero address", ErrInvalidPayload)
	}
	if p.Message.Token == (common.Address{}) {
		return fmt.Errorf("%w: token is the zero address", ErrInvalidPayload)
	}
	if p.Message.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner is the zero address", ErrInvalidPayload)
	}
	if p.Message.Spender == (common.Address{}) {
		return fmt.Errorf("%w: spender is the zero address", ErrInvalidPayload)
	}
	if p.Message.Value.IsNil() || !p.Message.Value.IsPositive() {
		return fmt.Errorf("%w: value must be positive", ErrInvalidPayload)
	}
	if p.Message.Nonce.IsNil() || p.Message.Nonce.IsNegative() {
		return fmt.Errorf("%w: nonce must be non-negative", ErrInvalidPayload)
	}
	if p.Message.Deadline <= 0 {
		return fmt.Errorf("%w: deadline must be positive", ErrInvalidPayload)
	}
	return nil
}

// TypedData renders the payload in the domain/types/message form wallets sign.
func (p PermitPayload) TypedData() apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    domainFields,
			PermitPrimaryType: permitFields,
		},
		PrimaryType: PermitPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              p.Domain.Name,
			Version:           p.Domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(p.Domain.ChainID)),
			VerifyingContract: p.Domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"erc20":    p.Message.Token.Hex(),
			"owner":    p.Message.Owner.Hex(),
			"spender":  p.Message.Spender.Hex(),
			"value":    p.Message.Value.BigInt(),
			"nonce":    p.Message.Nonce.BigInt(),
			"deadline": big.NewInt(p.Message.Deadline),
		},
	}
}

// PermitSignature is a signed permit waiting to be consumed by a deposit.
type PermitSignature struct {
	R        [32]byte       `json:"r"`
	S        [32]byte       `json:"s"`
	V        uint8          `json:"v"`
	Deadline int64          `json:"deadline"`
	Vault    common.Address `json:"vault"` // Spender the permit was signed for
	Value    sdkmath.Int    `json:"value"` // Amount the permit was signed for
}

// SplitSignature turns a 65 byte [R || S || V] signature into a PermitSignature.
// V is normalised to the 27/28 form expected by ecrecover.
func SplitSignature(raw []byte, deadline int64, vault common.Address, value sdkmath.Int) (*PermitSignature, error) {
	if len(raw) != 65 {
		return nil, errors.Join(ErrInvalidPayload, fmt.Errorf("signature must be 65 bytes, got %d", len(raw)))
	}
	sig := &PermitSignature{
		V:        raw[64],
		Deadline: deadline,
		Vault:    vault,
		Value:    value,
	}
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	if sig.V < 27 {
		sig.V += 27
	}
	if sig.V != 27 && sig.V != 28 {
		return nil, errors.Join(ErrInvalidPayload, fmt.Errorf("invalid recovery id %d", raw[64]))
	}
	return sig, nil
}
