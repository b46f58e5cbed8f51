package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// TxRequest is an unsigned contract call.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // 0 means estimate
	Method   string // For logs only
}

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	GasUsed     uint64
	BlockNumber uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ethtypes.ReceiptStatusSuccessful
}

// SendTransaction builds, signs and broadcasts req. It returns once the node accepted the transaction.
// Concurrent calls are serialized so each one reads the pending nonce after the previous broadcast.
func (s *SigningClient) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if req.To == (common.Address{}) {
		return common.Hash{}, errors.Join(ErrTxBuildFailed, errors.New("contract address cannot be zero address"))
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	tx, err := s.buildUnsignedTx(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}

	signedTx, err := s.keystore.SignTxWithPassphrase(s.account, s.password, tx, s.chainID)
	if err != nil {
		return common.Hash{}, errors.Join(ErrTxSignFailed, err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		s.log.Error().Err(err).Str("method", req.Method).Msg("Failed to broadcast transaction")
		return common.Hash{}, errors.Join(ErrTxBroadcastFailed, err)
	}

	s.log.Info().
		Str("txHash", signedTx.Hash().Hex()).
		Str("method", req.Method).
		Str("to", req.To.Hex()).
		Uint64("nonce", signedTx.Nonce()).
		Uint64("gas", signedTx.Gas()).
		Msg("Transaction broadcast")

	return signedTx.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined, the context ends or the confirmation timeout elapses.
func (s *SigningClient) WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	timeout := time.After(s.opts.ConfirmationTimeout)

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			out := &Receipt{
				TxHash:  hash,
				Status:  receipt.Status,
				GasUsed: receipt.GasUsed,
			}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.log.Debug().Err(err).Str("txHash", hash.Hex()).Msg("Receipt query failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("%w: %s", ErrConfirmationTimedOut, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (s *SigningClient) buildUnsignedTx(ctx context.Context, req TxRequest) (*ethtypes.Transaction, error) {
	from := s.account.Address

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, errors.Join(ErrTxBuildFailed, fmt.Errorf("failed to get nonce: %w", err))
	}

	gasTipCap, gasFeeCap, err := s.suggestGasFees(ctx)
	if err != nil {
		return nil, errors.Join(ErrTxBuildFailed, err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		estimated, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      from,
			To:        &req.To,
			GasFeeCap: gasFeeCap,
			GasTipCap: gasTipCap,
			Value:     value,
			Data:      req.Data,
		})
		if err != nil {
			return nil, errors.Join(ErrGasEstimationFailed, err)
		}
		gasLimit = uint64(float64(estimated) * s.opts.GasLimitAdjustmentRate)
	}

	to := req.To
	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	}), nil
}

// suggestGasFees returns the tip cap from the node and feeCap = baseFee * rate + tip.
func (s *SigningClient) suggestGasFees(ctx context.Context) (gasTipCap, gasFeeCap *big.Int, err error) {
	gasTipCap, err = s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}

	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}

	gasFeeCap = new(big.Int).Mul(baseFee, big.NewInt(s.opts.GasFeeCapAdjustmentRate))
	gasFeeCap.Add(gasFeeCap, gasTipCap)
	return gasTipCap, gasFeeCap, nil
}
