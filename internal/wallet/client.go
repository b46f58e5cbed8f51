package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
)

var (
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrKeyNotFound          = errors.New("signing key not found")
	ErrRPCConnectionFailed  = errors.New("RPC connection failed")
	ErrTxBuildFailed        = errors.New("transaction build failed")
	ErrTxSignFailed         = errors.New("transaction signing failed")
	ErrTxBroadcastFailed    = errors.New("transaction broadcast failed")
	ErrGasEstimationFailed  = errors.New("gas estimation failed")
	ErrTypedDataSignFailed  = errors.New("typed data signing failed")
	ErrConfirmationTimedOut = errors.New("transaction confirmation timed out")
)

// Backend is the subset of *ethclient.Client the wallet needs.
type Backend interface {
	ethereum.ChainIDReader
	ethereum.GasEstimator
	ethereum.GasPricer1559
	ethereum.TransactionSender
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Options tune fee and confirmation behaviour of a SigningClient.
type Options struct {
	// ChainID overrides the chain id reported by the node, as needed on a local fork.
	ChainID int64
	// GasFeeCapAdjustmentRate multiplies the base fee: feeCap = baseFee * rate + tip.
	GasFeeCapAdjustmentRate int64
	// GasLimitAdjustmentRate scales estimated gas.
	GasLimitAdjustmentRate float64
	// ConfirmationTimeout bounds WaitForReceipt.
	ConfirmationTimeout time.Duration
	// PollInterval is the receipt polling period.
	PollInterval time.Duration
}

// DefaultOptions returns the fee settings used against live networks.
func DefaultOptions() Options {
	return Options{
		GasFeeCapAdjustmentRate: 2,
		GasLimitAdjustmentRate:  1.2,
		ConfirmationTimeout:     10 * time.Minute,
		PollInterval:            time.Second,
	}
}

// SigningClient signs typed data and transactions for a single keystore account.
type SigningClient struct {
	backend  Backend
	keystore *keystore.KeyStore
	account  accounts.Account
	password string
	chainID  *big.Int
	opts     Options
	log      zerolog.Logger

	// sendMu serializes nonce assignment, signing and broadcast.
	sendMu sync.Mutex
}

// OpenKeystore opens a keystore directory with the standard scrypt parameters.
func OpenKeystore(dir string) *keystore.KeyStore {
	return keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
}

// NewSigningClient creates a signing client for address, which must be present in ks.
func NewSigningClient(ctx context.Context, backend Backend, ks *keystore.KeyStore, address common.Address, password string, opts Options) (*SigningClient, error) {
	if backend == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("backend cannot be nil"))
	}
	if ks == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("keystore cannot be nil"))
	}
	if opts.GasFeeCapAdjustmentRate <= 0 || opts.GasLimitAdjustmentRate <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("gas adjustment rates must be positive"))
	}
	if opts.PollInterval <= 0 || opts.ConfirmationTimeout <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("poll interval and confirmation timeout must be positive"))
	}

	account, err := ks.Find(accounts.Account{Address: address})
	if err != nil {
		return nil, errors.Join(ErrKeyNotFound, fmt.Errorf("account %s: %w", address.Hex(), err))
	}

	chainID := big.NewInt(opts.ChainID)
	if opts.ChainID <= 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, errors.Join(ErrRPCConnectionFailed, fmt.Errorf("failed to retrieve chain ID: %w", err))
		}
	}

	client := &SigningClient{
		backend:  backend,
		keystore: ks,
		account:  account,
		password: password,
		chainID:  chainID,
		opts:     opts,
		log:      logger.GetForComponent("wallet_client"),
	}

	client.log.Info().
		Str("address", address.Hex()).
		Str("chainID", chainID.String()).
		Msg("Signing client initialized")

	return client, nil
}

// Address returns the connected account.
func (s *SigningClient) Address() common.Address {
	return s.account.Address
}

// ChainID returns the chain id used for transactions and permit domains.
func (s *SigningClient) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// CurrentTimestamp returns the timestamp of the latest block.
func (s *SigningClient) CurrentTimestamp(ctx context.Context) (int64, error) {
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.Join(ErrRPCConnectionFailed, fmt.Errorf("failed to get header: %w", err))
	}
	return int64(head.Time), nil
}

// SignTypedData hashes td per EIP-712 and signs the digest with the account key.
// The returned signature is 65 bytes with a 0/1 recovery id.
func (s *SigningClient) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(ErrTypedDataSignFailed, err)
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, errors.Join(ErrTypedDataSignFailed, fmt.Errorf("failed to hash typed data: %w", err))
	}
	sig, err := s.keystore.SignHashWithPassphrase(s.account, s.password, hash)
	if err != nil {
		s.log.Warn().Err(err).Str("primaryType", td.PrimaryType).Msg("Typed data signing refused")
		return nil, errors.Join(ErrTypedDataSignFailed, err)
	}
	s.log.Debug().Str("primaryType", td.PrimaryType).Msg("Typed data signed")
	return sig, nil
}
