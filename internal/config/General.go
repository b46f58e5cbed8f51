package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultApprovalTarget is the approval target deployment used by the original vault set.
	DefaultApprovalTarget = "0x996BEA13192f358d9F16f4665D4c4A7fCF342b93"

	// ForkDepositGasLimit and ForkApproveGasLimit replace gas estimation on a mainnet fork.
	ForkDepositGasLimit uint64 = 850000
	ForkApproveGasLimit uint64 = 350000
	// ForkChainID is the chain id signed into permits on a mainnet fork.
	ForkChainID int64 = 1337
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// KeystoreDir is the path to the go-ethereum keystore holding the account key.
	KeystoreDir string
	// AccountAddress is the connected account, which must exist in the keystore.
	AccountAddress common.Address
	// AccountPassword unlocks the account for signing.
	AccountPassword string

	// ApprovalTarget is the contract that consumes permit signatures.
	ApprovalTarget common.Address

	// UseMainnetFork selects fixed gas limits and the fork chain id.
	UseMainnetFork bool

	// VaultsFile optionally replaces the embedded vault list.
	VaultsFile string

	// SyncSchedule is the cron spec for the periodic balance refresh.
	SyncSchedule string

	// RPCRateLimit caps contract reads per second.
	RPCRateLimit float64

	// TxTimeout bounds a single submit-and-confirm round.
	TxTimeout time.Duration

	// WebHost is the listen address of the HTTP API.
	WebHost string
	// WebPort is the port of the HTTP API.
	WebPort string
	// WebAPIToken authorizes write requests. Writes are refused while it is empty.
	WebAPIToken string
	// WebAllowedOrigins may call write routes from a browser.
	WebAllowedOrigins []string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	KeystoreDir, err = getEnv("KEYSTORE_DIR")
	if err != nil {
		return err
	}

	account, err := getEnvAsAddress("ACCOUNT_ADDRESS")
	if err != nil {
		return err
	}
	AccountAddress = account

	AccountPassword, err = getEnv("ACCOUNT_PASSWORD")
	if err != nil {
		return err
	}

	approvalTarget := getEnvOrDefault("APPROVAL_TARGET_ADDRESS", DefaultApprovalTarget)
	if !common.IsHexAddress(approvalTarget) {
		return errors.New("environment variable APPROVAL_TARGET_ADDRESS must be a hex address, got: " + approvalTarget)
	}
	ApprovalTarget = common.HexToAddress(approvalTarget)

	UseMainnetFork, err = getEnvAsBool("USE_MAINNET_FORK", false)
	if err != nil {
		return err
	}

	VaultsFile = getEnvOrDefault("VAULTS_FILE", "")
	SyncSchedule = getEnvOrDefault("SYNC_SCHEDULE", "@every 1m")
	WebHost = getEnvOrDefault("WEB_HOST", "127.0.0.1")
	WebPort = getEnvOrDefault("WEB_PORT", "8080")
	WebAPIToken = getEnvOrDefault("WEB_API_TOKEN", "")
	WebAllowedOrigins = getEnvAsList("WEB_ALLOWED_ORIGINS")
	if WebAPIToken == "" {
		log.Warn().Msg("WEB_API_TOKEN is not set, the HTTP API is read-only")
	}

	RPCRateLimit, err = getEnvAsFloat64("RPC_RATE_LIMIT", 10)
	if err != nil {
		return err
	}
	if RPCRateLimit <= 0 {
		return errors.New("environment variable RPC_RATE_LIMIT must be positive")
	}

	TxTimeout, err = getEnvAsDuration("TX_TIMEOUT", 10*time.Minute)
	if err != nil {
		return err
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	// Expand the tilde (~) in the keystore directory path to the user's home directory.
	if strings.HasPrefix(KeystoreDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		KeystoreDir = filepath.Join(home, KeystoreDir[2:])
	}

	log.Debug().
		Str("Account", AccountAddress.Hex()).
		Str("ApprovalTarget", ApprovalTarget.Hex()).
		Bool("UseMainnetFork", UseMainnetFork).
		Str("SyncSchedule", SyncSchedule).
		Msg("Configuration loaded successfully.")

	return nil
}

// DepositGasLimit returns the fixed deposit gas limit, or 0 to use estimation.
func DepositGasLimit() uint64 {
	if UseMainnetFork {
		return ForkDepositGasLimit
	}
	return 0
}

// ApproveGasLimit returns the fixed approval gas limit, or 0 to use estimation.
func ApproveGasLimit() uint64 {
	if UseMainnetFork {
		return ForkApproveGasLimit
	}
	return 0
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getEnvAsAddress retrieves a required environment variable as an account address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}

// getEnvAsList splits a comma separated environment variable, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnvOrDefault(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsBool retrieves an optional environment variable as a bool.
func getEnvAsBool(key string, fallback bool) (bool, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64 retrieves an optional environment variable as a float64.
func getEnvAsFloat64(key string, fallback float64) (float64, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an optional environment variable as a time.Duration.
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
