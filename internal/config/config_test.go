package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadVaultsDefault(t *testing.T) {
	vaults, err := LoadVaults("")
	require.NoError(t, err)
	require.Len(t, vaults, 10)

	first := vaults[0]
	assert.Equal(t, common.HexToAddress("0x6874e9A0c6b5592a30d53297E933dE870deFFd17"), first.VaultAddress)
	assert.Equal(t, common.HexToAddress("0xd9788f3931Ede4D5018184E198699dC6d66C1915"), first.StrategyAddress)
	assert.Equal(t, "AAVE", first.Asset.Symbol)
	assert.Equal(t, 18, first.Asset.Decimals)
	assert.Equal(t, int64(1209600), first.Duration)

	last := vaults[len(vaults)-1]
	assert.Equal(t, "UNI-V2", last.Asset.Symbol)
	assert.Equal(t, int64(2592000), last.Duration)
}

func TestLoadVaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaults.yaml")
	doc := `
vaults:
  - vault_address: "0x0000000000000000000000000000000000000001"
    strategy_address: "0x0000000000000000000000000000000000000002"
    reward_token: "0x0000000000000000000000000000000000000003"
    pool_start_time: 100
    pool_end_time: 200
    duration: 100
    asset:
      name: "Test"
      symbol: "TST"
      decimals: 6
      contract_address: "0x0000000000000000000000000000000000000004"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	vaults, err := LoadVaults(path)
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.Equal(t, 6, vaults[0].Asset.Decimals)
	assert.True(t, vaults[0].IsActive(150))
	assert.False(t, vaults[0].IsActive(200))
}

func TestParseVaultsRejectsInvalidEntries(t *testing.T) {
	tests := map[string]string{
		"empty":       "vaults: []",
		"bad address": "vaults:\n  - vault_address: \"nope\"\n",
		"decimals": `
vaults:
  - vault_address: "0x0000000000000000000000000000000000000001"
    strategy_address: "0x0000000000000000000000000000000000000002"
    reward_token: "0x0000000000000000000000000000000000000003"
    pool_start_time: 1
    pool_end_time: 2
    duration: 1
    asset: {symbol: "X", decimals: 19, contract_address: "0x0000000000000000000000000000000000000004"}
`,
		"duplicate": `
vaults:
  - vault_address: "0x0000000000000000000000000000000000000001"
    strategy_address: "0x0000000000000000000000000000000000000002"
    reward_token: "0x0000000000000000000000000000000000000003"
    pool_start_time: 1
    pool_end_time: 2
    duration: 1
    asset: {symbol: "X", decimals: 18, contract_address: "0x0000000000000000000000000000000000000004"}
  - vault_address: "0x0000000000000000000000000000000000000001"
    strategy_address: "0x0000000000000000000000000000000000000002"
    reward_token: "0x0000000000000000000000000000000000000003"
    pool_start_time: 1
    pool_end_time: 2
    duration: 1
    asset: {symbol: "X", decimals: 18, contract_address: "0x0000000000000000000000000000000000000004"}
`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseVaults([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidVaultConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("KEYSTORE_DIR", "/tmp/keystore")
	t.Setenv("ACCOUNT_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("ACCOUNT_PASSWORD", "secret")
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")
	t.Setenv("USE_MAINNET_FORK", "true")
	t.Setenv("TX_TIMEOUT", "90s")
	t.Setenv("APPROVAL_TARGET_ADDRESS", "")
	t.Setenv("WEB_HOST", "")
	t.Setenv("WEB_ALLOWED_ORIGINS", "http://localhost:3000, ,https://app.example")

	require.NoError(t, LoadConfig())

	assert.Equal(t, common.HexToAddress(DefaultApprovalTarget), ApprovalTarget)
	assert.True(t, UseMainnetFork)
	assert.Equal(t, ForkDepositGasLimit, DepositGasLimit())
	assert.Equal(t, ForkApproveGasLimit, ApproveGasLimit())
	assert.Equal(t, 90*time.Second, TxTimeout)
	assert.Equal(t, "@every 1m", SyncSchedule)
	assert.Equal(t, "http://localhost:8545", EthRPC)
	assert.Equal(t, "127.0.0.1", WebHost)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example"}, WebAllowedOrigins)
}

func TestLoadConfigRequiresAccount(t *testing.T) {
	t.Setenv("KEYSTORE_DIR", "/tmp/keystore")
	t.Setenv("ACCOUNT_ADDRESS", "not-an-address")
	t.Setenv("ACCOUNT_PASSWORD", "secret")
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")

	assert.Error(t, LoadConfig())
}

func TestLoadDatabaseConfigDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "earn")
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_SSLMODE", "")

	LoadDatabaseConfig()

	assert.Equal(t, "db.internal", DBHost)
	assert.Equal(t, "earn", DBName)
	assert.Equal(t, 5432, DBPort)
	assert.Equal(t, "disable", DBSSLMode)
}
