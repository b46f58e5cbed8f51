/*

This file loads the vault list. The default list is embedded and covers the original deployment;
VAULTS_FILE points at a YAML document of the same shape to replace it.

*/

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/earn/internal/types"
)

//go:embed vaults.yaml
var defaultVaultsYAML []byte

var ErrInvalidVaultConfig = errors.New("invalid vault configuration")

type vaultsDocument struct {
	Vaults []vaultEntry `yaml:"vaults"`
}

type vaultEntry struct {
	VaultAddress    string     `yaml:"vault_address"`
	StrategyAddress string     `yaml:"strategy_address"`
	RewardToken     string     `yaml:"reward_token"`
	PoolStartTime   int64      `yaml:"pool_start_time"`
	PoolEndTime     int64      `yaml:"pool_end_time"`
	Duration        int64      `yaml:"duration"`
	Asset           assetEntry `yaml:"asset"`
}

type assetEntry struct {
	Name            string `yaml:"name"`
	Symbol          string `yaml:"symbol"`
	Decimals        int    `yaml:"decimals"`
	ContractAddress string `yaml:"contract_address"`
}

// LoadVaults returns the vault list from path, or the embedded default when path is empty.
func LoadVaults(path string) ([]types.VaultRecord, error) {
	data := defaultVaultsYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read vaults file: %w", err)
		}
	}
	return ParseVaults(data)
}

// ParseVaults decodes and validates a vault list document.
func ParseVaults(data []byte) ([]types.VaultRecord, error) {
	var doc vaultsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrInvalidVaultConfig, fmt.Errorf("parse vaults: %w", err))
	}
	if len(doc.Vaults) == 0 {
		return nil, errors.Join(ErrInvalidVaultConfig, errors.New("no vaults configured"))
	}

	seen := make(map[common.Address]struct{}, len(doc.Vaults))
	records := make([]types.VaultRecord, 0, len(doc.Vaults))
	for i, entry := range doc.Vaults {
		record, err := entry.toRecord()
		if err != nil {
			return nil, errors.Join(ErrInvalidVaultConfig, fmt.Errorf("vault %d: %w", i, err))
		}
		if _, dup := seen[record.VaultAddress]; dup {
			return nil, errors.Join(ErrInvalidVaultConfig, fmt.Errorf("vault %d: duplicate address %s", i, record.VaultAddress.Hex()))
		}
		seen[record.VaultAddress] = struct{}{}
		records = append(records, record)
	}
	return records, nil
}

func (e vaultEntry) toRecord() (types.VaultRecord, error) {
	addresses := map[string]string{
		"vault_address":          e.VaultAddress,
		"strategy_address":       e.StrategyAddress,
		"reward_token":           e.RewardToken,
		"asset.contract_address": e.Asset.ContractAddress,
	}
	for field, value := range addresses {
		if !common.IsHexAddress(value) {
			return types.VaultRecord{}, fmt.Errorf("%s %q is not a hex address", field, value)
		}
	}
	if e.Asset.Symbol == "" {
		return types.VaultRecord{}, errors.New("asset symbol is empty")
	}
	if e.Asset.Decimals < 0 || e.Asset.Decimals > 18 {
		return types.VaultRecord{}, fmt.Errorf("asset decimals %d out of range 0..18", e.Asset.Decimals)
	}
	if e.PoolEndTime < e.PoolStartTime {
		return types.VaultRecord{}, fmt.Errorf("pool ends (%d) before it starts (%d)", e.PoolEndTime, e.PoolStartTime)
	}
	if e.Duration <= 0 {
		return types.VaultRecord{}, fmt.Errorf("duration %d must be positive", e.Duration)
	}

	return types.VaultRecord{
		VaultAddress:    common.HexToAddress(e.VaultAddress),
		StrategyAddress: common.HexToAddress(e.StrategyAddress),
		RewardToken:     common.HexToAddress(e.RewardToken),
		PoolStartTime:   e.PoolStartTime,
		PoolEndTime:     e.PoolEndTime,
		Duration:        e.Duration,
		Asset: types.Asset{
			Name:            e.Asset.Name,
			Symbol:          e.Asset.Symbol,
			Decimals:        e.Asset.Decimals,
			ContractAddress: common.HexToAddress(e.Asset.ContractAddress),
		},
	}, nil
}
