// Package registry holds the vaults available for deposits. The set is fixed at construction.
package registry

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/earn/internal/types"
)

// Registry is an immutable lookup over vault records.
type Registry struct {
	vaults []types.VaultRecord
	index  map[common.Address]int
}

// New builds a registry preserving the configured order.
func New(vaults []types.VaultRecord) *Registry {
	r := &Registry{
		vaults: slices.Clone(vaults),
		index:  make(map[common.Address]int, len(vaults)),
	}
	for i, v := range r.vaults {
		r.index[v.VaultAddress] = i
	}
	return r
}

// ListVaults returns every vault in configuration order. The slice is a copy.
func (r *Registry) ListVaults() []types.VaultRecord {
	return slices.Clone(r.vaults)
}

// FindVault looks a vault up by its contract address.
func (r *Registry) FindVault(address common.Address) (types.VaultRecord, error) {
	i, ok := r.index[address]
	if !ok {
		return types.VaultRecord{}, fmt.Errorf("%w: %s", types.ErrVaultNotFound, address.Hex())
	}
	return r.vaults[i], nil
}

// Len returns the number of vaults.
func (r *Registry) Len() int {
	return len(r.vaults)
}
