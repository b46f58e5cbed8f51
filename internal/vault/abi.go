package vault

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const vaultABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"earned","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"getReward","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"depositWithApprovalTarget","stateMutability":"nonpayable","inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"user","type":"address"},
		{"name":"owner","type":"address"},
		{"name":"amountPermitted","type":"uint256"},
		{"name":"deadline","type":"uint256"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}
	],"outputs":[]}
]`

const approvalTargetABIJSON = `[
	{"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	ERC20ABI          = mustParseABI(erc20ABIJSON)
	VaultABI          = mustParseABI(vaultABIJSON)
	ApprovalTargetABI = mustParseABI(approvalTargetABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
