package state

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/earn/internal/types"
)

// BalanceHistoryEntry is one persisted vault snapshot.
type BalanceHistoryEntry struct {
	SyncRound int                        `json:"sync_round"`
	Vault     common.Address             `json:"vault"`
	Account   common.Address             `json:"account"`
	Balances  types.VaultBalanceSnapshot `json:"balances"`
	Timestamp time.Time                  `json:"timestamp"`
}

// SaveBalanceSnapshots stores the snapshots of one sync round in a single transaction.
func SaveBalanceSnapshots(ctx context.Context, round int, account common.Address, snapshots map[common.Address]types.VaultBalanceSnapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO earn_balance_snapshots (
			sync_round, vault_address, account_address, user_deposited, total_deposited, pending_rewards, snapshot_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for vault, snap := range snapshots {
		if _, err := stmt.ExecContext(ctx,
			round, vault.Hex(), account.Hex(),
			intString(snap.UserDeposited), intString(snap.TotalDeposited), intString(snap.PendingRewards),
			now,
		); err != nil {
			return fmt.Errorf("failed to save snapshot of %s: %w", vault.Hex(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}

	log.Info().Int("sync_round", round).Int("vaults", len(snapshots)).Msg("Balance snapshots saved to database")
	return nil
}

// GetBalanceHistory returns the newest snapshots of a vault first.
func GetBalanceHistory(ctx context.Context, vault common.Address, limit int) ([]BalanceHistoryEntry, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	limit = clampLimit(limit, defaultOperationLimit, maxOperationLimit)

	rows, err := DB.QueryContext(ctx, `
		SELECT sync_round, vault_address, account_address, user_deposited::TEXT, total_deposited::TEXT, pending_rewards::TEXT, snapshot_timestamp
		FROM earn_balance_snapshots
		WHERE vault_address = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2
	`, vault.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance history: %w", err)
	}
	defer rows.Close()

	var history []BalanceHistoryEntry
	for rows.Next() {
		var (
			entry                BalanceHistoryEntry
			vaultAddr, account   string
			user, total, rewards string
		)
		if err := rows.Scan(&entry.SyncRound, &vaultAddr, &account, &user, &total, &rewards, &entry.Timestamp); err != nil {
			log.Error().Err(err).Msg("Failed to scan balance snapshot row")
			continue
		}
		entry.Vault = common.HexToAddress(vaultAddr)
		entry.Account = common.HexToAddress(account)
		entry.Balances = types.VaultBalanceSnapshot{
			UserDeposited:  parseInt(user),
			TotalDeposited: parseInt(total),
			PendingRewards: parseInt(rewards),
			UpdatedAt:      entry.Timestamp,
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return history, nil
}

func intString(v sdkmath.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}

func parseInt(s string) sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt()
	}
	return v
}
