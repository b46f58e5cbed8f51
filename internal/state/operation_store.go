package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/earn/internal/types"
)

const (
	defaultOperationLimit = 20
	maxOperationLimit     = 200
)

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 || limit > max {
		return fallback
	}
	return limit
}

// SaveOperationReceipt appends a terminal operation outcome.
func SaveOperationReceipt(ctx context.Context, rec types.OperationReceipt) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	var txHash sql.NullString
	if rec.TxHash != (common.Hash{}) {
		txHash = sql.NullString{String: rec.TxHash.Hex(), Valid: true}
	}

	query := `
		INSERT INTO earn_operations (
			operation_id, kind, vault_address, account_address, tx_hash, outcome, message, gas_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (operation_id) DO NOTHING;
	`
	_, err := DB.ExecContext(ctx, query,
		rec.ID, string(rec.Kind), rec.Vault.Hex(), rec.Account.Hex(), txHash,
		string(rec.Outcome), rec.Message, int64(rec.GasUsed), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save operation receipt: %w", err)
	}

	log.Debug().
		Str("operation_id", rec.ID.String()).
		Str("kind", string(rec.Kind)).
		Str("outcome", string(rec.Outcome)).
		Msg("Operation receipt saved to database")
	return nil
}

// GetRecentOperations returns the newest receipts first.
func GetRecentOperations(ctx context.Context, limit int) ([]types.OperationReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	limit = clampLimit(limit, defaultOperationLimit, maxOperationLimit)

	query := `
		SELECT operation_id, kind, vault_address, account_address, tx_hash, outcome, message, gas_used, created_at
		FROM earn_operations
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent operations: %w", err)
	}
	defer rows.Close()

	var receipts []types.OperationReceipt
	for rows.Next() {
		var (
			rec                types.OperationReceipt
			kind, outcome      string
			vaultAddr, account string
			txHash, message    sql.NullString
			gasUsed            int64
		)
		if err := rows.Scan(&rec.ID, &kind, &vaultAddr, &account, &txHash, &outcome, &message, &gasUsed, &rec.Timestamp); err != nil {
			log.Error().Err(err).Msg("Failed to scan operation row")
			continue
		}
		rec.Kind = types.OperationKind(kind)
		rec.Outcome = types.OperationPhase(outcome)
		rec.Vault = common.HexToAddress(vaultAddr)
		rec.Account = common.HexToAddress(account)
		if txHash.Valid {
			rec.TxHash = common.HexToHash(txHash.String)
		}
		rec.Message = message.String
		rec.GasUsed = uint64(gasUsed)
		receipts = append(receipts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation rows: %w", err)
	}
	return receipts, nil
}

// OperationStat counts operations of one kind ending in one outcome.
type OperationStat struct {
	Kind    types.OperationKind  `json:"kind"`
	Outcome types.OperationPhase `json:"outcome"`
	Count   int                  `json:"count"`
}

// GetOperationStats aggregates all recorded operations by kind and outcome.
func GetOperationStats(ctx context.Context) ([]OperationStat, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT kind, outcome, COUNT(*)
		FROM earn_operations
		GROUP BY kind, outcome
		ORDER BY kind, outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation stats: %w", err)
	}
	defer rows.Close()

	var stats []OperationStat
	for rows.Next() {
		var kind, outcome string
		var count int
		if err := rows.Scan(&kind, &outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan operation stats: %w", err)
		}
		stats = append(stats, OperationStat{Kind: types.OperationKind(kind), Outcome: types.OperationPhase(outcome), Count: count})
	}
	return stats, rows.Err()
}
