/*

This file manages the persistent sync round counter.
Every scheduled resynchronization gets the next round number so persisted snapshots can be grouped.

*/

package state

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// NextSyncRound increments and returns the global sync round.
func NextSyncRound(ctx context.Context) (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var round int
	err := DB.QueryRowContext(ctx, `
		UPDATE earn_sync_counter
		SET current_round = current_round + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_round;
	`).Scan(&round)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sync round: %w", err)
	}

	log.Debug().Int("sync_round", round).Msg("Sync round incremented")
	return round, nil
}
