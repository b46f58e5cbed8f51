package allowance

import (
	"context"
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/vault"
)

// Tracker reads spend allowances and caches the last successful value per token and spender.
type Tracker struct {
	reader vault.Reader
	store  *session.Store
	now    func() time.Time
	log    zerolog.Logger
}

func NewTracker(reader vault.Reader, store *session.Store) *Tracker {
	return &Tracker{
		reader: reader,
		store:  store,
		now:    time.Now,
		log:    logger.GetForComponent("allowance_tracker"),
	}
}

// QueryAllowance reads token.allowance(owner, spender) and stores the result.
// On failure the cached record, if any, is left as it was.
func (t *Tracker) QueryAllowance(ctx context.Context, owner, spender, token common.Address) (types.AllowanceRecord, error) {
	amount, err := t.reader.Allowance(ctx, token, owner, spender)
	if err != nil {
		t.log.Warn().Err(err).
			Str("token", token.Hex()).
			Str("spender", spender.Hex()).
			Msg("Allowance query failed, keeping cached value")
		return types.AllowanceRecord{}, errors.Join(types.ErrAllowance, err)
	}

	rec := types.AllowanceRecord{
		Token:     token,
		Owner:     owner,
		Spender:   spender,
		Allowance: amount,
		UpdatedAt: t.now().UTC(),
	}
	t.store.Apply(func(st types.EarnState) types.EarnState {
		return st.WithAllowance(rec)
	})

	t.log.Debug().
		Str("token", token.Hex()).
		Str("spender", spender.Hex()).
		Str("allowance", amount.String()).
		Msg("Allowance updated")
	return rec, nil
}

// Cached returns the last stored record for token and spender.
func (t *Tracker) Cached(token, spender common.Address) (types.AllowanceRecord, bool) {
	return t.store.Snapshot().Allowance(token, spender)
}

// IsSufficient reports whether rec covers required.
func IsSufficient(rec types.AllowanceRecord, required sdkmath.Int) bool {
	return rec.IsSufficient(required)
}
