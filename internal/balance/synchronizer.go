package balance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/vault"
)

// Synchronizer refreshes the locked and earned figures of vaults for one account.
type Synchronizer struct {
	reader  vault.Reader
	store   *session.Store
	account common.Address
	now     func() time.Time
	log     zerolog.Logger
}

func NewSynchronizer(reader vault.Reader, store *session.Store, account common.Address) *Synchronizer {
	return &Synchronizer{
		reader:  reader,
		store:   store,
		account: account,
		now:     time.Now,
		log:     logger.GetForComponent("balance_sync"),
	}
}

// RefreshLocked reads the account's deposit in v and the vault's total in its strategy, then
// replaces the vault snapshot. If either read fails the previous snapshot stays as it was.
func (s *Synchronizer) RefreshLocked(ctx context.Context, v types.VaultRecord) (types.VaultBalanceSnapshot, error) {
	userDeposited, err := s.reader.BalanceOf(ctx, v.VaultAddress, s.account)
	if err != nil {
		return s.syncFailed(v, "balanceOf(account)", err)
	}
	totalDeposited, err := s.reader.BalanceOf(ctx, v.StrategyAddress, v.VaultAddress)
	if err != nil {
		return s.syncFailed(v, "strategy balanceOf(vault)", err)
	}

	next := s.store.Apply(func(st types.EarnState) types.EarnState {
		prev := st.Snapshot(v.VaultAddress)
		return st.WithSnapshot(v.VaultAddress, types.VaultBalanceSnapshot{
			UserDeposited:  userDeposited,
			TotalDeposited: totalDeposited,
			PendingRewards: prev.PendingRewards,
			UpdatedAt:      s.now().UTC(),
		})
	})

	s.log.Debug().
		Str("vault", v.Asset.Symbol).
		Str("userDeposited", userDeposited.String()).
		Str("totalDeposited", totalDeposited.String()).
		Msg("Locked values refreshed")
	return next.Snapshot(v.VaultAddress), nil
}

// RefreshEarned reads the account's pending reward on v. On failure the prior value is kept.
func (s *Synchronizer) RefreshEarned(ctx context.Context, v types.VaultRecord) (sdkmath.Int, error) {
	earned, err := s.reader.Earned(ctx, v.VaultAddress, s.account)
	if err != nil {
		_, err = s.syncFailed(v, "earned(account)", err)
		return sdkmath.Int{}, err
	}

	s.store.Apply(func(st types.EarnState) types.EarnState {
		prev := st.Snapshot(v.VaultAddress)
		return st.WithSnapshot(v.VaultAddress, types.VaultBalanceSnapshot{
			UserDeposited:  prev.UserDeposited,
			TotalDeposited: prev.TotalDeposited,
			PendingRewards: earned,
			UpdatedAt:      s.now().UTC(),
		})
	})

	s.log.Debug().Str("vault", v.Asset.Symbol).Str("earned", earned.String()).Msg("Earned value refreshed")
	return earned, nil
}

// RefreshAllLocked refreshes every vault concurrently. Failures are per vault and joined.
func (s *Synchronizer) RefreshAllLocked(ctx context.Context, vaults []types.VaultRecord) error {
	return s.forEach(vaults, func(v types.VaultRecord) error {
		_, err := s.RefreshLocked(ctx, v)
		return err
	})
}

// RefreshAllEarned refreshes the pending rewards of every vault concurrently.
func (s *Synchronizer) RefreshAllEarned(ctx context.Context, vaults []types.VaultRecord) error {
	return s.forEach(vaults, func(v types.VaultRecord) error {
		_, err := s.RefreshEarned(ctx, v)
		return err
	})
}

func (s *Synchronizer) forEach(vaults []types.VaultRecord, fn func(types.VaultRecord) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, v := range vaults {
		wg.Add(1)
		go func(v types.VaultRecord) {
			defer wg.Done()
			if err := fn(v); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(v)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *Synchronizer) syncFailed(v types.VaultRecord, read string, err error) (types.VaultBalanceSnapshot, error) {
	s.log.Warn().Err(err).
		Str("vault", v.VaultAddress.Hex()).
		Str("read", read).
		Msg("Balance refresh failed, keeping previous snapshot")
	return types.VaultBalanceSnapshot{}, errors.Join(types.ErrSync, fmt.Errorf("%s %s: %w", v.Asset.Symbol, read, err))
}
