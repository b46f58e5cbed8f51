package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/types"
)

var (
	account = common.HexToAddress("0x1111111111111111111111111111111111111111")
	vaultA  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

type fakeSyncer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSyncer) Sync(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func (f *fakeSyncer) State() types.EarnState {
	st := types.NewEarnState(nil)
	snap := types.EmptySnapshot()
	snap.UserDeposited = sdkmath.NewInt(int64(f.calls.Load()))
	return st.WithSnapshot(vaultA, snap)
}

func (f *fakeSyncer) Account() common.Address { return account }

func TestRunNowRecordsRound(t *testing.T) {
	syncer := &fakeSyncer{}
	rec := state.NewMemoryRecorder(10)
	s := New(context.Background(), syncer, rec)

	require.NoError(t, s.RunNow(context.Background()))
	require.NoError(t, s.RunNow(context.Background()))

	history, err := rec.BalanceHistory(context.Background(), vaultA, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].SyncRound)
	assert.True(t, history[0].Balances.UserDeposited.Equal(sdkmath.NewInt(2)))
	assert.Equal(t, account, history[0].Account)
}

func TestRunNowRecordsEvenWhenSyncFails(t *testing.T) {
	syncer := &fakeSyncer{err: errors.Join(types.ErrSync, errors.New("timeout"))}
	rec := state.NewMemoryRecorder(10)
	s := New(context.Background(), syncer, rec)

	err := s.RunNow(context.Background())
	require.ErrorIs(t, err, types.ErrSync)

	history, err := rec.BalanceHistory(context.Background(), vaultA, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	s := New(context.Background(), &fakeSyncer{}, nil)
	assert.Error(t, s.Register("every minute"))
	assert.NoError(t, s.Register("@every 1m"))
	assert.NoError(t, s.Register("*/5 * * * *"))
}

func TestScheduledSyncRuns(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(context.Background(), syncer, nil)
	require.NoError(t, s.Register("@every 1s"))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return syncer.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
