package state

import (
	"context"
	"os"
	"strconv"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/earn/internal/types"
)

var (
	vaultA  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	account = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestMemoryRecorderOperationsNewestFirst(t *testing.T) {
	m := NewMemoryRecorder(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := types.NewOperationReceipt(types.OperationDeposit, vaultA, account)
		rec.Message = strconv.Itoa(i)
		rec.Outcome = types.PhaseConfirmed
		require.NoError(t, m.RecordOperation(ctx, rec))
	}

	ops, err := m.RecentOperations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "4", ops[0].Message)
	assert.Equal(t, "2", ops[2].Message)

	ops, err = m.RecentOperations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
}

func TestMemoryRecorderStats(t *testing.T) {
	m := NewMemoryRecorder(10)
	ctx := context.Background()
	record := func(kind types.OperationKind, outcome types.OperationPhase) {
		rec := types.NewOperationReceipt(kind, vaultA, account)
		rec.Outcome = outcome
		require.NoError(t, m.RecordOperation(ctx, rec))
	}
	record(types.OperationDeposit, types.PhaseReverted)
	record(types.OperationDeposit, types.PhaseConfirmed)
	record(types.OperationDeposit, types.PhaseConfirmed)
	record(types.OperationClaim, types.PhaseConfirmed)

	stats, err := m.OperationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []OperationStat{
		{Kind: types.OperationClaim, Outcome: types.PhaseConfirmed, Count: 1},
		{Kind: types.OperationDeposit, Outcome: types.PhaseConfirmed, Count: 2},
		{Kind: types.OperationDeposit, Outcome: types.PhaseReverted, Count: 1},
	}, stats)
}

func TestMemoryRecorderBalanceHistory(t *testing.T) {
	m := NewMemoryRecorder(10)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		snap := types.EmptySnapshot()
		snap.UserDeposited = sdkmath.NewInt(i)
		require.NoError(t, m.RecordSnapshots(ctx, account, map[common.Address]types.VaultBalanceSnapshot{vaultA: snap}))
	}

	history, err := m.BalanceHistory(ctx, vaultA, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].SyncRound)
	assert.True(t, history[0].Balances.UserDeposited.Equal(sdkmath.NewInt(3)))

	empty, err := m.BalanceHistory(ctx, common.HexToAddress("0x02"), 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDBRecorderWithoutDatabase(t *testing.T) {
	DB = nil
	rec := DBRecorder{}
	err := rec.RecordOperation(context.Background(), types.NewOperationReceipt(types.OperationWithdraw, vaultA, account))
	assert.Error(t, err)
	assert.Error(t, TestDBConnection())
}

// TestDBRecorderRoundTrip runs against a real database when EARN_TEST_DB_HOST is set.
func TestDBRecorderRoundTrip(t *testing.T) {
	host := os.Getenv("EARN_TEST_DB_HOST")
	if host == "" {
		t.Skip("EARN_TEST_DB_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("EARN_TEST_DB_PORT"))
	if port == 0 {
		port = 5432
	}
	require.NoError(t, InitDB(DBConfig{
		Host:     host,
		Port:     port,
		User:     os.Getenv("EARN_TEST_DB_USER"),
		Password: os.Getenv("EARN_TEST_DB_PASSWORD"),
		DBName:   os.Getenv("EARN_TEST_DB_NAME"),
		SSLMode:  "disable",
	}))
	t.Cleanup(CloseDB)
	require.NoError(t, EnsureSchema())

	ctx := context.Background()
	rec := types.NewOperationReceipt(types.OperationDeposit, vaultA, account)
	rec.Outcome = types.PhaseConfirmed
	rec.TxHash = common.HexToHash("0x01")
	rec.GasUsed = 21000

	recorder := DBRecorder{}
	require.NoError(t, recorder.RecordOperation(ctx, rec))

	ops, err := recorder.RecentOperations(ctx, 50)
	require.NoError(t, err)
	found := false
	for _, op := range ops {
		if op.ID == rec.ID {
			found = true
			assert.Equal(t, rec.TxHash, op.TxHash)
			assert.Equal(t, uint64(21000), op.GasUsed)
		}
	}
	assert.True(t, found)

	snap := types.EmptySnapshot()
	snap.TotalDeposited = sdkmath.NewInt(123456789)
	require.NoError(t, recorder.RecordSnapshots(ctx, account, map[common.Address]types.VaultBalanceSnapshot{vaultA: snap}))

	history, err := recorder.BalanceHistory(ctx, vaultA, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Balances.TotalDeposited.Equal(sdkmath.NewInt(123456789)))
}

func TestMemoryRecorderHistoryStaysWithinCapacity(t *testing.T) {
	m := NewMemoryRecorder(5)
	ctx := context.Background()

	for i := int64(1); i <= 23; i++ {
		snap := types.EmptySnapshot()
		snap.UserDeposited = sdkmath.NewInt(i)
		require.NoError(t, m.RecordSnapshots(ctx, account, map[common.Address]types.VaultBalanceSnapshot{vaultA: snap}))
	}

	entries := m.history[vaultA]
	assert.Equal(t, 5, entries.len())
	assert.LessOrEqual(t, cap(entries.buf), 5)

	history, err := m.BalanceHistory(ctx, vaultA, 10)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, 23, history[0].SyncRound)
	assert.Equal(t, 19, history[4].SyncRound)
}

func TestRingOrder(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 7; i++ {
		r.push(i)
	}
	assert.Equal(t, []int{7, 6, 5}, r.newest(10))

	var oldestFirst []int
	r.each(func(v int) { oldestFirst = append(oldestFirst, v) })
	assert.Equal(t, []int{5, 6, 7}, oldestFirst)
}
