package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/earn/internal/types"
)

// Recorder persists operation outcomes and balance history.
type Recorder interface {
	RecordOperation(ctx context.Context, rec types.OperationReceipt) error
	RecentOperations(ctx context.Context, limit int) ([]types.OperationReceipt, error)
	OperationStats(ctx context.Context) ([]OperationStat, error)
	RecordSnapshots(ctx context.Context, account common.Address, snapshots map[common.Address]types.VaultBalanceSnapshot) error
	BalanceHistory(ctx context.Context, vault common.Address, limit int) ([]BalanceHistoryEntry, error)
}

// DBRecorder stores everything in PostgreSQL through the package-level DB.
type DBRecorder struct{}

var _ Recorder = DBRecorder{}

func (DBRecorder) RecordOperation(ctx context.Context, rec types.OperationReceipt) error {
	return SaveOperationReceipt(ctx, rec)
}

func (DBRecorder) RecentOperations(ctx context.Context, limit int) ([]types.OperationReceipt, error) {
	return GetRecentOperations(ctx, limit)
}

func (DBRecorder) OperationStats(ctx context.Context) ([]OperationStat, error) {
	return GetOperationStats(ctx)
}

func (DBRecorder) RecordSnapshots(ctx context.Context, account common.Address, snapshots map[common.Address]types.VaultBalanceSnapshot) error {
	round, err := NextSyncRound(ctx)
	if err != nil {
		return err
	}
	return SaveBalanceSnapshots(ctx, round, account, snapshots)
}

func (DBRecorder) BalanceHistory(ctx context.Context, vault common.Address, limit int) ([]BalanceHistoryEntry, error) {
	return GetBalanceHistory(ctx, vault, limit)
}

// MemoryRecorder keeps a bounded history in memory. Used when no database is configured.
type MemoryRecorder struct {
	mu         sync.Mutex
	capacity   int
	operations *ring[types.OperationReceipt]
	history    map[common.Address]*ring[BalanceHistoryEntry]
	round      int
}

var _ Recorder = (*MemoryRecorder)(nil)

func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = maxOperationLimit
	}
	return &MemoryRecorder{
		capacity:   capacity,
		operations: newRing[types.OperationReceipt](capacity),
		history:    map[common.Address]*ring[BalanceHistoryEntry]{},
	}
}

func (m *MemoryRecorder) RecordOperation(_ context.Context, rec types.OperationReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations.push(rec)
	return nil
}

func (m *MemoryRecorder) RecentOperations(_ context.Context, limit int) ([]types.OperationReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operations.newest(clampLimit(limit, defaultOperationLimit, maxOperationLimit)), nil
}

func (m *MemoryRecorder) OperationStats(context.Context) ([]OperationStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[OperationStat]int{}
	m.operations.each(func(op types.OperationReceipt) {
		counts[OperationStat{Kind: op.Kind, Outcome: op.Outcome}]++
	})
	stats := make([]OperationStat, 0, len(counts))
	for key, n := range counts {
		key.Count = n
		stats = append(stats, key)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Kind != stats[j].Kind {
			return stats[i].Kind < stats[j].Kind
		}
		return stats[i].Outcome < stats[j].Outcome
	})
	return stats, nil
}

func (m *MemoryRecorder) RecordSnapshots(_ context.Context, account common.Address, snapshots map[common.Address]types.VaultBalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.round++
	now := time.Now().UTC()
	for vault, snap := range snapshots {
		entries, ok := m.history[vault]
		if !ok {
			entries = newRing[BalanceHistoryEntry](m.capacity)
			m.history[vault] = entries
		}
		entries.push(BalanceHistoryEntry{
			SyncRound: m.round,
			Vault:     vault,
			Account:   account,
			Balances:  snap,
			Timestamp: now,
		})
	}
	return nil
}

func (m *MemoryRecorder) BalanceHistory(_ context.Context, vault common.Address, limit int) ([]BalanceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.history[vault]
	if !ok {
		return []BalanceHistoryEntry{}, nil
	}
	return entries.newest(clampLimit(limit, defaultOperationLimit, maxOperationLimit)), nil
}

// ring is a bounded buffer that overwrites its oldest entry once full.
// The backing array grows on demand and never exceeds capacity.
type ring[T any] struct {
	buf      []T
	start    int // Index of the oldest entry once the buffer is full
	capacity int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{capacity: capacity}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) < r.capacity {
		if len(r.buf) == cap(r.buf) {
			grown := make([]T, len(r.buf), min(max(2*len(r.buf), 8), r.capacity))
			copy(grown, r.buf)
			r.buf = grown
		}
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.capacity
}

func (r *ring[T]) len() int {
	return len(r.buf)
}

func (r *ring[T]) at(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// newest returns up to limit entries, newest first.
func (r *ring[T]) newest(limit int) []T {
	limit = min(limit, r.len())
	out := make([]T, 0, limit)
	for i := r.len() - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.at(i))
	}
	return out
}

// each visits entries oldest first.
func (r *ring[T]) each(fn func(T)) {
	for i := 0; i < r.len(); i++ {
		fn(r.at(i))
	}
}
