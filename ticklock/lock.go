// Package ticklock provides the advisory slot lock that deduplicates
// concurrent tick requests: an atomic set-if-absent with expiry keyed by
// (channel, time slot).
//
// The lock is advisory only. The ledger store remains the source of
// truth; a lock backend outage must not halt otherwise-correct accrual,
// so the engine fails open when TryAcquire returns an error.
package ticklock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Lock is an atomic set-if-absent-with-expiry capability. TryAcquire
// returns true when the caller won the key for the lease duration, false
// when another holder already owns it. An error means the backend is
// unreachable — the caller decides what that failure mode means.
type Lock interface {
	TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error)
}

// SlotKey builds the dedup key for a channel's time slot.
func SlotKey(channelID string, slot int64) string {
	return fmt.Sprintf("tick:%s:%d", channelID, slot)
}

// SlotFor returns the time slot index for the given instant: wall-clock
// seconds divided into fixed chunk-sized slots.
func SlotFor(now time.Time, chunkSeconds int64) int64 {
	return now.Unix() / chunkSeconds
}

// Memory is an in-process Lock for single-node deployments and tests.
type Memory struct {
	mu    sync.Mutex
	slots map[string]time.Time
	now   func() time.Time
}

// NewMemory creates an in-process lock.
func NewMemory() *Memory {
	return &Memory{
		slots: make(map[string]time.Time),
		now:   time.Now,
	}
}

// WithClock substitutes the time source. For tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// TryAcquire implements Lock.
func (m *Memory) TryAcquire(_ context.Context, key string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, held := m.slots[key]; held && now.Before(exp) {
		return false, nil
	}

	m.slots[key] = now.Add(lease)

	// Opportunistic sweep so long-lived processes don't accumulate
	// expired slots without bound.
	if len(m.slots) > 4096 {
		for k, exp := range m.slots {
			if !now.Before(exp) {
				delete(m.slots, k)
			}
		}
	}

	return true, nil
}

// SlotStore is the persistence capability a store-backed lock needs: an
// atomic insert-if-absent-or-expired for a keyed slot row.
type SlotStore interface {
	AcquireTickSlot(ctx context.Context, key string, expiresAt time.Time) (bool, error)
}

// StoreLock adapts a ledger store's tick-slot table into a Lock, for
// multi-node deployments without a dedicated key-value store.
type StoreLock struct {
	store SlotStore
	now   func() time.Time
}

// NewStoreLock creates a Lock over a store's tick-slot table.
func NewStoreLock(s SlotStore) *StoreLock {
	return &StoreLock{store: s, now: time.Now}
}

// WithClock substitutes the time source. For tests.
func (l *StoreLock) WithClock(now func() time.Time) *StoreLock {
	l.now = now
	return l
}

// TryAcquire implements Lock.
func (l *StoreLock) TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error) {
	return l.store.AcquireTickSlot(ctx, key, l.now().Add(lease))
}
