package ticklock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSlotFor(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()

	slot := SlotFor(base, 10)
	if SlotFor(base.Add(9*time.Second), 10) != slot {
		t.Error("instant inside the chunk mapped to a different slot")
	}
	if SlotFor(base.Add(10*time.Second), 10) != slot+1 {
		t.Error("next chunk did not advance the slot")
	}
}

func TestSlotKey(t *testing.T) {
	got := SlotKey("chan_01h2xcejqtf2nbrexx3vqjhp41", 170000000)
	want := "tick:chan_01h2xcejqtf2nbrexx3vqjhp41:170000000"
	if got != want {
		t.Errorf("SlotKey = %q, want %q", got, want)
	}
}

func TestMemoryTryAcquire(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	clock := func() time.Time { return now }
	m := NewMemory().WithClock(clock)

	won, err := m.TryAcquire(ctx, "tick:a:1", 12*time.Second)
	if err != nil || !won {
		t.Fatalf("first acquire: won=%v err=%v", won, err)
	}

	won, err = m.TryAcquire(ctx, "tick:a:1", 12*time.Second)
	if err != nil || won {
		t.Fatalf("held key re-acquired: won=%v err=%v", won, err)
	}

	// Different key is independent.
	won, _ = m.TryAcquire(ctx, "tick:a:2", 12*time.Second)
	if !won {
		t.Error("independent key denied")
	}

	// Expired hold can be taken again.
	now = now.Add(13 * time.Second)
	won, _ = m.TryAcquire(ctx, "tick:a:1", 12*time.Second)
	if !won {
		t.Error("expired hold not released")
	}
}

func TestMemoryTryAcquireConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	const goroutines = 32
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.TryAcquire(ctx, "tick:contested:1", time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
}

type fakeSlotStore struct {
	mu    sync.Mutex
	slots map[string]time.Time
	now   func() time.Time
}

func (s *fakeSlotStore) AcquireTickSlot(_ context.Context, key string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, held := s.slots[key]; held && s.now().Before(exp) {
		return false, nil
	}
	s.slots[key] = expiresAt
	return true, nil
}

func TestStoreLock(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	clock := func() time.Time { return now }

	st := &fakeSlotStore{slots: make(map[string]time.Time), now: clock}
	l := NewStoreLock(st).WithClock(clock)

	won, err := l.TryAcquire(ctx, "tick:a:1", 12*time.Second)
	if err != nil || !won {
		t.Fatalf("first acquire: won=%v err=%v", won, err)
	}
	won, err = l.TryAcquire(ctx, "tick:a:1", 12*time.Second)
	if err != nil || won {
		t.Fatalf("held slot re-acquired: won=%v err=%v", won, err)
	}

	now = now.Add(13 * time.Second)
	won, _ = l.TryAcquire(ctx, "tick:a:1", 12*time.Second)
	if !won {
		t.Error("expired slot not released")
	}
}
