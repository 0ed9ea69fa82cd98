package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/streampay"
	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/types"
)

func newChannel(viewerID, contentID string, openedAt time.Time) *channel.Channel {
	return &channel.Channel{
		Entity:         types.NewEntity(),
		ID:             id.NewChannelID(),
		ViewerID:       viewerID,
		ContentID:      contentID,
		PricePerSecond: 50,
		Currency:       "USD",
		Status:         channel.StatusActive,
		OpenedAt:       openedAt,
	}
}

func TestChannelCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	ch := newChannel("viewer_1", "vid_1", now)
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateChannel(ctx, ch); !errors.Is(err, streampay.ErrInvalidInput) {
		t.Errorf("duplicate create: got %v, want ErrInvalidInput", err)
	}

	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ViewerID != "viewer_1" {
		t.Errorf("viewer = %q", got.ViewerID)
	}

	active, err := s.GetActiveChannel(ctx, "viewer_1", "vid_1")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID.String() != ch.ID.String() {
		t.Error("active lookup returned wrong channel")
	}

	if _, err := s.GetChannel(ctx, id.NewChannelID()); !errors.Is(err, streampay.ErrChannelNotFound) {
		t.Errorf("missing channel: got %v", err)
	}
	if _, err := s.GetActiveChannel(ctx, "viewer_1", "vid_other"); !errors.Is(err, streampay.ErrChannelNotFound) {
		t.Errorf("missing active channel: got %v", err)
	}
}

func TestApplyChannelMutation(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	ch := newChannel("viewer_1", "vid_1", now)
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}

	// Tick accrual
	tickAt := now.Add(10 * time.Second)
	updated, err := s.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID:  ch.ID,
		Now:        tickAt,
		AddSeconds: 10,
		AddOwed:    500,
		Tick:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.SecondsStreamed != 10 || updated.AmountOwed != 500 {
		t.Errorf("after tick: %d/%d", updated.SecondsStreamed, updated.AmountOwed)
	}
	if updated.LastTickAt == nil || !updated.LastTickAt.Equal(tickAt) {
		t.Error("last_tick_at not recorded")
	}

	// Settlement in the same mutation shape the engine uses on close
	settleAt := now.Add(20 * time.Second)
	updated, err = s.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID: ch.ID,
		Now:       settleAt,
		Settle: &channel.SettleOp{
			SettlementID: id.NewSettlementID(),
			Amount:       500,
			TxRef:        "simulated:tx1",
			Payer:        "viewer_1",
		},
		Close: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.AmountSettled != 500 {
		t.Errorf("settled = %d, want 500", updated.AmountSettled)
	}
	if updated.Status != channel.StatusClosed || updated.ClosedAt == nil {
		t.Error("close not applied")
	}
	if updated.LastSettlementAt == nil || !updated.LastSettlementAt.Equal(settleAt) {
		t.Error("last_settlement_at not recorded")
	}

	rows, err := s.ListSettlements(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].TxRef != "simulated:tx1" {
		t.Errorf("settlement rows = %+v", rows)
	}
	total, err := s.SumSettlements(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 500 {
		t.Errorf("sum = %d, want 500", total)
	}

	// Mutating a closed channel fails.
	_, err = s.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID:  ch.ID,
		Now:        settleAt,
		AddSeconds: 10,
	})
	if !errors.Is(err, streampay.ErrChannelClosed) {
		t.Errorf("closed mutation: got %v, want ErrChannelClosed", err)
	}

	// Unknown channel fails with not found.
	_, err = s.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID: id.NewChannelID(),
		Now:       settleAt,
	})
	if !errors.Is(err, streampay.ErrChannelNotFound) {
		t.Errorf("missing mutation: got %v, want ErrChannelNotFound", err)
	}
}

func TestMutationReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	ch := newChannel("viewer_1", "vid_1", now)
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.AmountOwed = 999999

	again, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.AmountOwed != 0 {
		t.Error("caller mutation leaked into the store")
	}
}

func TestListStaleChannels(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	// Stale: opened long ago, unpaid balance, never settled.
	stale := newChannel("viewer_1", "vid_1", now.Add(-10*time.Minute))
	if err := s.CreateChannel(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID:  stale.ID,
		Now:        now.Add(-9 * time.Minute),
		AddSeconds: 10,
		AddOwed:    500,
		Tick:       true,
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh: opened recently.
	fresh := newChannel("viewer_2", "vid_1", now.Add(-time.Minute))
	if err := s.CreateChannel(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID:  fresh.ID,
		Now:        now.Add(-30 * time.Second),
		AddSeconds: 10,
		AddOwed:    500,
		Tick:       true,
	}); err != nil {
		t.Fatal(err)
	}

	// Paid up: no unpaid balance.
	paid := newChannel("viewer_3", "vid_1", now.Add(-10*time.Minute))
	if err := s.CreateChannel(ctx, paid); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListStaleChannels(ctx, now.Add(-2*time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("stale channels = %d, want 1", len(got))
	}
	if got[0].ID.String() != stale.ID.String() {
		t.Error("wrong channel reported stale")
	}
}

func TestCredit(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetCredit(ctx, "viewer_1", "vid_1"); !errors.Is(err, streampay.ErrCreditNotFound) {
		t.Errorf("missing credit: got %v", err)
	}

	cr, err := s.AddCredit(ctx, "viewer_1", "vid_1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if cr.SecondsRemaining != 10 {
		t.Errorf("remaining = %d, want 10", cr.SecondsRemaining)
	}

	cr, err = s.AddCredit(ctx, "viewer_1", "vid_1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if cr.SecondsRemaining != 15 {
		t.Errorf("remaining = %d, want 15", cr.SecondsRemaining)
	}

	// Full consume
	cr, ok, err := s.ConsumeCredit(ctx, "viewer_1", "vid_1", 10)
	if err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	if cr.SecondsRemaining != 5 {
		t.Errorf("remaining = %d, want 5", cr.SecondsRemaining)
	}

	// Insufficient balance is not decremented.
	cr, ok, err = s.ConsumeCredit(ctx, "viewer_1", "vid_1", 10)
	if err != nil || ok {
		t.Fatalf("over-consume: ok=%v err=%v", ok, err)
	}
	if cr == nil || cr.SecondsRemaining != 5 {
		t.Errorf("partial credit changed: %+v", cr)
	}

	// Unknown viewer is a miss, not an error.
	cr, ok, err = s.ConsumeCredit(ctx, "viewer_2", "vid_1", 10)
	if err != nil || ok || cr != nil {
		t.Errorf("unknown consume: cr=%v ok=%v err=%v", cr, ok, err)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	ch := newChannel("viewer_1", "vid_1", now)
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.CreateChannel(ctx, newChannel("viewer_2", "vid_1", now)); !errors.Is(err, streampay.ErrStoreClosed) {
		t.Errorf("create after close: got %v, want ErrStoreClosed", err)
	}
	_, err := s.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID:  ch.ID,
		Now:        now,
		AddSeconds: 10,
	})
	if !errors.Is(err, streampay.ErrStoreClosed) {
		t.Errorf("mutation after close: got %v, want ErrStoreClosed", err)
	}
	if _, _, err := s.ConsumeCredit(ctx, "viewer_1", "vid_1", 10); !errors.Is(err, streampay.ErrStoreClosed) {
		t.Errorf("consume after close: got %v, want ErrStoreClosed", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, streampay.ErrStoreClosed) {
		t.Errorf("ping after close: got %v, want ErrStoreClosed", err)
	}
}

func TestTickSlots(t *testing.T) {
	s := New()
	ctx := context.Background()

	expires := time.Now().Add(12 * time.Second)
	won, err := s.AcquireTickSlot(ctx, "tick:a:1", expires)
	if err != nil || !won {
		t.Fatalf("first acquire: won=%v err=%v", won, err)
	}
	won, err = s.AcquireTickSlot(ctx, "tick:a:1", expires)
	if err != nil || won {
		t.Fatalf("held slot re-acquired: won=%v err=%v", won, err)
	}

	// Expired slots can be purged and re-acquired.
	if _, err := s.AcquireTickSlot(ctx, "tick:b:1", time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	purged, err := s.PurgeTickSlots(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}
