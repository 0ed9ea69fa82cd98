package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	streampay "github.com/xraph/streampay"
	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/credit"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/settlement"
	spstore "github.com/xraph/streampay/store"
	"github.com/xraph/streampay/types"
)

// compile-time interface check
var _ spstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// SQLite serializes writers on a single connection, so the multi-statement
// mutation in ApplyChannelMutation observes no interleaved writes.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("streampay/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %v", streampay.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Models ====================

type channelModel struct {
	grove.BaseModel `grove:"table:streampay_channels"`

	ID               string     `grove:"id,pk"`
	ViewerID         string     `grove:"viewer_id"`
	ContentID        string     `grove:"content_id"`
	PricePerSecond   int64      `grove:"price_per_second"`
	Currency         string     `grove:"currency"`
	Status           string     `grove:"status"`
	SecondsStreamed  int64      `grove:"seconds_streamed"`
	AmountOwed       int64      `grove:"amount_owed"`
	AmountSettled    int64      `grove:"amount_settled"`
	LastTickAt       *time.Time `grove:"last_tick_at"`
	LastSettlementAt *time.Time `grove:"last_settlement_at"`
	OpenedAt         time.Time  `grove:"opened_at"`
	ClosedAt         *time.Time `grove:"closed_at"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
}

func toChannelModel(c *channel.Channel) *channelModel {
	return &channelModel{
		ID:               c.ID.String(),
		ViewerID:         c.ViewerID,
		ContentID:        c.ContentID,
		PricePerSecond:   c.PricePerSecond,
		Currency:         c.Currency,
		Status:           string(c.Status),
		SecondsStreamed:  c.SecondsStreamed,
		AmountOwed:       c.AmountOwed,
		AmountSettled:    c.AmountSettled,
		LastTickAt:       c.LastTickAt,
		LastSettlementAt: c.LastSettlementAt,
		OpenedAt:         c.OpenedAt,
		ClosedAt:         c.ClosedAt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func fromChannelModel(m *channelModel) (*channel.Channel, error) {
	channelID, err := id.ParseChannelID(m.ID)
	if err != nil {
		return nil, err
	}

	return &channel.Channel{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               channelID,
		ViewerID:         m.ViewerID,
		ContentID:        m.ContentID,
		PricePerSecond:   m.PricePerSecond,
		Currency:         m.Currency,
		Status:           channel.Status(m.Status),
		SecondsStreamed:  m.SecondsStreamed,
		AmountOwed:       m.AmountOwed,
		AmountSettled:    m.AmountSettled,
		LastTickAt:       m.LastTickAt,
		LastSettlementAt: m.LastSettlementAt,
		OpenedAt:         m.OpenedAt,
		ClosedAt:         m.ClosedAt,
	}, nil
}

type settlementModel struct {
	grove.BaseModel `grove:"table:streampay_settlements"`

	ID        string    `grove:"id,pk"`
	ChannelID string    `grove:"channel_id"`
	Amount    int64     `grove:"amount"`
	Currency  string    `grove:"currency"`
	TxRef     string    `grove:"tx_ref"`
	Payer     string    `grove:"payer"`
	CreatedAt time.Time `grove:"created_at"`
}

func fromSettlementModel(m *settlementModel) (*settlement.Settlement, error) {
	stlID, err := id.ParseSettlementID(m.ID)
	if err != nil {
		return nil, err
	}
	channelID, err := id.ParseChannelID(m.ChannelID)
	if err != nil {
		return nil, err
	}

	return &settlement.Settlement{
		ID:        stlID,
		ChannelID: channelID,
		Amount:    m.Amount,
		Currency:  m.Currency,
		TxRef:     m.TxRef,
		Payer:     m.Payer,
		CreatedAt: m.CreatedAt,
	}, nil
}

type creditModel struct {
	grove.BaseModel `grove:"table:streampay_credits"`

	ID               string    `grove:"id,pk"`
	ViewerID         string    `grove:"viewer_id"`
	ContentID        string    `grove:"content_id"`
	SecondsRemaining int64     `grove:"seconds_remaining"`
	CreatedAt        time.Time `grove:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"`
}

func fromCreditModel(m *creditModel) (*credit.StreamCredit, error) {
	creditID, err := id.ParseCreditID(m.ID)
	if err != nil {
		return nil, err
	}

	return &credit.StreamCredit{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               creditID,
		ViewerID:         m.ViewerID,
		ContentID:        m.ContentID,
		SecondsRemaining: m.SecondsRemaining,
	}, nil
}

type tickSlotModel struct {
	grove.BaseModel `grove:"table:streampay_tick_slots"`

	SlotKey   string    `grove:"slot_key,pk"`
	ExpiresAt time.Time `grove:"expires_at"`
}

// ==================== Channel Store ====================

func (s *Store) CreateChannel(ctx context.Context, c *channel.Channel) error {
	m := toChannelModel(c)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetChannel(ctx context.Context, channelID id.ChannelID) (*channel.Channel, error) {
	m := new(channelModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", channelID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, streampay.ErrChannelNotFound
		}
		return nil, err
	}
	return fromChannelModel(m)
}

func (s *Store) GetActiveChannel(ctx context.Context, viewerID, contentID string) (*channel.Channel, error) {
	m := new(channelModel)
	err := s.sdb.NewSelect(m).
		Where("viewer_id = ?", viewerID).
		Where("content_id = ?", contentID).
		Where("status = ?", string(channel.StatusActive)).
		OrderExpr("opened_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, streampay.ErrChannelNotFound
		}
		return nil, err
	}
	return fromChannelModel(m)
}

func (s *Store) ApplyChannelMutation(ctx context.Context, mut channel.Mutation) (*channel.Channel, error) {
	now := mut.Now.UTC()

	// The settled totals are applied by trg_streampay_settlements_apply on
	// the settlement insert, so each of the two statements commits a
	// consistent state on its own. A crash between them leaves the balance
	// unpaid, never a settled total without its settlement row.
	q := s.sdb.NewUpdate((*channelModel)(nil)).
		Set("seconds_streamed = seconds_streamed + ?", mut.AddSeconds).
		Set("amount_owed = amount_owed + ?", mut.AddOwed).
		Set("updated_at = ?", now)
	if mut.Tick {
		q = q.Set("last_tick_at = ?", now)
	}
	if mut.Close {
		q = q.Set("status = ?", string(channel.StatusClosed)).
			Set("closed_at = ?", now)
	}
	res, err := q.
		Where("id = ?", mut.ChannelID.String()).
		Where("status = ?", string(channel.StatusActive)).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.mutationConflict(ctx, mut.ChannelID)
	}

	ch, err := s.GetChannel(ctx, mut.ChannelID)
	if err != nil {
		return nil, err
	}

	if mut.Settle != nil {
		stl := &settlementModel{
			ID:        mut.Settle.SettlementID.String(),
			ChannelID: mut.ChannelID.String(),
			Amount:    mut.Settle.Amount,
			Currency:  ch.Currency,
			TxRef:     mut.Settle.TxRef,
			Payer:     mut.Settle.Payer,
			CreatedAt: now,
		}
		if _, err := s.sdb.NewInsert(stl).Exec(ctx); err != nil {
			return nil, err
		}
		// Re-read so the snapshot reflects the trigger-applied totals.
		ch, err = s.GetChannel(ctx, mut.ChannelID)
		if err != nil {
			return nil, err
		}
	}

	return ch, nil
}

// mutationConflict distinguishes a missing channel from a closed one after
// the conditional update matched no row.
func (s *Store) mutationConflict(ctx context.Context, channelID id.ChannelID) error {
	_, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	return streampay.ErrChannelClosed
}

func (s *Store) ListStaleChannels(ctx context.Context, settledBefore time.Time, limit int) ([]*channel.Channel, error) {
	var models []channelModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(channel.StatusActive)).
		Where("amount_owed > amount_settled").
		Where("COALESCE(last_settlement_at, opened_at) < ?", settledBefore.UTC()).
		OrderExpr("COALESCE(last_settlement_at, opened_at) ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*channel.Channel, len(models))
	for i := range models {
		c, err := fromChannelModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// ==================== Settlement Store ====================

func (s *Store) ListSettlements(ctx context.Context, channelID id.ChannelID) ([]*settlement.Settlement, error) {
	var models []settlementModel
	err := s.sdb.NewSelect(&models).
		Where("channel_id = ?", channelID.String()).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*settlement.Settlement, len(models))
	for i := range models {
		stl, err := fromSettlementModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = stl
	}
	return result, nil
}

func (s *Store) SumSettlements(ctx context.Context, channelID id.ChannelID) (int64, error) {
	var total int64
	err := s.sdb.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM streampay_settlements WHERE channel_id = ?
	`, channelID.String()).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ==================== Credit Store ====================

func (s *Store) GetCredit(ctx context.Context, viewerID, contentID string) (*credit.StreamCredit, error) {
	m := new(creditModel)
	err := s.sdb.NewSelect(m).
		Where("viewer_id = ?", viewerID).
		Where("content_id = ?", contentID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, streampay.ErrCreditNotFound
		}
		return nil, err
	}
	return fromCreditModel(m)
}

func (s *Store) AddCredit(ctx context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, error) {
	now := time.Now().UTC()
	m := &creditModel{
		ID:               id.NewCreditID().String(),
		ViewerID:         viewerID,
		ContentID:        contentID,
		SecondsRemaining: seconds,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(viewer_id, content_id) DO UPDATE").
		Set("seconds_remaining = streampay_credits.seconds_remaining + EXCLUDED.seconds_remaining").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetCredit(ctx, viewerID, contentID)
}

func (s *Store) ConsumeCredit(ctx context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, bool, error) {
	res, err := s.sdb.NewUpdate((*creditModel)(nil)).
		Set("seconds_remaining = seconds_remaining - ?", seconds).
		Set("updated_at = ?", time.Now().UTC()).
		Where("viewer_id = ?", viewerID).
		Where("content_id = ?", contentID).
		Where("seconds_remaining >= ?", seconds).
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	cr, err := s.GetCredit(ctx, viewerID, contentID)
	if err != nil {
		if errors.Is(err, streampay.ErrCreditNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return cr, rows > 0, nil
}

// ==================== Tick slot Store ====================

func (s *Store) AcquireTickSlot(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	now := time.Now().UTC()
	m := &tickSlotModel{SlotKey: key, ExpiresAt: expiresAt.UTC()}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(slot_key) DO UPDATE").
		Set("expires_at = EXCLUDED.expires_at WHERE streampay_tick_slots.expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) PurgeTickSlots(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*tickSlotModel)(nil)).
		Where("expires_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
