package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	streampay "github.com/xraph/streampay"
	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/credit"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/settlement"
	spstore "github.com/xraph/streampay/store"
)

// compile-time interface check
var _ spstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("streampay/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", streampay.ErrMigrationFailed, err)
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

// ==================== Channel Store ====================

func (s *Store) CreateChannel(ctx context.Context, c *channel.Channel) error {
	m := toChannelModel(c)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetChannel(ctx context.Context, channelID id.ChannelID) (*channel.Channel, error) {
	m := new(channelModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", channelID.String()).
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
	err := s.pg.NewSelect(m).
		Where("viewer_id = $1", viewerID).
		Where("content_id = $2", contentID).
		Where("status = $3", string(channel.StatusActive)).
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

// ApplyChannelMutation applies accrual, the optional settlement append and
// the optional close as a single data-modifying statement, so partial
// mutations never become visible.
func (s *Store) ApplyChannelMutation(ctx context.Context, mut channel.Mutation) (*channel.Channel, error) {
	var (
		settleFlag   bool
		settleID     string
		settleAmount int64
		settleTxRef  string
		settlePayer  string
	)
	if mut.Settle != nil {
		settleFlag = true
		settleID = mut.Settle.SettlementID.String()
		settleAmount = mut.Settle.Amount
		settleTxRef = mut.Settle.TxRef
		settlePayer = mut.Settle.Payer
	}

	m := new(channelModel)
	err := s.pg.NewRaw(`
WITH target AS (
    SELECT id, currency FROM streampay_channels
    WHERE id = $1 AND status = 'active'
    FOR UPDATE
), recorded AS (
    INSERT INTO streampay_settlements (id, channel_id, amount, currency, tx_ref, payer, created_at)
    SELECT $7, t.id, $8::bigint, t.currency, $9, $10, $2::timestamptz FROM target t WHERE $6::boolean
)
UPDATE streampay_channels c SET
    seconds_streamed   = c.seconds_streamed + $3::bigint,
    amount_owed        = c.amount_owed + $4::bigint,
    amount_settled     = c.amount_settled + $8::bigint,
    last_tick_at       = CASE WHEN $5::boolean THEN $2::timestamptz ELSE c.last_tick_at END,
    last_settlement_at = CASE WHEN $6::boolean THEN $2::timestamptz ELSE c.last_settlement_at END,
    status             = CASE WHEN $11::boolean THEN 'closed' ELSE c.status END,
    closed_at          = CASE WHEN $11::boolean THEN $2::timestamptz ELSE c.closed_at END,
    updated_at         = $2::timestamptz
FROM target t
WHERE c.id = t.id
RETURNING c.id, c.viewer_id, c.content_id, c.price_per_second, c.currency, c.status,
    c.seconds_streamed, c.amount_owed, c.amount_settled,
    c.last_tick_at, c.last_settlement_at, c.opened_at, c.closed_at,
    c.created_at, c.updated_at
`,
		mut.ChannelID.String(), mut.Now.UTC(),
		mut.AddSeconds, mut.AddOwed, mut.Tick,
		settleFlag, settleID, settleAmount, settleTxRef, settlePayer,
		mut.Close,
	).Scan(ctx,
		&m.ID, &m.ViewerID, &m.ContentID, &m.PricePerSecond, &m.Currency, &m.Status,
		&m.SecondsStreamed, &m.AmountOwed, &m.AmountSettled,
		&m.LastTickAt, &m.LastSettlementAt, &m.OpenedAt, &m.ClosedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, s.mutationConflict(ctx, mut.ChannelID)
		}
		return nil, err
	}
	return fromChannelModel(m)
}

// mutationConflict distinguishes a missing channel from a closed one after
// the conditional update matched no row.
func (s *Store) mutationConflict(ctx context.Context, channelID id.ChannelID) error {
	var status string
	err := s.pg.NewRaw(`SELECT status FROM streampay_channels WHERE id = $1`, channelID.String()).
		Scan(ctx, &status)
	if err != nil {
		if isNoRows(err) {
			return streampay.ErrChannelNotFound
		}
		return err
	}
	return streampay.ErrChannelClosed
}

func (s *Store) ListStaleChannels(ctx context.Context, settledBefore time.Time, limit int) ([]*channel.Channel, error) {
	var models []channelModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(channel.StatusActive)).
		Where("amount_owed > amount_settled").
		Where("COALESCE(last_settlement_at, opened_at) < $2", settledBefore.UTC()).
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
	err := s.pg.NewSelect(&models).
		Where("channel_id = $1", channelID.String()).
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
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM streampay_settlements WHERE channel_id = $1
	`, channelID.String()).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ==================== Credit Store ====================

func (s *Store) GetCredit(ctx context.Context, viewerID, contentID string) (*credit.StreamCredit, error) {
	m := new(creditModel)
	err := s.pg.NewSelect(m).
		Where("viewer_id = $1", viewerID).
		Where("content_id = $2", contentID).
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
	m := new(creditModel)
	err := s.pg.NewRaw(`
INSERT INTO streampay_credits (id, viewer_id, content_id, seconds_remaining, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (viewer_id, content_id) DO UPDATE SET
    seconds_remaining = streampay_credits.seconds_remaining + EXCLUDED.seconds_remaining,
    updated_at = NOW()
RETURNING id, viewer_id, content_id, seconds_remaining, created_at, updated_at
`, id.NewCreditID().String(), viewerID, contentID, seconds).
		Scan(ctx, &m.ID, &m.ViewerID, &m.ContentID, &m.SecondsRemaining, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return fromCreditModel(m)
}

func (s *Store) ConsumeCredit(ctx context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, bool, error) {
	m := new(creditModel)
	err := s.pg.NewRaw(`
UPDATE streampay_credits SET
    seconds_remaining = seconds_remaining - $3,
    updated_at = NOW()
WHERE viewer_id = $1 AND content_id = $2 AND seconds_remaining >= $3
RETURNING id, viewer_id, content_id, seconds_remaining, created_at, updated_at
`, viewerID, contentID, seconds).
		Scan(ctx, &m.ID, &m.ViewerID, &m.ContentID, &m.SecondsRemaining, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			cr, gerr := s.GetCredit(ctx, viewerID, contentID)
			if gerr != nil {
				if errors.Is(gerr, streampay.ErrCreditNotFound) {
					return nil, false, nil
				}
				return nil, false, gerr
			}
			return cr, false, nil
		}
		return nil, false, err
	}
	cr, err := fromCreditModel(m)
	if err != nil {
		return nil, false, err
	}
	return cr, true, nil
}

// ==================== Tick slot Store ====================

func (s *Store) AcquireTickSlot(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	var won string
	err := s.pg.NewRaw(`
INSERT INTO streampay_tick_slots (slot_key, expires_at)
VALUES ($1, $2)
ON CONFLICT (slot_key) DO UPDATE SET expires_at = EXCLUDED.expires_at
WHERE streampay_tick_slots.expires_at <= NOW()
RETURNING slot_key
`, key, expiresAt.UTC()).Scan(ctx, &won)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) PurgeTickSlots(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*tickSlotModel)(nil)).
		Where("expires_at < $1", before.UTC()).
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
