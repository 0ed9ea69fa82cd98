package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	streampay "github.com/xraph/streampay"
	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/credit"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/settlement"
	spstore "github.com/xraph/streampay/store"
)

// Collection name constants.
const (
	colChannels    = "streampay_channels"
	colSettlements = "streampay_settlements"
	colCredits     = "streampay_credits"
	colTickSlots   = "streampay_tick_slots"
)

// compile-time interface check
var _ spstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Mutations that append a settlement run inside a driver session
// transaction so the channel totals and the settlement row commit
// together. Transactions require a replica set or sharded deployment.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all streampay collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo: %s indexes: %v", streampay.ErrMigrationFailed, col, err)
		}
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("streampay/mongo: create channel: %w", err)
	}
	return nil
}

func (s *Store) GetChannel(ctx context.Context, channelID id.ChannelID) (*channel.Channel, error) {
	var m channelModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": channelID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, streampay.ErrChannelNotFound
		}
		return nil, fmt.Errorf("streampay/mongo: get channel: %w", err)
	}
	return fromChannelModel(&m)
}

func (s *Store) GetActiveChannel(ctx context.Context, viewerID, contentID string) (*channel.Channel, error) {
	var m channelModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"viewer_id":  viewerID,
			"content_id": contentID,
			"status":     string(channel.StatusActive),
		}).
		Sort(bson.D{{Key: "opened_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, streampay.ErrChannelNotFound
		}
		return nil, fmt.Errorf("streampay/mongo: get active channel: %w", err)
	}
	return fromChannelModel(&m)
}

func (s *Store) ApplyChannelMutation(ctx context.Context, mut channel.Mutation) (*channel.Channel, error) {
	now := mut.Now.UTC()

	var settleAmount int64
	if mut.Settle != nil {
		settleAmount = mut.Settle.Amount
	}

	set := bson.M{"updated_at": now}
	if mut.Tick {
		set["last_tick_at"] = now
	}
	if mut.Settle != nil {
		set["last_settlement_at"] = now
	}
	if mut.Close {
		set["status"] = string(channel.StatusClosed)
		set["closed_at"] = now
	}

	apply := func(ctx context.Context) (*channel.Channel, error) {
		res, err := s.mdb.NewUpdate((*channelModel)(nil)).
			Filter(bson.M{
				"_id":    mut.ChannelID.String(),
				"status": string(channel.StatusActive),
			}).
			SetUpdate(bson.M{
				"$inc": bson.M{
					"seconds_streamed": mut.AddSeconds,
					"amount_owed":      mut.AddOwed,
					"amount_settled":   settleAmount,
				},
				"$set": set,
			}).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("streampay/mongo: apply channel mutation: %w", err)
		}
		if res.MatchedCount() == 0 {
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
			if _, err := s.mdb.NewInsert(stl).Exec(ctx); err != nil {
				return nil, fmt.Errorf("streampay/mongo: record settlement: %w", err)
			}
		}

		return ch, nil
	}

	// Without a settlement the mutation is one atomic document update.
	if mut.Settle == nil {
		return apply(ctx)
	}

	// The channel totals and the settlement row must commit together.
	sess, err := s.mdb.Collection(colChannels).Database().Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("streampay/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	out, err := sess.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return apply(txCtx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*channel.Channel), nil
}

// mutationConflict distinguishes a missing channel from a closed one after
// the conditional update matched no document.
func (s *Store) mutationConflict(ctx context.Context, channelID id.ChannelID) error {
	_, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	return streampay.ErrChannelClosed
}

func (s *Store) ListStaleChannels(ctx context.Context, settledBefore time.Time, limit int) ([]*channel.Channel, error) {
	var models []channelModel

	before := settledBefore.UTC()
	filter := bson.M{
		"status": string(channel.StatusActive),
		"$expr":  bson.M{"$gt": bson.A{"$amount_owed", "$amount_settled"}},
		"$or": bson.A{
			bson.M{"last_settlement_at": bson.M{"$lt": before}},
			bson.M{"last_settlement_at": nil, "opened_at": bson.M{"$lt": before}},
		},
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "opened_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("streampay/mongo: list stale channels: %w", err)
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
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"channel_id": channelID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("streampay/mongo: list settlements: %w", err)
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
	pipeline := bson.A{
		bson.M{
			"$match": bson.M{"channel_id": channelID.String()},
		},
		bson.M{
			"$group": bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": "$amount"},
			},
		},
	}

	cursor, err := s.mdb.Collection(colSettlements).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("streampay/mongo: sum settlements: %w", err)
	}
	defer cursor.Close(ctx)

	var row struct {
		Total int64 `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&row); err != nil {
			return 0, fmt.Errorf("streampay/mongo: decode settlement sum: %w", err)
		}
	}
	return row.Total, cursor.Err()
}

// ==================== Credit Store ====================

func (s *Store) GetCredit(ctx context.Context, viewerID, contentID string) (*credit.StreamCredit, error) {
	var m creditModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"viewer_id": viewerID, "content_id": contentID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, streampay.ErrCreditNotFound
		}
		return nil, fmt.Errorf("streampay/mongo: get credit: %w", err)
	}
	return fromCreditModel(&m)
}

func (s *Store) AddCredit(ctx context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, error) {
	now := time.Now().UTC()
	_, err := s.mdb.NewUpdate((*creditModel)(nil)).
		Filter(bson.M{"viewer_id": viewerID, "content_id": contentID}).
		SetUpdate(bson.M{
			"$inc": bson.M{"seconds_remaining": seconds},
			"$set": bson.M{"updated_at": now},
			"$setOnInsert": bson.M{
				"_id":        id.NewCreditID().String(),
				"viewer_id":  viewerID,
				"content_id": contentID,
				"created_at": now,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("streampay/mongo: add credit: %w", err)
	}
	return s.GetCredit(ctx, viewerID, contentID)
}

func (s *Store) ConsumeCredit(ctx context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, bool, error) {
	res, err := s.mdb.NewUpdate((*creditModel)(nil)).
		Filter(bson.M{
			"viewer_id":         viewerID,
			"content_id":        contentID,
			"seconds_remaining": bson.M{"$gte": seconds},
		}).
		SetUpdate(bson.M{
			"$inc": bson.M{"seconds_remaining": -seconds},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		}).
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("streampay/mongo: consume credit: %w", err)
	}

	cr, err := s.GetCredit(ctx, viewerID, contentID)
	if err != nil {
		if errors.Is(err, streampay.ErrCreditNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return cr, res.MatchedCount() > 0, nil
}

// ==================== Tick slot Store ====================

func (s *Store) AcquireTickSlot(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	now := time.Now().UTC()

	// Upsert wins the slot when the key is absent or expired. When another
	// holder owns an unexpired slot the filter misses and the insert trips
	// the _id unique index.
	_, err := s.mdb.NewUpdate((*tickSlotModel)(nil)).
		Filter(bson.M{
			"_id":        key,
			"expires_at": bson.M{"$lte": now},
		}).
		SetUpdate(bson.M{
			"$set": bson.M{"expires_at": expiresAt.UTC()},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("streampay/mongo: acquire tick slot: %w", err)
	}
	return true, nil
}

func (s *Store) PurgeTickSlots(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*tickSlotModel)(nil)).
		Filter(bson.M{"expires_at": bson.M{"$lt": before.UTC()}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("streampay/mongo: purge tick slots: %w", err)
	}
	return res.DeletedCount(), nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all streampay collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colChannels: {
			{Keys: bson.D{{Key: "viewer_id", Value: 1}, {Key: "content_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_settlement_at", Value: 1}}},
		},
		colSettlements: {
			{Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colCredits: {
			{
				Keys:    bson.D{{Key: "viewer_id", Value: 1}, {Key: "content_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colTickSlots: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
	}
}
