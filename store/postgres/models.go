package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/credit"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/settlement"
	"github.com/xraph/streampay/types"
)

// ==================== Channel models ====================

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

// ==================== Settlement models ====================

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

// ==================== Credit models ====================

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

// ==================== Tick slot models ====================

type tickSlotModel struct {
	grove.BaseModel `grove:"table:streampay_tick_slots"`

	SlotKey   string    `grove:"slot_key,pk"`
	ExpiresAt time.Time `grove:"expires_at"`
}
