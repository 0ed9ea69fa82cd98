package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/streampay"
	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/credit"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/settlement"
)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Channel storage
	channels map[string]*channel.Channel

	// Settlement storage, keyed by channel ID
	settlements map[string][]*settlement.Settlement

	// Credit storage, keyed by viewer:content
	credits map[string]*credit.StreamCredit

	// Tick slot dedup
	tickSlots map[string]time.Time
}

func New() *Store {
	return &Store{
		channels:    make(map[string]*channel.Channel),
		settlements: make(map[string][]*settlement.Settlement),
		credits:     make(map[string]*credit.StreamCredit),
		tickSlots:   make(map[string]time.Time),
	}
}

// guard rejects operations after Close. Callers hold mu.
func (s *Store) guard() error {
	if s.closed {
		return streampay.ErrStoreClosed
	}
	return nil
}

// Channel Store implementation
func (s *Store) CreateChannel(_ context.Context, c *channel.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return err
	}
	if _, exists := s.channels[c.ID.String()]; exists {
		return streampay.ErrInvalidInput
	}
	s.channels[c.ID.String()] = cloneChannel(c)
	return nil
}

func (s *Store) GetChannel(_ context.Context, channelID id.ChannelID) (*channel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.channels[channelID.String()]; ok {
		return cloneChannel(c), nil
	}
	return nil, streampay.ErrChannelNotFound
}

func (s *Store) GetActiveChannel(_ context.Context, viewerID, contentID string) (*channel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.channels {
		if c.ViewerID == viewerID && c.ContentID == contentID && c.Status == channel.StatusActive {
			return cloneChannel(c), nil
		}
	}
	return nil, streampay.ErrChannelNotFound
}

func (s *Store) ApplyChannelMutation(_ context.Context, mut channel.Mutation) (*channel.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return nil, err
	}
	c, ok := s.channels[mut.ChannelID.String()]
	if !ok {
		return nil, streampay.ErrChannelNotFound
	}
	if c.Status != channel.StatusActive {
		return nil, streampay.ErrChannelClosed
	}

	c.SecondsStreamed += mut.AddSeconds
	c.AmountOwed += mut.AddOwed
	if mut.Tick {
		t := mut.Now
		c.LastTickAt = &t
	}
	if mut.Settle != nil {
		stl := &settlement.Settlement{
			ID:        mut.Settle.SettlementID,
			ChannelID: c.ID,
			Amount:    mut.Settle.Amount,
			Currency:  c.Currency,
			TxRef:     mut.Settle.TxRef,
			Payer:     mut.Settle.Payer,
			CreatedAt: mut.Now,
		}
		s.settlements[c.ID.String()] = append(s.settlements[c.ID.String()], stl)
		c.AmountSettled += mut.Settle.Amount
		t := mut.Now
		c.LastSettlementAt = &t
	}
	if mut.Close {
		c.Status = channel.StatusClosed
		t := mut.Now
		c.ClosedAt = &t
	}
	c.UpdatedAt = mut.Now

	return cloneChannel(c), nil
}

func (s *Store) ListStaleChannels(_ context.Context, settledBefore time.Time, limit int) ([]*channel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*channel.Channel, 0)
	for _, c := range s.channels {
		if c.Status != channel.StatusActive || c.Unpaid() <= 0 {
			continue
		}
		if c.SettlementRef().Before(settledBefore) {
			result = append(result, cloneChannel(c))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Settlement Store implementation
func (s *Store) ListSettlements(_ context.Context, channelID id.ChannelID) ([]*settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.settlements[channelID.String()]
	result := make([]*settlement.Settlement, len(rows))
	for i, stl := range rows {
		cp := *stl
		result[i] = &cp
	}
	return result, nil
}

func (s *Store) SumSettlements(_ context.Context, channelID id.ChannelID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, stl := range s.settlements[channelID.String()] {
		total += stl.Amount
	}
	return total, nil
}

// Credit Store implementation
func (s *Store) GetCredit(_ context.Context, viewerID, contentID string) (*credit.StreamCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cr, ok := s.credits[creditKey(viewerID, contentID)]; ok {
		cp := *cr
		return &cp, nil
	}
	return nil, streampay.ErrCreditNotFound
}

func (s *Store) AddCredit(_ context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return nil, err
	}
	key := creditKey(viewerID, contentID)
	cr, ok := s.credits[key]
	if !ok {
		cr = &credit.StreamCredit{
			ID:        id.NewCreditID(),
			ViewerID:  viewerID,
			ContentID: contentID,
		}
		cr.CreatedAt = time.Now()
		s.credits[key] = cr
	}
	cr.SecondsRemaining += seconds
	cr.UpdatedAt = time.Now()

	cp := *cr
	return &cp, nil
}

func (s *Store) ConsumeCredit(_ context.Context, viewerID, contentID string, seconds int64) (*credit.StreamCredit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return nil, false, err
	}
	cr, ok := s.credits[creditKey(viewerID, contentID)]
	if !ok || cr.SecondsRemaining < seconds {
		if cr == nil {
			return nil, false, nil
		}
		cp := *cr
		return &cp, false, nil
	}

	cr.SecondsRemaining -= seconds
	cr.UpdatedAt = time.Now()

	cp := *cr
	return &cp, true, nil
}

// Tick slot implementation
func (s *Store) AcquireTickSlot(_ context.Context, key string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return false, err
	}
	now := time.Now()
	if exp, held := s.tickSlots[key]; held && now.Before(exp) {
		return false, nil
	}
	s.tickSlots[key] = expiresAt
	return true, nil
}

func (s *Store) PurgeTickSlots(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, exp := range s.tickSlots {
		if exp.Before(before) {
			delete(s.tickSlots, key)
			count++
		}
	}
	return count, nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guard()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Helper functions
func creditKey(viewerID, contentID string) string {
	return viewerID + ":" + contentID
}

// cloneChannel copies a channel so callers never share the stored value
// with the background settlement worker.
func cloneChannel(c *channel.Channel) *channel.Channel {
	cp := *c
	if c.LastTickAt != nil {
		t := *c.LastTickAt
		cp.LastTickAt = &t
	}
	if c.LastSettlementAt != nil {
		t := *c.LastSettlementAt
		cp.LastSettlementAt = &t
	}
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}
