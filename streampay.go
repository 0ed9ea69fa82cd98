package streampay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/content"
	"github.com/xraph/streampay/credit"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/plugin"
	"github.com/xraph/streampay/settlement"
	"github.com/xraph/streampay/store"
	"github.com/xraph/streampay/ticklock"
	"github.com/xraph/streampay/types"
	"github.com/xraph/streampay/x402"
)

// Default configuration values.
const (
	// DefaultChunkSeconds is the playback increment granted per paid chunk.
	DefaultChunkSeconds int64 = 10

	// DefaultNetwork is the CAIP-2 identifier of the default payment rail.
	DefaultNetwork = "eip155:5042002"

	// DefaultAsset is the settlement asset contract on the default rail.
	DefaultAsset = "0x3600000000000000000000000000000000000000"

	// DefaultMaxTimeoutSeconds bounds how long a payment authorization
	// stays valid.
	DefaultMaxTimeoutSeconds = 345600

	defaultSweepInterval   = 60 * time.Second
	defaultExecutorTimeout = 30 * time.Second
	defaultTickLease       = 12 * time.Second
)

// Engine is the main pay-per-second streaming engine.
type Engine struct {
	store    store.Store
	catalog  content.Catalog
	executor settlement.Executor
	verifier settlement.Verifier
	lock     ticklock.Lock
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    func() time.Time

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	chunkSeconds    int64
	tickLease       time.Duration
	policy          settlement.Policy
	network         string
	asset           string
	maxTimeout      int
	defaultExtra    map[string]any
	kinds           *x402.KindsCache
	sweepInterval   time.Duration
	executorTimeout time.Duration
}

// New creates a new Engine instance.
func New(s store.Store, catalog content.Catalog, opts ...Option) *Engine {
	sim := settlement.NewSimulator()

	e := &Engine{
		store:           s,
		catalog:         catalog,
		executor:        sim,
		verifier:        sim,
		lock:            ticklock.NewMemory(),
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		clock:           time.Now,
		stopChan:        make(chan struct{}),
		chunkSeconds:    DefaultChunkSeconds,
		tickLease:       defaultTickLease,
		policy:          settlement.DefaultPolicy(),
		network:         DefaultNetwork,
		asset:           DefaultAsset,
		maxTimeout:      DefaultMaxTimeoutSeconds,
		defaultExtra:    map[string]any{"name": "USDC", "version": "2"},
		sweepInterval:   defaultSweepInterval,
		executorTimeout: defaultExecutorTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock substitutes the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithTickLock sets the tick dedup lock backend.
func WithTickLock(l ticklock.Lock) Option {
	return func(e *Engine) {
		e.lock = l
	}
}

// WithExecutor sets the settlement executor.
func WithExecutor(ex settlement.Executor) Option {
	return func(e *Engine) {
		e.executor = ex
	}
}

// WithVerifier sets the payment proof verifier.
func WithVerifier(v settlement.Verifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

// WithChunkSeconds sets the playback increment per paid chunk.
func WithChunkSeconds(seconds int64) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.chunkSeconds = seconds
			e.tickLease = time.Duration(seconds+2) * time.Second
		}
	}
}

// WithSettlementInterval sets the minimum interval between batch
// settlements on an active channel.
func WithSettlementInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.policy = settlement.Policy{MinInterval: d}
	}
}

// WithExecutorTimeout bounds each settlement executor call.
func WithExecutorTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.executorTimeout = d
	}
}

// WithPaymentRail sets the network and asset advertised in challenges.
func WithPaymentRail(network, asset string) Option {
	return func(e *Engine) {
		e.network = network
		e.asset = asset
	}
}

// WithRequirementExtra sets the fallback extra fields for challenge
// requirements, used when no kinds source is configured or reachable.
func WithRequirementExtra(extra map[string]any) Option {
	return func(e *Engine) {
		e.defaultExtra = extra
	}
}

// WithKindsSource caches supported payment kinds from the given source
// and uses them to enrich challenge requirements.
func WithKindsSource(src x402.KindsSource, ttl time.Duration) Option {
	return func(e *Engine) {
		e.kinds = x402.NewKindsCache(src, ttl)
	}
}

// WithSweepInterval sets how often the background worker scans for
// channels with stale unpaid balances.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.sweepInterval = d
	}
}

// Start begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	// Migrate database
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	// Initialize plugins
	e.plugins.EmitInit(ctx, e)

	// Start settlement sweep worker
	e.wg.Add(1)
	go e.settlementSweepWorker(ctx)

	e.logger.Info("streampay started",
		"chunk_seconds", e.chunkSeconds,
		"settlement_interval", e.policy.MinInterval,
		"sweep_interval", e.sweepInterval,
		"network", e.network,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Channel Management
// ──────────────────────────────────────────────────

// OpenChannel opens a payment channel between a viewer and a piece of
// content, or returns the existing active one. Open is idempotent per
// (viewer, content) pair.
func (e *Engine) OpenChannel(ctx context.Context, viewerID, contentID string) (*channel.Channel, error) {
	if viewerID == "" || contentID == "" {
		return nil, ErrInvalidInput
	}

	item, err := e.catalog.GetItem(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if item.PricePerSecond <= 0 {
		return nil, ErrInvalidPrice
	}

	if existing, err := e.store.GetActiveChannel(ctx, viewerID, contentID); err == nil {
		return existing, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	now := e.clock()
	ch := &channel.Channel{
		Entity:         types.NewEntity(),
		ID:             id.NewChannelID(),
		ViewerID:       viewerID,
		ContentID:      contentID,
		PricePerSecond: item.PricePerSecond,
		Currency:       item.Currency,
		Status:         channel.StatusActive,
		OpenedAt:       now,
	}

	if err := e.store.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}

	e.plugins.EmitChannelOpened(ctx, ch)
	e.logger.Info("channel opened",
		"channel_id", ch.ID,
		"viewer_id", viewerID,
		"content_id", contentID,
		"price_per_second", ch.PricePerSecond,
	)

	return ch, nil
}

// GetChannel returns a channel snapshot.
func (e *Engine) GetChannel(ctx context.Context, channelID id.ChannelID) (*channel.Channel, error) {
	return e.store.GetChannel(ctx, channelID)
}

// Settlements lists the settlements recorded against a channel.
func (e *Engine) Settlements(ctx context.Context, channelID id.ChannelID) ([]*settlement.Settlement, error) {
	return e.store.ListSettlements(ctx, channelID)
}

// Credit returns the viewer's prepaid credit for a piece of content.
func (e *Engine) Credit(ctx context.Context, viewerID, contentID string) (*credit.StreamCredit, error) {
	return e.store.GetCredit(ctx, viewerID, contentID)
}

// TickResult reports the outcome of one tick.
type TickResult struct {
	Channel *channel.Channel `json:"channel"`

	// TickSeconds is the accrued increment: the chunk size, or zero when
	// the tick was deduplicated.
	TickSeconds int64 `json:"tick_seconds"`

	DidSettle        bool   `json:"did_settle"`
	SettlementAmount int64  `json:"settlement_amount,omitempty"`
	SettlementTx     string `json:"settlement_tx_id,omitempty"`
}

// Tick accrues one chunk of playback on an active channel. Concurrent
// ticks landing in the same wall-clock slot collapse to a single accrual.
// The engine may piggyback a batch settlement of the unpaid balance onto
// the tick; if the settlement executor fails, nothing is persisted and
// the tick can be retried.
func (e *Engine) Tick(ctx context.Context, channelID id.ChannelID) (*TickResult, error) {
	ch, err := e.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsActive() {
		return nil, ErrChannelClosed
	}

	now := e.clock()
	slot := ticklock.SlotFor(now, e.chunkSeconds)
	key := ticklock.SlotKey(ch.ID.String(), slot)

	won, err := e.lock.TryAcquire(ctx, key, e.tickLease)
	if err != nil {
		// The lock is advisory; a backend outage must not halt accrual.
		e.logger.Warn("tick lock unavailable, proceeding without dedup",
			"channel_id", ch.ID,
			"error", err,
		)
		won = true
	}
	if !won {
		e.plugins.EmitTickDeduplicated(ctx, ch.ID.String(), slot)
		return &TickResult{Channel: ch, TickSeconds: 0}, nil
	}

	addOwed := e.chunkSeconds * ch.PricePerSecond
	mut := channel.Mutation{
		ChannelID:  ch.ID,
		Now:        now,
		AddSeconds: e.chunkSeconds,
		AddOwed:    addOwed,
		Tick:       true,
	}

	result := &TickResult{TickSeconds: e.chunkSeconds}

	// Evaluate the batch settlement policy against the balance as it will
	// stand after this tick's accrual.
	unpaid := ch.Unpaid() + addOwed
	if e.policy.ShouldSettle(unpaid, ch.SettlementRef(), now, false) {
		receipt, err := e.executeSettlement(ctx, ch, unpaid)
		if err != nil {
			e.plugins.EmitSettlementFailed(ctx, ch.ID.String(), unpaid, err)
			return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
		}
		mut.Settle = &channel.SettleOp{
			SettlementID: id.NewSettlementID(),
			Amount:       unpaid,
			TxRef:        receipt.TxRef,
			Payer:        receipt.Payer,
		}
		result.DidSettle = true
		result.SettlementAmount = unpaid
		result.SettlementTx = receipt.TxRef
	}

	updated, err := e.store.ApplyChannelMutation(ctx, mut)
	if err != nil {
		return nil, err
	}
	if !updated.Consistent() {
		e.logger.Error("channel ledger inconsistent after tick",
			"channel_id", updated.ID,
			"owed", updated.AmountOwed,
			"settled", updated.AmountSettled,
		)
		return nil, ErrLedgerInconsistent
	}
	result.Channel = updated

	e.plugins.EmitTickRecorded(ctx, updated, e.chunkSeconds)
	if mut.Settle != nil {
		e.emitSettlementExecuted(ctx, updated, mut.Settle)
	}

	return result, nil
}

// CloseChannel settles any unpaid balance and closes the channel. The
// result mirrors Tick with TickSeconds zero, so callers can read whether
// the forced settlement ran and obtain its transaction reference. Closing
// an already-closed channel is a no-op returning the final snapshot. If
// the forced settlement fails the close is aborted and the channel stays
// active.
func (e *Engine) CloseChannel(ctx context.Context, channelID id.ChannelID) (*TickResult, error) {
	ch, err := e.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsActive() {
		return &TickResult{Channel: ch}, nil
	}

	now := e.clock()
	mut := channel.Mutation{
		ChannelID: ch.ID,
		Now:       now,
		Close:     true,
	}

	result := &TickResult{}

	unpaid := ch.Unpaid()
	if unpaid > 0 {
		receipt, err := e.executeSettlement(ctx, ch, unpaid)
		if err != nil {
			e.plugins.EmitSettlementFailed(ctx, ch.ID.String(), unpaid, err)
			return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
		}
		mut.Settle = &channel.SettleOp{
			SettlementID: id.NewSettlementID(),
			Amount:       unpaid,
			TxRef:        receipt.TxRef,
			Payer:        receipt.Payer,
		}
		result.DidSettle = true
		result.SettlementAmount = unpaid
		result.SettlementTx = receipt.TxRef
	}

	updated, err := e.store.ApplyChannelMutation(ctx, mut)
	if err != nil {
		if IsInvalidState(err) {
			// Lost a close race; return the final snapshot.
			final, err := e.store.GetChannel(ctx, channelID)
			if err != nil {
				return nil, err
			}
			return &TickResult{Channel: final}, nil
		}
		return nil, err
	}
	result.Channel = updated

	if mut.Settle != nil {
		e.emitSettlementExecuted(ctx, updated, mut.Settle)
	}
	e.plugins.EmitChannelClosed(ctx, updated)
	e.logger.Info("channel closed",
		"channel_id", updated.ID,
		"seconds_streamed", updated.SecondsStreamed,
		"amount_owed", updated.AmountOwed,
		"amount_settled", updated.AmountSettled,
	)

	return result, nil
}

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

// executeSettlement runs the executor for a channel's unpaid balance with
// a bounded timeout. The seller address comes from the catalog at
// settlement time.
func (e *Engine) executeSettlement(ctx context.Context, ch *channel.Channel, amount int64) (settlement.Receipt, error) {
	item, err := e.catalog.GetItem(ctx, ch.ContentID)
	if err != nil {
		return settlement.Receipt{}, err
	}
	if item.SellerAddress == "" {
		return settlement.Receipt{}, ErrSellerNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, e.executorTimeout)
	defer cancel()

	return e.executor.Settle(callCtx, settlement.Request{
		ChannelID: ch.ID,
		Payer:     ch.ViewerID,
		Payee:     item.SellerAddress,
		Amount:    amount,
		Currency:  ch.Currency,
		Asset:     e.asset,
		Network:   e.network,
	})
}

func (e *Engine) emitSettlementExecuted(ctx context.Context, ch *channel.Channel, op *channel.SettleOp) {
	stl := &settlement.Settlement{
		ID:        op.SettlementID,
		ChannelID: ch.ID,
		Amount:    op.Amount,
		Currency:  ch.Currency,
		TxRef:     op.TxRef,
		Payer:     op.Payer,
		CreatedAt: ch.UpdatedAt,
	}
	e.plugins.EmitSettlementExecuted(ctx, stl)
}

// settlementSweepWorker periodically settles channels whose unpaid
// balance has gone stale (no tick arrived to piggyback a settlement on)
// and purges expired tick slots.
func (e *Engine) settlementSweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

const sweepBatchSize = 50

func (e *Engine) sweepOnce(ctx context.Context) {
	now := e.clock()

	stale, err := e.store.ListStaleChannels(ctx, now.Add(-e.policy.MinInterval), sweepBatchSize)
	if err != nil {
		e.logger.Error("settlement sweep scan failed", "error", err)
		return
	}

	for _, ch := range stale {
		unpaid := ch.Unpaid()
		receipt, err := e.executeSettlement(ctx, ch, unpaid)
		if err != nil {
			e.plugins.EmitSettlementFailed(ctx, ch.ID.String(), unpaid, err)
			e.logger.Warn("sweep settlement failed",
				"channel_id", ch.ID,
				"amount", unpaid,
				"error", err,
			)
			continue
		}

		op := &channel.SettleOp{
			SettlementID: id.NewSettlementID(),
			Amount:       unpaid,
			TxRef:        receipt.TxRef,
			Payer:        receipt.Payer,
		}
		updated, err := e.store.ApplyChannelMutation(ctx, channel.Mutation{
			ChannelID: ch.ID,
			Now:       now,
			Settle:    op,
		})
		if err != nil {
			// The channel may have been closed or settled concurrently.
			e.logger.Warn("sweep settlement apply failed",
				"channel_id", ch.ID,
				"error", err,
			)
			continue
		}

		e.emitSettlementExecuted(ctx, updated, op)
		e.logger.Debug("swept stale channel",
			"channel_id", updated.ID,
			"amount", unpaid,
		)
	}

	if purged, err := e.store.PurgeTickSlots(ctx, now); err == nil && purged > 0 {
		e.logger.Debug("purged tick slots", "count", purged)
	}
}
