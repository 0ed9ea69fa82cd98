package streampay

import (
	"context"
	"fmt"

	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/content"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/settlement"
	"github.com/xraph/streampay/types"
	"github.com/xraph/streampay/x402"
)

// ──────────────────────────────────────────────────
// Credit Gate
// ──────────────────────────────────────────────────

// StreamRequest asks the gate for one playback increment.
type StreamRequest struct {
	ViewerID  string
	ContentID string

	// ResourceURL is echoed into the challenge body. Optional; defaults
	// to the content stream path.
	ResourceURL string

	// PaymentHeader is the raw X-Payment header value, empty when the
	// viewer attached no proof.
	PaymentHeader string
}

// StreamResult is the gate's decision for one playback increment.
type StreamResult struct {
	// Granted is true when playback was authorized, either from prepaid
	// credit or from an accepted payment proof.
	Granted bool `json:"granted"`

	PlaybackURL      string `json:"playback_url,omitempty"`
	SecondsRemaining int64  `json:"seconds_remaining"`

	// PaymentResponse carries the encoded settlement confirmation when a
	// proof was accepted this request.
	PaymentResponse string `json:"-"`

	// Challenge is set when payment is required.
	Challenge *x402.Challenge `json:"challenge,omitempty"`
}

// Stream authorizes one chunk of playback. Prepaid credit is consumed
// first; otherwise an attached payment proof is validated, verified and
// settled; otherwise a payment challenge is returned with Granted false.
func (e *Engine) Stream(ctx context.Context, req StreamRequest) (*StreamResult, error) {
	if req.ViewerID == "" || req.ContentID == "" {
		return nil, ErrInvalidInput
	}

	item, err := e.catalog.GetItem(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	requirement, err := e.chunkRequirement(ctx, item)
	if err != nil {
		return nil, err
	}

	// Prepaid credit covers the chunk: consume and grant, no channel
	// accrual. The chunk was accounted in full when the credit was
	// purchased.
	cr, ok, err := e.store.ConsumeCredit(ctx, req.ViewerID, req.ContentID, e.chunkSeconds)
	if err != nil {
		return nil, err
	}
	if ok {
		e.plugins.EmitCreditConsumed(ctx, req.ViewerID, req.ContentID, e.chunkSeconds)
		e.plugins.EmitPlaybackGranted(ctx, req.ViewerID, req.ContentID, e.chunkSeconds)
		return &StreamResult{
			Granted:          true,
			PlaybackURL:      item.PlaybackURL,
			SecondsRemaining: cr.SecondsRemaining,
		}, nil
	}

	if req.PaymentHeader != "" {
		receipt, err := e.acceptProof(ctx, req.ViewerID, req.ContentID, req.PaymentHeader, requirement)
		if err != nil {
			return nil, err
		}

		ch, err := e.OpenChannel(ctx, req.ViewerID, req.ContentID)
		if err != nil {
			return nil, err
		}
		if _, err := e.recordPaidChunk(ctx, ch, receipt); err != nil {
			return nil, err
		}

		e.plugins.EmitPlaybackGranted(ctx, req.ViewerID, req.ContentID, e.chunkSeconds)

		var remaining int64
		if cr != nil {
			remaining = cr.SecondsRemaining
		}
		return &StreamResult{
			Granted:          true,
			PlaybackURL:      item.PlaybackURL,
			SecondsRemaining: remaining,
			PaymentResponse: x402.EncodeSettlementHeader(x402.SettlementResponse{
				Transaction: receipt.TxRef,
				Payer:       receipt.Payer,
			}),
		}, nil
	}

	e.plugins.EmitChallengeIssued(ctx, req.ViewerID, req.ContentID)

	url := req.ResourceURL
	if url == "" {
		url = "/content/" + item.ID + "/stream"
	}
	return &StreamResult{
		Granted:   false,
		Challenge: e.newChallenge(url, item, requirement),
	}, nil
}

// PayRequest purchases one prepaid chunk of playback.
type PayRequest struct {
	ViewerID  string
	ContentID string

	// ResourceURL is echoed into the challenge body. Optional; defaults
	// to the content pay path.
	ResourceURL string

	// PaymentHeader is the raw X-Payment header value.
	PaymentHeader string
}

// PayResult reports a prepaid chunk purchase.
type PayResult struct {
	Channel          *channel.Channel `json:"channel,omitempty"`
	SecondsRemaining int64            `json:"seconds_remaining"`

	// PaymentResponse carries the encoded settlement confirmation.
	PaymentResponse string `json:"-"`

	// Challenge is set when no proof was attached.
	Challenge *x402.Challenge `json:"challenge,omitempty"`
}

// Pay purchases one chunk of prepaid credit with a payment proof. The
// chunk is accounted on the channel in full at purchase time; later
// consumption through Stream only decrements the credit.
func (e *Engine) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	if req.ViewerID == "" || req.ContentID == "" {
		return nil, ErrInvalidInput
	}

	item, err := e.catalog.GetItem(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	requirement, err := e.chunkRequirement(ctx, item)
	if err != nil {
		return nil, err
	}

	if req.PaymentHeader == "" {
		e.plugins.EmitChallengeIssued(ctx, req.ViewerID, req.ContentID)

		url := req.ResourceURL
		if url == "" {
			url = "/content/" + item.ID + "/pay"
		}
		return &PayResult{Challenge: e.newChallenge(url, item, requirement)}, nil
	}

	receipt, err := e.acceptProof(ctx, req.ViewerID, req.ContentID, req.PaymentHeader, requirement)
	if err != nil {
		return nil, err
	}

	ch, err := e.OpenChannel(ctx, req.ViewerID, req.ContentID)
	if err != nil {
		return nil, err
	}
	updated, err := e.recordPaidChunk(ctx, ch, receipt)
	if err != nil {
		return nil, err
	}

	cr, err := e.store.AddCredit(ctx, req.ViewerID, req.ContentID, e.chunkSeconds)
	if err != nil {
		return nil, err
	}
	e.plugins.EmitCreditToppedUp(ctx, req.ViewerID, req.ContentID, e.chunkSeconds)
	e.logger.Info("credit purchased",
		"viewer_id", req.ViewerID,
		"content_id", req.ContentID,
		"seconds", e.chunkSeconds,
		"tx_ref", receipt.TxRef,
	)

	return &PayResult{
		Channel:          updated,
		SecondsRemaining: cr.SecondsRemaining,
		PaymentResponse: x402.EncodeSettlementHeader(x402.SettlementResponse{
			Transaction: receipt.TxRef,
			Payer:       receipt.Payer,
		}),
	}, nil
}

// ──────────────────────────────────────────────────
// Proof handling
// ──────────────────────────────────────────────────

// acceptProof decodes and validates a payment proof and verify-settles it.
// Validation failures reject the proof before any settlement attempt.
func (e *Engine) acceptProof(ctx context.Context, viewerID, contentID, header string, req x402.Requirement) (settlement.Receipt, error) {
	payload, err := x402.DecodePaymentHeader(header)
	if err != nil {
		e.plugins.EmitPaymentRejected(ctx, viewerID, contentID, "invalid payload")
		return settlement.Receipt{}, err
	}

	if err := x402.ValidateExact(payload, req); err != nil {
		e.plugins.EmitPaymentRejected(ctx, viewerID, contentID, err.Error())
		return settlement.Receipt{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.executorTimeout)
	defer cancel()

	receipt, err := e.verifier.VerifySettle(callCtx, payload, req)
	if err != nil {
		e.plugins.EmitPaymentRejected(ctx, viewerID, contentID, "settlement failed")
		return settlement.Receipt{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	return receipt, nil
}

// recordPaidChunk accrues one chunk and its settlement on the channel in
// a single mutation, so settled never exceeds owed at any point.
func (e *Engine) recordPaidChunk(ctx context.Context, ch *channel.Channel, receipt settlement.Receipt) (*channel.Channel, error) {
	amount := e.chunkSeconds * ch.PricePerSecond

	op := &channel.SettleOp{
		SettlementID: id.NewSettlementID(),
		Amount:       amount,
		TxRef:        receipt.TxRef,
		Payer:        receipt.Payer,
	}
	updated, err := e.store.ApplyChannelMutation(ctx, channel.Mutation{
		ChannelID:  ch.ID,
		Now:        e.clock(),
		AddSeconds: e.chunkSeconds,
		AddOwed:    amount,
		Settle:     op,
	})
	if err != nil {
		return nil, err
	}

	e.emitSettlementExecuted(ctx, updated, op)
	return updated, nil
}

// ──────────────────────────────────────────────────
// Challenge building
// ──────────────────────────────────────────────────

// chunkRequirement builds the exact-scheme requirement for one chunk of
// the given content.
func (e *Engine) chunkRequirement(ctx context.Context, item *content.Item) (x402.Requirement, error) {
	if item.SellerAddress == "" {
		return x402.Requirement{}, ErrSellerNotConfigured
	}

	amount := e.chunkSeconds * item.PricePerSecond
	if amount <= 0 {
		return x402.Requirement{}, ErrInvalidPrice
	}

	extra := e.kinds.ExtraFor(ctx, x402.SchemeExact, e.network)
	if extra == nil {
		extra = e.defaultExtra
	}

	price := types.Money{Amount: amount, Currency: item.Currency}
	return x402.ExactRequirement(e.network, e.asset, price.MinorString(), item.SellerAddress, e.maxTimeout, extra), nil
}

func (e *Engine) newChallenge(url string, item *content.Item, req x402.Requirement) *x402.Challenge {
	description := fmt.Sprintf("Stream %s (%ds)", item.Title, e.chunkSeconds)
	return x402.NewChallenge(url, description, item.MimeType, req)
}
