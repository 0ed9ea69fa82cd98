package streampay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/streampay"
	"github.com/xraph/streampay/x402"
)

// chunkProof builds a proof header echoing the advertised requirement for
// one chunk of the test content.
func chunkProof(t *testing.T, payer string, mutate func(*x402.Requirement)) string {
	t.Helper()

	req := x402.ExactRequirement(
		streampay.DefaultNetwork,
		streampay.DefaultAsset,
		"500", // 10s chunk at 50/s
		"0xSeller",
		streampay.DefaultMaxTimeoutSeconds,
		nil,
	)
	if mutate != nil {
		mutate(&req)
	}

	header, err := x402.EncodePaymentHeader(&x402.PaymentPayload{
		Version:  x402.Version,
		Scheme:   x402.SchemeExact,
		Network:  req.Network,
		Accepted: &req,
		Payer:    payer,
	})
	if err != nil {
		t.Fatal(err)
	}
	return header
}

func TestStreamChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Stream(ctx, streampay.StreamRequest{
		ViewerID:  testViewer,
		ContentID: testContent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted {
		t.Fatal("granted without credit or proof")
	}
	if res.Challenge == nil {
		t.Fatal("challenge missing")
	}

	c := res.Challenge
	if c.Version != 2 {
		t.Errorf("x402Version = %d, want 2", c.Version)
	}
	if c.Error != "Payment required" {
		t.Errorf("error = %q, want %q", c.Error, "Payment required")
	}
	if c.Resource.URL != "/content/vid_1/stream" {
		t.Errorf("resource url = %q", c.Resource.URL)
	}
	if c.Resource.MimeType != "video/mp4" {
		t.Errorf("mime type = %q", c.Resource.MimeType)
	}
	if len(c.Accepts) != 1 {
		t.Fatalf("accepts = %d entries, want 1", len(c.Accepts))
	}
	req := c.Accepts[0]
	if req.Scheme != x402.SchemeExact {
		t.Errorf("scheme = %q", req.Scheme)
	}
	if req.Amount != "500" {
		t.Errorf("amount = %q, want 500", req.Amount)
	}
	if req.PayTo != "0xSeller" {
		t.Errorf("payTo = %q", req.PayTo)
	}
}

func TestStreamWithProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Stream(ctx, streampay.StreamRequest{
		ViewerID:      testViewer,
		ContentID:     testContent,
		PaymentHeader: chunkProof(t, "0xViewer", nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Granted {
		t.Fatal("proof rejected")
	}
	if res.PlaybackURL == "" {
		t.Error("playback url missing")
	}

	resp, err := x402.DecodeSettlementHeader(res.PaymentResponse)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Transaction == "" {
		t.Error("settlement tx missing")
	}
	if resp.Payer != "0xViewer" {
		t.Errorf("payer = %q, want 0xViewer", resp.Payer)
	}

	// The paid chunk lands on the channel as one mutation: accrual and
	// settlement together.
	ch, err := env.store.GetActiveChannel(ctx, testViewer, testContent)
	if err != nil {
		t.Fatal(err)
	}
	if ch.SecondsStreamed != 10 {
		t.Errorf("seconds = %d, want 10", ch.SecondsStreamed)
	}
	if ch.AmountOwed != 500 || ch.AmountSettled != 500 {
		t.Errorf("owed/settled = %d/%d, want 500/500", ch.AmountOwed, ch.AmountSettled)
	}
	if !ch.Consistent() {
		t.Error("channel ledger inconsistent")
	}
}

func TestStreamRejectsMismatchedProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]func(*x402.Requirement){
		"wrong amount":  func(r *x402.Requirement) { r.Amount = "600" },
		"wrong payee":   func(r *x402.Requirement) { r.PayTo = "0xAttacker" },
		"wrong network": func(r *x402.Requirement) { r.Network = "eip155:1" },
		"wrong asset":   func(r *x402.Requirement) { r.Asset = "0xdead" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.engine.Stream(ctx, streampay.StreamRequest{
				ViewerID:      testViewer,
				ContentID:     testContent,
				PaymentHeader: chunkProof(t, "0xViewer", mutate),
			})
			if err == nil {
				t.Fatal("tampered proof accepted")
			}
			if !streampay.IsPaymentError(err) {
				t.Errorf("got %v, want payment error", err)
			}
		})
	}

	t.Run("garbage header", func(t *testing.T) {
		_, err := env.engine.Stream(ctx, streampay.StreamRequest{
			ViewerID:      testViewer,
			ContentID:     testContent,
			PaymentHeader: "!!!",
		})
		if !streampay.IsPaymentError(err) {
			t.Errorf("got %v, want payment error", err)
		}
	})

	// A rejected proof must leave no trace in the ledger.
	if _, err := env.store.GetActiveChannel(ctx, testViewer, testContent); !errors.Is(err, streampay.ErrChannelNotFound) {
		t.Errorf("rejected proofs opened a channel: %v", err)
	}
}

func TestPayChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Pay(ctx, streampay.PayRequest{
		ViewerID:  testViewer,
		ContentID: testContent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Challenge == nil {
		t.Fatal("challenge missing")
	}
	if res.Challenge.Resource.URL != "/content/vid_1/pay" {
		t.Errorf("resource url = %q", res.Challenge.Resource.URL)
	}
}

func TestPayThenStreamConsumesCredit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pay, err := env.engine.Pay(ctx, streampay.PayRequest{
		ViewerID:      testViewer,
		ContentID:     testContent,
		PaymentHeader: chunkProof(t, "0xViewer", nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if pay.SecondsRemaining != 10 {
		t.Errorf("credit = %d seconds, want 10", pay.SecondsRemaining)
	}
	if pay.Channel == nil {
		t.Fatal("channel missing from pay result")
	}
	// The purchase accounted the chunk on the channel in full.
	if pay.Channel.SecondsStreamed != 10 || pay.Channel.AmountOwed != 500 || pay.Channel.AmountSettled != 500 {
		t.Errorf("channel after pay = %d/%d/%d, want 10/500/500",
			pay.Channel.SecondsStreamed, pay.Channel.AmountOwed, pay.Channel.AmountSettled)
	}

	// Consuming the credit grants playback without touching the channel.
	res, err := env.engine.Stream(ctx, streampay.StreamRequest{
		ViewerID:  testViewer,
		ContentID: testContent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Granted {
		t.Fatal("credit not consumed")
	}
	if res.SecondsRemaining != 0 {
		t.Errorf("remaining = %d, want 0", res.SecondsRemaining)
	}

	ch, err := env.engine.GetChannel(ctx, pay.Channel.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ch.SecondsStreamed != 10 || ch.AmountOwed != 500 || ch.AmountSettled != 500 {
		t.Errorf("credit consumption mutated the channel: %d/%d/%d",
			ch.SecondsStreamed, ch.AmountOwed, ch.AmountSettled)
	}

	// Credit exhausted: the next request is challenged again.
	res, err = env.engine.Stream(ctx, streampay.StreamRequest{
		ViewerID:  testViewer,
		ContentID: testContent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted {
		t.Error("granted with exhausted credit and no proof")
	}
}

func TestStreamPartialCreditNotConsumed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 5 seconds of credit cannot cover a 10 second chunk.
	if _, err := env.store.AddCredit(ctx, testViewer, testContent, 5); err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.Stream(ctx, streampay.StreamRequest{
		ViewerID:  testViewer,
		ContentID: testContent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted {
		t.Fatal("granted on partial credit")
	}
	if res.Challenge == nil {
		t.Fatal("challenge missing")
	}

	cr, err := env.engine.Credit(ctx, testViewer, testContent)
	if err != nil {
		t.Fatal(err)
	}
	if cr.SecondsRemaining != 5 {
		t.Errorf("partial credit decremented: %d, want 5", cr.SecondsRemaining)
	}
}

func TestStreamSellerNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Stream(ctx, streampay.StreamRequest{
		ViewerID:  testViewer,
		ContentID: "vid_noseller",
	})
	if !errors.Is(err, streampay.ErrSellerNotConfigured) {
		t.Errorf("got %v, want ErrSellerNotConfigured", err)
	}
	if !streampay.IsConfigError(err) {
		t.Error("seller misconfiguration should classify as config error")
	}
}

func TestStreamValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Stream(ctx, streampay.StreamRequest{ContentID: testContent}); !errors.Is(err, streampay.ErrInvalidInput) {
		t.Errorf("missing viewer: got %v", err)
	}
	if _, err := env.engine.Pay(ctx, streampay.PayRequest{ViewerID: testViewer}); !errors.Is(err, streampay.ErrInvalidInput) {
		t.Errorf("missing content: got %v", err)
	}
}

func TestRepeatedPaymentsAccumulate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.clock.Advance(10 * time.Second)
		res, err := env.engine.Stream(ctx, streampay.StreamRequest{
			ViewerID:      testViewer,
			ContentID:     testContent,
			PaymentHeader: chunkProof(t, "0xViewer", nil),
		})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Granted {
			t.Fatalf("payment %d rejected", i)
		}
	}

	ch, err := env.store.GetActiveChannel(ctx, testViewer, testContent)
	if err != nil {
		t.Fatal(err)
	}
	if ch.SecondsStreamed != 30 || ch.AmountOwed != 1500 || ch.AmountSettled != 1500 {
		t.Errorf("channel = %d/%d/%d, want 30/1500/1500",
			ch.SecondsStreamed, ch.AmountOwed, ch.AmountSettled)
	}

	rows, err := env.engine.Settlements(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("settlement rows = %d, want 3", len(rows))
	}
}
