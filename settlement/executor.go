package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/x402"
)

// Request asks the executor to move the unpaid balance of a channel.
type Request struct {
	ChannelID id.ChannelID
	Payer     string // viewer wallet/account, may be empty
	Payee     string // seller address
	Amount    int64  // minor units, > 0
	Currency  string
	Asset     string
	Network   string
	Meta      map[string]string
}

// Receipt is the executor's confirmation of a completed transfer.
type Receipt struct {
	TxRef string // external transaction reference
	Payer string
}

// Executor is the external value-transfer capability. A timeout is a
// failure, never an ambiguous success: callers bound each call with a
// context deadline and abort the triggering operation on error.
type Executor interface {
	Settle(ctx context.Context, req Request) (Receipt, error)
}

// Verifier verifies a payment proof against the advertised requirement
// and settles it in one call. The codec has already validated the proof
// structurally; the verifier owns the cryptographic side.
type Verifier interface {
	VerifySettle(ctx context.Context, payload *x402.PaymentPayload, req x402.Requirement) (Receipt, error)
}

// Simulator is an Executor and Verifier that records transfers without
// touching a rail. Used in development and tests.
type Simulator struct{}

// NewSimulator creates a simulated executor.
func NewSimulator() *Simulator { return &Simulator{} }

// Settle returns a simulated transaction reference.
func (s *Simulator) Settle(_ context.Context, req Request) (Receipt, error) {
	payer := req.Payer
	if payer == "" {
		payer = "unknown"
	}
	return Receipt{TxRef: "simulated:" + uuid.NewString(), Payer: payer}, nil
}

// VerifySettle accepts any structurally valid proof and returns a
// simulated transaction reference.
func (s *Simulator) VerifySettle(_ context.Context, payload *x402.PaymentPayload, _ x402.Requirement) (Receipt, error) {
	payer := "unknown"
	if payload != nil && payload.Payer != "" {
		payer = payload.Payer
	}
	return Receipt{TxRef: "simulated:" + uuid.NewString(), Payer: payer}, nil
}
