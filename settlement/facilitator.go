package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/streampay/x402"
)

// FacilitatorClient talks to an x402 gateway facilitator over HTTP. It
// verifies and settles payment proofs (Verifier) and advertises the
// gateway's supported payment kinds (x402.KindsSource).
type FacilitatorClient struct {
	baseURL string
	httpc   *http.Client
}

// FacilitatorOption configures a FacilitatorClient.
type FacilitatorOption func(*FacilitatorClient)

// WithHTTPClient sets the HTTP client used for facilitator calls.
func WithHTTPClient(c *http.Client) FacilitatorOption {
	return func(f *FacilitatorClient) {
		f.httpc = c
	}
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, opts ...FacilitatorOption) *FacilitatorClient {
	f := &FacilitatorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

type verifySettleRequest struct {
	PaymentPayload json.RawMessage  `json:"paymentPayload"`
	Requirements   x402.Requirement `json:"requirements"`
}

type verifySettleResponse struct {
	Transaction string `json:"transaction"`
	Payer       string `json:"payer"`
}

// VerifySettle forwards the raw proof and the advertised requirement to
// the facilitator's verify-settle endpoint. The facilitator verifies the
// proof cryptographically and submits the transfer; a missing transaction
// reference in its response is a failure.
func (f *FacilitatorClient) VerifySettle(ctx context.Context, payload *x402.PaymentPayload, req x402.Requirement) (Receipt, error) {
	body, err := json.Marshal(verifySettleRequest{
		PaymentPayload: payload.Raw,
		Requirements:   req,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("settlement: encode verify-settle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/verify-settle", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpc.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("settlement: facilitator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Receipt{}, fmt.Errorf("settlement: facilitator verify-settle failed: status %d", resp.StatusCode)
	}

	var decoded verifySettleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return Receipt{}, fmt.Errorf("settlement: decode verify-settle response: %w", err)
	}
	if decoded.Transaction == "" {
		return Receipt{}, fmt.Errorf("settlement: facilitator returned no transaction reference")
	}
	if decoded.Payer == "" {
		decoded.Payer = "unknown"
	}

	return Receipt{TxRef: decoded.Transaction, Payer: decoded.Payer}, nil
}

// SupportedKinds fetches the gateway's supported payment kinds.
// Implements x402.KindsSource.
func (f *FacilitatorClient) SupportedKinds(ctx context.Context) (*x402.SupportedKinds, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/supported", nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("settlement: facilitator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("settlement: facilitator supported failed: status %d", resp.StatusCode)
	}

	var kinds x402.SupportedKinds
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&kinds); err != nil {
		return nil, fmt.Errorf("settlement: decode supported response: %w", err)
	}

	return &kinds, nil
}
