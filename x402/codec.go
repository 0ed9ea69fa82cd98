// Package x402 implements the payment challenge wire protocol: the 402
// response body advertising payment requirements, the base64 JSON payment
// proof header, and the settlement confirmation header.
//
// The codec is purely structural. It performs no cryptographic
// verification — proof verification and settlement are delegated to the
// settlement executor. Its job is encode/decode plus exact-match
// validation of the amount/asset/network/payee fields a payer echoes back.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the protocol version advertised in challenge bodies.
const Version = 2

// SchemeExact is the only payment scheme this codec builds requirements for:
// the payer transfers exactly the advertised amount to the advertised payee.
const SchemeExact = "exact"

// PaymentHeader is the request header carrying an encoded payment proof.
const PaymentHeader = "X-Payment"

// ResponseHeader is the response header carrying an encoded settlement
// confirmation after a proof was accepted and settled.
const ResponseHeader = "Payment-Response"

// Sentinel errors.
var (
	// ErrInvalidPayload is returned when a payment proof header is not
	// valid base64, not valid JSON, or not a JSON object.
	ErrInvalidPayload = errors.New("x402: invalid payment payload")

	// ErrMismatch is returned when a proof's echoed requirement does not
	// exactly match the advertised requirement.
	ErrMismatch = errors.New("x402: requirement mismatch")
)

// Resource describes what the challenge is charging for.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// Requirement is one way the payer may satisfy the challenge.
// Amount is a decimal string of minor currency units.
type Requirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	Amount            string         `json:"amount"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ExactRequirement builds an exact-scheme requirement.
func ExactRequirement(network, asset, amount, payTo string, maxTimeoutSeconds int, extra map[string]any) Requirement {
	return Requirement{
		Scheme:            SchemeExact,
		Network:           network,
		Asset:             asset,
		Amount:            amount,
		PayTo:             payTo,
		MaxTimeoutSeconds: maxTimeoutSeconds,
		Extra:             extra,
	}
}

// Challenge is the 402 response body.
type Challenge struct {
	Version  int           `json:"x402Version"`
	Error    string        `json:"error"`
	Resource Resource      `json:"resource"`
	Accepts  []Requirement `json:"accepts"`
}

// NewChallenge builds a challenge body for a resource with the given
// acceptable requirements.
func NewChallenge(url, description, mimeType string, accepts ...Requirement) *Challenge {
	return &Challenge{
		Version: Version,
		Error:   "Payment required",
		Resource: Resource{
			URL:         url,
			Description: description,
			MimeType:    mimeType,
		},
		Accepts: accepts,
	}
}

// PaymentPayload is a decoded payment proof: the requirement echo the
// payer claims to satisfy plus scheme-specific proof fields. Raw holds the
// decoded JSON verbatim for forwarding to a verify-and-settle capability.
type PaymentPayload struct {
	Version  int             `json:"x402Version,omitempty"`
	Scheme   string          `json:"scheme,omitempty"`
	Network  string          `json:"network,omitempty"`
	Accepted *Requirement    `json:"accepted,omitempty"`
	Payer    string          `json:"payer,omitempty"`
	Proof    map[string]any  `json:"payload,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// DecodePaymentHeader decodes a base64 JSON payment proof header.
// Malformed base64, malformed JSON, and non-object payloads all fail with
// ErrInvalidPayload; callers reject the request rather than crash.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// Reject non-object payloads (arrays, scalars, null) before the
	// struct unmarshal would silently accept some of them.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return nil, ErrInvalidPayload
	}

	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.Raw = json.RawMessage(raw)

	return &p, nil
}

// EncodePaymentHeader encodes a payment proof for transmission. Used by
// payer agents and tests; the server side only decodes.
func EncodePaymentHeader(p *PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// MismatchError reports which requirement field a proof failed to match.
// It unwraps to ErrMismatch.
type MismatchError struct {
	Field string
	Got   string
	Want  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("x402: requirement mismatch: %s: got %q, want %q", e.Field, e.Got, e.Want)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// ValidateExact checks that a decoded proof's requirement echo exactly
// matches the advertised requirement. Amount, payee, asset, and network
// must all match; nothing else is inspected. Validation happens before any
// settlement call so a tampered proof never touches the ledger.
func ValidateExact(p *PaymentPayload, req Requirement) error {
	if p == nil || p.Accepted == nil {
		return &MismatchError{Field: "accepted", Got: "", Want: SchemeExact}
	}

	acc := p.Accepted
	switch {
	case acc.Scheme != req.Scheme:
		return &MismatchError{Field: "scheme", Got: acc.Scheme, Want: req.Scheme}
	case acc.Amount != req.Amount:
		return &MismatchError{Field: "amount", Got: acc.Amount, Want: req.Amount}
	case !strings.EqualFold(acc.PayTo, req.PayTo):
		return &MismatchError{Field: "payTo", Got: acc.PayTo, Want: req.PayTo}
	case !strings.EqualFold(acc.Asset, req.Asset):
		return &MismatchError{Field: "asset", Got: acc.Asset, Want: req.Asset}
	case acc.Network != req.Network:
		return &MismatchError{Field: "network", Got: acc.Network, Want: req.Network}
	}

	return nil
}

// SettlementResponse is the confirmation returned to the payer after a
// proof was accepted and settled.
type SettlementResponse struct {
	Transaction string `json:"transaction"`
	Payer       string `json:"payer"`
}

// EncodeSettlementHeader encodes a settlement confirmation for the
// Payment-Response header.
func EncodeSettlementHeader(resp SettlementResponse) string {
	raw, _ := json.Marshal(resp)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeSettlementHeader decodes a Payment-Response header. Used by payer
// agents and tests.
func DecodeSettlementHeader(header string) (SettlementResponse, error) {
	var resp SettlementResponse

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return resp, fmt.Errorf("x402: invalid settlement response: %w", err)
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, fmt.Errorf("x402: invalid settlement response: %w", err)
	}

	return resp, nil
}
