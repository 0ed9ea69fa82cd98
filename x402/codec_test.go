package x402

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequirement() Requirement {
	return ExactRequirement(
		"eip155:5042002",
		"0x3600000000000000000000000000000000000000",
		"500",
		"0xSeller",
		345600,
		map[string]any{"name": "USDC", "version": "2"},
	)
}

func TestNewChallenge(t *testing.T) {
	req := testRequirement()
	c := NewChallenge("/content/vid_1/stream", "Stream Big Buck Bunny (10s)", "video/mp4", req)

	assert.Equal(t, 2, c.Version)
	assert.Equal(t, "Payment required", c.Error)
	assert.Equal(t, "/content/vid_1/stream", c.Resource.URL)
	assert.Equal(t, "video/mp4", c.Resource.MimeType)
	require.Len(t, c.Accepts, 1)
	assert.Equal(t, SchemeExact, c.Accepts[0].Scheme)
	assert.Equal(t, "500", c.Accepts[0].Amount)
}

func TestDecodePaymentHeader_RoundTrip(t *testing.T) {
	req := testRequirement()
	header, err := EncodePaymentHeader(&PaymentPayload{
		Version:  2,
		Scheme:   SchemeExact,
		Network:  req.Network,
		Accepted: &req,
		Payer:    "0xViewer",
	})
	require.NoError(t, err)

	p, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, "0xViewer", p.Payer)
	require.NotNil(t, p.Accepted)
	assert.Equal(t, "500", p.Accepted.Amount)
	assert.NotEmpty(t, p.Raw)
}

func TestDecodePaymentHeader_Malformed(t *testing.T) {
	cases := map[string]string{
		"not base64":  "!!!not-base64!!!",
		"not json":    base64.StdEncoding.EncodeToString([]byte("not json")),
		"json array":  base64.StdEncoding.EncodeToString([]byte(`[1,2,3]`)),
		"json scalar": base64.StdEncoding.EncodeToString([]byte(`42`)),
		"json null":   base64.StdEncoding.EncodeToString([]byte(`null`)),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePaymentHeader(header)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestValidateExact(t *testing.T) {
	req := testRequirement()

	echo := req
	require.NoError(t, ValidateExact(&PaymentPayload{Accepted: &echo}, req))

	t.Run("missing accepted", func(t *testing.T) {
		err := ValidateExact(&PaymentPayload{}, req)
		assert.ErrorIs(t, err, ErrMismatch)
	})

	t.Run("wrong amount", func(t *testing.T) {
		bad := req
		bad.Amount = "600"
		err := ValidateExact(&PaymentPayload{Accepted: &bad}, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMismatch)

		var mismatch *MismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, "amount", mismatch.Field)
		assert.Equal(t, "600", mismatch.Got)
		assert.Equal(t, "500", mismatch.Want)
	})

	t.Run("wrong network", func(t *testing.T) {
		bad := req
		bad.Network = "eip155:1"
		err := ValidateExact(&PaymentPayload{Accepted: &bad}, req)
		assert.ErrorIs(t, err, ErrMismatch)
	})

	t.Run("payee case insensitive", func(t *testing.T) {
		echo := req
		echo.PayTo = "0xSELLER"
		assert.NoError(t, ValidateExact(&PaymentPayload{Accepted: &echo}, req))
	})

	t.Run("wrong payee", func(t *testing.T) {
		bad := req
		bad.PayTo = "0xAttacker"
		err := ValidateExact(&PaymentPayload{Accepted: &bad}, req)
		assert.ErrorIs(t, err, ErrMismatch)
	})
}

func TestSettlementHeaderRoundTrip(t *testing.T) {
	header := EncodeSettlementHeader(SettlementResponse{
		Transaction: "0xabc123",
		Payer:       "0xViewer",
	})

	resp, err := DecodeSettlementHeader(header)
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", resp.Transaction)
	assert.Equal(t, "0xViewer", resp.Payer)

	_, err = DecodeSettlementHeader("%%%")
	assert.Error(t, err)
}
