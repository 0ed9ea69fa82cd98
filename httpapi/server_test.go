package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streampay "github.com/xraph/streampay"
	"github.com/xraph/streampay/channel"
	"github.com/xraph/streampay/content"
	"github.com/xraph/streampay/store/memory"
	"github.com/xraph/streampay/x402"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	catalog := content.NewStaticCatalog(&content.Item{
		ID:             "vid_1",
		Title:          "Big Buck Bunny",
		MimeType:       "video/mp4",
		PlaybackURL:    "https://cdn.example.com/vid_1/master.m3u8",
		PricePerSecond: 50,
		Currency:       "USD",
		SellerAddress:  "0xSeller",
	})
	engine := streampay.New(memory.New(), catalog)
	return NewServer(engine, nil)
}

func doRequest(t *testing.T, s *Server, method, path, viewer string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if viewer != "" {
		req.Header.Set("Authorization", "Bearer "+viewer)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	mux := http.NewServeMux()
	s.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func streamProof(t *testing.T) string {
	t.Helper()

	req := x402.ExactRequirement(
		streampay.DefaultNetwork,
		streampay.DefaultAsset,
		"500",
		"0xSeller",
		streampay.DefaultMaxTimeoutSeconds,
		nil,
	)
	header, err := x402.EncodePaymentHeader(&x402.PaymentPayload{
		Version:  x402.Version,
		Scheme:   x402.SchemeExact,
		Network:  req.Network,
		Accepted: &req,
		Payer:    "0xViewer",
	})
	require.NoError(t, err)
	return header
}

func TestStreamUnauthorized(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/content/vid_1/stream", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamChallenge(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/content/vid_1/stream", "viewer_1", nil, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var c x402.Challenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, 2, c.Version)
	assert.Equal(t, "Payment required", c.Error)
	assert.Equal(t, "/content/vid_1/stream", c.Resource.URL)
	require.Len(t, c.Accepts, 1)
	assert.Equal(t, "500", c.Accepts[0].Amount)
	assert.Equal(t, "0xSeller", c.Accepts[0].PayTo)
}

func TestStreamWithPayment(t *testing.T) {
	s := newTestServer(t)
	header := http.Header{}
	header.Set(x402.PaymentHeader, streamProof(t))

	rec := doRequest(t, s, http.MethodGet, "/content/vid_1/stream", "viewer_1", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)

	confirmation := rec.Header().Get(x402.ResponseHeader)
	require.NotEmpty(t, confirmation)
	resp, err := x402.DecodeSettlementHeader(confirmation)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Transaction)
	assert.Equal(t, "0xViewer", resp.Payer)

	var body struct {
		Granted     bool   `json:"granted"`
		PlaybackURL string `json:"playback_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Granted)
	assert.NotEmpty(t, body.PlaybackURL)
}

func TestStreamTamperedPayment(t *testing.T) {
	s := newTestServer(t)
	header := http.Header{}
	header.Set(x402.PaymentHeader, "not-base64!!!")

	rec := doRequest(t, s, http.MethodGet, "/content/vid_1/stream", "viewer_1", nil, header)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamUnknownContent(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/content/vid_404/stream", "viewer_1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/content/vid_1/stream", "viewer_1", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPayChallenge(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/content/vid_1/pay", "viewer_1", nil, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var c x402.Challenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "/content/vid_1/pay", c.Resource.URL)
}

func TestPayWithPayment(t *testing.T) {
	s := newTestServer(t)
	header := http.Header{}
	header.Set(x402.PaymentHeader, streamProof(t))

	rec := doRequest(t, s, http.MethodPost, "/content/vid_1/pay", "viewer_1", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(x402.ResponseHeader))

	var body struct {
		SecondsRemaining int64 `json:"seconds_remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(10), body.SecondsRemaining)
}

func TestChannelLifecycleRoutes(t *testing.T) {
	s := newTestServer(t)

	// Open
	rec := doRequest(t, s, http.MethodPost, "/payments/channel/open", "viewer_1",
		map[string]string{"content_id": "vid_1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ch channel.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
	channelID := ch.ID.String()
	assert.True(t, strings.HasPrefix(channelID, "chan_"), "channel id %q", channelID)

	// Tick
	rec = doRequest(t, s, http.MethodPost, "/payments/channel/tick", "viewer_1",
		map[string]string{"channel_id": channelID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tick struct {
		TickSeconds int64 `json:"tick_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tick))
	assert.Equal(t, int64(10), tick.TickSeconds)

	// Snapshot
	rec = doRequest(t, s, http.MethodGet, "/payments/channel/"+channelID, "viewer_1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Close responds in the tick shape so the caller learns the forced
	// settlement's outcome and transaction reference.
	rec = doRequest(t, s, http.MethodPost, "/payments/channel/close", "viewer_1",
		map[string]string{"channel_id": channelID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"channel", "tick_seconds", "did_settle", "settlement_tx_id", "settlement_amount"} {
		assert.Contains(t, raw, key, "close response missing %q", key)
	}

	var closeRes struct {
		Channel          channel.Channel `json:"channel"`
		TickSeconds      int64           `json:"tick_seconds"`
		DidSettle        bool            `json:"did_settle"`
		SettlementAmount int64           `json:"settlement_amount"`
		SettlementTxID   string          `json:"settlement_tx_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closeRes))
	closed := closeRes.Channel
	assert.Equal(t, channel.StatusClosed, closed.Status)
	assert.Equal(t, closed.AmountOwed, closed.AmountSettled)
	assert.Zero(t, closeRes.TickSeconds)
	assert.True(t, closeRes.DidSettle)
	assert.Equal(t, closed.AmountOwed, closeRes.SettlementAmount)
	assert.NotEmpty(t, closeRes.SettlementTxID)

	// Settlements list
	rec = doRequest(t, s, http.MethodGet, "/payments/channel/"+channelID+"/settlements", "viewer_1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)

	// Tick after close is rejected as an invalid state.
	rec = doRequest(t, s, http.MethodPost, "/payments/channel/tick", "viewer_1",
		map[string]string{"channel_id": channelID}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelRoutesBadInput(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/payments/channel/tick", "viewer_1",
		map[string]string{"channel_id": "not-a-typeid"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/payments/channel/open", "viewer_1",
		map[string]string{"content_id": "vid_404"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/payments/channel/not-a-typeid", "viewer_1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
