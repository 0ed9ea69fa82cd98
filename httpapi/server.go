// Package httpapi exposes the StreamPay engine over HTTP.
//
// It registers the gate endpoints (stream authorization and prepaid
// purchase) and the channel lifecycle endpoints on a standard ServeMux.
// Payment challenges are served as HTTP 402 responses with the challenge
// JSON in the body; accepted proofs echo a settlement confirmation in the
// Payment-Response header.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	streampay "github.com/xraph/streampay"
	"github.com/xraph/streampay/id"
	"github.com/xraph/streampay/x402"
)

// IdentityResolver maps an HTTP request to a viewer identity. The engine
// does not own authentication; callers bridge their auth layer here.
type IdentityResolver interface {
	ViewerID(r *http.Request) (string, error)
}

// IdentityResolverFunc is an adapter to use a plain function as an
// IdentityResolver.
type IdentityResolverFunc func(r *http.Request) (string, error)

// ViewerID implements IdentityResolver.
func (f IdentityResolverFunc) ViewerID(r *http.Request) (string, error) { return f(r) }

// BearerIdentity resolves the viewer from a plain bearer token, treating
// the token itself as the viewer id. Suitable for development and tests.
func BearerIdentity() IdentityResolver {
	return IdentityResolverFunc(func(r *http.Request) (string, error) {
		authz := r.Header.Get("Authorization")
		tok := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		if tok == "" {
			return "", errMissingIdentity
		}
		return tok, nil
	})
}

var errMissingIdentity = &missingIdentityError{}

type missingIdentityError struct{}

func (*missingIdentityError) Error() string { return "httpapi: missing bearer token" }

// Server serves the StreamPay HTTP API.
type Server struct {
	engine   *streampay.Engine
	identity IdentityResolver
}

// NewServer creates a Server around the given engine. When identity is
// nil, BearerIdentity is used.
func NewServer(engine *streampay.Engine, identity IdentityResolver) *Server {
	if identity == nil {
		identity = BearerIdentity()
	}
	return &Server{engine: engine, identity: identity}
}

// Register mounts all routes on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/content/", s.contentRoutes)
	mux.HandleFunc("/payments/channel/open", s.openChannel)
	mux.HandleFunc("/payments/channel/tick", s.tick)
	mux.HandleFunc("/payments/channel/close", s.closeChannel)
	mux.HandleFunc("/payments/channel/", s.channelRoutes)
	mux.HandleFunc("/healthz", s.health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseBody(r *http.Request, dst any) error { return json.NewDecoder(r.Body).Decode(dst) }

// writeError maps engine errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case streampay.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case streampay.IsPaymentError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case streampay.IsInvalidState(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case streampay.IsConfigError(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case streampay.IsRetryable(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) resolveViewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	viewerID, err := s.identity.ViewerID(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return "", false
	}
	return viewerID, true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ──────────────────────────────────────────────────
// Gate routes
// ──────────────────────────────────────────────────

// contentRoutes dispatches /content/{id}/stream and /content/{id}/pay.
func (s *Server) contentRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/content/")
	switch {
	case strings.HasSuffix(path, "/stream"):
		s.stream(w, r, strings.TrimSuffix(path, "/stream"))
	case strings.HasSuffix(path, "/pay"):
		s.pay(w, r, strings.TrimSuffix(path, "/pay"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, contentID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method"})
		return
	}
	viewerID, ok := s.resolveViewer(w, r)
	if !ok {
		return
	}

	res, err := s.engine.Stream(r.Context(), streampay.StreamRequest{
		ViewerID:      viewerID,
		ContentID:     contentID,
		ResourceURL:   r.URL.Path,
		PaymentHeader: r.Header.Get(x402.PaymentHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if !res.Granted {
		writeJSON(w, http.StatusPaymentRequired, res.Challenge)
		return
	}
	if res.PaymentResponse != "" {
		w.Header().Set(x402.ResponseHeader, res.PaymentResponse)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) pay(w http.ResponseWriter, r *http.Request, contentID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method"})
		return
	}
	viewerID, ok := s.resolveViewer(w, r)
	if !ok {
		return
	}

	res, err := s.engine.Pay(r.Context(), streampay.PayRequest{
		ViewerID:      viewerID,
		ContentID:     contentID,
		ResourceURL:   r.URL.Path,
		PaymentHeader: r.Header.Get(x402.PaymentHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if res.Challenge != nil {
		writeJSON(w, http.StatusPaymentRequired, res.Challenge)
		return
	}
	if res.PaymentResponse != "" {
		w.Header().Set(x402.ResponseHeader, res.PaymentResponse)
	}
	writeJSON(w, http.StatusOK, res)
}

// ──────────────────────────────────────────────────
// Channel routes
// ──────────────────────────────────────────────────

func (s *Server) openChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method"})
		return
	}
	viewerID, ok := s.resolveViewer(w, r)
	if !ok {
		return
	}

	var body struct {
		ContentID string `json:"content_id"`
	}
	if err := parseBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	ch, err := s.engine.OpenChannel(r.Context(), viewerID, body.ContentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method"})
		return
	}
	if _, ok := s.resolveViewer(w, r); !ok {
		return
	}

	channelID, ok := s.parseChannelBody(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Tick(r.Context(), channelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) closeChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method"})
		return
	}
	if _, ok := s.resolveViewer(w, r); !ok {
		return
	}

	channelID, ok := s.parseChannelBody(w, r)
	if !ok {
		return
	}
	res, err := s.engine.CloseChannel(r.Context(), channelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// channelRoutes dispatches GET /payments/channel/{id} and
// GET /payments/channel/{id}/settlements.
func (s *Server) channelRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method"})
		return
	}
	if _, ok := s.resolveViewer(w, r); !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/payments/channel/")
	if raw, found := strings.CutSuffix(path, "/settlements"); found {
		channelID, err := id.ParseChannelID(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel id"})
			return
		}
		rows, err := s.engine.Settlements(r.Context(), channelID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	channelID, err := id.ParseChannelID(path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel id"})
		return
	}
	ch, err := s.engine.GetChannel(r.Context(), channelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) parseChannelBody(w http.ResponseWriter, r *http.Request) (id.ChannelID, bool) {
	var body struct {
		ChannelID string `json:"channel_id"`
	}
	if err := parseBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return id.ChannelID{}, false
	}
	channelID, err := id.ParseChannelID(body.ChannelID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel id"})
		return id.ChannelID{}, false
	}
	return channelID, true
}
