package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JamesElliotDesign/trakr/internal/helius"
)

// ---------------------------------------------------------------------------
// HTTP surface — webhook ingest, admin refresh, health
// ---------------------------------------------------------------------------

// EventSink receives parsed webhook deliveries.
type EventSink interface {
	HandleEvent(txs []helius.EnhancedTransaction)
}

// Refresher recomputes the tracked-wallet set on demand.
type Refresher interface {
	Refresh(ctx context.Context) ([]string, error)
}

// AuthFunc verifies an inbound webhook request. Returning false rejects the
// delivery with 401.
type AuthFunc func(r *http.Request) bool

// SharedSecretAuth checks the Authorization header against a shared secret.
// An empty secret accepts everything.
func SharedSecretAuth(secret string) AuthFunc {
	return func(r *http.Request) bool {
		if secret == "" {
			return true
		}
		return r.Header.Get("Authorization") == secret
	}
}

// Server wires the HTTP handlers.
type Server struct {
	sink      EventSink
	refresher Refresher
	auth      AuthFunc
	stats     map[string]func() any
}

// New creates the server. stats providers are exposed on /stats.
func New(sink EventSink, refresher Refresher, auth AuthFunc, stats map[string]func() any) *Server {
	if auth == nil {
		auth = func(*http.Request) bool { return true }
	}
	return &Server{sink: sink, refresher: refresher, auth: auth, stats: stats}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/helius-webhook", s.handleWebhook)
	mux.HandleFunc("/admin/refresh-wallets", s.handleRefresh)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// ListenAndServe runs the HTTP listener until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("server: listening")
	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}

	txs, err := parseEvents(body)
	if err != nil {
		log.Warn().Err(err).Msg("server: unparseable webhook payload")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}

	s.sink.HandleEvent(txs)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	tracked, err := s.refresher.Refresh(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("server: admin refresh failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tracked": tracked})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]any, len(s.stats))
	for name, fn := range s.stats {
		out[name] = fn()
	}
	writeJSON(w, http.StatusOK, out)
}

// parseEvents accepts one enhanced transaction or an array of them.
func parseEvents(body []byte) ([]helius.EnhancedTransaction, error) {
	var txs []helius.EnhancedTransaction
	if err := json.Unmarshal(body, &txs); err == nil {
		return txs, nil
	}
	var single helius.EnhancedTransaction
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []helius.EnhancedTransaction{single}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
