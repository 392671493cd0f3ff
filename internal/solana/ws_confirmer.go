package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WS Confirmer — signatureSubscribe fast path for broadcast confirmation
// ---------------------------------------------------------------------------

// WSConfirmer holds one websocket connection to an RPC node and resolves
// signature confirmations via signatureSubscribe notifications. Endpoints
// fall back to status polling whenever the socket is down.
type WSConfirmer struct {
	endpoint string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan error // request id -> waiter

	nextID    atomic.Int64
	connected atomic.Bool

	// Stats.
	confirmations atomic.Int64
	reconnects    atomic.Int64
}

// NewWSConfirmer creates a confirmer for the given ws endpoint. Returns nil
// when the endpoint is empty so callers can wire it optionally.
func NewWSConfirmer(endpoint string) *WSConfirmer {
	if endpoint == "" {
		return nil
	}
	return &WSConfirmer{
		endpoint: endpoint,
		pending:  make(map[int64]chan error),
	}
}

// Connected reports whether the socket is currently up.
func (w *WSConfirmer) Connected() bool { return w.connected.Load() }

// Run maintains the connection until the context is cancelled.
func (w *WSConfirmer) Run(ctx context.Context) {
	delay := time.Second
	for {
		select {
		case <-ctx.Done():
			w.disconnect()
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			log.Warn().Err(err).Str("endpoint", w.endpoint).Msg("ws: connect failed")
			w.reconnects.Add(1)
			select {
			case <-time.After(delay):
				if delay < 30*time.Second {
					delay *= 2
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		delay = time.Second

		w.readLoop(ctx)
		w.disconnect()
	}
}

// Await subscribes to the signature and blocks until it confirms, the socket
// drops, or the context is done. A socket drop surfaces as an error so the
// caller can fall back to polling.
func (w *WSConfirmer) Await(ctx context.Context, sig string) error {
	id := w.nextID.Add(1)
	ch := make(chan error, 1)

	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return fmt.Errorf("ws: not connected")
	}
	w.pending[id] = ch
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "signatureSubscribe",
		"params": []any{
			sig,
			map[string]any{"commitment": "confirmed"},
		},
	}
	err := conn.WriteJSON(req)
	w.mu.Unlock()

	if err != nil {
		w.drop(id)
		return fmt.Errorf("ws: subscribe: %w", err)
	}

	select {
	case <-ctx.Done():
		w.drop(id)
		return ctx.Err()
	case err := <-ch:
		return err
	}
}

func (w *WSConfirmer) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.endpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.connected.Store(true)

	log.Info().Str("endpoint", w.endpoint).Msg("ws: confirmer connected")
	return nil
}

func (w *WSConfirmer) disconnect() {
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	// Fail all waiters so their endpoints fall back to polling.
	for id, ch := range w.pending {
		ch <- fmt.Errorf("ws: connection lost")
		delete(w.pending, id)
	}
	w.mu.Unlock()
	w.connected.Store(false)
}

func (w *WSConfirmer) drop(id int64) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *WSConfirmer) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("ws: read error, reconnecting")
			return
		}
		w.handleMessage(message)
	}
}

// handleMessage maps subscription ids back to the originating request id.
// The subscription confirmation response carries our request id; the
// notification then carries the subscription id.
func (w *WSConfirmer) handleMessage(data []byte) {
	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Err any `json:"err"`
				} `json:"value"`
			} `json:"result"`
			Subscription int64 `json:"subscription"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}

	if notification.Method != "signatureNotification" {
		// Subscription confirmation: remember sub id -> request id.
		var subResp struct {
			ID     int64 `json:"id"`
			Result int64 `json:"result"`
		}
		if json.Unmarshal(data, &subResp) == nil && subResp.Result > 0 {
			w.mu.Lock()
			if ch, ok := w.pending[subResp.ID]; ok {
				delete(w.pending, subResp.ID)
				w.pending[subResp.Result] = ch
			}
			w.mu.Unlock()
		}
		return
	}

	w.mu.Lock()
	ch, ok := w.pending[notification.Params.Subscription]
	if ok {
		delete(w.pending, notification.Params.Subscription)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	if notification.Params.Result.Value.Err != nil {
		ch <- fmt.Errorf("ws: transaction failed on chain")
		return
	}
	w.confirmations.Add(1)
	ch <- nil
}

// WSStats returns confirmer statistics.
type WSStats struct {
	Connected     bool  `json:"connected"`
	Confirmations int64 `json:"confirmations"`
	Reconnects    int64 `json:"reconnects"`
}

func (w *WSConfirmer) Stats() WSStats {
	return WSStats{
		Connected:     w.connected.Load(),
		Confirmations: w.confirmations.Load(),
		Reconnects:    w.reconnects.Load(),
	}
}
