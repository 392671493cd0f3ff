package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JamesElliotDesign/trakr/internal/positions"
)

// ---------------------------------------------------------------------------
// Notifier — structured chat messages, always best-effort
// ---------------------------------------------------------------------------

// Notifier sends trade lifecycle messages. Implementations never propagate
// failures into the pipeline.
type Notifier interface {
	SignalDetected(wallet, mint, signature string)
	PositionOpened(pos positions.Open)
	PositionClosed(pos positions.Closed)
}

// Noop discards all messages.
type Noop struct{}

func (Noop) SignalDetected(_, _, _ string)     {}
func (Noop) PositionOpened(_ positions.Open)   {}
func (Noop) PositionClosed(_ positions.Closed) {}

// Telegram sends messages through the Bot API.
type Telegram struct {
	token      string
	chatID     string
	apiBase    string
	httpClient *http.Client
}

// NewTelegram creates a Telegram notifier. Returns a Noop notifier when the
// credentials are missing.
func NewTelegram(token, chatID string) Notifier {
	if token == "" || chatID == "" {
		log.Info().Msg("notify: telegram not configured, notifications disabled")
		return Noop{}
	}
	return &Telegram{
		token:      token,
		chatID:     chatID,
		apiBase:    "https://api.telegram.org",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// SetAPIBase overrides the Bot API base (tests).
func (t *Telegram) SetAPIBase(base string) { t.apiBase = base }

func (t *Telegram) SignalDetected(wallet, mint, signature string) {
	t.send(fmt.Sprintf("🎯 Signal: %s bought %s\ntx: %s", shorten(wallet), shorten(mint), signature))
}

func (t *Telegram) PositionOpened(pos positions.Open) {
	msg := fmt.Sprintf("🟢 Opened %s (%s, %s)\nsource: %s", shorten(pos.Mint), pos.Mode, pos.Strategy, shorten(pos.OriginWallet))
	if pos.EntryPriceUSD != nil {
		msg += fmt.Sprintf("\nentry: $%s", pos.EntryPriceUSD.String())
	}
	t.send(msg)
}

func (t *Telegram) PositionClosed(pos positions.Closed) {
	msg := fmt.Sprintf("🔴 Closed %s (%s)", shorten(pos.Mint), pos.Reason)
	if pos.PnLPct != nil {
		msg += fmt.Sprintf("\npnl: %.2f%%", *pos.PnLPct)
	}
	if pos.ExitTx != "" {
		msg += fmt.Sprintf("\ntx: %s", pos.ExitTx)
	}
	t.send(msg)
}

func (t *Telegram) send(text string) {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	params := url.Values{}
	params.Set("chat_id", t.chatID)
	params.Set("text", text)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("notify: build message failed")
		return
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("notify: send failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("notify: send rejected")
	}
}

func shorten(s string) string {
	if len(s) > 8 {
		return s[:8] + "…"
	}
	return s
}
