package pumpfun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JamesElliotDesign/trakr/internal/trade"
)

// ---------------------------------------------------------------------------
// Venue fallback — pre-built trade transactions for bonding-curve mints the
// aggregator has not indexed yet
// ---------------------------------------------------------------------------

const (
	defaultTradeURL = "https://pumpportal.fun/api/trade-local"

	tradeTimeout = 10 * time.Second
)

// IsVenueMint reports whether a mint carries the venue marker.
func IsVenueMint(mint string) bool {
	return strings.HasSuffix(mint, "pump")
}

// Config configures the venue client.
type Config struct {
	Enabled        bool
	SlippagePct    float64
	PriorityFeeSOL float64
	Pool           string // auto|pump|raydium
}

// Client requests pre-built serialized transactions from the venue's
// trade-local endpoint.
type Client struct {
	cfg        Config
	tradeURL   string
	walletPub  string
	httpClient *http.Client
}

// NewClient creates a venue client for the given trader wallet.
func NewClient(cfg Config, walletPubkey string) *Client {
	if cfg.Pool == "" {
		cfg.Pool = "auto"
	}
	return &Client{
		cfg:        cfg,
		tradeURL:   defaultTradeURL,
		walletPub:  walletPubkey,
		httpClient: &http.Client{Timeout: tradeTimeout},
	}
}

// SetTradeURL overrides the endpoint (tests).
func (c *Client) SetTradeURL(u string) { c.tradeURL = u }

// Enabled reports whether the venue fallback is switched on.
func (c *Client) Enabled() bool { return c.cfg.Enabled }

type tradeRequest struct {
	PublicKey        string  `json:"publicKey"`
	Action           string  `json:"action"` // buy|sell
	Mint             string  `json:"mint"`
	Amount           any     `json:"amount"` // SOL amount for buys, "100%" style for sells
	DenominatedInSOL string  `json:"denominatedInSol"`
	Slippage         float64 `json:"slippage"`
	PriorityFee      float64 `json:"priorityFee"`
	Pool             string  `json:"pool"`
}

// BuyTx returns an unsigned serialized buy transaction spending solAmount.
func (c *Client) BuyTx(ctx context.Context, mint string, solAmount float64) ([]byte, error) {
	return c.tradeTx(ctx, tradeRequest{
		PublicKey:        c.walletPub,
		Action:           "buy",
		Mint:             mint,
		Amount:           solAmount,
		DenominatedInSOL: "true",
		Slippage:         c.cfg.SlippagePct,
		PriorityFee:      c.cfg.PriorityFeeSOL,
		Pool:             c.cfg.Pool,
	})
}

// SellAllTx returns an unsigned serialized transaction selling the wallet's
// full holding of the mint.
func (c *Client) SellAllTx(ctx context.Context, mint string) ([]byte, error) {
	return c.tradeTx(ctx, tradeRequest{
		PublicKey:        c.walletPub,
		Action:           "sell",
		Mint:             mint,
		Amount:           "100%",
		DenominatedInSOL: "false",
		Slippage:         c.cfg.SlippagePct,
		PriorityFee:      c.cfg.PriorityFeeSOL,
		Pool:             c.cfg.Pool,
	})
}

func (c *Client) tradeTx(ctx context.Context, reqBody tradeRequest) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tradeTimeout)
	defer cancel()

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("pumpfun: marshal trade request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, "POST", c.tradeURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pumpfun: create trade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pumpfun: trade HTTP error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pumpfun: read trade response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("pumpfun: trade-local: %w", trade.ErrRateLimit)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pumpfun: trade HTTP %d: %s", resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("pumpfun: empty trade response")
	}

	log.Debug().
		Str("action", reqBody.Action).
		Str("mint", short(reqBody.Mint)).
		Int("tx_bytes", len(data)).
		Msg("pumpfun: trade transaction built")

	// The endpoint returns the raw serialized transaction.
	return data, nil
}

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
