package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/JamesElliotDesign/trakr/internal/solana"
	"github.com/JamesElliotDesign/trakr/internal/trade"
)

// ---------------------------------------------------------------------------
// Jupiter V6 API client — quote, swap-build and price endpoints
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

const (
	defaultQuoteURL = "https://quote-api.jup.ag/v6/quote"
	defaultSwapURL  = "https://quote-api.jup.ag/v6/swap"
	defaultPriceURL = "https://price.jup.ag/v6/price"

	quoteTimeout = 8 * time.Second
	priceTimeout = 2500 * time.Millisecond
)

// RouteMode selects the routing constraints for a quote.
type RouteMode string

const (
	// RouteDirect prefers single-hop routes.
	RouteDirect RouteMode = "direct"
	// RouteAny allows multi-hop routes.
	RouteAny RouteMode = "any"
	// RouteBridge restricts intermediates to the wrap mint and the stable.
	RouteBridge RouteMode = "bridge"
)

// Client is the Jupiter API client.
type Client struct {
	httpClient *http.Client
	quoteURL   string
	swapURL    string
	priceURL   string
	walletPub  string

	quoteCount atomic.Int64
	swapCount  atomic.Int64
	errorCount atomic.Int64
}

// NewClient creates a Jupiter client for the given trader wallet.
func NewClient(walletPubkey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: quoteTimeout + time.Second},
		quoteURL:   defaultQuoteURL,
		swapURL:    defaultSwapURL,
		priceURL:   defaultPriceURL,
		walletPub:  walletPubkey,
	}
}

// SetBaseURLs overrides the API endpoints (tests).
func (c *Client) SetBaseURLs(quote, swap, price string) {
	if quote != "" {
		c.quoteURL = quote
	}
	if swap != "" {
		c.swapURL = swap
	}
	if price != "" {
		c.priceURL = price
	}
}

// QuoteParams is the input to GetQuote.
type QuoteParams struct {
	InputMint   string
	OutputMint  string
	AmountAtoms *big.Int // exact-in amount in input-mint atoms
	SlippageBps int
	Mode        RouteMode
}

// Quote is the parsed /quote response. Raw preserves the exact payload for
// the swap-build call.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
	ContextSlot    uint64 `json:"contextSlot"`

	Raw json.RawMessage `json:"-"`
}

// OutAtoms parses the output amount.
func (q *Quote) OutAtoms() (*big.Int, bool) {
	return new(big.Int).SetString(q.OutAmount, 10)
}

// GetQuote fetches a route for an exact-in swap. A missing route surfaces as
// trade.ErrNoRoute; HTTP 429 as trade.ErrRateLimit.
func (c *Client) GetQuote(ctx context.Context, p QuoteParams) (*Quote, error) {
	reqCtx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()

	queryURL, err := url.Parse(c.quoteURL)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", p.InputMint)
	q.Set("outputMint", p.OutputMint)
	q.Set("amount", p.AmountAtoms.String())
	q.Set("slippageBps", fmt.Sprintf("%d", p.SlippageBps))
	switch p.Mode {
	case RouteDirect:
		q.Set("onlyDirectRoutes", "true")
	case RouteBridge:
		q.Set("onlyDirectRoutes", "false")
		q.Set("restrictIntermediateTokens", "true")
	default:
		q.Set("onlyDirectRoutes", "false")
	}
	queryURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, "GET", queryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: quote HTTP error: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: read quote response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: quote: %w", trade.ErrRateLimit)
	}
	if resp.StatusCode != http.StatusOK {
		c.errorCount.Add(1)
		if isNoRouteBody(body) {
			return nil, fmt.Errorf("jupiter: %s->%s: %w", short(p.InputMint), short(p.OutputMint), trade.ErrNoRoute)
		}
		return nil, fmt.Errorf("jupiter: quote HTTP %d: %s (mint=%s)", resp.StatusCode, string(body), p.OutputMint)
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}
	if quote.OutAmount == "" || quote.OutAmount == "0" {
		return nil, fmt.Errorf("jupiter: empty quote: %w", trade.ErrNoRoute)
	}
	quote.Raw = json.RawMessage(body)

	c.quoteCount.Add(1)
	log.Debug().
		Str("in", short(quote.InputMint)).
		Str("out", short(quote.OutputMint)).
		Str("in_amount", quote.InAmount).
		Str("out_amount", quote.OutAmount).
		Str("price_impact", quote.PriceImpactPct).
		Str("mode", string(p.Mode)).
		Msg("jupiter: quote received")

	return &quote, nil
}

// swapRequest is the body of the /swap endpoint.
type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

// SwapTx is the pre-built transaction returned by /swap.
type SwapTx struct {
	SwapTransaction      string `json:"swapTransaction"` // base64
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTx builds an unsigned swap transaction from a quote.
func (c *Client) BuildSwapTx(ctx context.Context, quote *Quote, computeUnitPriceMicroLamports uint64) (*SwapTx, error) {
	reqCtx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()

	body, err := json.Marshal(swapRequest{
		QuoteResponse:                 quote.Raw,
		UserPublicKey:                 c.walletPub,
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: computeUnitPriceMicroLamports,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, "POST", c.swapURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: swap HTTP error: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: read swap response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: swap: %w", trade.ErrRateLimit)
	}
	if resp.StatusCode != http.StatusOK {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: swap HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var swapResp SwapTx
	if err := json.Unmarshal(respBody, &swapResp); err != nil {
		return nil, fmt.Errorf("jupiter: parse swap response: %w", err)
	}
	if swapResp.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter: swap response missing transaction")
	}

	c.swapCount.Add(1)
	return &swapResp, nil
}

// priceResponse is the /price response shape.
type priceResponse struct {
	Data map[string]struct {
		ID    string  `json:"id"`
		Price float64 `json:"price"`
	} `json:"data"`
}

// GetPrice fetches the USD price for a mint. Missing listings surface as an
// error; callers treat price lookups as best-effort.
func (c *Client) GetPrice(ctx context.Context, mint string) (decimal.Decimal, error) {
	reqCtx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	queryURL, err := url.Parse(c.priceURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("ids", mint)
	q.Set("vsToken", solana.USDCMint)
	queryURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, "GET", queryURL.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: create price request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: price HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("jupiter: price HTTP %d", resp.StatusCode)
	}

	var priceResp priceResponse
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: parse price: %w", err)
	}

	data, ok := priceResp.Data[mint]
	if !ok {
		return decimal.Zero, fmt.Errorf("jupiter: price not found for %s", mint)
	}
	price := decimal.NewFromFloat(data.Price)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("jupiter: zero/negative price for %s", mint)
	}
	return price, nil
}

// Stats returns client counters.
type Stats struct {
	QuoteCount int64 `json:"quote_count"`
	SwapCount  int64 `json:"swap_count"`
	ErrorCount int64 `json:"error_count"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount: c.quoteCount.Load(),
		SwapCount:  c.swapCount.Load(),
		ErrorCount: c.errorCount.Load(),
	}
}

func isNoRouteBody(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "COULD_NOT_FIND_ANY_ROUTE") ||
		strings.Contains(s, "No routes found") ||
		strings.Contains(s, "TOKEN_NOT_TRADABLE")
}

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
