package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JamesElliotDesign/trakr/internal/solana"
)

// ---------------------------------------------------------------------------
// Wallet selection — external top-traders feed with cache and recency
// enrichment
// ---------------------------------------------------------------------------

// WalletScore is one candidate wallet from the selection source.
type WalletScore struct {
	Address         string  `json:"address"`
	WinRatePercent  float64 `json:"win_rate_percent"`
	LastActiveMsAgo int64   `json:"last_active_ms_ago"` // -1 when unknown
}

// Provider returns the current top-wallet candidates. The engine only
// consumes the set of addresses.
type Provider interface {
	TopWallets(ctx context.Context) ([]WalletScore, error)
}

// HTTPProvider fetches top traders from a tracker API and enriches recency
// via the chain's latest-signature timestamp when the feed lacks it.
type HTTPProvider struct {
	apiURL     string
	apiKey     string
	chain      solana.Chain
	httpClient *http.Client

	cacheTTL time.Duration
	mu       sync.Mutex
	cached   []WalletScore
	fetched  time.Time
}

// NewHTTPProvider creates a provider. chain may be nil, disabling recency
// enrichment.
func NewHTTPProvider(apiURL, apiKey string, chain solana.Chain, cacheTTL time.Duration) *HTTPProvider {
	return &HTTPProvider{
		apiURL:     apiURL,
		apiKey:     apiKey,
		chain:      chain,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cacheTTL:   cacheTTL,
	}
}

// feedEntry is the tracker API's wallet shape.
type feedEntry struct {
	Wallet        string  `json:"wallet"`
	WinPercentage float64 `json:"winPercentage"`
	LastTradeTime int64   `json:"lastTradeTime"` // unix ms, 0 when absent
}

type feedResponse struct {
	Wallets []feedEntry `json:"wallets"`
}

// TopWallets returns the cached candidate list, refetching past the TTL.
func (p *HTTPProvider) TopWallets(ctx context.Context) ([]WalletScore, error) {
	p.mu.Lock()
	if time.Since(p.fetched) < p.cacheTTL && len(p.cached) > 0 {
		out := make([]WalletScore, len(p.cached))
		copy(out, p.cached)
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	scores, err := p.fetch(ctx)
	if err != nil {
		// Serve stale results over nothing.
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.cached) > 0 {
			log.Warn().Err(err).Msg("tracker: fetch failed, serving cached list")
			out := make([]WalletScore, len(p.cached))
			copy(out, p.cached)
			return out, nil
		}
		return nil, err
	}

	p.mu.Lock()
	p.cached = scores
	p.fetched = time.Now()
	p.mu.Unlock()
	return scores, nil
}

func (p *HTTPProvider) fetch(ctx context.Context) ([]WalletScore, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: create request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: fetch top wallets: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("tracker: parse response: %w", err)
	}

	now := time.Now().UnixMilli()
	scores := make([]WalletScore, 0, len(feed.Wallets))
	for _, e := range feed.Wallets {
		if e.Wallet == "" {
			continue
		}
		score := WalletScore{
			Address:         e.Wallet,
			WinRatePercent:  e.WinPercentage,
			LastActiveMsAgo: -1,
		}
		if e.LastTradeTime > 0 {
			score.LastActiveMsAgo = now - e.LastTradeTime
		} else if p.chain != nil {
			score.LastActiveMsAgo = p.latestActivityMsAgo(ctx, e.Wallet)
		}
		scores = append(scores, score)
	}

	log.Info().Int("wallets", len(scores)).Msg("tracker: top wallets fetched")
	return scores, nil
}

func (p *HTTPProvider) latestActivityMsAgo(ctx context.Context, wallet string) int64 {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ts, err := p.chain.LatestActivity(lookupCtx, wallet)
	if err != nil || ts.IsZero() {
		return -1
	}
	return time.Since(ts).Milliseconds()
}
