package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JamesElliotDesign/trakr/internal/tracked"
)

// ---------------------------------------------------------------------------
// Refresher — recompute the tracked set and re-register the webhook
// ---------------------------------------------------------------------------

// WebhookRegistrar upserts the push subscription for a set of addresses.
type WebhookRegistrar interface {
	Upsert(ctx context.Context, addresses []string) (string, error)
}

// Selection holds the filter thresholds.
type Selection struct {
	MinWinRatePercent float64
	MaxInactive       time.Duration
	MaxWallets        int
}

// Refresher replaces the tracked-wallet snapshot from the selection source.
// Only the refresh task writes the set; readers snapshot it.
type Refresher struct {
	sel      Selection
	provider Provider
	set      *tracked.Set
	webhooks WebhookRegistrar // nil disables registration
}

// NewRefresher creates a refresher.
func NewRefresher(sel Selection, provider Provider, set *tracked.Set, webhooks WebhookRegistrar) *Refresher {
	return &Refresher{
		sel:      sel,
		provider: provider,
		set:      set,
		webhooks: webhooks,
	}
}

// Refresh recomputes the tracked set and updates the webhook registration
// under the same operation. Returns the tracked addresses.
func (r *Refresher) Refresh(ctx context.Context) ([]string, error) {
	scores, err := r.provider.TopWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	selected := r.filter(scores)
	if len(selected) == 0 {
		return nil, fmt.Errorf("refresh: no wallets passed selection (%d candidates)", len(scores))
	}

	r.set.Replace(selected)

	if r.webhooks != nil {
		if _, err := r.webhooks.Upsert(ctx, selected); err != nil {
			// The set already switched; registration catches up next cycle.
			log.Warn().Err(err).Msg("refresh: webhook registration failed")
		}
	}

	log.Info().
		Int("candidates", len(scores)).
		Int("tracked", len(selected)).
		Msg("refresh: tracked set replaced")
	return selected, nil
}

// filter applies win-rate and recency thresholds and caps the set size,
// best wallets first.
func (r *Refresher) filter(scores []WalletScore) []string {
	eligible := make([]WalletScore, 0, len(scores))
	for _, s := range scores {
		if s.WinRatePercent < r.sel.MinWinRatePercent {
			continue
		}
		if r.sel.MaxInactive > 0 && s.LastActiveMsAgo >= 0 &&
			s.LastActiveMsAgo > r.sel.MaxInactive.Milliseconds() {
			continue
		}
		eligible = append(eligible, s)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].WinRatePercent > eligible[j].WinRatePercent
	})

	if r.sel.MaxWallets > 0 && len(eligible) > r.sel.MaxWallets {
		eligible = eligible[:r.sel.MaxWallets]
	}

	out := make([]string, 0, len(eligible))
	for _, s := range eligible {
		out = append(out, s.Address)
	}
	return out
}
