package solana

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Priority fees — p75 of recent prioritization fees
// ---------------------------------------------------------------------------

const (
	// DefaultPriorityFeeMicroLamports is the fallback compute-unit price.
	DefaultPriorityFeeMicroLamports = 10_000

	// MaxPriorityFeeMicroLamports is the hard ceiling.
	MaxPriorityFeeMicroLamports = 5_000_000

	feeRefreshInterval = 15 * time.Second
)

// FeeEstimator polls recent prioritization fees from the primary endpoint and
// serves the 75th percentile, used when no fixed fee is configured.
type FeeEstimator struct {
	client *rpc.Client

	mu        sync.RWMutex
	feeP75    uint64
	samples   int
	lastFetch time.Time
}

// NewFeeEstimator creates an estimator on the given RPC client.
func NewFeeEstimator(client *rpc.Client) *FeeEstimator {
	return &FeeEstimator{client: client}
}

// Run refreshes estimates until the context is cancelled.
func (e *FeeEstimator) Run(ctx context.Context) {
	e.refresh(ctx)

	ticker := time.NewTicker(feeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

// MicroLamports returns the current recommended compute-unit price.
func (e *FeeEstimator) MicroLamports() uint64 {
	e.mu.RLock()
	p75 := e.feeP75
	e.mu.RUnlock()

	if p75 == 0 {
		return DefaultPriorityFeeMicroLamports
	}
	if p75 > MaxPriorityFeeMicroLamports {
		return MaxPriorityFeeMicroLamports
	}
	return p75
}

func (e *FeeEstimator) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fees, err := e.client.GetRecentPrioritizationFees(fetchCtx, nil)
	if err != nil {
		log.Debug().Err(err).Msg("fees: fetch failed")
		return
	}

	values := make([]uint64, 0, len(fees))
	for _, f := range fees {
		if f.PrioritizationFee > 0 {
			values = append(values, f.PrioritizationFee)
		}
	}
	if len(values) == 0 {
		return
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	e.mu.Lock()
	e.feeP75 = percentile(values, 75)
	e.samples = len(values)
	e.lastFetch = time.Now()
	e.mu.Unlock()

	log.Debug().
		Uint64("p75", e.feeP75).
		Int("samples", len(values)).
		Msg("fees: updated estimate")
}

// FeeStats returns current estimation stats.
type FeeStats struct {
	P75MicroLamports uint64    `json:"p75_micro_lamports"`
	Samples          int       `json:"samples"`
	LastFetch        time.Time `json:"last_fetch"`
}

func (e *FeeEstimator) Stats() FeeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return FeeStats{
		P75MicroLamports: e.feeP75,
		Samples:          e.samples,
		LastFetch:        e.lastFetch,
	}
}

// percentile computes the p-th percentile of sorted values.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
