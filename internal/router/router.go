package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/JamesElliotDesign/trakr/internal/jupiter"
	"github.com/JamesElliotDesign/trakr/internal/oracle"
	"github.com/JamesElliotDesign/trakr/internal/pumpfun"
	"github.com/JamesElliotDesign/trakr/internal/solana"
	"github.com/JamesElliotDesign/trakr/internal/trade"
)

// ---------------------------------------------------------------------------
// Swap router — tiered aggregator routing with venue fallback
// Quote -> Build -> Sign -> Broadcast -> Confirm -> Reconstruct
// ---------------------------------------------------------------------------

const (
	// ladderAttempts retries the whole tier ladder to ride out fresh-pool
	// indexing latency.
	ladderAttempts = 3
	ladderBackoff  = 500 * time.Millisecond

	// reconstruction retry schedule on the confirming endpoint.
	deltaAttempts = 3
	deltaBackoff  = 500 * time.Millisecond
)

// routeTiers is the quote strategy order; first non-empty route wins.
var routeTiers = []struct {
	mode jupiter.RouteMode
	tag  string
}{
	{jupiter.RouteDirect, trade.StrategyDirect},
	{jupiter.RouteAny, trade.StrategyAny},
	{jupiter.RouteBridge, trade.StrategyBridge},
}

// QuoteClient is the aggregator surface the router needs.
type QuoteClient interface {
	GetQuote(ctx context.Context, p jupiter.QuoteParams) (*jupiter.Quote, error)
	BuildSwapTx(ctx context.Context, quote *jupiter.Quote, computeUnitPriceMicroLamports uint64) (*jupiter.SwapTx, error)
}

// VenueClient is the venue-fallback surface.
type VenueClient interface {
	Enabled() bool
	BuyTx(ctx context.Context, mint string, solAmount float64) ([]byte, error)
	SellAllTx(ctx context.Context, mint string) ([]byte, error)
}

// Signer signs pre-built transactions.
type Signer interface {
	SignBase64(txBase64 string) ([]byte, string, error)
	SignRaw(raw []byte) ([]byte, string, error)
	PublicKey() string
}

// Broadcaster races the signed transaction across endpoints.
type Broadcaster interface {
	BroadcastAndConfirm(ctx context.Context, tx []byte) (*solana.BroadcastResult, error)
	ClientFor(url string) solana.EndpointClient
}

// FeeSource supplies the compute-unit price when no override is configured.
type FeeSource interface {
	MicroLamports() uint64
}

// SOLPricer resolves the native asset price for fill-implied entry prices.
type SOLPricer interface {
	SOLPrice(ctx context.Context) *oracle.Quote
}

// Config holds routing parameters.
type Config struct {
	SlippageBps    int
	FeeOverride    uint64
	HasFeeOverride bool
}

// Router resolves quotes and executes swaps.
type Router struct {
	cfg         Config
	quotes      QuoteClient
	venue       VenueClient
	signer      Signer
	broadcaster Broadcaster
	fees        FeeSource
	solPrice    SOLPricer
}

// New creates a router. fees may be nil when a fee override is configured.
func New(cfg Config, quotes QuoteClient, venue VenueClient, signer Signer, b Broadcaster, fees FeeSource, solPrice SOLPricer) *Router {
	return &Router{
		cfg:         cfg,
		quotes:      quotes,
		venue:       venue,
		signer:      signer,
		broadcaster: b,
		fees:        fees,
		solPrice:    solPrice,
	}
}

// Buy swaps solAmount of the native wrap into the mint. Falls back to the
// venue path for venue-marked mints when the aggregator has no route.
func (r *Router) Buy(ctx context.Context, mint string, solAmount decimal.Decimal) (*trade.Fill, error) {
	lamports := new(big.Int).SetUint64(solana.SOLToLamports(solAmount))

	quote, strategy, err := r.quoteLadder(ctx, solana.WSOLMint, mint, lamports)
	if err != nil {
		if errors.Is(err, trade.ErrNoRoute) && r.venue != nil && r.venue.Enabled() && pumpfun.IsVenueMint(mint) {
			log.Info().Str("mint", short(mint)).Msg("router: no aggregator route, trying venue fallback")
			return r.venueBuy(ctx, mint, solAmount)
		}
		return nil, err
	}

	fill, err := r.executeQuote(ctx, quote, strategy)
	if err != nil {
		return nil, err
	}
	fill.SOLSpent = solAmount
	r.deriveBuyPrice(ctx, fill, solAmount)
	return fill, nil
}

// SellExactIn swaps the given amount of mint atoms back into the native
// wrap through the aggregator ladder.
func (r *Router) SellExactIn(ctx context.Context, mint string, atoms *big.Int) (*trade.Fill, error) {
	quote, strategy, err := r.quoteLadder(ctx, mint, solana.WSOLMint, atoms)
	if err != nil {
		return nil, err
	}
	return r.executeQuote(ctx, quote, strategy)
}

// VenueSellAll sells the wallet's entire holding of the mint through the
// venue path.
func (r *Router) VenueSellAll(ctx context.Context, mint string) (*trade.Fill, error) {
	if r.venue == nil || !r.venue.Enabled() {
		return nil, fmt.Errorf("router: venue fallback disabled")
	}

	raw, err := r.venue.SellAllTx(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("router: venue sell tx: %w", err)
	}

	signed, _, err := r.signer.SignRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	result, err := r.broadcaster.BroadcastAndConfirm(ctx, signed)
	if err != nil {
		return nil, err
	}

	return &trade.Fill{
		Signature: result.Signature,
		Strategy:  trade.StrategyVenue,
		Endpoint:  result.Endpoint,
	}, nil
}

// quoteLadder walks the tier ladder, retrying the whole ladder with linear
// backoff. Returns trade.ErrNoRoute only after every tier came up empty.
func (r *Router) quoteLadder(ctx context.Context, inputMint, outputMint string, atoms *big.Int) (*jupiter.Quote, string, error) {
	var lastErr error

	for attempt := 0; attempt < ladderAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * ladderBackoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}

		for _, tier := range routeTiers {
			quote, err := r.quotes.GetQuote(ctx, jupiter.QuoteParams{
				InputMint:   inputMint,
				OutputMint:  outputMint,
				AmountAtoms: atoms,
				SlippageBps: r.cfg.SlippageBps,
				Mode:        tier.mode,
			})
			if err == nil {
				return quote, tier.tag, nil
			}
			lastErr = err
			if errors.Is(err, trade.ErrRateLimit) {
				// Back off the whole ladder rather than hammering tiers.
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = trade.ErrNoRoute
	}
	return nil, "", fmt.Errorf("router: quote ladder exhausted: %w", lastErr)
}

// executeQuote builds, signs and broadcasts an aggregator swap. After the
// broadcast the signature is authoritative; reconstruction may degrade.
func (r *Router) executeQuote(ctx context.Context, quote *jupiter.Quote, strategy string) (*trade.Fill, error) {
	swapTx, err := r.quotes.BuildSwapTx(ctx, quote, r.priorityFee())
	if err != nil {
		return nil, fmt.Errorf("router: build swap: %w", err)
	}

	signed, _, err := r.signer.SignBase64(swapTx.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	result, err := r.broadcaster.BroadcastAndConfirm(ctx, signed)
	if err != nil {
		return nil, err
	}

	fill := &trade.Fill{
		Signature: result.Signature,
		Strategy:  strategy,
		Endpoint:  result.Endpoint,
	}
	if out, ok := quote.OutAtoms(); ok {
		fill.ReceivedAtoms = out
	}

	// Meta reconstruction sharpens the quoted amount and adds decimals;
	// degraded lookups keep the quote figures.
	if delta := r.lookupDelta(ctx, result, quote.OutputMint, 1); delta != nil {
		fill.ReceivedAtoms = delta.ReceivedAtoms
		dec := delta.Decimals
		fill.Decimals = &dec
	}

	return fill, nil
}

// venueBuy executes a buy through the venue's pre-built transaction and
// reconstructs the fill on the confirming endpoint.
func (r *Router) venueBuy(ctx context.Context, mint string, solAmount decimal.Decimal) (*trade.Fill, error) {
	sol, _ := solAmount.Float64()
	raw, err := r.venue.BuyTx(ctx, mint, sol)
	if err != nil {
		return nil, fmt.Errorf("router: venue buy tx: %w", err)
	}

	signed, _, err := r.signer.SignRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	result, err := r.broadcaster.BroadcastAndConfirm(ctx, signed)
	if err != nil {
		return nil, err
	}

	fill := &trade.Fill{
		Signature: result.Signature,
		Strategy:  trade.StrategyVenue,
		Endpoint:  result.Endpoint,
		SOLSpent:  solAmount,
	}

	if delta := r.lookupDelta(ctx, result, mint, deltaAttempts); delta != nil {
		fill.ReceivedAtoms = delta.ReceivedAtoms
		dec := delta.Decimals
		fill.Decimals = &dec
	} else if bal := r.pollBalance(ctx, result, mint); bal != nil {
		fill.ReceivedAtoms = bal.Atoms
		dec := bal.Decimals
		fill.Decimals = &dec
	} else {
		log.Warn().
			Str("mint", short(mint)).
			Str("sig", fill.Signature).
			Msg("router: fill reconstruction degraded, signature only")
	}

	r.deriveBuyPrice(ctx, fill, solAmount)
	return fill, nil
}

// lookupDelta fetches the pre/post balance delta for the trader on the
// endpoint that confirmed the transaction.
func (r *Router) lookupDelta(ctx context.Context, result *solana.BroadcastResult, mint string, attempts int) *solana.TokenDelta {
	ep := r.broadcaster.ClientFor(result.Endpoint)
	if ep == nil {
		return nil
	}

	owner := r.signer.PublicKey()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(deltaBackoff):
			case <-ctx.Done():
				return nil
			}
		}
		delta, err := ep.TransactionTokenDelta(ctx, result.Signature, owner, mint)
		if err == nil {
			return delta
		}
		if !errors.Is(err, solana.ErrNotIndexed) {
			log.Debug().Err(err).Msg("router: delta lookup error")
			return nil
		}
	}
	return nil
}

// pollBalance is the second reconstruction tier: parsed token accounts on
// the confirming endpoint, confirmed commitment then finalized.
func (r *Router) pollBalance(ctx context.Context, result *solana.BroadcastResult, mint string) *solana.TokenBalance {
	ep := r.broadcaster.ClientFor(result.Endpoint)
	if ep == nil {
		return nil
	}

	owner := r.signer.PublicKey()
	for _, finalized := range []bool{false, true} {
		for attempt := 0; attempt < deltaAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(deltaBackoff):
				case <-ctx.Done():
					return nil
				}
			}
			bal, err := ep.TokenBalance(ctx, owner, mint, finalized)
			if err != nil {
				continue
			}
			if !bal.IsZero() {
				return bal
			}
		}
	}
	return nil
}

// deriveBuyPrice sets the fill-implied entry price when every input is
// available and finite.
func (r *Router) deriveBuyPrice(ctx context.Context, fill *trade.Fill, solAmount decimal.Decimal) {
	if fill.ReceivedAtoms == nil || fill.ReceivedAtoms.Sign() <= 0 || fill.Decimals == nil {
		return
	}
	if r.solPrice == nil {
		return
	}
	sol := r.solPrice.SOLPrice(ctx)
	if sol == nil {
		return
	}

	ui := decimal.NewFromBigInt(fill.ReceivedAtoms, 0).Shift(-int32(*fill.Decimals))
	if !ui.IsPositive() {
		return
	}
	price := sol.PriceUSD.Mul(solAmount).Div(ui)
	fill.PriceUSD = &price
}

func (r *Router) priorityFee() uint64 {
	if r.cfg.HasFeeOverride {
		return r.cfg.FeeOverride
	}
	if r.fees != nil {
		return r.fees.MicroLamports()
	}
	return solana.DefaultPriorityFeeMicroLamports
}

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
