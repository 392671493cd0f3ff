package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/JamesElliotDesign/trakr/internal/oracle"
	"github.com/JamesElliotDesign/trakr/internal/pumpfun"
	"github.com/JamesElliotDesign/trakr/internal/solana"
	"github.com/JamesElliotDesign/trakr/internal/trade"
)

// ---------------------------------------------------------------------------
// Executor — buy/sell orchestration with paper mode and a trade throttle
// ---------------------------------------------------------------------------

// paperDecimals is the precision used for synthesized paper fills.
const paperDecimals = uint8(6)

// SwapEngine is the router surface the executor drives.
type SwapEngine interface {
	Buy(ctx context.Context, mint string, solAmount decimal.Decimal) (*trade.Fill, error)
	SellExactIn(ctx context.Context, mint string, atoms *big.Int) (*trade.Fill, error)
	VenueSellAll(ctx context.Context, mint string) (*trade.Fill, error)
}

// PriceOracle resolves spot prices for paper fills and entry-price fallback.
type PriceOracle interface {
	SpotPrice(ctx context.Context, mint string, hints oracle.Hints) *oracle.Quote
	SOLPrice(ctx context.Context) *oracle.Quote
}

// Config holds execution parameters.
type Config struct {
	Mode             string // paper|live
	BuySOLAmount     decimal.Decimal
	MinTradeInterval time.Duration
	VenueEnabled     bool
	ForceVenue       bool
}

// SellRequest selects what to sell.
type SellRequest struct {
	Mint     string
	QtyAtoms *big.Int // nil = resolve on-chain
	SellAll  bool
	Percent  float64 // partial sell when 0 < Percent < 100 and !SellAll
}

// Executor serializes trade calls and routes them by mode.
type Executor struct {
	cfg      Config
	engine   SwapEngine
	oracle   PriceOracle
	chain    solana.Chain
	wallet   string // trader pubkey
	throttle *throttle
}

// New creates an executor. wallet is the trader public key used for balance
// resolution; it may be empty in paper mode.
func New(cfg Config, engine SwapEngine, o PriceOracle, chain solana.Chain, wallet string) *Executor {
	return &Executor{
		cfg:      cfg,
		engine:   engine,
		oracle:   o,
		chain:    chain,
		wallet:   wallet,
		throttle: newThrottle(cfg.MinTradeInterval),
	}
}

// Paper reports whether the executor synthesizes fills.
func (e *Executor) Paper() bool { return e.cfg.Mode != "live" }

// ExecuteBuy opens a position in the mint at the configured size.
func (e *Executor) ExecuteBuy(ctx context.Context, mint string) (*trade.Fill, error) {
	if err := e.throttle.wait(ctx); err != nil {
		return nil, err
	}

	if e.Paper() {
		return e.paperBuy(ctx, mint)
	}

	fill, err := e.engine.Buy(ctx, mint, e.cfg.BuySOLAmount)
	if err != nil {
		return nil, err
	}

	// Entry price from the fill when available, otherwise the oracle.
	if fill.PriceUSD == nil {
		hints := oracle.Hints{AmountAtoms: fill.ReceivedAtoms, Decimals: fill.Decimals}
		spent := fill.SOLSpent
		if spent.IsPositive() {
			hints.SOLSpent = &spent
		}
		if q := e.oracle.SpotPrice(ctx, mint, hints); q != nil {
			fill.PriceUSD = &q.PriceUSD
		}
	}

	log.Info().
		Str("mint", short(mint)).
		Str("sig", fill.Signature).
		Str("strategy", fill.Strategy).
		Msg("executor: buy filled")
	return fill, nil
}

// ExecuteSell exits a position. Venue-marked mints (or a forced toggle)
// try the venue's full-exit path first, then fall through to the aggregator.
func (e *Executor) ExecuteSell(ctx context.Context, req SellRequest) (*trade.Fill, error) {
	if err := e.throttle.wait(ctx); err != nil {
		return nil, err
	}

	if e.Paper() {
		return e.paperSell(ctx, req.Mint)
	}

	if e.cfg.VenueEnabled && req.SellAll && (pumpfun.IsVenueMint(req.Mint) || e.cfg.ForceVenue) {
		fill, err := e.engine.VenueSellAll(ctx, req.Mint)
		if err == nil {
			log.Info().
				Str("mint", short(req.Mint)).
				Str("sig", fill.Signature).
				Msg("executor: venue sell filled")
			return fill, nil
		}
		if trade.Classify(err) == trade.KindRateLimit {
			err = fmt.Errorf("executor: venue sell: %w", trade.ErrRateLimit)
		}
		log.Warn().Err(err).Str("mint", short(req.Mint)).
			Msg("executor: venue sell failed, falling back to aggregator")
	}

	qty := req.QtyAtoms
	if qty == nil {
		bal, err := e.chain.TokenBalance(ctx, e.wallet, req.Mint)
		if err != nil {
			return nil, fmt.Errorf("executor: resolve balance: %w", err)
		}
		if bal.IsZero() {
			return nil, fmt.Errorf("executor: %s: %w", short(req.Mint), trade.ErrNoBalance)
		}
		qty = bal.Atoms
	}
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("executor: %s: %w", short(req.Mint), trade.ErrNoBalance)
	}
	if !req.SellAll && req.Percent > 0 && req.Percent < 100 {
		pct := new(big.Int).Mul(qty, big.NewInt(int64(req.Percent)))
		qty = pct.Div(pct, big.NewInt(100))
	}

	fill, err := e.engine.SellExactIn(ctx, req.Mint, qty)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("mint", short(req.Mint)).
		Str("sig", fill.Signature).
		Str("strategy", fill.Strategy).
		Msg("executor: sell filled")
	return fill, nil
}

// paperBuy synthesizes a fill from oracle prices; the network is untouched.
func (e *Executor) paperBuy(ctx context.Context, mint string) (*trade.Fill, error) {
	sol := e.oracle.SOLPrice(ctx)
	spot := e.oracle.SpotPrice(ctx, mint, oracle.Hints{})
	if sol == nil || spot == nil {
		return nil, fmt.Errorf("executor: paper buy %s: no oracle price", short(mint))
	}

	usd := e.cfg.BuySOLAmount.Mul(sol.PriceUSD)
	qtyUI := usd.Div(spot.PriceUSD)
	atoms := qtyUI.Shift(int32(paperDecimals)).Truncate(0).BigInt()
	dec := paperDecimals
	price := spot.PriceUSD

	fill := &trade.Fill{
		Signature:     "PAPER-BUY-" + uuid.New().String()[:12],
		ReceivedAtoms: atoms,
		Decimals:      &dec,
		PriceUSD:      &price,
		SOLSpent:      e.cfg.BuySOLAmount,
		Strategy:      trade.StrategyPaper,
	}

	log.Info().
		Str("mint", short(mint)).
		Str("qty", atoms.String()).
		Str("price", price.String()).
		Msg("executor: paper buy (no transaction)")
	return fill, nil
}

func (e *Executor) paperSell(ctx context.Context, mint string) (*trade.Fill, error) {
	spot := e.oracle.SpotPrice(ctx, mint, oracle.Hints{})
	if spot == nil {
		return nil, fmt.Errorf("executor: paper sell %s: no oracle price", short(mint))
	}
	price := spot.PriceUSD

	fill := &trade.Fill{
		Signature: "PAPER-SELL-" + uuid.New().String()[:12],
		PriceUSD:  &price,
		Strategy:  trade.StrategyPaper,
	}

	log.Info().
		Str("mint", short(mint)).
		Str("price", price.String()).
		Msg("executor: paper sell (no transaction)")
	return fill, nil
}

// throttle enforces the process-wide minimum inter-trade interval.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	nextAt   time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

// wait blocks until the next trade slot, adding a little jitter so bursts do
// not land on exact boundaries.
func (t *throttle) wait(ctx context.Context) error {
	if t.interval <= 0 {
		return nil
	}

	t.mu.Lock()
	now := time.Now()
	delay := time.Duration(0)
	if now.Before(t.nextAt) {
		delay = t.nextAt.Sub(now)
	}
	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	t.nextAt = now.Add(delay + t.interval + jitter)
	t.mu.Unlock()

	if delay == 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsNoBalance reports whether the error is the zero-holdings condition.
func IsNoBalance(err error) bool { return errors.Is(err, trade.ErrNoBalance) }

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
