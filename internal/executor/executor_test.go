package executor

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesElliotDesign/trakr/internal/oracle"
	"github.com/JamesElliotDesign/trakr/internal/solana"
	"github.com/JamesElliotDesign/trakr/internal/trade"
)

const (
	traderWallet = "Trader11111111111111111111111111111111111"
	plainMint    = "PlainMint111111111111111111111111111111111"
	venueMint    = "VenueMint111111111111111111111111111111pump"
)

// --- fakes ---

type fakeEngine struct {
	mu         sync.Mutex
	buyFill    *trade.Fill
	buyErr     error
	sellFill   *trade.Fill
	sellErr    error
	venueFill  *trade.Fill
	venueErr   error
	sellQty    *big.Int
	venueCalls int
	sellCalls  int
	buyCalls   int
}

func (f *fakeEngine) Buy(_ context.Context, _ string, _ decimal.Decimal) (*trade.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyCalls++
	return f.buyFill, f.buyErr
}

func (f *fakeEngine) SellExactIn(_ context.Context, _ string, atoms *big.Int) (*trade.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellCalls++
	f.sellQty = atoms
	return f.sellFill, f.sellErr
}

func (f *fakeEngine) VenueSellAll(_ context.Context, _ string) (*trade.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.venueCalls++
	return f.venueFill, f.venueErr
}

type fakeOracle struct {
	spot   map[string]float64
	solUSD float64
}

func (f *fakeOracle) SpotPrice(_ context.Context, mint string, _ oracle.Hints) *oracle.Quote {
	if p, ok := f.spot[mint]; ok && p > 0 {
		return &oracle.Quote{PriceUSD: decimal.NewFromFloat(p), Source: "jupiter"}
	}
	return nil
}

func (f *fakeOracle) SOLPrice(_ context.Context) *oracle.Quote {
	if f.solUSD <= 0 {
		return nil
	}
	return &oracle.Quote{PriceUSD: decimal.NewFromFloat(f.solUSD), Source: "jupiter"}
}

func paperExecutor(o *fakeOracle) *Executor {
	return New(Config{
		Mode:         "paper",
		BuySOLAmount: decimal.NewFromFloat(0.05),
	}, nil, o, solana.NewStubChain(), "")
}

func liveExecutor(engine *fakeEngine, o *fakeOracle, chain solana.Chain, venueEnabled bool) *Executor {
	return New(Config{
		Mode:         "live",
		BuySOLAmount: decimal.NewFromFloat(0.05),
		VenueEnabled: venueEnabled,
	}, engine, o, chain, traderWallet)
}

// --- tests ---

func TestExecuteBuy_PaperSynthesizesFill(t *testing.T) {
	o := &fakeOracle{spot: map[string]float64{plainMint: 0.5}, solUSD: 150}
	e := paperExecutor(o)

	fill, err := e.ExecuteBuy(context.Background(), plainMint)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fill.Signature, "PAPER-BUY-"))
	assert.Equal(t, trade.StrategyPaper, fill.Strategy)

	// 0.05 SOL * $150 = $7.5 -> 15 tokens at $0.5 -> 15e6 atoms at 6 decimals.
	assert.Equal(t, big.NewInt(15_000_000), fill.ReceivedAtoms)
	require.NotNil(t, fill.PriceUSD)
	assert.True(t, fill.PriceUSD.Equal(decimal.NewFromFloat(0.5)))
}

func TestExecuteBuy_PaperNoOraclePrice(t *testing.T) {
	e := paperExecutor(&fakeOracle{solUSD: 150})
	_, err := e.ExecuteBuy(context.Background(), plainMint)
	assert.Error(t, err)
}

func TestExecuteBuy_LiveFallsBackToOraclePrice(t *testing.T) {
	dec := uint8(6)
	engine := &fakeEngine{buyFill: &trade.Fill{
		Signature:     "SIG",
		ReceivedAtoms: big.NewInt(1_000_000),
		Decimals:      &dec,
		SOLSpent:      decimal.NewFromFloat(0.05),
		Strategy:      trade.StrategyDirect,
	}}
	o := &fakeOracle{spot: map[string]float64{plainMint: 2.5}, solUSD: 150}
	e := liveExecutor(engine, o, solana.NewStubChain(), false)

	fill, err := e.ExecuteBuy(context.Background(), plainMint)
	require.NoError(t, err)
	require.NotNil(t, fill.PriceUSD)
	assert.True(t, fill.PriceUSD.Equal(decimal.NewFromFloat(2.5)))
	assert.Equal(t, 1, engine.buyCalls)
}

func TestExecuteSell_ResolvesBalanceOnChain(t *testing.T) {
	engine := &fakeEngine{sellFill: &trade.Fill{Signature: "SIG", Strategy: trade.StrategyDirect}}
	chain := solana.NewStubChain()
	chain.SetBalance(traderWallet, plainMint, big.NewInt(5_000_000), 6)
	e := liveExecutor(engine, &fakeOracle{}, chain, false)

	_, err := e.ExecuteSell(context.Background(), SellRequest{Mint: plainMint, SellAll: true})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5_000_000), engine.sellQty)
}

func TestExecuteSell_ZeroBalanceIsNoBalance(t *testing.T) {
	engine := &fakeEngine{}
	e := liveExecutor(engine, &fakeOracle{}, solana.NewStubChain(), false)

	_, err := e.ExecuteSell(context.Background(), SellRequest{Mint: plainMint, SellAll: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, trade.ErrNoBalance))
	assert.True(t, IsNoBalance(err))
	assert.Equal(t, 0, engine.sellCalls)
}

func TestExecuteSell_VenuePreferredForMarkedMint(t *testing.T) {
	engine := &fakeEngine{venueFill: &trade.Fill{Signature: "VSIG", Strategy: trade.StrategyVenue}}
	e := liveExecutor(engine, &fakeOracle{}, solana.NewStubChain(), true)

	fill, err := e.ExecuteSell(context.Background(), SellRequest{Mint: venueMint, SellAll: true})
	require.NoError(t, err)
	assert.Equal(t, "VSIG", fill.Signature)
	assert.Equal(t, 1, engine.venueCalls)
	assert.Equal(t, 0, engine.sellCalls)
}

func TestExecuteSell_VenueFailureFallsThroughToAggregator(t *testing.T) {
	engine := &fakeEngine{
		venueErr: errors.New("venue exploded"),
		sellFill: &trade.Fill{Signature: "AGG-SIG", Strategy: trade.StrategyAny},
	}
	chain := solana.NewStubChain()
	chain.SetBalance(traderWallet, venueMint, big.NewInt(9_000_000), 6)
	e := liveExecutor(engine, &fakeOracle{}, chain, true)

	fill, err := e.ExecuteSell(context.Background(), SellRequest{Mint: venueMint, SellAll: true})
	require.NoError(t, err)
	assert.Equal(t, "AGG-SIG", fill.Signature)
	assert.Equal(t, 1, engine.venueCalls)
	assert.Equal(t, 1, engine.sellCalls)
}

func TestExecuteSell_PercentOfQty(t *testing.T) {
	engine := &fakeEngine{sellFill: &trade.Fill{Signature: "SIG"}}
	e := liveExecutor(engine, &fakeOracle{}, solana.NewStubChain(), false)

	_, err := e.ExecuteSell(context.Background(), SellRequest{
		Mint:     plainMint,
		QtyAtoms: big.NewInt(1000),
		Percent:  25,
	})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(250), engine.sellQty)
}

func TestThrottle_EnforcesMinInterval(t *testing.T) {
	o := &fakeOracle{spot: map[string]float64{plainMint: 0.5}, solUSD: 150}
	e := New(Config{
		Mode:             "paper",
		BuySOLAmount:     decimal.NewFromFloat(0.05),
		MinTradeInterval: 80 * time.Millisecond,
	}, nil, o, solana.NewStubChain(), "")

	start := time.Now()
	_, err := e.ExecuteBuy(context.Background(), plainMint)
	require.NoError(t, err)
	_, err = e.ExecuteBuy(context.Background(), plainMint)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond,
		"second trade must wait out the throttle")
}
