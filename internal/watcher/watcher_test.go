package watcher

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesElliotDesign/trakr/internal/executor"
	"github.com/JamesElliotDesign/trakr/internal/oracle"
	"github.com/JamesElliotDesign/trakr/internal/positions"
	"github.com/JamesElliotDesign/trakr/internal/solana"
	"github.com/JamesElliotDesign/trakr/internal/trade"
)

const (
	mintM  = "Mmint111111111111111111111111111111111111"
	wallet = "Trader11111111111111111111111111111111111"
)

// --- fakes ---

type fakeSeller struct {
	mu        sync.Mutex
	paper     bool
	fill      *trade.Fill
	err       error
	sellCalls int
}

func (f *fakeSeller) ExecuteSell(_ context.Context, _ executor.SellRequest) (*trade.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellCalls++
	return f.fill, f.err
}

func (f *fakeSeller) Paper() bool { return f.paper }

func (f *fakeSeller) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sellCalls
}

type fakeOracle struct {
	mu    sync.Mutex
	price float64
}

func (f *fakeOracle) SpotPrice(_ context.Context, _ string, _ oracle.Hints) *oracle.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.price <= 0 {
		return nil
	}
	return &oracle.Quote{PriceUSD: decimal.NewFromFloat(f.price), Source: "jupiter"}
}

type fakeNotifier struct {
	mu     sync.Mutex
	closed []positions.Closed
}

func (f *fakeNotifier) SignalDetected(_, _, _ string)   {}
func (f *fakeNotifier) PositionOpened(_ positions.Open) {}
func (f *fakeNotifier) PositionClosed(pos positions.Closed) {
	f.mu.Lock()
	f.closed = append(f.closed, pos)
	f.mu.Unlock()
}

func (f *fakeNotifier) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

// --- helpers ---

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func openTestPosition(store *positions.Store, openedAgo time.Duration) {
	dec := uint8(6)
	store.OpenPosition(positions.Open{
		Mint:          mintM,
		OriginWallet:  "W1",
		EntryPriceUSD: decPtr(0.01),
		QtyAtoms:      big.NewInt(100_000_000),
		Decimals:      &dec,
		OpenedAt:      time.Now().Add(-openedAgo),
		SourceTx:      "S1",
		Mode:          "paper",
		Strategy:      trade.StrategyPaper,
	})
}

func testConfig() Config {
	return Config{
		TakeProfitPct: 20,
		StopLossPct:   10,
		PollInterval:  time.Second,
		SettleTimeout: 45 * time.Second,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    10 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, seller Seller, o PriceOracle, chain solana.Chain) (*Manager, *positions.Store, *fakeNotifier) {
	t.Helper()
	store := positions.NewStore(filepath.Join(t.TempDir(), "positions.json"))
	notifier := &fakeNotifier{}
	m := NewManager(testConfig(), store, o, seller, chain, notifier, wallet)
	return m, store, notifier
}

// --- tests ---

func TestTick_TakeProfitCloses(t *testing.T) {
	seller := &fakeSeller{paper: true, fill: &trade.Fill{Signature: "EXIT-SIG", PriceUSD: decPtr(0.013)}}
	o := &fakeOracle{price: 0.013} // +30% vs 0.01 entry
	m, store, notifier := newTestManager(t, seller, o, solana.NewStubChain())
	openTestPosition(store, time.Second)

	stop := m.Tick(context.Background(), mintM)

	assert.True(t, stop)
	_, stillOpen := store.Get(mintM)
	assert.False(t, stillOpen)

	closed := store.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, "take_profit_20%", closed[0].Reason)
	assert.Equal(t, "EXIT-SIG", closed[0].ExitTx)
	require.NotNil(t, closed[0].PnLPct)
	assert.InDelta(t, 30.0, *closed[0].PnLPct, 0.01)
	assert.Equal(t, 1, notifier.closeCount())
}

func TestTick_StopLossCloses(t *testing.T) {
	seller := &fakeSeller{paper: true, fill: &trade.Fill{Signature: "EXIT-SIG"}}
	o := &fakeOracle{price: 0.008} // -20% vs 0.01 entry
	m, store, _ := newTestManager(t, seller, o, solana.NewStubChain())
	openTestPosition(store, time.Second)

	stop := m.Tick(context.Background(), mintM)

	assert.True(t, stop)
	closed := store.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, "stop_loss_10%", closed[0].Reason)
}

func TestTick_InteriorChangeHolds(t *testing.T) {
	seller := &fakeSeller{paper: true}
	o := &fakeOracle{price: 0.011} // +10%: inside both thresholds
	m, store, _ := newTestManager(t, seller, o, solana.NewStubChain())
	openTestPosition(store, time.Second)

	stop := m.Tick(context.Background(), mintM)

	assert.False(t, stop)
	assert.Equal(t, 0, seller.calls())
	_, stillOpen := store.Get(mintM)
	assert.True(t, stillOpen)
}

func TestTick_SettlementTimeoutCloses(t *testing.T) {
	seller := &fakeSeller{paper: false} // live mode: balance comes from chain
	o := &fakeOracle{price: 0.01}
	chain := solana.NewStubChain() // zero balance for the mint
	m, store, notifier := newTestManager(t, seller, o, chain)
	openTestPosition(store, 46*time.Second)

	stop := m.Tick(context.Background(), mintM)

	assert.True(t, stop)
	closed := store.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonNoBalance, closed[0].Reason)
	assert.Empty(t, closed[0].ExitTx)
	assert.Equal(t, 1, notifier.closeCount())
}

func TestTick_ZeroBalanceBeforeTimeoutBacksOff(t *testing.T) {
	seller := &fakeSeller{paper: false}
	o := &fakeOracle{price: 0.013}
	m, store, _ := newTestManager(t, seller, o, solana.NewStubChain())
	openTestPosition(store, time.Second)

	stop := m.Tick(context.Background(), mintM)

	assert.False(t, stop)
	_, stillOpen := store.Get(mintM)
	assert.True(t, stillOpen)

	st := m.state(mintM)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, 1, st.backoffLevel)
	assert.True(t, st.cooldownUntil.After(time.Now().Add(-time.Second)))
}

func TestTick_SellNoRouteKeepsPositionOpen(t *testing.T) {
	seller := &fakeSeller{paper: true, err: trade.ErrNoRoute}
	o := &fakeOracle{price: 0.013}
	m, store, _ := newTestManager(t, seller, o, solana.NewStubChain())
	openTestPosition(store, time.Second)

	stop := m.Tick(context.Background(), mintM)

	assert.False(t, stop)
	assert.Equal(t, 1, seller.calls(), "no-route aborts the retry loop immediately")
	_, stillOpen := store.Get(mintM)
	assert.True(t, stillOpen)

	st := m.state(mintM)
	st.mu.Lock()
	assert.False(t, st.exiting, "exiting flag cleared after a failed exit")
	assert.Equal(t, 1, st.backoffLevel)
	st.mu.Unlock()
}

func TestTick_TransientSellErrorRetries(t *testing.T) {
	seller := &fakeSeller{paper: true, err: errors.New("rpc hiccup")}
	o := &fakeOracle{price: 0.013}
	m, store, _ := newTestManager(t, seller, o, solana.NewStubChain())
	openTestPosition(store, time.Second)

	stop := m.Tick(context.Background(), mintM)

	assert.False(t, stop)
	assert.Equal(t, sellAttempts, seller.calls())
	_, stillOpen := store.Get(mintM)
	assert.True(t, stillOpen)
}

func TestTick_CooldownSkipsEvaluation(t *testing.T) {
	seller := &fakeSeller{paper: true, fill: &trade.Fill{Signature: "SIG"}}
	o := &fakeOracle{price: 0.013}
	m, store, _ := newTestManager(t, seller, o, solana.NewStubChain())
	openTestPosition(store, time.Second)

	st := m.state(mintM)
	st.mu.Lock()
	st.cooldownUntil = time.Now().Add(time.Hour)
	st.mu.Unlock()

	stop := m.Tick(context.Background(), mintM)
	assert.False(t, stop)
	assert.Equal(t, 0, seller.calls())
}

func TestTick_MissingPositionStops(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeSeller{paper: true}, &fakeOracle{price: 1}, solana.NewStubChain())
	assert.True(t, m.Tick(context.Background(), mintM))
}

func TestTick_UnusablePriceHolds(t *testing.T) {
	m, store, _ := newTestManager(t, &fakeSeller{paper: true}, &fakeOracle{price: 0}, solana.NewStubChain())
	openTestPosition(store, time.Second)

	assert.False(t, m.Tick(context.Background(), mintM))
}

func TestStartStop(t *testing.T) {
	m, store, _ := newTestManager(t, &fakeSeller{paper: true}, &fakeOracle{price: 0.011}, solana.NewStubChain())
	openTestPosition(store, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx, mintM)
	assert.True(t, m.Watching(mintM))
	m.Start(ctx, mintM) // idempotent

	m.Stop(mintM)
	assert.False(t, m.Watching(mintM))
}

func TestRestoreAll(t *testing.T) {
	m, store, _ := newTestManager(t, &fakeSeller{paper: true}, &fakeOracle{price: 0.011}, solana.NewStubChain())
	openTestPosition(store, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.RestoreAll(ctx)
	assert.True(t, m.Watching(mintM))

	m.StopAll()
	assert.False(t, m.Watching(mintM))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeSeller{paper: true}, &fakeOracle{}, solana.NewStubChain())
	st := m.state(mintM)

	for i := 0; i < 10; i++ {
		m.scheduleBackoff(st, mintM)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, 10, st.backoffLevel)
	// Cooldown never exceeds max backoff plus jitter.
	assert.True(t, st.cooldownUntil.Before(time.Now().Add(m.cfg.MaxBackoff+backoffJitterMax+time.Second)))
}
