package watcher

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/JamesElliotDesign/trakr/internal/executor"
	"github.com/JamesElliotDesign/trakr/internal/notify"
	"github.com/JamesElliotDesign/trakr/internal/oracle"
	"github.com/JamesElliotDesign/trakr/internal/positions"
	"github.com/JamesElliotDesign/trakr/internal/solana"
	"github.com/JamesElliotDesign/trakr/internal/trade"
)

// ---------------------------------------------------------------------------
// Watcher — one supervision loop per open mint: TP/SL/settlement-timeout
// ---------------------------------------------------------------------------

const (
	minPollInterval = 500 * time.Millisecond

	sellAttempts     = 4
	sellRetryBase    = 600 * time.Millisecond
	sellRetryStep    = 500 * time.Millisecond
	backoffJitterMax = 250 * time.Millisecond
)

// ReasonNoBalance is the settlement-timeout close reason.
const ReasonNoBalance = "buy_failed_no_balance"

// Seller is the executor surface the watcher drives.
type Seller interface {
	ExecuteSell(ctx context.Context, req executor.SellRequest) (*trade.Fill, error)
	Paper() bool
}

// PriceOracle resolves spot prices for ticks.
type PriceOracle interface {
	SpotPrice(ctx context.Context, mint string, hints oracle.Hints) *oracle.Quote
}

// Config holds the exit thresholds and timing.
type Config struct {
	TakeProfitPct float64
	StopLossPct   float64
	PollInterval  time.Duration
	SettleTimeout time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// mintState is the per-mint tick bookkeeping. Each record carries its own
// lock so ticks never contend across mints.
type mintState struct {
	mu            sync.Mutex
	exiting       bool
	cooldownUntil time.Time
	backoffLevel  int
}

// Manager supervises one watcher goroutine per open position.
type Manager struct {
	cfg      Config
	store    *positions.Store
	oracle   PriceOracle
	seller   Seller
	chain    solana.Chain
	notifier notify.Notifier
	wallet   string

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	states   map[string]*mintState
}

// NewManager creates a watcher manager.
func NewManager(cfg Config, store *positions.Store, o PriceOracle, seller Seller, chain solana.Chain, notifier notify.Notifier, wallet string) *Manager {
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 1500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		oracle:   o,
		seller:   seller,
		chain:    chain,
		notifier: notifier,
		wallet:   wallet,
		watchers: make(map[string]context.CancelFunc),
		states:   make(map[string]*mintState),
	}
}

// Start spawns a watcher for the mint. Idempotent per mint.
func (m *Manager) Start(ctx context.Context, mint string) {
	m.mu.Lock()
	if _, exists := m.watchers[mint]; exists {
		m.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	m.watchers[mint] = cancel
	if _, ok := m.states[mint]; !ok {
		m.states[mint] = &mintState{}
	}
	m.mu.Unlock()

	log.Info().Str("mint", short(mint)).Msg("watcher: started")
	go m.run(watchCtx, mint)
}

// Stop cancels the mint's watcher and clears its tick state.
func (m *Manager) Stop(mint string) {
	m.mu.Lock()
	cancel, ok := m.watchers[mint]
	delete(m.watchers, mint)
	delete(m.states, mint)
	m.mu.Unlock()

	if ok {
		cancel()
		log.Info().Str("mint", short(mint)).Msg("watcher: stopped")
	}
}

// StopAll cancels every watcher.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.watchers))
	for _, c := range m.watchers {
		cancels = append(cancels, c)
	}
	m.watchers = make(map[string]context.CancelFunc)
	m.states = make(map[string]*mintState)
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// Watching reports whether a watcher is active for the mint.
func (m *Manager) Watching(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[mint]
	return ok
}

// RestoreAll starts watchers for every persisted open position.
func (m *Manager) RestoreAll(ctx context.Context) {
	for _, mint := range m.store.OpenMints() {
		m.Start(ctx, mint)
	}
}

func (m *Manager) run(ctx context.Context, mint string) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := m.Tick(ctx, mint); stop {
				m.Stop(mint)
				return
			}
		}
	}
}

// Tick runs one supervision pass. Returns true when the watcher should stop.
// The tick body is serial per mint; parallel mints are independent.
func (m *Manager) Tick(ctx context.Context, mint string) bool {
	pos, ok := m.store.Get(mint)
	if !ok {
		return true
	}

	state := m.state(mint)
	state.mu.Lock()
	if time.Now().Before(state.cooldownUntil) {
		state.mu.Unlock()
		return false
	}
	state.mu.Unlock()

	hints := oracle.Hints{
		AmountAtoms: pos.QtyAtoms,
		Decimals:    pos.Decimals,
		SOLSpent:    pos.SOLSpent,
	}
	quote := m.oracle.SpotPrice(ctx, mint, hints)
	if quote == nil || !quote.PriceUSD.IsPositive() {
		return false
	}

	hitTP, hitSL := false, false
	changePct := 0.0
	if pos.EntryPriceUSD != nil && pos.EntryPriceUSD.IsPositive() {
		change, _ := quote.PriceUSD.Sub(*pos.EntryPriceUSD).
			Div(*pos.EntryPriceUSD).
			Mul(decimal.NewFromInt(100)).
			Float64()
		changePct = change
		hitTP = changePct >= m.cfg.TakeProfitPct
		hitSL = changePct <= -abs(m.cfg.StopLossPct)
	}

	balance := m.resolveBalance(ctx, pos)
	if balance == nil {
		return false
	}

	if balance.Sign() == 0 {
		if time.Since(pos.OpenedAt) >= m.cfg.SettleTimeout {
			log.Warn().
				Str("mint", short(mint)).
				Dur("age", time.Since(pos.OpenedAt)).
				Msg("watcher: settlement timeout, no balance ever arrived")
			if closed, ok := m.store.ClosePosition(mint, ReasonNoBalance, "", nil); ok {
				m.notifier.PositionClosed(closed)
			}
			return true
		}
		m.scheduleBackoff(state, mint)
		return false
	}

	if !hitTP && !hitSL {
		return false
	}

	state.mu.Lock()
	if state.exiting {
		state.mu.Unlock()
		return false
	}
	state.exiting = true
	state.mu.Unlock()

	reason := fmt.Sprintf("take_profit_%v%%", m.cfg.TakeProfitPct)
	if hitSL {
		reason = fmt.Sprintf("stop_loss_%v%%", m.cfg.StopLossPct)
	}

	log.Info().
		Str("mint", short(mint)).
		Float64("change_pct", changePct).
		Str("reason", reason).
		Msg("watcher: exit threshold hit")

	fill, err := m.sellWithRetries(ctx, mint, balance)
	if err != nil {
		log.Warn().Err(err).Str("mint", short(mint)).Msg("watcher: sell failed, backing off")
		m.scheduleBackoff(state, mint)
		state.mu.Lock()
		state.exiting = false
		state.mu.Unlock()
		return false
	}

	state.mu.Lock()
	state.backoffLevel = 0
	state.mu.Unlock()

	exitPrice := quote.PriceUSD
	if fill.PriceUSD != nil {
		exitPrice = *fill.PriceUSD
	}
	if closed, ok := m.store.ClosePosition(mint, reason, fill.Signature, &exitPrice); ok {
		m.notifier.PositionClosed(closed)
	}
	return true
}

// sellWithRetries attempts the exit, retrying transient failures. Rate
// limits, missing routes and missing balances abort immediately so the
// backoff can absorb them.
func (m *Manager) sellWithRetries(ctx context.Context, mint string, balance *big.Int) (*trade.Fill, error) {
	var lastErr error
	for attempt := 0; attempt < sellAttempts; attempt++ {
		if attempt > 0 {
			wait := sellRetryBase + time.Duration(attempt)*sellRetryStep
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		fill, err := m.seller.ExecuteSell(ctx, executor.SellRequest{
			Mint:     mint,
			QtyAtoms: balance,
			SellAll:  true,
		})
		if err == nil {
			return fill, nil
		}
		lastErr = err

		switch trade.Classify(err) {
		case trade.KindRateLimit, trade.KindNoRoute, trade.KindNoBalance:
			return nil, err
		}
		log.Debug().Err(err).Int("attempt", attempt+1).Str("mint", short(mint)).
			Msg("watcher: sell attempt failed")
	}
	return nil, lastErr
}

// resolveBalance reads the wallet's holding. Paper positions settle
// instantly at their recorded quantity.
func (m *Manager) resolveBalance(ctx context.Context, pos positions.Open) *big.Int {
	if m.seller.Paper() {
		if pos.QtyAtoms != nil {
			return pos.QtyAtoms
		}
		return new(big.Int)
	}
	bal, err := m.chain.TokenBalance(ctx, m.wallet, pos.Mint)
	if err != nil {
		log.Debug().Err(err).Str("mint", short(pos.Mint)).Msg("watcher: balance lookup failed")
		return nil
	}
	return bal.Atoms
}

func (m *Manager) state(mint string) *mintState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[mint]
	if !ok {
		st = &mintState{}
		m.states[mint] = st
	}
	return st
}

// scheduleBackoff sets the next cooldown: exponential with jitter, capped.
func (m *Manager) scheduleBackoff(state *mintState, mint string) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.backoffLevel++
	backoff := m.cfg.BaseBackoff << uint(state.backoffLevel-1)
	if backoff > m.cfg.MaxBackoff || backoff <= 0 {
		backoff = m.cfg.MaxBackoff
	}
	backoff += time.Duration(rand.Int63n(int64(backoffJitterMax)))
	state.cooldownUntil = time.Now().Add(backoff)

	log.Debug().
		Str("mint", short(mint)).
		Int("level", state.backoffLevel).
		Dur("backoff", backoff).
		Msg("watcher: backoff scheduled")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
