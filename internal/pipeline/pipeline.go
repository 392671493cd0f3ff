package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JamesElliotDesign/trakr/internal/detector"
	"github.com/JamesElliotDesign/trakr/internal/helius"
	"github.com/JamesElliotDesign/trakr/internal/notify"
	"github.com/JamesElliotDesign/trakr/internal/positions"
	"github.com/JamesElliotDesign/trakr/internal/trade"
)

// ---------------------------------------------------------------------------
// Pipeline — webhook events to opened positions, one in-flight buy per mint
// ---------------------------------------------------------------------------

// Buyer is the executor surface the pipeline drives.
type Buyer interface {
	ExecuteBuy(ctx context.Context, mint string) (*trade.Fill, error)
	Paper() bool
}

// WatchStarter starts position supervision after a buy settles.
type WatchStarter interface {
	Start(ctx context.Context, mint string)
}

// Pipeline routes detected buy signals into buy tasks.
type Pipeline struct {
	detector *detector.Detector
	buyer    Buyer
	store    *positions.Store
	watchers WatchStarter
	notifier notify.Notifier

	// baseCtx scopes spawned buy tasks to the process, not the request.
	baseCtx context.Context

	mu       sync.Mutex
	inFlight map[string]bool

	tasks sync.WaitGroup
}

// New creates a pipeline. baseCtx bounds the lifetime of spawned buy tasks.
func New(baseCtx context.Context, det *detector.Detector, buyer Buyer, store *positions.Store, watchers WatchStarter, notifier notify.Notifier) *Pipeline {
	return &Pipeline{
		detector: det,
		buyer:    buyer,
		store:    store,
		watchers: watchers,
		notifier: notifier,
		baseCtx:  baseCtx,
		inFlight: make(map[string]bool),
	}
}

// HandleEvent processes one webhook delivery. It is idempotent and never
// blocks on a mint that already has a pending buy.
func (p *Pipeline) HandleEvent(txs []helius.EnhancedTransaction) {
	for i := range txs {
		for _, sig := range p.detector.Detect(&txs[i]) {
			p.handleSignal(sig)
		}
	}
}

func (p *Pipeline) handleSignal(sig detector.BuySignal) {
	// Best-effort heads-up; never gates the trade.
	p.notifier.SignalDetected(sig.Wallet, sig.Mint, sig.Signature)

	if _, open := p.store.Get(sig.Mint); open {
		log.Debug().Str("mint", short(sig.Mint)).Msg("pipeline: position already open, skipping")
		return
	}

	if !p.acquire(sig.Mint) {
		log.Debug().Str("mint", short(sig.Mint)).Msg("pipeline: buy already in flight, skipping")
		return
	}

	p.tasks.Add(1)
	go p.buyTask(sig)
}

// buyTask owns the whole buy -> persist -> watch sequence for one mint. The
// in-flight lock is held for its full duration.
func (p *Pipeline) buyTask(sig detector.BuySignal) {
	defer p.tasks.Done()
	defer p.release(sig.Mint)

	fill, err := p.buyer.ExecuteBuy(p.baseCtx, sig.Mint)
	if err != nil {
		log.Error().Err(err).
			Str("mint", short(sig.Mint)).
			Str("kind", trade.Classify(err).String()).
			Msg("pipeline: buy failed")
		return
	}

	mode := "live"
	if p.buyer.Paper() {
		mode = "paper"
	}

	pos := positions.Open{
		Mint:          sig.Mint,
		OriginWallet:  sig.Wallet,
		EntryPriceUSD: fill.PriceUSD,
		QtyAtoms:      fill.ReceivedAtoms,
		Decimals:      fill.Decimals,
		OpenedAt:      time.Now(),
		SourceTx:      sig.Signature,
		Mode:          mode,
		Strategy:      fill.Strategy,
	}
	if fill.SOLSpent.IsPositive() {
		spent := fill.SOLSpent
		pos.SOLSpent = &spent
	}

	p.store.OpenPosition(pos)
	p.watchers.Start(p.baseCtx, sig.Mint)

	// Single entry notice, sent once the position is persisted.
	p.notifier.PositionOpened(pos)
}

// Wait blocks until every spawned buy task has finished (shutdown, tests).
func (p *Pipeline) Wait() {
	p.tasks.Wait()
}

// InFlight reports whether a buy is pending for the mint.
func (p *Pipeline) InFlight(mint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight[mint]
}

func (p *Pipeline) acquire(mint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[mint] {
		return false
	}
	p.inFlight[mint] = true
	return true
}

func (p *Pipeline) release(mint string) {
	p.mu.Lock()
	delete(p.inFlight, mint)
	p.mu.Unlock()
}

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
