package positions

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position store — at most one open position per mint, append-only closes
// ---------------------------------------------------------------------------

// Open is an active position. QtyAtoms, EntryPriceUSD, Decimals and SOLSpent
// are nil when the fill could not be fully reconstructed.
type Open struct {
	Mint          string           `json:"mint"`
	OriginWallet  string           `json:"origin_wallet"`
	EntryPriceUSD *decimal.Decimal `json:"entry_price_usd,omitempty"`
	QtyAtoms      *big.Int         `json:"qty_atoms,omitempty"`
	Decimals      *uint8           `json:"decimals,omitempty"`
	SOLSpent      *decimal.Decimal `json:"sol_spent,omitempty"`
	OpenedAt      time.Time        `json:"ts_open"`
	SourceTx      string           `json:"source_tx"`
	Mode          string           `json:"mode"` // paper|live
	Strategy      string           `json:"strategy"`
}

// ReasonManual marks operator-initiated closes.
const ReasonManual = "manual"

// Closed is a finished position.
type Closed struct {
	Open
	ExitPriceUSD *decimal.Decimal `json:"exit_price_usd,omitempty"`
	ExitTx       string           `json:"exit_tx,omitempty"`
	ClosedAt     time.Time        `json:"ts_close"`
	PnLPct       *float64         `json:"pnl_pct,omitempty"`
	Reason       string           `json:"reason"`
}

// openJSON mirrors Open for serialization: atoms travel as strings, never
// floats.
type openJSON struct {
	Mint          string           `json:"mint"`
	OriginWallet  string           `json:"origin_wallet"`
	EntryPriceUSD *decimal.Decimal `json:"entry_price_usd,omitempty"`
	QtyAtoms      string           `json:"qty_atoms,omitempty"`
	Decimals      *uint8           `json:"decimals,omitempty"`
	SOLSpent      *decimal.Decimal `json:"sol_spent,omitempty"`
	OpenedAt      time.Time        `json:"ts_open"`
	SourceTx      string           `json:"source_tx"`
	Mode          string           `json:"mode"`
	Strategy      string           `json:"strategy"`
}

type closedJSON struct {
	openJSON
	ExitPriceUSD *decimal.Decimal `json:"exit_price_usd,omitempty"`
	ExitTx       string           `json:"exit_tx,omitempty"`
	ClosedAt     time.Time        `json:"ts_close"`
	PnLPct       *float64         `json:"pnl_pct,omitempty"`
	Reason       string           `json:"reason"`
}

func (o Open) toJSON() openJSON {
	j := openJSON{
		Mint:          o.Mint,
		OriginWallet:  o.OriginWallet,
		EntryPriceUSD: o.EntryPriceUSD,
		Decimals:      o.Decimals,
		SOLSpent:      o.SOLSpent,
		OpenedAt:      o.OpenedAt,
		SourceTx:      o.SourceTx,
		Mode:          o.Mode,
		Strategy:      o.Strategy,
	}
	if o.QtyAtoms != nil {
		j.QtyAtoms = o.QtyAtoms.String()
	}
	return j
}

func (j openJSON) toOpen() Open {
	o := Open{
		Mint:          j.Mint,
		OriginWallet:  j.OriginWallet,
		EntryPriceUSD: j.EntryPriceUSD,
		Decimals:      j.Decimals,
		SOLSpent:      j.SOLSpent,
		OpenedAt:      j.OpenedAt,
		SourceTx:      j.SourceTx,
		Mode:          j.Mode,
		Strategy:      j.Strategy,
	}
	if j.QtyAtoms != "" {
		if v, ok := new(big.Int).SetString(j.QtyAtoms, 10); ok {
			o.QtyAtoms = v
		}
	}
	return o
}

type snapshot struct {
	Open   map[string]openJSON `json:"open"`
	Closed []closedJSON        `json:"closed"`
}

// Store holds open and closed positions with a durable JSON snapshot.
type Store struct {
	path string

	mu     sync.RWMutex
	open   map[string]Open
	closed []Closed
}

// NewStore creates a store persisted at path. Missing or corrupt snapshots
// load as empty.
func NewStore(path string) *Store {
	s := &Store{
		path: path,
		open: make(map[string]Open),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("positions: corrupt snapshot, starting empty")
		return
	}
	for mint, oj := range snap.Open {
		s.open[mint] = oj.toOpen()
	}
	for _, cj := range snap.Closed {
		s.closed = append(s.closed, Closed{
			Open:         cj.openJSON.toOpen(),
			ExitPriceUSD: cj.ExitPriceUSD,
			ExitTx:       cj.ExitTx,
			ClosedAt:     cj.ClosedAt,
			PnLPct:       cj.PnLPct,
			Reason:       cj.Reason,
		})
	}
	log.Info().
		Int("open", len(s.open)).
		Int("closed", len(s.closed)).
		Msg("positions: snapshot loaded")
}

// Get returns the open position for a mint.
func (s *Store) Get(mint string) (Open, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.open[mint]
	return pos, ok
}

// OpenMints returns all mints with an open position.
func (s *Store) OpenMints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.open))
	for m := range s.open {
		out = append(out, m)
	}
	return out
}

// OpenPosition records a position, overwriting any previous record for the
// mint, and flushes the snapshot.
func (s *Store) OpenPosition(pos Open) {
	s.mu.Lock()
	s.open[pos.Mint] = pos
	s.mu.Unlock()

	s.flush()
	log.Info().
		Str("mint", pos.Mint).
		Str("wallet", pos.OriginWallet).
		Str("mode", pos.Mode).
		Str("strategy", pos.Strategy).
		Msg("positions: opened")
}

// ClosePosition moves the open record for mint to the closed list, computing
// pnl_pct when both prices are available. Returns the closed record, or
// false when no position was open.
func (s *Store) ClosePosition(mint, reason, exitTx string, exitPrice *decimal.Decimal) (Closed, bool) {
	s.mu.Lock()
	pos, ok := s.open[mint]
	if !ok {
		s.mu.Unlock()
		return Closed{}, false
	}
	delete(s.open, mint)

	closed := Closed{
		Open:         pos,
		ExitPriceUSD: exitPrice,
		ExitTx:       exitTx,
		ClosedAt:     time.Now(),
		Reason:       reason,
	}
	if exitPrice != nil && pos.EntryPriceUSD != nil && pos.EntryPriceUSD.IsPositive() {
		pnl, _ := exitPrice.Sub(*pos.EntryPriceUSD).
			Div(*pos.EntryPriceUSD).
			Mul(decimal.NewFromInt(100)).
			Float64()
		closed.PnLPct = &pnl
	}
	s.closed = append(s.closed, closed)
	s.mu.Unlock()

	s.flush()
	evt := log.Info().
		Str("mint", mint).
		Str("reason", reason)
	if closed.PnLPct != nil {
		evt = evt.Float64("pnl_pct", *closed.PnLPct)
	}
	evt.Msg("positions: closed")
	return closed, true
}

// ClosedPositions returns a copy of the closed list.
func (s *Store) ClosedPositions() []Closed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Closed, len(s.closed))
	copy(out, s.closed)
	return out
}

// Stats returns store counters.
type Stats struct {
	Open   int `json:"open"`
	Closed int `json:"closed"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Open: len(s.open), Closed: len(s.closed)}
}

// Flush writes the snapshot. Failures are logged, never propagated.
func (s *Store) Flush() { s.flush() }

func (s *Store) flush() {
	s.mu.RLock()
	snap := snapshot{
		Open:   make(map[string]openJSON, len(s.open)),
		Closed: make([]closedJSON, 0, len(s.closed)),
	}
	for mint, pos := range s.open {
		snap.Open[mint] = pos.toJSON()
	}
	for _, c := range s.closed {
		snap.Closed = append(snap.Closed, closedJSON{
			openJSON:     c.Open.toJSON(),
			ExitPriceUSD: c.ExitPriceUSD,
			ExitTx:       c.ExitTx,
			ClosedAt:     c.ClosedAt,
			PnLPct:       c.PnLPct,
			Reason:       c.Reason,
		})
	}
	s.mu.RUnlock()

	if err := writeAtomic(s.path, snap); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("positions: snapshot write failed")
	}
}

func writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
