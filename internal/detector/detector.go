package detector

import (
	"math/big"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/JamesElliotDesign/trakr/internal/dedup"
	"github.com/JamesElliotDesign/trakr/internal/helius"
	"github.com/JamesElliotDesign/trakr/internal/tracked"
)

// ---------------------------------------------------------------------------
// Buy detector — enhanced transactions in, normalized buy signals out
// ---------------------------------------------------------------------------

// BuySignal is one qualifying token acquisition by a tracked wallet.
type BuySignal struct {
	Wallet    string
	Mint      string
	Amount    *big.Int // token atoms
	Decimals  *uint8
	Signature string
	SOLSpent  *decimal.Decimal // native spent by the wallet, when derivable
	TxType    string
}

// Config holds the detector's filters.
type Config struct {
	ExcludedMints  map[string]bool
	MinTokenAmount decimal.Decimal // UI units; dust filter
}

// Detector parses enhanced transactions against the tracked-wallet snapshot.
// It is total: malformed input is skipped, never raised.
type Detector struct {
	cfg     Config
	tracked *tracked.Set
	seen    *dedup.Store
}

// New creates a detector.
func New(cfg Config, set *tracked.Set, seen *dedup.Store) *Detector {
	if cfg.ExcludedMints == nil {
		cfg.ExcludedMints = make(map[string]bool)
	}
	return &Detector{cfg: cfg, tracked: set, seen: seen}
}

// Detect emits buy signals for every qualifying token transfer in the
// transaction, in transfer order.
func (d *Detector) Detect(tx *helius.EnhancedTransaction) []BuySignal {
	if tx == nil {
		return nil
	}

	var signals []BuySignal
	warned := false

	for _, tt := range tx.TokenTransfers {
		amount, decimals, ok := transferAmount(tt)
		if !ok || tt.Mint == "" || tt.ToUserAccount == "" {
			if !warned {
				log.Warn().Str("sig", tx.Signature).Msg("detector: malformed transfer in event, skipping")
				warned = true
			}
			continue
		}
		if amount.Sign() <= 0 {
			continue
		}
		if d.cfg.ExcludedMints[tt.Mint] {
			continue
		}
		if !d.tracked.Contains(tt.ToUserAccount) {
			continue
		}
		if d.belowDust(amount, decimals) {
			continue
		}

		// Debounce repeated buys of the same mint by the same wallet.
		if d.seen.SeenWithin(dedup.BuyKey(tt.ToUserAccount, tt.Mint)) {
			log.Debug().
				Str("wallet", tt.ToUserAccount).
				Str("mint", tt.Mint).
				Msg("detector: debounced")
			continue
		}

		sig := BuySignal{
			Wallet:    tt.ToUserAccount,
			Mint:      tt.Mint,
			Amount:    amount,
			Decimals:  decimals,
			Signature: tx.Signature,
			SOLSpent:  solSpentBy(tx, tt.ToUserAccount),
			TxType:    tx.Type,
		}
		signals = append(signals, sig)

		log.Info().
			Str("wallet", sig.Wallet).
			Str("mint", sig.Mint).
			Str("amount", sig.Amount.String()).
			Str("sig", sig.Signature).
			Msg("detector: buy signal")
	}

	return signals
}

// transferAmount resolves the token amount in atoms, preferring the
// UI-normalized field and falling back to the raw amount only when the UI
// field is absent.
func transferAmount(tt helius.TokenTransfer) (*big.Int, *uint8, bool) {
	if tt.TokenAmount > 0 {
		ui := decimal.NewFromFloat(tt.TokenAmount)
		// The raw entry still supplies the mint's decimals when present.
		if tt.RawTokenAmount != nil && tt.RawTokenAmount.TokenAmount != "" {
			dec := uint8(tt.RawTokenAmount.Decimals)
			atoms := ui.Shift(int32(dec)).Truncate(0)
			return atoms.BigInt(), &dec, true
		}
		// UI amount with unknown decimals; treat the integer part as atoms
		// only when the value is already integral, otherwise keep the UI
		// value at the default SPL precision.
		if ui.IsInteger() {
			return ui.BigInt(), nil, true
		}
		dec := uint8(6)
		atoms := ui.Shift(int32(dec)).Truncate(0)
		return atoms.BigInt(), &dec, true
	}

	if tt.RawTokenAmount != nil && tt.RawTokenAmount.TokenAmount != "" {
		atoms, ok := new(big.Int).SetString(tt.RawTokenAmount.TokenAmount, 10)
		if !ok {
			return nil, nil, false
		}
		dec := uint8(tt.RawTokenAmount.Decimals)
		return atoms, &dec, true
	}

	return nil, nil, false
}

// belowDust applies the UI-unit dust filter when decimals are known.
func (d *Detector) belowDust(atoms *big.Int, decimals *uint8) bool {
	if d.cfg.MinTokenAmount.IsZero() {
		return false
	}
	ui := decimal.NewFromBigInt(atoms, 0)
	if decimals != nil {
		ui = ui.Shift(-int32(*decimals))
	}
	return ui.LessThan(d.cfg.MinTokenAmount)
}

// solSpentBy sums native transfers sent by the wallet, in SOL.
func solSpentBy(tx *helius.EnhancedTransaction, wallet string) *decimal.Decimal {
	total := int64(0)
	for _, nt := range tx.NativeTransfers {
		if nt.FromUserAccount == wallet && nt.Amount > 0 {
			total += nt.Amount
		}
	}
	if total == 0 {
		return nil
	}
	sol := decimal.NewFromInt(total).Div(decimal.NewFromInt(1_000_000_000))
	return &sol
}
