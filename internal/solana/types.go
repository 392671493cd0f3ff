package solana

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Well-known mainnet mints.
const (
	// WSOLMint is the native wrap mint used as the swap leg for SOL.
	WSOLMint = "So11111111111111111111111111111111111111112"
	// USDCMint is the canonical stable used for bridge routing.
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// LamportsPerSOL converts between lamports and SOL.
const LamportsPerSOL = 1_000_000_000

// TokenBalance is a wallet's holding of one mint, summed over its largest
// token account.
type TokenBalance struct {
	Atoms    *big.Int
	Decimals uint8
}

// UIAmount converts atoms to the human-readable amount.
func (b *TokenBalance) UIAmount() decimal.Decimal {
	if b == nil || b.Atoms == nil {
		return decimal.Zero
	}
	atoms := decimal.NewFromBigInt(b.Atoms, 0)
	return atoms.Shift(-int32(b.Decimals))
}

// IsZero reports whether the balance is absent or zero.
func (b *TokenBalance) IsZero() bool {
	return b == nil || b.Atoms == nil || b.Atoms.Sign() == 0
}

// TokenDelta is the change in a wallet's holding of one mint across a
// confirmed transaction, reconstructed from pre/post balances.
type TokenDelta struct {
	ReceivedAtoms *big.Int // max(0, post - pre)
	Decimals      uint8
}

// SOLToLamports converts a SOL amount to lamports, truncating dust.
func SOLToLamports(sol decimal.Decimal) uint64 {
	lamports := sol.Mul(decimal.NewFromInt(LamportsPerSOL))
	return uint64(lamports.IntPart())
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(decimal.NewFromInt(LamportsPerSOL))
}
