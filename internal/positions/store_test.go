package positions

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func testOpen(mint string) Open {
	dec := uint8(6)
	return Open{
		Mint:          mint,
		OriginWallet:  "W1",
		EntryPriceUSD: decPtr(0.01),
		QtyAtoms:      big.NewInt(100_000_000),
		Decimals:      &dec,
		SOLSpent:      decPtr(0.05),
		OpenedAt:      time.Now(),
		SourceTx:      "S1",
		Mode:          "paper",
		Strategy:      "direct-preferred",
	}
}

func TestOpenAndGet(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "positions.json"))
	s.OpenPosition(testOpen("M1"))

	pos, ok := s.Get("M1")
	require.True(t, ok)
	assert.Equal(t, "W1", pos.OriginWallet)
	assert.Equal(t, big.NewInt(100_000_000), pos.QtyAtoms)

	_, ok = s.Get("M2")
	assert.False(t, ok)
}

func TestOpenOverwritesByMint(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "positions.json"))
	s.OpenPosition(testOpen("M1"))

	second := testOpen("M1")
	second.OriginWallet = "W2"
	s.OpenPosition(second)

	assert.Equal(t, []string{"M1"}, s.OpenMints())
	pos, _ := s.Get("M1")
	assert.Equal(t, "W2", pos.OriginWallet)
}

func TestClosePosition_ComputesPnL(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "positions.json"))
	s.OpenPosition(testOpen("M1"))

	closed, ok := s.ClosePosition("M1", "take_profit_20%", "SIG-EXIT", decPtr(0.013))
	require.True(t, ok)
	require.NotNil(t, closed.PnLPct)
	assert.InDelta(t, 30.0, *closed.PnLPct, 0.01)
	assert.Equal(t, "take_profit_20%", closed.Reason)
	assert.Equal(t, "SIG-EXIT", closed.ExitTx)

	// Atomic close: the mint is no longer open and the closed list has it.
	_, stillOpen := s.Get("M1")
	assert.False(t, stillOpen)
	require.Len(t, s.ClosedPositions(), 1)
	assert.Equal(t, "M1", s.ClosedPositions()[0].Mint)
}

func TestClosePosition_NilPricesNilPnL(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "positions.json"))
	pos := testOpen("M1")
	pos.EntryPriceUSD = nil
	s.OpenPosition(pos)

	closed, ok := s.ClosePosition("M1", "buy_failed_no_balance", "", nil)
	require.True(t, ok)
	assert.Nil(t, closed.PnLPct)
	assert.Nil(t, closed.ExitPriceUSD)
	assert.Empty(t, closed.ExitTx)
}

func TestClosePosition_AbsentMint(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "positions.json"))
	_, ok := s.ClosePosition("M1", "manual", "", nil)
	assert.False(t, ok)
}

func TestSnapshotRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")

	s := NewStore(path)
	s.OpenPosition(testOpen("M1"))
	s.OpenPosition(testOpen("M2"))
	_, ok := s.ClosePosition("M2", "stop_loss_10%", "SIG", decPtr(0.009))
	require.True(t, ok)

	reloaded := NewStore(path)
	pos, ok := reloaded.Get("M1")
	require.True(t, ok)
	assert.Equal(t, big.NewInt(100_000_000), pos.QtyAtoms)
	require.NotNil(t, pos.Decimals)
	assert.Equal(t, uint8(6), *pos.Decimals)

	closed := reloaded.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, "M2", closed[0].Mint)
	require.NotNil(t, closed[0].PnLPct)
	assert.InDelta(t, -10.0, *closed[0].PnLPct, 0.01)
}

func TestCorruptSnapshotLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	require.NoError(t, os.WriteFile(path, []byte("###"), 0o644))

	s := NewStore(path)
	assert.Equal(t, Stats{}, s.Stats())
}
