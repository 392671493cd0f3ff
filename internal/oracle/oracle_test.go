package oracle

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesElliotDesign/trakr/internal/solana"
)

const mintM = "Mmint111111111111111111111111111111111111"

type fakeSource struct {
	prices map[string]float64
}

func (f *fakeSource) GetPrice(_ context.Context, mint string) (decimal.Decimal, error) {
	if p, ok := f.prices[mint]; ok {
		return decimal.NewFromFloat(p), nil
	}
	return decimal.Zero, fmt.Errorf("price not found for %s", mint)
}

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func TestSpotPrice_PrimaryHit(t *testing.T) {
	o := New(&fakeSource{prices: map[string]float64{mintM: 0.42}}, "")

	q := o.SpotPrice(context.Background(), mintM, Hints{})
	require.NotNil(t, q)
	assert.Equal(t, "jupiter", q.Source)
	assert.True(t, q.PriceUSD.Equal(decimal.NewFromFloat(0.42)))
}

func TestSpotPrice_DerivedFromFill(t *testing.T) {
	// The mint is unlisted but SOL has a price: the fill-implied price wins.
	o := New(&fakeSource{prices: map[string]float64{solana.WSOLMint: 150}}, "")

	dec := uint8(6)
	q := o.SpotPrice(context.Background(), mintM, Hints{
		AmountAtoms: big.NewInt(2_000_000), // 2.0 UI
		Decimals:    &dec,
		SOLSpent:    decPtr(0.05),
	})

	require.NotNil(t, q)
	assert.Equal(t, "derived", q.Source)
	// (0.05 / 2.0) * 150 = 3.75
	assert.True(t, q.PriceUSD.Equal(decimal.NewFromFloat(3.75)), "got %s", q.PriceUSD)
}

func TestSpotPrice_DerivedNeedsAllInputs(t *testing.T) {
	o := New(&fakeSource{prices: map[string]float64{solana.WSOLMint: 150}}, "")

	assert.Nil(t, o.SpotPrice(context.Background(), mintM, Hints{}))
	assert.Nil(t, o.SpotPrice(context.Background(), mintM, Hints{SOLSpent: decPtr(0.05)}))
	assert.Nil(t, o.SpotPrice(context.Background(), mintM, Hints{AmountAtoms: big.NewInt(100)}))

	// Unknown decimals would skew the ratio by orders of magnitude.
	assert.Nil(t, o.SpotPrice(context.Background(), mintM, Hints{
		AmountAtoms: big.NewInt(2_000_000),
		SOLSpent:    decPtr(0.05),
	}))
}

func TestSpotPrice_SecondaryProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, mintM, r.URL.Query().Get("address"))
		fmt.Fprint(w, `{"data":{"value":1.23},"success":true}`)
	}))
	defer srv.Close()

	o := New(&fakeSource{}, "test-key")
	o.SetBirdeyeURL(srv.URL)

	q := o.SpotPrice(context.Background(), mintM, Hints{})
	require.NotNil(t, q)
	assert.Equal(t, "birdeye", q.Source)
	assert.True(t, q.PriceUSD.Equal(decimal.NewFromFloat(1.23)))
}

func TestSpotPrice_AllPathsMissReturnsNil(t *testing.T) {
	o := New(&fakeSource{}, "")
	assert.Nil(t, o.SpotPrice(context.Background(), mintM, Hints{}))
}

func TestSOLPrice(t *testing.T) {
	o := New(&fakeSource{prices: map[string]float64{solana.WSOLMint: 150}}, "")
	q := o.SOLPrice(context.Background())
	require.NotNil(t, q)
	assert.True(t, q.PriceUSD.Equal(decimal.NewFromFloat(150)))

	empty := New(&fakeSource{}, "")
	assert.Nil(t, empty.SOLPrice(context.Background()))
}
