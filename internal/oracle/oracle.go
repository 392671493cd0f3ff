package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/JamesElliotDesign/trakr/internal/solana"
)

// ---------------------------------------------------------------------------
// Price oracle — primary aggregator price, fill-derived price, secondary
// provider fallback. Every path is best-effort.
// ---------------------------------------------------------------------------

const (
	defaultBirdeyeURL = "https://public-api.birdeye.so/defi/price"

	providerTimeout = 2500 * time.Millisecond
)

// PriceSource serves spot prices; the Jupiter client satisfies it.
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (decimal.Decimal, error)
}

// Quote is a resolved spot price.
type Quote struct {
	PriceUSD decimal.Decimal `json:"price_usd"`
	Source   string          `json:"source"`
}

// Hints carries fill context for the derived-price path.
type Hints struct {
	AmountAtoms *big.Int
	Decimals    *uint8
	SOLSpent    *decimal.Decimal
}

// Oracle resolves spot USD prices.
type Oracle struct {
	primary    PriceSource
	birdeyeKey string
	birdeyeURL string
	httpClient *http.Client
}

// New creates an oracle. birdeyeKey may be empty, disabling the secondary
// provider.
func New(primary PriceSource, birdeyeKey string) *Oracle {
	return &Oracle{
		primary:    primary,
		birdeyeKey: birdeyeKey,
		birdeyeURL: defaultBirdeyeURL,
		httpClient: &http.Client{Timeout: providerTimeout},
	}
}

// SetBirdeyeURL overrides the secondary endpoint (tests).
func (o *Oracle) SetBirdeyeURL(u string) { o.birdeyeURL = u }

// SpotPrice resolves the USD price for a mint, or nil when no provider can
// serve it. It never raises into the caller.
func (o *Oracle) SpotPrice(ctx context.Context, mint string, hints Hints) *Quote {
	// 1. Primary aggregator listing.
	if price, err := o.primary.GetPrice(ctx, mint); err == nil && price.IsPositive() {
		return &Quote{PriceUSD: price, Source: "jupiter"}
	} else if err != nil {
		log.Debug().Err(err).Str("mint", mint).Msg("oracle: primary miss")
	}

	// 2. Fill-implied price: accurate for mints the oracle has not listed.
	if q := o.derived(ctx, hints); q != nil {
		return q
	}

	// 3. Secondary provider, when credentials are configured.
	if o.birdeyeKey != "" {
		if q := o.birdeye(ctx, mint); q != nil {
			return q
		}
	}

	return nil
}

// SOLPrice resolves the native asset's USD price.
func (o *Oracle) SOLPrice(ctx context.Context) *Quote {
	price, err := o.primary.GetPrice(ctx, solana.WSOLMint)
	if err != nil || !price.IsPositive() {
		return nil
	}
	return &Quote{PriceUSD: price, Source: "jupiter"}
}

// derived computes price = (sol_spent / amount_ui) * sol_usd.
func (o *Oracle) derived(ctx context.Context, hints Hints) *Quote {
	if hints.SOLSpent == nil || !hints.SOLSpent.IsPositive() {
		return nil
	}
	if hints.AmountAtoms == nil || hints.AmountAtoms.Sign() <= 0 {
		return nil
	}
	// Without decimals, atoms cannot be converted to a UI amount and the
	// ratio would be off by orders of magnitude.
	if hints.Decimals == nil {
		return nil
	}

	sol := o.SOLPrice(ctx)
	if sol == nil {
		return nil
	}

	amountUI := decimal.NewFromBigInt(hints.AmountAtoms, 0).Shift(-int32(*hints.Decimals))
	if !amountUI.IsPositive() {
		return nil
	}

	price := hints.SOLSpent.Div(amountUI).Mul(sol.PriceUSD)
	if !price.IsPositive() {
		return nil
	}
	return &Quote{PriceUSD: price, Source: "derived"}
}

type birdeyeResponse struct {
	Data struct {
		Value float64 `json:"value"`
	} `json:"data"`
	Success bool `json:"success"`
}

func (o *Oracle) birdeye(ctx context.Context, mint string) *Quote {
	reqCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	queryURL, err := url.Parse(o.birdeyeURL)
	if err != nil {
		return nil
	}
	q := queryURL.Query()
	q.Set("address", mint)
	queryURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, "GET", queryURL.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("X-API-KEY", o.birdeyeKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("mint", mint).Msg("oracle: secondary miss")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil
	}

	var out birdeyeResponse
	if err := json.Unmarshal(body, &out); err != nil || !out.Success {
		return nil
	}

	price := decimal.NewFromFloat(out.Data.Value)
	if !price.IsPositive() {
		return nil
	}
	return &Quote{PriceUSD: price, Source: "birdeye"}
}

// String implements fmt.Stringer for logging.
func (q *Quote) String() string {
	if q == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s (%s)", q.PriceUSD.String(), q.Source)
}
