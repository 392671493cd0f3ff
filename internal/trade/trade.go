package trade

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Shared trade types and the trade error taxonomy
// ---------------------------------------------------------------------------

// Routing strategy tags, recorded on fills and persisted positions.
const (
	StrategyDirect = "direct-preferred"
	StrategyAny    = "any-route"
	StrategyBridge = "bridge"
	StrategyVenue  = "venue-fallback"
	StrategyPaper  = "paper"
)

// Fill is the outcome of one executed swap. ReceivedAtoms, Decimals and
// PriceUSD are nil when reconstruction was degraded; Signature is always set
// once the transaction was broadcast.
type Fill struct {
	Signature     string           `json:"signature"`
	ReceivedAtoms *big.Int         `json:"received_atoms,omitempty"`
	Decimals      *uint8           `json:"decimals,omitempty"`
	PriceUSD      *decimal.Decimal `json:"price_usd,omitempty"`
	SOLSpent      decimal.Decimal  `json:"sol_spent"`
	Strategy      string           `json:"strategy"`
	Endpoint      string           `json:"endpoint_used,omitempty"`
}

// Sentinel errors for trade-call classification. Wrap with %w so callers can
// use errors.Is across package boundaries.
var (
	ErrRateLimit = errors.New("rate limited")
	ErrNoRoute   = errors.New("no route")
	ErrNoBalance = errors.New("no balance")
)

// Kind buckets an error for retry/backoff decisions.
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimit
	KindNoRoute
	KindNoBalance
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindNoRoute:
		return "no_route"
	case KindNoBalance:
		return "no_balance"
	default:
		return "transient"
	}
}

// Classify maps an error to its trade kind. Unknown errors are transient.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrRateLimit):
		return KindRateLimit
	case errors.Is(err, ErrNoRoute):
		return KindNoRoute
	case errors.Is(err, ErrNoBalance):
		return KindNoBalance
	}
	// Providers that surface raw HTTP errors.
	if err != nil && strings.Contains(err.Error(), "429") {
		return KindRateLimit
	}
	return KindTransient
}
