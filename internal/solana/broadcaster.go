package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Broadcaster — multi-endpoint race-send-and-confirm
// ---------------------------------------------------------------------------

// EndpointClient is one RPC endpoint participating in the broadcast race.
// Implementations: liveEndpoint (real RPC), StubEndpoint (testing).
type EndpointClient interface {
	// URL returns the endpoint address.
	URL() string

	// SendTransaction submits serialized signed transaction bytes with
	// preflight skipped, returning the signature.
	SendTransaction(ctx context.Context, tx []byte) (string, error)

	// ConfirmSignature blocks until the signature reaches the confirmed
	// commitment or the context is done.
	ConfirmSignature(ctx context.Context, sig string) error

	// TransactionTokenDelta reconstructs the owner's balance change for a
	// mint from the confirmed transaction's pre/post token balances.
	// Returns ErrNotIndexed while the meta is not yet visible.
	TransactionTokenDelta(ctx context.Context, sig, owner, mint string) (*TokenDelta, error)

	// TokenBalance resolves the owner's balance for a mint at the given
	// commitment on this endpoint.
	TokenBalance(ctx context.Context, owner, mint string, finalized bool) (*TokenBalance, error)
}

// BroadcastResult is the outcome of a winning broadcast.
type BroadcastResult struct {
	Signature string
	Endpoint  string
}

// Broadcaster fans a signed transaction out to every configured endpoint and
// returns the first endpoint to confirm it.
type Broadcaster struct {
	endpoints []EndpointClient
	maxWait   time.Duration
}

// NewBroadcaster builds a broadcaster over live RPC endpoints. The optional
// wsEndpoint enables the signatureSubscribe fast path on every endpoint.
func NewBroadcaster(endpoints []string, maxWait time.Duration, ws *WSConfirmer) *Broadcaster {
	clients := make([]EndpointClient, 0, len(endpoints))
	for _, ep := range endpoints {
		clients = append(clients, newLiveEndpoint(ep, ws))
	}
	return NewBroadcasterWith(clients, maxWait)
}

// NewBroadcasterWith builds a broadcaster over explicit endpoint clients.
func NewBroadcasterWith(clients []EndpointClient, maxWait time.Duration) *Broadcaster {
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}
	return &Broadcaster{endpoints: clients, maxWait: maxWait}
}

// Endpoints returns the endpoint URLs in configuration order.
func (b *Broadcaster) Endpoints() []string {
	urls := make([]string, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		urls = append(urls, ep.URL())
	}
	return urls
}

// ClientFor returns the endpoint client for a URL, used for endpoint-affine
// fill reconstruction after a win. Returns nil for unknown URLs.
func (b *Broadcaster) ClientFor(url string) EndpointClient {
	for _, ep := range b.endpoints {
		if ep.URL() == url {
			return ep
		}
	}
	return nil
}

// BroadcastAndConfirm sends the transaction on every endpoint concurrently
// and returns the signature of the first endpoint to confirm. Losers keep
// running until they finish or the shared deadline passes, and fail
// silently. When every endpoint fails, the first error is surfaced.
func (b *Broadcaster) BroadcastAndConfirm(ctx context.Context, tx []byte) (*BroadcastResult, error) {
	if len(b.endpoints) == 0 {
		return nil, fmt.Errorf("broadcaster: no endpoints configured")
	}

	// Released once every endpoint has reported, so a win does not cut the
	// losers short.
	raceCtx, cancel := context.WithTimeout(ctx, b.maxWait)

	type outcome struct {
		result *BroadcastResult
		err    error
	}
	results := make(chan outcome, len(b.endpoints))

	start := time.Now()
	for _, ep := range b.endpoints {
		go func(ep EndpointClient) {
			sig, err := ep.SendTransaction(raceCtx, tx)
			if err != nil {
				results <- outcome{err: fmt.Errorf("broadcaster: send via %s: %w", ep.URL(), err)}
				return
			}
			if err := ep.ConfirmSignature(raceCtx, sig); err != nil {
				results <- outcome{err: fmt.Errorf("broadcaster: confirm %s via %s: %w", sig, ep.URL(), err)}
				return
			}
			results <- outcome{result: &BroadcastResult{Signature: sig, Endpoint: ep.URL()}}
		}(ep)
	}

	var firstErr error
	failures := 0
	for failures < len(b.endpoints) {
		select {
		case <-raceCtx.Done():
			cancel()
			if firstErr != nil {
				return nil, firstErr
			}
			return nil, fmt.Errorf("broadcaster: no confirmation within %s", b.maxWait)
		case out := <-results:
			if out.result != nil {
				log.Info().
					Str("sig", out.result.Signature).
					Str("endpoint", out.result.Endpoint).
					Int64("latency_ms", time.Since(start).Milliseconds()).
					Msg("broadcaster: confirmed")
				go func(pending int) {
					for ; pending > 0; pending-- {
						<-results
					}
					cancel()
				}(len(b.endpoints) - failures - 1)
				return out.result, nil
			}
			failures++
			if firstErr == nil {
				firstErr = out.err
			}
			log.Debug().Err(out.err).Msg("broadcaster: endpoint failed")
		}
	}

	cancel()
	return nil, firstErr
}
