package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	sdk "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Chain — read-side RPC used by the executor, watcher and tracker
// ---------------------------------------------------------------------------

// Chain is the read-only RPC surface the engine needs outside of
// broadcasting. Implementations: LiveChain (real RPC), StubChain (testing).
type Chain interface {
	// TokenBalance returns the wallet's largest token-account balance for a
	// mint, retrying over the confirmed then finalized commitment tiers.
	TokenBalance(ctx context.Context, owner, mint string) (*TokenBalance, error)

	// LatestActivity returns the block time of the wallet's most recent
	// signature, used for tracked-wallet recency enrichment.
	LatestActivity(ctx context.Context, wallet string) (time.Time, error)

	// Health checks the endpoint.
	Health(ctx context.Context) error
}

// balanceRetryLadder is the per-commitment retry schedule for token-account
// lookups. Only failed lookups are retried; a lookup that succeeds returns at
// once, including one that finds a zero balance.
var balanceRetryLadder = []struct {
	commitment rpc.CommitmentType
	attempts   int
}{
	{rpc.CommitmentConfirmed, 3},
	{rpc.CommitmentFinalized, 2},
}

// LiveChain reads from a single RPC endpoint via the Solana SDK client.
type LiveChain struct {
	endpoint string
	client   *rpc.Client
}

// NewLiveChain creates a chain reader on the given endpoint.
func NewLiveChain(endpoint string) *LiveChain {
	return &LiveChain{
		endpoint: endpoint,
		client:   rpc.New(endpoint),
	}
}

// parsedTokenAccount is the jsonParsed shape of an SPL token account.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			TokenAmount struct {
				Amount   string `json:"amount"`
				Decimals uint8  `json:"decimals"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// TokenBalance resolves the wallet's largest token account for the mint.
// Returns a zero balance (not an error) when the wallet holds no account.
func (c *LiveChain) TokenBalance(ctx context.Context, owner, mint string) (*TokenBalance, error) {
	ownerPk, err := sdk.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("chain: bad owner %q: %w", owner, err)
	}
	mintPk, err := sdk.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("chain: bad mint %q: %w", mint, err)
	}

	var lastErr error
	for _, tier := range balanceRetryLadder {
		for attempt := 0; attempt < tier.attempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(time.Duration(400*(attempt)) * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			bal, err := c.tokenBalanceAt(ctx, ownerPk, mintPk, tier.commitment)
			if err != nil {
				lastErr = err
				continue
			}
			return bal, nil
		}
	}

	return nil, fmt.Errorf("chain: token balance %s/%s: %w", owner, mint, lastErr)
}

func (c *LiveChain) tokenBalanceAt(ctx context.Context, owner, mint sdk.PublicKey, commitment rpc.CommitmentType) (*TokenBalance, error) {
	out, err := c.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{
			Commitment: commitment,
			Encoding:   sdk.EncodingJSONParsed,
		})
	if err != nil {
		return nil, fmt.Errorf("chain: getTokenAccountsByOwner: %w", err)
	}

	best := &TokenBalance{Atoms: new(big.Int)}
	for _, acct := range out.Value {
		if acct.Account.Data == nil {
			continue
		}
		var parsed parsedTokenAccount
		if err := json.Unmarshal(acct.Account.Data.GetRawJSON(), &parsed); err != nil {
			log.Debug().Err(err).Msg("chain: unparseable token account, skipping")
			continue
		}
		atoms, ok := new(big.Int).SetString(parsed.Parsed.Info.TokenAmount.Amount, 10)
		if !ok {
			continue
		}
		if atoms.Cmp(best.Atoms) > 0 {
			best.Atoms = atoms
			best.Decimals = parsed.Parsed.Info.TokenAmount.Decimals
		}
	}

	return best, nil
}

// LatestActivity fetches the wallet's most recent signature block time.
func (c *LiveChain) LatestActivity(ctx context.Context, wallet string) (time.Time, error) {
	pk, err := sdk.PublicKeyFromBase58(wallet)
	if err != nil {
		return time.Time{}, fmt.Errorf("chain: bad wallet %q: %w", wallet, err)
	}

	limit := 1
	sigs, err := c.client.GetSignaturesForAddressWithOpts(ctx, pk,
		&rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		})
	if err != nil {
		return time.Time{}, fmt.Errorf("chain: getSignaturesForAddress: %w", err)
	}
	if len(sigs) == 0 || sigs[0].BlockTime == nil {
		return time.Time{}, nil
	}
	return sigs[0].BlockTime.Time(), nil
}

// Health checks the endpoint.
func (c *LiveChain) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.client.GetHealth(healthCtx)
	return err
}

// Client exposes the underlying SDK client for components that share the
// primary endpoint (fee estimation).
func (c *LiveChain) Client() *rpc.Client { return c.client }

// Endpoint returns the endpoint URL.
func (c *LiveChain) Endpoint() string { return c.endpoint }
