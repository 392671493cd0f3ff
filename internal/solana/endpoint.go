package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	sdk "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
)

// ErrNotIndexed is returned while a confirmed transaction's meta is not yet
// visible on the queried endpoint.
var ErrNotIndexed = errors.New("transaction not indexed yet")

const (
	sendMaxRetries      = uint(3)
	confirmPollInterval = 400 * time.Millisecond
)

// liveEndpoint is the real EndpointClient over one RPC endpoint.
type liveEndpoint struct {
	url    string
	client *rpc.Client
	ws     *WSConfirmer
}

func newLiveEndpoint(url string, ws *WSConfirmer) *liveEndpoint {
	return &liveEndpoint{
		url:    url,
		client: rpc.New(url),
		ws:     ws,
	}
}

func (e *liveEndpoint) URL() string { return e.url }

// SendTransaction submits raw transaction bytes, skipping preflight. The RPC
// node retries forwarding internally up to sendMaxRetries.
func (e *liveEndpoint) SendTransaction(ctx context.Context, tx []byte) (string, error) {
	retries := sendMaxRetries
	sig, err := e.client.SendRawTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
		MaxRetries:          &retries,
	})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	return sig.String(), nil
}

// ConfirmSignature waits for the confirmed commitment. The websocket fast
// path is preferred when available; status polling covers the rest.
func (e *liveEndpoint) ConfirmSignature(ctx context.Context, sigStr string) error {
	sig, err := sdk.SignatureFromBase58(sigStr)
	if err != nil {
		return fmt.Errorf("bad signature %q: %w", sigStr, err)
	}

	if e.ws != nil && e.ws.Connected() {
		if err := e.ws.Await(ctx, sigStr); err == nil {
			return nil
		}
		// Subscription failed or dropped, fall back to polling.
	}

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			out, err := e.client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				log.Debug().Err(err).Str("endpoint", e.url).Msg("broadcaster: status poll error")
				continue
			}
			if len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on chain", sigStr)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// TransactionTokenDelta compares pre/post token balances for (owner, mint) on
// the confirmed transaction.
func (e *liveEndpoint) TransactionTokenDelta(ctx context.Context, sigStr, owner, mint string) (*TokenDelta, error) {
	sig, err := sdk.SignatureFromBase58(sigStr)
	if err != nil {
		return nil, fmt.Errorf("bad signature %q: %w", sigStr, err)
	}

	maxVersion := uint64(0)
	out, err := e.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       sdk.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "not found") {
			return nil, ErrNotIndexed
		}
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if out == nil || out.Meta == nil {
		return nil, ErrNotIndexed
	}

	pre := new(big.Int)
	post := new(big.Int)
	var decimals uint8
	seen := false

	for _, tb := range out.Meta.PreTokenBalances {
		if tb.Owner == nil || tb.Owner.String() != owner || tb.Mint.String() != mint {
			continue
		}
		if v, ok := new(big.Int).SetString(tb.UiTokenAmount.Amount, 10); ok {
			pre.Add(pre, v)
			decimals = tb.UiTokenAmount.Decimals
			seen = true
		}
	}
	for _, tb := range out.Meta.PostTokenBalances {
		if tb.Owner == nil || tb.Owner.String() != owner || tb.Mint.String() != mint {
			continue
		}
		if v, ok := new(big.Int).SetString(tb.UiTokenAmount.Amount, 10); ok {
			post.Add(post, v)
			decimals = tb.UiTokenAmount.Decimals
			seen = true
		}
	}

	if !seen {
		return nil, ErrNotIndexed
	}

	received := new(big.Int).Sub(post, pre)
	if received.Sign() < 0 {
		received.SetInt64(0)
	}
	return &TokenDelta{ReceivedAtoms: received, Decimals: decimals}, nil
}

// TokenBalance resolves the owner's largest token account on this endpoint at
// the requested commitment.
func (e *liveEndpoint) TokenBalance(ctx context.Context, owner, mint string, finalized bool) (*TokenBalance, error) {
	ownerPk, err := sdk.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("bad owner %q: %w", owner, err)
	}
	mintPk, err := sdk.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("bad mint %q: %w", mint, err)
	}

	commitment := rpc.CommitmentConfirmed
	if finalized {
		commitment = rpc.CommitmentFinalized
	}

	out, err := e.client.GetTokenAccountsByOwner(ctx, ownerPk,
		&rpc.GetTokenAccountsConfig{Mint: &mintPk},
		&rpc.GetTokenAccountsOpts{
			Commitment: commitment,
			Encoding:   sdk.EncodingJSONParsed,
		})
	if err != nil {
		return nil, fmt.Errorf("getTokenAccountsByOwner: %w", err)
	}

	best := &TokenBalance{Atoms: new(big.Int)}
	for _, acct := range out.Value {
		if acct.Account.Data == nil {
			continue
		}
		var parsed parsedTokenAccount
		if err := json.Unmarshal(acct.Account.Data.GetRawJSON(), &parsed); err != nil {
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
