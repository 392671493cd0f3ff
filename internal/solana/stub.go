package solana

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Stubs (for testing)
// ---------------------------------------------------------------------------

// StubChain is an in-memory Chain implementation.
type StubChain struct {
	mu       sync.RWMutex
	balances map[string]*TokenBalance // owner|mint -> balance
	activity map[string]time.Time
	failNext bool
}

// NewStubChain creates a stub chain reader.
func NewStubChain() *StubChain {
	return &StubChain{
		balances: make(map[string]*TokenBalance),
		activity: make(map[string]time.Time),
	}
}

func balanceKey(owner, mint string) string { return owner + "|" + mint }

// SetBalance sets the balance returned for (owner, mint).
func (s *StubChain) SetBalance(owner, mint string, atoms *big.Int, decimals uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey(owner, mint)] = &TokenBalance{Atoms: atoms, Decimals: decimals}
}

// SetActivity sets the latest-activity time for a wallet.
func (s *StubChain) SetActivity(wallet string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[wallet] = ts
}

// SetFailNext makes the next call fail.
func (s *StubChain) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *StubChain) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

func (s *StubChain) TokenBalance(_ context.Context, owner, mint string) (*TokenBalance, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bal, ok := s.balances[balanceKey(owner, mint)]; ok {
		return bal, nil
	}
	return &TokenBalance{Atoms: new(big.Int)}, nil
}

func (s *StubChain) LatestActivity(_ context.Context, wallet string) (time.Time, error) {
	if s.shouldFail() {
		return time.Time{}, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activity[wallet], nil
}

func (s *StubChain) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}

// StubEndpoint is a scriptable EndpointClient for broadcaster and router
// tests.
type StubEndpoint struct {
	Addr string

	mu           sync.Mutex
	SendErr      error
	ConfirmErr   error
	ConfirmDelay time.Duration
	Sig          string
	Delta        *TokenDelta
	DeltaErr     error
	Balance      *TokenBalance
	BalanceErr   error
	sendCount    int
}

func (s *StubEndpoint) URL() string { return s.Addr }

func (s *StubEndpoint) SendTransaction(_ context.Context, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCount++
	if s.SendErr != nil {
		return "", s.SendErr
	}
	if s.Sig == "" {
		return fmt.Sprintf("stub-sig-%s", s.Addr), nil
	}
	return s.Sig, nil
}

func (s *StubEndpoint) ConfirmSignature(ctx context.Context, _ string) error {
	s.mu.Lock()
	delay := s.ConfirmDelay
	err := s.ConfirmErr
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *StubEndpoint) TransactionTokenDelta(_ context.Context, _, _, _ string) (*TokenDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeltaErr != nil {
		return nil, s.DeltaErr
	}
	if s.Delta == nil {
		return nil, ErrNotIndexed
	}
	return s.Delta, nil
}

func (s *StubEndpoint) TokenBalance(_ context.Context, _, _ string, _ bool) (*TokenBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BalanceErr != nil {
		return nil, s.BalanceErr
	}
	if s.Balance == nil {
		return &TokenBalance{Atoms: new(big.Int)}, nil
	}
	return s.Balance, nil
}

// SendCount returns how many sends the stub has seen.
func (s *StubEndpoint) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCount
}
