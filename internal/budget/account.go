package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidOperation is returned for checks against a missing account
	// or an account of unknown tier.
	ErrInvalidOperation = errors.New("invalid budget operation")

	// ErrAccountNotFound is returned when no account exists for a user.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned by Create for an existing user.
	ErrAccountExists = errors.New("account already exists")
)

// Account is a user's tier and token balance.
type Account struct {
	UserID    string    `json:"userId"`
	Tier      Tier      `json:"tier"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountStore persists accounts. Implementations are safe for concurrent use.
type AccountStore interface {
	Get(ctx context.Context, userID string) (*Account, error)
	// Create opens an account with the tier's initial balance.
	Create(ctx context.Context, userID string, tier Tier) (*Account, error)
	// SetTier changes an account's tier. The balance is raised to the new
	// tier's initial balance if it is below it, and never lowered.
	SetTier(ctx context.Context, userID string, tier Tier) (*Account, error)
	// Debit subtracts amount from a metered balance, stopping at zero.
	// Unmetered accounts are returned unchanged.
	Debit(ctx context.Context, userID string, amount int64) (*Account, error)
	Close() error
}

// nextBalance is the balance after moving from an account's current state
// to tier.
func nextBalance(current int64, tier Tier, balances Balances) int64 {
	initial := balances.Initial(tier)
	if tier == TierSuper || current == Unlimited || current < initial {
		return initial
	}
	return current
}

func debited(a *Account, amount int64) int64 {
	if !a.Tier.Metered() || amount <= 0 {
		return a.Balance
	}
	return max(a.Balance-amount, 0)
}

func validateUser(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidOperation)
	}
	return nil
}

// MemoryAccountStore keeps accounts in a map.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	balances Balances
	now      func() time.Time
}

// NewMemoryAccountStore returns an empty store using balances for new accounts.
func NewMemoryAccountStore(balances Balances) *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*Account),
		balances: balances,
		now:      time.Now,
	}
}

func (s *MemoryAccountStore) Get(_ context.Context, userID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAccountStore) Create(_ context.Context, userID string, tier Tier) (*Account, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if tier == TierUnknown {
		return nil, fmt.Errorf("%w: tier is unknown", ErrInvalidOperation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[userID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, userID)
	}
	now := s.now().UTC()
	a := &Account{UserID: userID, Tier: tier, Balance: s.balances.Initial(tier), CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = a
	cp := *a
	return &cp, nil
}

func (s *MemoryAccountStore) SetTier(_ context.Context, userID string, tier Tier) (*Account, error) {
	if tier == TierUnknown {
		return nil, fmt.Errorf("%w: tier is unknown", ErrInvalidOperation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	a.Balance = nextBalance(a.Balance, tier, s.balances)
	a.Tier = tier
	a.UpdatedAt = s.now().UTC()
	cp := *a
	return &cp, nil
}

func (s *MemoryAccountStore) Debit(_ context.Context, userID string, amount int64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	if next := debited(a, amount); next != a.Balance {
		a.Balance = next
		a.UpdatedAt = s.now().UTC()
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAccountStore) Close() error { return nil }
