package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/articler/docindex/internal/storage"
)

// SQLiteAccountStore persists accounts in the shared SQLite database.
type SQLiteAccountStore struct {
	db       *sql.DB
	balances Balances
	now      func() time.Time
}

// NewSQLiteAccountStore creates the accounts table if needed. The store
// does not own db.
func NewSQLiteAccountStore(ctx context.Context, db *sql.DB, balances Balances) (*SQLiteAccountStore, error) {
	err := storage.Migrate(ctx, db, `CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		balance INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("migrating accounts: %w", err)
	}
	return &SQLiteAccountStore{db: db, balances: balances, now: time.Now}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a    Account
		tier string
	)
	if err := row.Scan(&a.UserID, &tier, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	t, err := ParseTier(tier)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.UserID, err)
	}
	a.Tier = t
	return &a, nil
}

func (s *SQLiteAccountStore) get(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, userID string) (*Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx,
		`SELECT user_id, tier, balance, created_at, updated_at FROM accounts WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	return a, nil
}

func (s *SQLiteAccountStore) Get(ctx context.Context, userID string) (*Account, error) {
	return s.get(ctx, s.db, userID)
}

func (s *SQLiteAccountStore) Create(ctx context.Context, userID string, tier Tier) (*Account, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if tier == TierUnknown {
		return nil, fmt.Errorf("%w: tier is unknown", ErrInvalidOperation)
	}
	now := s.now().UTC()
	a := &Account{UserID: userID, Tier: tier, Balance: s.balances.Initial(tier), CreatedAt: now, UpdatedAt: now}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, tier, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		a.UserID, a.Tier.String(), a.Balance, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, userID)
	}
	return a, nil
}

// update applies fn to the current account inside a transaction.
func (s *SQLiteAccountStore) update(ctx context.Context, userID string, fn func(*Account) bool) (*Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.get(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !fn(a) {
		return a, nil
	}
	a.UpdatedAt = s.now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET tier = ?, balance = ?, updated_at = ? WHERE user_id = ?`,
		a.Tier.String(), a.Balance, a.UpdatedAt, a.UserID)
	if err != nil {
		return nil, fmt.Errorf("updating account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (s *SQLiteAccountStore) SetTier(ctx context.Context, userID string, tier Tier) (*Account, error) {
	if tier == TierUnknown {
		return nil, fmt.Errorf("%w: tier is unknown", ErrInvalidOperation)
	}
	return s.update(ctx, userID, func(a *Account) bool {
		a.Balance = nextBalance(a.Balance, tier, s.balances)
		a.Tier = tier
		return true
	})
}

func (s *SQLiteAccountStore) Debit(ctx context.Context, userID string, amount int64) (*Account, error) {
	return s.update(ctx, userID, func(a *Account) bool {
		next := debited(a, amount)
		if next == a.Balance {
			return false
		}
		a.Balance = next
		return true
	})
}

// Close is a no-op; the database belongs to the caller.
func (s *SQLiteAccountStore) Close() error { return nil }
