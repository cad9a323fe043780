package budget

import (
	"context"
	"fmt"

	"github.com/articler/docindex/internal/logging"
	"go.uber.org/zap"
)

// Result is the outcome of a budget check.
type Result struct {
	Status Status `json:"status"`
	// Remaining is the balance left after the operation, or Unlimited.
	Remaining int64 `json:"remaining"`
	// Needed is the token count of the checked text. Zero when no count
	// was taken.
	Needed int64 `json:"needed"`
}

// OK reports whether the operation may proceed.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Gate decides whether an account can afford to embed a text.
type Gate struct {
	counter  Counter
	accounts AccountStore
	logger   *logging.Logger
}

// NewGate returns a gate counting with counter and debiting accounts.
func NewGate(counter Counter, accounts AccountStore, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{counter: counter, accounts: accounts, logger: logger.Named("budget")}
}

// Check evaluates account against text without changing any balance.
// The tokenizer runs only for metered tiers.
func (g *Gate) Check(ctx context.Context, account *Account, text string) (Result, error) {
	if account == nil {
		return Result{}, fmt.Errorf("%w: no account", ErrInvalidOperation)
	}

	var res Result
	switch account.Tier {
	case TierFree:
		res = Result{Status: StatusNoTokens, Remaining: account.Balance}
	case TierSuper:
		res = Result{Status: StatusSuccess, Remaining: Unlimited}
	case TierTrial, TierPaid:
		needed, err := g.counter.Count(text)
		if err != nil {
			return Result{}, fmt.Errorf("counting tokens: %w", err)
		}
		res = Result{Remaining: account.Balance - int64(needed), Needed: int64(needed)}
		if res.Remaining >= 0 {
			res.Status = StatusSuccess
		} else {
			res.Status = StatusNotEnoughTokens
		}
	default:
		return Result{}, fmt.Errorf("%w: tier %s", ErrInvalidOperation, account.Tier)
	}

	g.logger.Debug(ctx, "budget checked",
		zap.String("op", "budget_check"),
		zap.Stringer("tier", account.Tier),
		zap.Stringer("status", res.Status),
		zap.Int64("needed", res.Needed),
		zap.Int64("remaining", res.Remaining))
	return res, nil
}

// Consume debits needed tokens from a metered account after the work the
// check admitted has succeeded. Unmetered accounts are left unchanged.
func (g *Gate) Consume(ctx context.Context, userID string, needed int64) (*Account, error) {
	if needed <= 0 {
		return g.accounts.Get(ctx, userID)
	}
	a, err := g.accounts.Debit(ctx, userID, needed)
	if err != nil {
		return nil, fmt.Errorf("debiting %d tokens: %w", needed, err)
	}
	if a.Tier.Metered() && a.Balance == 0 {
		g.logger.Info(ctx, "account balance exhausted",
			zap.String("op", "budget_consume"),
			zap.Stringer("tier", a.Tier))
	}
	return a, nil
}
