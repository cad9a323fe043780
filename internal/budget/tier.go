// Package budget enforces per-account token quotas before any embedding
// work is done. Accounts belong to a tier; metered tiers carry a balance
// that ingestion debits.
package budget

import (
	"fmt"
	"strings"
)

// Tier is an account's billing tier.
type Tier int

const (
	TierUnknown Tier = iota
	TierFree
	TierTrial
	TierPaid
	TierSuper
)

var tierNames = map[Tier]string{
	TierUnknown: "unknown",
	TierFree:    "free",
	TierTrial:   "trial",
	TierPaid:    "paid",
	TierSuper:   "super",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Metered reports whether the tier consumes its balance.
func (t Tier) Metered() bool {
	return t == TierTrial || t == TierPaid
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier parses a tier name, case-insensitively. "unknown" is not a
// valid input.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if t != TierUnknown && strings.EqualFold(strings.TrimSpace(s), name) {
			return t, nil
		}
	}
	return TierUnknown, fmt.Errorf("%w: unknown tier %q", ErrInvalidOperation, s)
}

// Status is the outcome of a budget check or an ingestion request.
type Status int

const (
	StatusSuccess Status = iota
	StatusNoTokens
	StatusNotEnoughTokens
	// StatusInternalError covers rejected input such as a blank title.
	StatusInternalError
	// StatusExceptionRaised covers failures after the budget passed.
	StatusExceptionRaised
)

var statusNames = [...]string{
	StatusSuccess:         "Success",
	StatusNoTokens:        "NoTokens",
	StatusNotEnoughTokens: "NotEnoughTokens",
	StatusInternalError:   "InternalError",
	StatusExceptionRaised: "ExceptionRaised",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Unlimited is the Remaining value reported for tiers without a balance.
const Unlimited int64 = -1

// Balances are the starting balances for new accounts by tier.
type Balances struct {
	Free  int64 `koanf:"free"`
	Trial int64 `koanf:"trial"`
	Paid  int64 `koanf:"paid"`
}

// DefaultBalances returns the standard starting balances.
func DefaultBalances() Balances {
	return Balances{Free: 0, Trial: 1000, Paid: 100000}
}

// Initial returns the starting balance for tier. Super is Unlimited.
func (b Balances) Initial(tier Tier) int64 {
	switch tier {
	case TierFree:
		return b.Free
	case TierTrial:
		return b.Trial
	case TierPaid:
		return b.Paid
	case TierSuper:
		return Unlimited
	default:
		return 0
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for st, name := range statusNames {
		if name == string(b) {
			*s = Status(st)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown status %q", ErrInvalidOperation, string(b))
}
