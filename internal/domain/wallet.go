package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Credit is one payout instruction sent to the external wallet. EntryID is
// the idempotency key, so a retried credit is applied at most once.
type Credit struct {
	EntryID   string          `json:"entry_id"`
	MemberID  string          `json:"member_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Type      BonusType       `json:"type"`
	Reference string          `json:"reference"`
}

// Wallet credits member balances. A permanent refusal wraps
// ErrPayoutRejected; any other error is transient and may be retried.
type Wallet interface {
	Credit(ctx context.Context, c Credit) error
}
