package models

import "time"

// PaymentAttempt is one dispatched purchase recorded for support and
// reconciliation. OrderRef holds either the order id or the contract code.
type PaymentAttempt struct {
	ID        int64      `json:"id"`
	UserID    int        `json:"user_id"`
	SessionID string     `json:"session_id"`
	SKUID     string     `json:"sku_id"`
	OrderRef  string     `json:"order_ref"`
	Channel   string     `json:"channel"`
	Amount    int64      `json:"amount"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
