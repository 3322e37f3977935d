package models

import "time"

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether no further status transition can happen.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// TraceMetadata carries attribution fields supplied by the caller when an
// order is created. Stored verbatim on the backend order record.
type TraceMetadata struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// Order is a one-off purchase attempt. OrderID is assigned by the commerce
// backend on creation and is empty before. A new user action supersedes the
// order client-side; the old one is discarded, never reused.
type Order struct {
	OrderID string `json:"order_id"`
	SKUID   string `json:"sku_id"`
	// IAPProductID is the store-facing product identifier of the SKU,
	// carried along for the in-app-purchase channel.
	IAPProductID string        `json:"iap_product_id,omitempty"`
	Amount       int64         `json:"amount"` // minor units
	Currency     string        `json:"currency"`
	Ticket       string        `json:"ticket"` // idempotency token, caller-chosen
	Trace        TraceMetadata `json:"trace"`
	Status       OrderStatus   `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}
