package models

import "time"

type ContractStatus string

const (
	ContractStatusUnconfirmed ContractStatus = "unconfirmed"
	ContractStatusActive      ContractStatus = "active"
)

// SubscriptionContract is a recurring-payment entrustment. Its confirmation
// protocol is separate from one-off orders: the contract is polled against
// the entrustment status endpoint and RenewDate is only known once the
// backend reports the contract active.
type SubscriptionContract struct {
	ContractCode string         `json:"contract_code"`
	Serial       string         `json:"serial"`
	SKUID        string         `json:"sku_id"`
	Trial        bool           `json:"trial"`
	QRUrl        string         `json:"qr_url,omitempty"`
	Status       ContractStatus `json:"status"`
	RenewDate    *time.Time     `json:"renew_date,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
