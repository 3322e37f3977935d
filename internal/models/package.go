package models

// Package is a purchasable VIP offer (SKU). Instances are loaded from the
// commerce backend catalog and never mutated; reloading the catalog replaces
// the whole snapshot.
type Package struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`          // minor units
	OriginalPrice int64  `json:"original_price"` // minor units, before discount
	Currency      string `json:"currency"`
	DurationDays  int    `json:"duration_days"`
	CanTrial      bool   `json:"can_trial"`
	CanSubscribe  bool   `json:"can_subscribe"`
	IAPProductID  string `json:"iap_product_id,omitempty"`
}

// Recurring reports whether purchasing this package creates a subscription
// contract instead of a one-off order.
func (p Package) Recurring() bool {
	return p.CanSubscribe || p.CanTrial
}

// Discount returns the savings against the original price in display units.
func (p Package) Discount() float64 {
	if p.OriginalPrice <= p.Price {
		return 0
	}
	return float64(p.OriginalPrice-p.Price) / 100
}

// PackageGroup is one pricing tab/tier of the offer screen.
type PackageGroup struct {
	Tier     string    `json:"tier"`
	Title    string    `json:"title"`
	Packages []Package `json:"packages"`
}
