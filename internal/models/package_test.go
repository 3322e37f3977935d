package models

import "testing"

func TestPackageDiscount(t *testing.T) {
	t.Run("savings in display units", func(t *testing.T) {
		p := Package{Price: 9900, OriginalPrice: 19900}
		if got := p.Discount(); got != 100.0 {
			t.Fatalf("expected 100.0, got %v", got)
		}
	})

	t.Run("zero when not discounted", func(t *testing.T) {
		p := Package{Price: 2990, OriginalPrice: 2990}
		if got := p.Discount(); got != 0 {
			t.Fatalf("expected 0, got %v", got)
		}
		p = Package{Price: 2990, OriginalPrice: 1990}
		if got := p.Discount(); got != 0 {
			t.Fatalf("expected 0 for inverted prices, got %v", got)
		}
	})

	t.Run("fractional savings", func(t *testing.T) {
		p := Package{Price: 1945, OriginalPrice: 2990}
		if got := p.Discount(); got != 10.45 {
			t.Fatalf("expected 10.45, got %v", got)
		}
	})
}

func TestPackageRecurring(t *testing.T) {
	if (Package{}).Recurring() {
		t.Fatal("plain package must not be recurring")
	}
	if !(Package{CanSubscribe: true}).Recurring() {
		t.Fatal("subscribable package must be recurring")
	}
	if !(Package{CanTrial: true}).Recurring() {
		t.Fatal("trial package must be recurring")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed, OrderStatusExpired} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusCreated, OrderStatusPending} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}
