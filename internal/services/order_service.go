package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"posterBack/internal/models"
)

// CreationResult is what a "create" user action produced: exactly one of
// Order / Contract is set. The fork happens here, once, so that dispatch and
// confirmation branch on a closed set of cases instead of probing optional
// fields.
type CreationResult struct {
	Order    *models.Order
	Contract *models.SubscriptionContract
}

func (r CreationResult) Recurring() bool { return r.Contract != nil }

// Ref returns the backend reference of the attempt (order id or contract
// code) for logging and history rows.
func (r CreationResult) Ref() string {
	if r.Contract != nil {
		return r.Contract.ContractCode
	}
	if r.Order != nil {
		return r.Order.OrderID
	}
	return ""
}

func (r CreationResult) SKUID() string {
	if r.Contract != nil {
		return r.Contract.SKUID
	}
	if r.Order != nil {
		return r.Order.SKUID
	}
	return ""
}

// OrderService creates one-off orders and subscription entrustments against
// the commerce backend.
type OrderService struct {
	Commerce *CommerceService
	Logger   *slog.Logger
}

// Create produces a new order, or a subscription contract for SKUs flagged
// recurring/trial. Each call carries a fresh idempotency ticket so retried
// user actions stay distinguishable server-side. Failures are terminal for
// the attempt; nothing is retried here.
func (s *OrderService) Create(ctx context.Context, userID int, sku models.Package, trace models.TraceMetadata) (CreationResult, error) {
	ticket := newTicket(userID)

	if sku.Recurring() {
		resp, err := s.Commerce.CreateEntrustment(ctx, EntrustmentRequest{
			UserID: userID,
			SKUID:  sku.ID,
			Trial:  sku.CanTrial,
			Ticket: ticket,
			Trace:  trace,
		})
		if err != nil {
			return CreationResult{}, fmt.Errorf("%w: %v", models.ErrOrderCreationFailed, err)
		}
		return CreationResult{Contract: &models.SubscriptionContract{
			ContractCode: resp.ContractCode,
			Serial:       resp.Serial,
			SKUID:        sku.ID,
			Trial:        sku.CanTrial,
			QRUrl:        resp.QRUrl,
			Status:       models.ContractStatusUnconfirmed,
			CreatedAt:    time.Now(),
		}}, nil
	}

	resp, err := s.Commerce.CreateOrder(ctx, CreateOrderRequest{
		UserID: userID,
		SKUID:  sku.ID,
		Ticket: ticket,
		Trace:  trace,
	})
	if err != nil {
		return CreationResult{}, fmt.Errorf("%w: %v", models.ErrOrderCreationFailed, err)
	}

	currency := resp.Currency
	if currency == "" {
		currency = sku.Currency
	}
	return CreationResult{Order: &models.Order{
		OrderID:      resp.OrderID,
		SKUID:        sku.ID,
		IAPProductID: sku.IAPProductID,
		Amount:       resp.Amount,
		Currency:     currency,
		Ticket:       ticket,
		Trace:        trace,
		Status:       models.OrderStatusCreated,
		CreatedAt:    time.Now(),
	}}, nil
}

// newTicket builds the caller-chosen idempotency token from the session
// identity and the wall clock.
func newTicket(userID int) string {
	return fmt.Sprintf("%d-%d-%s", userID, time.Now().UnixMilli(), uuid.NewString()[:8])
}
