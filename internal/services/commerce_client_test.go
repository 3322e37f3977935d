package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"posterBack/internal/models"
)

func newTestCommerce(t *testing.T, handler http.Handler) (*CommerceService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewCommerceService(CommerceConfig{
		BaseURL:        srv.URL,
		CheckoutURL:    "https://pay.example.com/checkout",
		CheckoutSecret: "secret",
		Client:         srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewCommerceService: %v", err)
	}
	return svc, srv
}

func TestCommerceListPackages(t *testing.T) {
	svc, _ := newTestCommerce(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/vip/packages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("context_id") != "profile" {
			t.Errorf("context_id not forwarded: %q", r.URL.Query().Get("context_id"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"groups": []models.PackageGroup{{
				Tier:     "vip",
				Title:    "VIP",
				Packages: []models.Package{{ID: "vip_month", Price: 1990, OriginalPrice: 2990}},
			}},
		})
	}))

	groups, err := svc.ListPackages(context.Background(), "profile")
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Packages) != 1 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
	if groups[0].Packages[0].ID != "vip_month" {
		t.Fatalf("unexpected package: %+v", groups[0].Packages[0])
	}
}

func TestCommerceCreateOrder(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, _ := newTestCommerce(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/vip/orders" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var req CreateOrderRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Ticket == "" {
				t.Error("ticket must be forwarded")
			}
			json.NewEncoder(w).Encode(CreateOrderResponse{OrderID: "ord-1", Amount: 1990, Currency: "CNY"})
		}))

		resp, err := svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: 7, SKUID: "vip_month", Ticket: "t"})
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		if resp.OrderID != "ord-1" || resp.Amount != 1990 {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("empty order id is an error", func(t *testing.T) {
		svc, _ := newTestCommerce(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(CreateOrderResponse{})
		}))
		if _, err := svc.CreateOrder(context.Background(), CreateOrderRequest{}); err == nil {
			t.Fatal("expected an error for empty order_id")
		}
	})

	t.Run("backend failure surfaces CommerceError", func(t *testing.T) {
		svc, _ := newTestCommerce(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{})
		var ce *CommerceError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CommerceError, got %v", err)
		}
		if ce.StatusCode != http.StatusInternalServerError {
			t.Fatalf("unexpected status: %d", ce.StatusCode)
		}
	})
}

func TestCommerceOrderStatus(t *testing.T) {
	svc, _ := newTestCommerce(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/vip/orders/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": " PAID "})
	}))

	status, err := svc.OrderStatus(context.Background(), 7, "ord-1")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if status != models.OrderStatusPaid {
		t.Fatalf("status must be normalized, got %q", status)
	}
}

func TestCheckoutLinkSignature(t *testing.T) {
	svc, _ := newTestCommerce(t, http.NotFoundHandler())

	link := svc.HostedCheckoutURL("ord-1")
	if !strings.HasPrefix(link, "https://pay.example.com/checkout?") {
		t.Fatalf("unexpected link: %s", link)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	sig := u.Query().Get("sig")
	if !svc.VerifyCheckoutSig("ord-1", sig) {
		t.Fatal("signature must verify for the signed order")
	}
	if svc.VerifyCheckoutSig("ord-2", sig) {
		t.Fatal("signature must not verify for another order")
	}
	if svc.VerifyCheckoutSig("ord-1", "zz") {
		t.Fatal("malformed signature must not verify")
	}
}
