package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"posterBack/internal/models"
)

type CommerceConfig struct {
	// База коммерческого бэкенда (каталог, заказы, договоры).
	BaseURL string

	// Страница hosted checkout, на которую уводим in-app браузеры.
	CheckoutURL string
	// Секрет подписи ссылок hosted checkout.
	CheckoutSecret string

	Client *http.Client
	Logger *slog.Logger
}

// CommerceService is the HTTP client for the order/catalog RPC surface. The
// orchestrator never talks to payment providers directly; the backend does.
type CommerceService struct {
	baseURL        *url.URL
	checkoutURL    string
	checkoutSecret string

	httpClient *http.Client
	logger     *slog.Logger
}

func NewCommerceService(cfg CommerceConfig) (*CommerceService, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("commerce: base_url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &CommerceService{
		baseURL:        u,
		checkoutURL:    strings.TrimRight(cfg.CheckoutURL, "/"),
		checkoutSecret: cfg.CheckoutSecret,
		httpClient:     client,
		logger:         logger,
	}, nil
}

// ------- CATALOG -------

// ListPackages fetches the grouped SKU snapshot for a catalog context. An
// empty result is a valid "no offer" answer.
func (s *CommerceService) ListPackages(ctx context.Context, contextID string) ([]models.PackageGroup, error) {
	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/vip/packages")
	q := endpoint.Query()
	q.Set("context_id", contextID)
	endpoint.RawQuery = q.Encode()

	var out struct {
		Groups []models.PackageGroup `json:"groups"`
	}
	if err := s.getJSON(ctx, endpoint.String(), &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// ------- ORDERS -------

type CreateOrderRequest struct {
	UserID int                  `json:"user_id"`
	SKUID  string               `json:"sku_id"`
	Ticket string               `json:"ticket"`
	Trace  models.TraceMetadata `json:"trace"`
}

type CreateOrderResponse struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (s *CommerceService) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error) {
	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/vip/orders")

	var out CreateOrderResponse
	if err := s.postJSON(ctx, endpoint.String(), req, &out); err != nil {
		return CreateOrderResponse{}, err
	}
	if strings.TrimSpace(out.OrderID) == "" {
		return CreateOrderResponse{}, fmt.Errorf("create order: empty order_id")
	}
	return out, nil
}

func (s *CommerceService) OrderStatus(ctx context.Context, userID int, orderID string) (models.OrderStatus, error) {
	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/vip/orders/status")
	q := endpoint.Query()
	q.Set("user_id", strconv.Itoa(userID))
	q.Set("order_id", orderID)
	endpoint.RawQuery = q.Encode()

	var out struct {
		Status string `json:"status"`
	}
	if err := s.getJSON(ctx, endpoint.String(), &out); err != nil {
		return "", err
	}
	return models.OrderStatus(strings.ToLower(strings.TrimSpace(out.Status))), nil
}

// ------- SUBSCRIPTION ENTRUSTMENT -------

type EntrustmentRequest struct {
	UserID int                  `json:"user_id"`
	SKUID  string               `json:"sku_id"`
	Trial  bool                 `json:"trial"`
	Ticket string               `json:"ticket"`
	Trace  models.TraceMetadata `json:"trace"`
}

type EntrustmentResponse struct {
	ContractCode string `json:"contract_code"`
	Serial       string `json:"serial"`
	QRUrl        string `json:"qr_url"`
}

func (s *CommerceService) CreateEntrustment(ctx context.Context, req EntrustmentRequest) (EntrustmentResponse, error) {
	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/vip/entrustments")

	var out EntrustmentResponse
	if err := s.postJSON(ctx, endpoint.String(), req, &out); err != nil {
		return EntrustmentResponse{}, err
	}
	if strings.TrimSpace(out.ContractCode) == "" {
		return EntrustmentResponse{}, fmt.Errorf("create entrustment: empty contract_code")
	}
	return out, nil
}

type EntrustmentState struct {
	Active    bool       `json:"active"`
	RenewDate *time.Time `json:"renew_date,omitempty"`
}

func (s *CommerceService) EntrustmentStatus(ctx context.Context, userID int, contractCode, serial string) (EntrustmentState, error) {
	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/vip/entrustments/status")
	q := endpoint.Query()
	q.Set("user_id", strconv.Itoa(userID))
	q.Set("contract_code", contractCode)
	q.Set("serial", serial)
	endpoint.RawQuery = q.Encode()

	var out EntrustmentState
	if err := s.getJSON(ctx, endpoint.String(), &out); err != nil {
		return EntrustmentState{}, err
	}
	return out, nil
}

// ------- REDIRECT TARGETS -------

// HostedCheckoutURL builds the signed hosted-checkout link used for the
// in-app-browser fallback. Подпись: HMAC-SHA256(order_id).
func (s *CommerceService) HostedCheckoutURL(orderID string) string {
	mac := hmac.New(sha256.New, []byte(s.checkoutSecret))
	mac.Write([]byte(orderID))
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s?order_id=%s&sig=%s", s.checkoutURL, url.QueryEscape(orderID), sig)
}

// VerifyCheckoutSig validates the signature of a hosted-checkout link.
func (s *CommerceService) VerifyCheckoutSig(orderID, sig string) bool {
	mac := hmac.New(sha256.New, []byte(s.checkoutSecret))
	mac.Write([]byte(orderID))
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// WeChatH5URL builds the mobile-web payment redirect for a plain browser.
func (s *CommerceService) WeChatH5URL(orderID, returnURL string) string {
	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/pay/h5/wechat")
	q := endpoint.Query()
	q.Set("order_id", orderID)
	q.Set("return_url", returnURL)
	endpoint.RawQuery = q.Encode()
	return endpoint.String()
}

// AlipayForm fetches the server-rendered auto-submitting payment form.
func (s *CommerceService) AlipayForm(ctx context.Context, orderID string) (string, error) {
	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/pay/alipay/form")
	q := endpoint.Query()
	q.Set("order_id", orderID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("alipay form request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("alipay form: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &CommerceError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	return string(b), nil
}

// ------- plumbing -------

func (s *CommerceService) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	return s.doJSON(req, out)
}

func (s *CommerceService) postJSON(ctx context.Context, rawURL string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.doJSON(req, out)
}

func (s *CommerceService) doJSON(req *http.Request, out any) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commerce request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &CommerceError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode commerce response: %w", err)
	}
	return nil
}

type CommerceError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *CommerceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("commerce error: %s", e.Status)
	}
	return fmt.Sprintf("commerce error: %s: %s", e.Status, bt)
}
