package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"posterBack/internal/bridge"
	"posterBack/internal/models"
	"posterBack/internal/repositories"
	"posterBack/internal/services"
)

// InvokerSource resolves the live bridge connection of a purchase session,
// if its shell keeps one open.
type InvokerSource interface {
	InvokerFor(sessionID string) bridge.Invoker
}

type VIPHandler struct {
	Sessions *services.SessionManager
	Catalog  *services.CatalogService
	Bridge   *bridge.Registry
	History  *repositories.PaymentHistoryRepo
	Invokers InvokerSource
}

type packageView struct {
	models.Package
	Discount float64 `json:"discount"`
}

type packageGroupView struct {
	Tier     string        `json:"tier"`
	Title    string        `json:"title"`
	Packages []packageView `json:"packages"`
}

// GetPackages returns the grouped VIP offer for a catalog context, with the
// display discount precomputed per package.
func (h *VIPHandler) GetPackages(w http.ResponseWriter, r *http.Request) {
	contextID := r.URL.Query().Get("context_id")

	groups, err := h.Catalog.LoadPackages(r.Context(), contextID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	out := make([]packageGroupView, 0, len(groups))
	for _, g := range groups {
		gv := packageGroupView{Tier: g.Tier, Title: g.Title}
		for _, p := range g.Packages {
			gv.Packages = append(gv.Packages, packageView{Package: p, Discount: p.Discount()})
		}
		out = append(out, gv)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Groups []packageGroupView `json:"groups"`
	}{Groups: out})
}

// OpenSession creates a purchase session and arms its countdown.
func (h *VIPHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, "user not authorized", http.StatusUnauthorized)
		return
	}

	sess := h.Sessions.New(userID)
	countdown := h.Sessions.StartCountdown(sess)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		SessionID string                `json:"session_id"`
		Countdown models.CountdownValue `json:"countdown"`
	}{SessionID: sess.ID, Countdown: countdown})
}

// GetCountdown reports the session's countdown, starting it when it is not
// running yet. Repeated calls never spawn a second timer.
func (h *VIPHandler) GetCountdown(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	countdown := h.Sessions.StartCountdown(sess)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(countdown)
}

type purchaseRequest struct {
	SessionID   string               `json:"session_id"`
	SKUID       string               `json:"sku_id"`
	ContextID   string               `json:"context_id"`
	Channel     models.PayChannel    `json:"channel"`
	Trace       models.TraceMetadata `json:"trace"`
	NativeShell bool                 `json:"native_shell"`
}

// Purchase runs one purchase attempt end to end and answers with the
// dispatch the client has to carry out. A missing session_id opens a fresh
// session.
func (h *VIPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, "user not authorized", http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SKUID == "" {
		http.Error(w, "sku_id is required", http.StatusBadRequest)
		return
	}

	var sess *services.PurchaseSession
	if req.SessionID == "" {
		sess = h.Sessions.New(userID)
	} else {
		var err error
		sess, err = h.Sessions.Get(req.SessionID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if sess.UserID != userID {
			http.Error(w, "session belongs to another user", http.StatusForbidden)
			return
		}
	}

	var inv bridge.Invoker
	if h.Invokers != nil {
		inv = h.Invokers.InvokerFor(sess.ID)
	}

	result, err := h.Sessions.Purchase(r.Context(), sess, inv, services.PurchaseInput{
		SKUID:     req.SKUID,
		ContextID: req.ContextID,
		Preferred: req.Channel,
		Trace:     req.Trace,
		Hints: models.ClientHints{
			UserAgent:   r.UserAgent(),
			NativeShell: req.NativeShell,
		},
	})
	if err != nil {
		writePurchaseError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetPurchaseState returns the session's current view, including the
// confirmation outcome once one is latched.
func (h *VIPHandler) GetPurchaseState(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r, r.URL.Query().Get(":id"))
	if !ok {
		return
	}
	sess.Touch()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.Snapshot())
}

// CancelPurchase detaches the running attempt. Returns the snapshot after
// cancellation so the screen can redraw in one round trip.
func (h *VIPHandler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r, r.URL.Query().Get(":id"))
	if !ok {
		return
	}

	snap := h.Sessions.CancelAttempt(r.Context(), sess)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

type payResultRequest struct {
	SessionID string `json:"session_id"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

// BridgePayResult is the HTTP fallback for shells that deliver the named
// pay_result callback over a plain request instead of the websocket.
func (h *VIPHandler) BridgePayResult(w http.ResponseWriter, r *http.Request) {
	var req payResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	delivered := h.Bridge.Publish(
		services.PayResultCallbackName(req.SessionID),
		bridge.PayResult{Code: req.Code, Message: req.Message},
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Delivered bool `json:"delivered"`
	}{Delivered: delivered})
}

// GetHistory lists the user's payment attempts, newest first.
func (h *VIPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, "user not authorized", http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	attempts, err := h.History.ListByUser(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Attempts []models.PaymentAttempt `json:"attempts"`
	}{Attempts: attempts})
}

func (h *VIPHandler) session(w http.ResponseWriter, r *http.Request, id string) (*services.PurchaseSession, bool) {
	if id == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return nil, false
	}
	sess, err := h.Sessions.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	if userID, ok := userIDFrom(r); ok && sess.UserID != userID {
		http.Error(w, "session belongs to another user", http.StatusForbidden)
		return nil, false
	}
	return sess, true
}

func writePurchaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrPackageNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrPaymentDeclined):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, models.ErrCatalogUnavailable),
		errors.Is(err, models.ErrOrderCreationFailed),
		errors.Is(err, models.ErrDispatchFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func userIDFrom(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value("user_id").(int)
	return userID, ok
}
