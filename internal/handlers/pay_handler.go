package handlers

import (
	"encoding/json"
	"net/http"

	"posterBack/internal/models"
	"posterBack/internal/services"
)

// PayHandler serves the browser-facing payment legs: the signed hosted
// checkout entry, the alipay form passthrough and the entrustment QR
// payload.
type PayHandler struct {
	Commerce *services.CommerceService
	Sessions *services.SessionManager

	// ReturnURL is where the checkout sends the browser after payment.
	ReturnURL string
}

// Checkout is the landing point of the signed hosted-checkout link used
// inside in-app browsers. A valid signature forwards the browser to the
// mobile-web payment; anything else is rejected.
func (h *PayHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	sig := r.URL.Query().Get("sig")
	if orderID == "" || sig == "" {
		http.Error(w, "order_id and sig are required", http.StatusBadRequest)
		return
	}
	if !h.Commerce.VerifyCheckoutSig(orderID, sig) {
		http.Error(w, "invalid checkout signature", http.StatusForbidden)
		return
	}

	http.Redirect(w, r, h.Commerce.WeChatH5URL(orderID, h.ReturnURL), http.StatusFound)
}

// AlipayForm serves the auto-submitting alipay payment form for an order.
func (h *PayHandler) AlipayForm(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get(":order_id")
	if orderID == "" {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}

	form, err := h.Commerce.AlipayForm(r.Context(), orderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(form))
}

// EntrustQR returns the QR payload of the session's entrustment dispatch,
// for screens that render the signing code themselves.
func (h *PayHandler) EntrustQR(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get(":session_id")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	sess, err := h.Sessions.Get(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	snap := sess.Snapshot()
	if snap.Dispatch == nil || snap.Dispatch.ContractCode == "" {
		http.Error(w, "no entrustment dispatched for this session", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		ContractCode string              `json:"contract_code"`
		QRUrl        string              `json:"qr_url"`
		State        string              `json:"state"`
		Channel      models.PayChannel   `json:"channel"`
		Mode         models.DispatchMode `json:"mode"`
	}{
		ContractCode: snap.Dispatch.ContractCode,
		QRUrl:        snap.Dispatch.QRUrl,
		State:        string(snap.State),
		Channel:      snap.Dispatch.Channel,
		Mode:         snap.Dispatch.Mode,
	})
}
