package models

// PayChannel is the user-facing payment method choice.
type PayChannel string

const (
	ChannelWeChat PayChannel = "wechat"
	ChannelAlipay PayChannel = "alipay"
	ChannelIAP    PayChannel = "iap"
)

// DispatchMode says how the selected channel is carried out.
type DispatchMode string

const (
	// ModeRedirect sends the whole page to an external checkout URL.
	ModeRedirect DispatchMode = "redirect"
	// ModeNative invokes the host shell over the native bridge.
	ModeNative DispatchMode = "native"
	// ModeQR renders a QR code for the wechat entrustment flow.
	ModeQR DispatchMode = "qr"
	// ModeForm posts an auto-submitting payment form (alipay web).
	ModeForm DispatchMode = "form"
)

// Dispatch is the opaque result of channel selection, consumed by the
// confirmation poller and relayed to the UI so it can carry out the
// client-side leg (follow a redirect, render a QR, submit a form).
type Dispatch struct {
	Channel      PayChannel   `json:"channel"`
	Mode         DispatchMode `json:"mode"`
	OrderID      string       `json:"order_id,omitempty"`
	ContractCode string       `json:"contract_code,omitempty"`
	RedirectURL  string       `json:"redirect_url,omitempty"`
	FormHTML     string       `json:"form_html,omitempty"`
	QRUrl        string       `json:"qr_url,omitempty"`
	// CallbackName is set for native dispatches: the named bridge callback
	// the shell will deliver the pay result on.
	CallbackName string `json:"callback_name,omitempty"`
}
