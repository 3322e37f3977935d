package models

type OSFamily string

const (
	OSAndroid OSFamily = "android"
	OSiOS     OSFamily = "ios"
	OSOther   OSFamily = "other"
)

type BrowserVendor string

const (
	BrowserNone   BrowserVendor = ""
	BrowserWeChat BrowserVendor = "wechat"
)

// Capabilities are the native-bridge payment features reported by the host
// shell. All false when the shell is absent or feature detection fails.
type Capabilities struct {
	InAppPurchase   bool `json:"in_app_purchase"`
	NativeWeChatPay bool `json:"native_wechat_pay"`
	NativeAlipay    bool `json:"native_alipay"`
}

// EnvironmentProfile describes the host runtime a purchase screen runs in.
// Read-only after detection.
type EnvironmentProfile struct {
	NativeShell  bool          `json:"native_shell"`
	OS           OSFamily      `json:"os"`
	InAppBrowser BrowserVendor `json:"in_app_browser"`
	Caps         Capabilities  `json:"caps"`
}

// ClientHints is what the UI layer tells us about its runtime alongside the
// transport-level User-Agent.
type ClientHints struct {
	UserAgent   string `json:"user_agent"`
	NativeShell bool   `json:"native_shell"`
}
