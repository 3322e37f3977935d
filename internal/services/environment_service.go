package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"posterBack/internal/bridge"
	"posterBack/internal/models"
)

// Capability names understood by the shell's feature detection.
const (
	CapInAppPurchase   = "inAppPurchase"
	CapNativeWeChatPay = "nativeWeChatPay"
	CapNativeAlipay    = "nativeAlipay"
)

// shellToken is the marker our native shells append to the User-Agent.
const shellToken = "posterapp"

// EnvironmentService inspects the host runtime of a purchase screen and
// reports which payment channels are actually usable there.
type EnvironmentService struct {
	Logger *slog.Logger

	// Budget for the single capability round-trip to the shell.
	DetectTimeout time.Duration
}

// Detect builds the environment profile from transport hints plus one
// best-effort capability probe over the bridge. A failed or absent probe
// degrades to "no native capabilities" — web channels remain available.
func (s *EnvironmentService) Detect(ctx context.Context, inv bridge.Invoker, hints models.ClientHints) models.EnvironmentProfile {
	ua := strings.ToLower(hints.UserAgent)

	profile := models.EnvironmentProfile{
		NativeShell: hints.NativeShell || strings.Contains(ua, shellToken),
		OS:          osFamily(ua),
	}
	if strings.Contains(ua, "micromessenger") {
		profile.InAppBrowser = models.BrowserWeChat
	}

	if !profile.NativeShell || inv == nil {
		return profile
	}

	timeout := s.DetectTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caps, err := inv.DetectCapabilities(probeCtx, []string{CapInAppPurchase, CapNativeWeChatPay, CapNativeAlipay})
	if err != nil {
		s.log().Warn("bridge capability probe failed", "err", err)
		return profile
	}
	profile.Caps = models.Capabilities{
		InAppPurchase:   caps[CapInAppPurchase],
		NativeWeChatPay: caps[CapNativeWeChatPay],
		NativeAlipay:    caps[CapNativeAlipay],
	}
	return profile
}

func osFamily(ua string) models.OSFamily {
	switch {
	case strings.Contains(ua, "android"):
		return models.OSAndroid
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return models.OSiOS
	default:
		return models.OSOther
	}
}

func (s *EnvironmentService) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
