package services

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"posterBack/internal/bridge"
	"posterBack/internal/models"
)

func newDispatcher(t *testing.T) (*DispatchService, *bridge.Registry) {
	t.Helper()
	commerce, _ := newTestCommerce(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pay/alipay/form" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<form id='alipay'></form>"))
			return
		}
		http.NotFound(w, r)
	}))
	registry := bridge.NewRegistry()
	return &DispatchService{
		Commerce:  commerce,
		Registry:  registry,
		ReturnURL: "https://poster.example.com/vip",
	}, registry
}

func oneOff(orderID string) CreationResult {
	return CreationResult{Order: &models.Order{
		OrderID:      orderID,
		SKUID:        "vip_month",
		IAPProductID: "com.poster.vip.month",
		Amount:       1990,
	}}
}

func TestDispatchWebFallback(t *testing.T) {
	svc, _ := newDispatcher(t)
	ctx := context.Background()
	plainBrowser := models.EnvironmentProfile{OS: models.OSAndroid}

	t.Run("wechat h5 redirect by default", func(t *testing.T) {
		d, wait, err := svc.Dispatch(ctx, nil, "s1", oneOff("ord-1"), plainBrowser, models.ChannelWeChat)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if wait != nil {
			t.Fatal("web dispatch must not wait on the bridge")
		}
		if d.Channel != models.ChannelWeChat || d.Mode != models.ModeRedirect {
			t.Fatalf("unexpected dispatch: %+v", d)
		}
		if !strings.Contains(d.RedirectURL, "/pay/h5/wechat") {
			t.Fatalf("unexpected redirect: %s", d.RedirectURL)
		}
		u, _ := url.Parse(d.RedirectURL)
		if u.Query().Get("order_id") != "ord-1" {
			t.Fatalf("order id missing from redirect: %s", d.RedirectURL)
		}
	})

	t.Run("alipay form", func(t *testing.T) {
		d, _, err := svc.Dispatch(ctx, nil, "s1", oneOff("ord-1"), plainBrowser, models.ChannelAlipay)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if d.Channel != models.ChannelAlipay || d.Mode != models.ModeForm {
			t.Fatalf("unexpected dispatch: %+v", d)
		}
		if !strings.Contains(d.FormHTML, "alipay") {
			t.Fatalf("unexpected form: %s", d.FormHTML)
		}
	})
}

func TestDispatchWeChatInAppBrowser(t *testing.T) {
	svc, _ := newDispatcher(t)
	env := models.EnvironmentProfile{OS: models.OSAndroid, InAppBrowser: models.BrowserWeChat}

	d, wait, err := svc.Dispatch(context.Background(), nil, "s1", oneOff("ord-1"), env, models.ChannelWeChat)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if wait != nil {
		t.Fatal("hosted checkout must not wait on the bridge")
	}
	if d.Mode != models.ModeRedirect {
		t.Fatalf("expected full redirect, got %+v", d)
	}
	u, err := url.Parse(d.RedirectURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if !svc.Commerce.VerifyCheckoutSig(u.Query().Get("order_id"), u.Query().Get("sig")) {
		t.Fatal("checkout link must be signed")
	}
}

func TestDispatchNativeIAP(t *testing.T) {
	svc, registry := newDispatcher(t)
	env := models.EnvironmentProfile{
		NativeShell: true,
		OS:          models.OSiOS,
		Caps:        models.Capabilities{InAppPurchase: true},
	}
	inv := &fakeInvoker{}

	d, wait, err := svc.Dispatch(context.Background(), inv, "s1", oneOff("ord-1"), env, models.ChannelWeChat)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if d.Channel != models.ChannelIAP || d.Mode != models.ModeNative {
		t.Fatalf("unexpected dispatch: %+v", d)
	}
	if wait == nil {
		t.Fatal("native dispatch must hand back the pay_result wait")
	}
	defer wait.Cancel()

	calls := inv.invoked()
	if len(calls) != 1 || calls[0].Type != "iapPurchase" {
		t.Fatalf("unexpected bridge calls: %+v", calls)
	}
	if got := calls[0].Params["product_id"]; got != "com.poster.vip.month" {
		t.Fatalf("store purchase must carry the platform product id, got %v", got)
	}
	if got := calls[0].Params["order_id"]; got != "ord-1" {
		t.Fatalf("order id not forwarded: %v", got)
	}
	if calls[0].CallbackName != PayResultCallbackName("s1") {
		t.Fatalf("callback name not scoped to session: %q", calls[0].CallbackName)
	}

	// the shell answers on the named callback; the wait channel gets it
	if !registry.Publish(PayResultCallbackName("s1"), bridge.PayResult{Code: 0}) {
		t.Fatal("callback must be registered")
	}
	res, ok := <-wait.Ch
	if !ok || !res.OK() {
		t.Fatalf("expected the pay result, got ok=%v res=%+v", ok, res)
	}
}

func TestDispatchCallbackRegisteredBeforeInvoke(t *testing.T) {
	svc, registry := newDispatcher(t)
	env := models.EnvironmentProfile{NativeShell: true, Caps: models.Capabilities{InAppPurchase: true}}

	// shell delivers the pay result synchronously inside the invoke,
	// before Dispatch even returns; it must not be lost
	inv := &fakeInvoker{invoke: func(req bridge.Request) (bridge.Result, error) {
		if !registry.Publish(req.CallbackName, bridge.PayResult{Code: 0}) {
			t.Error("callback must already be subscribed during invoke")
		}
		return bridge.Result{Success: true}, nil
	}}

	_, wait, err := svc.Dispatch(context.Background(), inv, "s1", oneOff("ord-1"), env, models.ChannelWeChat)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	res, ok := <-wait.Ch
	if !ok || !res.OK() {
		t.Fatalf("early pay result lost: ok=%v res=%+v", ok, res)
	}
}

func TestDispatchNativeDeclined(t *testing.T) {
	svc, registry := newDispatcher(t)
	env := models.EnvironmentProfile{NativeShell: true, Caps: models.Capabilities{InAppPurchase: true}}
	inv := &fakeInvoker{invoke: func(bridge.Request) (bridge.Result, error) {
		return bridge.Result{Success: false, Message: "user closed the sheet"}, nil
	}}

	_, wait, err := svc.Dispatch(context.Background(), inv, "s1", oneOff("ord-1"), env, models.ChannelWeChat)
	if !errors.Is(err, models.ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
	if wait != nil {
		t.Fatal("declined dispatch must not leave a wait behind")
	}
	if registry.Publish(PayResultCallbackName("s1"), bridge.PayResult{}) {
		t.Fatal("declined dispatch must unsubscribe its callback")
	}
}

func TestDispatchPreferredNativeChannels(t *testing.T) {
	svc, _ := newDispatcher(t)
	ctx := context.Background()

	t.Run("dedicated wechat pay", func(t *testing.T) {
		env := models.EnvironmentProfile{NativeShell: true, Caps: models.Capabilities{NativeWeChatPay: true}}
		inv := &fakeInvoker{}
		d, wait, err := svc.Dispatch(ctx, inv, "s1", oneOff("ord-1"), env, models.ChannelWeChat)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		defer wait.Cancel()
		if d.Channel != models.ChannelWeChat || inv.invoked()[0].Type != "wechatPay" {
			t.Fatalf("unexpected dispatch: %+v calls=%+v", d, inv.invoked())
		}
	})

	t.Run("generic shell pay without the dedicated cap", func(t *testing.T) {
		env := models.EnvironmentProfile{NativeShell: true}
		inv := &fakeInvoker{}
		_, wait, err := svc.Dispatch(ctx, inv, "s2", oneOff("ord-2"), env, models.ChannelAlipay)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		defer wait.Cancel()
		call := inv.invoked()[0]
		if call.Type != "pay" {
			t.Fatalf("expected the generic pay entry, got %q", call.Type)
		}
		if call.Params["channel"] != "alipay" {
			t.Fatalf("preferred channel not forwarded: %+v", call.Params)
		}
	})

	t.Run("no bridge connection fails the dispatch", func(t *testing.T) {
		env := models.EnvironmentProfile{NativeShell: true}
		_, _, err := svc.Dispatch(ctx, nil, "s3", oneOff("ord-3"), env, models.ChannelWeChat)
		if !errors.Is(err, models.ErrDispatchFailed) {
			t.Fatalf("expected ErrDispatchFailed, got %v", err)
		}
	})
}

func TestDispatchEntrustment(t *testing.T) {
	svc, _ := newDispatcher(t)
	contract := CreationResult{Contract: &models.SubscriptionContract{
		ContractCode: "ctr-1",
		SKUID:        "vip_sub",
		QRUrl:        "weixin://qr/1",
	}}

	t.Run("in-chat inside wechat", func(t *testing.T) {
		env := models.EnvironmentProfile{InAppBrowser: models.BrowserWeChat}
		d, wait, err := svc.Dispatch(context.Background(), nil, "s1", contract, env, models.ChannelWeChat)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if wait != nil {
			t.Fatal("entrustment must not wait on the bridge")
		}
		if d.Mode != models.ModeRedirect || d.RedirectURL != "weixin://qr/1" {
			t.Fatalf("unexpected dispatch: %+v", d)
		}
	})

	t.Run("qr everywhere else", func(t *testing.T) {
		env := models.EnvironmentProfile{NativeShell: true, Caps: models.Capabilities{InAppPurchase: true}}
		d, _, err := svc.Dispatch(context.Background(), &fakeInvoker{}, "s1", contract, env, models.ChannelWeChat)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		// entrustments outrank every other branch, IAP included
		if d.Mode != models.ModeQR || d.QRUrl != "weixin://qr/1" {
			t.Fatalf("unexpected dispatch: %+v", d)
		}
	})
}
