package services

import (
	"context"
	"fmt"
	"log/slog"

	"posterBack/internal/bridge"
	"posterBack/internal/models"
)

// Bridge invocation types understood by the shells.
const (
	bridgeTypeIAP        = "iapPurchase"
	bridgeTypeWeChatPay  = "wechatPay"
	bridgeTypeAlipayPay  = "alipayPay"
	bridgeTypeGenericPay = "pay"
)

// NativeWait is handed back for native dispatches: the one-shot pay_result
// subscription that was registered before the bridge was invoked. Cancel
// must run when the purchase session is superseded or torn down.
type NativeWait struct {
	Ch     <-chan bridge.PayResult
	Cancel func()
}

// DispatchService selects exactly one payment channel for a created order
// or subscription contract and initiates it. Every call takes exactly one
// branch; the returned Dispatch tells the UI which client-side leg to run.
type DispatchService struct {
	Commerce *CommerceService
	Registry *bridge.Registry
	Logger   *slog.Logger

	// ReturnURL is where the wechat H5 flow sends the browser back to.
	ReturnURL string
}

// Dispatch routes the purchase to a channel based on the environment, in
// priority order:
//
//  1. recurring contract → wechat entrustment (in-chat inside the wechat
//     browser, QR everywhere else); entrustments are not supported by any
//     other channel
//  2. wechat in-app browser (direct API payment forbidden there) → full
//     redirect to the hosted checkout page
//  3. native in-app-purchase capability → bridge IAP call
//  4. native shell with a matching wechat/alipay capability for the user's
//     preferred channel → dedicated bridge pay call
//  5. native shell otherwise → generic shell pay entry
//  6. plain browser → wechat H5 redirect or alipay auto-submitting form
//
// For native branches the pay_result callback is registered before the
// bridge is invoked, so the shell can never answer into the void.
func (s *DispatchService) Dispatch(ctx context.Context, inv bridge.Invoker, sessionID string, result CreationResult, env models.EnvironmentProfile, preferred models.PayChannel) (models.Dispatch, *NativeWait, error) {
	if result.Contract != nil {
		return s.dispatchEntrustment(result.Contract, env)
	}
	if result.Order == nil {
		return models.Dispatch{}, nil, fmt.Errorf("%w: nothing was created", models.ErrDispatchFailed)
	}
	order := result.Order

	if env.InAppBrowser == models.BrowserWeChat {
		return models.Dispatch{
			Channel:     models.ChannelWeChat,
			Mode:        models.ModeRedirect,
			OrderID:     order.OrderID,
			RedirectURL: s.Commerce.HostedCheckoutURL(order.OrderID),
		}, nil, nil
	}

	if env.Caps.InAppPurchase {
		// В магазин уходит платформенный идентификатор товара, не SKU.
		productID := order.IAPProductID
		if productID == "" {
			productID = order.SKUID
		}
		return s.invokeNative(ctx, inv, sessionID, models.Dispatch{
			Channel: models.ChannelIAP,
			Mode:    models.ModeNative,
			OrderID: order.OrderID,
		}, bridge.Request{
			Type: bridgeTypeIAP,
			Params: map[string]any{
				"product_id": productID,
				"order_id":   order.OrderID,
			},
		})
	}

	if env.NativeShell && preferred == models.ChannelWeChat && env.Caps.NativeWeChatPay {
		return s.invokeNative(ctx, inv, sessionID, models.Dispatch{
			Channel: models.ChannelWeChat,
			Mode:    models.ModeNative,
			OrderID: order.OrderID,
		}, bridge.Request{
			Type:   bridgeTypeWeChatPay,
			Params: map[string]any{"order_id": order.OrderID},
		})
	}
	if env.NativeShell && preferred == models.ChannelAlipay && env.Caps.NativeAlipay {
		return s.invokeNative(ctx, inv, sessionID, models.Dispatch{
			Channel: models.ChannelAlipay,
			Mode:    models.ModeNative,
			OrderID: order.OrderID,
		}, bridge.Request{
			Type:   bridgeTypeAlipayPay,
			Params: map[string]any{"order_id": order.OrderID},
		})
	}

	if env.NativeShell {
		return s.invokeNative(ctx, inv, sessionID, models.Dispatch{
			Channel: preferred,
			Mode:    models.ModeNative,
			OrderID: order.OrderID,
		}, bridge.Request{
			Type: bridgeTypeGenericPay,
			Params: map[string]any{
				"channel":  string(preferred),
				"order_id": order.OrderID,
				"amount":   order.Amount,
			},
		})
	}

	return s.dispatchWeb(ctx, order, preferred)
}

func (s *DispatchService) dispatchEntrustment(contract *models.SubscriptionContract, env models.EnvironmentProfile) (models.Dispatch, *NativeWait, error) {
	d := models.Dispatch{
		Channel:      models.ChannelWeChat,
		ContractCode: contract.ContractCode,
	}
	if env.InAppBrowser == models.BrowserWeChat {
		// Внутри WeChat договор подписывается прямо в чате.
		d.Mode = models.ModeRedirect
		d.RedirectURL = contract.QRUrl
		return d, nil, nil
	}
	d.Mode = models.ModeQR
	d.QRUrl = contract.QRUrl
	return d, nil, nil
}

func (s *DispatchService) dispatchWeb(ctx context.Context, order *models.Order, preferred models.PayChannel) (models.Dispatch, *NativeWait, error) {
	switch preferred {
	case models.ChannelAlipay:
		form, err := s.Commerce.AlipayForm(ctx, order.OrderID)
		if err != nil {
			return models.Dispatch{}, nil, fmt.Errorf("%w: %v", models.ErrDispatchFailed, err)
		}
		return models.Dispatch{
			Channel:  models.ChannelAlipay,
			Mode:     models.ModeForm,
			OrderID:  order.OrderID,
			FormHTML: form,
		}, nil, nil
	default:
		return models.Dispatch{
			Channel:     models.ChannelWeChat,
			Mode:        models.ModeRedirect,
			OrderID:     order.OrderID,
			RedirectURL: s.Commerce.WeChatH5URL(order.OrderID, s.ReturnURL),
		}, nil, nil
	}
}

// invokeNative registers the one-shot pay_result subscription, then invokes
// the shell. A synchronous success:false reply is a declined payment: the
// subscription is cancelled and no polling will start.
func (s *DispatchService) invokeNative(ctx context.Context, inv bridge.Invoker, sessionID string, d models.Dispatch, req bridge.Request) (models.Dispatch, *NativeWait, error) {
	if inv == nil {
		return models.Dispatch{}, nil, fmt.Errorf("%w: no bridge connection", models.ErrDispatchFailed)
	}

	callback := PayResultCallbackName(sessionID)
	req.CallbackName = callback
	d.CallbackName = callback

	ch, cancel := s.Registry.Subscribe(callback)

	res, err := inv.Invoke(ctx, req)
	if err != nil {
		cancel()
		return models.Dispatch{}, nil, fmt.Errorf("%w: %v", models.ErrDispatchFailed, err)
	}
	if !res.Success {
		cancel()
		s.log().Info("native payment declined", "session", sessionID, "type", req.Type, "message", res.Message)
		return models.Dispatch{}, nil, fmt.Errorf("%w: %s", models.ErrPaymentDeclined, res.Message)
	}
	return d, &NativeWait{Ch: ch, Cancel: cancel}, nil
}

// PayResultCallbackName scopes the named bridge callback to one purchase
// session, so a superseded screen can never swallow a newer result.
func PayResultCallbackName(sessionID string) string {
	return "pay_result." + sessionID
}

func (s *DispatchService) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
