package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) JWTMiddlewareWithRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return app.JWTMiddleware(next, requiredRole)
	}
}

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole("user"))

	mux := pat.New()

	// VIP purchase flow
	mux.Get("/vip/packages", authMiddleware.ThenFunc(app.vipHandler.GetPackages))
	mux.Post("/vip/session", authMiddleware.ThenFunc(app.vipHandler.OpenSession))
	mux.Get("/vip/countdown", authMiddleware.ThenFunc(app.vipHandler.GetCountdown))
	mux.Post("/vip/purchase", authMiddleware.ThenFunc(app.vipHandler.Purchase))
	mux.Get("/vip/purchase/:id", authMiddleware.ThenFunc(app.vipHandler.GetPurchaseState))
	mux.Post("/vip/purchase/:id/cancel", authMiddleware.ThenFunc(app.vipHandler.CancelPurchase))
	mux.Get("/vip/history", authMiddleware.ThenFunc(app.vipHandler.GetHistory))

	// Native bridge fallback (shells without a live websocket)
	mux.Post("/vip/bridge/pay_result", standardMiddleware.ThenFunc(app.vipHandler.BridgePayResult))

	// Browser payment legs
	mux.Get("/pay/checkout", alice.New(app.recoverPanic, app.logRequest, secureHeaders).ThenFunc(app.payHandler.Checkout))
	mux.Get("/pay/alipay/:order_id", alice.New(app.recoverPanic, app.logRequest, secureHeaders).ThenFunc(app.payHandler.AlipayForm))
	mux.Get("/pay/entrust/:session_id", standardMiddleware.ThenFunc(app.payHandler.EntrustQR))

	// Shell websocket (hello frame carries the session id)
	mux.Get("/vip/ws", http.HandlerFunc(app.VIPSocketHandler))

	return mux
}
