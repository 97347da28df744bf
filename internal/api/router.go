/**
 * @description
 * This file sets up the HTTP router for the voucher-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for admin authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// VoucherRoutes creates and returns a new router for the voucher service.
func VoucherRoutes(h *VoucherHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/api", func(r chi.Router) {
		// Public storefront endpoints.
		r.Post("/purchase/initialize", h.InitializePurchaseHandler)
		r.Get("/payment/verify/{reference}", h.VerifyPaymentHandler)
		r.Post("/webhook/paystack", h.PaystackWebhookHandler)
		r.Get("/voucher/retrieve", h.RetrieveVoucherHandler)

		// Admin endpoints guarded by the internal API key.
		r.Group(func(r chi.Router) {
			r.Use(InternalAPIKeyMiddleware(internalAPIKey))

			r.Post("/admin/vouchers", h.ProvisionVouchersHandler)
			r.Get("/admin/stock", h.StockHandler)
			r.Post("/admin/transactions/{reference}/retry", h.RetryTransactionHandler)
			r.Post("/admin/reconcile", h.ReconcileHandler)
		})
	})

	return r
}
