/**
 * @description
 * This file contains the HTTP handlers for the voucher-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alltekse/voucher-service/internal/app"
	"github.com/alltekse/voucher-service/internal/domain"
	"github.com/alltekse/voucher-service/internal/store"
)

// VoucherHandlers holds the application service that handlers will use.
type VoucherHandlers struct {
	service       *app.Service
	webhookSecret string
}

// NewVoucherHandlers creates the handler set. webhookSecret is the Paystack
// secret key used to authenticate webhook signatures.
func NewVoucherHandlers(service *app.Service, webhookSecret string) *VoucherHandlers {
	return &VoucherHandlers{service: service, webhookSecret: webhookSecret}
}

// verifyResponse is the payload for the payment verification endpoint. Status
// is "success" when a voucher is attached and "failed" for an ordinary
// payment failure the storefront should show to the buyer.
type verifyResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
	Voucher *domain.VoucherResult `json:"voucher,omitempty"`
}

// InitializePurchaseHandler handles POST /api/purchase/initialize.
func (h *VoucherHandlers) InitializePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	initiation, err := h.service.InitializePurchase(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidPhone),
			errors.Is(err, app.ErrInvalidExamType),
			errors.Is(err, app.ErrInvalidEmail),
			errors.Is(err, app.ErrOutOfStock):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, app.ErrGatewayUnavailable):
			h.writeError(w, http.StatusBadGateway, "payment gateway unavailable, try again")
		default:
			log.Printf("level=error component=api endpoint=purchase_initialize err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, initiation)
}

// VerifyPaymentHandler handles GET /api/payment/verify/{reference}. The
// storefront polls it after the buyer returns from the Paystack checkout.
func (h *VoucherHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	voucher, err := h.service.ResolveTransaction(r.Context(), reference, domain.ResolutionSourcePoll)
	if err != nil {
		h.writeResolveError(w, reference, err)
		return
	}

	h.writeJSON(w, http.StatusOK, verifyResponse{Status: "success", Voucher: voucher})
}

// writeResolveError maps ResolveTransaction errors to HTTP responses. Shared
// by the verify poll and the admin retry endpoint.
func (h *VoucherHandlers) writeResolveError(w http.ResponseWriter, reference string, err error) {
	switch {
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "unknown payment reference")
	case errors.Is(err, app.ErrResolutionInProgress):
		h.writeError(w, http.StatusConflict, "transaction is being processed, try again shortly")
	case errors.Is(err, app.ErrAmountMismatch):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrVouchersExhaustedAfterPayment):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrPaymentNotConfirmed), errors.Is(err, app.ErrTransactionFailed):
		// Ordinary payment failure: 200 with a failed status so the
		// storefront renders it rather than treating it as a server fault.
		h.writeJSON(w, http.StatusOK, verifyResponse{Status: "failed", Message: err.Error()})
	case errors.Is(err, app.ErrGatewayUnavailable):
		h.writeError(w, http.StatusBadGateway, "payment gateway unavailable, try again")
	default:
		log.Printf("level=error component=api endpoint=payment_verify reference=%s err=%v", reference, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// RetrieveVoucherHandler handles GET /api/voucher/retrieve?phone=&date=.
func (h *VoucherHandlers) RetrieveVoucherHandler(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	date := r.URL.Query().Get("date")
	if phone == "" || date == "" {
		h.writeError(w, http.StatusBadRequest, "phone and date are required")
		return
	}

	voucher, err := h.service.RetrieveVoucher(r.Context(), phone, date)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidPhone), errors.Is(err, app.ErrInvalidDate):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrNoVoucherFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		default:
			log.Printf("level=error component=api endpoint=voucher_retrieve err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, voucher)
}

// ProvisionVouchersHandler handles POST /api/admin/vouchers.
func (h *VoucherHandlers) ProvisionVouchersHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cards []domain.ProvisionVoucherCard `json:"cards"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inserted, err := h.service.ProvisionVouchers(r.Context(), req.Cards)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateSerial):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrInvalidExamType):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int{"inserted": inserted})
}

// StockHandler handles GET /api/admin/stock.
func (h *VoucherHandlers) StockHandler(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.StockLevels(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_stock err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, levels)
}

// RetryTransactionHandler handles POST /api/admin/transactions/{reference}/retry.
func (h *VoucherHandlers) RetryTransactionHandler(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	voucher, err := h.service.RetryFailedTransaction(r.Context(), reference)
	if err != nil {
		if errors.Is(err, app.ErrRetryNotAllowed) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeResolveError(w, reference, err)
		return
	}

	h.writeJSON(w, http.StatusOK, verifyResponse{Status: "success", Voucher: voucher})
}

// ReconcileHandler handles POST /api/admin/reconcile. The optional limit query
// parameter bounds how many stuck transactions one sweep touches.
func (h *VoucherHandlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	result, err := h.service.ReconcileStuckTransactions(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_reconcile err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// writeJSON is a helper for writing JSON responses.
func (h *VoucherHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *VoucherHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
