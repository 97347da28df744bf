package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/alltekse/voucher-service/internal/domain"
)

// paystackWebhookPayload is the subset of the Paystack event envelope the
// service cares about.
type paystackWebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// PaystackWebhookHandler handles POST /api/webhook/paystack.
//
// The signature is an HMAC-SHA512 of the raw request body keyed with the
// Paystack secret, hex encoded in the x-paystack-signature header. Validation
// happens over the exact bytes received, before any JSON parsing. Once an
// event is authenticated and parsed, the handler always acknowledges with 200
// regardless of the resolution outcome; Paystack retries non-2xx responses
// and a retry storm cannot fix a failed transaction anyway.
func (h *VoucherHandlers) PaystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("x-paystack-signature")
	if !validPaystackSignature(h.webhookSecret, body, signature) {
		log.Printf("level=warn component=api endpoint=webhook msg=\"invalid webhook signature\"")
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload paystackWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	if payload.Event != "charge.success" {
		log.Printf("level=info component=api endpoint=webhook event=%s msg=\"ignoring event\"", payload.Event)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if payload.Data.Reference == "" {
		h.writeError(w, http.StatusBadRequest, "event has no reference")
		return
	}

	// Detach from the request context so a client-side disconnect cannot
	// abort the resolution mid-claim.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := h.service.ResolveTransaction(ctx, payload.Data.Reference, domain.ResolutionSourceWebhook); err != nil {
		// Acknowledged regardless. Terminal failures are final and
		// in-progress conflicts mean the poll path is already on it.
		log.Printf("level=warn component=api endpoint=webhook reference=%s msg=\"resolution did not complete\" err=%v", payload.Data.Reference, err)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// validPaystackSignature reports whether signature is the hex HMAC-SHA512 of
// body under secret. Comparison is constant time.
func validPaystackSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
