package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/alltekse/voucher-service/internal/app"
	"github.com/alltekse/voucher-service/internal/domain"
	"github.com/alltekse/voucher-service/internal/store"
	"github.com/alltekse/voucher-service/pkg/paystack"
)

const testWebhookSecret = "sk_test_webhook_secret"

type webhookRepoStub struct {
	store.Repository

	tx      *domain.Transaction
	voucher *domain.VoucherCard

	lookups int
}

func (s *webhookRepoStub) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	s.lookups++
	if s.tx == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.tx, nil
}

func (s *webhookRepoStub) FindVoucherByID(ctx context.Context, voucherID uuid.UUID) (*domain.VoucherCard, error) {
	if s.voucher == nil {
		return nil, store.ErrVoucherNotFound
	}
	return s.voucher, nil
}

func newWebhookHandlers(repo store.Repository) *VoucherHandlers {
	svc := app.NewService(repo, paystack.NewClient("http://paystack.invalid", "sk"), nil, nil, app.ServiceOptions{VoucherPricePesewas: 2000})
	return NewVoucherHandlers(svc, testWebhookSecret)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h *VoucherHandlers, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/paystack", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("x-paystack-signature", signature)
	}
	rec := httptest.NewRecorder()
	h.PaystackWebhookHandler(rec, req)
	return rec
}

func completedWebhookRepo() *webhookRepoStub {
	voucherID := uuid.New()
	return &webhookRepoStub{
		tx: &domain.Transaction{
			ID:                uuid.New(),
			Status:            domain.TxStatusCompleted,
			PaystackReference: "TXN-wh-1",
			VoucherCardID:     &voucherID,
		},
		voucher: &domain.VoucherCard{ID: voucherID, Serial: "WSC100", PIN: "100100", ExamType: domain.ExamTypeWASSCE},
	}
}

func TestWebhook_ValidSignatureAcknowledged(t *testing.T) {
	repo := completedWebhookRepo()
	h := newWebhookHandlers(repo)

	body := []byte(`{"event":"charge.success","data":{"reference":"TXN-wh-1","status":"success","amount":2000}}`)
	rec := postWebhook(t, h, body, signBody(testWebhookSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.lookups == 0 {
		t.Fatal("expected the event to reach the reconciliation engine")
	}
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	repo := completedWebhookRepo()
	h := newWebhookHandlers(repo)

	body := []byte(`{"event":"charge.success","data":{"reference":"TXN-wh-1"}}`)
	rec := postWebhook(t, h, body, signBody("wrong-secret", body))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if repo.lookups != 0 {
		t.Fatal("an unauthenticated event must never reach the reconciliation engine")
	}
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	h := newWebhookHandlers(completedWebhookRepo())

	body := []byte(`{"event":"charge.success","data":{"reference":"TXN-wh-1"}}`)
	rec := postWebhook(t, h, body, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	h := newWebhookHandlers(completedWebhookRepo())

	original := []byte(`{"event":"charge.success","data":{"reference":"TXN-wh-1"}}`)
	tampered := []byte(`{"event":"charge.success","data":{"reference":"TXN-wh-9"}}`)
	rec := postWebhook(t, h, tampered, signBody(testWebhookSecret, original))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_MalformedPayloadRejected(t *testing.T) {
	h := newWebhookHandlers(completedWebhookRepo())

	body := []byte(`{"event": "charge.success",`)
	rec := postWebhook(t, h, body, signBody(testWebhookSecret, body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhook_UnrelatedEventIgnored(t *testing.T) {
	repo := completedWebhookRepo()
	h := newWebhookHandlers(repo)

	body := []byte(`{"event":"transfer.success","data":{"reference":"TXN-wh-1"}}`)
	rec := postWebhook(t, h, body, signBody(testWebhookSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ignored") {
		t.Fatalf("expected an ignored acknowledgement, got %s", rec.Body.String())
	}
	if repo.lookups != 0 {
		t.Fatal("non-charge events must not trigger resolution")
	}
}

func TestWebhook_FailedResolutionStillAcknowledged(t *testing.T) {
	// Unknown reference: the resolution errors, but Paystack still gets a 200
	// so it does not retry-storm a transaction that cannot succeed.
	repo := &webhookRepoStub{}
	h := newWebhookHandlers(repo)

	body := []byte(`{"event":"charge.success","data":{"reference":"TXN-unknown"}}`)
	rec := postWebhook(t, h, body, signBody(testWebhookSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
