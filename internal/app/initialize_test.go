package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/alltekse/voucher-service/internal/domain"
	"github.com/alltekse/voucher-service/internal/store"
)

type initializeRepoStub struct {
	store.Repository

	available int
	countErr  error

	created *domain.Transaction
}

func (s *initializeRepoStub) CountAvailableVouchers(ctx context.Context, examType string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.available, nil
}

func (s *initializeRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.created = tx
	return nil
}

// newInitializeServer captures the initialize request Paystack receives and
// answers with a checkout URL.
func newInitializeServer(t *testing.T, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			body := map[string]interface{}{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode initialize request: %v", err)
			}
			*captured = body
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc123","access_code":"abc123","reference":"ignored"}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestInitializePurchase_Validation(t *testing.T) {
	repo := &initializeRepoStub{available: 5}
	svc := newTestService(repo, "http://paystack.invalid", nil)

	tests := []struct {
		name    string
		req     domain.PurchaseRequest
		wantErr error
	}{
		{
			name:    "phone too short",
			req:     domain.PurchaseRequest{Phone: "05991", ExamType: domain.ExamTypeBECE},
			wantErr: ErrInvalidPhone,
		},
		{
			name:    "unknown exam type",
			req:     domain.PurchaseRequest{Phone: "0599188713", ExamType: "NOVDEC"},
			wantErr: ErrInvalidExamType,
		},
		{
			name:    "email without at sign",
			req:     domain.PurchaseRequest{Phone: "0599188713", ExamType: domain.ExamTypeBECE, Email: "not-an-email"},
			wantErr: ErrInvalidEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.InitializePurchase(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if repo.created != nil {
				t.Fatal("validation failures must not create transactions")
			}
		})
	}
}

func TestInitializePurchase_OutOfStockBeforePayment(t *testing.T) {
	repo := &initializeRepoStub{available: 0}
	svc := newTestService(repo, "http://paystack.invalid", nil)

	_, err := svc.InitializePurchase(context.Background(), domain.PurchaseRequest{
		Phone:    "0599188713",
		ExamType: domain.ExamTypeBECE,
	})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if errors.Is(err, ErrVouchersExhaustedAfterPayment) {
		t.Fatal("pre-payment stock failure must not look like post-payment exhaustion")
	}
	if repo.created != nil {
		t.Fatal("out-of-stock must reject before creating a transaction")
	}
}

func TestInitializePurchase_Success(t *testing.T) {
	repo := &initializeRepoStub{available: 3}
	captured := map[string]interface{}{}
	server := newInitializeServer(t, &captured)
	svc := newTestService(repo, server.URL, nil)

	email := "buyer@example.com"
	initiation, err := svc.InitializePurchase(context.Background(), domain.PurchaseRequest{
		Phone:    "0599188713",
		ExamType: domain.ExamTypeWASSCE,
		Email:    email,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if initiation.AuthorizationURL != "https://checkout.paystack.com/abc123" {
		t.Fatalf("unexpected authorization url %q", initiation.AuthorizationURL)
	}
	if !strings.HasPrefix(initiation.Reference, "TXN-") {
		t.Fatalf("expected TXN-prefixed reference, got %q", initiation.Reference)
	}
	if initiation.TransactionID == uuid.Nil {
		t.Fatal("expected a transaction id")
	}

	if repo.created == nil {
		t.Fatal("expected a pending transaction to be created")
	}
	if repo.created.Status != domain.TxStatusPending {
		t.Fatalf("expected pending status, got %q", repo.created.Status)
	}
	if repo.created.Phone != "233599188713" {
		t.Fatalf("expected normalized phone, got %q", repo.created.Phone)
	}
	if repo.created.AmountPesewas != 2000 {
		t.Fatalf("expected fixed price 2000 pesewas, got %d", repo.created.AmountPesewas)
	}
	if repo.created.Email == nil || *repo.created.Email != email {
		t.Fatalf("expected buyer email to be recorded, got %v", repo.created.Email)
	}
	if repo.created.PaystackReference != initiation.Reference {
		t.Fatal("persisted and returned references must match")
	}

	// The gateway is charged in the smallest unit with the buyer's email.
	if got := captured["amount"].(float64); int64(got) != 2000 {
		t.Fatalf("expected gateway amount 2000, got %v", captured["amount"])
	}
	if captured["email"] != email {
		t.Fatalf("expected buyer email at gateway, got %v", captured["email"])
	}
	if !strings.Contains(captured["callback_url"].(string), "reference="+initiation.Reference) {
		t.Fatalf("expected callback url to carry the reference, got %v", captured["callback_url"])
	}
}

func TestInitializePurchase_NoEmailUsesGatewayPlaceholder(t *testing.T) {
	repo := &initializeRepoStub{available: 3}
	captured := map[string]interface{}{}
	server := newInitializeServer(t, &captured)
	svc := newTestService(repo, server.URL, nil)

	_, err := svc.InitializePurchase(context.Background(), domain.PurchaseRequest{
		Phone:    "0599188713",
		ExamType: domain.ExamTypeBECE,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if repo.created.Email != nil {
		t.Fatal("placeholder email must never be stored on the transaction")
	}
	if captured["email"] != "233599188713@vouchers.alltekse.com" {
		t.Fatalf("expected synthesized gateway email, got %v", captured["email"])
	}
}

func TestInitializePurchase_GatewayFailureLeavesPending(t *testing.T) {
	repo := &initializeRepoStub{available: 3}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"status":false,"message":"gateway timeout"}`))
	}))
	t.Cleanup(server.Close)
	svc := newTestService(repo, server.URL, nil)

	_, err := svc.InitializePurchase(context.Background(), domain.PurchaseRequest{
		Phone:    "0599188713",
		ExamType: domain.ExamTypeBECE,
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if repo.created == nil {
		t.Fatal("the pending transaction should exist before the gateway call")
	}
	if repo.created.Status != domain.TxStatusPending {
		t.Fatalf("gateway failure must leave the transaction pending, got %q", repo.created.Status)
	}
}
