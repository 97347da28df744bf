package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alltekse/voucher-service/internal/domain"
)

func TestRetryFailedTransaction_OnlyFailedIsEligible(t *testing.T) {
	for _, status := range []string{domain.TxStatusPending, domain.TxStatusProcessing} {
		repo := &resolveRepoStub{
			tx: &domain.Transaction{ID: uuid.New(), Status: status, PaystackReference: "TXN-r-1"},
		}
		svc := newTestService(repo, "http://paystack.invalid", nil)

		_, err := svc.RetryFailedTransaction(context.Background(), "TXN-r-1")
		if !errors.Is(err, ErrRetryNotAllowed) {
			t.Fatalf("status %q: expected ErrRetryNotAllowed, got %v", status, err)
		}
		if repo.transitionCalled {
			t.Fatalf("status %q: retry must not transition a non-failed transaction", status)
		}
	}
}

func TestRetryFailedTransaction_CompletedReturnsBoundVoucher(t *testing.T) {
	voucherID := uuid.New()
	repo := &resolveRepoStub{
		tx: &domain.Transaction{
			ID:                uuid.New(),
			Status:            domain.TxStatusCompleted,
			PaystackReference: "TXN-r-2",
			VoucherCardID:     &voucherID,
		},
		voucher: &domain.VoucherCard{ID: voucherID, Serial: "WSC500", PIN: "500500", ExamType: domain.ExamTypeWASSCE},
	}
	svc := newTestService(repo, "http://paystack.invalid", nil)

	result, err := svc.RetryFailedTransaction(context.Background(), "TXN-r-2")
	if err != nil {
		t.Fatalf("expected idempotent result, got %v", err)
	}
	if result.Serial != "WSC500" {
		t.Fatalf("unexpected voucher %+v", result)
	}
}

func TestRetryFailedTransaction_ReopensAndSettles(t *testing.T) {
	reason := "payment not successful: abandoned"
	repo := &resolveRepoStub{
		tx: &domain.Transaction{
			ID:                uuid.New(),
			Status:            domain.TxStatusFailed,
			FailureReason:     &reason,
			Phone:             "233599188713",
			ExamType:          domain.ExamTypeWASSCE,
			AmountPesewas:     2000,
			PaystackReference: "TXN-r-3",
		},
		voucher:      &domain.VoucherCard{ID: uuid.New(), Serial: "WSC600", PIN: "600600", ExamType: domain.ExamTypeWASSCE},
		transitionOK: true,
	}
	server := newVerifyServer(t, "success", 2000)
	svc := newTestService(repo, server.URL, nil)

	result, err := svc.RetryFailedTransaction(context.Background(), "TXN-r-3")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Serial != "WSC600" {
		t.Fatalf("unexpected voucher %+v", result)
	}
	if repo.transitionFrom != domain.TxStatusFailed || repo.transitionTo != domain.TxStatusProcessing {
		t.Fatalf("expected failed->processing transition, got %s->%s", repo.transitionFrom, repo.transitionTo)
	}
}

func TestRetryFailedTransaction_LostGateConflicts(t *testing.T) {
	repo := &resolveRepoStub{
		tx: &domain.Transaction{ID: uuid.New(), Status: domain.TxStatusFailed, PaystackReference: "TXN-r-4"},
		// Another retry got there first.
		transitionOK: false,
	}
	svc := newTestService(repo, "http://paystack.invalid", nil)

	_, err := svc.RetryFailedTransaction(context.Background(), "TXN-r-4")
	if !errors.Is(err, ErrResolutionInProgress) {
		t.Fatalf("expected ErrResolutionInProgress, got %v", err)
	}
}

type sweepRepoStub struct {
	resolveRepoStub

	stuck     []domain.Transaction
	gotCutoff time.Time
	gotLimit  int
}

func (s *sweepRepoStub) ListStuckProcessingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	s.gotCutoff = cutoff
	s.gotLimit = limit
	return s.stuck, nil
}

func TestReconcileStuckTransactions_SettlesStuckProcessing(t *testing.T) {
	stuck := domain.Transaction{
		ID:                uuid.New(),
		Status:            domain.TxStatusProcessing,
		Phone:             "233599188713",
		ExamType:          domain.ExamTypeBECE,
		AmountPesewas:     2000,
		PaystackReference: "TXN-s-1",
		CreatedAt:         time.Now().Add(-time.Hour),
	}
	repo := &sweepRepoStub{stuck: []domain.Transaction{stuck}}
	repo.voucher = &domain.VoucherCard{ID: uuid.New(), Serial: "BEC900", PIN: "900900", ExamType: domain.ExamTypeBECE}
	server := newVerifyServer(t, "success", 2000)
	svc := newTestService(repo, server.URL, nil)

	result, err := svc.ReconcileStuckTransactions(context.Background(), 25)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Scanned != 1 || result.Completed != 1 || result.Failed != 0 || result.Skipped != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if repo.gotLimit != 25 {
		t.Fatalf("expected limit 25, got %d", repo.gotLimit)
	}
	if !repo.claimCalled {
		t.Fatal("expected the sweep to finish the claim")
	}
}

func TestReconcileStuckTransactions_FailsUnconfirmedCharges(t *testing.T) {
	repo := &sweepRepoStub{stuck: []domain.Transaction{
		{ID: uuid.New(), Status: domain.TxStatusProcessing, AmountPesewas: 2000, PaystackReference: "TXN-s-2"},
	}}
	server := newVerifyServer(t, "abandoned", 2000)
	svc := newTestService(repo, server.URL, nil)

	result, err := svc.ReconcileStuckTransactions(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Failed != 1 || result.Completed != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if !repo.markFailedCalled {
		t.Fatal("expected the stuck transaction to be failed")
	}
	// The zero limit falls back to a bounded default.
	if repo.gotLimit != 50 {
		t.Fatalf("expected default limit 50, got %d", repo.gotLimit)
	}
}

func TestReconcileStuckTransactions_SkipsOnGatewayOutage(t *testing.T) {
	repo := &sweepRepoStub{stuck: []domain.Transaction{
		{ID: uuid.New(), Status: domain.TxStatusProcessing, AmountPesewas: 2000, PaystackReference: "TXN-s-3"},
	}}
	svc := newTestService(repo, "http://127.0.0.1:1", nil)

	result, err := svc.ReconcileStuckTransactions(context.Background(), 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Skipped != 1 || result.Failed != 0 || result.Completed != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if repo.markFailedCalled {
		t.Fatal("a gateway outage must not fail stuck transactions")
	}
}

func TestReconcileStuckTransactions_EmptySweep(t *testing.T) {
	repo := &sweepRepoStub{}
	svc := newTestService(repo, "http://paystack.invalid", nil)

	result, err := svc.ReconcileStuckTransactions(context.Background(), 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Scanned != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
}
