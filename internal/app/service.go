/**
 * @description
 * This file contains the core business logic for the voucher-service. The
 * `Service` struct orchestrates the purchase and reconciliation flow,
 * coordinating between the database repository, the Paystack API client, the
 * Redis rate limiter, and the message broker.
 *
 * Key features:
 * - Initializes purchases: validation, rate limiting, stock pre-check, pending
 *   transaction creation, Paystack charge initialization.
 * - Resolves paid transactions to vouchers with a compare-and-swap status gate
 *   so the verify-poll and webhook paths can race safely.
 * - Publishes voucher delivery events to RabbitMQ for asynchronous delivery.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/paystack, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alltekse/voucher-service/internal/domain"
	"github.com/alltekse/voucher-service/internal/store"
	"github.com/alltekse/voucher-service/pkg/paystack"
	"github.com/alltekse/voucher-service/pkg/rabbitmq"
)

var (
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidExamType = errors.New("invalid exam type")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidDate     = errors.New("invalid date, expected YYYY-MM-DD")

	// ErrOutOfStock is the pre-payment advisory failure: no unused voucher for
	// the exam type, so the buyer is turned away before any money moves.
	ErrOutOfStock = errors.New("vouchers for this exam are currently out of stock")

	// ErrVouchersExhaustedAfterPayment is the post-payment variant: the charge
	// succeeded but the pool emptied between the pre-check and the claim. The
	// buyer has paid and must contact support for a refund. Never conflated
	// with an ordinary payment failure.
	ErrVouchersExhaustedAfterPayment = errors.New("payment received but vouchers are exhausted, contact support")

	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrResolutionInProgress = errors.New("transaction is already being processed")
	ErrTransactionFailed    = errors.New("transaction has failed")
	ErrPaymentNotConfirmed  = errors.New("payment was not successful")
	ErrAmountMismatch       = errors.New("paid amount does not match voucher price")
	ErrRateLimited          = errors.New("too many purchase attempts, slow down")
	ErrRetryNotAllowed      = errors.New("only failed transactions can be retried")
	ErrNoVoucherFound       = errors.New("no voucher found for this phone and date")
)

const (
	purchaseRateLimitScope = "purchase_initialize"
	referencePrefix        = "TXN"
)

// ServiceOptions carries the tunables the reconciliation engine needs beyond
// its collaborators.
type ServiceOptions struct {
	// VoucherPricePesewas is the fixed price of one voucher in pesewas. The
	// amount Paystack reports for a confirmed charge must equal it exactly.
	VoucherPricePesewas int64
	// BaseURL is the public base URL of this service, used to build the
	// Paystack payment callback URL.
	BaseURL string
	// PlaceholderEmailDomain backs the gateway-only email synthesized when a
	// buyer gives no address. Never used for delivery.
	PlaceholderEmailDomain string
	// PurchaseRateLimitPerMinute caps initializations per phone per minute.
	// Zero disables the limiter.
	PurchaseRateLimitPerMinute int
	// StuckProcessingCutoff is how long a transaction may sit in processing
	// before the reconcile sweep considers it stuck.
	StuckProcessingCutoff time.Duration
}

// Service provides the core business logic for voucher sales.
type Service struct {
	repo           store.Repository
	paystackClient *paystack.Client
	eventProducer  rabbitmq.Publisher
	rateLimiter    *RedisPurchaseRateLimiter
	opts           ServiceOptions
}

// NewService creates a new voucher service instance. rateLimiter may be nil,
// in which case purchase initialization is not rate limited.
func NewService(repo store.Repository, paystackClient *paystack.Client, producer rabbitmq.Publisher, rateLimiter *RedisPurchaseRateLimiter, opts ServiceOptions) *Service {
	if opts.PlaceholderEmailDomain == "" {
		opts.PlaceholderEmailDomain = "vouchers.alltekse.com"
	}
	if opts.StuckProcessingCutoff <= 0 {
		opts.StuckProcessingCutoff = 15 * time.Minute
	}
	return &Service{
		repo:           repo,
		paystackClient: paystackClient,
		eventProducer:  producer,
		rateLimiter:    rateLimiter,
		opts:           opts,
	}
}

// generateReference builds a unique payment reference of the form
// TXN-<unix-millis>-<8 hex chars>.
func generateReference() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reference entropy: %w", err)
	}
	return fmt.Sprintf("%s-%d-%s", referencePrefix, time.Now().UnixMilli(), hex.EncodeToString(buf)), nil
}

// InitializePurchase validates a purchase request, records a pending
// transaction, and creates the Paystack charge the buyer will be redirected to.
// A gateway failure leaves the transaction pending; the buyer can simply retry.
func (s *Service) InitializePurchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseInitiation, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	if !domain.ValidExamType(req.ExamType) {
		return nil, ErrInvalidExamType
	}

	var email *string
	if trimmed := strings.TrimSpace(req.Email); trimmed != "" {
		if !strings.Contains(trimmed, "@") || strings.HasPrefix(trimmed, "@") || strings.HasSuffix(trimmed, "@") {
			return nil, ErrInvalidEmail
		}
		email = &trimmed
	}

	if s.rateLimiter != nil && s.opts.PurchaseRateLimitPerMinute > 0 {
		count, retryAfter, limitErr := s.rateLimiter.ConsumeRateLimit(ctx, purchaseRateLimitScope, phone, s.opts.PurchaseRateLimitPerMinute, time.Minute)
		if limitErr != nil {
			// The limiter is protective, not load-bearing. Let the purchase
			// proceed when Redis is down.
			log.Printf("level=warn component=reconciliation op=initialize msg=\"rate limiter unavailable\" err=%v", limitErr)
		} else if count > s.opts.PurchaseRateLimitPerMinute {
			log.Printf("level=info component=reconciliation op=initialize msg=\"rate limited\" phone=%s retry_after=%d", phone, retryAfter)
			return nil, ErrRateLimited
		}
	}

	// Advisory pre-check so buyers are turned away before paying when the
	// pool is empty. The claim step re-checks under a row lock.
	available, err := s.repo.CountAvailableVouchers(ctx, req.ExamType)
	if err != nil {
		return nil, fmt.Errorf("failed to check voucher stock: %w", err)
	}
	if available == 0 {
		return nil, ErrOutOfStock
	}

	reference, err := generateReference()
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:                uuid.New(),
		Email:             email,
		Phone:             phone,
		ExamType:          req.ExamType,
		AmountPesewas:     s.opts.VoucherPricePesewas,
		PaystackReference: reference,
		Status:            domain.TxStatusPending,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	gatewayEmail := fmt.Sprintf("%s@%s", phone, s.opts.PlaceholderEmailDomain)
	if email != nil {
		gatewayEmail = *email
	}

	initResp, err := s.paystackClient.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       gatewayEmail,
		Amount:      s.opts.VoucherPricePesewas,
		Currency:    "GHS",
		Reference:   reference,
		CallbackURL: strings.TrimSuffix(s.opts.BaseURL, "/") + "/payment-callback?reference=" + reference,
		Metadata: map[string]string{
			"phone":     phone,
			"exam_type": req.ExamType,
		},
	})
	if err != nil {
		// Transaction stays pending; a fresh initialize attempt creates a new
		// reference and this one simply never confirms.
		log.Printf("level=warn component=reconciliation op=initialize reference=%s msg=\"paystack initialize failed\" err=%v", reference, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	log.Printf("level=info component=reconciliation op=initialize reference=%s exam_type=%s msg=\"purchase initialized\"", reference, req.ExamType)
	return &domain.PurchaseInitiation{
		AuthorizationURL: initResp.Data.AuthorizationURL,
		Reference:        reference,
		TransactionID:    tx.ID,
	}, nil
}

// ResolveTransaction drives a transaction from pending to a terminal state.
// It is the shared core behind the verify-poll endpoint and the webhook: both
// may invoke it concurrently for the same reference, and the pending ->
// processing compare-and-swap guarantees only one of them proceeds to claim a
// voucher.
//
// Terminal behaviors by current status:
//   - completed: returns the already-bound voucher (idempotent).
//   - processing: returns ErrResolutionInProgress.
//   - failed: returns ErrTransactionFailed; only the explicit admin retry
//     reopens a failed transaction.
//   - pending: verifies the charge and performs the claim.
func (s *Service) ResolveTransaction(ctx context.Context, reference string, source domain.ResolutionSource) (*domain.VoucherResult, error) {
	tx, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch tx.Status {
	case domain.TxStatusCompleted:
		return s.completedResult(ctx, tx)
	case domain.TxStatusProcessing:
		return nil, ErrResolutionInProgress
	case domain.TxStatusFailed:
		reason := ""
		if tx.FailureReason != nil {
			reason = *tx.FailureReason
		}
		return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, reason)
	case domain.TxStatusPending:
		// fall through to the claim path below
	default:
		return nil, fmt.Errorf("transaction %s has unknown status %q", tx.ID, tx.Status)
	}

	moved, err := s.repo.TransitionTransactionStatus(ctx, tx.ID, domain.TxStatusPending, domain.TxStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to transition transaction to processing: %w", err)
	}
	if !moved {
		// Lost the race. The winner either completed the transaction already
		// or still holds it in processing.
		current, findErr := s.repo.FindTransactionByID(ctx, tx.ID)
		if findErr == nil && current.Status == domain.TxStatusCompleted {
			return s.completedResult(ctx, current)
		}
		return nil, ErrResolutionInProgress
	}

	log.Printf("level=info component=reconciliation op=resolve reference=%s source=%s msg=\"entered processing\"", reference, source)
	return s.settleProcessing(ctx, tx)
}

// settleProcessing verifies the charge for a transaction already in processing
// and finishes it: completed with a voucher bound, or failed with a reason.
// A gateway communication failure leaves the transaction in processing so the
// stuck-transaction sweep can pick it up later.
func (s *Service) settleProcessing(ctx context.Context, tx *domain.Transaction) (*domain.VoucherResult, error) {
	verifyResp, err := s.paystackClient.VerifyTransaction(ctx, tx.PaystackReference)
	if err != nil {
		log.Printf("level=warn component=reconciliation op=resolve reference=%s msg=\"paystack verify failed\" err=%v", tx.PaystackReference, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if verifyResp.Data.Status != "success" {
		reason := fmt.Sprintf("payment not successful: %s", verifyResp.Data.Status)
		if err := s.repo.MarkTransactionFailed(ctx, tx.ID, reason); err != nil {
			log.Printf("level=error component=reconciliation op=resolve reference=%s msg=\"failed to mark transaction failed\" err=%v", tx.PaystackReference, err)
		}
		return nil, fmt.Errorf("%w: charge status %q", ErrPaymentNotConfirmed, verifyResp.Data.Status)
	}

	if verifyResp.Data.Amount != tx.AmountPesewas {
		reason := fmt.Sprintf("amount mismatch: expected %d, gateway reported %d", tx.AmountPesewas, verifyResp.Data.Amount)
		if err := s.repo.MarkTransactionFailed(ctx, tx.ID, reason); err != nil {
			log.Printf("level=error component=reconciliation op=resolve reference=%s msg=\"failed to mark transaction failed\" err=%v", tx.PaystackReference, err)
		}
		log.Printf("level=warn component=reconciliation op=resolve reference=%s expected=%d reported=%d msg=\"amount mismatch\"", tx.PaystackReference, tx.AmountPesewas, verifyResp.Data.Amount)
		return nil, ErrAmountMismatch
	}

	card, err := s.repo.ClaimVoucherForTransaction(ctx, tx.ID, tx.ExamType, tx.Phone, tx.Email)
	if err != nil {
		if errors.Is(err, store.ErrNoVoucherAvailable) {
			if markErr := s.repo.MarkTransactionFailed(ctx, tx.ID, "vouchers exhausted after payment"); markErr != nil {
				log.Printf("level=error component=reconciliation op=resolve reference=%s msg=\"failed to mark transaction failed\" err=%v", tx.PaystackReference, markErr)
			}
			log.Printf("level=error component=reconciliation op=resolve reference=%s msg=\"pool exhausted after successful payment\"", tx.PaystackReference)
			return nil, ErrVouchersExhaustedAfterPayment
		}
		if markErr := s.repo.MarkTransactionFailed(ctx, tx.ID, "voucher claim failed"); markErr != nil {
			log.Printf("level=error component=reconciliation op=resolve reference=%s msg=\"failed to mark transaction failed\" err=%v", tx.PaystackReference, markErr)
		}
		return nil, fmt.Errorf("failed to claim voucher: %w", err)
	}

	log.Printf("level=info component=reconciliation op=resolve reference=%s voucher_id=%s msg=\"voucher claimed\"", tx.PaystackReference, card.ID)
	s.dispatchDelivery(ctx, tx, card)

	return &domain.VoucherResult{
		Serial:   card.Serial,
		PIN:      card.PIN,
		ExamType: card.ExamType,
	}, nil
}

// completedResult returns the voucher already bound to a completed
// transaction. Re-resolving a completed transaction always yields the same
// serial/PIN pair and changes nothing.
func (s *Service) completedResult(ctx context.Context, tx *domain.Transaction) (*domain.VoucherResult, error) {
	if tx.VoucherCardID == nil {
		return nil, fmt.Errorf("completed transaction %s has no voucher bound", tx.ID)
	}
	card, err := s.repo.FindVoucherByID(ctx, *tx.VoucherCardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bound voucher: %w", err)
	}
	return &domain.VoucherResult{
		Serial:   card.Serial,
		PIN:      card.PIN,
		ExamType: card.ExamType,
	}, nil
}

// dispatchDelivery publishes the voucher delivery events consumed by the
// delivery worker. Delivery is best-effort: publish errors are logged and the
// completed claim is never unwound.
func (s *Service) dispatchDelivery(ctx context.Context, tx *domain.Transaction, card *domain.VoucherCard) {
	if s.eventProducer == nil {
		return
	}

	event := domain.VoucherDeliveryEvent{
		Reference: tx.PaystackReference,
		Serial:    card.Serial,
		PIN:       card.PIN,
		ExamType:  card.ExamType,
		Phone:     tx.Phone,
		Timestamp: time.Now().UTC(),
	}
	if tx.Email != nil {
		event.Email = *tx.Email
	}

	if err := s.eventProducer.Publish(ctx, rabbitmq.VoucherExchange, rabbitmq.RoutingKeyDeliverySMS, event); err != nil {
		log.Printf("level=warn component=reconciliation op=dispatch reference=%s routing_key=%s msg=\"publish failed\" err=%v", tx.PaystackReference, rabbitmq.RoutingKeyDeliverySMS, err)
	}
	if event.Email != "" {
		if err := s.eventProducer.Publish(ctx, rabbitmq.VoucherExchange, rabbitmq.RoutingKeyDeliveryEmail, event); err != nil {
			log.Printf("level=warn component=reconciliation op=dispatch reference=%s routing_key=%s msg=\"publish failed\" err=%v", tx.PaystackReference, rabbitmq.RoutingKeyDeliveryEmail, err)
		}
	}
}

// RetryFailedTransaction reopens a failed transaction and runs the settle path
// again. This is the only route out of the failed state and is exposed on the
// admin surface only, typically after a refunded buyer pays again out of band
// or a transient gateway fault was confirmed fixed.
func (s *Service) RetryFailedTransaction(ctx context.Context, reference string) (*domain.VoucherResult, error) {
	tx, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.Status == domain.TxStatusCompleted {
		return s.completedResult(ctx, tx)
	}
	if tx.Status != domain.TxStatusFailed {
		return nil, fmt.Errorf("%w: status is %q", ErrRetryNotAllowed, tx.Status)
	}

	moved, err := s.repo.TransitionTransactionStatus(ctx, tx.ID, domain.TxStatusFailed, domain.TxStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to transition transaction to processing: %w", err)
	}
	if !moved {
		return nil, ErrResolutionInProgress
	}

	log.Printf("level=info component=reconciliation op=retry reference=%s msg=\"failed transaction reopened\"", reference)
	return s.settleProcessing(ctx, tx)
}

// ReconcileStuckTransactions sweeps transactions that entered processing
// before the configured cutoff and never reached a terminal state, which
// happens when the service crashes between the status transition and the
// claim. Each one is re-verified and settled. Gateway communication failures
// skip the transaction for a later sweep.
func (s *Service) ReconcileStuckTransactions(ctx context.Context, limit int) (*domain.ReconcileSweepResult, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().Add(-s.opts.StuckProcessingCutoff)

	stuck, err := s.repo.ListStuckProcessingTransactions(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck transactions: %w", err)
	}

	result := &domain.ReconcileSweepResult{Scanned: len(stuck)}
	for i := range stuck {
		tx := stuck[i]
		_, settleErr := s.settleProcessing(ctx, &tx)
		switch {
		case settleErr == nil:
			result.Completed++
		case errors.Is(settleErr, ErrGatewayUnavailable):
			result.Skipped++
		default:
			result.Failed++
		}
	}

	log.Printf("level=info component=reconciliation op=sweep scanned=%d completed=%d failed=%d skipped=%d", result.Scanned, result.Completed, result.Failed, result.Skipped)
	return result, nil
}

// RetrieveVoucher looks up the voucher bound to a completed purchase by the
// buyer's phone number and purchase date (YYYY-MM-DD, UTC). When several
// purchases match, the most recent one wins. Read-only.
func (s *Service) RetrieveVoucher(ctx context.Context, rawPhone, rawDate string) (*domain.VoucherResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	day, err := time.Parse("2006-01-02", strings.TrimSpace(rawDate))
	if err != nil {
		return nil, ErrInvalidDate
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	transactions, err := s.repo.ListCompletedTransactionsBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed transactions: %w", err)
	}

	// Results are ordered most recent first, so the first phone match is the
	// tie-break winner.
	for i := range transactions {
		tx := transactions[i]
		if tx.Phone != phone || tx.VoucherCardID == nil {
			continue
		}
		card, err := s.repo.FindVoucherByID(ctx, *tx.VoucherCardID)
		if err != nil {
			return nil, fmt.Errorf("failed to load bound voucher: %w", err)
		}
		return &domain.VoucherResult{
			Serial:   card.Serial,
			PIN:      card.PIN,
			ExamType: card.ExamType,
		}, nil
	}

	return nil, ErrNoVoucherFound
}

// ProvisionVouchers bulk-loads new serial/PIN pairs into the pool. Admin only.
func (s *Service) ProvisionVouchers(ctx context.Context, cards []domain.ProvisionVoucherCard) (int, error) {
	if len(cards) == 0 {
		return 0, errors.New("no voucher cards provided")
	}
	for _, card := range cards {
		if strings.TrimSpace(card.Serial) == "" || strings.TrimSpace(card.PIN) == "" {
			return 0, errors.New("voucher cards require both serial and pin")
		}
		if !domain.ValidExamType(card.ExamType) {
			return 0, ErrInvalidExamType
		}
	}

	inserted, err := s.repo.InsertVoucherCards(ctx, cards)
	if err != nil {
		return 0, fmt.Errorf("failed to insert voucher cards: %w", err)
	}
	log.Printf("level=info component=reconciliation op=provision count=%d msg=\"voucher cards provisioned\"", inserted)
	return inserted, nil
}

// StockLevels reports the remaining unused cards per exam type. Admin only.
func (s *Service) StockLevels(ctx context.Context) ([]domain.StockLevel, error) {
	levels := make([]domain.StockLevel, 0, 2)
	for _, examType := range []string{domain.ExamTypeBECE, domain.ExamTypeWASSCE} {
		available, err := s.repo.CountAvailableVouchers(ctx, examType)
		if err != nil {
			return nil, fmt.Errorf("failed to count vouchers for %s: %w", examType, err)
		}
		levels = append(levels, domain.StockLevel{ExamType: examType, Available: available})
	}
	return levels, nil
}
