/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the voucher-service. By defining an interface,
 * we decouple the reconciliation logic from the specific database implementation
 * (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/alltekse/voucher-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Transaction ledger methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)

	// TransitionTransactionStatus performs a conditional status update that
	// succeeds only when the transaction currently holds fromStatus. It is the
	// sole concurrency gate preventing the poll and webhook paths from both
	// proceeding to claim a voucher for the same transaction.
	TransitionTransactionStatus(ctx context.Context, transactionID uuid.UUID, fromStatus, toStatus string) (bool, error)
	MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, failureReason string) error

	// Voucher pool methods
	CountAvailableVouchers(ctx context.Context, examType string) (int, error)
	FindVoucherByID(ctx context.Context, voucherID uuid.UUID) (*domain.VoucherCard, error)
	InsertVoucherCards(ctx context.Context, cards []domain.ProvisionVoucherCard) (int, error)

	// ClaimVoucherForTransaction is the claim-and-bind step: within one database
	// transaction it locks one unused card of the matching exam type, marks it
	// used with the purchaser's contact details, and completes the transaction
	// bound to that card. Returns ErrNoVoucherAvailable when the pool for the
	// exam type is exhausted; in that case the transaction is left untouched and
	// the caller decides the failure handling.
	ClaimVoucherForTransaction(ctx context.Context, transactionID uuid.UUID, examType, phone string, email *string) (*domain.VoucherCard, error)

	// Retrieval and reconciliation methods
	ListCompletedTransactionsBetween(ctx context.Context, from, to time.Time) ([]domain.Transaction, error)
	ListStuckProcessingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
}
