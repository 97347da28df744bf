/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL queries against the `transactions` and `voucher_cards`
 * tables, including the compare-and-swap status transition and the row-locked
 * claim-and-bind step that together enforce the one-voucher-per-payment guarantee.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/alltekse/voucher-service/internal/domain"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrVoucherNotFound     = errors.New("voucher card not found")
	ErrNoVoucherAvailable  = errors.New("no unused voucher card available")
	ErrDuplicateReference  = errors.New("payment reference already exists")
	ErrDuplicateSerial     = errors.New("voucher serial already exists")
)

const transactionColumns = `id, email, phone, exam_type, amount, paystack_reference, status, failure_reason, voucher_card_id, created_at, completed_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanTransaction(row pgx.Row, tx *domain.Transaction) error {
	return row.Scan(
		&tx.ID,
		&tx.Email,
		&tx.Phone,
		&tx.ExamType,
		&tx.AmountPesewas,
		&tx.PaystackReference,
		&tx.Status,
		&tx.FailureReason,
		&tx.VoucherCardID,
		&tx.CreatedAt,
		&tx.CompletedAt,
	)
}

// CreateTransaction inserts a new pending transaction record into the ledger.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, email, phone, exam_type, amount, paystack_reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		tx.ID,
		tx.Email,
		tx.Phone,
		tx.ExamType,
		tx.AmountPesewas,
		tx.PaystackReference,
		tx.Status,
	).Scan(&tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// FindTransactionByID retrieves a transaction by its internal UUID.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	var tx domain.Transaction
	if err := scanTransaction(r.db.QueryRow(ctx, query, transactionID), &tx); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByReference retrieves a transaction by its unique Paystack reference.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE paystack_reference = $1`
	var tx domain.Transaction
	if err := scanTransaction(r.db.QueryRow(ctx, query, reference), &tx); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// TransitionTransactionStatus atomically moves a transaction from fromStatus to
// toStatus. The WHERE clause on the current status makes this a compare-and-swap:
// when two resolutions race, exactly one observes RowsAffected == 1.
func (r *PostgresRepository) TransitionTransactionStatus(ctx context.Context, transactionID uuid.UUID, fromStatus, toStatus string) (bool, error) {
	query := `UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`
	result, err := r.db.Exec(ctx, query, toStatus, transactionID, fromStatus)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// MarkTransactionFailed moves a transaction to the terminal failed state with a
// reason. It deliberately refuses to downgrade a completed transaction.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, failureReason string) error {
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2
		WHERE id = $1 AND status <> 'completed'
	`
	result, err := r.db.Exec(ctx, query, transactionID, failureReason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// CountAvailableVouchers returns how many unused cards remain for an exam type.
// This backs the advisory stock pre-check; the real guarantee comes from the
// row lock inside ClaimVoucherForTransaction.
func (r *PostgresRepository) CountAvailableVouchers(ctx context.Context, examType string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM voucher_cards WHERE used = false AND exam_type = $1`
	if err := r.db.QueryRow(ctx, query, examType).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindVoucherByID retrieves a voucher card by its UUID.
func (r *PostgresRepository) FindVoucherByID(ctx context.Context, voucherID uuid.UUID) (*domain.VoucherCard, error) {
	query := `
		SELECT id, serial, pin, exam_type, used, purchaser_phone, purchaser_email, used_at
		FROM voucher_cards
		WHERE id = $1
	`
	var card domain.VoucherCard
	err := r.db.QueryRow(ctx, query, voucherID).Scan(
		&card.ID,
		&card.Serial,
		&card.PIN,
		&card.ExamType,
		&card.Used,
		&card.PurchaserPhone,
		&card.PurchaserEmail,
		&card.UsedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &card, nil
}

// InsertVoucherCards bulk-inserts pre-provisioned cards into the pool. All rows
// are inserted in one database transaction; a duplicate serial aborts the batch.
func (r *PostgresRepository) InsertVoucherCards(ctx context.Context, cards []domain.ProvisionVoucherCard) (int, error) {
	if len(cards) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO voucher_cards (id, serial, pin, exam_type, used)
		VALUES ($1, $2, $3, $4, false)
	`
	for _, card := range cards {
		if _, err := tx.Exec(ctx, query, uuid.New(), card.Serial, card.PIN, card.ExamType); err != nil {
			if isUniqueViolation(err) {
				return 0, ErrDuplicateSerial
			}
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(cards), nil
}

// ClaimVoucherForTransaction binds one unused voucher card to a transaction in
// a single all-or-nothing database transaction:
//
//  1. Lock one unused card of the matching exam type. FOR UPDATE SKIP LOCKED
//     lets concurrent claims for different transactions each take a different
//     row instead of queueing on the same one.
//  2. Mark the card used with the purchaser's contact details and used_at.
//  3. Complete the transaction bound to that card, guarded by the current
//     'processing' status so a card is never bound to a transaction that was
//     concurrently failed.
//
// If no card is found the transaction is left untouched and
// ErrNoVoucherAvailable is returned.
func (r *PostgresRepository) ClaimVoucherForTransaction(ctx context.Context, transactionID uuid.UUID, examType, phone string, email *string) (*domain.VoucherCard, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var card domain.VoucherCard
	selectQuery := `
		SELECT id, serial, pin, exam_type
		FROM voucher_cards
		WHERE used = false AND exam_type = $1
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	err = tx.QueryRow(ctx, selectQuery, examType).Scan(&card.ID, &card.Serial, &card.PIN, &card.ExamType)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoVoucherAvailable
		}
		return nil, fmt.Errorf("failed to select and lock voucher card: %w", err)
	}

	markUsedQuery := `
		UPDATE voucher_cards
		SET used = true, purchaser_phone = $2, purchaser_email = $3, used_at = NOW()
		WHERE id = $1 AND used = false
	`
	markResult, err := tx.Exec(ctx, markUsedQuery, card.ID, phone, email)
	if err != nil {
		return nil, fmt.Errorf("failed to mark voucher card used: %w", err)
	}
	if markResult.RowsAffected() == 0 {
		return nil, fmt.Errorf("voucher card %s changed underneath the claim lock", card.ID)
	}

	completeQuery := `
		UPDATE transactions
		SET status = 'completed', voucher_card_id = $2, failure_reason = NULL, completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	completeResult, err := tx.Exec(ctx, completeQuery, transactionID, card.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete transaction: %w", err)
	}
	if completeResult.RowsAffected() == 0 {
		return nil, fmt.Errorf("transaction %s is no longer processing; claim aborted", transactionID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	card.Used = true
	card.PurchaserPhone = &phone
	card.PurchaserEmail = email
	return &card, nil
}

// ListCompletedTransactionsBetween returns completed transactions created in
// [from, to), most recent first. Used by the phone+date voucher retrieval.
func (r *PostgresRepository) ListCompletedTransactionsBetween(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'completed' AND created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := scanTransaction(rows, &tx); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// ListStuckProcessingTransactions returns transactions that entered processing
// before the cutoff and never reached a terminal state, oldest first. These are
// the candidates for the out-of-band reconciliation sweep after a crash mid-flow.
func (r *PostgresRepository) ListStuckProcessingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := scanTransaction(rows, &tx); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}
