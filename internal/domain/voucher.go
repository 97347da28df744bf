/**
 * @description
 * This file defines the core domain models for the voucher-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (pesewas) to avoid
 *   floating-point inaccuracies. The same unit is used when validating the amount
 *   Paystack reports for a confirmed charge.
 * - A VoucherCard is immutable once claimed: `used` flips to true exactly once,
 *   together with the purchaser fields and `used_at`.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Exam types a voucher card can satisfy. A purchase for one exam type can only
// ever be bound to a card provisioned for that same type.
const (
	ExamTypeBECE   = "BECE"
	ExamTypeWASSCE = "WASSCE"
)

// Transaction statuses. Transitions are monotonic:
// pending -> processing -> completed | failed. A completed transaction is never
// mutated again; a failed one may only re-enter processing through the explicit
// admin retry operation.
const (
	TxStatusPending    = "pending"
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusFailed     = "failed"
)

// ValidExamType reports whether s is one of the enumerated exam types.
func ValidExamType(s string) bool {
	return s == ExamTypeBECE || s == ExamTypeWASSCE
}

// VoucherCard represents one pre-provisioned serial/PIN pair in the voucher pool.
// Maps directly to the `voucher_cards` table.
type VoucherCard struct {
	ID             uuid.UUID  `json:"id"`
	Serial         string     `json:"serial"`
	PIN            string     `json:"pin"`
	ExamType       string     `json:"exam_type"`
	Used           bool       `json:"used"`
	PurchaserPhone *string    `json:"purchaser_phone,omitempty"`
	PurchaserEmail *string    `json:"purchaser_email,omitempty"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
}

// Transaction represents one purchase attempt in the ledger. Maps directly to
// the `transactions` table and doubles as the audit trail for retrieval.
type Transaction struct {
	ID                uuid.UUID  `json:"id"`
	Email             *string    `json:"email,omitempty"`
	Phone             string     `json:"phone"`
	ExamType          string     `json:"exam_type"`
	AmountPesewas     int64      `json:"amount"` // in pesewas
	PaystackReference string     `json:"paystack_reference"`
	Status            string     `json:"status"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	VoucherCardID     *uuid.UUID `json:"voucher_card_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// PurchaseRequest is the DTO for incoming purchase initialization API requests.
type PurchaseRequest struct {
	Phone    string `json:"phone"`
	ExamType string `json:"exam_type"`
	Email    string `json:"email,omitempty"`
}

// PurchaseInitiation is returned to the storefront after a charge has been
// created with Paystack. The client redirects the buyer to AuthorizationURL.
type PurchaseInitiation struct {
	AuthorizationURL string    `json:"authorization_url"`
	Reference        string    `json:"reference"`
	TransactionID    uuid.UUID `json:"transaction_id"`
}

// VoucherResult is the terminal payload of a successfully resolved transaction:
// the serial/PIN pair bound to it. Returned identically on idempotent re-resolves.
type VoucherResult struct {
	Serial   string `json:"serial"`
	PIN      string `json:"pin"`
	ExamType string `json:"exam_type"`
}

// ResolutionSource identifies which entry point invoked ResolveTransaction.
// Both converge on the same core logic; the source is carried for logging only.
type ResolutionSource string

const (
	ResolutionSourcePoll    ResolutionSource = "poll"
	ResolutionSourceWebhook ResolutionSource = "webhook"
)

// VoucherDeliveryEvent is the message payload published to RabbitMQ after a
// voucher has been claimed, consumed by the delivery worker. Delivery is
// best-effort and never unwinds the completed claim.
type VoucherDeliveryEvent struct {
	Reference string    `json:"reference"`
	Serial    string    `json:"serial"`
	PIN       string    `json:"pin"`
	ExamType  string    `json:"exam_type"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProvisionVoucherCard is one row of a bulk provisioning request.
type ProvisionVoucherCard struct {
	Serial   string `json:"serial"`
	PIN      string `json:"pin"`
	ExamType string `json:"exam_type"`
}

// StockLevel reports how many unused cards remain for one exam type.
type StockLevel struct {
	ExamType  string `json:"exam_type"`
	Available int    `json:"available"`
}

// ReconcileSweepResult summarizes one pass of the stuck-transaction sweep.
type ReconcileSweepResult struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
