package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the transfer state machine:
//
//	REQUESTED -> PROCESSING -> {COMPLETED, FAILED, CANCELLED, TIMEOUT, UNKNOWN}
//
// TIMEOUT and UNKNOWN are pending-confirmation states: the external side may
// or may not have moved the money. Only the reconciliation sweeper may
// transition out of them.
type TransferStatus string

const (
	TransferRequested  TransferStatus = "REQUESTED"
	TransferProcessing TransferStatus = "PROCESSING"
	TransferCompleted  TransferStatus = "COMPLETED"
	TransferFailed     TransferStatus = "FAILED"
	TransferCancelled  TransferStatus = "CANCELLED"
	TransferTimeout    TransferStatus = "TIMEOUT"
	TransferUnknown    TransferStatus = "UNKNOWN"
)

// Terminal reports whether the status admits no further transitions
// through the action processor. TIMEOUT/UNKNOWN are not terminal: the
// sweeper still owns them.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferCompleted, TransferFailed, TransferCancelled:
		return true
	}
	return false
}

// PendingConfirmation reports whether the money's fate is unknown.
func (s TransferStatus) PendingConfirmation() bool {
	return s == TransferTimeout || s == TransferUnknown
}

// TransferKind distinguishes the money-movement flavors.
type TransferKind string

const (
	KindInternal TransferKind = "INTERNAL"
	KindExternal TransferKind = "EXTERNAL"
	KindPin      TransferKind = "PIN"
)

// Transfer is the immutable record of a money movement. TransactionID is
// the idempotency key: replaying a terminal transaction id is a no-op.
// BankTransactionID stays empty until the external side confirms; its
// presence is the de-dup guard against applying a settlement twice.
type Transfer struct {
	TransactionID     string
	Kind              TransferKind
	FromAccount       string
	ToAccount         string
	BankCode          string
	Amount            decimal.Decimal
	Memo              string
	Status            TransferStatus
	BankTransactionID string
	FailureReason     string
	NeedsReview       bool
	CreatedAt         time.Time
	ProcessedAt       *time.Time
}

// Cancellable reports whether an explicit cancel is still allowed.
// A transfer mid-execute cannot be cancelled, only reconciled afterward.
func (t *Transfer) Cancellable() bool {
	return t.Status == TransferRequested || t.Status == TransferProcessing
}

// MarkProcessed stamps a terminal or pending-confirmation outcome.
func (t *Transfer) MarkProcessed(status TransferStatus, reason string) {
	now := time.Now()
	t.Status = status
	t.FailureReason = reason
	t.ProcessedAt = &now
}
