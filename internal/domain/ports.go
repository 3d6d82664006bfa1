package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxManager runs a function inside one database transaction. The
// transaction travels in the context so repositories pick it up
// transparently.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountRepository is the ledger store's account surface.
type AccountRepository interface {
	// FindByAccountNumber returns ErrAccountNotFound when missing.
	FindByAccountNumber(ctx context.Context, number string) (*Account, error)
	FindPrimaryAccount(ctx context.Context, ownerID string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	// Update persists a balance mutation guarded by the optimistic
	// version token; returns ErrVersionConflict when the row moved.
	Update(ctx context.Context, account *Account) error
}

// HeldBalanceRepository manages earmarked funds, 1:1 with accounts.
type HeldBalanceRepository interface {
	Held(ctx context.Context, accountNumber string) (decimal.Decimal, error)
	// Hold earmarks amount; the account balance must cover existing holds
	// plus this one (ErrHoldExceedsBalance otherwise).
	Hold(ctx context.Context, accountNumber string, amount decimal.Decimal) error
	// Release frees an earlier hold; ErrNoHeldFunds when the hold does
	// not cover amount.
	Release(ctx context.Context, accountNumber string, amount decimal.Decimal) error
}

// TransferRepository persists transfer records.
type TransferRepository interface {
	Create(ctx context.Context, transfer *Transfer) error
	FindByTransactionID(ctx context.Context, txID string) (*Transfer, error)
	// Update refuses to touch a row already in a terminal state.
	Update(ctx context.Context, transfer *Transfer) error
	// FindPendingConfirmation lists TIMEOUT/UNKNOWN transfers created
	// before the cutoff, oldest first.
	FindPendingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]*Transfer, error)
}

// LockRepository is the durable half of the distributed lock manager.
type LockRepository interface {
	// TryInsert inserts the lock row if no unexpired row exists for the
	// key. Returns false when the key is held.
	TryInsert(ctx context.Context, lock DistributedLock) (bool, error)
	Delete(ctx context.Context, key, ownerID string) error
	// DeleteExpired sweeps rows past their TTL for the key.
	DeleteExpired(ctx context.Context, key string, now time.Time) error
}

// ScheduleRepository persists scheduled transfers and their executions.
type ScheduleRepository interface {
	Create(ctx context.Context, s *ScheduledTransfer) error
	FindByID(ctx context.Context, scheduleID string) (*ScheduledTransfer, error)
	Update(ctx context.Context, s *ScheduledTransfer) error
	// ClaimDue locks and returns ACTIVE schedules with next_run_at in the
	// past, skipping rows claimed by other instances.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledTransfer, error)
	RecordExecution(ctx context.Context, e *ScheduledTransferExecution) error
	ListExecutions(ctx context.Context, scheduleID string) ([]*ScheduledTransferExecution, error)
}

// AuditLogger records money-movement events. Fire-and-forget: failures
// are logged by the implementation, never propagated.
type AuditLogger interface {
	Record(ctx context.Context, actorID, eventType, outcome string, detail map[string]any)
}

// PinVerifier checks a transfer PIN for the account owner. Returns
// ErrInvalidPin on mismatch.
type PinVerifier interface {
	VerifyPin(ctx context.Context, accountNumber, pin string) error
}

// NotificationDispatcher delivers user-facing notifications, best effort.
type NotificationDispatcher interface {
	Notify(ctx context.Context, userID, channel, message string)
}

// SettlementStatus is the gateway's verdict on one call.
type SettlementStatus string

const (
	SettlementSuccess SettlementStatus = "SUCCESS"
	SettlementFailure SettlementStatus = "FAILURE"
	SettlementPending SettlementStatus = "PENDING"
	SettlementTimeout SettlementStatus = "TIMEOUT"
	SettlementUnknown SettlementStatus = "UNKNOWN"
)

// SettlementRequest is one outbound bank/PG submission.
type SettlementRequest struct {
	TransactionID string
	BankCode      string
	BankAccount   string
	Amount        decimal.Decimal
	Memo          string
}

// SettlementResult carries the gateway outcome. BankTransactionID is set
// only on a confirmed SUCCESS; Code/Message describe failures.
type SettlementResult struct {
	Status            SettlementStatus
	BankTransactionID string
	Code              string
	Message           string
}

// SettlementGateway abstracts the external bank/PG. A TIMEOUT result
// means the call's effect is unknown, which is not the same as FAILURE.
type SettlementGateway interface {
	Call(ctx context.Context, req SettlementRequest) SettlementResult
	// Inquire re-queries a submission by transaction id; used by the
	// reconciliation sweeper to resolve ambiguous outcomes.
	Inquire(ctx context.Context, transactionID string) SettlementResult
}
