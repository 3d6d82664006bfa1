package domain

import "errors"

// Error taxonomy. The four-phase processor maps these onto ActionResult
// codes; callers never see a raw database or network error.
var (
	// Validation errors: rejected before any persistence, safe to retry
	// with corrected input.
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account is not active")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("sender and receiver must differ")
	ErrInvalidPin        = errors.New("pin verification failed")

	// ErrLockNotAcquired is transient contention: the whole request is
	// safe to retry.
	ErrLockNotAcquired = errors.New("lock acquisition timed out")

	// ErrVersionConflict means the optimistic version token moved under
	// us. Under the lock discipline this should not happen; it signals a
	// caller mutating a balance outside the account lock.
	ErrVersionConflict = errors.New("account version conflict")

	// Idempotency.
	ErrDuplicateTransaction = errors.New("transaction id already exists")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrNotCancellable       = errors.New("transfer is not cancellable")

	// Held funds.
	ErrHoldExceedsBalance = errors.New("hold exceeds available balance")
	ErrNoHeldFunds        = errors.New("no held funds to release")

	// Schedules.
	ErrScheduleNotFound  = errors.New("scheduled transfer not found")
	ErrScheduleNotActive = errors.New("scheduled transfer is not active")
)
