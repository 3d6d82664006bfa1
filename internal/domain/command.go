package domain

import "github.com/shopspring/decimal"

// Command is a money-movement request. Kind routes it to the single
// registered action handler; TxID is the caller-supplied idempotency key.
type Command interface {
	CommandKind() TransferKind
	TxID() string
}

// InternalTransferCommand moves money between two wallet accounts.
type InternalTransferCommand struct {
	TransactionID string
	FromAccount   string
	ToAccount     string
	Amount        decimal.Decimal
	Memo          string
	// ScheduleID is set when the command was fired by the scheduled
	// transfer engine; empty for ad-hoc requests.
	ScheduleID string
}

func (c InternalTransferCommand) CommandKind() TransferKind { return KindInternal }
func (c InternalTransferCommand) TxID() string              { return c.TransactionID }

// ExternalTransferCommand moves money to an external bank account through
// the settlement gateway.
type ExternalTransferCommand struct {
	TransactionID string
	FromAccount   string
	BankCode      string
	BankAccount   string
	Amount        decimal.Decimal
	Memo          string
}

func (c ExternalTransferCommand) CommandKind() TransferKind { return KindExternal }
func (c ExternalTransferCommand) TxID() string              { return c.TransactionID }

// PinTransferCommand is an internal move gated by the sender's PIN.
type PinTransferCommand struct {
	TransactionID string
	FromAccount   string
	ToAccount     string
	Amount        decimal.Decimal
	Memo          string
	Pin           string
}

func (c PinTransferCommand) CommandKind() TransferKind { return KindPin }
func (c PinTransferCommand) TxID() string              { return c.TransactionID }

// ResultStatus is the caller-facing outcome of one process() invocation.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailure ResultStatus = "FAILURE"
	ResultPending ResultStatus = "PENDING"
	ResultTimeout ResultStatus = "TIMEOUT"
	ResultUnknown ResultStatus = "UNKNOWN"
)

// ActionResult is the structured outcome every process() call returns,
// success or not.
type ActionResult struct {
	Status   ResultStatus
	Code     string
	Message  string
	Transfer *Transfer
}

// Result codes surfaced to callers.
const (
	CodeOK                = "OK"
	CodeReplay            = "IDEMPOTENT_REPLAY"
	CodeInProgress        = "IN_PROGRESS"
	CodeUnresolvedCommand = "UNRESOLVED_COMMAND"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeSavePendingFailed = "SAVE_PENDING_FAILED"
	CodeLockContention    = "LOCK_CONTENTION"
	CodeExecutionFailed   = "EXECUTION_FAILED"
	CodeSettlementTimeout = "SETTLEMENT_TIMEOUT"
	CodeSettlementUnknown = "SETTLEMENT_UNKNOWN"
	CodeSettlementPending = "SETTLEMENT_PENDING"
)
