package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/payflow/internal/domain"
)

var (
	transfersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_transfers_processed_total",
		Help: "Process invocations by command kind and result status",
	}, []string{"kind", "status"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payflow_phase_duration_seconds",
		Help:    "Latency of each processing phase",
		Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5},
	}, []string{"phase"})
)

// Processor drives commands through the four phases. Each phase is its
// own transaction boundary, so a crash mid-pipeline leaves auditable
// partial state rather than silence.
type Processor struct {
	registry  *Registry
	transfers domain.TransferRepository
	txm       domain.TxManager
	audit     domain.AuditLogger
	notifier  domain.NotificationDispatcher
	log       *slog.Logger
}

func NewProcessor(
	registry *Registry,
	transfers domain.TransferRepository,
	txm domain.TxManager,
	audit domain.AuditLogger,
	notifier domain.NotificationDispatcher,
	log *slog.Logger,
) *Processor {
	return &Processor{
		registry:  registry,
		transfers: transfers,
		txm:       txm,
		audit:     audit,
		notifier:  notifier,
		log:       log,
	}
}

// Process executes one command to a terminal or pending-confirmation
// state. It always returns a structured result; callers never see a raw
// database or network error. Replaying a transaction id that already
// reached a terminal state is a no-op returning the recorded outcome.
func (p *Processor) Process(ctx context.Context, cmd domain.Command) domain.ActionResult {
	kind := cmd.CommandKind()

	// Phase 1: resolve. An unregistered kind is a wiring bug.
	handler, ok := p.registry.Resolve(kind)
	if !ok {
		p.log.Error("no handler registered for command kind", "kind", kind)
		return p.finish(kind, domain.ActionResult{
			Status:  domain.ResultFailure,
			Code:    domain.CodeUnresolvedCommand,
			Message: fmt.Sprintf("no handler for command kind %s", kind),
		})
	}

	// Idempotency: a transaction id that already exists short-circuits.
	if res, done := p.checkReplay(ctx, cmd.TxID()); done {
		return p.finish(kind, res)
	}

	// Phase 2: validate. Failure persists nothing.
	timer := prometheus.NewTimer(phaseDuration.WithLabelValues("validate"))
	err := handler.Validate(ctx, cmd)
	timer.ObserveDuration()
	if err != nil {
		return p.finish(kind, domain.ActionResult{
			Status:  domain.ResultFailure,
			Code:    domain.CodeValidationFailed,
			Message: err.Error(),
		})
	}

	// Phase 3: save-pending, own transaction.
	var transfer *domain.Transfer
	timer = prometheus.NewTimer(phaseDuration.WithLabelValues("save_pending"))
	err = p.txm.WithTx(ctx, func(txCtx context.Context) error {
		transfer, err = handler.SavePending(txCtx, cmd)
		return err
	})
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			// Lost the race against a concurrent identical request.
			if res, done := p.checkReplay(ctx, cmd.TxID()); done {
				return p.finish(kind, res)
			}
		}
		p.log.Error("save-pending failed", "tx_id", cmd.TxID(), "error", err)
		return p.finish(kind, domain.ActionResult{
			Status:  domain.ResultFailure,
			Code:    domain.CodeSavePendingFailed,
			Message: "could not record pending state",
		})
	}

	// Phase 4: execute. The handler owns the lock scope and its own
	// transaction; failures are captured in the outcome, never thrown.
	p.markProcessing(ctx, transfer)
	timer = prometheus.NewTimer(phaseDuration.WithLabelValues("execute"))
	outcome := handler.Execute(ctx, cmd, transfer)
	timer.ObserveDuration()

	// Phase 5: update-from-result, best effort. The financial effect
	// already happened; only bookkeeping can lag here.
	p.updateFromResult(ctx, transfer, outcome)

	return p.finish(kind, resultFor(transfer, outcome))
}

// Cancel aborts a transfer that has not begun executing. Transfers
// mid-execute or pending confirmation cannot be cancelled, only
// reconciled afterward.
func (p *Processor) Cancel(ctx context.Context, txID string) domain.ActionResult {
	var cancelled *domain.Transfer
	err := p.txm.WithTx(ctx, func(txCtx context.Context) error {
		t, err := p.transfers.FindByTransactionID(txCtx, txID)
		if err != nil {
			return err
		}
		if !t.Cancellable() {
			return domain.ErrNotCancellable
		}
		t.MarkProcessed(domain.TransferCancelled, "cancelled by caller")
		if err := p.transfers.Update(txCtx, t); err != nil {
			return err
		}
		cancelled = t
		return nil
	})
	if err != nil {
		code := domain.CodeExecutionFailed
		if errors.Is(err, domain.ErrTransferNotFound) || errors.Is(err, domain.ErrNotCancellable) {
			code = domain.CodeValidationFailed
		}
		return domain.ActionResult{Status: domain.ResultFailure, Code: code, Message: err.Error()}
	}
	p.audit.Record(ctx, cancelled.FromAccount, "transfer.cancelled", "CANCELLED",
		map[string]any{"tx_id": txID})
	return domain.ActionResult{
		Status:   domain.ResultSuccess,
		Code:     domain.CodeOK,
		Message:  "transfer cancelled",
		Transfer: cancelled,
	}
}

// checkReplay resolves the idempotency short-circuit. Terminal and
// pending-confirmation transfers replay their recorded outcome; an
// in-flight one reports IN_PROGRESS.
func (p *Processor) checkReplay(ctx context.Context, txID string) (domain.ActionResult, bool) {
	existing, err := p.transfers.FindByTransactionID(ctx, txID)
	if err != nil {
		if errors.Is(err, domain.ErrTransferNotFound) {
			return domain.ActionResult{}, false
		}
		p.log.Error("idempotency lookup failed", "tx_id", txID, "error", err)
		return domain.ActionResult{
			Status:  domain.ResultFailure,
			Code:    domain.CodeExecutionFailed,
			Message: "idempotency lookup failed",
		}, true
	}

	if existing.Status.Terminal() || existing.Status.PendingConfirmation() {
		res := resultFor(existing, Outcome{Status: existing.Status, Reason: existing.FailureReason})
		res.Code = domain.CodeReplay
		return res, true
	}
	return domain.ActionResult{
		Status:   domain.ResultFailure,
		Code:     domain.CodeInProgress,
		Message:  "transaction is already being processed",
		Transfer: existing,
	}, true
}

func (p *Processor) markProcessing(ctx context.Context, t *domain.Transfer) {
	t.Status = domain.TransferProcessing
	err := p.txm.WithTx(ctx, func(txCtx context.Context) error {
		return p.transfers.Update(txCtx, t)
	})
	if err != nil {
		// Non-fatal: execute proceeds, the terminal update supersedes.
		p.log.Warn("could not mark transfer processing", "tx_id", t.TransactionID, "error", err)
	}
}

func (p *Processor) updateFromResult(ctx context.Context, t *domain.Transfer, out Outcome) {
	t.MarkProcessed(out.Status, out.Reason)
	if out.BankTransactionID != "" {
		t.BankTransactionID = out.BankTransactionID
	}
	err := p.txm.WithTx(ctx, func(txCtx context.Context) error {
		return p.transfers.Update(txCtx, t)
	})
	if err != nil {
		p.log.Error("update-from-result failed; transfer bookkeeping lags",
			"tx_id", t.TransactionID, "status", t.Status, "error", err)
	}

	p.audit.Record(ctx, t.FromAccount, "transfer."+string(t.Kind), string(t.Status), map[string]any{
		"tx_id":  t.TransactionID,
		"amount": t.Amount.String(),
		"to":     t.ToAccount,
		"reason": t.FailureReason,
	})
	p.notifier.Notify(ctx, t.FromAccount, "transfer",
		fmt.Sprintf("transfer %s is %s", t.TransactionID, t.Status))
}

func (p *Processor) finish(kind domain.TransferKind, res domain.ActionResult) domain.ActionResult {
	transfersProcessed.WithLabelValues(string(kind), string(res.Status)).Inc()
	return res
}

// resultFor maps a transfer outcome onto the caller-facing result.
func resultFor(t *domain.Transfer, out Outcome) domain.ActionResult {
	res := domain.ActionResult{Transfer: t, Message: out.Reason, Code: out.Code}
	switch out.Status {
	case domain.TransferCompleted:
		res.Status = domain.ResultSuccess
		if res.Code == "" {
			res.Code = domain.CodeOK
		}
		if res.Message == "" {
			res.Message = "transfer completed"
		}
	case domain.TransferTimeout:
		res.Status = domain.ResultTimeout
		if res.Code == "" {
			res.Code = domain.CodeSettlementTimeout
		}
	case domain.TransferUnknown:
		// A bank that answered PENDING accepted the submission; the
		// caller sees PENDING even though the transfer row waits in
		// UNKNOWN for the sweeper.
		if out.Code == domain.CodeSettlementPending {
			res.Status = domain.ResultPending
		} else {
			res.Status = domain.ResultUnknown
			if res.Code == "" {
				res.Code = domain.CodeSettlementUnknown
			}
		}
	case domain.TransferCancelled:
		res.Status = domain.ResultFailure
		if res.Code == "" {
			res.Code = domain.CodeValidationFailed
		}
	default:
		res.Status = domain.ResultFailure
		if res.Code == "" {
			res.Code = domain.CodeExecutionFailed
		}
	}
	return res
}
