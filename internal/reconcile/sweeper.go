// Package reconcile resolves transfers stranded in TIMEOUT or UNKNOWN.
// It is the only component allowed to transition out of those states:
// an ambiguous settlement is never re-sent, only re-queried, which is
// what keeps a retried timeout from double-spending.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/payflow/internal/domain"
	"github.com/punchamoorthee/payflow/internal/lock"
)

var sweepsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payflow_reconcile_resolved_total",
	Help: "Ambiguous transfers resolved by the sweeper, by outcome",
}, []string{"outcome"})

// Options tune the sweeper cadence and bounds.
type Options struct {
	Interval    time.Duration
	GracePeriod time.Duration
	MaxAge      time.Duration
	BatchSize   int
	LockTimeout time.Duration
}

// Sweeper periodically re-queries the gateway for ambiguous transfers
// and drives them to a terminal state.
type Sweeper struct {
	transfers domain.TransferRepository
	accounts  domain.AccountRepository
	held      domain.HeldBalanceRepository
	locks     *lock.Manager
	txm       domain.TxManager
	gateway   domain.SettlementGateway
	audit     domain.AuditLogger
	opts      Options
	log       *slog.Logger
}

func NewSweeper(
	transfers domain.TransferRepository,
	accounts domain.AccountRepository,
	held domain.HeldBalanceRepository,
	locks *lock.Manager,
	txm domain.TxManager,
	gateway domain.SettlementGateway,
	audit domain.AuditLogger,
	opts Options,
	log *slog.Logger,
) *Sweeper {
	return &Sweeper{
		transfers: transfers,
		accounts:  accounts,
		held:      held,
		locks:     locks,
		txm:       txm,
		gateway:   gateway,
		audit:     audit,
		opts:      opts,
		log:       log,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.log.Info("reconciliation sweeper started", "interval", s.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep resolves one batch. Each transfer gets its own goroutine so a
// slow inquiry does not stall the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.opts.GracePeriod)
	pending, err := s.transfers.FindPendingConfirmation(ctx, cutoff, s.opts.BatchSize)
	if err != nil {
		s.log.Error("pending-confirmation scan failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, t := range pending {
		wg.Add(1)
		go func(t *domain.Transfer) {
			defer wg.Done()
			s.resolve(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Sweeper) resolve(ctx context.Context, t *domain.Transfer) {
	if time.Since(t.CreatedAt) > s.opts.MaxAge {
		s.forceFail(ctx, t)
		return
	}

	res := s.gateway.Inquire(ctx, t.TransactionID)
	switch res.Status {
	case domain.SettlementSuccess:
		s.complete(ctx, t, res.BankTransactionID)
	case domain.SettlementFailure:
		s.fail(ctx, t, "settlement confirmed failed: "+res.Message)
	default:
		// Still ambiguous; the next sweep tries again.
		sweepsResolved.WithLabelValues("deferred").Inc()
	}
}

// complete applies the confirmed settlement. Every transfer that can
// land in TIMEOUT or UNKNOWN still has its hold in place and was never
// debited; a settlement whose debit landed leaves the execute phase as
// COMPLETED and is never swept. A bank transaction id on the row only
// means the bank answered, not that the ledger caught up. The
// terminal-guarded transfer update shares the transaction with the
// debit, so a racing resolver rolls the whole thing back.
func (s *Sweeper) complete(ctx context.Context, t *domain.Transfer, bankTxID string) {
	handle, err := s.locks.Acquire(ctx, []string{t.FromAccount}, s.opts.LockTimeout)
	if err != nil {
		s.log.Warn("sweeper lock contention, deferring", "tx_id", t.TransactionID)
		return
	}
	defer s.locks.Release(ctx, handle)

	err = s.txm.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.held.Release(txCtx, t.FromAccount, t.Amount); err != nil {
			return err
		}
		sender, err := s.accounts.FindByAccountNumber(txCtx, t.FromAccount)
		if err != nil {
			return err
		}
		if err := sender.Withdraw(t.Amount); err != nil {
			return err
		}
		if err := s.accounts.Update(txCtx, sender); err != nil {
			return err
		}
		if bankTxID != "" {
			t.BankTransactionID = bankTxID
		}
		t.MarkProcessed(domain.TransferCompleted, "")
		return s.transfers.Update(txCtx, t)
	})
	if err != nil {
		s.log.Error("reconcile completion failed", "tx_id", t.TransactionID, "error", err)
		return
	}

	sweepsResolved.WithLabelValues("completed").Inc()
	s.audit.Record(ctx, t.FromAccount, "transfer.reconciled", "COMPLETED",
		map[string]any{"tx_id": t.TransactionID, "bank_tx_id": bankTxID})
}

func (s *Sweeper) fail(ctx context.Context, t *domain.Transfer, reason string) {
	handle, err := s.locks.Acquire(ctx, []string{t.FromAccount}, s.opts.LockTimeout)
	if err != nil {
		s.log.Warn("sweeper lock contention, deferring", "tx_id", t.TransactionID)
		return
	}
	defer s.locks.Release(ctx, handle)

	err = s.txm.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.held.Release(txCtx, t.FromAccount, t.Amount); err != nil {
			return err
		}
		t.MarkProcessed(domain.TransferFailed, reason)
		return s.transfers.Update(txCtx, t)
	})
	if err != nil {
		s.log.Error("reconcile failure handling failed", "tx_id", t.TransactionID, "error", err)
		return
	}

	sweepsResolved.WithLabelValues("failed").Inc()
	s.audit.Record(ctx, t.FromAccount, "transfer.reconciled", "FAILED",
		map[string]any{"tx_id": t.TransactionID, "reason": reason})
}

// forceFail gives up on a transfer older than the reconciliation bound
// and flags it for manual review. The hold stays: releasing funds whose
// fate is genuinely unknown is a human decision.
func (s *Sweeper) forceFail(ctx context.Context, t *domain.Transfer) {
	err := s.txm.WithTx(ctx, func(txCtx context.Context) error {
		t.NeedsReview = true
		t.MarkProcessed(domain.TransferFailed, "reconciliation window exhausted")
		return s.transfers.Update(txCtx, t)
	})
	if err != nil {
		s.log.Error("force-fail failed", "tx_id", t.TransactionID, "error", err)
		return
	}

	sweepsResolved.WithLabelValues("forced_failed").Inc()
	s.audit.Record(ctx, t.FromAccount, "transfer.reconciled", "FORCED_FAILED",
		map[string]any{"tx_id": t.TransactionID})
	s.log.Warn("transfer forced to FAILED for manual review",
		"tx_id", t.TransactionID, "age", time.Since(t.CreatedAt))
}
