// Package schedule fires due scheduled transfers through the action
// processor and advances their recurrence.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/payflow/internal/domain"
)

var firings = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payflow_schedule_firings_total",
	Help: "Scheduled transfer firings by outcome",
}, []string{"outcome"})

// CommandProcessor is the slice of the action processor the engine uses.
type CommandProcessor interface {
	Process(ctx context.Context, cmd domain.Command) domain.ActionResult
}

// Options tune the engine.
type Options struct {
	PollInterval     time.Duration
	BatchSize        int
	RetrySpacing     time.Duration
	MaxFailureStreak int
}

// Engine owns the scheduled-transfer lifecycle: claim due schedules,
// submit an internal-transfer command per firing, record an execution
// row, and advance or back off the schedule.
type Engine struct {
	schedules domain.ScheduleRepository
	txm       domain.TxManager
	processor CommandProcessor
	opts      Options
	log       *slog.Logger
}

func NewEngine(
	schedules domain.ScheduleRepository,
	txm domain.TxManager,
	processor CommandProcessor,
	opts Options,
	log *slog.Logger,
) *Engine {
	return &Engine{
		schedules: schedules,
		txm:       txm,
		processor: processor,
		opts:      opts,
		log:       log,
	}
}

// Create validates and registers a schedule. For recurring schedules the
// first firing time comes from the recurrence; ONCE schedules must carry
// their firing time in NextRunAt already.
func (e *Engine) Create(ctx context.Context, s *domain.ScheduledTransfer) error {
	if err := Validate(s.Recurrence); err != nil {
		return err
	}
	if s.Amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if s.FromAccount == s.ToAccount {
		return domain.ErrSelfTransfer
	}
	if s.ScheduleID == "" {
		s.ScheduleID = uuid.NewString()
	}
	s.Status = domain.ScheduleActive
	if s.Recurrence.Frequency != domain.FreqOnce {
		s.NextRunAt = NextAfter(s.Recurrence, time.Now())
	} else if s.NextRunAt.IsZero() {
		return fmt.Errorf("one-time schedule needs a firing time")
	}
	return e.schedules.Create(ctx, s)
}

// Pause stops firing without losing the schedule.
func (e *Engine) Pause(ctx context.Context, scheduleID string) error {
	return e.transition(ctx, scheduleID, domain.ScheduleActive, domain.SchedulePaused)
}

// Resume reactivates a paused schedule and recomputes its next firing.
func (e *Engine) Resume(ctx context.Context, scheduleID string) error {
	return e.txm.WithTx(ctx, func(txCtx context.Context) error {
		s, err := e.schedules.FindByID(txCtx, scheduleID)
		if err != nil {
			return err
		}
		if s.Status != domain.SchedulePaused {
			return domain.ErrScheduleNotActive
		}
		s.Status = domain.ScheduleActive
		if s.Recurrence.Frequency != domain.FreqOnce {
			s.NextRunAt = NextAfter(s.Recurrence, time.Now())
		}
		return e.schedules.Update(txCtx, s)
	})
}

// Cancel retires a schedule for good.
func (e *Engine) Cancel(ctx context.Context, scheduleID string) error {
	return e.txm.WithTx(ctx, func(txCtx context.Context) error {
		s, err := e.schedules.FindByID(txCtx, scheduleID)
		if err != nil {
			return err
		}
		if s.Status != domain.ScheduleActive && s.Status != domain.SchedulePaused {
			return domain.ErrScheduleNotActive
		}
		s.Status = domain.ScheduleCancelled
		return e.schedules.Update(txCtx, s)
	})
}

func (e *Engine) transition(ctx context.Context, scheduleID string, from, to domain.ScheduleStatus) error {
	return e.txm.WithTx(ctx, func(txCtx context.Context) error {
		s, err := e.schedules.FindByID(txCtx, scheduleID)
		if err != nil {
			return err
		}
		if s.Status != from {
			return domain.ErrScheduleNotActive
		}
		s.Status = to
		return e.schedules.Update(txCtx, s)
	})
}

// Run polls for due schedules until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	e.log.Info("scheduled-transfer engine started", "poll_interval", e.opts.PollInterval)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("scheduled-transfer engine stopped")
			return
		case <-ticker.C:
			e.Poll(ctx)
		}
	}
}

// Poll claims one batch of due schedules and fires each on its own
// goroutine so a slow firing does not stall the batch cadence. Claiming
// pushes next_run_at forward inside the claim transaction, so a crash
// mid-firing surfaces as a delayed retry rather than a lost or doubled
// firing.
func (e *Engine) Poll(ctx context.Context) {
	var claimed []*domain.ScheduledTransfer
	now := time.Now()
	err := e.txm.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		claimed, err = e.schedules.ClaimDue(txCtx, now, e.opts.BatchSize)
		if err != nil {
			return err
		}
		for _, s := range claimed {
			s.NextRunAt = now.Add(e.opts.RetrySpacing)
			if err := e.schedules.Update(txCtx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.log.Error("due-schedule claim failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, s := range claimed {
		wg.Add(1)
		go func(s *domain.ScheduledTransfer) {
			defer wg.Done()
			e.fire(ctx, s)
		}(s)
	}
	wg.Wait()
}

// fire submits one internal transfer for the schedule and records the
// execution. Each firing is independent: a failed firing backs the
// schedule off, it does not cancel later occurrences.
//
// The transaction id is derived from state only the bookkeeping
// transaction advances. A crash between Process and bookkeeping
// re-fires with the same id, and the processor replays the recorded
// outcome instead of moving the money again. A recorded failure bumps
// the streak, so its retry gets a fresh id and a fresh attempt.
func (e *Engine) fire(ctx context.Context, s *domain.ScheduledTransfer) {
	txID := fmt.Sprintf("%s-run-%d-%d", s.ScheduleID, s.ExecutionCount, s.FailureStreak)
	res := e.processor.Process(ctx, domain.InternalTransferCommand{
		TransactionID: txID,
		FromAccount:   s.FromAccount,
		ToAccount:     s.ToAccount,
		Amount:        s.Amount,
		Memo:          s.Memo,
		ScheduleID:    s.ScheduleID,
	})

	now := time.Now()
	succeeded := res.Status == domain.ResultSuccess
	exec := &domain.ScheduledTransferExecution{
		ExecutionID:   uuid.NewString(),
		ScheduleID:    s.ScheduleID,
		TransactionID: txID,
		RetryCount:    s.FailureStreak,
		FiredAt:       now,
		Detail:        res.Message,
	}

	s.LastRunAt = &now
	if succeeded {
		exec.Status = domain.ExecutionSucceeded
		s.ExecutionCount++
		s.FailureStreak = 0
		if s.Exhausted(now) {
			s.Status = domain.ScheduleCompleted
		} else {
			s.NextRunAt = NextAfter(s.Recurrence, now)
		}
		firings.WithLabelValues("success").Inc()
	} else {
		exec.Status = domain.ExecutionFailed
		s.FailureStreak++
		if s.FailureStreak >= e.opts.MaxFailureStreak {
			s.Status = domain.ScheduleFailed
			firings.WithLabelValues("streak_exhausted").Inc()
			e.log.Warn("schedule disabled after consecutive failures",
				"schedule_id", s.ScheduleID, "streak", s.FailureStreak)
		} else {
			// Back off 10 minutes per consecutive failure.
			retryAt := now.Add(time.Duration(s.FailureStreak) * e.opts.RetrySpacing)
			s.NextRunAt = retryAt
			exec.NextRetryAt = &retryAt
			firings.WithLabelValues("failure").Inc()
		}
	}

	err := e.txm.WithTx(ctx, func(txCtx context.Context) error {
		if err := e.schedules.RecordExecution(txCtx, exec); err != nil {
			return err
		}
		return e.schedules.Update(txCtx, s)
	})
	if err != nil {
		e.log.Error("schedule bookkeeping failed", "schedule_id", s.ScheduleID, "error", err)
	}
}
