package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// ScheduleStore implements domain.ScheduleRepository.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

const scheduleColumns = `schedule_id, from_account, to_account, amount, memo,
	frequency, day_of_month, weekday, month_of_year, run_hour, run_minute,
	status, next_run_at, last_run_at, end_date, execution_count, max_executions,
	failure_streak, created_at, updated_at`

func scanSchedule(row pgx.Row) (*domain.ScheduledTransfer, error) {
	var s domain.ScheduledTransfer
	var weekday, month int
	err := row.Scan(&s.ScheduleID, &s.FromAccount, &s.ToAccount, &s.Amount, &s.Memo,
		&s.Recurrence.Frequency, &s.Recurrence.DayOfMonth, &weekday, &month,
		&s.Recurrence.Hour, &s.Recurrence.Minute,
		&s.Status, &s.NextRunAt, &s.LastRunAt, &s.EndDate, &s.ExecutionCount,
		&s.MaxExecutions, &s.FailureStreak, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("schedule scan failed: %w", err)
	}
	s.Recurrence.Weekday = time.Weekday(weekday)
	s.Recurrence.MonthOfYear = time.Month(month)
	return &s, nil
}

func (st *ScheduleStore) Create(ctx context.Context, s *domain.ScheduledTransfer) error {
	_, err := q(ctx, st.pool).Exec(ctx,
		`INSERT INTO scheduled_transfers (schedule_id, from_account, to_account, amount, memo,
		   frequency, day_of_month, weekday, month_of_year, run_hour, run_minute,
		   status, next_run_at, end_date, execution_count, max_executions, failure_streak,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())`,
		s.ScheduleID, s.FromAccount, s.ToAccount, s.Amount, s.Memo,
		s.Recurrence.Frequency, s.Recurrence.DayOfMonth, int(s.Recurrence.Weekday),
		int(s.Recurrence.MonthOfYear), s.Recurrence.Hour, s.Recurrence.Minute,
		s.Status, s.NextRunAt, s.EndDate, s.ExecutionCount, s.MaxExecutions, s.FailureStreak)
	if err != nil {
		return fmt.Errorf("schedule insert failed: %w", err)
	}
	return nil
}

func (st *ScheduleStore) FindByID(ctx context.Context, scheduleID string) (*domain.ScheduledTransfer, error) {
	return scanSchedule(q(ctx, st.pool).QueryRow(ctx,
		"SELECT "+scheduleColumns+" FROM scheduled_transfers WHERE schedule_id = $1", scheduleID))
}

func (st *ScheduleStore) Update(ctx context.Context, s *domain.ScheduledTransfer) error {
	tag, err := q(ctx, st.pool).Exec(ctx,
		`UPDATE scheduled_transfers
		 SET status = $1, next_run_at = $2, last_run_at = $3, execution_count = $4,
		     failure_streak = $5, updated_at = now()
		 WHERE schedule_id = $6`,
		s.Status, s.NextRunAt, s.LastRunAt, s.ExecutionCount, s.FailureStreak, s.ScheduleID)
	if err != nil {
		return fmt.Errorf("schedule update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

// ClaimDue pulls due ACTIVE schedules with SKIP LOCKED so concurrent
// engine instances never fire the same schedule twice. Must run inside a
// transaction; the row locks live until commit.
func (st *ScheduleStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledTransfer, error) {
	rows, err := q(ctx, st.pool).Query(ctx,
		"SELECT "+scheduleColumns+` FROM scheduled_transfers
		 WHERE status = 'ACTIVE' AND next_run_at <= $1
		 ORDER BY next_run_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due schedule claim failed: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScheduledTransfer
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *ScheduleStore) RecordExecution(ctx context.Context, e *domain.ScheduledTransferExecution) error {
	_, err := q(ctx, st.pool).Exec(ctx,
		`INSERT INTO scheduled_transfer_executions
		   (execution_id, schedule_id, transaction_id, status, retry_count, next_retry_at, fired_at, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ExecutionID, e.ScheduleID, e.TransactionID, e.Status, e.RetryCount, e.NextRetryAt,
		e.FiredAt, e.Detail)
	if err != nil {
		return fmt.Errorf("execution insert failed: %w", err)
	}
	return nil
}

func (st *ScheduleStore) ListExecutions(ctx context.Context, scheduleID string) ([]*domain.ScheduledTransferExecution, error) {
	rows, err := q(ctx, st.pool).Query(ctx,
		`SELECT execution_id, schedule_id, transaction_id, status, retry_count, next_retry_at, fired_at, detail
		 FROM scheduled_transfer_executions
		 WHERE schedule_id = $1 ORDER BY fired_at DESC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("execution list failed: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScheduledTransferExecution
	for rows.Next() {
		var e domain.ScheduledTransferExecution
		if err := rows.Scan(&e.ExecutionID, &e.ScheduleID, &e.TransactionID, &e.Status,
			&e.RetryCount, &e.NextRetryAt, &e.FiredAt, &e.Detail); err != nil {
			return nil, fmt.Errorf("execution scan failed: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
