package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScheduleStatus is the scheduled-transfer state machine:
// ACTIVE <-> PAUSED, ACTIVE -> {COMPLETED, CANCELLED, FAILED}.
type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "ACTIVE"
	SchedulePaused    ScheduleStatus = "PAUSED"
	ScheduleCompleted ScheduleStatus = "COMPLETED"
	ScheduleCancelled ScheduleStatus = "CANCELLED"
	ScheduleFailed    ScheduleStatus = "FAILED"
)

// Frequency of a recurring schedule.
type Frequency string

const (
	FreqOnce    Frequency = "ONCE"
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

// Recurrence describes when a schedule fires. DayOfMonth applies to
// MONTHLY/YEARLY (clamped to the month's last day), Weekday to WEEKLY,
// MonthOfYear to YEARLY. Hour/Minute are the time of day.
type Recurrence struct {
	Frequency   Frequency
	DayOfMonth  int
	Weekday     time.Weekday
	MonthOfYear time.Month
	Hour        int
	Minute      int
}

// ScheduledTransfer fires internal transfers on a recurrence. FailureStreak
// counts consecutive failed firings; three in a row marks the schedule
// FAILED.
type ScheduledTransfer struct {
	ScheduleID     string
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	Memo           string
	Recurrence     Recurrence
	Status         ScheduleStatus
	NextRunAt      time.Time
	LastRunAt      *time.Time
	EndDate        *time.Time
	ExecutionCount int
	MaxExecutions  int
	FailureStreak  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether the recurrence has run its course.
func (s *ScheduledTransfer) Exhausted(now time.Time) bool {
	if s.Recurrence.Frequency == FreqOnce && s.ExecutionCount > 0 {
		return true
	}
	if s.MaxExecutions > 0 && s.ExecutionCount >= s.MaxExecutions {
		return true
	}
	if s.EndDate != nil && now.After(*s.EndDate) {
		return true
	}
	return false
}

// ExecutionStatus of one schedule firing.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// ScheduledTransferExecution records one firing of a schedule and the
// transfer it produced. Each firing is independent: a failed March does
// not cancel April.
type ScheduledTransferExecution struct {
	ExecutionID   string
	ScheduleID    string
	TransactionID string
	Status        ExecutionStatus
	RetryCount    int
	NextRetryAt   *time.Time
	FiredAt       time.Time
	Detail        string
}
