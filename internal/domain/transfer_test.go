package domain

import (
	"testing"
	"time"
)

func TestTerminalStatuses(t *testing.T) {
	terminal := []TransferStatus{TransferCompleted, TransferFailed, TransferCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	open := []TransferStatus{TransferRequested, TransferProcessing, TransferTimeout, TransferUnknown}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestPendingConfirmationStatuses(t *testing.T) {
	if !TransferTimeout.PendingConfirmation() || !TransferUnknown.PendingConfirmation() {
		t.Error("TIMEOUT and UNKNOWN must be pending confirmation")
	}
	for _, s := range []TransferStatus{TransferRequested, TransferProcessing, TransferCompleted, TransferFailed, TransferCancelled} {
		if s.PendingConfirmation() {
			t.Errorf("%s.PendingConfirmation() = true, want false", s)
		}
	}
}

func TestCancellableOnlyBeforeExecute(t *testing.T) {
	tr := &Transfer{Status: TransferRequested}
	if !tr.Cancellable() {
		t.Error("REQUESTED should be cancellable")
	}
	tr.Status = TransferProcessing
	if !tr.Cancellable() {
		t.Error("PROCESSING should be cancellable")
	}
	for _, s := range []TransferStatus{TransferCompleted, TransferFailed, TransferTimeout, TransferUnknown, TransferCancelled} {
		tr.Status = s
		if tr.Cancellable() {
			t.Errorf("%s should not be cancellable", s)
		}
	}
}

func TestMarkProcessedStampsOutcome(t *testing.T) {
	tr := &Transfer{Status: TransferProcessing}
	before := time.Now()
	tr.MarkProcessed(TransferFailed, "declined")
	if tr.Status != TransferFailed {
		t.Errorf("Status = %s, want FAILED", tr.Status)
	}
	if tr.FailureReason != "declined" {
		t.Errorf("FailureReason = %q, want declined", tr.FailureReason)
	}
	if tr.ProcessedAt == nil || tr.ProcessedAt.Before(before) {
		t.Error("ProcessedAt not stamped")
	}
}

func TestScheduleExhausted(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	once := &ScheduledTransfer{Recurrence: Recurrence{Frequency: FreqOnce}, ExecutionCount: 1}
	if !once.Exhausted(now) {
		t.Error("fired ONCE schedule should be exhausted")
	}

	capped := &ScheduledTransfer{Recurrence: Recurrence{Frequency: FreqDaily}, MaxExecutions: 3, ExecutionCount: 3}
	if !capped.Exhausted(now) {
		t.Error("schedule at max executions should be exhausted")
	}

	ended := &ScheduledTransfer{Recurrence: Recurrence{Frequency: FreqDaily}, EndDate: &past}
	if !ended.Exhausted(now) {
		t.Error("schedule past its end date should be exhausted")
	}

	live := &ScheduledTransfer{Recurrence: Recurrence{Frequency: FreqDaily}, MaxExecutions: 3, ExecutionCount: 2}
	if live.Exhausted(now) {
		t.Error("live schedule reported exhausted")
	}
}
