// Package gateway adapts the external bank/PG call behind retries, a
// per-destination circuit breaker, and explicit timeouts. A TIMEOUT
// result means the call's effect is unknown; callers must never conflate
// it with a definitive FAILURE.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/payflow/internal/domain"
)

var (
	settlementCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_settlement_calls_total",
		Help: "Settlement gateway calls by outcome",
	}, []string{"status"})

	breakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payflow_settlement_breaker_open",
		Help: "1 when the destination's circuit breaker is open",
	}, []string{"destination"})
)

// Client is the raw settlement transport. A returned error is a
// transport-level problem (retryable); a returned result is the bank's
// authoritative verdict and is never retried.
type Client interface {
	Submit(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error)
	Status(ctx context.Context, transactionID string) (domain.SettlementResult, error)
}

// Fallback is invoked when the breaker is open or every retry is spent.
type Fallback func(req domain.SettlementRequest) domain.SettlementResult

// Options tune the adapter; zero values fall back to spec defaults.
type Options struct {
	Timeout          time.Duration
	MaxRetries       int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	BackoffCap       time.Duration
	Fallback         Fallback
}

// Adapter implements domain.SettlementGateway.
type Adapter struct {
	client Client
	opts   Options
	log    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*breaker
}

func NewAdapter(client Client, opts Options, log *slog.Logger) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 60 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 10 * time.Second
	}
	return &Adapter{
		client:   client,
		opts:     opts,
		log:      log,
		breakers: map[string]*breaker{},
	}
}

// Call submits one settlement. Definitive bank verdicts come back as-is;
// transport errors are retried with exponential backoff, each attempt
// under its own timeout. A timeout that exhausts the budget surfaces as
// TIMEOUT, not FAILURE.
func (a *Adapter) Call(ctx context.Context, req domain.SettlementRequest) domain.SettlementResult {
	br := a.breakerFor(req.BankCode)
	now := time.Now()
	if !br.allow(now) {
		breakerOpen.WithLabelValues(req.BankCode).Set(1)
		settlementCalls.WithLabelValues("circuit_open").Inc()
		if a.opts.Fallback != nil {
			return a.opts.Fallback(req)
		}
		return domain.SettlementResult{
			Status:  domain.SettlementFailure,
			Code:    "CIRCUIT_OPEN",
			Message: "settlement destination is shedding load",
		}
	}
	breakerOpen.WithLabelValues(req.BankCode).Set(0)

	timedOut := false
	for attempt := 0; attempt < a.opts.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		res, err := a.client.Submit(attemptCtx, req)
		cancel()

		if err == nil {
			switch res.Status {
			case domain.SettlementSuccess, domain.SettlementPending:
				br.recordSuccess()
			default:
				br.recordFailure(time.Now())
			}
			settlementCalls.WithLabelValues(string(res.Status)).Inc()
			return res
		}

		br.recordFailure(time.Now())
		timedOut = isTimeout(err)
		a.log.Warn("settlement attempt failed",
			"tx_id", req.TransactionID, "bank", req.BankCode,
			"attempt", attempt+1, "timeout", timedOut, "error", err)

		if attempt < a.opts.MaxRetries-1 {
			if !a.backoff(ctx, attempt) {
				break
			}
		}
	}

	if a.opts.Fallback != nil {
		settlementCalls.WithLabelValues("fallback").Inc()
		return a.opts.Fallback(req)
	}
	if timedOut {
		settlementCalls.WithLabelValues("timeout").Inc()
		return domain.SettlementResult{
			Status:  domain.SettlementTimeout,
			Code:    "GATEWAY_TIMEOUT",
			Message: "settlement call timed out; outcome unknown",
		}
	}
	settlementCalls.WithLabelValues("transport_failure").Inc()
	return domain.SettlementResult{
		Status:  domain.SettlementFailure,
		Code:    "TRANSPORT_ERROR",
		Message: "settlement call failed before reaching the bank",
	}
}

// Inquire re-queries a submission by transaction id. Transport problems
// map to UNKNOWN so the sweeper simply tries again next pass.
func (a *Adapter) Inquire(ctx context.Context, transactionID string) domain.SettlementResult {
	attemptCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	res, err := a.client.Status(attemptCtx, transactionID)
	if err != nil {
		return domain.SettlementResult{
			Status:  domain.SettlementUnknown,
			Code:    "INQUIRY_FAILED",
			Message: err.Error(),
		}
	}
	return res
}

// backoff sleeps 2^attempt seconds capped at BackoffCap. Returns false
// when the context is cancelled first.
func (a *Adapter) backoff(ctx context.Context, attempt int) bool {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > a.opts.BackoffCap {
		d = a.opts.BackoffCap
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Adapter) breakerFor(destination string) *breaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	br, ok := a.breakers[destination]
	if !ok {
		br = newBreaker(a.opts.BreakerThreshold, a.opts.BreakerCooldown)
		a.breakers[destination] = br
	}
	return br
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
