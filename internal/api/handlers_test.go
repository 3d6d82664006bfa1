package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payflow/internal/action"
	"github.com/punchamoorthee/payflow/internal/domain"
	"github.com/punchamoorthee/payflow/internal/lock"
	"github.com/punchamoorthee/payflow/internal/schedule"
)

// The handler tests run the real processor and engine over in-memory
// repositories, so a request exercises the whole pipeline.

type memAccounts struct {
	mu   sync.Mutex
	rows map[string]domain.Account
}

func (m *memAccounts) FindByAccountNumber(_ context.Context, number string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[number]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

func (m *memAccounts) FindPrimaryAccount(_ context.Context, ownerID string) (*domain.Account, error) {
	return nil, domain.ErrAccountNotFound
}

func (m *memAccounts) Create(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.AccountNumber] = *a
	return nil
}

func (m *memAccounts) Update(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[a.AccountNumber]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if stored.Version != a.Version {
		return domain.ErrVersionConflict
	}
	next := *a
	next.Version = a.Version + 1
	m.rows[a.AccountNumber] = next
	return nil
}

type memHeld struct {
	mu    sync.Mutex
	holds map[string]decimal.Decimal
}

func (m *memHeld) Held(_ context.Context, accountNumber string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holds[accountNumber], nil
}

func (m *memHeld) Hold(_ context.Context, accountNumber string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds[accountNumber] = m.holds[accountNumber].Add(amount)
	return nil
}

func (m *memHeld) Release(_ context.Context, accountNumber string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds[accountNumber] = m.holds[accountNumber].Sub(amount)
	return nil
}

type memTransfers struct {
	mu   sync.Mutex
	rows map[string]domain.Transfer
}

func (m *memTransfers) Create(_ context.Context, t *domain.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.rows[t.TransactionID]; dup {
		return domain.ErrDuplicateTransaction
	}
	m.rows[t.TransactionID] = *t
	return nil
}

func (m *memTransfers) FindByTransactionID(_ context.Context, txID string) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[txID]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return &t, nil
}

func (m *memTransfers) Update(_ context.Context, t *domain.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[t.TransactionID]
	if !ok || stored.Status.Terminal() {
		return domain.ErrTransferNotFound
	}
	m.rows[t.TransactionID] = *t
	return nil
}

func (m *memTransfers) FindPendingConfirmation(_ context.Context, cutoff time.Time, limit int) ([]*domain.Transfer, error) {
	return nil, nil
}

type memSchedules struct {
	mu   sync.Mutex
	rows map[string]domain.ScheduledTransfer
}

func (m *memSchedules) Create(_ context.Context, s *domain.ScheduledTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ScheduleID] = *s
	return nil
}

func (m *memSchedules) FindByID(_ context.Context, scheduleID string) (*domain.ScheduledTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[scheduleID]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return &s, nil
}

func (m *memSchedules) Update(_ context.Context, s *domain.ScheduledTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ScheduleID]; !ok {
		return domain.ErrScheduleNotFound
	}
	m.rows[s.ScheduleID] = *s
	return nil
}

func (m *memSchedules) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.ScheduledTransfer, error) {
	return nil, nil
}

func (m *memSchedules) RecordExecution(_ context.Context, e *domain.ScheduledTransferExecution) error {
	return nil
}

func (m *memSchedules) ListExecutions(_ context.Context, scheduleID string) ([]*domain.ScheduledTransferExecution, error) {
	return nil, nil
}

type memLockRepo struct {
	mu   sync.Mutex
	rows map[string]domain.DistributedLock
}

func (r *memLockRepo) TryInsert(_ context.Context, l domain.DistributedLock) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[l.LockKey]; ok && !existing.Expired(time.Now()) {
		return false, nil
	}
	r.rows[l.LockKey] = l
	return true, nil
}

func (r *memLockRepo) Delete(_ context.Context, key, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[key]; ok && existing.OwnerID == ownerID {
		delete(r.rows, key)
	}
	return nil
}

func (r *memLockRepo) DeleteExpired(_ context.Context, key string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[key]; ok && existing.Expired(now) {
		delete(r.rows, key)
	}
	return nil
}

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, string, map[string]any) {}

type nopNotify struct{}

func (nopNotify) Notify(context.Context, string, string, string) {}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	accounts := &memAccounts{rows: map[string]domain.Account{
		"acct-a": {AccountNumber: "acct-a", OwnerID: "owner-a", Balance: decimal.RequireFromString("500.00"), Status: domain.AccountActive},
		"acct-b": {AccountNumber: "acct-b", OwnerID: "owner-b", Balance: decimal.Zero, Status: domain.AccountActive},
	}}
	held := &memHeld{holds: map[string]decimal.Decimal{}}
	transfers := &memTransfers{rows: map[string]domain.Transfer{}}
	schedules := &memSchedules{rows: map[string]domain.ScheduledTransfer{}}
	locks := lock.NewManager(&memLockRepo{rows: map[string]domain.DistributedLock{}}, time.Minute, time.Millisecond)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := action.NewRegistry()
	internal := action.NewInternalTransferAction(accounts, held, transfers, locks, passTx{}, time.Second)
	if err := registry.Register(internal); err != nil {
		t.Fatalf("register internal: %v", err)
	}
	processor := action.NewProcessor(registry, transfers, passTx{}, nopAudit{}, nopNotify{}, log)

	engine := schedule.NewEngine(schedules, passTx{}, processor, schedule.Options{
		PollInterval:     time.Second,
		BatchSize:        10,
		RetrySpacing:     10 * time.Minute,
		MaxFailureStreak: 3,
	}, log)

	return NewHandler(processor, engine, accounts, transfers, schedules).Router()
}

func doJSON(t *testing.T, router http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
}

func TestCreateAndFetchAccount(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/accounts", nil, map[string]any{
		"owner_id":        "owner-z",
		"initial_balance": "250.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var created domain.Account
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.AccountNumber == "" {
		t.Fatal("no account number assigned")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/accounts/"+created.AccountNumber, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/accounts/acct-missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestCreateAccountRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/accounts", nil, map[string]any{
		"initial_balance": "100.00",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing owner: code = %d, want 422", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/accounts", nil, map[string]any{
		"owner_id":        "owner-z",
		"initial_balance": "-1.00",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative balance: code = %d, want 422", rec.Code)
	}
}

func TestTransferRequiresIdempotencyKey(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodPost, "/api/v1/transfers", nil, map[string]any{
		"from_account": "acct-a",
		"to_account":   "acct-b",
		"amount":       "10.00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}

func TestTransferCreateReplayAndFetch(t *testing.T) {
	router := newTestRouter(t)
	headers := map[string]string{"Idempotency-Key": "tx-1"}
	body := map[string]any{
		"from_account": "acct-a",
		"to_account":   "acct-b",
		"amount":       "100.00",
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/transfers", headers, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first: code = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/transfers", headers, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: code = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var res domain.ActionResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if res.Code != domain.CodeReplay {
		t.Errorf("replay code = %s, want IDEMPOTENT_REPLAY", res.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/transfers/tx-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch: code = %d, want 200", rec.Code)
	}
}

func TestTransferValidationFailureIs422(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodPost, "/api/v1/transfers",
		map[string]string{"Idempotency-Key": "tx-1"},
		map[string]any{
			"from_account": "acct-a",
			"to_account":   "acct-b",
			"amount":       "9999.00",
		})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestTransferUnknownKindIs422(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodPost, "/api/v1/transfers",
		map[string]string{"Idempotency-Key": "tx-1"},
		map[string]any{"kind": "WIRE", "from_account": "acct-a", "amount": "1.00"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422", rec.Code)
	}
}

func TestCancelSettledTransferConflicts(t *testing.T) {
	router := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/transfers",
		map[string]string{"Idempotency-Key": "tx-1"},
		map[string]any{"from_account": "acct-a", "to_account": "acct-b", "amount": "10.00"})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/transfers/tx-1/cancel", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", rec.Code)
	}
}

func TestScheduleLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/schedules", nil, map[string]any{
		"from_account": "acct-a",
		"to_account":   "acct-b",
		"amount":       "25.00",
		"frequency":    "DAILY",
		"hour":         9,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var created domain.ScheduledTransfer
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}

	base := "/api/v1/schedules/" + created.ScheduleID
	if rec = doJSON(t, router, http.MethodGet, base, nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("get: code = %d, want 200", rec.Code)
	}
	if rec = doJSON(t, router, http.MethodPost, base+"/pause", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("pause: code = %d, want 200", rec.Code)
	}
	if rec = doJSON(t, router, http.MethodPost, base+"/pause", nil, nil); rec.Code != http.StatusConflict {
		t.Fatalf("double pause: code = %d, want 409", rec.Code)
	}
	if rec = doJSON(t, router, http.MethodPost, base+"/resume", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("resume: code = %d, want 200", rec.Code)
	}
	if rec = doJSON(t, router, http.MethodPost, base+"/cancel", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel: code = %d, want 200", rec.Code)
	}
	if rec = doJSON(t, router, http.MethodPost, "/api/v1/schedules/sch-missing/pause", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: code = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/schedules", nil, map[string]any{
		"from_account": "acct-a",
		"to_account":   "acct-a",
		"amount":       "25.00",
		"frequency":    "DAILY",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("self-transfer schedule: code = %d, want 422", rec.Code)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		name string
		res  domain.ActionResult
		want int
	}{
		{"fresh success", domain.ActionResult{Status: domain.ResultSuccess, Code: domain.CodeOK}, http.StatusCreated},
		{"replayed success", domain.ActionResult{Status: domain.ResultSuccess, Code: domain.CodeReplay}, http.StatusOK},
		{"replayed failure", domain.ActionResult{Status: domain.ResultFailure, Code: domain.CodeReplay}, http.StatusOK},
		{"pending", domain.ActionResult{Status: domain.ResultPending, Code: domain.CodeSettlementPending}, http.StatusAccepted},
		{"timeout", domain.ActionResult{Status: domain.ResultTimeout, Code: domain.CodeSettlementTimeout}, http.StatusAccepted},
		{"unknown", domain.ActionResult{Status: domain.ResultUnknown, Code: domain.CodeSettlementUnknown}, http.StatusAccepted},
		{"in progress", domain.ActionResult{Status: domain.ResultFailure, Code: domain.CodeInProgress}, http.StatusConflict},
		{"lock contention", domain.ActionResult{Status: domain.ResultFailure, Code: domain.CodeLockContention}, http.StatusConflict},
		{"validation", domain.ActionResult{Status: domain.ResultFailure, Code: domain.CodeValidationFailed}, http.StatusUnprocessableEntity},
		{"execution failure", domain.ActionResult{Status: domain.ResultFailure, Code: domain.CodeExecutionFailed}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusCodeFor(tc.res); got != tc.want {
			t.Errorf("%s: statusCodeFor = %d, want %d", tc.name, got, tc.want)
		}
	}
}
