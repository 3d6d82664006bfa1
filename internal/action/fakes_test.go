package action

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payflow/internal/domain"
	"github.com/punchamoorthee/payflow/internal/lock"
)

// In-memory repositories mirroring the store's semantics: copies in and
// out, optimistic version checks, terminal-row immutability, duplicate
// transaction detection.

type memAccounts struct {
	mu   sync.Mutex
	rows map[string]domain.Account
}

func newMemAccounts(accts ...*domain.Account) *memAccounts {
	m := &memAccounts{rows: map[string]domain.Account{}}
	for _, a := range accts {
		m.rows[a.AccountNumber] = *a
	}
	return m
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
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.OwnerID == ownerID {
			out := a
			return &out, nil
		}
	}
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

func (m *memAccounts) balance(number string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[number].Balance
}

type memHeld struct {
	accounts *memAccounts
	mu       sync.Mutex
	holds    map[string]decimal.Decimal
}

func (m *memHeld) Held(_ context.Context, accountNumber string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holds[accountNumber], nil
}

func (m *memHeld) Hold(_ context.Context, accountNumber string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.holds[accountNumber].Add(amount)
	if next.Cmp(m.accounts.balance(accountNumber)) > 0 {
		return domain.ErrHoldExceedsBalance
	}
	m.holds[accountNumber] = next
	return nil
}

func (m *memHeld) Release(_ context.Context, accountNumber string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.holds[accountNumber].Sub(amount)
	if next.Sign() < 0 {
		return domain.ErrNoHeldFunds
	}
	m.holds[accountNumber] = next
	return nil
}

type memTransfers struct {
	mu   sync.Mutex
	rows map[string]domain.Transfer
}

func newMemTransfers() *memTransfers {
	return &memTransfers{rows: map[string]domain.Transfer{}}
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transfer
	for _, t := range m.rows {
		if t.Status.PendingConfirmation() && t.CreatedAt.Before(cutoff) {
			row := t
			out = append(out, &row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memTransfers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
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

// passTx runs the function directly; serialization in tests comes from
// the lock manager, as it does in production.
type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type auditEvent struct {
	actorID   string
	eventType string
	outcome   string
}

type memAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (a *memAudit) Record(_ context.Context, actorID, eventType, outcome string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEvent{actorID, eventType, outcome})
}

type nopNotify struct{}

func (nopNotify) Notify(context.Context, string, string, string) {}

type scriptGateway struct {
	mu         sync.Mutex
	callRes    domain.SettlementResult
	inquireRes domain.SettlementResult
	calls      int
}

func (g *scriptGateway) Call(_ context.Context, _ domain.SettlementRequest) domain.SettlementResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.callRes
}

func (g *scriptGateway) Inquire(_ context.Context, _ string) domain.SettlementResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inquireRes
}

func (g *scriptGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakePins struct {
	pins map[string]string
}

func (f *fakePins) VerifyPin(_ context.Context, accountNumber, pin string) error {
	if f.pins[accountNumber] != pin {
		return domain.ErrInvalidPin
	}
	return nil
}

// rig wires a processor over the in-memory stores with all three
// handlers registered.
type rig struct {
	accounts  *memAccounts
	held      *memHeld
	transfers *memTransfers
	lockRepo  *memLockRepo
	gateway   *scriptGateway
	pins      *fakePins
	audit     *memAudit
	processor *Processor
}

func newRig(t *testing.T, accts ...*domain.Account) *rig {
	t.Helper()

	accounts := newMemAccounts(accts...)
	held := &memHeld{accounts: accounts, holds: map[string]decimal.Decimal{}}
	transfers := newMemTransfers()
	lockRepo := &memLockRepo{rows: map[string]domain.DistributedLock{}}
	locks := lock.NewManager(lockRepo, time.Minute, time.Millisecond)
	gw := &scriptGateway{}
	pins := &fakePins{pins: map[string]string{}}
	audit := &memAudit{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := NewRegistry()
	internal := NewInternalTransferAction(accounts, held, transfers, locks, passTx{}, time.Second)
	for _, a := range []Action{
		internal,
		NewExternalTransferAction(accounts, held, transfers, locks, passTx{}, gw, time.Second),
		NewPinTransferAction(internal, pins),
	} {
		if err := registry.Register(a); err != nil {
			t.Fatalf("register %s: %v", a.Kind(), err)
		}
	}

	return &rig{
		accounts:  accounts,
		held:      held,
		transfers: transfers,
		lockRepo:  lockRepo,
		gateway:   gw,
		pins:      pins,
		audit:     audit,
		processor: NewProcessor(registry, transfers, passTx{}, audit, nopNotify{}, log),
	}
}

func (r *rig) totalBalance(numbers ...string) decimal.Decimal {
	sum := decimal.Zero
	for _, n := range numbers {
		sum = sum.Add(r.accounts.balance(n))
	}
	return sum
}

func (r *rig) heldFor(number string) decimal.Decimal {
	h, _ := r.held.Held(context.Background(), number)
	return h
}

func account(number, balance string) *domain.Account {
	return &domain.Account{
		AccountNumber: number,
		OwnerID:       "owner-" + number,
		Balance:       decimal.RequireFromString(balance),
		Status:        domain.AccountActive,
	}
}
