// Package action contains the money-movement execution engine: one
// registered handler per command kind, driven through four phases
// (validate, save-pending, execute, update-from-result) by the
// Processor, which is the single entry point callers use.
package action

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// Outcome is what a handler's execute phase produced. Status is the
// transfer's next state; Code overrides the processor's default result
// code when set.
type Outcome struct {
	Status            domain.TransferStatus
	BankTransactionID string
	Reason            string
	Code              string
}

// Action implements one kind of money movement across the four phases.
// The processor owns transaction-boundary placement; Execute manages its
// own lock and transaction scope because the critical section starts at
// lock acquisition, not at a database boundary.
type Action interface {
	Kind() domain.TransferKind
	// Validate runs handler preconditions. Nothing is persisted yet.
	Validate(ctx context.Context, cmd domain.Command) error
	// SavePending builds and persists the REQUESTED transfer row so a
	// crash before execute still leaves a reconcilable record.
	SavePending(ctx context.Context, cmd domain.Command) (*domain.Transfer, error)
	// Execute performs the balance mutation or external call.
	Execute(ctx context.Context, cmd domain.Command, t *domain.Transfer) Outcome
}

// Registry maps each command kind to its single handler. Registering a
// kind twice or resolving an unregistered kind is a configuration error,
// not a runtime condition.
type Registry struct {
	handlers map[domain.TransferKind]Action
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[domain.TransferKind]Action{}}
}

func (r *Registry) Register(a Action) error {
	if _, dup := r.handlers[a.Kind()]; dup {
		return fmt.Errorf("handler already registered for kind %s", a.Kind())
	}
	r.handlers[a.Kind()] = a
	return nil
}

func (r *Registry) Resolve(kind domain.TransferKind) (Action, bool) {
	a, ok := r.handlers[kind]
	return a, ok
}
