package action

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// PinTransferAction is an internal ledger move gated by the sender's
// transfer PIN. The PIN is checked in the validate phase; from there the
// movement semantics are exactly the internal handler's.
type PinTransferAction struct {
	inner *InternalTransferAction
	pins  domain.PinVerifier
}

func NewPinTransferAction(inner *InternalTransferAction, pins domain.PinVerifier) *PinTransferAction {
	return &PinTransferAction{inner: inner, pins: pins}
}

func (a *PinTransferAction) Kind() domain.TransferKind { return domain.KindPin }

func (a *PinTransferAction) Validate(ctx context.Context, cmd domain.Command) error {
	c, ok := cmd.(domain.PinTransferCommand)
	if !ok {
		return fmt.Errorf("pin handler got %T", cmd)
	}
	if err := a.pins.VerifyPin(ctx, c.FromAccount, c.Pin); err != nil {
		return err
	}
	return a.inner.Validate(ctx, a.asInternal(c))
}

func (a *PinTransferAction) SavePending(ctx context.Context, cmd domain.Command) (*domain.Transfer, error) {
	c := cmd.(domain.PinTransferCommand)
	t := &domain.Transfer{
		TransactionID: c.TransactionID,
		Kind:          domain.KindPin,
		FromAccount:   c.FromAccount,
		ToAccount:     c.ToAccount,
		Amount:        c.Amount,
		Memo:          c.Memo,
		Status:        domain.TransferRequested,
		CreatedAt:     time.Now(),
	}
	if err := a.inner.transfers.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (a *PinTransferAction) Execute(ctx context.Context, cmd domain.Command, t *domain.Transfer) Outcome {
	c := cmd.(domain.PinTransferCommand)
	return a.inner.Execute(ctx, a.asInternal(c), t)
}

func (a *PinTransferAction) asInternal(c domain.PinTransferCommand) domain.InternalTransferCommand {
	return domain.InternalTransferCommand{
		TransactionID: c.TransactionID,
		FromAccount:   c.FromAccount,
		ToAccount:     c.ToAccount,
		Amount:        c.Amount,
		Memo:          c.Memo,
	}
}
