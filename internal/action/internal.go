package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payflow/internal/domain"
	"github.com/punchamoorthee/payflow/internal/lock"
)

// InternalTransferAction moves money between two wallet accounts. Both
// account locks are taken through a single Acquire call so the manager's
// sorted ordering can do its deadlock-avoidance work; debit and credit
// happen inside that lock scope in one transaction.
type InternalTransferAction struct {
	accounts    domain.AccountRepository
	held        domain.HeldBalanceRepository
	transfers   domain.TransferRepository
	locks       *lock.Manager
	txm         domain.TxManager
	lockTimeout time.Duration
}

func NewInternalTransferAction(
	accounts domain.AccountRepository,
	held domain.HeldBalanceRepository,
	transfers domain.TransferRepository,
	locks *lock.Manager,
	txm domain.TxManager,
	lockTimeout time.Duration,
) *InternalTransferAction {
	return &InternalTransferAction{
		accounts:    accounts,
		held:        held,
		transfers:   transfers,
		locks:       locks,
		txm:         txm,
		lockTimeout: lockTimeout,
	}
}

func (a *InternalTransferAction) Kind() domain.TransferKind { return domain.KindInternal }

func (a *InternalTransferAction) Validate(ctx context.Context, cmd domain.Command) error {
	c, ok := cmd.(domain.InternalTransferCommand)
	if !ok {
		return fmt.Errorf("internal handler got %T", cmd)
	}
	if c.TransactionID == "" {
		return errors.New("transaction id is required")
	}
	if c.Amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if c.FromAccount == c.ToAccount {
		return domain.ErrSelfTransfer
	}

	sender, err := a.accounts.FindByAccountNumber(ctx, c.FromAccount)
	if err != nil {
		return err
	}
	if sender.Status != domain.AccountActive {
		return domain.ErrAccountInactive
	}
	receiver, err := a.accounts.FindByAccountNumber(ctx, c.ToAccount)
	if err != nil {
		return err
	}
	if receiver.Status != domain.AccountActive {
		return domain.ErrAccountInactive
	}

	return a.checkAvailable(ctx, sender, c.Amount)
}

func (a *InternalTransferAction) SavePending(ctx context.Context, cmd domain.Command) (*domain.Transfer, error) {
	c := cmd.(domain.InternalTransferCommand)
	t := &domain.Transfer{
		TransactionID: c.TransactionID,
		Kind:          domain.KindInternal,
		FromAccount:   c.FromAccount,
		ToAccount:     c.ToAccount,
		Amount:        c.Amount,
		Memo:          c.Memo,
		Status:        domain.TransferRequested,
		CreatedAt:     time.Now(),
	}
	if err := a.transfers.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (a *InternalTransferAction) Execute(ctx context.Context, cmd domain.Command, t *domain.Transfer) Outcome {
	handle, err := a.locks.Acquire(ctx, []string{t.FromAccount, t.ToAccount}, a.lockTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return Outcome{
				Status: domain.TransferFailed,
				Reason: "account lock contention",
				Code:   domain.CodeLockContention,
			}
		}
		return Outcome{Status: domain.TransferFailed, Reason: err.Error()}
	}
	defer a.locks.Release(ctx, handle)

	err = a.txm.WithTx(ctx, func(txCtx context.Context) error {
		return a.move(txCtx, t.FromAccount, t.ToAccount, t.Amount)
	})
	if err != nil {
		return Outcome{Status: domain.TransferFailed, Reason: err.Error()}
	}
	return Outcome{Status: domain.TransferCompleted}
}

// move debits the sender and credits the receiver. Callers must hold
// both account locks; the optimistic version check in Update is only a
// backstop against a discipline violation.
func (a *InternalTransferAction) move(ctx context.Context, from, to string, amount decimal.Decimal) error {
	sender, err := a.accounts.FindByAccountNumber(ctx, from)
	if err != nil {
		return err
	}
	if err := a.checkAvailable(ctx, sender, amount); err != nil {
		return err
	}
	receiver, err := a.accounts.FindByAccountNumber(ctx, to)
	if err != nil {
		return err
	}

	if err := sender.Withdraw(amount); err != nil {
		return err
	}
	if err := receiver.Deposit(amount); err != nil {
		return err
	}
	if err := a.accounts.Update(ctx, sender); err != nil {
		return err
	}
	return a.accounts.Update(ctx, receiver)
}

// checkAvailable rejects when balance minus held funds cannot cover the
// amount.
func (a *InternalTransferAction) checkAvailable(ctx context.Context, acct *domain.Account, amount decimal.Decimal) error {
	held, err := a.held.Held(ctx, acct.AccountNumber)
	if err != nil {
		return err
	}
	if acct.Balance.Sub(held).Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}
