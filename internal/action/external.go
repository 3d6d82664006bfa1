package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/payflow/internal/domain"
	"github.com/punchamoorthee/payflow/internal/lock"
)

// ExternalTransferAction moves money to an external bank through the
// settlement gateway. Funds are held (not debited) under the sender's
// lock before the call; the hold is only converted to a debit on a
// confirmed SUCCESS, released on a definitive FAILURE, and kept in place
// for ambiguous outcomes until the reconciliation sweeper rules.
type ExternalTransferAction struct {
	accounts    domain.AccountRepository
	held        domain.HeldBalanceRepository
	transfers   domain.TransferRepository
	locks       *lock.Manager
	txm         domain.TxManager
	gateway     domain.SettlementGateway
	lockTimeout time.Duration
}

func NewExternalTransferAction(
	accounts domain.AccountRepository,
	held domain.HeldBalanceRepository,
	transfers domain.TransferRepository,
	locks *lock.Manager,
	txm domain.TxManager,
	gateway domain.SettlementGateway,
	lockTimeout time.Duration,
) *ExternalTransferAction {
	return &ExternalTransferAction{
		accounts:    accounts,
		held:        held,
		transfers:   transfers,
		locks:       locks,
		txm:         txm,
		gateway:     gateway,
		lockTimeout: lockTimeout,
	}
}

func (a *ExternalTransferAction) Kind() domain.TransferKind { return domain.KindExternal }

func (a *ExternalTransferAction) Validate(ctx context.Context, cmd domain.Command) error {
	c, ok := cmd.(domain.ExternalTransferCommand)
	if !ok {
		return fmt.Errorf("external handler got %T", cmd)
	}
	if c.TransactionID == "" {
		return errors.New("transaction id is required")
	}
	if c.Amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if c.BankCode == "" || c.BankAccount == "" {
		return errors.New("bank code and bank account are required")
	}

	sender, err := a.accounts.FindByAccountNumber(ctx, c.FromAccount)
	if err != nil {
		return err
	}
	if sender.Status != domain.AccountActive {
		return domain.ErrAccountInactive
	}

	held, err := a.held.Held(ctx, c.FromAccount)
	if err != nil {
		return err
	}
	if sender.Balance.Sub(held).Cmp(c.Amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (a *ExternalTransferAction) SavePending(ctx context.Context, cmd domain.Command) (*domain.Transfer, error) {
	c := cmd.(domain.ExternalTransferCommand)
	t := &domain.Transfer{
		TransactionID: c.TransactionID,
		Kind:          domain.KindExternal,
		FromAccount:   c.FromAccount,
		ToAccount:     c.BankAccount,
		BankCode:      c.BankCode,
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

func (a *ExternalTransferAction) Execute(ctx context.Context, cmd domain.Command, t *domain.Transfer) Outcome {
	c := cmd.(domain.ExternalTransferCommand)

	// Earmark the funds under the sender's lock. The lock is released
	// before the gateway call; the hold itself protects the funds while
	// the (potentially slow) external call is in flight.
	if out, ok := a.holdFunds(ctx, t); !ok {
		return out
	}

	res := a.gateway.Call(ctx, domain.SettlementRequest{
		TransactionID: t.TransactionID,
		BankCode:      c.BankCode,
		BankAccount:   c.BankAccount,
		Amount:        t.Amount,
		Memo:          t.Memo,
	})

	switch res.Status {
	case domain.SettlementSuccess:
		return a.settle(ctx, t, res.BankTransactionID)
	case domain.SettlementFailure:
		a.releaseHold(ctx, t)
		return Outcome{
			Status: domain.TransferFailed,
			Reason: fmt.Sprintf("settlement declined: %s %s", res.Code, res.Message),
		}
	case domain.SettlementTimeout:
		// The money's fate is unknown, not failed. Keep the hold; only
		// the reconciliation sweeper may resolve this.
		return Outcome{Status: domain.TransferTimeout, Reason: res.Message}
	case domain.SettlementPending:
		return Outcome{
			Status: domain.TransferUnknown,
			Reason: "settlement accepted, awaiting confirmation",
			Code:   domain.CodeSettlementPending,
		}
	default:
		return Outcome{Status: domain.TransferUnknown, Reason: res.Message}
	}
}

func (a *ExternalTransferAction) holdFunds(ctx context.Context, t *domain.Transfer) (Outcome, bool) {
	handle, err := a.locks.Acquire(ctx, []string{t.FromAccount}, a.lockTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return Outcome{
				Status: domain.TransferFailed,
				Reason: "account lock contention",
				Code:   domain.CodeLockContention,
			}, false
		}
		return Outcome{Status: domain.TransferFailed, Reason: err.Error()}, false
	}
	defer a.locks.Release(ctx, handle)

	err = a.txm.WithTx(ctx, func(txCtx context.Context) error {
		return a.held.Hold(txCtx, t.FromAccount, t.Amount)
	})
	if err != nil {
		return Outcome{Status: domain.TransferFailed, Reason: err.Error()}, false
	}
	return Outcome{}, true
}

// settle converts the hold into a real debit and records the bank's
// transaction id, all under the sender's lock.
func (a *ExternalTransferAction) settle(ctx context.Context, t *domain.Transfer, bankTxID string) Outcome {
	handle, err := a.locks.Acquire(ctx, []string{t.FromAccount}, a.lockTimeout)
	if err != nil {
		// Money moved on the bank side but we could not debit yet.
		// Surface UNKNOWN so the sweeper completes the bookkeeping.
		return Outcome{
			Status:            domain.TransferUnknown,
			BankTransactionID: bankTxID,
			Reason:            "settled externally, local debit pending",
		}
	}
	defer a.locks.Release(ctx, handle)

	err = a.txm.WithTx(ctx, func(txCtx context.Context) error {
		if err := a.held.Release(txCtx, t.FromAccount, t.Amount); err != nil {
			return err
		}
		sender, err := a.accounts.FindByAccountNumber(txCtx, t.FromAccount)
		if err != nil {
			return err
		}
		if err := sender.Withdraw(t.Amount); err != nil {
			return err
		}
		return a.accounts.Update(txCtx, sender)
	})
	if err != nil {
		return Outcome{
			Status:            domain.TransferUnknown,
			BankTransactionID: bankTxID,
			Reason:            fmt.Sprintf("settled externally, local debit failed: %v", err),
		}
	}
	return Outcome{Status: domain.TransferCompleted, BankTransactionID: bankTxID}
}

func (a *ExternalTransferAction) releaseHold(ctx context.Context, t *domain.Transfer) {
	handle, err := a.locks.Acquire(ctx, []string{t.FromAccount}, a.lockTimeout)
	if err != nil {
		// The hold stays until reconciliation; FAILED transfers with a
		// dangling hold are picked up by manual review.
		return
	}
	defer a.locks.Release(ctx, handle)

	_ = a.txm.WithTx(ctx, func(txCtx context.Context) error {
		return a.held.Release(txCtx, t.FromAccount, t.Amount)
	})
}
