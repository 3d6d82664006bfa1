package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus marks whether an account may participate in transfers.
type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
)

// Account is a wallet ledger account. Balance is mutated only through
// Withdraw/Deposit so the non-negative invariant holds everywhere.
// Version is the optimistic-lock token: every balance mutation bumps it,
// and the store refuses an update whose version no longer matches.
type Account struct {
	AccountNumber string
	OwnerID       string
	Balance       decimal.Decimal
	Status        AccountStatus
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Withdraw subtracts amount from the balance.
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if a.Status != AccountActive {
		return ErrAccountInactive
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	next := a.Balance.Sub(amount)
	if next.Sign() < 0 {
		return ErrInsufficientFunds
	}
	a.Balance = next
	a.UpdatedAt = time.Now()
	return nil
}

// Deposit adds amount to the balance.
func (a *Account) Deposit(amount decimal.Decimal) error {
	if a.Status != AccountActive {
		return ErrAccountInactive
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = time.Now()
	return nil
}

// HeldBalance tracks funds earmarked for an in-flight external transfer
// but not yet debited. Keyed 1:1 with the account by account number.
// Invariant: Held <= the account's balance.
type HeldBalance struct {
	AccountNumber string
	Held          decimal.Decimal
	UpdatedAt     time.Time
}
