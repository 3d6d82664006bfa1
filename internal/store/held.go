package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// HeldBalanceStore implements domain.HeldBalanceRepository. The held <=
// balance invariant is enforced in SQL against the live account row, so
// two racing holds cannot overcommit.
type HeldBalanceStore struct {
	pool *pgxpool.Pool
}

func NewHeldBalanceStore(pool *pgxpool.Pool) *HeldBalanceStore {
	return &HeldBalanceStore{pool: pool}
}

func (s *HeldBalanceStore) Held(ctx context.Context, accountNumber string) (decimal.Decimal, error) {
	var held decimal.Decimal
	err := q(ctx, s.pool).QueryRow(ctx,
		"SELECT held FROM held_balances WHERE account_number = $1", accountNumber).Scan(&held)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("held balance query failed: %w", err)
	}
	return held, nil
}

func (s *HeldBalanceStore) Hold(ctx context.Context, accountNumber string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	tag, err := q(ctx, s.pool).Exec(ctx,
		`INSERT INTO held_balances (account_number, held, updated_at)
		 SELECT a.account_number, $2, now() FROM accounts a
		 WHERE a.account_number = $1 AND a.balance >= $2
		 ON CONFLICT (account_number) DO UPDATE
		 SET held = held_balances.held + $2, updated_at = now()
		 WHERE held_balances.held + $2 <= (SELECT balance FROM accounts WHERE account_number = $1)`,
		accountNumber, amount)
	if err != nil {
		return fmt.Errorf("hold failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldExceedsBalance
	}
	return nil
}

func (s *HeldBalanceStore) Release(ctx context.Context, accountNumber string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	tag, err := q(ctx, s.pool).Exec(ctx,
		`UPDATE held_balances SET held = held - $2, updated_at = now()
		 WHERE account_number = $1 AND held >= $2`,
		accountNumber, amount)
	if err != nil {
		return fmt.Errorf("hold release failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoHeldFunds
	}
	return nil
}
