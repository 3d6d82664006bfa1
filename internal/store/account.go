package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// AccountStore implements domain.AccountRepository over PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountColumns = "account_number, owner_id, balance, status, version, created_at, updated_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.AccountNumber, &a.OwnerID, &a.Balance, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account scan failed: %w", err)
	}
	return &a, nil
}

func (s *AccountStore) FindByAccountNumber(ctx context.Context, number string) (*domain.Account, error) {
	return scanAccount(q(ctx, s.pool).QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE account_number = $1", number))
}

func (s *AccountStore) FindPrimaryAccount(ctx context.Context, ownerID string) (*domain.Account, error) {
	return scanAccount(q(ctx, s.pool).QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE owner_id = $1 ORDER BY created_at LIMIT 1", ownerID))
}

func (s *AccountStore) Create(ctx context.Context, a *domain.Account) error {
	_, err := q(ctx, s.pool).Exec(ctx,
		`INSERT INTO accounts (account_number, owner_id, balance, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())`,
		a.AccountNumber, a.OwnerID, a.Balance, a.Status, a.Version)
	if err != nil {
		return fmt.Errorf("account insert failed: %w", err)
	}
	return nil
}

// Update writes the mutated balance guarded by the optimistic version
// token; zero rows touched means the version moved under us. The
// non-negative invariant is also a CHECK constraint on the table.
func (s *AccountStore) Update(ctx context.Context, a *domain.Account) error {
	tag, err := q(ctx, s.pool).Exec(ctx,
		`UPDATE accounts
		 SET balance = $1, status = $2, version = version + 1, updated_at = now()
		 WHERE account_number = $3 AND version = $4`,
		a.Balance, a.Status, a.AccountNumber, a.Version)
	if err != nil {
		return fmt.Errorf("account update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	a.Version++
	return nil
}
