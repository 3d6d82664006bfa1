package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// TransferStore implements domain.TransferRepository.
type TransferStore struct {
	pool *pgxpool.Pool
}

func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

const transferColumns = `transaction_id, kind, from_account, to_account, bank_code, amount, memo,
	status, bank_transaction_id, failure_reason, needs_review, created_at, processed_at`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	err := row.Scan(&t.TransactionID, &t.Kind, &t.FromAccount, &t.ToAccount, &t.BankCode,
		&t.Amount, &t.Memo, &t.Status, &t.BankTransactionID, &t.FailureReason,
		&t.NeedsReview, &t.CreatedAt, &t.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("transfer scan failed: %w", err)
	}
	return &t, nil
}

func (s *TransferStore) Create(ctx context.Context, t *domain.Transfer) error {
	_, err := q(ctx, s.pool).Exec(ctx,
		`INSERT INTO transfers (transaction_id, kind, from_account, to_account, bank_code, amount,
		   memo, status, bank_transaction_id, failure_reason, needs_review, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())`,
		t.TransactionID, t.Kind, t.FromAccount, t.ToAccount, t.BankCode, t.Amount,
		t.Memo, t.Status, t.BankTransactionID, t.FailureReason, t.NeedsReview)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateTransaction
		}
		return fmt.Errorf("transfer insert failed: %w", err)
	}
	return nil
}

func (s *TransferStore) FindByTransactionID(ctx context.Context, txID string) (*domain.Transfer, error) {
	return scanTransfer(q(ctx, s.pool).QueryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE transaction_id = $1", txID))
}

// Update refuses to mutate a transfer already in a terminal state; the
// predicate makes terminal rows immutable at the store level.
func (s *TransferStore) Update(ctx context.Context, t *domain.Transfer) error {
	tag, err := q(ctx, s.pool).Exec(ctx,
		`UPDATE transfers
		 SET status = $1, bank_transaction_id = $2, failure_reason = $3, needs_review = $4,
		     processed_at = $5
		 WHERE transaction_id = $6
		   AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')`,
		t.Status, t.BankTransactionID, t.FailureReason, t.NeedsReview, t.ProcessedAt,
		t.TransactionID)
	if err != nil {
		return fmt.Errorf("transfer update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransferNotFound
	}
	return nil
}

func (s *TransferStore) FindPendingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transfer, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		"SELECT "+transferColumns+` FROM transfers
		 WHERE status IN ('TIMEOUT', 'UNKNOWN') AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("pending confirmation query failed: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
