package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// LockStore implements domain.LockRepository. A lock is one row keyed by
// lock_key; the insert is gated on "no unexpired row exists" so an
// expired holder cannot block a new owner.
type LockStore struct {
	pool *pgxpool.Pool
}

func NewLockStore(pool *pgxpool.Pool) *LockStore {
	return &LockStore{pool: pool}
}

func (s *LockStore) TryInsert(ctx context.Context, lock domain.DistributedLock) (bool, error) {
	tag, err := q(ctx, s.pool).Exec(ctx,
		`INSERT INTO distributed_locks (lock_key, owner_id, created_at, expires_at)
		 SELECT $1, $2, $3, $4
		 WHERE NOT EXISTS (
		   SELECT 1 FROM distributed_locks WHERE lock_key = $1 AND expires_at > $3
		 )
		 ON CONFLICT (lock_key) DO NOTHING`,
		lock.LockKey, lock.OwnerID, lock.CreatedAt, lock.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("lock insert failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *LockStore) Delete(ctx context.Context, key, ownerID string) error {
	_, err := q(ctx, s.pool).Exec(ctx,
		"DELETE FROM distributed_locks WHERE lock_key = $1 AND owner_id = $2", key, ownerID)
	if err != nil {
		return fmt.Errorf("lock delete failed: %w", err)
	}
	return nil
}

func (s *LockStore) DeleteExpired(ctx context.Context, key string, now time.Time) error {
	_, err := q(ctx, s.pool).Exec(ctx,
		"DELETE FROM distributed_locks WHERE lock_key = $1 AND expires_at <= $2", key, now)
	if err != nil {
		return fmt.Errorf("expired lock sweep failed: %w", err)
	}
	return nil
}
