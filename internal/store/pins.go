package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// PinStore verifies transfer PINs against the hash stored with the
// account. Hash comparison is constant time.
type PinStore struct {
	pool *pgxpool.Pool
}

func NewPinStore(pool *pgxpool.Pool) *PinStore {
	return &PinStore{pool: pool}
}

func (s *PinStore) VerifyPin(ctx context.Context, accountNumber, pin string) error {
	var stored string
	err := q(ctx, s.pool).QueryRow(ctx,
		"SELECT pin_hash FROM accounts WHERE account_number = $1", accountNumber).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("pin lookup failed: %w", err)
	}
	if stored == "" {
		return domain.ErrInvalidPin
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(HashPin(pin))) != 1 {
		return domain.ErrInvalidPin
	}
	return nil
}

// SetPin stores the hash of a new PIN.
func (s *PinStore) SetPin(ctx context.Context, accountNumber, pin string) error {
	tag, err := q(ctx, s.pool).Exec(ctx,
		"UPDATE accounts SET pin_hash = $1, updated_at = now() WHERE account_number = $2",
		HashPin(pin), accountNumber)
	if err != nil {
		return fmt.Errorf("pin update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// HashPin derives the stored digest for a PIN.
func HashPin(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}
