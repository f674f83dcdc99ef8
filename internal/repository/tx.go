package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// TxManager provides scoped transactions. Every atomic operation acquires a
// transaction at its start and is guaranteed a commit or rollback on every
// exit path, including panics.
type TxManager struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTxManager constructs a TxManager over the given database handle. A
// positive timeout bounds every transaction it opens, statements included.
func NewTxManager(db *sqlx.DB, timeout time.Duration) *TxManager {
	return &TxManager{db: db, timeout: timeout}
}

// WithinTx runs fn inside a transaction. A nil error from fn commits; any
// error or panic rolls back. The configured timeout is applied through the
// context; database/sql rolls the transaction back when it expires.
func (m *TxManager) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ext returns the transaction when present, otherwise the base handle, so
// repository queries run identically inside and outside a transaction.
func ext(db sqlx.ExtContext, tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db
}
