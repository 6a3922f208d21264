package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TxRunner opens the single transaction a service operation runs in.  It
// is the only place in the module that begins, commits or rolls back.
type TxRunner struct {
	db       *sql.DB
	lockWait time.Duration
}

// NewTxRunner returns a runner on db.  lockWait bounds how long a row lock
// may be waited for before the statement fails; values below one second
// are rounded up because InnoDB counts whole seconds.
func NewTxRunner(db *sql.DB, lockWait time.Duration) *TxRunner {
	if lockWait < time.Second {
		lockWait = time.Second
	}
	return &TxRunner{db: db, lockWait: lockWait}
}

// InTx runs fn inside one transaction.  The transaction is committed when
// fn returns nil and rolled back otherwise; locks taken inside fn are held
// until then.  Errors are passed through Classify so lock timeouts surface
// as retryable busy errors.
func (r *TxRunner) InTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(op, fmt.Errorf("begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	// The wait applies to this session only and is reset by the next InTx.
	secs := int(r.lockWait / time.Second)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)); err != nil {
		return Classify(op, fmt.Errorf("lock wait: %w", err))
	}
	if err := fn(tx); err != nil {
		return Classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return Classify(op, fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}
