package database

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
)

// MySQL server error numbers that matter to the pairing engine.
const (
	erDupEntry        = 1062
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
	erLockNowait      = 3572
)

// Classify maps driver errors onto the domain taxonomy.  Lock waits that
// ran out, deadlock victims and expired deadlines become *model.BusyError;
// duplicate keys become *model.ConflictError.  Anything else, including
// errors already in the taxonomy, is returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if model.KindOf(err) != model.KindInternal {
		return err
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erLockWaitTimeout, erLockDeadlock, erLockNowait:
			return &model.BusyError{Op: op, Err: err}
		case erDupEntry:
			return &model.ConflictError{Code: model.ConflictDuplicate, Actual: me.Message}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.BusyError{Op: op, Err: err}
	}
	return err
}
