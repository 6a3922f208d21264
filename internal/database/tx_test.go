package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
)

func setupRunner(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TxRunner) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewTxRunner(db, 3*time.Second)
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	db, mock, runner := setupRunner(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET SESSION innodb_lock_wait_timeout = 3`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE assets`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := runner.InTx(context.Background(), "test", func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE assets SET status = 'available' WHERE id = 1`)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db, mock, runner := setupRunner(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET SESSION innodb_lock_wait_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	want := &model.ConflictError{Code: model.ConflictAlreadyPaired, AssetID: 1}
	err := runner.InTx(context.Background(), "test", func(tx *sql.Tx) error { return want })
	assert.Same(t, want, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_LockTimeoutIsBusy(t *testing.T) {
	db, mock, runner := setupRunner(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET SESSION innodb_lock_wait_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})
	mock.ExpectRollback()

	err := runner.InTx(context.Background(), "pair.unpair", func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM assets WHERE id IN (1, 2) ORDER BY id FOR UPDATE`)
		if err != nil {
			return err
		}
		return rows.Close()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrBusy)
	var be *model.BusyError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "pair.unpair", be.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewTxRunner_RoundsUpLockWait(t *testing.T) {
	runner := NewTxRunner(nil, 200*time.Millisecond)
	assert.Equal(t, time.Second, runner.lockWait)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind model.Kind
	}{
		{"deadlock", &mysql.MySQLError{Number: 1213}, model.KindBusy},
		{"nowait", fmt.Errorf("lock: %w", &mysql.MySQLError{Number: 3572}), model.KindBusy},
		{"duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'TG0100A'"}, model.KindConflict},
		{"deadline", context.DeadlineExceeded, model.KindBusy},
		{"typed passes through", &model.NotFoundError{Entity: "asset", Key: "1"}, model.KindNotFound},
		{"other", errors.New("boom"), model.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, model.KindOf(Classify("op", tc.err)))
		})
	}
	assert.NoError(t, Classify("op", nil))
}
