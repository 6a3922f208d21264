// Package repository holds the SQL access for assets, the pairing history
// ledger, certificates and audit rows.  Mutating methods take the caller's
// *sql.Tx and never begin or commit a transaction of their own; the service
// layer owns the transaction boundary.  Failures are reported with the
// typed errors of the model package so that the layers above can tell a
// missing row from a row in the wrong state.
package repository

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
)

// notFoundAsset wraps sql.ErrNoRows into the typed not-found error.
func notFoundAsset(err error, id uint64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Entity: "asset", Key: strconv.FormatUint(id, 10)}
	}
	return err
}

// expectOneRow turns an UPDATE that touched no row into a not-found error.
func expectOneRow(res sql.Result, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &model.NotFoundError{Entity: "asset", Key: strconv.FormatUint(id, 10)}
	}
	return nil
}
