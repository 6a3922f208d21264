package repository

import (
	"context"
	"database/sql"
)

// CertificateRepo answers the one question the calibration workflow asks of
// certificate storage: does a current certificate exist for an asset.  File
// upload and retention belong to another service that writes the
// calibration_certificates table.
type CertificateRepo struct {
	db *sql.DB
}

// NewCertificateRepo returns a CertificateRepo bound to db.
func NewCertificateRepo(db *sql.DB) *CertificateRepo { return &CertificateRepo{db: db} }

// HasCurrentCertificateTx reports whether assetID has a certificate marked
// current.  It runs on the caller's transaction so the answer is consistent
// with the asset rows locked there.
func (r *CertificateRepo) HasCurrentCertificateTx(ctx context.Context, tx *sql.Tx, assetID uint64) (bool, error) {
	var ok bool
	const q = `SELECT EXISTS(SELECT 1 FROM calibration_certificates WHERE asset_id = ? AND is_current = 1)`
	if err := tx.QueryRowContext(ctx, q, assetID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
