package repository

import (
	"database/sql"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
)

// assetColumns is the column list every asset SELECT uses; scanAsset reads
// it back in the same order.
const assetColumns = `id, gauge_id, base_identifier, role_suffix, companion_id,
       equipment_classification, category_id, thread_size, thread_class, thread_form,
       status, is_sealed, is_spare, storage_location, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAsset reads one asset row.  Nullable columns become nil pointers; a
// thread spec is only set when at least one of its parts is stored.
func scanAsset(s rowScanner) (*model.Asset, error) {
	var (
		a                                 model.Asset
		base, suffix                      sql.NullString
		companion                         sql.NullInt64
		threadSize, threadClass, threadFm sql.NullString
		location                          sql.NullString
		classification, status            string
	)
	if err := s.Scan(
		&a.ID, &a.GaugeID, &base, &suffix, &companion,
		&classification, &a.CategoryID, &threadSize, &threadClass, &threadFm,
		&status, &a.IsSealed, &a.IsSpare, &location, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Classification = model.Classification(classification)
	a.Status = model.Status(status)
	if base.Valid {
		b := base.String
		a.BaseID = &b
	}
	if suffix.Valid {
		sfx := model.Suffix(suffix.String)
		a.Suffix = &sfx
	}
	if companion.Valid {
		cid := uint64(companion.Int64)
		a.CompanionID = &cid
	}
	if threadSize.Valid || threadClass.Valid || threadFm.Valid {
		a.Thread = &model.ThreadSpec{Size: threadSize.String, Class: threadClass.String, Form: threadFm.String}
	}
	a.StorageLocation = location.String
	return &a, nil
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullSuffix(p *model.Suffix) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func nullID(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

func threadArgs(t *model.ThreadSpec) (any, any, any) {
	if t == nil {
		return nil, nil, nil
	}
	return t.Size, t.Class, t.Form
}
