package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
)

// PairRepo provides access to the assets table and the gauge_set_history
// ledger.  Pairing state is only ever changed through the *Tx methods, which
// lock the rows they touch with SELECT ... FOR UPDATE and write both sides
// of a pair explicitly.  There is no trigger mirroring one side onto the
// other.
type PairRepo struct {
	db *sql.DB
}

// NewPairRepo returns a PairRepo bound to db.  db is only used by the
// read-only lookups; mutating methods run on the caller's transaction.
func NewPairRepo(db *sql.DB) *PairRepo { return &PairRepo{db: db} }

// GetByID loads one asset without locking it.
func (r *PairRepo) GetByID(ctx context.Context, id uint64) (*model.Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err != nil {
		return nil, notFoundAsset(err, id)
	}
	return a, nil
}

// LockAssetsTx takes an exclusive row lock on every id in a single
// statement, in ascending id order, and returns the rows as read under the
// lock.  Two operations locking the same pair from opposite ends therefore
// queue on the same first row instead of deadlocking.  A missing id yields
// a *model.NotFoundError.
func (r *PairRepo) LockAssetsTx(ctx context.Context, tx *sql.Tx, ids ...uint64) (map[uint64]*model.Asset, error) {
	uniq := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	if len(uniq) == 0 {
		return map[uint64]*model.Asset{}, nil
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	placeholders := make([]string, len(uniq))
	args := make([]any, len(uniq))
	for i, id := range uniq {
		placeholders[i] = "?"
		args[i] = id
	}
	q := `SELECT ` + assetColumns + ` FROM assets WHERE id IN (` + strings.Join(placeholders, ", ") + `) ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uint64]*model.Asset, len(uniq))
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range uniq {
		if _, ok := out[id]; !ok {
			return nil, &model.NotFoundError{Entity: "asset", Key: strconv.FormatUint(id, 10)}
		}
	}
	return out, nil
}

// LockPairTx locks an asset together with its companion, if it has one, in
// one ordered statement.  The companion id is read first without a lock and
// then confirmed under the lock; if another transaction re-paired the asset
// in between, a pair_changed conflict is returned and the caller may retry.
// companion is nil for an unpaired asset.
func (r *PairRepo) LockPairTx(ctx context.Context, tx *sql.Tx, id uint64) (asset, companion *model.Asset, err error) {
	asset, companion, _, err = r.lockPair(ctx, tx, id, 0)
	return asset, companion, err
}

// LockPairWithTx is LockPairTx with one more row, other, locked in the same
// statement.  Replacing a companion uses it to hold the current pair and the
// incoming spare at once.
func (r *PairRepo) LockPairWithTx(ctx context.Context, tx *sql.Tx, id, other uint64) (asset, companion, otherAsset *model.Asset, err error) {
	return r.lockPair(ctx, tx, id, other)
}

func (r *PairRepo) lockPair(ctx context.Context, tx *sql.Tx, id, other uint64) (asset, companion, otherAsset *model.Asset, err error) {
	var seen sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT companion_id FROM assets WHERE id = ?`, id).Scan(&seen); err != nil {
		return nil, nil, nil, notFoundAsset(err, id)
	}
	ids := []uint64{id}
	if seen.Valid {
		ids = append(ids, uint64(seen.Int64))
	}
	if other != 0 {
		ids = append(ids, other)
	}
	locked, err := r.LockAssetsTx(ctx, tx, ids...)
	if err != nil {
		var nf *model.NotFoundError
		if errors.As(err, &nf) && seen.Valid && nf.Key == strconv.FormatInt(seen.Int64, 10) {
			return nil, nil, nil, &model.NotFoundError{Entity: "companion", Key: nf.Key}
		}
		return nil, nil, nil, err
	}
	asset = locked[id]
	if other != 0 {
		otherAsset = locked[other]
	}
	switch {
	case asset.CompanionID == nil && !seen.Valid:
		return asset, nil, otherAsset, nil
	case asset.CompanionID == nil || !seen.Valid || *asset.CompanionID != uint64(seen.Int64):
		return nil, nil, nil, &model.ConflictError{
			Code:     model.ConflictPairChanged,
			AssetID:  id,
			Expected: optID(seenPtr(seen)),
			Actual:   optID(asset.CompanionID),
		}
	}
	companion = locked[*asset.CompanionID]
	if companion.CompanionID == nil || *companion.CompanionID != id {
		return nil, nil, nil, &model.ValidationError{
			Rule:   model.RuleCompanionOneSided,
			Field:  "companion_id",
			Values: []string{optID(asset.CompanionID), optID(companion.CompanionID)},
		}
	}
	return asset, companion, otherAsset, nil
}

// CreateSetTx inserts both members of set.  The rows written are the ones
// the aggregate computes (see model.GaugeSet.Records), so identifiers and
// role suffixes cannot be swapped by the caller.  The members are inserted
// unlinked; LinkCompanionsTx pairs them.
func (r *PairRepo) CreateSetTx(ctx context.Context, tx *sql.Tx, set *model.GaugeSet) (goID, noGoID uint64, err error) {
	goRec, noGoRec := set.Records()
	goRec.CompanionID, noGoRec.CompanionID = nil, nil
	if goID, err = r.insertAssetTx(ctx, tx, &goRec); err != nil {
		return 0, 0, err
	}
	if noGoID, err = r.insertAssetTx(ctx, tx, &noGoRec); err != nil {
		return 0, 0, err
	}
	return goID, noGoID, nil
}

// CreateSpareTx inserts a standalone asset.  It is always stored unpaired,
// without a base identifier and flagged as spare.
func (r *PairRepo) CreateSpareTx(ctx context.Context, tx *sql.Tx, a *model.Asset) (uint64, error) {
	rec := *a
	rec.BaseID = nil
	rec.CompanionID = nil
	rec.IsSpare = rec.CanBecomeSpare()
	return r.insertAssetTx(ctx, tx, &rec)
}

func (r *PairRepo) insertAssetTx(ctx context.Context, tx *sql.Tx, a *model.Asset) (uint64, error) {
	const q = `INSERT INTO assets (gauge_id, base_identifier, role_suffix, companion_id,
                    equipment_classification, category_id, thread_size, thread_class, thread_form,
                    status, is_sealed, is_spare, storage_location)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	size, class, form := threadArgs(a.Thread)
	res, err := tx.ExecContext(ctx, q,
		a.GaugeID, nullString(a.BaseID), nullSuffix(a.Suffix), nullID(a.CompanionID),
		string(a.Classification), a.CategoryID, size, class, form,
		string(a.Status), a.IsSealed, a.IsSpare, a.StorageLocation,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// LinkCompanionsTx pairs idA and idB.  Both rows are locked in one ordered
// statement and their companion_id re-read under the lock; if either is
// already paired the call fails with an already_paired conflict before any
// write.  Otherwise two explicit updates point each row at the other.
func (r *PairRepo) LinkCompanionsTx(ctx context.Context, tx *sql.Tx, idA, idB uint64) error {
	if idA == idB {
		return &model.ValidationError{Rule: model.RuleSameAsset, Field: "id", Values: []string{strconv.FormatUint(idA, 10), strconv.FormatUint(idB, 10)}}
	}
	locked, err := r.LockAssetsTx(ctx, tx, idA, idB)
	if err != nil {
		return err
	}
	for _, id := range []uint64{idA, idB} {
		if a := locked[id]; a.CompanionID != nil {
			return &model.ConflictError{Code: model.ConflictAlreadyPaired, AssetID: id, Expected: "null", Actual: optID(a.CompanionID)}
		}
	}
	const q = `UPDATE assets SET companion_id = ?, is_spare = 0, version = version + 1 WHERE id = ?`
	for _, pair := range [][2]uint64{{idA, idB}, {idB, idA}} {
		res, err := tx.ExecContext(ctx, q, pair[1], pair[0])
		if err != nil {
			return err
		}
		if err := expectOneRow(res, pair[0]); err != nil {
			return err
		}
	}
	return nil
}

// UnlinkCompanionsTx clears the pairing of id and its companion in the
// caller's transaction and returns the former companion's id.  Both rows
// lose their base identifier and take a spare identifier; each is flagged
// spare unless it is retired.  An unpaired id is a not_paired conflict.
func (r *PairRepo) UnlinkCompanionsTx(ctx context.Context, tx *sql.Tx, id uint64) (uint64, error) {
	asset, companion, err := r.LockPairTx(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if companion == nil {
		return 0, &model.ConflictError{Code: model.ConflictNotPaired, AssetID: id, Expected: "paired", Actual: "unpaired"}
	}
	const q = `UPDATE assets
               SET companion_id = NULL, base_identifier = NULL, gauge_id = ?, is_spare = ?, version = version + 1
               WHERE id = ?`
	for _, a := range []*model.Asset{asset, companion} {
		res, err := tx.ExecContext(ctx, q, model.SpareGaugeID(a.ID, a.SuffixValue()), a.CanBecomeSpare(), a.ID)
		if err != nil {
			return 0, err
		}
		if err := expectOneRow(res, a.ID); err != nil {
			return 0, err
		}
	}
	return companion.ID, nil
}

// AdoptIntoSetTx stamps a set identity (identifier, base identifier, role
// suffix) onto an existing unpaired row and clears its spare flag.  rec is
// expected to come from model.GaugeSet.Records.
func (r *PairRepo) AdoptIntoSetTx(ctx context.Context, tx *sql.Tx, rec model.Asset) error {
	const q = `UPDATE assets
               SET gauge_id = ?, base_identifier = ?, role_suffix = ?, is_spare = 0, version = version + 1
               WHERE id = ? AND companion_id IS NULL`
	res, err := tx.ExecContext(ctx, q, rec.GaugeID, nullString(rec.BaseID), nullSuffix(rec.Suffix), rec.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &model.ConflictError{Code: model.ConflictAlreadyPaired, AssetID: rec.ID, Expected: "null", Actual: "paired"}
	}
	return nil
}

// UpdateStatusTx writes a calibration status change.  Nil fields of ch are
// left as stored; a retired asset also leaves the spare pool.
func (r *PairRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, ch model.StatusChange) error {
	sets := []string{"status = ?"}
	args := []any{string(ch.Status)}
	if ch.IsSealed != nil {
		sets = append(sets, "is_sealed = ?")
		args = append(args, *ch.IsSealed)
	}
	if ch.Location != nil {
		sets = append(sets, "storage_location = ?")
		args = append(args, *ch.Location)
	}
	if ch.Status == model.StatusRetired {
		sets = append(sets, "is_spare = 0")
	}
	sets = append(sets, "version = version + 1")
	args = append(args, id)
	res, err := tx.ExecContext(ctx, `UPDATE assets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// BaseIDInUseTx reports whether any asset currently carries baseID.
func (r *PairRepo) BaseIDInUseTx(ctx context.Context, tx *sql.Tx, baseID string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE base_identifier = ?`, baseID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindSpares lists unpaired spares matching f, ordered by id.  It is a plain
// read used to drive the pairing UI; nothing is locked.
func (r *PairRepo) FindSpares(ctx context.Context, f model.SpareFilter) ([]model.Asset, error) {
	where := []string{"is_spare = 1", "companion_id IS NULL"}
	args := []any{}
	if f.CategoryID != 0 {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Suffix != "" {
		where = append(where, "role_suffix = ?")
		args = append(args, string(f.Suffix))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Classification != "" {
		where = append(where, "equipment_classification = ?")
		args = append(args, string(f.Classification))
	}
	if f.Thread != nil {
		where = append(where, "thread_size = ?", "thread_class = ?", "thread_form = ?")
		args = append(args, f.Thread.Size, f.Thread.Class, f.Thread.Form)
	}
	q := `SELECT ` + assetColumns + ` FROM assets WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	spares := make([]model.Asset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		spares = append(spares, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return spares, nil
}

// GetSetByBaseID rebuilds the set carrying baseID from its two rows and
// validates it as an aggregate.  A base identifier with no rows is a
// *model.NotFoundError; a set missing a member reports that member.
func (r *PairRepo) GetSetByBaseID(ctx context.Context, baseID string) (*model.GaugeSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE base_identifier = ? ORDER BY role_suffix, id`, baseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var goGauge, noGo *model.Asset
	found := 0
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		found++
		switch a.SuffixValue() {
		case model.SuffixGo:
			goGauge = a
		case model.SuffixNoGo:
			noGo = a
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, &model.NotFoundError{Entity: "gauge_set", Key: baseID}
	}
	if goGauge == nil {
		return nil, &model.NotFoundError{Entity: "gauge_set_member", Key: baseID + string(model.SuffixGo)}
	}
	if noGo == nil {
		return nil, &model.NotFoundError{Entity: "gauge_set_member", Key: baseID + string(model.SuffixNoGo)}
	}
	return model.NewGaugeSet(baseID, *goGauge, *noGo, model.SetOptions{})
}

// EmitHistoryTx appends one row to the pairing history ledger.  Rows are
// never updated afterwards.
func (r *PairRepo) EmitHistoryTx(ctx context.Context, tx *sql.Tx, h model.PairHistory) error {
	var meta any
	if len(h.Metadata) > 0 {
		b, err := json.Marshal(h.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	var reason any
	if strings.TrimSpace(h.Reason) != "" {
		reason = h.Reason
	}
	const q = `INSERT INTO gauge_set_history (go_id, nogo_id, base_identifier, action, actor_id, reason, metadata, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP())`
	_, err := tx.ExecContext(ctx, q, h.GoID, h.NoGoID, h.BaseID, string(h.Action), h.ActorID, reason, meta)
	return err
}

// BaseIDRetiredTx reports whether the ledger holds a base-retiring action
// for baseID.
func (r *PairRepo) BaseIDRetiredTx(ctx context.Context, tx *sql.Tx, baseID string) (bool, error) {
	actions := model.BaseRetiringActions()
	marks := make([]string, len(actions))
	args := []any{baseID}
	for i, a := range actions {
		marks[i] = "?"
		args = append(args, string(a))
	}
	q := `SELECT EXISTS(SELECT 1 FROM gauge_set_history WHERE base_identifier = ? AND action IN (` +
		strings.Join(marks, ", ") + `))`
	var retired bool
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&retired); err != nil {
		return false, err
	}
	return retired, nil
}

// ListHistory returns the ledger rows for baseID, oldest first.
func (r *PairRepo) ListHistory(ctx context.Context, baseID string) ([]model.PairHistory, error) {
	const q = `SELECT id, go_id, nogo_id, base_identifier, action, actor_id, reason, metadata, created_at
               FROM gauge_set_history WHERE base_identifier = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q, baseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.PairHistory, 0)
	for rows.Next() {
		var (
			h      model.PairHistory
			action string
			reason sql.NullString
			meta   []byte
		)
		if err := rows.Scan(&h.ID, &h.GoID, &h.NoGoID, &h.BaseID, &action, &h.ActorID, &reason, &meta, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Action = model.PairAction(action)
		h.Reason = reason.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &h.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func optID(id *uint64) string {
	if id == nil {
		return "null"
	}
	return strconv.FormatUint(*id, 10)
}

func seenPtr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	id := uint64(v.Int64)
	return &id
}
