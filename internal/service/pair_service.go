package service

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
	"github.com/iliyamo/gauge-set-tracker/internal/queue"
)

// PairService orchestrates the pairing operations.  Each one validates with
// the domain model, then locks, mutates, records history and audits inside
// one transaction.  Any error rolls the whole transaction back.
type PairService struct {
	runner TxRunner
	pairs  PairStore
	audit  AuditLogger
	notifier
}

// NewPairService wires a PairService.  events may be nil to disable event
// publishing.
func NewPairService(runner TxRunner, pairs PairStore, audit AuditLogger, events EventPublisher, logger *zap.Logger) *PairService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PairService{
		runner:   runner,
		pairs:    pairs,
		audit:    audit,
		notifier: notifier{events: events, logger: logger},
	}
}

// PairInput selects two spares to join under a base identifier.
type PairInput struct {
	BaseID string
	GoID   uint64
	NoGoID uint64
	Reason string
}

// ReplaceInput swaps the companion of ExistingID for ReplacementID.
// ExpectedVersion, when set, must equal the existing member's version as
// read under the lock.
type ReplaceInput struct {
	ExistingID      uint64
	ReplacementID   uint64
	Reason          string
	ExpectedVersion *uint32
}

// ReplaceResult is the set after a replacement and the demoted member.
type ReplaceResult struct {
	Set      *model.GaugeSet `json:"set"`
	Replaced model.Asset     `json:"replaced"`
}

// UnpairInput dissolves the pair ID belongs to.
type UnpairInput struct {
	ID              uint64
	Reason          string
	ExpectedVersion *uint32
}

// UnpairResult holds both former members as stored after the unpair.
type UnpairResult struct {
	BaseID string      `json:"base_id"`
	Go     model.Asset `json:"go"`
	NoGo   model.Asset `json:"nogo"`
}

// CompatibilityReport is the outcome of a pairing dry run.  Compatible
// covers the set invariants only; Blockers lists state that would still
// stop the pair from being linked right now.
type CompatibilityReport struct {
	GoID       uint64     `json:"go_id"`
	NoGoID     uint64     `json:"nogo_id"`
	Compatible bool       `json:"compatible"`
	Rule       model.Rule `json:"rule,omitempty"`
	Field      string     `json:"field,omitempty"`
	Values     []string   `json:"values,omitempty"`
	Blockers   []string   `json:"blockers,omitempty"`
}

// CreateGaugeSet creates both members of a new set and links them.  The
// base identifier must never have been unpaired or retired and must not be
// carried by any asset.
func (s *PairService) CreateGaugeSet(ctx context.Context, spec model.SetSpec, actorID uint64) (*model.GaugeSet, error) {
	const op = "pair.create_set"
	set, err := model.NewSetFromSpec(spec, model.SetOptions{})
	if err != nil {
		return nil, s.failed(op, err, zap.String("base_id", spec.BaseID))
	}

	var out *model.GaugeSet
	err = s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		if err := s.checkBaseAvailable(ctx, tx, set); err != nil {
			return err
		}
		goID, noGoID, err := s.pairs.CreateSetTx(ctx, tx, set)
		if err != nil {
			return err
		}
		if err := s.pairs.LinkCompanionsTx(ctx, tx, goID, noGoID); err != nil {
			return err
		}
		if err := s.pairs.EmitHistoryTx(ctx, tx, model.PairHistory{
			GoID: goID, NoGoID: noGoID, BaseID: set.BaseID, Action: model.ActionCreate, ActorID: actorID,
		}); err != nil {
			return err
		}
		if out, err = s.reloadSet(ctx, tx, set.BaseID, goID, noGoID); err != nil {
			return err
		}
		return s.audit.CreateAuditLogTx(ctx, tx, model.AuditEntry{
			ActorID: actorID, Action: "gauge_set.create", EntityType: "gauge_set", EntityID: goID, After: out,
		})
	})
	if err != nil {
		return nil, s.failed(op, err, zap.String("base_id", set.BaseID))
	}

	s.logger.Info("gauge set created",
		zap.String("base_id", out.BaseID), zap.Uint64("go_id", out.Go.ID), zap.Uint64("nogo_id", out.NoGo.ID), zap.Uint64("actor_id", actorID))
	ev := queue.NewGaugeEvent(queue.EventSetCreated, actorID, out.Go.ID, out.NoGo.ID)
	ev.BaseID = out.BaseID
	s.publish(ctx, ev)
	return out, nil
}

// CreateSpare stores a standalone, unpaired asset in the spare pool.
func (s *PairService) CreateSpare(ctx context.Context, a model.Asset, actorID uint64) (*model.Asset, error) {
	const op = "pair.create_spare"
	a.ID = 0
	a.BaseID = nil
	a.CompanionID = nil
	a.GaugeID = strings.TrimSpace(a.GaugeID)
	if a.Status == "" {
		a.Status = model.StatusAvailable
	}
	if err := model.ValidateAsset(&a); err != nil {
		return nil, s.failed(op, err, zap.String("gauge_id", a.GaugeID))
	}
	if err := model.CheckIdentifier("gauge_id", a.GaugeID); err != nil {
		return nil, s.failed(op, err, zap.String("gauge_id", a.GaugeID))
	}

	var out *model.Asset
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		id, err := s.pairs.CreateSpareTx(ctx, tx, &a)
		if err != nil {
			return err
		}
		rows, err := s.pairs.LockAssetsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out = rows[id]
		return s.audit.CreateAuditLogTx(ctx, tx, model.AuditEntry{
			ActorID: actorID, Action: "spare.create", EntityType: "asset", EntityID: id, After: out,
		})
	})
	if err != nil {
		return nil, s.failed(op, err, zap.String("gauge_id", a.GaugeID))
	}

	s.logger.Info("spare created", zap.Uint64("asset_id", out.ID), zap.String("gauge_id", out.GaugeID), zap.Uint64("actor_id", actorID))
	s.publish(ctx, queue.NewGaugeEvent(queue.EventSpareCreated, actorID, out.ID))
	return out, nil
}

// PairSpareGauges joins two unpaired spares into a set carrying in.BaseID.
// Both rows are locked, then re-validated as an aggregate; the GO spare
// must carry suffix A and the NO-GO spare suffix B.
func (s *PairService) PairSpareGauges(ctx context.Context, in PairInput, actorID uint64) (*model.GaugeSet, error) {
	const op = "pair.pair_spares"
	if in.GoID == in.NoGoID {
		return nil, s.failed(op, sameAsset(in.GoID, in.NoGoID))
	}

	var out *model.GaugeSet
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		rows, err := s.pairs.LockAssetsTx(ctx, tx, in.GoID, in.NoGoID)
		if err != nil {
			return err
		}
		goSpare, noGoSpare := rows[in.GoID], rows[in.NoGoID]
		for _, a := range []*model.Asset{goSpare, noGoSpare} {
			if err := requireSpare(a); err != nil {
				return err
			}
		}
		set, err := model.NewSetFromSpares(in.BaseID, *goSpare, *noGoSpare, model.SetOptions{})
		if err != nil {
			return err
		}
		if err := s.checkBaseAvailable(ctx, tx, set); err != nil {
			return err
		}
		if err := s.adopt(ctx, tx, set); err != nil {
			return err
		}
		if err := s.pairs.LinkCompanionsTx(ctx, tx, in.GoID, in.NoGoID); err != nil {
			return err
		}
		if err := s.pairs.EmitHistoryTx(ctx, tx, model.PairHistory{
			GoID: in.GoID, NoGoID: in.NoGoID, BaseID: set.BaseID, Action: model.ActionPair, ActorID: actorID, Reason: in.Reason,
		}); err != nil {
			return err
		}
		if out, err = s.reloadSet(ctx, tx, set.BaseID, in.GoID, in.NoGoID); err != nil {
			return err
		}
		return s.audit.CreateAuditLogTx(ctx, tx, model.AuditEntry{
			ActorID: actorID, Action: "gauge_set.pair", EntityType: "gauge_set", EntityID: in.GoID,
			Before: []model.Asset{*goSpare, *noGoSpare}, After: out,
		})
	})
	if err != nil {
		return nil, s.failed(op, err, zap.String("base_id", in.BaseID), zap.Uint64("go_id", in.GoID), zap.Uint64("nogo_id", in.NoGoID))
	}

	s.logger.Info("spares paired",
		zap.String("base_id", out.BaseID), zap.Uint64("go_id", out.Go.ID), zap.Uint64("nogo_id", out.NoGo.ID), zap.Uint64("actor_id", actorID))
	ev := queue.NewGaugeEvent(queue.EventSetPaired, actorID, out.Go.ID, out.NoGo.ID)
	ev.BaseID, ev.Reason = out.BaseID, in.Reason
	s.publish(ctx, ev)
	return out, nil
}

// ReplaceCompanion swaps the companion of in.ExistingID for a spare,
// keeping the set's base identifier.  The current pair and the spare are
// locked in one statement; the old companion is demoted to the spare pool
// and the spare takes its role in the same transaction.
func (s *PairService) ReplaceCompanion(ctx context.Context, in ReplaceInput, actorID uint64) (*ReplaceResult, error) {
	const op = "pair.replace_companion"
	if in.ExistingID == in.ReplacementID {
		return nil, s.failed(op, sameAsset(in.ExistingID, in.ReplacementID))
	}

	var out *ReplaceResult
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		existing, old, spare, err := s.pairs.LockPairWithTx(ctx, tx, in.ExistingID, in.ReplacementID)
		if err != nil {
			return err
		}
		if old == nil {
			return &model.ConflictError{Code: model.ConflictNotPaired, AssetID: existing.ID, Expected: "paired", Actual: "unpaired"}
		}
		if err := checkVersion(existing, in.ExpectedVersion); err != nil {
			return err
		}
		if spare.ID == old.ID {
			return &model.ConflictError{Code: model.ConflictAlreadyPaired, AssetID: spare.ID, Expected: "null", Actual: strconv.FormatUint(existing.ID, 10)}
		}
		if err := requireSpare(spare); err != nil {
			return err
		}

		base := existing.BaseValue()
		if base == "" {
			base = old.BaseValue()
		}
		kept := *existing
		kept.CompanionID = nil
		goA, noGoA := kept, *spare
		if existing.SuffixValue() == model.SuffixNoGo {
			goA, noGoA = *spare, kept
		}
		set, err := model.NewSetFromSpares(base, goA, noGoA, model.SetOptions{})
		if err != nil {
			return err
		}

		if _, err := s.pairs.UnlinkCompanionsTx(ctx, tx, existing.ID); err != nil {
			return err
		}
		if err := s.adopt(ctx, tx, set); err != nil {
			return err
		}
		if err := s.pairs.LinkCompanionsTx(ctx, tx, existing.ID, spare.ID); err != nil {
			return err
		}
		if err := s.pairs.EmitHistoryTx(ctx, tx, model.PairHistory{
			GoID: set.Go.ID, NoGoID: set.NoGo.ID, BaseID: set.BaseID, Action: model.ActionReplace, ActorID: actorID, Reason: in.Reason,
			Metadata: map[string]any{"replaced_id": old.ID, "replacement_id": spare.ID},
		}); err != nil {
			return err
		}

		rows, err := s.pairs.LockAssetsTx(ctx, tx, existing.ID, spare.ID, old.ID)
		if err != nil {
			return err
		}
		out = &ReplaceResult{
			Set:      &model.GaugeSet{BaseID: set.BaseID, Go: *rows[set.Go.ID], NoGo: *rows[set.NoGo.ID]},
			Replaced: *rows[old.ID],
		}
		return s.audit.CreateAuditLogTx(ctx, tx, model.AuditEntry{
			ActorID: actorID, Action: "gauge_set.replace_companion", EntityType: "gauge_set", EntityID: existing.ID,
			Before: []model.Asset{*existing, *old, *spare}, After: out,
		})
	})
	if err != nil {
		return nil, s.failed(op, err, zap.Uint64("existing_id", in.ExistingID), zap.Uint64("replacement_id", in.ReplacementID))
	}

	s.logger.Info("companion replaced",
		zap.String("base_id", out.Set.BaseID), zap.Uint64("existing_id", in.ExistingID),
		zap.Uint64("replacement_id", in.ReplacementID), zap.Uint64("replaced_id", out.Replaced.ID), zap.Uint64("actor_id", actorID))
	ev := queue.NewGaugeEvent(queue.EventCompanionReplaced, actorID, out.Set.Go.ID, out.Set.NoGo.ID, out.Replaced.ID)
	ev.BaseID, ev.Reason = out.Set.BaseID, in.Reason
	s.publish(ctx, ev)
	return out, nil
}

// UnpairGauges dissolves the pair in.ID belongs to.  Both members return to
// the spare pool (unless retired) and the base identifier is retired for
// good by the unpair history row.
func (s *PairService) UnpairGauges(ctx context.Context, in UnpairInput, actorID uint64) (*UnpairResult, error) {
	const op = "pair.unpair"

	var out *UnpairResult
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		asset, companion, err := s.pairs.LockPairTx(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		if companion == nil {
			return &model.ConflictError{Code: model.ConflictNotPaired, AssetID: asset.ID, Expected: "paired", Actual: "unpaired"}
		}
		if err := checkVersion(asset, in.ExpectedVersion); err != nil {
			return err
		}
		goA, noGoA := asset, companion
		if asset.SuffixValue() == model.SuffixNoGo {
			goA, noGoA = companion, asset
		}
		base := asset.BaseValue()
		if base == "" {
			base = companion.BaseValue()
		}

		if _, err := s.pairs.UnlinkCompanionsTx(ctx, tx, asset.ID); err != nil {
			return err
		}
		if err := s.pairs.EmitHistoryTx(ctx, tx, model.PairHistory{
			GoID: goA.ID, NoGoID: noGoA.ID, BaseID: base, Action: model.ActionUnpair, ActorID: actorID, Reason: in.Reason,
			Metadata: map[string]any{"initiator_id": asset.ID},
		}); err != nil {
			return err
		}
		rows, err := s.pairs.LockAssetsTx(ctx, tx, goA.ID, noGoA.ID)
		if err != nil {
			return err
		}
		out = &UnpairResult{BaseID: base, Go: *rows[goA.ID], NoGo: *rows[noGoA.ID]}
		return s.audit.CreateAuditLogTx(ctx, tx, model.AuditEntry{
			ActorID: actorID, Action: "gauge_set.unpair", EntityType: "gauge_set", EntityID: asset.ID,
			Before: []model.Asset{*goA, *noGoA}, After: out,
		})
	})
	if err != nil {
		return nil, s.failed(op, err, zap.Uint64("asset_id", in.ID))
	}

	s.logger.Info("gauge set unpaired",
		zap.String("base_id", out.BaseID), zap.Uint64("go_id", out.Go.ID), zap.Uint64("nogo_id", out.NoGo.ID), zap.Uint64("actor_id", actorID))
	ev := queue.NewGaugeEvent(queue.EventSetUnpaired, actorID, out.Go.ID, out.NoGo.ID)
	ev.BaseID, ev.Reason = out.BaseID, in.Reason
	s.publish(ctx, ev)
	return out, nil
}

// ValidateCompatibility runs the set invariants over two assets as if
// they were paired now.  Nothing is locked or written.
func (s *PairService) ValidateCompatibility(ctx context.Context, goID, noGoID uint64) (*CompatibilityReport, error) {
	rep := &CompatibilityReport{GoID: goID, NoGoID: noGoID}
	if goID == noGoID {
		rep.Rule, rep.Field = model.RuleSameAsset, "id"
		rep.Values = []string{strconv.FormatUint(goID, 10), strconv.FormatUint(noGoID, 10)}
		return rep, nil
	}
	goA, err := s.pairs.GetByID(ctx, goID)
	if err != nil {
		return nil, err
	}
	noGoA, err := s.pairs.GetByID(ctx, noGoID)
	if err != nil {
		return nil, err
	}

	for _, a := range []*model.Asset{goA, noGoA} {
		if err := requireSpare(a); err != nil {
			code, _ := model.CodeOf(err)
			rep.Blockers = append(rep.Blockers, code+":"+strconv.FormatUint(a.ID, 10))
		}
	}

	base := goA.BaseValue()
	if base == "" {
		base = noGoA.BaseValue()
	}
	if base == "" {
		base = "CANDIDATE"
	}
	g, n := *goA, *noGoA
	g.CompanionID, n.CompanionID = nil, nil
	_, err = model.NewSetFromSpares(base, g, n, model.SetOptions{})
	if err == nil {
		rep.Compatible = true
		return rep, nil
	}
	ve, ok := err.(*model.ValidationError)
	if !ok {
		return nil, err
	}
	rep.Rule, rep.Field, rep.Values = ve.Rule, ve.Field, ve.Values
	return rep, nil
}

// GetAsset loads one asset.
func (s *PairService) GetAsset(ctx context.Context, id uint64) (*model.Asset, error) {
	return s.pairs.GetByID(ctx, id)
}

// GetSet rebuilds the set carrying baseID.
func (s *PairService) GetSet(ctx context.Context, baseID string) (*model.GaugeSet, error) {
	baseID = strings.TrimSpace(baseID)
	if baseID == "" {
		return nil, &model.ValidationError{Rule: model.RuleBaseIDRequired, Field: "base_id"}
	}
	return s.pairs.GetSetByBaseID(ctx, baseID)
}

// History lists the pairing history of baseID, oldest first.
func (s *PairService) History(ctx context.Context, baseID string) ([]model.PairHistory, error) {
	return s.pairs.ListHistory(ctx, strings.TrimSpace(baseID))
}

// FindSpares lists spares matching f.
func (s *PairService) FindSpares(ctx context.Context, f model.SpareFilter) ([]model.Asset, error) {
	if f.Suffix != "" && !f.Suffix.Valid() {
		return nil, &model.ValidationError{Rule: model.RuleSuffixInvalid, Field: "suffix", Values: []string{string(f.Suffix)}}
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, &model.ValidationError{Rule: model.RuleUnknownStatus, Field: "status", Values: []string{string(f.Status)}}
	}
	if f.Classification != "" {
		if _, ok := f.Classification.Rules(); !ok {
			return nil, &model.ValidationError{Rule: model.RuleUnknownClass, Field: "classification", Values: []string{string(f.Classification)}}
		}
	}
	return s.pairs.FindSpares(ctx, f)
}

// checkBaseAvailable re-runs the set invariants with the retirement fact
// from the history ledger and rejects a base identifier already in use.
func (s *PairService) checkBaseAvailable(ctx context.Context, tx *sql.Tx, set *model.GaugeSet) error {
	retired, err := s.pairs.BaseIDRetiredTx(ctx, tx, set.BaseID)
	if err != nil {
		return err
	}
	if err := model.ValidateSet(set, model.SetOptions{BaseIDRetired: retired}); err != nil {
		return err
	}
	inUse, err := s.pairs.BaseIDInUseTx(ctx, tx, set.BaseID)
	if err != nil {
		return err
	}
	if inUse {
		return &model.ConflictError{Code: model.ConflictBaseIDInUse, Expected: "unused", Actual: set.BaseID}
	}
	return nil
}

// adopt stamps the set identity onto both existing rows.
func (s *PairService) adopt(ctx context.Context, tx *sql.Tx, set *model.GaugeSet) error {
	goRec, noGoRec := set.Records()
	if err := s.pairs.AdoptIntoSetTx(ctx, tx, goRec); err != nil {
		return err
	}
	return s.pairs.AdoptIntoSetTx(ctx, tx, noGoRec)
}

func (s *PairService) reloadSet(ctx context.Context, tx *sql.Tx, baseID string, goID, noGoID uint64) (*model.GaugeSet, error) {
	rows, err := s.pairs.LockAssetsTx(ctx, tx, goID, noGoID)
	if err != nil {
		return nil, err
	}
	return &model.GaugeSet{BaseID: baseID, Go: *rows[goID], NoGo: *rows[noGoID]}, nil
}

func requireSpare(a *model.Asset) error {
	if a.CompanionID != nil {
		return &model.ConflictError{Code: model.ConflictAlreadyPaired, AssetID: a.ID, Expected: "null", Actual: strconv.FormatUint(*a.CompanionID, 10)}
	}
	if !a.IsSpare {
		return &model.ConflictError{Code: model.ConflictNotSpare, AssetID: a.ID, Expected: "spare", Actual: string(a.Status)}
	}
	return nil
}

func sameAsset(a, b uint64) error {
	return &model.ValidationError{
		Rule:   model.RuleSameAsset,
		Field:  "id",
		Values: []string{strconv.FormatUint(a, 10), strconv.FormatUint(b, 10)},
	}
}
