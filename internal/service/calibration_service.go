package service

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
	"github.com/iliyamo/gauge-set-tracker/internal/queue"
)

// CalibrationService drives one asset through the external calibration
// cycle:
//
//	available | calibration_due -> out_for_calibration -> pending_certificate -> pending_release -> available
//	out_for_calibration -> retired
//
// Certificate verification and release are set-aware: a paired asset never
// moves past pending_certificate ahead of its companion, and a release
// takes a waiting companion back into service with it.
type CalibrationService struct {
	runner TxRunner
	assets CalibrationStore
	certs  CertificateChecker
	audit  AuditLogger
	notifier
}

// NewCalibrationService wires a CalibrationService.  events may be nil.
func NewCalibrationService(runner TxRunner, assets CalibrationStore, certs CertificateChecker, audit AuditLogger, events EventPublisher, logger *zap.Logger) *CalibrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalibrationService{
		runner:   runner,
		assets:   assets,
		certs:    certs,
		audit:    audit,
		notifier: notifier{events: events, logger: logger},
	}
}

// Outcome of a certificate verification.
type Outcome string

const (
	OutcomeAdvanced           Outcome = "advanced"
	OutcomeWaitingOnCompanion Outcome = "waiting_on_companion"
)

// ReceiveInput records the result of an external calibration.
type ReceiveInput struct {
	ID     uint64
	Passed bool
	Reason string
}

// ReleaseInput returns an asset to service.  A nil Location keeps the
// stored one.
type ReleaseInput struct {
	ID       uint64
	Location *string
}

// TransitionResult lists every asset the operation wrote, as stored after
// commit.  Assets is empty when a verification is waiting on the companion.
type TransitionResult struct {
	Outcome     Outcome       `json:"outcome"`
	Assets      []model.Asset `json:"assets"`
	CompanionID *uint64       `json:"companion_id,omitempty"`
}

// SendToCalibration moves an available or due asset out for calibration.
func (s *CalibrationService) SendToCalibration(ctx context.Context, id, actorID uint64) (*model.Asset, error) {
	const op = "calibration.send"
	var out *model.Asset
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		rows, err := s.assets.LockAssetsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		a := rows[id]
		if a.Status != model.StatusAvailable && a.Status != model.StatusCalibrationDue {
			return invalidState(a, model.StatusAvailable, model.StatusCalibrationDue)
		}
		out, err = s.transition(ctx, tx, a, model.StatusChange{Status: model.StatusOutForCalibration}, op, actorID, "")
		return err
	})
	if err != nil {
		return nil, s.failed(op, err, zap.Uint64("asset_id", id))
	}
	s.committed(ctx, queue.EventCalibrationSent, actorID, "", out)
	return out, nil
}

// ReceiveFromCalibration records the calibration result.  A pass seals the
// gauge and waits for its certificate.  A fail retires the gauge; only the
// failed member is retired, its companion keeps its own state.
func (s *CalibrationService) ReceiveFromCalibration(ctx context.Context, in ReceiveInput, actorID uint64) (*model.Asset, error) {
	const op = "calibration.receive"
	reason := strings.TrimSpace(in.Reason)
	var out *model.Asset
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		a, companion, err := s.assets.LockPairTx(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusOutForCalibration {
			return invalidState(a, model.StatusOutForCalibration)
		}
		if in.Passed {
			sealed := true
			out, err = s.transition(ctx, tx, a, model.StatusChange{Status: model.StatusPendingCertificate, IsSealed: &sealed}, op, actorID, reason)
			return err
		}
		if out, err = s.transition(ctx, tx, a, model.StatusChange{Status: model.StatusRetired}, op, actorID, reason); err != nil {
			return err
		}
		if companion == nil {
			return nil
		}
		goID, noGoID := a.ID, companion.ID
		if a.SuffixValue() == model.SuffixNoGo {
			goID, noGoID = companion.ID, a.ID
		}
		return s.assets.EmitHistoryTx(ctx, tx, model.PairHistory{
			GoID: goID, NoGoID: noGoID, BaseID: a.BaseValue(), Action: model.ActionMemberRetired, ActorID: actorID, Reason: reason,
			Metadata: map[string]any{"retired_id": a.ID, "cause": "calibration_failed"},
		})
	})
	if err != nil {
		return nil, s.failed(op, err, zap.Uint64("asset_id", in.ID), zap.Bool("passed", in.Passed))
	}
	s.committed(ctx, queue.EventCalibrationReceived, actorID, reason, out)
	return out, nil
}

// VerifyCertificate advances a pending_certificate asset that has a
// current certificate.  An unpaired asset moves to pending_release alone.
// A paired asset moves together with its companion when the companion is
// pending_certificate with a certificate too; otherwise nothing is written
// and the result reports waiting_on_companion.  The caller re-invokes once
// the companion is ready.  A companion that already reached
// pending_release does not hold this member back.
func (s *CalibrationService) VerifyCertificate(ctx context.Context, id, actorID uint64) (*TransitionResult, error) {
	const op = "calibration.verify_certificate"
	res := &TransitionResult{}
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		a, companion, err := s.assets.LockPairTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != model.StatusPendingCertificate {
			return invalidState(a, model.StatusPendingCertificate)
		}
		ok, err := s.certs.HasCurrentCertificateTx(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if !ok {
			return &model.ConflictError{Code: model.ConflictCertificate, AssetID: a.ID, Expected: "current_certificate", Actual: "none"}
		}

		move := []*model.Asset{a}
		if companion != nil {
			res.CompanionID = &companion.ID
			switch companion.Status {
			case model.StatusPendingCertificate:
				ready, err := s.certs.HasCurrentCertificateTx(ctx, tx, companion.ID)
				if err != nil {
					return err
				}
				if !ready {
					res.Outcome = OutcomeWaitingOnCompanion
					return nil
				}
				move = append(move, companion)
			case model.StatusPendingRelease:
			default:
				res.Outcome = OutcomeWaitingOnCompanion
				return nil
			}
		}

		res.Outcome = OutcomeAdvanced
		for _, m := range move {
			after, err := s.transition(ctx, tx, m, model.StatusChange{Status: model.StatusPendingRelease}, op, actorID, "")
			if err != nil {
				return err
			}
			res.Assets = append(res.Assets, *after)
		}
		return nil
	})
	if err != nil {
		return nil, s.failed(op, err, zap.Uint64("asset_id", id))
	}
	if res.Outcome == OutcomeWaitingOnCompanion {
		s.logger.Info("certificate verified, waiting on companion",
			zap.Uint64("asset_id", id), zap.Uint64p("companion_id", res.CompanionID), zap.Uint64("actor_id", actorID))
		return res, nil
	}
	s.committed(ctx, queue.EventCertificateVerified, actorID, "", res.assetPtrs()...)
	return res, nil
}

// VerifyLocationAndRelease returns a pending_release asset to service,
// optionally moving it to a new storage location.  A paired companion that
// is also pending_release is released in the same transaction with the same
// location.
func (s *CalibrationService) VerifyLocationAndRelease(ctx context.Context, in ReleaseInput, actorID uint64) (*TransitionResult, error) {
	const op = "calibration.release"
	var loc *string
	if in.Location != nil {
		trimmed := strings.TrimSpace(*in.Location)
		if trimmed == "" {
			return nil, s.failed(op, &model.ValidationError{Rule: model.RuleLocationRequired, Field: "storage_location"})
		}
		loc = &trimmed
	}

	res := &TransitionResult{Outcome: OutcomeAdvanced}
	err := s.runner.InTx(ctx, op, func(tx *sql.Tx) error {
		a, companion, err := s.assets.LockPairTx(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusPendingRelease {
			return invalidState(a, model.StatusPendingRelease)
		}
		move := []*model.Asset{a}
		if companion != nil {
			res.CompanionID = &companion.ID
			if companion.Status == model.StatusPendingRelease {
				move = append(move, companion)
			}
		}
		for _, m := range move {
			after, err := s.transition(ctx, tx, m, model.StatusChange{Status: model.StatusAvailable, Location: loc}, op, actorID, "")
			if err != nil {
				return err
			}
			res.Assets = append(res.Assets, *after)
		}
		return nil
	})
	if err != nil {
		return nil, s.failed(op, err, zap.Uint64("asset_id", in.ID))
	}
	s.committed(ctx, queue.EventReleased, actorID, "", res.assetPtrs()...)
	return res, nil
}

// transition writes ch for a and audits it, returning a as it now stands.
func (s *CalibrationService) transition(ctx context.Context, tx *sql.Tx, a *model.Asset, ch model.StatusChange, op string, actorID uint64, reason string) (*model.Asset, error) {
	if err := s.assets.UpdateStatusTx(ctx, tx, a.ID, ch); err != nil {
		return nil, err
	}
	after := *a
	after.Status = ch.Status
	if ch.IsSealed != nil {
		after.IsSealed = *ch.IsSealed
	}
	if ch.Location != nil {
		after.StorageLocation = *ch.Location
	}
	after.Version++
	if after.Status == model.StatusRetired {
		after.IsSpare = false
	}

	type snapshot struct {
		Status   model.Status `json:"status"`
		IsSealed bool         `json:"is_sealed"`
		Location string       `json:"storage_location"`
		Reason   string       `json:"reason,omitempty"`
	}
	err := s.audit.CreateAuditLogTx(ctx, tx, model.AuditEntry{
		ActorID:    actorID,
		Action:     op,
		EntityType: "asset",
		EntityID:   a.ID,
		Before:     snapshot{Status: a.Status, IsSealed: a.IsSealed, Location: a.StorageLocation},
		After:      snapshot{Status: after.Status, IsSealed: after.IsSealed, Location: after.StorageLocation, Reason: reason},
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

func (s *CalibrationService) committed(ctx context.Context, t queue.EventType, actorID uint64, reason string, assets ...*model.Asset) {
	ids := make([]uint64, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
		s.logger.Info("calibration status changed",
			zap.String("event", string(t)), zap.Uint64("asset_id", a.ID), zap.String("status", string(a.Status)), zap.Uint64("actor_id", actorID))
	}
	ev := queue.NewGaugeEvent(t, actorID, ids...)
	if len(assets) > 0 {
		ev.Status = string(assets[0].Status)
		ev.BaseID = assets[0].BaseValue()
	}
	ev.Reason = reason
	s.publish(ctx, ev)
}

func (r *TransitionResult) assetPtrs() []*model.Asset {
	out := make([]*model.Asset, len(r.Assets))
	for i := range r.Assets {
		out[i] = &r.Assets[i]
	}
	return out
}
