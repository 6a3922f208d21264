// Package service implements the pairing orchestration and the calibration
// workflow.  Every public operation runs in exactly one transaction opened
// through a TxRunner; repositories receive that transaction and never open
// their own.  Events are published only after the transaction commits.
package service

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
	"github.com/iliyamo/gauge-set-tracker/internal/queue"
)

// TxRunner runs fn inside one transaction, committing on nil and rolling
// back otherwise.  *database.TxRunner implements it.
type TxRunner interface {
	InTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error
}

// PairStore is the persistence the pairing operations need.
// *repository.PairRepo implements it.
type PairStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Asset, error)
	LockAssetsTx(ctx context.Context, tx *sql.Tx, ids ...uint64) (map[uint64]*model.Asset, error)
	LockPairTx(ctx context.Context, tx *sql.Tx, id uint64) (asset, companion *model.Asset, err error)
	LockPairWithTx(ctx context.Context, tx *sql.Tx, id, other uint64) (asset, companion, otherAsset *model.Asset, err error)
	CreateSetTx(ctx context.Context, tx *sql.Tx, set *model.GaugeSet) (goID, noGoID uint64, err error)
	CreateSpareTx(ctx context.Context, tx *sql.Tx, a *model.Asset) (uint64, error)
	LinkCompanionsTx(ctx context.Context, tx *sql.Tx, idA, idB uint64) error
	UnlinkCompanionsTx(ctx context.Context, tx *sql.Tx, id uint64) (uint64, error)
	AdoptIntoSetTx(ctx context.Context, tx *sql.Tx, rec model.Asset) error
	BaseIDInUseTx(ctx context.Context, tx *sql.Tx, baseID string) (bool, error)
	BaseIDRetiredTx(ctx context.Context, tx *sql.Tx, baseID string) (bool, error)
	EmitHistoryTx(ctx context.Context, tx *sql.Tx, h model.PairHistory) error
	FindSpares(ctx context.Context, f model.SpareFilter) ([]model.Asset, error)
	GetSetByBaseID(ctx context.Context, baseID string) (*model.GaugeSet, error)
	ListHistory(ctx context.Context, baseID string) ([]model.PairHistory, error)
}

// CalibrationStore is the subset of the pair store the calibration
// workflow touches.
type CalibrationStore interface {
	LockAssetsTx(ctx context.Context, tx *sql.Tx, ids ...uint64) (map[uint64]*model.Asset, error)
	LockPairTx(ctx context.Context, tx *sql.Tx, id uint64) (asset, companion *model.Asset, err error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, ch model.StatusChange) error
	EmitHistoryTx(ctx context.Context, tx *sql.Tx, h model.PairHistory) error
}

// CertificateChecker answers whether a current certificate exists.
type CertificateChecker interface {
	HasCurrentCertificateTx(ctx context.Context, tx *sql.Tx, assetID uint64) (bool, error)
}

// AuditLogger records one audit row inside the caller's transaction.
type AuditLogger interface {
	CreateAuditLogTx(ctx context.Context, tx *sql.Tx, e model.AuditEntry) error
}

// EventPublisher delivers committed-change events.  *queue.Publisher
// implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.GaugeEvent) error
}

// notifier publishes events best effort and logs outcomes for a service.
type notifier struct {
	events EventPublisher
	logger *zap.Logger
}

// publish sends ev after commit.  A nil publisher disables events; a failed
// publish is logged and otherwise ignored because the change is durable.
func (n notifier) publish(ctx context.Context, ev queue.GaugeEvent) {
	if n.events == nil {
		return
	}
	if err := n.events.Publish(ctx, ev); err != nil {
		n.logger.Warn("event publish failed",
			zap.String("event_id", ev.ID), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// failed logs a rolled-back operation at Warn with its error kind and
// returns err unchanged.
func (n notifier) failed(op string, err error, fields ...zap.Field) error {
	code, _ := model.CodeOf(err)
	fields = append(fields,
		zap.String("op", op),
		zap.String("kind", string(model.KindOf(err))),
		zap.String("code", code),
		zap.Error(err))
	n.logger.Warn("operation rolled back", fields...)
	return err
}

func invalidState(a *model.Asset, expected ...model.Status) error {
	want := ""
	for i, s := range expected {
		if i > 0 {
			want += "|"
		}
		want += string(s)
	}
	return &model.ConflictError{Code: model.ConflictInvalidState, AssetID: a.ID, Expected: want, Actual: string(a.Status)}
}

func checkVersion(a *model.Asset, want *uint32) error {
	if want == nil || a.Version == *want {
		return nil
	}
	return &model.ConflictError{
		Code:     model.ConflictStaleVersion,
		AssetID:  a.ID,
		Expected: fmt.Sprint(*want),
		Actual:   fmt.Sprint(a.Version),
	}
}
