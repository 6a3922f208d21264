package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
	"github.com/iliyamo/gauge-set-tracker/internal/queue"
)

type calFixture struct {
	pairs *PairService
	cal   *CalibrationService
	store *memStore
	pub   *memPublisher
}

func newCalFixture(t *testing.T) calFixture {
	t.Helper()
	store := newMemStore()
	pub := &memPublisher{}
	runner := &memRunner{store: store}
	return calFixture{
		pairs: NewPairService(runner, store, store, pub, zap.NewNop()),
		cal:   NewCalibrationService(runner, store, store, store, pub, zap.NewNop()),
		store: store,
		pub:   pub,
	}
}

// toPendingCertificate sends and passes every id.
func (f calFixture) toPendingCertificate(t *testing.T, ids ...uint64) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		_, err := f.cal.SendToCalibration(ctx, id, actor)
		require.NoError(t, err)
	}
	for _, id := range ids {
		a, err := f.cal.ReceiveFromCalibration(ctx, ReceiveInput{ID: id, Passed: true}, actor)
		require.NoError(t, err)
		require.Equal(t, model.StatusPendingCertificate, a.Status)
		require.True(t, a.IsSealed)
	}
}

func TestCalibration_SetScenario(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	set := createSet(t, f.pairs, "TG0100")
	a, b := set.Go.ID, set.NoGo.ID

	f.toPendingCertificate(t, a, b)

	// only A has a certificate: A waits for B
	f.store.setCertificate(a)
	res, err := f.cal.VerifyCertificate(ctx, a, actor)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaitingOnCompanion, res.Outcome)
	assert.Empty(t, res.Assets)
	require.NotNil(t, res.CompanionID)
	assert.Equal(t, b, *res.CompanionID)
	assert.Equal(t, model.StatusPendingCertificate, f.store.asset(a).Status)
	assert.Equal(t, model.StatusPendingCertificate, f.store.asset(b).Status)

	// B's certificate arrives; verifying B moves both
	f.store.setCertificate(b)
	res, err = f.cal.VerifyCertificate(ctx, b, actor)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Len(t, res.Assets, 2)
	assert.Equal(t, model.StatusPendingRelease, f.store.asset(a).Status)
	assert.Equal(t, model.StatusPendingRelease, f.store.asset(b).Status)

	// releasing A brings B back too, both on Shelf-3
	shelf := "Shelf-3"
	rel, err := f.cal.VerifyLocationAndRelease(ctx, ReleaseInput{ID: a, Location: &shelf}, actor)
	require.NoError(t, err)
	assert.Len(t, rel.Assets, 2)
	for _, id := range []uint64{a, b} {
		got := f.store.asset(id)
		assert.Equal(t, model.StatusAvailable, got.Status)
		assert.Equal(t, "Shelf-3", got.StorageLocation)
		assert.True(t, got.IsSealed)
	}

	// the pair survived the whole cycle
	require.NotNil(t, f.store.asset(a).CompanionID)
	assert.Equal(t, b, *f.store.asset(a).CompanionID)
	assertConsistent(t, f.store)
	assert.Contains(t, f.pub.types(), queue.EventReleased)
}

func TestVerifyCertificate_EitherMemberCanComplete(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	set := createSet(t, f.pairs, "TG0100")
	a, b := set.Go.ID, set.NoGo.ID
	f.toPendingCertificate(t, a, b)

	f.store.setCertificate(a)
	res, err := f.cal.VerifyCertificate(ctx, a, actor)
	require.NoError(t, err)
	require.Equal(t, OutcomeWaitingOnCompanion, res.Outcome)

	f.store.setCertificate(b)
	// retrying from A after B is ready is enough
	res, err = f.cal.VerifyCertificate(ctx, a, actor)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Equal(t, model.StatusPendingRelease, f.store.asset(a).Status)
	assert.Equal(t, model.StatusPendingRelease, f.store.asset(b).Status)
}

func TestVerifyCertificate_CompanionNotYetBack(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	set := createSet(t, f.pairs, "TG0100")
	f.toPendingCertificate(t, set.Go.ID)
	f.store.setCertificate(set.Go.ID)

	res, err := f.cal.VerifyCertificate(ctx, set.Go.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaitingOnCompanion, res.Outcome)
	assert.Equal(t, model.StatusAvailable, f.store.asset(set.NoGo.ID).Status)
}

func TestVerifyCertificate_CompanionAlreadyPendingRelease(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	set := createSet(t, f.pairs, "TG0100")
	a, b := set.Go.ID, set.NoGo.ID
	f.toPendingCertificate(t, a, b)

	// B advanced on an earlier attempt and is waiting for release
	f.store.mu.Lock()
	f.store.assets[b].Status = model.StatusPendingRelease
	f.store.mu.Unlock()
	f.store.setCertificate(a)

	res, err := f.cal.VerifyCertificate(ctx, a, actor)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	require.Len(t, res.Assets, 1)
	assert.Equal(t, a, res.Assets[0].ID)
	assert.Equal(t, model.StatusPendingRelease, f.store.asset(a).Status)
	assert.Equal(t, model.StatusPendingRelease, f.store.asset(b).Status)
}

func TestVerifyCertificate_MissingCertificate(t *testing.T) {
	f := newCalFixture(t)
	spare := createSpare(t, f.pairs, "S-1", model.SuffixGo, thread())
	f.toPendingCertificate(t, spare.ID)

	_, err := f.cal.VerifyCertificate(context.Background(), spare.ID, actor)
	var ce *model.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, model.ConflictCertificate, ce.Code)
	assert.Equal(t, model.StatusPendingCertificate, f.store.asset(spare.ID).Status)
}

func TestVerifyCertificate_UnpairedAdvancesAlone(t *testing.T) {
	f := newCalFixture(t)
	spare := createSpare(t, f.pairs, "S-1", model.SuffixGo, thread())
	f.toPendingCertificate(t, spare.ID)
	f.store.setCertificate(spare.ID)

	res, err := f.cal.VerifyCertificate(context.Background(), spare.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Nil(t, res.CompanionID)
	require.Len(t, res.Assets, 1)
	assert.Equal(t, model.StatusPendingRelease, res.Assets[0].Status)
}

func TestCalibration_GuardsNameExpectedAndActual(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	spare := createSpare(t, f.pairs, "S-1", model.SuffixGo, thread())

	_, err := f.cal.ReceiveFromCalibration(ctx, ReceiveInput{ID: spare.ID, Passed: true}, actor)
	var ce *model.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, model.ConflictInvalidState, ce.Code)
	assert.Equal(t, "out_for_calibration", ce.Expected)
	assert.Equal(t, "available", ce.Actual)

	_, err = f.cal.VerifyCertificate(ctx, spare.ID, actor)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "pending_certificate", ce.Expected)

	_, err = f.cal.VerifyLocationAndRelease(ctx, ReleaseInput{ID: spare.ID}, actor)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "pending_release", ce.Expected)

	_, err = f.cal.SendToCalibration(ctx, spare.ID, actor)
	require.NoError(t, err)
	_, err = f.cal.SendToCalibration(ctx, spare.ID, actor)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "available|calibration_due", ce.Expected)
	assert.Equal(t, "out_for_calibration", ce.Actual)

	_, err = f.cal.SendToCalibration(ctx, 404, actor)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReceiveFromCalibration_FailureRetiresOnlyThatMember(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	set := createSet(t, f.pairs, "TG0100")
	_, err := f.cal.SendToCalibration(ctx, set.NoGo.ID, actor)
	require.NoError(t, err)

	a, err := f.cal.ReceiveFromCalibration(ctx, ReceiveInput{ID: set.NoGo.ID, Passed: false, Reason: "out of tolerance"}, actor)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRetired, a.Status)
	assert.False(t, a.IsSealed)

	assert.Equal(t, model.StatusRetired, f.store.asset(set.NoGo.ID).Status)
	assert.Equal(t, model.StatusAvailable, f.store.asset(set.Go.ID).Status)
	assert.Equal(t, []model.PairAction{model.ActionCreate, model.ActionMemberRetired}, f.store.historyActions("TG0100"))

	// the retired member never returns to the spare pool
	_, err = f.pairs.UnpairGauges(ctx, UnpairInput{ID: set.Go.ID}, actor)
	require.NoError(t, err)
	assert.True(t, f.store.asset(set.Go.ID).IsSpare)
	assert.False(t, f.store.asset(set.NoGo.ID).IsSpare)
}

func TestReceiveFromCalibration_FailureKeepsBaseForSurvivor(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	set := createSet(t, f.pairs, "TG0100")
	_, err := f.cal.SendToCalibration(ctx, set.NoGo.ID, actor)
	require.NoError(t, err)
	_, err = f.cal.ReceiveFromCalibration(ctx, ReceiveInput{ID: set.NoGo.ID, Passed: false}, actor)
	require.NoError(t, err)

	spare := createSpare(t, f.pairs, "S-9", model.SuffixNoGo, thread())
	res, err := f.pairs.ReplaceCompanion(ctx, ReplaceInput{ExistingID: set.Go.ID, ReplacementID: spare.ID}, actor)
	require.NoError(t, err)
	assert.Equal(t, "TG0100", res.Set.BaseID)
	assert.Equal(t, "TG0100B", res.Set.NoGo.GaugeID)

	retired, err := f.store.BaseIDRetiredTx(ctx, nil, "TG0100")
	require.NoError(t, err)
	assert.False(t, retired)
	assert.Equal(t, []model.PairAction{model.ActionCreate, model.ActionMemberRetired, model.ActionReplace}, f.store.historyActions("TG0100"))
}

func TestReceiveFromCalibration_FailureOnSpare(t *testing.T) {
	f := newCalFixture(t)
	spare := createSpare(t, f.pairs, "S-1", model.SuffixGo, thread())
	_, err := f.cal.SendToCalibration(context.Background(), spare.ID, actor)
	require.NoError(t, err)

	_, err = f.cal.ReceiveFromCalibration(context.Background(), ReceiveInput{ID: spare.ID, Passed: false}, actor)
	require.NoError(t, err)
	got := f.store.asset(spare.ID)
	assert.Equal(t, model.StatusRetired, got.Status)
	assert.False(t, got.IsSpare)
	assert.Empty(t, f.store.history)
}

func TestRelease_UnpairedKeepsLocationWhenNil(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	spare := createSpare(t, f.pairs, "S-1", model.SuffixGo, thread())
	f.toPendingCertificate(t, spare.ID)
	f.store.setCertificate(spare.ID)
	_, err := f.cal.VerifyCertificate(ctx, spare.ID, actor)
	require.NoError(t, err)

	blank := "   "
	_, err = f.cal.VerifyLocationAndRelease(ctx, ReleaseInput{ID: spare.ID, Location: &blank}, actor)
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, model.RuleLocationRequired, ve.Rule)

	res, err := f.cal.VerifyLocationAndRelease(ctx, ReleaseInput{ID: spare.ID}, actor)
	require.NoError(t, err)
	require.Len(t, res.Assets, 1)
	assert.Equal(t, "Bin-2", res.Assets[0].StorageLocation)
	assert.Equal(t, model.StatusAvailable, f.store.asset(spare.ID).Status)
}

func TestRelease_CompanionNotPendingStaysPut(t *testing.T) {
	ctx := context.Background()
	f := newCalFixture(t)
	set := createSet(t, f.pairs, "TG0100")
	a, b := set.Go.ID, set.NoGo.ID
	f.toPendingCertificate(t, a, b)
	f.store.setCertificate(a)
	f.store.setCertificate(b)
	_, err := f.cal.VerifyCertificate(ctx, a, actor)
	require.NoError(t, err)
	_, err = f.cal.VerifyLocationAndRelease(ctx, ReleaseInput{ID: a}, actor)
	require.NoError(t, err)

	// B went out again after the joint release
	_, err = f.cal.SendToCalibration(ctx, b, actor)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, f.store.asset(a).Status)
	assert.Equal(t, model.StatusOutForCalibration, f.store.asset(b).Status)
}

func TestCalibration_AuditsEveryTransition(t *testing.T) {
	f := newCalFixture(t)
	spare := createSpare(t, f.pairs, "S-1", model.SuffixGo, thread())
	before := f.store.auditCount()

	f.toPendingCertificate(t, spare.ID)
	assert.Equal(t, before+2, f.store.auditCount())
}
