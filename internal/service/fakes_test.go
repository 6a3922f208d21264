package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
	"github.com/iliyamo/gauge-set-tracker/internal/queue"
)

// memStore is an in-memory stand-in for the pair, certificate and audit
// repositories.  It follows the same locking and conflict rules as the SQL
// implementation; memRunner serialises transactions and restores a
// snapshot when one fails, so rollbacks are observable.
type memStore struct {
	mu      sync.Mutex
	assets  map[uint64]*model.Asset
	history []model.PairHistory
	audits  []model.AuditEntry
	certs   map[uint64]bool
	nextID  uint64

	failAudit error
}

type memState struct {
	assets  map[uint64]*model.Asset
	history []model.PairHistory
	audits  []model.AuditEntry
	nextID  uint64
}

func newMemStore() *memStore {
	return &memStore{assets: map[uint64]*model.Asset{}, certs: map[uint64]bool{}}
}

func cloneAsset(a *model.Asset) *model.Asset {
	cp := *a
	if a.BaseID != nil {
		b := *a.BaseID
		cp.BaseID = &b
	}
	if a.Suffix != nil {
		s := *a.Suffix
		cp.Suffix = &s
	}
	if a.CompanionID != nil {
		c := *a.CompanionID
		cp.CompanionID = &c
	}
	if a.Thread != nil {
		t := *a.Thread
		cp.Thread = &t
	}
	return &cp
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := memState{assets: make(map[uint64]*model.Asset, len(m.assets)), nextID: m.nextID}
	for id, a := range m.assets {
		st.assets[id] = cloneAsset(a)
	}
	st.history = append([]model.PairHistory(nil), m.history...)
	st.audits = append([]model.AuditEntry(nil), m.audits...)
	return st
}

func (m *memStore) restore(st memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets, m.history, m.audits, m.nextID = st.assets, st.history, st.audits, st.nextID
}

// asset returns a copy of the stored row for assertions.
func (m *memStore) asset(id uint64) model.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *cloneAsset(m.assets[id])
}

func (m *memStore) setCertificate(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[id] = true
}

func (m *memStore) historyActions(base string) []model.PairAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PairAction
	for _, h := range m.history {
		if h.BaseID == base {
			out = append(out, h.Action)
		}
	}
	return out
}

func (m *memStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audits)
}

func notFound(id uint64) error {
	return &model.NotFoundError{Entity: "asset", Key: strconv.FormatUint(id, 10)}
}

func (m *memStore) gaugeIDTaken(gaugeID string, except uint64) bool {
	for id, a := range m.assets {
		if id != except && strings.EqualFold(a.GaugeID, gaugeID) {
			return true
		}
	}
	return false
}

func (m *memStore) insert(a *model.Asset) (uint64, error) {
	if m.gaugeIDTaken(a.GaugeID, 0) {
		return 0, &model.ConflictError{Code: model.ConflictDuplicate, Actual: a.GaugeID}
	}
	m.nextID++
	cp := cloneAsset(a)
	cp.ID = m.nextID
	cp.Version = 1
	m.assets[cp.ID] = cp
	return cp.ID, nil
}

func (m *memStore) GetByID(_ context.Context, id uint64) (*model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneAsset(a), nil
}

func (m *memStore) LockAssetsTx(_ context.Context, _ *sql.Tx, ids ...uint64) (map[uint64]*model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[uint64]*model.Asset, len(ids))
	for _, id := range sorted {
		a, ok := m.assets[id]
		if !ok {
			return nil, notFound(id)
		}
		out[id] = cloneAsset(a)
	}
	return out, nil
}

func (m *memStore) lockPair(id, other uint64) (asset, companion, otherAsset *model.Asset, err error) {
	a, ok := m.assets[id]
	if !ok {
		return nil, nil, nil, notFound(id)
	}
	if other != 0 {
		o, ok := m.assets[other]
		if !ok {
			return nil, nil, nil, notFound(other)
		}
		otherAsset = cloneAsset(o)
	}
	if a.CompanionID == nil {
		return cloneAsset(a), nil, otherAsset, nil
	}
	c, ok := m.assets[*a.CompanionID]
	if !ok {
		return nil, nil, nil, &model.NotFoundError{Entity: "companion", Key: strconv.FormatUint(*a.CompanionID, 10)}
	}
	if c.CompanionID == nil || *c.CompanionID != id {
		return nil, nil, nil, &model.ValidationError{Rule: model.RuleCompanionOneSided, Field: "companion_id"}
	}
	return cloneAsset(a), cloneAsset(c), otherAsset, nil
}

func (m *memStore) LockPairTx(_ context.Context, _ *sql.Tx, id uint64) (*model.Asset, *model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, c, _, err := m.lockPair(id, 0)
	return a, c, err
}

func (m *memStore) LockPairWithTx(_ context.Context, _ *sql.Tx, id, other uint64) (*model.Asset, *model.Asset, *model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockPair(id, other)
}

func (m *memStore) CreateSetTx(_ context.Context, _ *sql.Tx, set *model.GaugeSet) (uint64, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	goRec, noGoRec := set.Records()
	goRec.CompanionID, noGoRec.CompanionID = nil, nil
	goID, err := m.insert(&goRec)
	if err != nil {
		return 0, 0, err
	}
	noGoID, err := m.insert(&noGoRec)
	if err != nil {
		return 0, 0, err
	}
	return goID, noGoID, nil
}

func (m *memStore) CreateSpareTx(_ context.Context, _ *sql.Tx, a *model.Asset) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := *a
	rec.BaseID, rec.CompanionID = nil, nil
	rec.IsSpare = rec.CanBecomeSpare()
	return m.insert(&rec)
}

func (m *memStore) LinkCompanionsTx(_ context.Context, _ *sql.Tx, idA, idB uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idA == idB {
		return &model.ValidationError{Rule: model.RuleSameAsset, Field: "id"}
	}
	a, okA := m.assets[idA]
	b, okB := m.assets[idB]
	if !okA {
		return notFound(idA)
	}
	if !okB {
		return notFound(idB)
	}
	for _, x := range []*model.Asset{a, b} {
		if x.CompanionID != nil {
			return &model.ConflictError{Code: model.ConflictAlreadyPaired, AssetID: x.ID}
		}
	}
	ida, idb := idA, idB
	a.CompanionID, b.CompanionID = &idb, &ida
	a.IsSpare, b.IsSpare = false, false
	a.Version++
	b.Version++
	return nil
}

func (m *memStore) UnlinkCompanionsTx(_ context.Context, _ *sql.Tx, id uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, c, _, err := m.lockPair(id, 0)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, &model.ConflictError{Code: model.ConflictNotPaired, AssetID: id}
	}
	for _, x := range []*model.Asset{a, c} {
		if sid := model.SpareGaugeID(x.ID, x.SuffixValue()); m.gaugeIDTaken(sid, x.ID) {
			return 0, &model.ConflictError{Code: model.ConflictDuplicate, AssetID: x.ID, Actual: sid}
		}
	}
	for _, x := range []*model.Asset{m.assets[a.ID], m.assets[c.ID]} {
		x.CompanionID = nil
		x.BaseID = nil
		x.GaugeID = model.SpareGaugeID(x.ID, x.SuffixValue())
		x.IsSpare = x.CanBecomeSpare()
		x.Version++
	}
	return c.ID, nil
}

func (m *memStore) AdoptIntoSetTx(_ context.Context, _ *sql.Tx, rec model.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[rec.ID]
	if !ok || a.CompanionID != nil {
		return &model.ConflictError{Code: model.ConflictAlreadyPaired, AssetID: rec.ID}
	}
	if m.gaugeIDTaken(rec.GaugeID, rec.ID) {
		return &model.ConflictError{Code: model.ConflictDuplicate, Actual: rec.GaugeID}
	}
	base := rec.BaseValue()
	sfx := rec.SuffixValue()
	a.GaugeID, a.BaseID, a.Suffix = rec.GaugeID, &base, &sfx
	a.IsSpare = false
	a.Version++
	return nil
}

func (m *memStore) BaseIDInUseTx(_ context.Context, _ *sql.Tx, baseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.BaseValue() == baseID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) BaseIDRetiredTx(_ context.Context, _ *sql.Tx, baseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.history {
		if h.BaseID == baseID && h.Action.RetiresBaseID() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) EmitHistoryTx(_ context.Context, _ *sql.Tx, h model.PairHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = uint64(len(m.history) + 1)
	m.history = append(m.history, h)
	return nil
}

func (m *memStore) FindSpares(_ context.Context, f model.SpareFilter) ([]model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Asset{}
	for _, a := range m.assets {
		switch {
		case !a.IsSpare || a.CompanionID != nil:
		case f.CategoryID != 0 && a.CategoryID != f.CategoryID:
		case f.Suffix != "" && a.SuffixValue() != f.Suffix:
		case f.Status != "" && a.Status != f.Status:
		default:
			out = append(out, *cloneAsset(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSetByBaseID(_ context.Context, baseID string) (*model.GaugeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var goA, noGoA *model.Asset
	for _, a := range m.assets {
		if a.BaseValue() != baseID {
			continue
		}
		if a.SuffixValue() == model.SuffixGo {
			goA = cloneAsset(a)
		} else {
			noGoA = cloneAsset(a)
		}
	}
	if goA == nil || noGoA == nil {
		return nil, &model.NotFoundError{Entity: "gauge_set", Key: baseID}
	}
	return model.NewGaugeSet(baseID, *goA, *noGoA, model.SetOptions{})
}

func (m *memStore) ListHistory(_ context.Context, baseID string) ([]model.PairHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PairHistory{}
	for _, h := range m.history {
		if h.BaseID == baseID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatusTx(_ context.Context, _ *sql.Tx, id uint64, ch model.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return notFound(id)
	}
	a.Status = ch.Status
	if ch.IsSealed != nil {
		a.IsSealed = *ch.IsSealed
	}
	if ch.Location != nil {
		a.StorageLocation = *ch.Location
	}
	if ch.Status == model.StatusRetired {
		a.IsSpare = false
	}
	a.Version++
	return nil
}

func (m *memStore) HasCurrentCertificateTx(_ context.Context, _ *sql.Tx, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.certs[id], nil
}

func (m *memStore) CreateAuditLogTx(_ context.Context, _ *sql.Tx, e model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAudit != nil {
		return m.failAudit
	}
	m.audits = append(m.audits, e)
	return nil
}

// memRunner runs one transaction at a time against a memStore.
type memRunner struct {
	mu    sync.Mutex
	store *memStore
}

func (r *memRunner) InTx(_ context.Context, _ string, fn func(tx *sql.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.store.snapshot()
	if err := fn(nil); err != nil {
		r.store.restore(snap)
		return err
	}
	return nil
}

// memPublisher records published events.
type memPublisher struct {
	mu     sync.Mutex
	events []queue.GaugeEvent
	err    error
}

func (p *memPublisher) Publish(_ context.Context, ev queue.GaugeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *memPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

var errAuditDown = errors.New("audit store unavailable")
