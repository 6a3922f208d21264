package model

import "time"

// PairAction names a pairing mutation recorded in the history ledger.
type PairAction string

const (
	ActionCreate        PairAction = "create"
	ActionPair          PairAction = "pair"
	ActionUnpair        PairAction = "unpair"
	ActionReplace       PairAction = "replace"
	ActionRetire        PairAction = "retire"
	ActionMemberRetired PairAction = "member_retired"
)

var pairActions = []PairAction{ActionCreate, ActionPair, ActionUnpair, ActionReplace, ActionRetire, ActionMemberRetired}

// RetiresBaseID reports whether the action permanently removes the base
// identifier from circulation.  A single member leaving the set does not;
// the survivor keeps the base until it is unpaired or the set is retired.
func (a PairAction) RetiresBaseID() bool { return a == ActionUnpair || a == ActionRetire }

// BaseRetiringActions lists every action for which RetiresBaseID is true.
func BaseRetiringActions() []PairAction {
	var out []PairAction
	for _, a := range pairActions {
		if a.RetiresBaseID() {
			out = append(out, a)
		}
	}
	return out
}

// PairHistory is one append-only row of gauge_set_history.
type PairHistory struct {
	ID        uint64         `json:"id"`
	GoID      uint64         `json:"go_id"`
	NoGoID    uint64         `json:"nogo_id"`
	BaseID    string         `json:"base_id"`
	Action    PairAction     `json:"action"`
	ActorID   uint64         `json:"actor_id"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditEntry is handed to the audit collaborator.  The collaborator owns the
// hash chain; the core only supplies the payload.
type AuditEntry struct {
	ActorID    uint64
	Action     string
	EntityType string
	EntityID   uint64
	Before     any
	After      any
}
