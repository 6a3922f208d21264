package model

import (
	"strconv"
	"strings"
)

// GaugeSet is the GO/NO-GO aggregate sharing one base identifier.  It is
// never stored as its own row: it is rebuilt from two assets whenever a
// pairing operation needs to validate the pair as a whole.
type GaugeSet struct {
	BaseID string `json:"base_id"`
	Go     Asset  `json:"go"`
	NoGo   Asset  `json:"nogo"`
}

// SetOptions carries facts about the set that live outside the two rows.
type SetOptions struct {
	// BaseIDRetired is true when the pairing history shows the base
	// identifier was unpaired or retired before.
	BaseIDRetired bool
}

// SetSpec is the input for a brand new set whose members are created
// together.
type SetSpec struct {
	BaseID         string
	Classification Classification
	CategoryID     uint64
	Thread         *ThreadSpec
	GoLocation     string
	NoGoLocation   string
}

// NewGaugeSet validates goGauge and noGo as one set under baseID exactly as
// they are.  It is used both to reconstruct stored sets and as the final
// check of every other constructor.
func NewGaugeSet(baseID string, goGauge, noGo Asset, opts SetOptions) (*GaugeSet, error) {
	s := &GaugeSet{BaseID: strings.TrimSpace(baseID), Go: goGauge, NoGo: noGo}
	if err := ValidateSet(s, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSetFromSpec builds both members of a new set from spec.  The role
// suffixes and identifiers come from the aggregate, never from the caller.
func NewSetFromSpec(spec SetSpec, opts SetOptions) (*GaugeSet, error) {
	base := strings.TrimSpace(spec.BaseID)
	if base == "" {
		return nil, invalid(RuleBaseIDRequired, "base_id")
	}
	if err := CheckIdentifier("base_id", base); err != nil {
		return nil, err
	}
	member := func(loc string) Asset {
		a := Asset{
			Classification:  spec.Classification,
			CategoryID:      spec.CategoryID,
			Status:          StatusAvailable,
			StorageLocation: loc,
		}
		if spec.Thread != nil {
			t := *spec.Thread
			a.Thread = &t
		}
		return a
	}
	s := &GaugeSet{BaseID: base, Go: member(spec.GoLocation), NoGo: member(spec.NoGoLocation)}
	s.Go, s.NoGo = s.Records()
	if err := ValidateSet(s, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSetFromSpares assembles a set out of two unpaired spares.  Each spare
// keeps its own role suffix so that a NO-GO gauge offered as the GO member
// fails the role check instead of being silently relabelled.
func NewSetFromSpares(baseID string, goSpare, noGoSpare Asset, opts SetOptions) (*GaugeSet, error) {
	base := strings.TrimSpace(baseID)
	if base == "" {
		return nil, invalid(RuleBaseIDRequired, "base_id")
	}
	if err := CheckIdentifier("base_id", base); err != nil {
		return nil, err
	}
	adopt := func(a Asset) Asset {
		b := base
		a.BaseID = &b
		a.GaugeID = base + string(a.SuffixValue())
		a.IsSpare = false
		return a
	}
	return NewGaugeSet(base, adopt(goSpare), adopt(noGoSpare), opts)
}

// Records maps the aggregate to the two flat rows to persist.  Identifier,
// base identifier, suffix and spare flag are overwritten with the values the
// aggregate computes, whatever the members carried before.
func (s *GaugeSet) Records() (goRec, noGoRec Asset) {
	goRec, noGoRec = s.Go, s.NoGo
	stamp := func(a *Asset, sfx Suffix) {
		base := s.BaseID
		role := sfx
		a.BaseID = &base
		a.Suffix = &role
		a.GaugeID = base + string(sfx)
		a.IsSpare = false
	}
	stamp(&goRec, SuffixGo)
	stamp(&noGoRec, SuffixNoGo)
	return goRec, noGoRec
}

// Linked reports whether both members point at each other.
func (s *GaugeSet) Linked() bool {
	return s.Go.CompanionID != nil && s.NoGo.CompanionID != nil &&
		*s.Go.CompanionID == s.NoGo.ID && *s.NoGo.CompanionID == s.Go.ID
}

// ValidateSet checks the set invariants in order and returns the first
// violation.
func ValidateSet(s *GaugeSet, opts SetOptions) error {
	if s.BaseID == "" {
		return invalid(RuleBaseIDRequired, "base_id")
	}
	if err := ValidateAsset(&s.Go); err != nil {
		return prefixField(err, "go.")
	}
	if err := ValidateAsset(&s.NoGo); err != nil {
		return prefixField(err, "nogo.")
	}
	if s.Go.ID != 0 && s.Go.ID == s.NoGo.ID {
		return invalid(RuleSameAsset, "id", idString(s.Go.ID), idString(s.NoGo.ID))
	}

	// 1. identical thread specification
	switch {
	case s.Go.Thread == nil && s.NoGo.Thread == nil:
	case s.Go.Thread == nil || s.NoGo.Thread == nil || !s.Go.Thread.Equal(*s.NoGo.Thread):
		return invalid(RuleThreadMismatch, "thread", threadString(s.Go.Thread), threadString(s.NoGo.Thread))
	}

	// 2. no-companion classifications never pair
	for _, a := range []*Asset{&s.Go, &s.NoGo} {
		if r, _ := a.Classification.Rules(); !r.AllowsCompanion {
			return invalid(RuleCompanionForbidden, "classification", string(a.Classification))
		}
	}

	// 3. GO carries A, NO-GO carries B
	if s.Go.SuffixValue() != SuffixGo {
		return invalid(RuleSuffixRole, "go.suffix", string(SuffixGo), string(s.Go.SuffixValue()))
	}
	if s.NoGo.SuffixValue() != SuffixNoGo {
		return invalid(RuleSuffixRole, "nogo.suffix", string(SuffixNoGo), string(s.NoGo.SuffixValue()))
	}

	// 4. same classification and category
	if s.Go.Classification != s.NoGo.Classification {
		return invalid(RuleClassMismatch, "classification", string(s.Go.Classification), string(s.NoGo.Classification))
	}
	if s.Go.CategoryID != s.NoGo.CategoryID {
		return invalid(RuleCategoryMismatch, "category_id", idString(s.Go.CategoryID), idString(s.NoGo.CategoryID))
	}

	// 5. base identifiers agree with each other and with the set
	goBase, noGoBase := baseOf(&s.Go), baseOf(&s.NoGo)
	if goBase != noGoBase {
		return invalid(RuleBaseIDMismatch, "base_id", goBase, noGoBase)
	}
	if goBase != s.BaseID {
		return invalid(RuleBaseIDMismatch, "base_id", s.BaseID, goBase)
	}

	// 6. companion links are absent on both or mutual
	switch {
	case s.Go.CompanionID == nil && s.NoGo.CompanionID == nil:
	case s.Linked():
	default:
		return invalid(RuleCompanionOneSided, "companion_id", optIDString(s.Go.CompanionID), optIDString(s.NoGo.CompanionID))
	}

	// 7. retired base identifiers are never reused
	if opts.BaseIDRetired {
		return invalid(RuleBaseIDRetired, "base_id", s.BaseID)
	}
	return nil
}

// baseOf returns the member's base identifier.  The stored base must agree
// with the identifier minus its suffix; a disagreement yields the raw
// identifier so that the comparison fails.
func baseOf(a *Asset) string {
	derived := strings.TrimSuffix(a.GaugeID, string(a.SuffixValue()))
	if a.BaseID == nil || *a.BaseID != derived {
		return a.GaugeID
	}
	return derived
}

func prefixField(err error, prefix string) error {
	if ve, ok := err.(*ValidationError); ok {
		cp := *ve
		cp.Field = prefix + cp.Field
		return &cp
	}
	return err
}

func threadString(t *ThreadSpec) string {
	if t == nil {
		return "none"
	}
	return t.String()
}

func idString(id uint64) string { return strconv.FormatUint(id, 10) }

func optIDString(id *uint64) string {
	if id == nil {
		return "null"
	}
	return idString(*id)
}
