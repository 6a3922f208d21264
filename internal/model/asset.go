package model

import (
	"fmt"
	"strings"
	"time"
)

// Suffix is the one-letter role of a paired gauge.
type Suffix string

const (
	SuffixGo   Suffix = "A" // GO member
	SuffixNoGo Suffix = "B" // NO-GO member
)

// Valid reports whether s is one of the two role suffixes.
func (s Suffix) Valid() bool { return s == SuffixGo || s == SuffixNoGo }

// Status is the lifecycle state of an asset.
type Status string

const (
	StatusAvailable          Status = "available"
	StatusCalibrationDue     Status = "calibration_due"
	StatusOutForCalibration  Status = "out_for_calibration"
	StatusPendingCertificate Status = "pending_certificate"
	StatusPendingRelease     Status = "pending_release"
	StatusRetired            Status = "retired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusCalibrationDue, StatusOutForCalibration,
		StatusPendingCertificate, StatusPendingRelease, StatusRetired:
		return true
	}
	return false
}

// ThreadSpec describes the thread a gauge checks.  All three parts take part
// in pairing comparisons.
type ThreadSpec struct {
	Size  string `json:"size"`
	Class string `json:"class"`
	Form  string `json:"form"`
}

// Complete reports whether every part is present.
func (t ThreadSpec) Complete() bool {
	return strings.TrimSpace(t.Size) != "" && strings.TrimSpace(t.Class) != "" && strings.TrimSpace(t.Form) != ""
}

// Equal compares two specs ignoring surrounding whitespace and letter case.
func (t ThreadSpec) Equal(o ThreadSpec) bool {
	return strings.EqualFold(strings.TrimSpace(t.Size), strings.TrimSpace(o.Size)) &&
		strings.EqualFold(strings.TrimSpace(t.Class), strings.TrimSpace(o.Class)) &&
		strings.EqualFold(strings.TrimSpace(t.Form), strings.TrimSpace(o.Form))
}

func (t ThreadSpec) String() string { return fmt.Sprintf("%s %s %s", t.Size, t.Class, t.Form) }

// Asset mirrors one row of the assets table: a single physical gauge.
//
// Fields:
//
//	ID              – assets.id, the stable row key used for lock ordering.
//	GaugeID         – globally unique identifier (base + suffix for set members).
//	BaseID          – shared base identifier; nil for spares and standalone gauges.
//	Suffix          – role suffix; nil when the classification has no roles.
//	CompanionID     – the paired asset, nil when unpaired.
//	Classification  – equipment classification, drives the validation rules.
//	CategoryID      – equipment category.
//	Thread          – thread specification, nil when not applicable.
//	Status          – lifecycle status.
//	IsSealed        – set when a calibration pass seals the gauge.
//	IsSpare         – eligible for pairing.
//	StorageLocation – where the gauge is shelved.
//	Version         – incremented on every write.
type Asset struct {
	ID              uint64         `json:"id"`
	GaugeID         string         `json:"gauge_id"`
	BaseID          *string        `json:"base_id,omitempty"`
	Suffix          *Suffix        `json:"suffix,omitempty"`
	CompanionID     *uint64        `json:"companion_id,omitempty"`
	Classification  Classification `json:"classification"`
	CategoryID      uint64         `json:"category_id"`
	Thread          *ThreadSpec    `json:"thread,omitempty"`
	Status          Status         `json:"status"`
	IsSealed        bool           `json:"is_sealed"`
	IsSpare         bool           `json:"is_spare"`
	StorageLocation string         `json:"storage_location"`
	Version         uint32         `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Paired reports whether the asset points at a companion.
func (a *Asset) Paired() bool { return a.CompanionID != nil }

// SuffixValue returns the suffix or "" when absent.
func (a *Asset) SuffixValue() Suffix {
	if a.Suffix == nil {
		return ""
	}
	return *a.Suffix
}

// BaseValue returns the base identifier or "" when absent.
func (a *Asset) BaseValue() string {
	if a.BaseID == nil {
		return ""
	}
	return *a.BaseID
}

// CanBecomeSpare reports whether an unpaired asset may be offered for pairing
// again.  Retired gauges never return to the spare pool.
func (a *Asset) CanBecomeSpare() bool { return a.Status != StatusRetired }

// ValidateAsset checks a single asset record.  It stops at the first
// violation.  A classification that requires a suffix accepts exactly A or B:
// a missing suffix is a violation, not an unknown that passes.
func ValidateAsset(a *Asset) error {
	if a == nil {
		return invalid(RuleIdentifierRequired, "asset")
	}
	if strings.TrimSpace(a.GaugeID) == "" {
		return invalid(RuleIdentifierRequired, "gauge_id")
	}
	rule, ok := a.Classification.Rules()
	if !ok {
		return invalid(RuleUnknownClass, "classification", string(a.Classification))
	}
	if rule.RequiresThread && (a.Thread == nil || !a.Thread.Complete()) {
		return invalid(RuleThreadRequired, "thread", string(a.Classification))
	}
	if rule.RequiresSuffix && a.Suffix == nil {
		return invalid(RuleSuffixRequired, "suffix", string(a.Classification))
	}
	if a.Suffix != nil && !a.Suffix.Valid() {
		return invalid(RuleSuffixInvalid, "suffix", string(*a.Suffix))
	}
	if a.CategoryID == 0 {
		return invalid(RuleCategoryRequired, "category_id")
	}
	if !a.Status.Valid() {
		return invalid(RuleUnknownStatus, "status", string(a.Status))
	}
	return nil
}

// SparePrefix starts every identifier handed out by SpareGaugeID.
const SparePrefix = "SP"

// SpareGaugeID returns the identifier a gauge carries while it sits in the
// spare pool.  It is derived from the row id; CheckIdentifier keeps callers
// out of this namespace, so the rename on unpair cannot collide.
func SpareGaugeID(id uint64, s Suffix) string {
	return fmt.Sprintf("%s%06d%s", SparePrefix, id, s)
}

// ReservedIdentifier reports whether id lies in the spare namespace: the
// spare prefix followed by a digit, in any letter case.
func ReservedIdentifier(id string) bool {
	id = strings.TrimSpace(id)
	if len(id) <= len(SparePrefix) || !strings.EqualFold(id[:len(SparePrefix)], SparePrefix) {
		return false
	}
	c := id[len(SparePrefix)]
	return c >= '0' && c <= '9'
}

// CheckIdentifier rejects a caller-chosen gauge or base identifier that
// falls in the spare namespace.
func CheckIdentifier(field, id string) error {
	if ReservedIdentifier(id) {
		return invalid(RuleIdentifierReserved, field, strings.TrimSpace(id))
	}
	return nil
}

// StatusChange describes a status write performed by the calibration
// workflow.  Nil fields are left untouched.
type StatusChange struct {
	Status   Status
	IsSealed *bool
	Location *string
}

// SpareFilter narrows a spare lookup.  Zero values mean "any".
type SpareFilter struct {
	CategoryID     uint64
	Suffix         Suffix
	Status         Status
	Classification Classification
	Thread         *ThreadSpec
}
