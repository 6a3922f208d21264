package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for the four error kinds.  Every concrete error type below
// reports itself as one of these through errors.Is so that handlers can
// branch on the kind without knowing the payload type.
var (
	ErrValidation = errors.New("validation")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not_found")
	ErrBusy       = errors.New("retryable_busy")
)

// Kind is the machine-readable name of an error kind.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindBusy       Kind = "retryable_busy"
	KindInternal   Kind = "internal"
)

// Rule identifies the invariant a ValidationError reports.
type Rule string

const (
	RuleIdentifierRequired Rule = "identifier_required"
	RuleIdentifierReserved Rule = "identifier_reserved"
	RuleUnknownClass       Rule = "unknown_classification"
	RuleThreadRequired     Rule = "thread_spec_required"
	RuleSuffixRequired     Rule = "suffix_required"
	RuleSuffixInvalid      Rule = "suffix_invalid"
	RuleUnknownStatus      Rule = "unknown_status"
	RuleThreadMismatch     Rule = "thread_spec_mismatch"
	RuleCompanionForbidden Rule = "companion_forbidden"
	RuleSuffixRole         Rule = "suffix_role"
	RuleClassMismatch      Rule = "classification_mismatch"
	RuleCategoryMismatch   Rule = "category_mismatch"
	RuleBaseIDMismatch     Rule = "base_id_mismatch"
	RuleCompanionOneSided  Rule = "companion_one_directional"
	RuleBaseIDRetired      Rule = "base_id_retired"
	RuleBaseIDRequired     Rule = "base_id_required"
	RuleSameAsset          Rule = "same_asset"
	RuleCategoryRequired   Rule = "category_required"
	RuleLocationRequired   Rule = "location_required"
)

// ValidationError reports a violated entity or aggregate invariant.  Field
// names the offending attribute and Values carries the conflicting values in
// the order they were compared.
type ValidationError struct {
	Rule   Rule
	Field  string
	Values []string
}

func (e *ValidationError) Error() string {
	if len(e.Values) == 0 {
		return fmt.Sprintf("validation failed: %s (%s)", e.Rule, e.Field)
	}
	return fmt.Sprintf("validation failed: %s (%s: %s)", e.Rule, e.Field, strings.Join(e.Values, " vs "))
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Code returns the violated rule.
func (e *ValidationError) Code() string { return string(e.Rule) }

// Details returns the structured context for API responses.
func (e *ValidationError) Details() map[string]any {
	return map[string]any{"field": e.Field, "values": e.Values}
}

// ConflictCode identifies why a ConflictError was raised.
type ConflictCode string

const (
	ConflictAlreadyPaired ConflictCode = "already_paired"
	ConflictNotPaired     ConflictCode = "not_paired"
	ConflictPairChanged   ConflictCode = "pair_changed"
	ConflictStaleVersion  ConflictCode = "stale_version"
	ConflictInvalidState  ConflictCode = "invalid_state"
	ConflictCertificate   ConflictCode = "certificate_missing"
	ConflictNotSpare      ConflictCode = "not_spare"
	ConflictDuplicate     ConflictCode = "duplicate"
	ConflictBaseIDInUse   ConflictCode = "base_id_in_use"
)

// ConflictError reports that the current state of a row does not allow the
// requested operation.  Expected and Actual describe the mismatch, e.g. the
// required status versus the stored one.
type ConflictError struct {
	Code     ConflictCode
	AssetID  uint64
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflict: %s", e.Code)
	if e.AssetID != 0 {
		msg += fmt.Sprintf(" (asset %d)", e.AssetID)
	}
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(": expected %s, actual %s", e.Expected, e.Actual)
	}
	return msg
}

// Is makes errors.Is(err, ErrConflict) true.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ErrorCode returns the conflict code as a string.
func (e *ConflictError) ErrorCode() string { return string(e.Code) }

// Details returns the structured context for API responses.
func (e *ConflictError) Details() map[string]any {
	return map[string]any{"asset_id": e.AssetID, "expected": e.Expected, "actual": e.Actual}
}

// NotFoundError reports a missing asset, companion or set.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.Key) }

// Is makes errors.Is(err, ErrNotFound) true.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Code returns the fixed not-found code for the entity.
func (e *NotFoundError) Code() string { return e.Entity + "_not_found" }

// Details returns the structured context for API responses.
func (e *NotFoundError) Details() map[string]any {
	return map[string]any{"entity": e.Entity, "key": e.Key}
}

// BusyError reports that a row lock could not be acquired in time.  The whole
// operation may be retried.
type BusyError struct {
	Op  string
	Err error
}

func (e *BusyError) Error() string { return fmt.Sprintf("%s: resource busy: %v", e.Op, e.Err) }

// Unwrap exposes the driver error.
func (e *BusyError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBusy) true.
func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// Code returns the fixed busy code.
func (e *BusyError) Code() string { return "lock_timeout" }

// Details returns the structured context for API responses.
func (e *BusyError) Details() map[string]any { return map[string]any{"operation": e.Op} }

// KindOf returns the kind of err, or KindInternal for errors outside the
// taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusy):
		return KindBusy
	}
	return KindInternal
}

// CodeOf returns the machine-readable code and context of err.  Errors
// outside the taxonomy map to ("internal", nil).
func CodeOf(err error) (string, map[string]any) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code(), ve.Details()
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.ErrorCode(), ce.Details()
	}
	var ne *NotFoundError
	if errors.As(err, &ne) {
		return ne.Code(), ne.Details()
	}
	var be *BusyError
	if errors.As(err, &be) {
		return be.Code(), be.Details()
	}
	return string(KindInternal), nil
}

func invalid(rule Rule, field string, values ...string) error {
	return &ValidationError{Rule: rule, Field: field, Values: values}
}
