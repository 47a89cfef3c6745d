package model

import (
	"fmt"
	"time"
)

const (
	DefaultRetentionDays          = 30
	DefaultWarningDaysBefore      = 7
	DefaultFinalWarningDaysBefore = 1
)

// RetentionPolicy governs how long soft-deleted objects of one module stay
// recoverable.
type RetentionPolicy struct {
	ModuleName             string    `json:"module_name" yaml:"module" toml:"module" validate:"required,max=100"`
	RetentionDays          int       `json:"retention_days" yaml:"retention_days" toml:"retention_days" validate:"gt=0,lte=3650"`
	WarningDaysBefore      int       `json:"warning_days_before" yaml:"warning_days_before" toml:"warning_days_before" validate:"gt=0"`
	FinalWarningDaysBefore int       `json:"final_warning_days_before" yaml:"final_warning_days_before" toml:"final_warning_days_before" validate:"gt=0"`
	AutoDeleteEnabled      bool      `json:"auto_delete_enabled" yaml:"auto_delete_enabled" toml:"auto_delete_enabled"`
	CanRestoreOwn          bool      `json:"can_restore_own" yaml:"can_restore_own" toml:"can_restore_own"`
	CanRestoreOthers       bool      `json:"can_restore_others" yaml:"can_restore_others" toml:"can_restore_others"`
	CreatedAt              time.Time `json:"created_at" yaml:"-" toml:"-"`
	UpdatedAt              time.Time `json:"updated_at" yaml:"-" toml:"-"`
}

func DefaultRetentionPolicy(module string, now time.Time) RetentionPolicy {
	return RetentionPolicy{
		ModuleName:             module,
		RetentionDays:          DefaultRetentionDays,
		WarningDaysBefore:      DefaultWarningDaysBefore,
		FinalWarningDaysBefore: DefaultFinalWarningDaysBefore,
		AutoDeleteEnabled:      true,
		CanRestoreOwn:          true,
		CanRestoreOthers:       false,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// CheckOrdering enforces finalWarningDaysBefore < warningDaysBefore < retentionDays.
func (p RetentionPolicy) CheckOrdering() error {
	if p.RetentionDays <= 0 {
		return &ValidationError{Field: "retention_days", Message: "must be greater than zero"}
	}
	if p.FinalWarningDaysBefore <= 0 {
		return &ValidationError{Field: "final_warning_days_before", Message: "must be greater than zero"}
	}
	if p.WarningDaysBefore >= p.RetentionDays {
		return &ValidationError{
			Field:   "warning_days_before",
			Message: fmt.Sprintf("must be less than retention_days (%d)", p.RetentionDays),
		}
	}
	if p.FinalWarningDaysBefore >= p.WarningDaysBefore {
		return &ValidationError{
			Field:   "final_warning_days_before",
			Message: fmt.Sprintf("must be less than warning_days_before (%d)", p.WarningDaysBefore),
		}
	}
	return nil
}

// AutoDeleteAt computes the expiry instant of an entry deleted at deletedAt.
func (p RetentionPolicy) AutoDeleteAt(deletedAt time.Time) time.Time {
	return deletedAt.AddDate(0, 0, p.RetentionDays)
}

// Diff lists the fields that differ between p and other as old/new pairs.
func (p RetentionPolicy) Diff(other RetentionPolicy) map[string]any {
	changes := map[string]any{}
	add := func(field string, oldValue any, newValue any) {
		if oldValue != newValue {
			changes[field] = map[string]any{"old": oldValue, "new": newValue}
		}
	}

	add("retention_days", p.RetentionDays, other.RetentionDays)
	add("warning_days_before", p.WarningDaysBefore, other.WarningDaysBefore)
	add("final_warning_days_before", p.FinalWarningDaysBefore, other.FinalWarningDaysBefore)
	add("auto_delete_enabled", p.AutoDeleteEnabled, other.AutoDeleteEnabled)
	add("can_restore_own", p.CanRestoreOwn, other.CanRestoreOwn)
	add("can_restore_others", p.CanRestoreOthers, other.CanRestoreOthers)
	return changes
}

type RecomputeResult struct {
	Module    string `json:"module"`
	Checked   int    `json:"checked"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
}
