package model

import (
	"math"
	"time"
)

// ObjectRef identifies a domain object across all registry modules.
type ObjectRef struct {
	Type string `json:"object_type"`
	ID   string `json:"object_id"`
}

func (r ObjectRef) String() string {
	return r.Type + "/" + r.ID
}

// Deletable is implemented by every domain type that can pass through the
// recycle bin.
type Deletable interface {
	Ref() ObjectRef
	Module() string
	DisplayRepr() string
	IsDeleted() bool
	// Snapshot returns every field of the object in a stable order.
	Snapshot() Snapshot
	// UniqueFields returns the fields carrying a uniqueness constraint
	// together with their current values.
	UniqueFields() []Field
}

// RecycleBinEntry tracks one soft deletion of a domain object.
type RecycleBinEntry struct {
	ID                   string     `json:"id"`
	ObjectType           string     `json:"object_type"`
	ObjectID             string     `json:"object_id"`
	DisplayRepr          string     `json:"display_repr"`
	ModuleName           string     `json:"module_name"`
	DeletedBy            Principal  `json:"deleted_by"`
	DeletedAt            time.Time  `json:"deleted_at"`
	DeletionReason       string     `json:"deletion_reason"`
	AutoDeleteAt         time.Time  `json:"auto_delete_at"`
	OriginalData         Snapshot   `json:"original_data"`
	RestoredAt           *time.Time `json:"restored_at,omitempty"`
	RestoredBy           *Principal `json:"restored_by,omitempty"`
	PermanentlyDeletedAt *time.Time `json:"permanently_deleted_at,omitempty"`
}

func (e RecycleBinEntry) Ref() ObjectRef {
	return ObjectRef{Type: e.ObjectType, ID: e.ObjectID}
}

// IsActive reports whether the entry still holds a recoverable object.
func (e RecycleBinEntry) IsActive() bool {
	return e.RestoredAt == nil && e.PermanentlyDeletedAt == nil
}

func (e RecycleBinEntry) Status() EntryStatus {
	switch {
	case e.PermanentlyDeletedAt != nil:
		return EntryStatusPurged
	case e.RestoredAt != nil:
		return EntryStatusRestored
	default:
		return EntryStatusActive
	}
}

// DaysRemaining rounds up so that an entry expiring later today reports 1.
func (e RecycleBinEntry) DaysRemaining(now time.Time) int {
	remaining := e.AutoDeleteAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

func (e RecycleBinEntry) WarningLevel(now time.Time, policy RetentionPolicy) WarningLevel {
	if !e.AutoDeleteAt.After(now) {
		return WarningExpired
	}

	days := e.DaysRemaining(now)
	switch {
	case days <= policy.FinalWarningDaysBefore:
		return WarningFinal
	case days <= policy.WarningDaysBefore:
		return WarningSoon
	default:
		return WarningNone
	}
}

type EntryStatus string

const (
	EntryStatusActive   EntryStatus = "active"
	EntryStatusRestored EntryStatus = "restored"
	EntryStatusPurged   EntryStatus = "purged"
	EntryStatusAll      EntryStatus = "all"
)

type WarningLevel string

const (
	WarningNone    WarningLevel = "normal"
	WarningSoon    WarningLevel = "warning"
	WarningFinal   WarningLevel = "final_warning"
	WarningExpired WarningLevel = "expired"
)

type EntryFilter struct {
	Module      string
	ObjectType  string
	DeletedByID string
	Status      EntryStatus
	Page        int
	Limit       int
}

// EntryView is an entry decorated with its retention position.
type EntryView struct {
	RecycleBinEntry
	DaysRemaining int          `json:"days_remaining"`
	WarningLevel  WarningLevel `json:"warning_level"`
}

type ConflictPolicy string

const (
	ConflictPolicyNone    ConflictPolicy = ""
	ConflictPolicyRename  ConflictPolicy = "rename"
	ConflictPolicyReplace ConflictPolicy = "replace"
	ConflictPolicyCancel  ConflictPolicy = "cancel"
)

// FieldConflict describes a live object already holding a unique value the
// restored object would reintroduce.
type FieldConflict struct {
	Field               string `json:"field"`
	Value               any    `json:"value"`
	ConflictingObjectID string `json:"conflicting_object_id"`
}

type RestoreResult struct {
	Entry      RecycleBinEntry   `json:"entry"`
	Conflicts  []FieldConflict   `json:"conflicts,omitempty"`
	Resolution ConflictPolicy    `json:"resolution,omitempty"`
	Renamed    map[string]string `json:"renamed,omitempty"`
	Replaced   []string          `json:"replaced,omitempty"`
}

type PermanentDeleteRequest struct {
	EntryID      string
	Code         string
	CaptchaToken string
	Reason       string
}

type PermanentDeleteResult struct {
	Entry   RecycleBinEntry `json:"entry"`
	AuditID string          `json:"audit_id"`
}

type BulkFailure struct {
	EntryID string `json:"entry_id"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

type CleanupOptions struct {
	Module string
	Force  bool
	DryRun bool
}

type ModuleCleanupStats struct {
	Module            string `json:"module"`
	AutoDeleteEnabled bool   `json:"auto_delete_enabled"`
	Checked           int    `json:"checked"`
	Eligible          int    `json:"eligible"`
	Deleted           int    `json:"deleted"`
	Errored           int    `json:"errored"`
	Skipped           int    `json:"skipped"`
}

type CleanupFailure struct {
	EntryID string `json:"entry_id"`
	Module  string `json:"module"`
	Reason  string `json:"reason"`
}

type CleanupReport struct {
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt time.Time                      `json:"finished_at"`
	DryRun     bool                           `json:"dry_run"`
	Forced     bool                           `json:"forced"`
	Checked    int                            `json:"checked"`
	Eligible   int                            `json:"eligible"`
	Deleted    int                            `json:"deleted"`
	Errored    int                            `json:"errored"`
	Skipped    int                            `json:"skipped"`
	Modules    map[string]*ModuleCleanupStats `json:"modules"`
	Failures   []CleanupFailure               `json:"failures,omitempty"`
}

func (r *CleanupReport) Module(name string) *ModuleCleanupStats {
	if r.Modules == nil {
		r.Modules = map[string]*ModuleCleanupStats{}
	}
	stats, ok := r.Modules[name]
	if !ok {
		stats = &ModuleCleanupStats{Module: name}
		r.Modules[name] = stats
	}
	return stats
}

// ObjectStatus is where an object stands according to its audit history.
type ObjectStatus string

const (
	ObjectStatusLive    ObjectStatus = "live"
	ObjectStatusInBin   ObjectStatus = "in_recycle_bin"
	ObjectStatusPurged  ObjectStatus = "permanently_deleted"
	ObjectStatusUnknown ObjectStatus = "unknown"
)

// ObjectHistory is the lifecycle of one object rebuilt from audit entries,
// oldest first. It stays available after the object and its entries are gone.
type ObjectHistory struct {
	Ref          ObjectRef    `json:"ref"`
	DisplayRepr  string       `json:"display_repr,omitempty"`
	ModuleName   string       `json:"module_name,omitempty"`
	Status       ObjectStatus `json:"status"`
	LastSnapshot Snapshot     `json:"last_snapshot,omitempty"`
	Events       []AuditEntry `json:"events"`
}
