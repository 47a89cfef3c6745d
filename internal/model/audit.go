package model

import "time"

type AuditAction string

const (
	AuditSoftDelete          AuditAction = "soft_delete"
	AuditRestore             AuditAction = "restore"
	AuditPermanentDelete     AuditAction = "permanent_delete"
	AuditFailedRestore       AuditAction = "failed_restore"
	AuditUnauthorizedAccess  AuditAction = "unauthorized_access"
	AuditSecurityViolation   AuditAction = "security_violation"
	AuditBulkRestore         AuditAction = "bulk_restore"
	AuditBulkPermanentDelete AuditAction = "bulk_permanent_delete"
	AuditPolicyUpdate        AuditAction = "policy_update"
	AuditPolicyRecompute     AuditAction = "policy_recompute"
	AuditAdminUnlock         AuditAction = "admin_unlock"
	AuditAutoCleanup         AuditAction = "auto_cleanup"
	AuditEntryPurge          AuditAction = "entry_purge"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditSoftDelete, AuditRestore, AuditPermanentDelete, AuditFailedRestore,
		AuditUnauthorizedAccess, AuditSecurityViolation, AuditBulkRestore,
		AuditBulkPermanentDelete, AuditPolicyUpdate, AuditPolicyRecompute,
		AuditAdminUnlock, AuditAutoCleanup, AuditEntryPurge:
		return true
	default:
		return false
	}
}

// AuditEntry is an append-only record of a recycle bin event. A nil
// Principal means the system acted on its own. Entries outlive both the
// domain object and its recycle bin entry.
type AuditEntry struct {
	ID             string         `json:"id"`
	RecycleBinID   *string        `json:"recycle_bin_entry_id,omitempty"`
	Action         AuditAction    `json:"action"`
	Principal      *Principal     `json:"principal,omitempty"`
	ObjectType     string         `json:"object_type,omitempty"`
	ObjectID       string         `json:"object_id,omitempty"`
	DisplayRepr    string         `json:"display_repr,omitempty"`
	ModuleName     string         `json:"module_name,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	ObjectSnapshot Snapshot       `json:"object_snapshot,omitempty"`
	PreviousState  Snapshot       `json:"previous_state,omitempty"`
	ContextData    RequestContext `json:"context_data"`
	Success        bool           `json:"success"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ForEntry fills the object identity fields from a recycle bin entry.
func (a AuditEntry) ForEntry(entry RecycleBinEntry) AuditEntry {
	id := entry.ID
	a.RecycleBinID = &id
	a.ObjectType = entry.ObjectType
	a.ObjectID = entry.ObjectID
	a.DisplayRepr = entry.DisplayRepr
	a.ModuleName = entry.ModuleName
	return a
}

type AuditQuery struct {
	EntryID     string
	ObjectType  string
	ObjectID    string
	Module      string
	PrincipalID string
	Action      AuditAction
	Success     *bool
	From        *time.Time
	To          *time.Time
	Page        int
	Limit       int
}
