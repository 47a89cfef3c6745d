package model

type SoftDeleteRequest struct {
	ObjectType string `json:"object_type" validate:"required,max=100"`
	ObjectID   string `json:"object_id" validate:"required,max=255"`
	Reason     string `json:"reason" validate:"required,max=2000"`
}

type RestoreRequest struct {
	ConflictPolicy ConflictPolicy `json:"conflict_policy" validate:"omitempty,oneof=rename replace cancel"`
}

type PermanentDeleteBody struct {
	SecurityCode string `json:"security_code" validate:"required,max=256"`
	CaptchaToken string `json:"captcha_token" validate:"omitempty,max=4096"`
	Reason       string `json:"reason" validate:"required,max=2000"`
}

type BulkRestoreRequest struct {
	EntryIDs       []string       `json:"entry_ids" validate:"required,min=1,max=500,dive,required"`
	ConflictPolicy ConflictPolicy `json:"conflict_policy" validate:"omitempty,oneof=rename replace cancel"`
}

type BulkPermanentDeleteRequest struct {
	EntryIDs     []string `json:"entry_ids" validate:"required,min=1,max=500,dive,required"`
	SecurityCode string   `json:"security_code" validate:"required,max=256"`
	CaptchaToken string   `json:"captcha_token" validate:"omitempty,max=4096"`
	Reason       string   `json:"reason" validate:"required,max=2000"`
}

type UpdatePolicyRequest struct {
	RetentionDays          *int  `json:"retention_days" validate:"omitempty,gt=0,lte=3650"`
	WarningDaysBefore      *int  `json:"warning_days_before" validate:"omitempty,gt=0"`
	FinalWarningDaysBefore *int  `json:"final_warning_days_before" validate:"omitempty,gt=0"`
	AutoDeleteEnabled      *bool `json:"auto_delete_enabled"`
	CanRestoreOwn          *bool `json:"can_restore_own"`
	CanRestoreOthers       *bool `json:"can_restore_others"`
}

// Apply overlays the non-nil fields of r onto policy.
func (r UpdatePolicyRequest) Apply(policy RetentionPolicy) RetentionPolicy {
	if r.RetentionDays != nil {
		policy.RetentionDays = *r.RetentionDays
	}
	if r.WarningDaysBefore != nil {
		policy.WarningDaysBefore = *r.WarningDaysBefore
	}
	if r.FinalWarningDaysBefore != nil {
		policy.FinalWarningDaysBefore = *r.FinalWarningDaysBefore
	}
	if r.AutoDeleteEnabled != nil {
		policy.AutoDeleteEnabled = *r.AutoDeleteEnabled
	}
	if r.CanRestoreOwn != nil {
		policy.CanRestoreOwn = *r.CanRestoreOwn
	}
	if r.CanRestoreOthers != nil {
		policy.CanRestoreOthers = *r.CanRestoreOthers
	}
	return policy
}

type CleanupRequest struct {
	Module string `json:"module" validate:"omitempty,max=100"`
	Force  bool   `json:"force"`
	DryRun bool   `json:"dry_run"`
}

type UnlockRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}
