package model

import "time"

type AttemptType string

const (
	AttemptPermanentDelete    AttemptType = "permanent_delete"
	AttemptUnauthorizedAccess AttemptType = "unauthorized_access"
	AttemptLockoutControl     AttemptType = "lockout_control"
)

type AttemptOutcome string

const (
	OutcomeGranted         AttemptOutcome = "granted"
	OutcomeInvalidCode     AttemptOutcome = "invalid_code"
	OutcomeLockedOut       AttemptOutcome = "locked_out"
	OutcomeRateLimited     AttemptOutcome = "rate_limited"
	OutcomeCaptchaRequired AttemptOutcome = "captcha_required"
	OutcomeCaptchaFailed   AttemptOutcome = "captcha_failed"
	OutcomeUnauthorized    AttemptOutcome = "unauthorized"
	OutcomeExecutionFailed AttemptOutcome = "execution_failed"
	// OutcomeCriticalLock marks the moment a principal reached the critical
	// lockout level; only a later admin unlock releases it.
	OutcomeCriticalLock AttemptOutcome = "critical_lock"
	OutcomeAdminUnlock  AttemptOutcome = "admin_unlock"
)

// AttemptRecord is one row of the security ledger. Records are never
// modified after they are written.
type AttemptRecord struct {
	ID                 string         `json:"id"`
	PrincipalID        string         `json:"principal_id"`
	Username           string         `json:"username"`
	AttemptType        AttemptType    `json:"attempt_type"`
	Outcome            AttemptOutcome `json:"outcome"`
	Success            bool           `json:"success"`
	RecycleBinID       *string        `json:"recycle_bin_entry_id,omitempty"`
	BlockedByRateLimit bool           `json:"blocked_by_rate_limit"`
	RequiresCaptcha    bool           `json:"requires_captcha"`
	CaptchaPassed      *bool          `json:"captcha_passed,omitempty"`
	IPAddress          string         `json:"ip_address,omitempty"`
	UserAgent          string         `json:"user_agent,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
	RequestPath        string         `json:"request_path,omitempty"`
	Referer            string         `json:"referer,omitempty"`
	AttemptedAt        time.Time      `json:"attempted_at"`
	Details            map[string]any `json:"details,omitempty"`
}

// NewAttempt starts a ledger record for principal with the transport
// metadata of reqCtx.
func NewAttempt(principal Principal, attemptType AttemptType, outcome AttemptOutcome, reqCtx RequestContext) AttemptRecord {
	return AttemptRecord{
		PrincipalID: principal.ID,
		Username:    principal.Username,
		AttemptType: attemptType,
		Outcome:     outcome,
		Success:     outcome == OutcomeGranted || outcome == OutcomeAdminUnlock,
		IPAddress:   reqCtx.IP,
		UserAgent:   reqCtx.UserAgent,
		SessionID:   reqCtx.SessionID,
		RequestPath: reqCtx.RequestPath,
		Referer:     reqCtx.Referer,
	}
}

// IsStrike reports whether the record counts toward the lockout level.
func (r AttemptRecord) IsStrike() bool {
	return r.AttemptType == AttemptPermanentDelete && r.Outcome == OutcomeInvalidCode
}

type AttemptFilter struct {
	PrincipalID string
	AttemptType AttemptType
	Outcome     AttemptOutcome
	Since       *time.Time
	Until       *time.Time
	Limit       int
}
