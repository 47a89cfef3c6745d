package model

import "time"

type LockoutLevel string

const (
	LockoutNormal   LockoutLevel = "normal"
	LockoutMedium   LockoutLevel = "medium"
	LockoutHigh     LockoutLevel = "high"
	LockoutCritical LockoutLevel = "critical"
)

type LockoutStatus struct {
	PrincipalID         string       `json:"principal_id"`
	Level               LockoutLevel `json:"level"`
	FailedAttempts24h   int          `json:"failed_attempts_24h"`
	IsLocked            bool         `json:"is_locked"`
	LockedUntil         *time.Time   `json:"locked_until,omitempty"`
	MinutesRemaining    int          `json:"minutes_remaining"`
	RemainingAttempts   int          `json:"remaining_attempts"`
	MaxAttempts         int          `json:"max_attempts"`
	LockoutMinutes      int          `json:"lockout_minutes"`
	RequiresAdminUnlock bool         `json:"requires_admin_unlock"`
	CaptchaRequired     bool         `json:"captcha_required"`
}

type RateLimitStatus struct {
	PrincipalID       string `json:"principal_id"`
	Attempts          int    `json:"attempts"`
	Max               int    `json:"max"`
	WindowMinutes     int    `json:"window_minutes"`
	Limited           bool   `json:"limited"`
	MinutesUntilReset int    `json:"minutes_until_reset"`
}

type SecuritySummary struct {
	Since                 time.Time              `json:"since"`
	TotalAttempts         int                    `json:"total_attempts"`
	FailedAttempts        int                    `json:"failed_attempts"`
	SuccessfulAttempts    int                    `json:"successful_attempts"`
	UniquePrincipals      int                    `json:"unique_principals"`
	UniqueIPs             int                    `json:"unique_ips"`
	ByOutcome             map[AttemptOutcome]int `json:"by_outcome"`
	ByType                map[AttemptType]int    `json:"by_type"`
	CurrentlyLocked       []LockoutStatus        `json:"currently_locked"`
	AuditFailuresByAction map[AuditAction]int    `json:"audit_failures_by_action"`
}

type PrincipalActivity struct {
	PrincipalID    string       `json:"principal_id"`
	Username       string       `json:"username"`
	FailedAttempts int          `json:"failed_attempts"`
	Level          LockoutLevel `json:"level"`
	LastAttemptAt  time.Time    `json:"last_attempt_at"`
}

type IPActivity struct {
	IPAddress        string   `json:"ip_address"`
	FailedAttempts   int      `json:"failed_attempts"`
	DistinctAccounts int      `json:"distinct_accounts"`
	PrincipalIDs     []string `json:"principal_ids"`
}

// SuspiciousActivityReport flags principals and addresses with repeated
// failures over a reporting window.
type SuspiciousActivityReport struct {
	Since              time.Time           `json:"since"`
	GeneratedAt        time.Time           `json:"generated_at"`
	Principals         []PrincipalActivity `json:"principals"`
	IPAddresses        []IPActivity        `json:"ip_addresses"`
	UnauthorizedAccess int                 `json:"unauthorized_access"`
	SecurityViolations int                 `json:"security_violations"`
}
