package service

import (
	"cmp"
	"context"
	"slices"
	"time"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/security"
)

const (
	DefaultSummaryWindow    = 24 * time.Hour
	DefaultReportWindowHrs  = 24
	maxReportWindowHrs      = 24 * 90
	suspiciousPrincipalMin  = 3
	suspiciousIPFailureMin  = 5
	suspiciousIPAccountsMin = 2
	reportAttemptLimit      = 10000
)

// GetSecuritySummary aggregates the attempt ledger over window. An empty
// principalID summarizes every principal.
func (s *RecycleBinService) GetSecuritySummary(ctx context.Context, principalID string, window time.Duration) (model.SecuritySummary, error) {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	since := s.clock.Now().Add(-window)

	attempts, err := s.store.ListAttempts(ctx, model.AttemptFilter{PrincipalID: principalID, Since: &since, Limit: reportAttemptLimit})
	if err != nil {
		return model.SecuritySummary{}, err
	}

	summary := model.SecuritySummary{
		Since:                 since,
		ByOutcome:             map[model.AttemptOutcome]int{},
		ByType:                map[model.AttemptType]int{},
		CurrentlyLocked:       make([]model.LockoutStatus, 0),
		AuditFailuresByAction: map[model.AuditAction]int{},
	}

	principals := map[string]struct{}{}
	ips := map[string]struct{}{}
	for _, attempt := range attempts {
		if attempt.AttemptType == model.AttemptLockoutControl {
			continue
		}
		summary.TotalAttempts++
		if attempt.Success {
			summary.SuccessfulAttempts++
		} else {
			summary.FailedAttempts++
		}
		summary.ByOutcome[attempt.Outcome]++
		summary.ByType[attempt.AttemptType]++
		principals[attempt.PrincipalID] = struct{}{}
		if attempt.IPAddress != "" {
			ips[attempt.IPAddress] = struct{}{}
		}
	}
	if principalID != "" {
		principals[principalID] = struct{}{}
	}
	summary.UniquePrincipals = len(principals)
	summary.UniqueIPs = len(ips)

	ids := make([]string, 0, len(principals))
	for id := range principals {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		status, err := s.LockoutStatus(ctx, id)
		if err != nil {
			return model.SecuritySummary{}, err
		}
		if status.IsLocked {
			summary.CurrentlyLocked = append(summary.CurrentlyLocked, status)
		}
	}

	failed := false
	for page := 1; ; page++ {
		entries, meta, err := s.store.QueryAudit(ctx, model.AuditQuery{PrincipalID: principalID, Success: &failed, From: &since, Page: page, Limit: 200})
		if err != nil {
			return model.SecuritySummary{}, err
		}
		for _, entry := range entries {
			summary.AuditFailuresByAction[entry.Action]++
		}
		if page >= meta.TotalPages {
			break
		}
	}

	return summary, nil
}

// GetSuspiciousActivityReport flags principals with repeated failures and
// addresses that fail often or across several accounts within windowHours.
func (s *RecycleBinService) GetSuspiciousActivityReport(ctx context.Context, windowHours int) (model.SuspiciousActivityReport, error) {
	if windowHours <= 0 {
		windowHours = DefaultReportWindowHrs
	}
	if windowHours > maxReportWindowHrs {
		windowHours = maxReportWindowHrs
	}

	now := s.clock.Now()
	since := now.Add(-time.Duration(windowHours) * time.Hour)

	attempts, err := s.store.ListAttempts(ctx, model.AttemptFilter{Since: &since, Limit: reportAttemptLimit})
	if err != nil {
		return model.SuspiciousActivityReport{}, err
	}

	report := model.SuspiciousActivityReport{
		Since:       since,
		GeneratedAt: now,
		Principals:  make([]model.PrincipalActivity, 0),
		IPAddresses: make([]model.IPActivity, 0),
	}

	principals := map[string]*model.PrincipalActivity{}
	strikes := map[string]int{}
	ips := map[string]*model.IPActivity{}
	strikeSince := now.Add(-security.StrikeWindow)

	for _, attempt := range attempts {
		if attempt.Success || attempt.AttemptType == model.AttemptLockoutControl {
			continue
		}
		switch attempt.AttemptType {
		case model.AttemptUnauthorizedAccess:
			report.UnauthorizedAccess++
		case model.AttemptPermanentDelete:
			if attempt.Outcome == model.OutcomeInvalidCode {
				report.SecurityViolations++
			}
		}
		if attempt.IsStrike() && attempt.AttemptedAt.After(strikeSince) {
			strikes[attempt.PrincipalID]++
		}

		activity, ok := principals[attempt.PrincipalID]
		if !ok {
			activity = &model.PrincipalActivity{PrincipalID: attempt.PrincipalID, Username: attempt.Username}
			principals[attempt.PrincipalID] = activity
		}
		activity.FailedAttempts++
		if attempt.AttemptedAt.After(activity.LastAttemptAt) {
			activity.LastAttemptAt = attempt.AttemptedAt
		}

		if attempt.IPAddress == "" {
			continue
		}
		ip, ok := ips[attempt.IPAddress]
		if !ok {
			ip = &model.IPActivity{IPAddress: attempt.IPAddress, PrincipalIDs: make([]string, 0)}
			ips[attempt.IPAddress] = ip
		}
		ip.FailedAttempts++
		if !slices.Contains(ip.PrincipalIDs, attempt.PrincipalID) {
			ip.PrincipalIDs = append(ip.PrincipalIDs, attempt.PrincipalID)
		}
	}

	for id, activity := range principals {
		if activity.FailedAttempts < suspiciousPrincipalMin {
			continue
		}
		activity.Level = security.LevelFor(strikes[id]).Level
		report.Principals = append(report.Principals, *activity)
	}
	for _, ip := range ips {
		ip.DistinctAccounts = len(ip.PrincipalIDs)
		if ip.FailedAttempts < suspiciousIPFailureMin && ip.DistinctAccounts < suspiciousIPAccountsMin {
			continue
		}
		slices.Sort(ip.PrincipalIDs)
		report.IPAddresses = append(report.IPAddresses, *ip)
	}

	slices.SortFunc(report.Principals, func(a, b model.PrincipalActivity) int {
		return cmp.Or(cmp.Compare(b.FailedAttempts, a.FailedAttempts), cmp.Compare(a.PrincipalID, b.PrincipalID))
	})
	slices.SortFunc(report.IPAddresses, func(a, b model.IPActivity) int {
		return cmp.Or(cmp.Compare(b.FailedAttempts, a.FailedAttempts), cmp.Compare(a.IPAddress, b.IPAddress))
	})

	return report, nil
}
