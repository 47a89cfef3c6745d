package security

import (
	"math"
	"slices"
	"time"

	"asset-recyclebin/internal/model"
)

// StrikeWindow is the rolling window that determines the lockout level.
const StrikeWindow = 24 * time.Hour

// LevelRule describes one tier of the progressive lockout.
type LevelRule struct {
	Level               model.LockoutLevel
	MinFailures         int
	MaxAttempts         int
	Duration            time.Duration
	RequiresAdminUnlock bool
}

// Levels is ordered by MinFailures ascending.
var Levels = []LevelRule{
	{Level: model.LockoutNormal, MinFailures: 0, MaxAttempts: 3, Duration: 30 * time.Minute},
	{Level: model.LockoutMedium, MinFailures: 3, MaxAttempts: 3, Duration: 30 * time.Minute},
	{Level: model.LockoutHigh, MinFailures: 6, MaxAttempts: 2, Duration: 60 * time.Minute},
	{Level: model.LockoutCritical, MinFailures: 10, MaxAttempts: 1, Duration: 120 * time.Minute, RequiresAdminUnlock: true},
}

func LevelFor(failures int) LevelRule {
	rule := Levels[0]
	for _, candidate := range Levels {
		if failures >= candidate.MinFailures {
			rule = candidate
		}
	}
	return rule
}

// History is the slice of the attempt ledger the lockout engine needs.
type History struct {
	// Strikes are the timestamps of failed code attempts within StrikeWindow.
	Strikes          []time.Time
	LastAdminUnlock  *time.Time
	LastCriticalLock *time.Time
}

// Evaluate derives the lockout status of a principal from its ledger
// history. Nothing is stored between calls.
func Evaluate(principalID string, now time.Time, history History) model.LockoutStatus {
	windowStart := now.Add(-StrikeWindow)
	failures := 0
	for _, at := range history.Strikes {
		if at.After(windowStart) {
			failures++
		}
	}

	rule := LevelFor(failures)
	status := model.LockoutStatus{
		PrincipalID:       principalID,
		Level:             rule.Level,
		FailedAttempts24h: failures,
		MaxAttempts:       rule.MaxAttempts,
		LockoutMinutes:    int(rule.Duration / time.Minute),
	}

	if criticalLockPending(history) {
		critical := LevelFor(Levels[len(Levels)-1].MinFailures)
		status.Level = critical.Level
		status.MaxAttempts = critical.MaxAttempts
		status.LockoutMinutes = int(critical.Duration / time.Minute)
		status.IsLocked = true
		status.RequiresAdminUnlock = true
		return status
	}

	streak, until, streakRule := lockEpisode(windowStart, history)
	if !until.IsZero() && now.Before(until) {
		status.IsLocked = true
		status.LockedUntil = &until
		status.MinutesRemaining = minutesUntil(now, until)
		status.RequiresAdminUnlock = streakRule.RequiresAdminUnlock
		return status
	}
	if !until.IsZero() {
		streak = 0
	}

	status.RemainingAttempts = max(rule.MaxAttempts-streak, 0)
	return status
}

// lockEpisode replays the strikes of the window in order. A lock starts
// when the strikes since the previous lock ended (or since the last admin
// unlock) reach the level's attempts and lasts Duration from that strike.
// It returns the current streak, the end of the latest lock and the rule
// that started it.
func lockEpisode(windowStart time.Time, history History) (int, time.Time, LevelRule) {
	strikes := make([]time.Time, 0, len(history.Strikes))
	for _, at := range history.Strikes {
		if at.After(windowStart) {
			strikes = append(strikes, at)
		}
	}
	slices.SortFunc(strikes, func(a, b time.Time) int { return a.Compare(b) })

	var (
		failures int
		streak   int
		until    time.Time
		lockRule LevelRule
	)
	for _, at := range strikes {
		failures++
		if history.LastAdminUnlock != nil && !at.After(*history.LastAdminUnlock) {
			continue
		}
		if !until.IsZero() && !at.Before(until) {
			streak = 0
			until = time.Time{}
		}

		streak++
		rule := LevelFor(failures)
		if streak >= rule.MaxAttempts {
			until = at.Add(rule.Duration)
			lockRule = rule
		}
	}
	return streak, until, lockRule
}

func criticalLockPending(history History) bool {
	if history.LastCriticalLock == nil {
		return false
	}
	if history.LastAdminUnlock == nil {
		return true
	}
	return history.LastAdminUnlock.Before(*history.LastCriticalLock)
}

func minutesUntil(now time.Time, until time.Time) int {
	remaining := until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}
