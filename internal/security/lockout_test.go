package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/model"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func strikesAt(start time.Time, step time.Duration, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start.Add(time.Duration(i)*step))
	}
	return out
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		failures int
		level    model.LockoutLevel
	}{
		{0, model.LockoutNormal},
		{2, model.LockoutNormal},
		{3, model.LockoutMedium},
		{5, model.LockoutMedium},
		{6, model.LockoutHigh},
		{9, model.LockoutHigh},
		{10, model.LockoutCritical},
		{25, model.LockoutCritical},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.level, LevelFor(tc.failures).Level, "failures=%d", tc.failures)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	t.Run("clean history is normal and unlocked", func(t *testing.T) {
		status := Evaluate("u1", base, History{})
		require.Equal(t, model.LockoutNormal, status.Level)
		require.False(t, status.IsLocked)
		require.Equal(t, 3, status.RemainingAttempts)
	})

	t.Run("three strikes lock for thirty minutes", func(t *testing.T) {
		strikes := strikesAt(base, time.Minute, 3)
		now := base.Add(3 * time.Minute)

		status := Evaluate("u1", now, History{Strikes: strikes})
		require.True(t, status.IsLocked)
		require.Equal(t, model.LockoutMedium, status.Level)
		require.Equal(t, 29, status.MinutesRemaining)
		require.False(t, status.RequiresAdminUnlock)
	})

	t.Run("lock expires after the duration from the last failure", func(t *testing.T) {
		strikes := strikesAt(base, time.Minute, 3)
		now := base.Add(2*time.Minute + 30*time.Minute + time.Second)

		status := Evaluate("u1", now, History{Strikes: strikes})
		require.False(t, status.IsLocked)
		require.Equal(t, model.LockoutMedium, status.Level)
		require.Equal(t, 3, status.FailedAttempts24h)
	})

	t.Run("spaced strikes stay locked until the duration after the last one", func(t *testing.T) {
		strikes := strikesAt(base, 10*time.Minute, 3)

		for _, tc := range []struct {
			elapsed   time.Duration
			remaining int
		}{
			{29 * time.Minute, 21},
			{31 * time.Minute, 19},
			{49 * time.Minute, 1},
		} {
			status := Evaluate("u1", base.Add(tc.elapsed), History{Strikes: strikes})
			require.True(t, status.IsLocked, "elapsed=%s", tc.elapsed)
			require.Equal(t, tc.remaining, status.MinutesRemaining, "elapsed=%s", tc.elapsed)
			require.Equal(t, base.Add(50*time.Minute), *status.LockedUntil)
		}

		status := Evaluate("u1", base.Add(50*time.Minute), History{Strikes: strikes})
		require.False(t, status.IsLocked)
		require.Equal(t, model.LockoutMedium, status.Level)
		require.Equal(t, 3, status.RemainingAttempts)
	})

	t.Run("an expired lock starts a new streak", func(t *testing.T) {
		strikes := append(strikesAt(base, 10*time.Minute, 3), base.Add(time.Hour))

		status := Evaluate("u1", base.Add(61*time.Minute), History{Strikes: strikes})
		require.False(t, status.IsLocked)
		require.Equal(t, 4, status.FailedAttempts24h)
		require.Equal(t, 2, status.RemainingAttempts)

		strikes = append(strikes, base.Add(70*time.Minute), base.Add(80*time.Minute))
		status = Evaluate("u1", base.Add(81*time.Minute), History{Strikes: strikes})
		require.True(t, status.IsLocked)
		require.Equal(t, 29, status.MinutesRemaining)
	})

	t.Run("reaching the high level locks for an hour", func(t *testing.T) {
		strikes := append(strikesAt(base, time.Minute, 3), strikesAt(base.Add(40*time.Minute), time.Minute, 3)...)

		status := Evaluate("u1", base.Add(43*time.Minute), History{Strikes: strikes})
		require.True(t, status.IsLocked)
		require.Equal(t, model.LockoutHigh, status.Level)
		require.Equal(t, 59, status.MinutesRemaining)
	})

	t.Run("levels follow failures in the last day", func(t *testing.T) {
		now := base.Add(23 * time.Hour)
		for _, tc := range []struct {
			failures int
			level    model.LockoutLevel
		}{
			{0, model.LockoutNormal},
			{3, model.LockoutMedium},
			{6, model.LockoutHigh},
			{10, model.LockoutCritical},
		} {
			status := Evaluate("u1", now, History{Strikes: strikesAt(base, time.Minute, tc.failures)})
			assert.Equal(t, tc.level, status.Level, "failures=%d", tc.failures)
		}
	})

	t.Run("strikes older than a day age out", func(t *testing.T) {
		strikes := strikesAt(base, time.Minute, 6)
		now := base.Add(25 * time.Hour)

		status := Evaluate("u1", now, History{Strikes: strikes})
		require.Equal(t, model.LockoutNormal, status.Level)
		require.Equal(t, 0, status.FailedAttempts24h)
	})

	t.Run("critical lock never expires by time alone", func(t *testing.T) {
		strikes := strikesAt(base, time.Minute, 10)
		marker := base.Add(9 * time.Minute)

		for _, elapsed := range []time.Duration{time.Hour, 3 * time.Hour, 48 * time.Hour} {
			status := Evaluate("u1", marker.Add(elapsed), History{Strikes: strikes, LastCriticalLock: &marker})
			require.True(t, status.IsLocked, "elapsed=%s", elapsed)
			require.True(t, status.RequiresAdminUnlock)
			require.Equal(t, model.LockoutCritical, status.Level)
		}
	})

	t.Run("admin unlock releases critical lock and resets the lock window", func(t *testing.T) {
		strikes := strikesAt(base, time.Minute, 10)
		marker := base.Add(9 * time.Minute)
		unlock := base.Add(15 * time.Minute)

		status := Evaluate("u1", base.Add(16*time.Minute), History{
			Strikes:          strikes,
			LastCriticalLock: &marker,
			LastAdminUnlock:  &unlock,
		})
		require.False(t, status.IsLocked)
		require.Equal(t, model.LockoutCritical, status.Level)
		require.Equal(t, 1, status.RemainingAttempts)
	})

	t.Run("one strike after unlock at critical locks again", func(t *testing.T) {
		strikes := strikesAt(base, time.Minute, 10)
		marker := base.Add(9 * time.Minute)
		unlock := base.Add(15 * time.Minute)
		strikes = append(strikes, base.Add(20*time.Minute))

		status := Evaluate("u1", base.Add(21*time.Minute), History{
			Strikes:          strikes,
			LastCriticalLock: &marker,
			LastAdminUnlock:  &unlock,
		})
		require.True(t, status.IsLocked)
		require.True(t, status.RequiresAdminUnlock)
	})

	t.Run("more failures never lower the level", func(t *testing.T) {
		now := base.Add(12 * time.Hour)
		previous := model.LockoutNormal
		rank := map[model.LockoutLevel]int{
			model.LockoutNormal: 0, model.LockoutMedium: 1, model.LockoutHigh: 2, model.LockoutCritical: 3,
		}
		for n := 0; n <= 12; n++ {
			status := Evaluate("u1", now, History{Strikes: strikesAt(base, time.Minute, n)})
			require.GreaterOrEqual(t, rank[status.Level], rank[previous])
			previous = status.Level
		}
	})
}
