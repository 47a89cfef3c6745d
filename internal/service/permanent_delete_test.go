package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/clock"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/security"
	"asset-recyclebin/internal/storage"
)

func TestPermanentDeleteRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)

	_, err := f.svc.PermanentDelete(ctx, editorUser, model.PermanentDeleteRequest{EntryID: entry.ID, Code: testCode, Reason: "cleanup"}, testReq)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	assert.Len(t, f.attempts(t, editorUser.ID, model.OutcomeUnauthorized), 1)
	assert.Empty(t, f.attempts(t, editorUser.ID, model.OutcomeInvalidCode))
	assert.Len(t, f.audit(t, model.AuditQuery{Action: model.AuditUnauthorizedAccess}), 1)

	current, err := f.store.FindEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, current.IsActive())
}

func TestPermanentDeleteRemovesObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.saveAsset(t, "7", "Laptop", "TAG-7")
	entry := f.softDelete(t, ref, editorUser)

	result, err := f.purge(entry.ID, testCode)
	require.NoError(t, err)
	require.NotNil(t, result.Entry.PermanentlyDeletedAt)
	assert.NotEmpty(t, result.AuditID)

	_, err = f.objects.Load(ctx, ref)
	require.ErrorIs(t, err, model.ErrObjectNotFound)

	audits := f.audit(t, model.AuditQuery{Action: model.AuditPermanentDelete})
	require.Len(t, audits, 1)
	assert.Equal(t, "TAG-7", audits[0].ObjectSnapshot.Map()["tag"])
	assert.Equal(t, adminUser.ID, audits[0].Principal.ID)

	granted := f.attempts(t, adminUser.ID, model.OutcomeGranted)
	require.Len(t, granted, 1)
	require.NotNil(t, granted[0].RecycleBinID)
	assert.Equal(t, entry.ID, *granted[0].RecycleBinID)

	_, err = f.purge(entry.ID, testCode)
	require.ErrorIs(t, err, model.ErrAlreadyPurged)
}

func TestPermanentDeleteWrongCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)

	_, err := f.purge(entry.ID, "guess")
	require.ErrorIs(t, err, model.ErrInvalidSecurityCode)

	var codeErr *model.InvalidSecurityCodeError
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, 2, codeErr.RemainingAttempts)
	assert.Equal(t, model.LockoutNormal, codeErr.Level)

	violations := f.audit(t, model.AuditQuery{Action: model.AuditSecurityViolation})
	require.Len(t, violations, 1)
	require.NotNil(t, violations[0].RecycleBinID)
	assert.Equal(t, entry.ID, *violations[0].RecycleBinID)

	assert.Len(t, f.attempts(t, adminUser.ID, model.OutcomeInvalidCode), 1)

	current, err := f.store.FindEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, current.IsActive())
}

func TestPermanentDeleteLockout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)

	for _, remaining := range []int{2, 1} {
		_, err := f.purge(entry.ID, "guess")
		var codeErr *model.InvalidSecurityCodeError
		require.True(t, errors.As(err, &codeErr))
		assert.Equal(t, remaining, codeErr.RemainingAttempts)
	}

	_, err := f.purge(entry.ID, "guess")
	var codeErr *model.InvalidSecurityCodeError
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, 0, codeErr.RemainingAttempts)
	assert.Equal(t, model.LockoutMedium, codeErr.Level)

	_, err = f.purge(entry.ID, testCode)
	require.ErrorIs(t, err, model.ErrLockedOut)
	var lockErr *model.LockedOutError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, model.LockoutMedium, lockErr.Level)
	assert.Equal(t, 30, lockErr.MinutesRemaining)
	assert.False(t, lockErr.RequiresAdminUnlock)

	// A rejected attempt while locked is not a strike.
	assert.Len(t, f.attempts(t, adminUser.ID, model.OutcomeInvalidCode), 3)
	assert.Len(t, f.attempts(t, adminUser.ID, model.OutcomeLockedOut), 1)

	status, err := f.svc.LockoutStatus(ctx, adminUser.ID)
	require.NoError(t, err)
	assert.True(t, status.IsLocked)
	assert.Equal(t, 3, status.FailedAttempts24h)

	f.clock.Advance(31 * time.Minute)

	_, err = f.purge(entry.ID, testCode)
	require.NoError(t, err)
}

func TestPermanentDeleteLockoutRunsFromLastFailure(t *testing.T) {
	f := newFixture(t)
	entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)

	for i := 0; i < 3; i++ {
		if i > 0 {
			f.clock.Advance(10 * time.Minute)
		}
		_, err := f.purge(entry.ID, "guess")
		require.ErrorIs(t, err, model.ErrInvalidSecurityCode)
	}

	f.clock.Advance(15 * time.Minute)
	_, err := f.purge(entry.ID, testCode)
	var lockErr *model.LockedOutError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, model.LockoutMedium, lockErr.Level)
	assert.Equal(t, 15, lockErr.MinutesRemaining)
	assert.Empty(t, f.attempts(t, adminUser.ID, model.OutcomeGranted))

	f.clock.Advance(15 * time.Minute)
	_, err = f.purge(entry.ID, testCode)
	require.NoError(t, err)
}

func TestPermanentDeleteRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entries := make([]model.RecycleBinEntry, 0, 5)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		entries = append(entries, f.softDelete(t, f.saveAsset(t, id, "Desk "+id, "TAG-"+id), editorUser))
	}

	for _, entry := range entries[:4] {
		_, err := f.purge(entry.ID, testCode)
		require.NoError(t, err)
	}

	_, err := f.purge(entries[4].ID, "guess")
	require.ErrorIs(t, err, model.ErrRateLimited)

	var rateErr *model.RateLimitedError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, 10, rateErr.MinutesUntilReset)

	assert.Empty(t, f.attempts(t, adminUser.ID, model.OutcomeInvalidCode))
	limited := f.attempts(t, adminUser.ID, model.OutcomeRateLimited)
	require.Len(t, limited, 1)
	assert.True(t, limited[0].BlockedByRateLimit)

	current, err := f.store.FindEntry(ctx, entries[4].ID)
	require.NoError(t, err)
	assert.True(t, current.IsActive())

	status, err := f.svc.RateLimitStatus(ctx, adminUser.ID)
	require.NoError(t, err)
	assert.True(t, status.Limited)
	assert.Equal(t, 5, status.Attempts)

	f.clock.Advance(11 * time.Minute)
	_, err = f.purge(entries[4].ID, testCode)
	require.NoError(t, err)
}

func TestPermanentDeleteCaptcha(t *testing.T) {
	ctx := context.Background()
	verifier := &stubVerifier{valid: "human"}
	f := newFixture(t, func(opts *Options) { opts.Captcha = verifier })
	entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)

	for range 2 {
		_, err := f.purge(entry.ID, "guess")
		require.ErrorIs(t, err, model.ErrInvalidSecurityCode)
	}
	f.clock.Advance(11 * time.Minute)

	status, err := f.svc.LockoutStatus(ctx, adminUser.ID)
	require.NoError(t, err)
	assert.True(t, status.CaptchaRequired)
	assert.False(t, status.IsLocked)

	_, err = f.purge(entry.ID, testCode)
	require.ErrorIs(t, err, model.ErrCaptchaRequired)
	assert.Zero(t, verifier.calls)

	request := model.PermanentDeleteRequest{EntryID: entry.ID, Code: testCode, CaptchaToken: "robot", Reason: "retention complete"}
	_, err = f.svc.PermanentDelete(ctx, adminUser, request, testReq)
	require.ErrorIs(t, err, model.ErrCaptchaFailed)
	assert.Equal(t, 1, verifier.calls)

	assert.Len(t, f.attempts(t, adminUser.ID, model.OutcomeInvalidCode), 2)

	request.CaptchaToken = "human"
	_, err = f.svc.PermanentDelete(ctx, adminUser, request, testReq)
	require.NoError(t, err)

	granted := f.attempts(t, adminUser.ID, model.OutcomeGranted)
	require.Len(t, granted, 1)
	assert.True(t, granted[0].RequiresCaptcha)
	require.NotNil(t, granted[0].CaptchaPassed)
	assert.True(t, *granted[0].CaptchaPassed)
}

func TestCaptchaNotVerifiedForRejectedPrincipals(t *testing.T) {
	ctx := context.Background()

	t.Run("locked out", func(t *testing.T) {
		verifier := &stubVerifier{valid: "human"}
		f := newFixture(t, func(opts *Options) { opts.Captcha = verifier })
		entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)
		f.appendStrikes(t, adminUser, testStart, testStart.Add(time.Minute), testStart.Add(2*time.Minute))
		f.clock.Advance(11 * time.Minute)

		request := model.PermanentDeleteRequest{EntryID: entry.ID, Code: testCode, CaptchaToken: "human", Reason: "retention complete"}
		_, err := f.svc.PermanentDelete(ctx, adminUser, request, testReq)
		require.ErrorIs(t, err, model.ErrLockedOut)
		assert.Zero(t, verifier.calls)

		f.clock.Advance(22 * time.Minute)
		_, err = f.svc.PermanentDelete(ctx, adminUser, request, testReq)
		require.NoError(t, err)
		assert.Equal(t, 1, verifier.calls)
	})

	t.Run("rate limited", func(t *testing.T) {
		verifier := &stubVerifier{valid: "human"}
		f := newFixture(t, func(opts *Options) { opts.Captcha = verifier })
		entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)

		for range 2 {
			_, err := f.purge(entry.ID, "guess")
			require.ErrorIs(t, err, model.ErrInvalidSecurityCode)
		}
		for range 2 {
			_, err := f.purge(entry.ID, testCode)
			require.ErrorIs(t, err, model.ErrCaptchaRequired)
		}

		request := model.PermanentDeleteRequest{EntryID: entry.ID, Code: testCode, CaptchaToken: "human", Reason: "retention complete"}
		_, err := f.svc.PermanentDelete(ctx, adminUser, request, testReq)
		require.ErrorIs(t, err, model.ErrRateLimited)
		assert.Zero(t, verifier.calls)

		f.clock.Advance(11 * time.Minute)
		_, err = f.svc.PermanentDelete(ctx, adminUser, request, testReq)
		require.NoError(t, err)
		assert.Equal(t, 1, verifier.calls)
	})
}

func TestCriticalLockoutNeedsAdminUnlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry := f.softDelete(t, f.saveAsset(t, "7", "Laptop", "TAG-7"), editorUser)

	strikes := make([]time.Time, 0, 9)
	for i := 1; i <= 9; i++ {
		strikes = append(strikes, testStart.Add(-time.Duration(i)*2*time.Hour))
	}
	f.appendStrikes(t, adminUser, strikes...)

	_, err := f.purge(entry.ID, "guess")
	var codeErr *model.InvalidSecurityCodeError
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, model.LockoutCritical, codeErr.Level)
	assert.Equal(t, 0, codeErr.RemainingAttempts)
	assert.Len(t, f.attempts(t, adminUser.ID, model.OutcomeCriticalLock), 1)

	f.clock.Advance(48 * time.Hour)

	_, err = f.purge(entry.ID, testCode)
	var lockErr *model.LockedOutError
	require.True(t, errors.As(err, &lockErr))
	assert.True(t, lockErr.RequiresAdminUnlock)
	assert.Equal(t, model.LockoutCritical, lockErr.Level)

	_, err = f.svc.AdminUnlock(ctx, editorUser, adminUser.ID, "verified by phone", testReq)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	supervisor := model.Principal{ID: "u-supervisor", Username: "supervisor", Role: model.RoleAdmin}
	status, err := f.svc.AdminUnlock(ctx, supervisor, adminUser.ID, "verified by phone", testReq)
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Equal(t, model.LockoutNormal, status.Level)

	unlocks := f.audit(t, model.AuditQuery{Action: model.AuditAdminUnlock})
	require.Len(t, unlocks, 1)
	assert.Equal(t, adminUser.ID, unlocks[0].AdditionalData["target_principal"])
	assert.Equal(t, true, unlocks[0].AdditionalData["was_locked"])

	_, err = f.purge(entry.ID, testCode)
	require.NoError(t, err)
}

func TestLockoutIsMonotonicWithinWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rank := func(level model.LockoutLevel) int {
		for i, rule := range security.Levels {
			if rule.Level == level {
				return i
			}
		}
		return -1
	}

	previous := -1
	for i := 1; i <= 12; i++ {
		f.appendStrikes(t, adminUser, f.clock.Now())
		f.clock.Advance(time.Minute)

		status, err := f.svc.LockoutStatus(ctx, adminUser.ID)
		require.NoError(t, err)
		assert.Equal(t, i, status.FailedAttempts24h)
		assert.GreaterOrEqual(t, rank(status.Level), previous)
		previous = rank(status.Level)
	}
	assert.Equal(t, rank(model.LockoutCritical), previous)
}

func TestPermanentDeleteExecutionFailure(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	objects := new(storage.MockStorage)

	code, err := security.NewCodeChecker(testCode, "")
	require.NoError(t, err)

	svc := NewRecycleBinService(store, objects, Options{
		Code:   code,
		Clock:  clock.NewFake(testStart),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	record := storage.Record{
		Type:    storage.ObjectType{Name: "asset", Module: "inventory"},
		ID:      "7",
		Fields:  model.Snapshot{{Key: "name", Value: "Laptop"}},
		Deleted: true,
	}

	var entry model.RecycleBinEntry
	err = store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		entry, err = tx.CreateEntry(ctx, model.RecycleBinEntry{
			ObjectType:     "asset",
			ObjectID:       "7",
			DisplayRepr:    "Laptop",
			ModuleName:     "inventory",
			DeletedBy:      editorUser,
			DeletedAt:      testStart,
			DeletionReason: "decommissioned",
			AutoDeleteAt:   testStart.AddDate(0, 0, 30),
			OriginalData:   record.Snapshot(),
		})
		return err
	})
	require.NoError(t, err)

	objects.On("Load", mock.Anything, record.Ref()).Return(record, nil)
	objects.On("HardDelete", mock.Anything, record.Ref()).Return(errors.New("disk unavailable"))

	_, err = svc.PermanentDelete(ctx, adminUser, model.PermanentDeleteRequest{EntryID: entry.ID, Code: testCode, Reason: "cleanup"}, testReq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk unavailable")
	objects.AssertExpectations(t)

	current, err := store.FindEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, current.IsActive())

	failed, err := store.ListAttempts(ctx, model.AttemptFilter{PrincipalID: adminUser.ID, Outcome: model.OutcomeExecutionFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	granted, err := store.ListAttempts(ctx, model.AttemptFilter{PrincipalID: adminUser.ID, Outcome: model.OutcomeGranted})
	require.NoError(t, err)
	assert.Empty(t, granted)

	audits, _, err := store.QueryAudit(ctx, model.AuditQuery{Action: model.AuditPermanentDelete})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.False(t, audits[0].Success)
}

func TestBulkPermanentDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong code rejects the whole batch", func(t *testing.T) {
		f := newFixture(t)
		first := f.softDelete(t, f.saveAsset(t, "1", "Desk", "TAG-1"), editorUser)
		second := f.softDelete(t, f.saveAsset(t, "2", "Chair", "TAG-2"), editorUser)

		_, err := f.svc.BulkPermanentDelete(ctx, adminUser, model.BulkPermanentDeleteRequest{
			EntryIDs:     []string{first.ID, second.ID},
			SecurityCode: "guess",
			Reason:       "retention complete",
		}, testReq)
		require.ErrorIs(t, err, model.ErrInvalidSecurityCode)

		for _, id := range []string{first.ID, second.ID} {
			current, err := f.store.FindEntry(ctx, id)
			require.NoError(t, err)
			assert.True(t, current.IsActive())
		}
		assert.Len(t, f.attempts(t, adminUser.ID, model.OutcomeInvalidCode), 1)
	})

	t.Run("one gate pass covers every entry", func(t *testing.T) {
		f := newFixture(t)
		first := f.softDelete(t, f.saveAsset(t, "1", "Desk", "TAG-1"), editorUser)
		second := f.softDelete(t, f.saveAsset(t, "2", "Chair", "TAG-2"), editorUser)

		result, err := f.svc.BulkPermanentDelete(ctx, adminUser, model.BulkPermanentDeleteRequest{
			EntryIDs:     []string{first.ID, "missing", second.ID},
			SecurityCode: testCode,
			Reason:       "retention complete",
		}, testReq)
		require.NoError(t, err)

		assert.Equal(t, []string{first.ID, second.ID}, result.Succeeded)
		require.Len(t, result.Failed, 1)
		assert.Equal(t, "missing", result.Failed[0].EntryID)
		assert.Equal(t, "NOT_FOUND", result.Failed[0].Code)

		granted := f.attempts(t, adminUser.ID, model.OutcomeGranted)
		require.Len(t, granted, 1)
		assert.Equal(t, true, granted[0].Details["bulk"])

		assert.Len(t, f.audit(t, model.AuditQuery{Action: model.AuditPermanentDelete, Success: boolPtr(true)}), 2)
		assert.Len(t, f.audit(t, model.AuditQuery{Action: model.AuditBulkPermanentDelete}), 1)
	})
}

func boolPtr(v bool) *bool {
	return &v
}
