package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/model"
)

func TestPlanCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.softDelete(t, f.saveAsset(t, "1", "Desk", "TAG-1"), editorUser)
	_, err := f.objects.Save(ctx, "office", "hq", model.Snapshot{{Key: "name", Value: "Head office"}})
	require.NoError(t, err)
	f.softDelete(t, model.ObjectRef{Type: "office", ID: "hq"}, editorUser)

	disabled := false
	_, err = f.svc.UpdatePolicy(ctx, adminUser, "offices", model.UpdatePolicyRequest{AutoDeleteEnabled: &disabled}, testReq)
	require.NoError(t, err)

	batches, err := f.svc.PlanCleanup(ctx, model.CleanupOptions{})
	require.NoError(t, err)
	assert.Empty(t, batches)

	f.clock.Advance(31 * 24 * time.Hour)

	batches, err = f.svc.PlanCleanup(ctx, model.CleanupOptions{})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "inventory", batches[0].Module)
	assert.False(t, batches[0].Skip)
	assert.Equal(t, "offices", batches[1].Module)
	assert.True(t, batches[1].Skip)

	forced, err := f.svc.PlanCleanup(ctx, model.CleanupOptions{Force: true, Module: "offices"})
	require.NoError(t, err)
	require.Len(t, forced, 1)
	assert.False(t, forced[0].Skip)
}

func TestExpireEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.saveAsset(t, "7", "Laptop", "TAG-7")
	entry := f.softDelete(t, ref, editorUser)

	_, err := f.svc.ExpireEntry(ctx, entry.ID, false)
	require.ErrorIs(t, err, model.ErrNotExpired)
	assert.True(t, IsCleanupSkip(err))

	f.clock.Advance(30 * 24 * time.Hour)

	expired, err := f.svc.ExpireEntry(ctx, entry.ID, false)
	require.NoError(t, err)
	require.NotNil(t, expired.PermanentlyDeletedAt)

	_, err = f.objects.Load(ctx, ref)
	require.ErrorIs(t, err, model.ErrObjectNotFound)

	audits := f.audit(t, model.AuditQuery{Action: model.AuditPermanentDelete})
	require.Len(t, audits, 1)
	assert.Nil(t, audits[0].Principal)
	assert.Equal(t, AutoExpiryReason, audits[0].Reason)

	_, err = f.svc.ExpireEntry(ctx, entry.ID, false)
	require.ErrorIs(t, err, model.ErrAlreadyPurged)
	assert.True(t, IsCleanupSkip(err))
}

func TestPurgeClosedEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.saveAsset(t, "7", "Laptop", "TAG-7")
	entry := f.softDelete(t, ref, editorUser)

	err := f.svc.PurgeClosedEntry(ctx, adminUser, entry.ID, "housekeeping", testReq)
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.Restore(ctx, entry.ID, editorUser, model.ConflictPolicyNone, testReq)
	require.NoError(t, err)

	err = f.svc.PurgeClosedEntry(ctx, editorUser, entry.ID, "housekeeping", testReq)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	require.NoError(t, f.svc.PurgeClosedEntry(ctx, adminUser, entry.ID, "housekeeping", testReq))

	_, err = f.store.FindEntry(ctx, entry.ID)
	require.ErrorIs(t, err, model.ErrEntryNotFound)

	purges := f.audit(t, model.AuditQuery{Action: model.AuditEntryPurge})
	require.Len(t, purges, 1)
	assert.Equal(t, "7", purges[0].ObjectID)
	assert.Equal(t, adminUser.ID, purges[0].Principal.ID)

	history, err := NewAuditService(f.store).ObjectHistory(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.ObjectStatusLive, history.Status)
}
