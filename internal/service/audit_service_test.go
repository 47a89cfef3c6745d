package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/model"
)

func TestObjectHistorySurvivesPurge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	audits := NewAuditService(f.store)
	ref := f.saveAsset(t, "7", "Laptop", "TAG-7")

	first := f.softDelete(t, ref, editorUser)
	f.clock.Advance(time.Hour)
	_, err := f.svc.Restore(ctx, first.ID, editorUser, model.ConflictPolicyNone, testReq)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	history, err := audits.ObjectHistory(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.ObjectStatusLive, history.Status)

	second := f.softDelete(t, ref, editorUser)
	f.clock.Advance(time.Hour)
	_, err = f.purge(second.ID, testCode)
	require.NoError(t, err)

	require.NoError(t, f.store.PurgeEntry(ctx, second.ID))

	history, err = audits.ObjectHistory(ctx, model.ObjectRef{Type: "Asset", ID: "7"})
	require.NoError(t, err)

	assert.Equal(t, model.ObjectStatusPurged, history.Status)
	assert.Equal(t, "Laptop", history.DisplayRepr)
	assert.Equal(t, "inventory", history.ModuleName)
	assert.Equal(t, "TAG-7", history.LastSnapshot.Map()["tag"])

	actions := make([]model.AuditAction, 0, len(history.Events))
	for _, event := range history.Events {
		actions = append(actions, event.Action)
	}
	assert.Equal(t, []model.AuditAction{
		model.AuditSoftDelete,
		model.AuditRestore,
		model.AuditSoftDelete,
		model.AuditPermanentDelete,
	}, actions)
}

func TestAuditQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	audits := NewAuditService(f.store)

	f.softDelete(t, f.saveAsset(t, "1", "Desk", "TAG-1"), editorUser)
	f.softDelete(t, f.saveAsset(t, "2", "Chair", "TAG-2"), adminUser)

	entries, meta, err := audits.Query(ctx, model.AuditQuery{PrincipalID: adminUser.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].ObjectID)
	assert.Equal(t, 1, meta.Total)

	_, _, err = audits.Query(ctx, model.AuditQuery{Action: "rename"})
	require.ErrorIs(t, err, model.ErrValidation)

	from := testStart.Add(time.Hour)
	to := testStart
	_, _, err = audits.Query(ctx, model.AuditQuery{From: &from, To: &to})
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = audits.ObjectHistory(ctx, model.ObjectRef{Type: "asset", ID: "404"})
	require.ErrorIs(t, err, model.ErrNotFound)
}
