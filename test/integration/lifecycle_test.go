//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/model"
)

func TestSoftDeleteRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newPostgresEnv(t)
	editor := newPrincipal(model.RoleEditor)
	id := env.saveAsset(t)

	entry := env.softDelete(t, editor, id)
	assert.Equal(t, "inventory", entry.ModuleName)
	tag, ok := entry.OriginalData.Get("tag_number")
	require.True(t, ok)
	assert.Equal(t, "TAG-"+id, tag)

	resp, out := env.do(t, editor, http.MethodDelete, "/api/v1/objects/asset/"+id, map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_DELETED", out.Error.Code)

	resp, out = env.do(t, editor, http.MethodPost, "/api/v1/recycle-bin/"+entry.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result model.RestoreResult
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.NotNil(t, result.Entry.RestoredAt)

	obj, err := env.objects.Load(ctx, model.ObjectRef{Type: "asset", ID: id})
	require.NoError(t, err)
	assert.False(t, obj.IsDeleted())

	history, _, err := env.core.Store.QueryAudit(ctx, model.AuditQuery{ObjectType: "asset", ObjectID: id})
	require.NoError(t, err)
	actions := make([]model.AuditAction, 0, len(history))
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.ElementsMatch(t, []model.AuditAction{model.AuditSoftDelete, model.AuditRestore}, actions)
}

func TestPermanentDeleteKeepsSnapshotInAudit(t *testing.T) {
	ctx := context.Background()
	env := newPostgresEnv(t)
	editor := newPrincipal(model.RoleEditor)
	admin := newPrincipal(model.RoleAdmin)
	id := env.saveAsset(t)
	entry := env.softDelete(t, editor, id)

	path := "/api/v1/recycle-bin/" + entry.ID + "/permanent-delete"
	resp, out := env.do(t, admin, http.MethodPost, path, map[string]string{"security_code": securityCode, "reason": "disposed"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Error)

	_, err := env.objects.Load(ctx, model.ObjectRef{Type: "asset", ID: id})
	require.ErrorIs(t, err, model.ErrObjectNotFound)

	deleted, _, err := env.core.Store.QueryAudit(ctx, model.AuditQuery{Action: model.AuditPermanentDelete, ObjectType: "asset", ObjectID: id})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.True(t, deleted[0].Success)
	tag, ok := deleted[0].ObjectSnapshot.Get("tag_number")
	require.True(t, ok)
	assert.Equal(t, "TAG-"+id, tag)

	resp, _ = env.do(t, admin, http.MethodPost, "/api/v1/recycle-bin/"+entry.ID+"/purge", map[string]string{"reason": "housekeeping"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = env.core.Store.FindEntry(ctx, entry.ID)
	require.ErrorIs(t, err, model.ErrEntryNotFound)

	history, _, err := env.core.Store.QueryAudit(ctx, model.AuditQuery{ObjectType: "asset", ObjectID: id})
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestAuditTableRejectsMutation(t *testing.T) {
	ctx := context.Background()
	env := newPostgresEnv(t)
	editor := newPrincipal(model.RoleEditor)
	env.softDelete(t, editor, env.saveAsset(t))

	_, err := env.db.Pool.Exec(ctx, `UPDATE audit_entries SET reason = 'tampered' WHERE principal_id = $1`, editor.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = env.db.Pool.Exec(ctx, `DELETE FROM audit_entries WHERE principal_id = $1`, editor.ID)
	require.Error(t, err)
}

// Two binned assets share a tag; restoring both at once must leave exactly
// one of them holding it.
func TestConcurrentRestoresClaimUniqueValueOnce(t *testing.T) {
	ctx := context.Background()
	env := newPostgresEnv(t)
	editor := newPrincipal(model.RoleEditor)
	tag := "TAG-" + uuid.NewString()

	entries := []model.RecycleBinEntry{
		env.softDelete(t, editor, env.saveTaggedAsset(t, tag)),
		env.softDelete(t, editor, env.saveTaggedAsset(t, tag)),
	}

	statuses := make(chan int, len(entries))
	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _ := env.do(t, editor, http.MethodPost, "/api/v1/recycle-bin/"+entry.ID+"/restore", nil)
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for status := range statuses {
		counts[status]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, 1, counts[http.StatusConflict])

	holders, err := env.objects.FindLiveByField(ctx, "asset", "tag_number", tag)
	require.NoError(t, err)
	assert.Len(t, holders, 1)
}
