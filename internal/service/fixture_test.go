package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/clock"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/security"
	"asset-recyclebin/internal/storage"
)

const testCode = "correct-horse-battery"

var (
	adminUser  = model.Principal{ID: "u-admin", Username: "registrar", Role: model.RoleAdmin}
	editorUser = model.Principal{ID: "u-editor", Username: "clerk", Role: model.RoleEditor}
	otherUser  = model.Principal{ID: "u-other", Username: "auditor", Role: model.RoleEditor}
	viewerUser = model.Principal{ID: "u-viewer", Username: "guest", Role: model.RoleViewer}

	testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testReq   = model.RequestContext{IP: "10.0.0.7", UserAgent: "go-test", RequestPath: "/api/v1/recycle-bin"}
)

type fixture struct {
	svc     *RecycleBinService
	store   *repository.MemoryStore
	objects *storage.MemoryStorage
	clock   *clock.Fake
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()

	registry, err := storage.NewRegistry([]storage.ObjectType{
		{Name: "asset", Module: "inventory", DisplayField: "name", UniqueFields: []string{"tag"}},
		{Name: "office", Module: "offices", DisplayField: "name"},
	})
	require.NoError(t, err)

	code, err := security.NewCodeChecker(testCode, "")
	require.NoError(t, err)

	f := &fixture{
		store:   repository.NewMemoryStore(),
		objects: storage.NewMemoryStorage(registry),
		clock:   clock.NewFake(testStart),
	}

	opts := Options{
		Code:   code,
		Clock:  f.clock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, apply := range configure {
		apply(&opts)
	}

	f.svc = NewRecycleBinService(f.store, f.objects, opts)
	return f
}

func (f *fixture) saveAsset(t *testing.T, id string, name string, tag string) model.ObjectRef {
	t.Helper()

	record, err := f.objects.Save(context.Background(), "asset", id, model.Snapshot{
		{Key: "name", Value: name},
		{Key: "tag", Value: tag},
		{Key: "office", Value: "HQ"},
	})
	require.NoError(t, err)
	return record.Ref()
}

func (f *fixture) softDelete(t *testing.T, ref model.ObjectRef, by model.Principal) model.RecycleBinEntry {
	t.Helper()

	entry, err := f.svc.SoftDelete(context.Background(), ref, by, "decommissioned", testReq)
	require.NoError(t, err)
	return entry
}

func (f *fixture) purge(entryID string, code string) (model.PermanentDeleteResult, error) {
	return f.svc.PermanentDelete(context.Background(), adminUser, model.PermanentDeleteRequest{
		EntryID: entryID,
		Code:    code,
		Reason:  "retention complete",
	}, testReq)
}

func (f *fixture) audit(t *testing.T, query model.AuditQuery) []model.AuditEntry {
	t.Helper()

	query.Limit = 200
	entries, _, err := f.store.QueryAudit(context.Background(), query)
	require.NoError(t, err)
	return entries
}

func (f *fixture) attempts(t *testing.T, principalID string, outcome model.AttemptOutcome) []model.AttemptRecord {
	t.Helper()

	records, err := f.store.ListAttempts(context.Background(), model.AttemptFilter{PrincipalID: principalID, Outcome: outcome})
	require.NoError(t, err)
	return records
}

// appendStrikes writes failed code attempts straight into the ledger.
func (f *fixture) appendStrikes(t *testing.T, principal model.Principal, at ...time.Time) {
	t.Helper()

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for _, ts := range at {
			record := model.NewAttempt(principal, model.AttemptPermanentDelete, model.OutcomeInvalidCode, testReq)
			record.AttemptedAt = ts
			if _, err := tx.AppendAttempt(ctx, record); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

type stubVerifier struct {
	valid string
	calls int
}

func (v *stubVerifier) Verify(_ context.Context, token string, _ string) (bool, error) {
	v.calls++
	return token == v.valid, nil
}
