package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloop/contextengine/internal/cache"
	"github.com/caseloop/contextengine/internal/compress"
	"github.com/caseloop/contextengine/internal/gather"
	"github.com/caseloop/contextengine/internal/render"
	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/internal/storage/sqlite"
	"github.com/caseloop/contextengine/pkg/types"
)

type fixtures struct {
	clients map[string]*types.Client
	cases   map[string]*types.Case
	docs    map[string][]types.Document
	emails  map[string][]types.Email
	threads map[string][]types.Thread

	gatherCalls     int
	docListCalls    int
	emailListCalls  int
	threadListCalls int
}

func (f *fixtures) GetClient(_ context.Context, id string) (*types.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (f *fixtures) GetCase(_ context.Context, id string) (*types.Case, error) {
	c, ok := f.cases[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (f *fixtures) ListByEntity(_ context.Context, _ types.EntityType, entityID string) ([]types.Document, error) {
	f.docListCalls++
	return f.docs[entityID], nil
}

func (f *fixtures) GetByID(_ context.Context, id string) (*types.Document, error) {
	for _, docs := range f.docs {
		for i := range docs {
			if docs[i].ID == id {
				return &docs[i], nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fixtures) ListEmails(_ context.Context, _ types.EntityType, entityID string) ([]types.Email, error) {
	f.emailListCalls++
	return f.emails[entityID], nil
}

func (f *fixtures) ListThreads(_ context.Context, _ types.EntityType, entityID string) ([]types.Thread, error) {
	f.threadListCalls++
	return f.threads[entityID], nil
}

func (f *fixtures) GetEmail(_ context.Context, id string) (*types.Email, error) {
	for _, emails := range f.emails {
		for i := range emails {
			if emails[i].ID == id {
				return &emails[i], nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fixtures) GetThread(_ context.Context, id string) (*types.Thread, error) {
	for _, threads := range f.threads {
		for i := range threads {
			if threads[i].ID == id {
				return &threads[i], nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

// countingGatherer counts Gather invocations so tests can tell a cache or
// store hit from a real regeneration.
type countingGatherer struct {
	inner *gather.Gatherer
	f     *fixtures
}

func (g *countingGatherer) Gather(ctx context.Context, entityType types.EntityType, entityID string) (*gather.Result, error) {
	g.f.gatherCalls++
	return g.inner.Gather(ctx, entityType, entityID)
}

func (g *countingGatherer) GatherSections(ctx context.Context, entityType types.EntityType, entityID string, sections []types.SectionID) (*gather.Result, error) {
	g.f.gatherCalls++
	return g.inner.GatherSections(ctx, entityType, entityID, sections)
}

func testFixtures() *fixtures {
	return &fixtures{
		clients: map[string]*types.Client{
			"client-1": {
				ID: "client-1", TenantID: "tenant-a", Name: "Acme SRL",
				LegalForm: "SRL", Status: "active",
				People: []types.Person{{Name: "Dana", Role: "partner"}},
			},
		},
		cases: map[string]*types.Case{
			"case-1": {
				ID: "case-1", TenantID: "tenant-a", ClientID: "client-1",
				Title: "Acme v. Beta", Stage: "discovery",
				Team: []types.Person{{Name: "Radu", Role: "associate"}},
			},
		},
		docs: map[string][]types.Document{
			"client-1": {{
				ID: "doc-1", TenantID: "tenant-a", FileName: "engagement.pdf",
				Kind: "contract", Summary: "Engagement letter",
				UploadedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			}},
		},
		emails: map[string][]types.Email{
			"client-1": {{
				ID: "eml-1", TenantID: "tenant-a", Subject: "Kickoff",
				From: "dana@acme.ro", Snippet: "Let's get started",
				ReceivedAt: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
			}},
		},
		threads: map[string][]types.Thread{},
	}
}

func testEngine(t *testing.T) (*Engine, *fixtures, storage.Store) {
	t.Helper()

	store, err := sqlite.NewContextStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := testFixtures()
	g := &countingGatherer{inner: gather.NewGatherer(f, f, f), f: f}

	backend, err := cache.NewMemoryBackend(0)
	require.NoError(t, err)

	e := NewEngine(store, g, render.NewRenderer(compress.NewHeuristic()), cache.NewTierCache(backend), f, f)
	return e, f, store
}

func TestGetContextIdempotence(t *testing.T) {
	e, f, _ := testEngine(t)
	ctx := context.Background()

	first, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Version)
	assert.Contains(t, first.Content, "Acme SRL")

	second, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, 1, f.gatherCalls, "second read is served from cache")
}

func TestGetContextMissingEntity(t *testing.T) {
	e, _, _ := testEngine(t)

	result, err := e.GetContext(context.Background(), types.EntityClient, "ghost", types.TierFull, GetOptions{})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGetContextValidation(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.GetContext(ctx, "WIDGET", "x", types.TierFull, GetOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = e.GetContext(ctx, types.EntityClient, "client-1", "huge", GetOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestTierMonotonicity(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	var lengths []int
	for _, tier := range types.AllTiers() {
		result, err := e.GetContext(ctx, types.EntityClient, "client-1", tier, GetOptions{})
		require.NoError(t, err)
		require.NotNil(t, result)
		lengths = append(lengths, len(result.Content))
	}

	assert.LessOrEqual(t, lengths[0], lengths[1], "critical <= standard")
	assert.LessOrEqual(t, lengths[1], lengths[2], "standard <= full")
}

func TestInvalidateForcesRegeneration(t *testing.T) {
	e, f, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, f.gatherCalls)

	require.NoError(t, e.Invalidate(ctx, types.EntityClient, "client-1", ""))

	result, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, f.gatherCalls, "invalidate forces gather+render")
	assert.Equal(t, 2, result.Version)
}

func TestForceRefreshBypassesCache(t *testing.T) {
	e, f, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)

	result, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{ForceRefresh: true})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, f.gatherCalls)
	assert.Equal(t, 2, result.Version)
}

func TestCrossTenantReadReturnsNil(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	// Prime the record under its real tenant.
	_, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)

	result, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{RequestingTenant: "tenant-b"})
	require.NoError(t, err, "cross-tenant is never an error")
	assert.Nil(t, result)

	same, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{RequestingTenant: "tenant-a"})
	require.NoError(t, err)
	assert.NotNil(t, same)
}

func TestCrossTenantMutationsReturnNil(t *testing.T) {
	e, f, store := testEngine(t)
	ctx := context.Background()

	first, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)
	require.NotNil(t, first)

	// A caller identifying as another tenant gets nothing back from any
	// mutation and leaves the record untouched.
	result, err := e.Regenerate(ctx, types.EntityClient, "client-1", "tenant-b")
	require.NoError(t, err, "cross-tenant is never an error")
	assert.Nil(t, result)

	result, err = e.RegenerateSections(ctx, types.EntityClient, "client-1", []types.SectionID{types.SectionIdentity}, "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, e.Invalidate(ctx, types.EntityClient, "client-1", "tenant-b"))

	rec, err := store.Get(ctx, types.EntityClient, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version, "cross-tenant mutations never write")
	assert.True(t, rec.ValidUntil.After(time.Now()), "cross-tenant invalidate never expires the record")

	// The owner still operates normally.
	gatherBefore := f.gatherCalls
	owned, err := e.Regenerate(ctx, types.EntityClient, "client-1", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, owned)
	assert.Equal(t, 2, owned.Version)
	assert.Greater(t, f.gatherCalls, gatherBefore)
}

func TestCrossTenantMutationOnUnstoredEntity(t *testing.T) {
	e, _, store := testEngine(t)
	ctx := context.Background()

	// No stored record yet: the guard runs against the gathered tenant and
	// nothing is persisted for the wrong caller.
	result, err := e.Regenerate(ctx, types.EntityClient, "client-1", "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = store.Get(ctx, types.EntityClient, "client-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOverrideCorrectionScenario(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	// The record must exist before corrections can attach to it.
	first, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Contains(t, first.Content, "Acme SRL")

	added, err := e.AddCorrection(ctx, &types.Correction{
		ContextRecordID: storage.RecordID(types.EntityClient, "client-1"),
		SectionID:       types.SectionIdentity,
		FieldPath:       "name",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"Acme Renamed SRL"`,
		CreatedBy:       "user-1",
	})
	require.NoError(t, err)
	require.NotNil(t, added)
	assert.NotEmpty(t, added.ID)

	result, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.Content, "Acme Renamed SRL")
	assert.NotContains(t, result.Content, "name: Acme SRL")
	require.Len(t, result.Corrections, 1)
}

func TestRemoveCorrectionScenario(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	first, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)
	assert.Contains(t, first.Content, "engagement.pdf")

	_, err = e.AddCorrection(ctx, &types.Correction{
		ContextRecordID: storage.RecordID(types.EntityClient, "client-1"),
		SectionID:       types.SectionDocuments,
		FieldPath:       "items[0]",
		Type:            types.CorrectionRemove,
		CreatedBy:       "user-1",
	})
	require.NoError(t, err)

	result, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)
	assert.NotContains(t, result.Content, "engagement.pdf")
}

func TestCorrectionIsolationOnDelete(t *testing.T) {
	e, _, store := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	added, err := e.AddCorrection(ctx, &types.Correction{
		ContextRecordID: storage.RecordID(types.EntityClient, "client-1"),
		SectionID:       types.SectionIdentity,
		FieldPath:       "name",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"Acme Renamed SRL"`,
		CreatedBy:       "user-1",
	})
	require.NoError(t, err)

	deleted, err := e.DeleteCorrection(ctx, added.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	// Deleting again reports not found.
	deleted, err = e.DeleteCorrection(ctx, added.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	result, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Corrections)
	assert.Contains(t, result.Content, "Acme SRL")
	assert.NotContains(t, result.Content, "Acme Renamed SRL")

	// The stored sections never carried the correction.
	rec, err := store.Get(ctx, types.EntityClient, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme SRL", rec.Sections[types.SectionIdentity]["name"])
}

func TestUpdateCorrectionChangesOnlyValue(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	added, err := e.AddCorrection(ctx, &types.Correction{
		ContextRecordID: storage.RecordID(types.EntityClient, "client-1"),
		SectionID:       types.SectionIdentity,
		FieldPath:       "name",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"First"`,
		CreatedBy:       "user-1",
	})
	require.NoError(t, err)

	updated, err := e.UpdateCorrection(ctx, added.ID, `"Second"`)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, `"Second"`, updated.CorrectedValue)
	assert.Equal(t, added.FieldPath, updated.FieldPath)

	missing, err := e.UpdateCorrection(ctx, "no-such-id", `"x"`)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAddCorrectionValidation(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	_, err = e.AddCorrection(ctx, &types.Correction{
		ContextRecordID: storage.RecordID(types.EntityClient, "client-1"),
		SectionID:       "billing",
		FieldPath:       "name",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"x"`,
		CreatedBy:       "user-1",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = e.AddCorrection(ctx, &types.Correction{
		ContextRecordID: storage.RecordID(types.EntityClient, "client-1"),
		SectionID:       types.SectionIdentity,
		FieldPath:       "items[",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"x"`,
		CreatedBy:       "user-1",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// Missing owning record yields nil, not an error.
	missing, err := e.AddCorrection(ctx, &types.Correction{
		ContextRecordID: storage.RecordID(types.EntityClient, "ghost"),
		SectionID:       types.SectionIdentity,
		FieldPath:       "name",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"x"`,
		CreatedBy:       "user-1",
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPartialRegenerationScoping(t *testing.T) {
	e, f, store := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	before, err := store.ListReferences(ctx, storage.RecordID(types.EntityClient, "client-1"))
	require.NoError(t, err)
	require.NotEmpty(t, before)

	// A document appears upstream, but only identity is regenerated.
	f.docs["client-1"] = append(f.docs["client-1"], types.Document{
		ID: "doc-2", TenantID: "tenant-a", FileName: "addendum.pdf",
		UploadedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	f.clients["client-1"].Name = "Acme Holdings SRL"

	docCalls, emailCalls, threadCalls := f.docListCalls, f.emailListCalls, f.threadListCalls
	result, err := e.RegenerateSections(ctx, types.EntityClient, "client-1", []types.SectionID{types.SectionIdentity}, "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.Content, "Acme Holdings SRL")
	assert.NotContains(t, result.Content, "addendum.pdf", "documents section passes through unchanged")
	assert.Equal(t, docCalls, f.docListCalls, "identity regeneration never queries the document store")
	assert.Equal(t, emailCalls, f.emailListCalls, "identity regeneration never queries emails")
	assert.Equal(t, threadCalls, f.threadListCalls, "identity regeneration never queries threads")

	after, err := store.ListReferences(ctx, storage.RecordID(types.EntityClient, "client-1"))
	require.NoError(t, err)
	assert.Equal(t, refIDs(before), refIDs(after), "identity regeneration never rebuilds references")

	// Regenerating documents picks up the new file and rebuilds references,
	// without touching the communication store.
	emailCalls, threadCalls = f.emailListCalls, f.threadListCalls
	result, err = e.RegenerateSections(ctx, types.EntityClient, "client-1", []types.SectionID{types.SectionDocuments}, "")
	require.NoError(t, err)
	assert.Contains(t, result.Content, "addendum.pdf")
	assert.Equal(t, emailCalls, f.emailListCalls)
	assert.Equal(t, threadCalls, f.threadListCalls)

	rebuilt, err := store.ListReferences(ctx, storage.RecordID(types.EntityClient, "client-1"))
	require.NoError(t, err)
	assert.Len(t, rebuilt, 3, "two documents and one email")
	assert.NotEqual(t, refIDs(before), refIDs(rebuilt))
}

func TestPartialRegenerationFallback(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	result, err := e.RegenerateSections(ctx, types.EntityClient, "client-1", []types.SectionID{types.SectionIdentity}, "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Version, "no existing record behaves like a full regenerate")
	assert.Contains(t, result.Content, "engagement.pdf", "all sections are present")
}

func TestPartialRegenerationAllSectionsDelegates(t *testing.T) {
	e, _, store := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	result, err := e.RegenerateSections(ctx, types.EntityClient, "client-1", types.AllSectionIDs(), "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Version)

	refs, err := store.ListReferences(ctx, storage.RecordID(types.EntityClient, "client-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, refs, "full delegation rebuilds references")
}

func TestRegenerateSectionsValidation(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.RegenerateSections(ctx, types.EntityClient, "client-1", nil, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = e.RegenerateSections(ctx, types.EntityClient, "client-1", []types.SectionID{"billing"}, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSchemaStaleRecordRegenerates(t *testing.T) {
	e, f, store := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	// Rewrite the stored record under an older schema version, then drop the
	// cache so the next read consults the store.
	sq := store.(*sqlite.ContextStore)
	_, err = sq.GetDB().Exec(`UPDATE context_records SET schema_version = ? WHERE entity_id = ?`,
		types.CurrentSchemaVersion-1, "client-1")
	require.NoError(t, err)
	require.NoError(t, e.Invalidate(ctx, types.EntityClient, "client-1", ""))

	gatherBefore := f.gatherCalls
	result, err := e.GetContext(ctx, types.EntityClient, "client-1", types.TierFull, GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Greater(t, f.gatherCalls, gatherBefore)
	assert.Equal(t, 2, result.Version)
	assert.Equal(t, types.CurrentSchemaVersion, rec2SchemaVersion(t, store, ctx))
}

func TestResolveReference(t *testing.T) {
	e, _, store := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	refs, err := store.ListReferences(ctx, storage.RecordID(types.EntityClient, "client-1"))
	require.NoError(t, err)
	require.Len(t, refs, 2)

	var docRef types.ReferenceEntry
	for _, r := range refs {
		if r.RefType == types.RefDocument {
			docRef = r
		}
	}
	require.NotEmpty(t, docRef.RefID)
	assert.True(t, strings.HasPrefix(docRef.RefID, "DOC-"))

	resolved, err := e.ResolveReference(ctx, docRef.RefID, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "engagement.pdf", resolved.Detail["file_name"])

	// Cross-tenant resolution is silent.
	denied, err := e.ResolveReference(ctx, docRef.RefID, "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, denied)

	// Unknown ref id is a nil, not an error.
	missing, err := e.ResolveReference(ctx, "DOC-nothere", "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResolveReferencesBatch(t *testing.T) {
	e, _, store := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)

	refs, err := store.ListReferences(ctx, storage.RecordID(types.EntityClient, "client-1"))
	require.NoError(t, err)
	require.Len(t, refs, 2)

	ids := []string{refs[0].RefID, refs[1].RefID, "", "DOC-bogus"}
	results, err := e.ResolveReferences(ctx, ids, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, results, 2, "blank and bogus ids are simply absent")

	// Cross-tenant batch comes back empty, not failed.
	results, err = e.ResolveReferences(ctx, []string{refs[0].RefID}, "tenant-b")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestResolveReferencesBatchLimits(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	empty, err := e.ResolveReferences(ctx, nil, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, empty)

	oversized := make([]string, maxBatchResolve+1)
	for i := range oversized {
		oversized[i] = fmt.Sprintf("DOC-%08d", i)
	}
	_, err = e.ResolveReferences(ctx, oversized, "tenant-a")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestGetCombinedContext(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	caseStd, err := e.GetContext(ctx, types.EntityCase, "case-1", types.TierStandard, GetOptions{RequestingTenant: "tenant-a"})
	require.NoError(t, err)
	require.NotNil(t, caseStd)

	combined, err := e.GetCombinedContext(ctx, "case-1", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, combined)

	assert.Equal(t, types.EntityCase, combined.EntityType)
	assert.True(t, strings.HasSuffix(combined.Content, caseStd.Content), "case standard tier closes the combined text")
	assert.Greater(t, len(combined.Content), len(caseStd.Content), "client background precedes the case context")

	// Cross-tenant and missing cases return nil.
	denied, err := e.GetCombinedContext(ctx, "case-1", "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, denied)

	missing, err := e.GetCombinedContext(ctx, "ghost", "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCaseRecordCarriesParentSnapshot(t *testing.T) {
	e, _, store := testEngine(t)
	ctx := context.Background()

	_, err := e.Regenerate(ctx, types.EntityCase, "case-1", "")
	require.NoError(t, err)

	rec, err := store.Get(ctx, types.EntityCase, "case-1")
	require.NoError(t, err)
	require.NotNil(t, rec.ParentSnapshot)
	assert.Equal(t, "client-1", rec.ParentSnapshot["client_id"])
	assert.Equal(t, "Acme SRL", rec.ParentSnapshot["name"])
}

func rec2SchemaVersion(t *testing.T, store storage.Store, ctx context.Context) int {
	t.Helper()
	rec, err := store.Get(ctx, types.EntityClient, "client-1")
	require.NoError(t, err)
	return rec.SchemaVersion
}

func refIDs(refs []types.ReferenceEntry) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.RefID)
	}
	return out
}
