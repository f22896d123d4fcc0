package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloop/contextengine/internal/cache"
	"github.com/caseloop/contextengine/internal/compress"
	"github.com/caseloop/contextengine/internal/config"
	"github.com/caseloop/contextengine/internal/engine"
	"github.com/caseloop/contextengine/internal/gather"
	"github.com/caseloop/contextengine/internal/render"
	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/internal/storage/sqlite"
	"github.com/caseloop/contextengine/pkg/types"
)

type stubStores struct {
	client *types.Client
	kase   *types.Case
	doc    *types.Document
}

func (s *stubStores) GetClient(_ context.Context, id string) (*types.Client, error) {
	if s.client != nil && s.client.ID == id {
		return s.client, nil
	}
	return nil, storage.ErrNotFound
}

func (s *stubStores) GetCase(_ context.Context, id string) (*types.Case, error) {
	if s.kase != nil && s.kase.ID == id {
		return s.kase, nil
	}
	return nil, storage.ErrNotFound
}

func (s *stubStores) ListByEntity(_ context.Context, _ types.EntityType, _ string) ([]types.Document, error) {
	if s.doc == nil {
		return nil, nil
	}
	return []types.Document{*s.doc}, nil
}

func (s *stubStores) GetByID(_ context.Context, id string) (*types.Document, error) {
	if s.doc != nil && s.doc.ID == id {
		return s.doc, nil
	}
	return nil, storage.ErrNotFound
}

func (s *stubStores) ListEmails(_ context.Context, _ types.EntityType, _ string) ([]types.Email, error) {
	return nil, nil
}

func (s *stubStores) ListThreads(_ context.Context, _ types.EntityType, _ string) ([]types.Thread, error) {
	return nil, nil
}

func (s *stubStores) GetEmail(_ context.Context, _ string) (*types.Email, error) {
	return nil, storage.ErrNotFound
}

func (s *stubStores) GetThread(_ context.Context, _ string) (*types.Thread, error) {
	return nil, storage.ErrNotFound
}

func testServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	store, err := sqlite.NewContextStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stubs := &stubStores{
		client: &types.Client{
			ID: "client-1", TenantID: "tenant-a", Name: "Acme SRL",
			People: []types.Person{{Name: "Dana", Role: "partner"}},
		},
		kase: &types.Case{
			ID: "case-1", TenantID: "tenant-a", ClientID: "client-1", Title: "Acme v. Beta",
		},
		doc: &types.Document{
			ID: "doc-1", TenantID: "tenant-a", FileName: "engagement.pdf",
			UploadedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	backend, err := cache.NewMemoryBackend(0)
	require.NoError(t, err)

	eng := engine.NewEngine(store,
		gather.NewGatherer(stubs, stubs, stubs),
		render.NewRenderer(compress.NewHeuristic()),
		cache.NewTierCache(backend),
		stubs, stubs)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewAPIHandlers(eng, cfg).Routes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, eng
}

func doJSON(t *testing.T, method, url string, body any, tenant string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestGetContextEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1?tier=full", nil, "tenant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, types.EntityClient, result.EntityType)
	assert.Equal(t, types.TierFull, result.Tier)
	assert.Contains(t, result.Content, "Acme SRL")
	assert.Equal(t, 1, result.Version)
}

func TestGetContextDefaultsToStandardTier(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, types.TierStandard, result.Tier)
}

func TestGetContextNotFoundAndCrossTenantLookAlike(t *testing.T) {
	srv, _ := testServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/context/client/ghost", nil, "tenant-a")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Prime, then probe from another tenant: same 404.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1", nil, "tenant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1", nil, "tenant-b")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetContextBadEntityType(t *testing.T) {
	srv, _ := testServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/context/widget/x", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetContextBadTier(t *testing.T) {
	srv, _ := testServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1?tier=huge", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegenerateEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/regenerate", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, types.TierFull, result.Tier)
	assert.Equal(t, 1, result.Version)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/regenerate", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 2, result.Version)
}

func TestRegenerateSectionsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	// Seed the record first.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/regenerate", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/sections",
		RegenerateSectionsRequest{Sections: []types.SectionID{types.SectionIdentity}}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 2, result.Version)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/sections",
		RegenerateSectionsRequest{Sections: []types.SectionID{"billing"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidateEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/invalidate", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1?tier=full", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 2, result.Version, "read after invalidate regenerates")
}

func TestMutationEndpointsEnforceTenant(t *testing.T) {
	srv, _ := testServer(t)

	// Prime the record under its real tenant.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/regenerate", nil, "tenant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Another tenant gets 404 from every mutation, same as a read.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/regenerate", nil, "tenant-b")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotContains(t, string(body), "Acme SRL")

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/sections",
		RegenerateSectionsRequest{Sections: []types.SectionID{types.SectionIdentity}}, "tenant-b")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotContains(t, string(body), "Acme SRL")

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/invalidate", nil, "tenant-b")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The cross-tenant invalidate was a no-op: the owner still reads version 1.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1?tier=full", nil, "tenant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.Version)
}

func TestCombinedContextEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/cases/case-1/combined", nil, "tenant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, types.EntityCase, result.EntityType)
	assert.NotEmpty(t, result.Content)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/cases/case-1/combined", nil, "tenant-b")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReferenceEndpoints(t *testing.T) {
	srv, eng := testServer(t)
	ctx := context.Background()

	result, err := eng.Regenerate(ctx, types.EntityClient, "client-1", "")
	require.NoError(t, err)
	require.Len(t, result.References, 1)
	refID := result.References[0].RefID

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/references/"+refID, nil, "tenant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var resolved types.ResolvedReference
	require.NoError(t, json.Unmarshal(body, &resolved))
	assert.Equal(t, "engagement.pdf", resolved.Detail["file_name"])

	// Cross-tenant resolution looks like not-found.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/references/"+refID, nil, "tenant-b")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Batch endpoint.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/references/resolve",
		ResolveReferencesRequest{RefIDs: []string{refID, "DOC-bogus"}}, "tenant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var batch ResolveReferencesResponse
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.Len(t, batch.References, 1)

	// Oversized batch is a caller error.
	oversized := make([]string, 101)
	for i := range oversized {
		oversized[i] = fmt.Sprintf("DOC-%08d", i)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/references/resolve",
		ResolveReferencesRequest{RefIDs: oversized}, "tenant-a")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCorrectionEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/context/client/client-1/regenerate", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/corrections", AddCorrectionRequest{
		ContextRecordID: "CLIENT:client-1",
		SectionID:       types.SectionIdentity,
		FieldPath:       "name",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"Acme Renamed SRL"`,
		CreatedBy:       "user-1",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var correction types.Correction
	require.NoError(t, json.Unmarshal(body, &correction))
	require.NotEmpty(t, correction.ID)

	// The next read reflects the correction.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/context/client/client-1?tier=full", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result types.ContextResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Contains(t, result.Content, "Acme Renamed SRL")

	resp, body = doJSON(t, http.MethodPut, srv.URL+"/api/corrections/"+correction.ID,
		UpdateCorrectionRequest{CorrectedValue: `"Acme Final SRL"`}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &correction))
	assert.Equal(t, `"Acme Final SRL"`, correction.CorrectedValue)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/corrections/"+correction.ID, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/corrections/"+correction.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Validation failure surfaces as 400.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/corrections", AddCorrectionRequest{
		ContextRecordID: "CLIENT:client-1",
		SectionID:       "billing",
		FieldPath:       "name",
		Type:            types.CorrectionOverride,
		CorrectedValue:  `"x"`,
		CreatedBy:       "user-1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
}
