package gather

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

func TestUpstreamClientGetClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/clients/client-1", r.URL.Path)
		json.NewEncoder(w).Encode(types.Client{ID: "client-1", TenantID: "tenant-a", Name: "Acme SRL"})
	}))
	defer srv.Close()

	client := NewUpstreamClient(srv.URL, 5*time.Second)
	got, err := client.GetClient(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme SRL", got.Name)
	assert.Equal(t, "tenant-a", got.TenantID)
}

func TestUpstreamClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewUpstreamClient(srv.URL, 5*time.Second)
	_, err := client.GetCase(context.Background(), "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestUpstreamClientListByEntityQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents", r.URL.Path)
		require.Equal(t, "CASE", r.URL.Query().Get("entity_type"))
		require.Equal(t, "case-9", r.URL.Query().Get("entity_id"))
		json.NewEncoder(w).Encode([]types.Document{{ID: "doc-1", FileName: "contract.pdf"}})
	}))
	defer srv.Close()

	client := NewUpstreamClient(srv.URL, 5*time.Second)
	docs, err := client.ListByEntity(context.Background(), types.EntityCase, "case-9")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "contract.pdf", docs[0].FileName)
}

func TestUpstreamClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewUpstreamClient(srv.URL, 5*time.Second)
	_, err := client.ListEmails(context.Background(), types.EntityClient, "client-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}
