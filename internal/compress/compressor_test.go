package compress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloop/contextengine/pkg/types"
)

func TestHeuristicTierMonotonicity(t *testing.T) {
	full := strings.Join([]string{
		"## identity",
		"name: Acme SRL",
		"status: active",
		"jurisdiction: RO",
		"## people",
		"- Dana (partner)",
		"- Radu (associate)",
		"- Ioana (paralegal)",
	}, "\n")

	h := NewHeuristic()
	ctx := context.Background()

	standard, err := h.Compress(ctx, full, types.TierStandard)
	require.NoError(t, err)
	critical, err := h.Compress(ctx, full, types.TierCritical)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(critical), len(standard))
	assert.LessOrEqual(t, len(standard), len(full))
	assert.NotEmpty(t, critical, "first line is always kept")
}

func TestHeuristicIsDeterministic(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()

	text := "line one\nline two\nline three\nline four"
	a, err := h.Compress(ctx, text, types.TierStandard)
	require.NoError(t, err)
	b, err := h.Compress(ctx, text, types.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHeuristicEmptyInput(t *testing.T) {
	h := NewHeuristic()
	out, err := h.Compress(context.Background(), "", types.TierCritical)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestClientCompress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/compress", r.URL.Path)

		var req compressRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "standard", req.TargetTier)

		_ = json.NewEncoder(w).Encode(compressResponse{Compressed: "short form"})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	out, err := client.Compress(context.Background(), "a long faithful rendering", types.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, "short form", out)
	assert.Equal(t, "closed", client.BreakerState())
}

func TestClientCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Compress(ctx, "text", types.TierCritical)
		require.Error(t, err)
	}

	assert.Equal(t, "open", client.BreakerState())

	_, err := client.Compress(ctx, "text", types.TierCritical)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
}
