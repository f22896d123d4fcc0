// Package handlers provides HTTP handlers and middleware for the context
// engine API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/caseloop/contextengine/internal/config"
	"github.com/caseloop/contextengine/internal/engine"
	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	engine *engine.Engine
	config *config.Config
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(eng *engine.Engine, cfg *config.Config) *APIHandlers {
	return &APIHandlers{engine: eng, config: cfg}
}

// Routes registers all API routes on the mux.
func (h *APIHandlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/context/{type}/{id}", h.GetContext)
	mux.HandleFunc("GET /api/cases/{id}/combined", h.GetCombinedContext)
	mux.HandleFunc("POST /api/context/{type}/{id}/regenerate", h.Regenerate)
	mux.HandleFunc("POST /api/context/{type}/{id}/sections", h.RegenerateSections)
	mux.HandleFunc("POST /api/context/{type}/{id}/invalidate", h.Invalidate)
	mux.HandleFunc("GET /api/references/{refId}", h.ResolveReference)
	mux.HandleFunc("POST /api/references/resolve", h.ResolveReferences)
	mux.HandleFunc("POST /api/corrections", h.AddCorrection)
	mux.HandleFunc("PUT /api/corrections/{id}", h.UpdateCorrection)
	mux.HandleFunc("DELETE /api/corrections/{id}", h.DeleteCorrection)
	mux.HandleFunc("GET /api/health", h.Health)
}

// GetContext handles GET /api/context/{type}/{id}?tier=&force= — one tier of
// an entity's context. Not-found and cross-tenant both yield 404.
func (h *APIHandlers) GetContext(w http.ResponseWriter, r *http.Request) {
	entityType, ok := parseEntityType(r.PathValue("type"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown entity type", nil)
		return
	}
	entityID := r.PathValue("id")

	tier := types.Tier(r.URL.Query().Get("tier"))
	if tier == "" {
		tier = types.TierStandard
	}

	opts := engine.GetOptions{
		ForceRefresh:     r.URL.Query().Get("force") == "true",
		RequestingTenant: r.Header.Get("X-Tenant-ID"),
	}

	result, err := h.engine.GetContext(r.Context(), entityType, entityID, tier, opts)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "context not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetCombinedContext handles GET /api/cases/{id}/combined.
func (h *APIHandlers) GetCombinedContext(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.GetCombinedContext(r.Context(), r.PathValue("id"), r.Header.Get("X-Tenant-ID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "context not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Regenerate handles POST /api/context/{type}/{id}/regenerate.
func (h *APIHandlers) Regenerate(w http.ResponseWriter, r *http.Request) {
	entityType, ok := parseEntityType(r.PathValue("type"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown entity type", nil)
		return
	}

	result, err := h.engine.Regenerate(r.Context(), entityType, r.PathValue("id"), r.Header.Get("X-Tenant-ID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "entity not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RegenerateSections handles POST /api/context/{type}/{id}/sections.
func (h *APIHandlers) RegenerateSections(w http.ResponseWriter, r *http.Request) {
	entityType, ok := parseEntityType(r.PathValue("type"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown entity type", nil)
		return
	}

	var req RegenerateSectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.engine.RegenerateSections(r.Context(), entityType, r.PathValue("id"), req.Sections, r.Header.Get("X-Tenant-ID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "entity not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Invalidate handles POST /api/context/{type}/{id}/invalidate.
func (h *APIHandlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	entityType, ok := parseEntityType(r.PathValue("type"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown entity type", nil)
		return
	}

	if err := h.engine.Invalidate(r.Context(), entityType, r.PathValue("id"), r.Header.Get("X-Tenant-ID")); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// ResolveReference handles GET /api/references/{refId}.
func (h *APIHandlers) ResolveReference(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.engine.ResolveReference(r.Context(), r.PathValue("refId"), r.Header.Get("X-Tenant-ID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if resolved == nil {
		respondError(w, http.StatusNotFound, "reference not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, resolved)
}

// ResolveReferences handles POST /api/references/resolve.
func (h *APIHandlers) ResolveReferences(w http.ResponseWriter, r *http.Request) {
	var req ResolveReferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	resolved, err := h.engine.ResolveReferences(r.Context(), req.RefIDs, r.Header.Get("X-Tenant-ID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ResolveReferencesResponse{References: resolved})
}

// AddCorrection handles POST /api/corrections.
func (h *APIHandlers) AddCorrection(w http.ResponseWriter, r *http.Request) {
	var req AddCorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	correction, err := h.engine.AddCorrection(r.Context(), &types.Correction{
		ContextRecordID: req.ContextRecordID,
		SectionID:       req.SectionID,
		FieldPath:       req.FieldPath,
		Type:            req.Type,
		OriginalValue:   req.OriginalValue,
		CorrectedValue:  req.CorrectedValue,
		Reason:          req.Reason,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if correction == nil {
		respondError(w, http.StatusNotFound, "context record not found", nil)
		return
	}
	respondJSON(w, http.StatusCreated, correction)
}

// UpdateCorrection handles PUT /api/corrections/{id}.
func (h *APIHandlers) UpdateCorrection(w http.ResponseWriter, r *http.Request) {
	var req UpdateCorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	correction, err := h.engine.UpdateCorrection(r.Context(), r.PathValue("id"), req.CorrectedValue)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if correction == nil {
		respondError(w, http.StatusNotFound, "correction not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, correction)
}

// DeleteCorrection handles DELETE /api/corrections/{id}.
func (h *APIHandlers) DeleteCorrection(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.engine.DeleteCorrection(r.Context(), r.PathValue("id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "correction not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Health handles GET /api/health.
func (h *APIHandlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: fmt.Sprintf("schema-%d", types.CurrentSchemaVersion)})
}

func parseEntityType(raw string) (types.EntityType, bool) {
	switch raw {
	case "client", "CLIENT":
		return types.EntityClient, true
	case "case", "CASE":
		return types.EntityCase, true
	}
	return "", false
}

// respondEngineError maps engine errors onto HTTP statuses: validation
// errors are the caller's fault, everything else is a server failure.
func respondEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrInvalidInput) {
		respondError(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error", err)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing else to do.
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}
