package handlers

import "github.com/caseloop/contextengine/pkg/types"

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RegenerateSectionsRequest is the request format for
// POST /api/context/{type}/{id}/sections.
type RegenerateSectionsRequest struct {
	Sections []types.SectionID `json:"sections"`
}

// ResolveReferencesRequest is the request format for
// POST /api/references/resolve.
type ResolveReferencesRequest struct {
	RefIDs []string `json:"ref_ids"`
}

// ResolveReferencesResponse maps each resolvable ref id to its detail.
// Unresolvable or cross-tenant ids are simply absent.
type ResolveReferencesResponse struct {
	References map[string]*types.ResolvedReference `json:"references"`
}

// AddCorrectionRequest is the request format for POST /api/corrections.
type AddCorrectionRequest struct {
	ContextRecordID string               `json:"context_record_id"`
	SectionID       types.SectionID      `json:"section_id"`
	FieldPath       string               `json:"field_path"`
	Type            types.CorrectionType `json:"type"`
	OriginalValue   *string              `json:"original_value,omitempty"`
	CorrectedValue  string               `json:"corrected_value"`
	Reason          *string              `json:"reason,omitempty"`
	CreatedBy       string               `json:"created_by"`
}

// UpdateCorrectionRequest is the request format for PUT /api/corrections/{id}.
type UpdateCorrectionRequest struct {
	CorrectedValue string `json:"corrected_value"`
}

// RegenerationEvent is broadcast to websocket clients after a context is
// rebuilt.
type RegenerationEvent struct {
	Type       string            `json:"type"`
	EntityType types.EntityType  `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Version    int               `json:"version"`
	Sections   []types.SectionID `json:"sections"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
