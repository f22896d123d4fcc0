package types

import "time"

// ContextResult is the shape returned to API consumers for a single tier of
// an entity's context.
type ContextResult struct {
	EntityType  EntityType       `json:"entity_type"`
	EntityID    string           `json:"entity_id"`
	Tier        Tier             `json:"tier"`
	Content     string           `json:"content"`
	TokenCount  int              `json:"token_count"`
	References  []ReferenceEntry `json:"references"`
	Corrections []Correction     `json:"corrections"`
	Version     int              `json:"version"`
	GeneratedAt time.Time        `json:"generated_at"`
	ValidUntil  time.Time        `json:"valid_until"`
}
