package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/caseloop/contextengine/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	// Callers treat this as a programmer error and fail fast.
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultRecordTTL is the validity window applied to context records on
// every full or partial write unless the store is configured otherwise.
const DefaultRecordTTL = 24 * time.Hour

// RecordID derives the stable identifier that corrections and reference
// entries use to point at their owning context record. It is stable across
// regenerations so overlays and references survive rebuilds.
func RecordID(entityType types.EntityType, entityID string) string {
	return fmt.Sprintf("%s:%s", entityType, entityID)
}
