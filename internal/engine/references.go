package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// maxBatchResolve caps one ResolveReferences call.
const maxBatchResolve = 100

// ResolveReference loads a reference entry and fetches the full detail of
// its source from the owning collaborator store. Returns (nil, nil) when
// the entry or its source no longer exists, and (nil, nil) with a warning
// when the entry belongs to another tenant — a caller probing guessed ids
// cannot distinguish the two.
func (e *Engine) ResolveReference(ctx context.Context, refID, requestingTenant string) (*types.ResolvedReference, error) {
	entry, err := e.store.GetReference(ctx, refID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if requestingTenant != "" && entry.TenantID != requestingTenant {
		log.Printf("WARNING: engine: cross-tenant reference access denied ref=%s requesting_tenant=%s", refID, requestingTenant)
		return nil, nil
	}

	resolved := &types.ResolvedReference{
		RefID:      entry.RefID,
		RefType:    entry.RefType,
		Title:      entry.Title,
		Summary:    entry.Summary,
		SourceDate: entry.SourceDate,
	}

	switch entry.SourceType {
	case types.SourceDocument:
		doc, err := e.docs.GetByID(ctx, entry.SourceID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		resolved.Detail = map[string]any{
			"file_name":         doc.FileName,
			"kind":              doc.Kind,
			"extraction_status": doc.ExtractionStatus,
			"summary":           doc.Summary,
			"content":           doc.Content,
		}
	case types.SourceEmail:
		email, err := e.comms.GetEmail(ctx, entry.SourceID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		resolved.Detail = map[string]any{
			"subject": email.Subject,
			"from":    email.From,
			"to":      email.To,
			"body":    email.Body,
		}
	case types.SourceThread:
		thread, err := e.comms.GetThread(ctx, entry.SourceID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		resolved.Detail = map[string]any{
			"topic":         thread.Topic,
			"summary":       thread.Summary,
			"message_count": thread.MessageCount,
			"last_activity": thread.LastActivity,
		}
	default:
		log.Printf("WARNING: engine: reference %s has unknown source type %q", refID, entry.SourceType)
		return nil, nil
	}

	return resolved, nil
}

// ResolveReferences resolves a batch of reference ids. Oversized batches
// are a caller error; blank ids are dropped with a warning; ids that are
// unresolvable or cross-tenant are simply absent from the result map. An
// empty input returns an empty map without touching storage.
func (e *Engine) ResolveReferences(ctx context.Context, refIDs []string, requestingTenant string) (map[string]*types.ResolvedReference, error) {
	if len(refIDs) > maxBatchResolve {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit of %d", storage.ErrInvalidInput, len(refIDs), maxBatchResolve)
	}

	results := make(map[string]*types.ResolvedReference, len(refIDs))
	if len(refIDs) == 0 {
		return results, nil
	}

	for _, refID := range refIDs {
		if refID == "" {
			log.Printf("WARNING: engine: dropping blank reference id from batch")
			continue
		}
		resolved, err := e.ResolveReference(ctx, refID, requestingTenant)
		if err != nil {
			log.Printf("WARNING: engine: failed to resolve reference %s: %v", refID, err)
			continue
		}
		if resolved != nil {
			results[refID] = resolved
		}
	}
	return results, nil
}

// buildReferences derives the reference catalog entries from the overlaid
// documents and communications sections.
func (e *Engine) buildReferences(contextRecordID, tenantID string, sections types.SectionSet) []types.ReferenceEntry {
	refs := []types.ReferenceEntry{}

	newEntry := func(prefix string, refType types.RefType, sourceType string) types.ReferenceEntry {
		return types.ReferenceEntry{
			ID:              uuid.NewString(),
			ContextRecordID: contextRecordID,
			RefID:           fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8]),
			RefType:         refType,
			SourceType:      sourceType,
			TenantID:        tenantID,
		}
	}

	if docs, ok := sections[types.SectionDocuments]; ok {
		for _, item := range asItems(docs["items"]) {
			entry := newEntry("DOC", types.RefDocument, types.SourceDocument)
			entry.SourceID, _ = item["id"].(string)
			entry.Title, _ = item["file_name"].(string)
			entry.Summary, _ = item["summary"].(string)
			entry.SourceDate = parseItemDate(item["uploaded_at"])
			if entry.SourceID != "" {
				refs = append(refs, entry)
			}
		}
	}

	if comms, ok := sections[types.SectionCommunications]; ok {
		for _, item := range asItems(comms["emails"]) {
			entry := newEntry("EML", types.RefEmail, types.SourceEmail)
			entry.SourceID, _ = item["id"].(string)
			entry.Title, _ = item["subject"].(string)
			entry.Summary, _ = item["snippet"].(string)
			entry.SourceDate = parseItemDate(item["received_at"])
			if entry.SourceID != "" {
				refs = append(refs, entry)
			}
		}
		for _, item := range asItems(comms["threads"]) {
			entry := newEntry("THR", types.RefThread, types.SourceThread)
			entry.SourceID, _ = item["id"].(string)
			entry.Title, _ = item["topic"].(string)
			entry.Summary, _ = item["summary"].(string)
			entry.SourceDate = parseItemDate(item["last_activity"])
			if entry.SourceID != "" {
				refs = append(refs, entry)
			}
		}
	}

	return refs
}

func asItems(v any) []map[string]any {
	arr, _ := v.([]any)
	items := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

// parseItemDate reads a timestamp out of a JSON-normalized section tree.
func parseItemDate(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
