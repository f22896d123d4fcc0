// Package engine is the public surface of the context subsystem. It
// orchestrates gathering, correction overlay, tier rendering, persistence,
// reference catalog rebuilds, and cache population, and enforces tenant
// isolation on every read.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caseloop/contextengine/internal/cache"
	"github.com/caseloop/contextengine/internal/gather"
	"github.com/caseloop/contextengine/internal/overlay"
	"github.com/caseloop/contextengine/internal/render"
	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// Regeneration decision states, logged on every read that misses the cache.
const (
	decisionCacheHit          = "CACHE_HIT"
	decisionMissing           = "MISSING"
	decisionSchemaStale       = "SCHEMA_STALE"
	decisionExpired           = "EXPIRED"
	decisionForceRefresh      = "FORCE_REFRESH"
	decisionSectionsRequested = "SECTIONS_REQUESTED"
	decisionStoreHit          = "STORE_HIT"
)

// DataGatherer assembles an entity's raw section data. Satisfied by
// gather.Gatherer; kept as an interface so tests can substitute fixtures.
type DataGatherer interface {
	Gather(ctx context.Context, entityType types.EntityType, entityID string) (*gather.Result, error)
	GatherSections(ctx context.Context, entityType types.EntityType, entityID string, sections []types.SectionID) (*gather.Result, error)
}

// EventSink receives regeneration notifications, e.g. for the websocket
// activity hub. Optional; a nil sink disables notifications.
type EventSink interface {
	ContextRegenerated(entityType types.EntityType, entityID string, version int, sections []types.SectionID)
}

// Engine wires the pipeline together. All methods are safe for concurrent
// use; concurrent regenerations of the same entity are not serialized and
// resolve as last-write-wins.
type Engine struct {
	store    storage.Store
	gatherer DataGatherer
	renderer *render.Renderer
	cache    *cache.TierCache
	docs     gather.DocumentStore
	comms    gather.CommunicationStore
	events   EventSink
	now      func() time.Time
}

// NewEngine constructs the engine. docs and comms are the collaborator
// stores used for reference resolution; they are typically the same
// instances the gatherer reads from.
func NewEngine(store storage.Store, gatherer DataGatherer, renderer *render.Renderer, tierCache *cache.TierCache, docs gather.DocumentStore, comms gather.CommunicationStore) *Engine {
	return &Engine{
		store:    store,
		gatherer: gatherer,
		renderer: renderer,
		cache:    tierCache,
		docs:     docs,
		comms:    comms,
		now:      time.Now,
	}
}

// SetEventSink attaches a regeneration notification sink.
func (e *Engine) SetEventSink(sink EventSink) {
	e.events = sink
}

// GetOptions tune a single GetContext call.
type GetOptions struct {
	// ForceRefresh triggers a full regeneration regardless of cache and
	// store state.
	ForceRefresh bool

	// RequestingTenant enables the tenant access guard. Empty means a
	// trusted internal caller.
	RequestingTenant string
}

// GetContext returns one tier of an entity's context, regenerating it when
// the cached and stored copies are absent, expired, or schema-stale.
// A missing entity returns (nil, nil); a tenant mismatch returns (nil, nil)
// with a warning, indistinguishable from not-found to the caller.
func (e *Engine) GetContext(ctx context.Context, entityType types.EntityType, entityID string, tier types.Tier, opts GetOptions) (*types.ContextResult, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, entityType)
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", storage.ErrInvalidInput, tier)
	}

	// The access guard runs against the stored record before anything is
	// served. A record that does not exist yet is guarded again after the
	// gather, once the owning tenant is known.
	allowed, err := e.guardStored(ctx, entityType, entityID, opts.RequestingTenant)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	if opts.ForceRefresh {
		log.Printf("engine: %s %s decision=%s", entityType, entityID, decisionForceRefresh)
		return e.regenerate(ctx, entityType, entityID, tier, opts.RequestingTenant)
	}

	if cached := e.cache.GetResult(ctx, entityType, entityID, tier); cached != nil {
		log.Printf("engine: %s %s decision=%s tier=%s", entityType, entityID, decisionCacheHit, tier)
		return cached, nil
	}

	rec, err := e.store.Get(ctx, entityType, entityID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Printf("engine: %s %s decision=%s", entityType, entityID, decisionMissing)
		return e.regenerate(ctx, entityType, entityID, tier, opts.RequestingTenant)
	case err != nil:
		return nil, err
	}

	if rec.SchemaVersion != types.CurrentSchemaVersion {
		log.Printf("engine: %s %s decision=%s stored=%d current=%d", entityType, entityID, decisionSchemaStale, rec.SchemaVersion, types.CurrentSchemaVersion)
		return e.regenerate(ctx, entityType, entityID, tier, opts.RequestingTenant)
	}
	if !rec.ValidUntil.After(e.now()) {
		log.Printf("engine: %s %s decision=%s", entityType, entityID, decisionExpired)
		return e.regenerate(ctx, entityType, entityID, tier, opts.RequestingTenant)
	}

	// Valid record, cold cache: serve the stored tiers and repopulate.
	log.Printf("engine: %s %s decision=%s tier=%s", entityType, entityID, decisionStoreHit, tier)
	result, err := e.resultFromRecord(ctx, rec, tier)
	if err != nil {
		return nil, err
	}
	e.cache.SetResult(ctx, result)
	return result, nil
}

// Regenerate forces a full rebuild of the entity's context and returns the
// full tier. A missing entity returns (nil, nil); a tenant mismatch returns
// (nil, nil) with a warning, the same as a read.
func (e *Engine) Regenerate(ctx context.Context, entityType types.EntityType, entityID string, requestingTenant string) (*types.ContextResult, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, entityType)
	}
	allowed, err := e.guardStored(ctx, entityType, entityID, requestingTenant)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}
	return e.regenerate(ctx, entityType, entityID, types.TierFull, requestingTenant)
}

// RegenerateSections rebuilds only the named sections, passing the rest
// through from the stored record. With no stored record, or when all four
// sections are requested, it delegates to a full regeneration. Returns the
// full tier; a missing entity or a tenant mismatch returns (nil, nil).
func (e *Engine) RegenerateSections(ctx context.Context, entityType types.EntityType, entityID string, sections []types.SectionID, requestingTenant string) (*types.ContextResult, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, entityType)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no sections requested", storage.ErrInvalidInput)
	}
	requested := make(map[types.SectionID]bool, len(sections))
	requestedList := make([]types.SectionID, 0, len(sections))
	for _, s := range sections {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown section %q", storage.ErrInvalidInput, s)
		}
		if !requested[s] {
			requested[s] = true
			requestedList = append(requestedList, s)
		}
	}

	prev, err := e.store.Get(ctx, entityType, entityID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Printf("engine: %s %s decision=%s reason=no_existing_file", entityType, entityID, decisionSectionsRequested)
		return e.regenerate(ctx, entityType, entityID, types.TierFull, requestingTenant)
	case err != nil:
		return nil, err
	}
	if requestingTenant != "" && prev.TenantID != requestingTenant {
		e.warnCrossTenant(entityType, entityID, requestingTenant)
		return nil, nil
	}

	if len(requested) == len(types.AllSectionIDs()) {
		log.Printf("engine: %s %s decision=%s reason=all_sections_requested", entityType, entityID, decisionSectionsRequested)
		return e.regenerate(ctx, entityType, entityID, types.TierFull, requestingTenant)
	}

	gathered, err := e.gatherer.GatherSections(ctx, entityType, entityID, requestedList)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if requestingTenant != "" && gathered.TenantID != requestingTenant {
		e.warnCrossTenant(entityType, entityID, requestingTenant)
		return nil, nil
	}

	// Requested sections come from the fresh gather; the rest pass through
	// from the previous version untouched.
	merged := prev.Sections.Clone()
	for _, id := range requestedList {
		merged[id] = gathered.Sections[id]
	}

	corrections, err := e.store.ListActiveCorrections(ctx, storage.RecordID(entityType, entityID))
	if err != nil {
		return nil, err
	}

	overlaid := merged.Clone()
	overlay.Apply(overlaid, corrections)

	out, err := e.renderer.Render(ctx, overlaid, &render.Snapshot{
		SectionHashes: prev.SectionHashes,
		Fragments:     prev.Fragments,
	})
	if err != nil {
		return nil, err
	}

	rec := e.buildRecord(entityType, entityID, gathered.TenantID, merged, gathered.ParentSnapshot, out, corrections)

	rebuildRefs := requested[types.SectionDocuments] || requested[types.SectionCommunications]
	var refs []types.ReferenceEntry
	if rebuildRefs {
		refs = e.buildReferences(storage.RecordID(entityType, entityID), gathered.TenantID, overlaid)
	}

	if err := e.store.UpdateSections(ctx, rec, requestedList, refs, rebuildRefs); err != nil {
		return nil, err
	}

	log.Printf("engine: %s %s sectionsRequested=%v sectionsRebuilt=%v", entityType, entityID, requestedList, out.CompressedSections)

	return e.finishRegeneration(ctx, rec, types.TierFull, corrections, refs, rebuildRefs)
}

// Invalidate soft-expires the stored record and drops all cached tiers so
// the next read regenerates. Invalidating a missing entity is a no-op, and
// so is a tenant mismatch (warned, never an error).
func (e *Engine) Invalidate(ctx context.Context, entityType types.EntityType, entityID string, requestingTenant string) error {
	allowed, err := e.guardStored(ctx, entityType, entityID, requestingTenant)
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}
	if err := e.store.SoftExpire(ctx, entityType, entityID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	e.cache.Invalidate(ctx, entityType, entityID)
	return nil
}

// guardStored compares the requesting tenant against the stored record's
// owner. A missing record passes: the caller guards again once the gathered
// tenant is known.
func (e *Engine) guardStored(ctx context.Context, entityType types.EntityType, entityID, requestingTenant string) (bool, error) {
	if requestingTenant == "" {
		return true, nil
	}
	rec, err := e.store.Get(ctx, entityType, entityID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if rec != nil && rec.TenantID != requestingTenant {
		e.warnCrossTenant(entityType, entityID, requestingTenant)
		return false, nil
	}
	return true, nil
}

// GetCombinedContext returns a case's standard tier combined with the
// owning client's critical tier, for callers that need both the matter and
// the client background in one result. References and record metadata come
// from the case side. A missing case or a tenant mismatch returns (nil, nil).
func (e *Engine) GetCombinedContext(ctx context.Context, caseID, requestingTenant string) (*types.ContextResult, error) {
	caseResult, err := e.GetContext(ctx, types.EntityCase, caseID, types.TierStandard, GetOptions{RequestingTenant: requestingTenant})
	if err != nil || caseResult == nil {
		return nil, err
	}

	rec, err := e.store.Get(ctx, types.EntityCase, caseID)
	if err != nil {
		return nil, err
	}
	clientID, _ := rec.ParentSnapshot["client_id"].(string)
	if clientID == "" {
		return caseResult, nil
	}

	clientResult, err := e.GetContext(ctx, types.EntityClient, clientID, types.TierCritical, GetOptions{RequestingTenant: requestingTenant})
	if err != nil {
		return nil, err
	}
	if clientResult == nil {
		return caseResult, nil
	}

	combined := *caseResult
	combined.Content = clientResult.Content + "\n\n" + caseResult.Content
	combined.TokenCount = render.EstimateTokens(combined.Content)
	return &combined, nil
}

// regenerate runs the full pipeline: gather, overlay, render, persist,
// rebuild references, repopulate the cache. Returns the requested tier.
func (e *Engine) regenerate(ctx context.Context, entityType types.EntityType, entityID string, tier types.Tier, requestingTenant string) (*types.ContextResult, error) {
	gathered, err := e.gatherer.Gather(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if requestingTenant != "" && gathered.TenantID != requestingTenant {
		e.warnCrossTenant(entityType, entityID, requestingTenant)
		return nil, nil
	}

	recordID := storage.RecordID(entityType, entityID)
	corrections, err := e.store.ListActiveCorrections(ctx, recordID)
	if err != nil {
		return nil, err
	}

	overlaid := gathered.Sections.Clone()
	overlay.Apply(overlaid, corrections)

	// The previous record, when present, lets the renderer reuse compressed
	// fragments of unchanged sections.
	var snapshot *render.Snapshot
	if prev, err := e.store.Get(ctx, entityType, entityID); err == nil {
		snapshot = &render.Snapshot{SectionHashes: prev.SectionHashes, Fragments: prev.Fragments}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	out, err := e.renderer.Render(ctx, overlaid, snapshot)
	if err != nil {
		return nil, err
	}

	rec := e.buildRecord(entityType, entityID, gathered.TenantID, gathered.Sections, gathered.ParentSnapshot, out, corrections)
	refs := e.buildReferences(recordID, gathered.TenantID, overlaid)

	if err := e.store.UpsertFull(ctx, rec, refs); err != nil {
		return nil, err
	}

	return e.finishRegeneration(ctx, rec, tier, corrections, refs, true)
}

// finishRegeneration repopulates the cache, emits the regeneration event,
// and builds the caller's result. Runs strictly after the persistence
// transaction committed.
func (e *Engine) finishRegeneration(ctx context.Context, rec *types.ContextRecord, tier types.Tier, corrections []types.Correction, refs []types.ReferenceEntry, refsRebuilt bool) (*types.ContextResult, error) {
	if !refsRebuilt {
		stored, err := e.store.ListReferences(ctx, storage.RecordID(rec.EntityType, rec.EntityID))
		if err != nil {
			return nil, err
		}
		refs = stored
	}

	e.cache.Invalidate(ctx, rec.EntityType, rec.EntityID)

	var result *types.ContextResult
	for _, t := range types.AllTiers() {
		r := buildResult(rec, t, corrections, refs)
		e.cache.SetResult(ctx, r)
		if t == tier {
			result = r
		}
	}

	if e.events != nil {
		changed := make([]types.SectionID, 0, len(rec.Sections))
		for _, id := range types.AllSectionIDs() {
			if _, ok := rec.Sections[id]; ok {
				changed = append(changed, id)
			}
		}
		e.events.ContextRegenerated(rec.EntityType, rec.EntityID, rec.Version, changed)
	}

	return result, nil
}

// resultFromRecord assembles a result for a valid stored record, loading
// its active corrections and reference entries.
func (e *Engine) resultFromRecord(ctx context.Context, rec *types.ContextRecord, tier types.Tier) (*types.ContextResult, error) {
	recordID := storage.RecordID(rec.EntityType, rec.EntityID)
	corrections, err := e.store.ListActiveCorrections(ctx, recordID)
	if err != nil {
		return nil, err
	}
	refs, err := e.store.ListReferences(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return buildResult(rec, tier, corrections, refs), nil
}

// buildRecord assembles the record to persist. Stored sections are the raw
// gathered trees: corrections live in their own rows and are re-applied at
// every render, never embedded at rest.
func (e *Engine) buildRecord(entityType types.EntityType, entityID, tenantID string, sections types.SectionSet, parentSnapshot types.Section, out *render.Output, corrections []types.Correction) *types.ContextRecord {
	rec := &types.ContextRecord{
		EntityType:     entityType,
		EntityID:       entityID,
		TenantID:       tenantID,
		Sections:       sections,
		TierText:       out.TierText,
		TokenCounts:    out.TokenCounts,
		SectionHashes:  out.SectionHashes,
		Fragments:      out.Fragments,
		ParentSnapshot: parentSnapshot,
	}

	var applied []types.Correction
	for _, c := range corrections {
		if c.IsActive {
			applied = append(applied, c)
		}
	}
	if len(applied) > 0 {
		now := e.now()
		last := applied[len(applied)-1].CreatedBy
		rec.LastCorrectedBy = &last
		rec.CorrectionsAppliedAt = &now
	}

	return rec
}

func buildResult(rec *types.ContextRecord, tier types.Tier, corrections []types.Correction, refs []types.ReferenceEntry) *types.ContextResult {
	active := make([]types.Correction, 0, len(corrections))
	for _, c := range corrections {
		if c.IsActive {
			active = append(active, c)
		}
	}
	if refs == nil {
		refs = []types.ReferenceEntry{}
	}
	return &types.ContextResult{
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		Tier:        tier,
		Content:     rec.TierText[tier],
		TokenCount:  rec.TokenCounts[tier],
		References:  refs,
		Corrections: active,
		Version:     rec.Version,
		GeneratedAt: rec.GeneratedAt,
		ValidUntil:  rec.ValidUntil,
	}
}

func (e *Engine) warnCrossTenant(entityType types.EntityType, entityID, requestingTenant string) {
	log.Printf("WARNING: engine: cross-tenant access denied entity=%s:%s requesting_tenant=%s", entityType, entityID, requestingTenant)
}

// parseRecordID splits a "TYPE:id" record identifier.
func parseRecordID(recordID string) (types.EntityType, string, bool) {
	i := strings.IndexByte(recordID, ':')
	if i <= 0 || i == len(recordID)-1 {
		return "", "", false
	}
	et := types.EntityType(recordID[:i])
	if !et.Valid() {
		return "", "", false
	}
	return et, recordID[i+1:], true
}
