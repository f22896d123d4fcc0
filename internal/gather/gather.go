// Package gather assembles the raw section data of an entity from the
// upstream master, document, and communication stores. The gatherer is
// read-only: it never writes to the context store and never applies
// corrections — that happens downstream in the overlay.
package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/caseloop/contextengine/pkg/types"
)

// MasterStore serves the authoritative client and case records.
type MasterStore interface {
	// GetClient returns the client master record.
	// Returns storage.ErrNotFound when the client does not exist.
	GetClient(ctx context.Context, clientID string) (*types.Client, error)

	// GetCase returns the case master record.
	// Returns storage.ErrNotFound when the case does not exist.
	GetCase(ctx context.Context, caseID string) (*types.Case, error)
}

// DocumentStore serves stored documents attached to an entity.
type DocumentStore interface {
	ListByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]types.Document, error)
	GetByID(ctx context.Context, documentID string) (*types.Document, error)
}

// CommunicationStore serves emails and threads attached to an entity.
type CommunicationStore interface {
	ListEmails(ctx context.Context, entityType types.EntityType, entityID string) ([]types.Email, error)
	ListThreads(ctx context.Context, entityType types.EntityType, entityID string) ([]types.Thread, error)
	GetEmail(ctx context.Context, emailID string) (*types.Email, error)
	GetThread(ctx context.Context, threadID string) (*types.Thread, error)
}

// Result is the gathered raw material of one entity: its section trees, the
// owning tenant, and (for cases) a condensed snapshot of the parent client.
type Result struct {
	TenantID       string
	Sections       types.SectionSet
	ParentSnapshot types.Section
}

// Gatherer pulls an entity's data from the upstream stores and shapes it
// into JSON-normalized section trees.
type Gatherer struct {
	master MasterStore
	docs   DocumentStore
	comms  CommunicationStore
}

// NewGatherer wires the gatherer to its upstream stores.
func NewGatherer(master MasterStore, docs DocumentStore, comms CommunicationStore) *Gatherer {
	return &Gatherer{master: master, docs: docs, comms: comms}
}

// Gather assembles all four sections for the entity. Missing master records
// surface as storage.ErrNotFound from the master store, passed through
// unchanged. Upstream failures on documents or communications degrade to an
// empty section with a warning rather than failing the whole gather.
func (g *Gatherer) Gather(ctx context.Context, entityType types.EntityType, entityID string) (*Result, error) {
	return g.GatherSections(ctx, entityType, entityID, types.AllSectionIDs())
}

// GatherSections assembles only the named sections. The master store is
// always consulted because it owns the tenant id and (for cases) the parent
// snapshot, but the document and communication stores are queried only when
// their sections are requested.
func (g *Gatherer) GatherSections(ctx context.Context, entityType types.EntityType, entityID string, sections []types.SectionID) (*Result, error) {
	requested := make(map[types.SectionID]bool, len(sections))
	for _, s := range sections {
		requested[s] = true
	}

	res := &Result{Sections: make(types.SectionSet, len(sections))}

	switch entityType {
	case types.EntityClient:
		client, err := g.master.GetClient(ctx, entityID)
		if err != nil {
			return nil, err
		}
		res.TenantID = client.TenantID
		if requested[types.SectionIdentity] {
			res.Sections[types.SectionIdentity] = normalize(map[string]any{
				"name":         client.Name,
				"legal_form":   client.LegalForm,
				"industry":     client.Industry,
				"jurisdiction": client.Jurisdiction,
				"status":       client.Status,
			})
		}
		if requested[types.SectionPeople] {
			res.Sections[types.SectionPeople] = peopleSection(client.People)
		}

	case types.EntityCase:
		kase, err := g.master.GetCase(ctx, entityID)
		if err != nil {
			return nil, err
		}
		res.TenantID = kase.TenantID
		if requested[types.SectionIdentity] {
			res.Sections[types.SectionIdentity] = normalize(map[string]any{
				"title":     kase.Title,
				"matter":    kase.Matter,
				"stage":     kase.Stage,
				"status":    kase.Status,
				"client_id": kase.ClientID,
				"opened_at": kase.OpenedAt,
			})
		}
		if requested[types.SectionPeople] {
			res.Sections[types.SectionPeople] = peopleSection(kase.Team)
		}

		snapshot, err := g.parentSnapshot(ctx, kase.ClientID)
		if err != nil {
			return nil, fmt.Errorf("gather: parent client %s: %w", kase.ClientID, err)
		}
		res.ParentSnapshot = snapshot

	default:
		return nil, fmt.Errorf("gather: unknown entity type %q", entityType)
	}

	if requested[types.SectionDocuments] {
		res.Sections[types.SectionDocuments] = g.documentsSection(ctx, entityType, entityID)
	}
	if requested[types.SectionCommunications] {
		res.Sections[types.SectionCommunications] = g.communicationsSection(ctx, entityType, entityID)
	}

	return res, nil
}

// parentSnapshot builds the condensed identity+people copy of the owning
// client embedded into case records.
func (g *Gatherer) parentSnapshot(ctx context.Context, clientID string) (types.Section, error) {
	client, err := g.master.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	people := make([]any, 0, len(client.People))
	for _, p := range client.People {
		people = append(people, map[string]any{"name": p.Name, "role": p.Role})
	}
	return normalize(map[string]any{
		"client_id":  client.ID,
		"name":       client.Name,
		"legal_form": client.LegalForm,
		"status":     client.Status,
		"people":     people,
	}), nil
}

func (g *Gatherer) documentsSection(ctx context.Context, entityType types.EntityType, entityID string) types.Section {
	docs, err := g.docs.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		log.Printf("WARNING: gather: documents for %s %s unavailable: %v", entityType, entityID, err)
		return types.Section{"items": []any{}}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })

	items := make([]any, 0, len(docs))
	for _, d := range docs {
		items = append(items, map[string]any{
			"id":                d.ID,
			"file_name":         d.FileName,
			"kind":              d.Kind,
			"extraction_status": d.ExtractionStatus,
			"summary":           d.Summary,
			"uploaded_at":       d.UploadedAt,
		})
	}
	return normalize(map[string]any{"items": items})
}

func (g *Gatherer) communicationsSection(ctx context.Context, entityType types.EntityType, entityID string) types.Section {
	section := map[string]any{"emails": []any{}, "threads": []any{}}

	emails, err := g.comms.ListEmails(ctx, entityType, entityID)
	if err != nil {
		log.Printf("WARNING: gather: emails for %s %s unavailable: %v", entityType, entityID, err)
	} else {
		sort.Slice(emails, func(i, j int) bool { return emails[i].ReceivedAt.After(emails[j].ReceivedAt) })
		items := make([]any, 0, len(emails))
		for _, e := range emails {
			items = append(items, map[string]any{
				"id":          e.ID,
				"subject":     e.Subject,
				"from":        e.From,
				"snippet":     e.Snippet,
				"received_at": e.ReceivedAt,
			})
		}
		section["emails"] = items
	}

	threads, err := g.comms.ListThreads(ctx, entityType, entityID)
	if err != nil {
		log.Printf("WARNING: gather: threads for %s %s unavailable: %v", entityType, entityID, err)
	} else {
		sort.Slice(threads, func(i, j int) bool { return threads[i].LastActivity.After(threads[j].LastActivity) })
		items := make([]any, 0, len(threads))
		for _, th := range threads {
			items = append(items, map[string]any{
				"id":            th.ID,
				"topic":         th.Topic,
				"summary":       th.Summary,
				"message_count": th.MessageCount,
				"last_activity": th.LastActivity,
			})
		}
		section["threads"] = items
	}

	return normalize(section)
}

func peopleSection(people []types.Person) types.Section {
	items := make([]any, 0, len(people))
	for _, p := range people {
		items = append(items, map[string]any{
			"name":  p.Name,
			"role":  p.Role,
			"email": p.Email,
			"phone": p.Phone,
		})
	}
	return normalize(map[string]any{"items": items})
}

// normalize round-trips a tree through JSON so every value downstream is a
// map[string]any / []any / string / float64 / bool shape. The overlay and
// the canonical section hashing both depend on this.
func normalize(m map[string]any) types.Section {
	raw, err := json.Marshal(m)
	if err != nil {
		// Section trees are built from plain maps and JSON-taggable structs;
		// marshaling them cannot fail in practice.
		log.Printf("ERROR: gather: normalize: %v", err)
		return types.Section(m)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("ERROR: gather: normalize: %v", err)
		return types.Section(m)
	}
	return types.Section(out)
}
