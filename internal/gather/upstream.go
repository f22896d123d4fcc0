package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// UpstreamClient reads master entities, documents, and communications from
// the collaborator services over their REST API. It implements MasterStore,
// DocumentStore, and CommunicationStore.
type UpstreamClient struct {
	baseURL string
	client  *http.Client
}

// NewUpstreamClient creates a collaborator client rooted at baseURL.
func NewUpstreamClient(baseURL string, timeout time.Duration) *UpstreamClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UpstreamClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetClient fetches one client master record.
func (u *UpstreamClient) GetClient(ctx context.Context, clientID string) (*types.Client, error) {
	var out types.Client
	if err := u.getJSON(ctx, "/api/clients/"+url.PathEscape(clientID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCase fetches one case master record.
func (u *UpstreamClient) GetCase(ctx context.Context, caseID string) (*types.Case, error) {
	var out types.Case
	if err := u.getJSON(ctx, "/api/cases/"+url.PathEscape(caseID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListByEntity lists the documents attached to an entity.
func (u *UpstreamClient) ListByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]types.Document, error) {
	var out []types.Document
	if err := u.getJSON(ctx, "/api/documents", entityQuery(entityType, entityID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID fetches one document with content and extraction status.
func (u *UpstreamClient) GetByID(ctx context.Context, documentID string) (*types.Document, error) {
	var out types.Document
	if err := u.getJSON(ctx, "/api/documents/"+url.PathEscape(documentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListEmails lists the emails attached to an entity.
func (u *UpstreamClient) ListEmails(ctx context.Context, entityType types.EntityType, entityID string) ([]types.Email, error) {
	var out []types.Email
	if err := u.getJSON(ctx, "/api/emails", entityQuery(entityType, entityID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListThreads lists the conversation threads attached to an entity.
func (u *UpstreamClient) ListThreads(ctx context.Context, entityType types.EntityType, entityID string) ([]types.Thread, error) {
	var out []types.Thread
	if err := u.getJSON(ctx, "/api/threads", entityQuery(entityType, entityID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEmail fetches one email with its full body.
func (u *UpstreamClient) GetEmail(ctx context.Context, emailID string) (*types.Email, error) {
	var out types.Email
	if err := u.getJSON(ctx, "/api/emails/"+url.PathEscape(emailID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetThread fetches one thread summary.
func (u *UpstreamClient) GetThread(ctx context.Context, threadID string) (*types.Thread, error) {
	var out types.Thread
	if err := u.getJSON(ctx, "/api/threads/"+url.PathEscape(threadID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func entityQuery(entityType types.EntityType, entityID string) url.Values {
	return url.Values{
		"entity_type": []string{string(entityType)},
		"entity_id":   []string{entityID},
	}
}

// getJSON performs a GET and decodes the response. A 404 maps onto
// storage.ErrNotFound so callers treat upstream absence like local absence.
func (u *UpstreamClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := u.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("upstream: failed to create request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return storage.ErrNotFound
	default:
		return fmt.Errorf("upstream: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: failed to decode %s response: %w", path, err)
	}
	return nil
}
