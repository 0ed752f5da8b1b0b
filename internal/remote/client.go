// Package remote provides the HTTP client for the remote authority's
// entity and media endpoints. Business semantics stay opaque; the client
// only understands ids, lifecycle fields and status codes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldvault/fieldsync/internal/errors"
)

// DefaultTimeout bounds every remote call. A stuck call fails its unit of
// work instead of blocking the whole sync pass.
const DefaultTimeout = 60 * time.Second

// Entity is the remote authority's view of a record: opaque payload plus
// the small set of lifecycle fields the engine interprets.
type Entity struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parent_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt int64           `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
	Finalized bool            `json:"finalized"`
}

// Terminal reports whether the entity can no longer accept child writes.
func (e *Entity) Terminal() bool {
	return e.Deleted || e.Finalized
}

// CreateResult is the response to a successful entity creation.
type CreateResult struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Config holds remote client configuration.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client talks to the remote authority over HTTP.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewClient creates a new remote Client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:   config.BaseURL,
		authToken: config.AuthToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// ListEntities fetches the authoritative entity list scoped to an owner.
// An empty parent lists top-level entities; a non-empty parent lists that
// entity's children.
func (c *Client) ListEntities(ctx context.Context, owner, parent string) ([]Entity, error) {
	q := url.Values{}
	q.Set("owner", owner)
	if parent != "" {
		q.Set("parent", parent)
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/entities?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}

	var entities []Entity
	if err := c.do(req, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// GetEntity fetches a single entity by id.
func (c *Client) GetEntity(ctx context.Context, id string) (*Entity, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/entities/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}

	var entity Entity
	if err := c.do(req, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// createRequest is the body of POST /entities.
type createRequest struct {
	Owner    string          `json:"owner"`
	ParentID string          `json:"parent_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// CreateEntity creates an entity and returns the server-issued id.
func (c *Client) CreateEntity(ctx context.Context, owner, parent string, payload json.RawMessage) (*CreateResult, error) {
	body, err := json.Marshal(createRequest{Owner: owner, ParentID: parent, Payload: payload})
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode create request", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/entities", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}

	var result CreateResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// updateResponse is the body returned by PATCH /entities/{id}.
type updateResponse struct {
	UpdatedAt int64 `json:"updatedAt"`
}

// UpdateEntity replaces an entity's payload and returns the new updatedAt.
func (c *Client) UpdateEntity(ctx context.Context, id string, payload json.RawMessage) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodPatch, "/entities/"+url.PathEscape(id),
		bytes.NewReader(payload), "application/json")
	if err != nil {
		return 0, err
	}

	var result updateResponse
	if err := c.do(req, &result); err != nil {
		return 0, err
	}
	return result.UpdatedAt, nil
}

// DeleteEntity deletes an entity remotely.
func (c *Client) DeleteEntity(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/entities/"+url.PathEscape(id), nil, "")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// uploadResponse is the body returned by POST /media.
type uploadResponse struct {
	URL string `json:"url"`
}

// UploadMedia uploads a staged file as multipart form data and returns the
// hosted URL.
func (c *Client) UploadMedia(ctx context.Context, localPath, mimeType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrap(errors.ErrMediaUpload, "failed to open staged file", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", errors.Wrap(errors.ErrMediaUpload, "failed to build multipart body", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", errors.Wrap(errors.ErrMediaUpload, "failed to read staged file", err)
	}
	if mimeType != "" {
		writer.WriteField("content_type", mimeType)
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(errors.ErrMediaUpload, "failed to finish multipart body", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/media", &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}

	var result uploadResponse
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	return result.URL, nil
}

// Ping checks connectivity to the remote authority.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodHead, "/entities", nil, "")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Online reports whether the remote authority is reachable. Implements the
// orchestrator's connectivity check.
func (c *Client) Online(ctx context.Context) bool {
	return c.Ping(ctx) == nil
}

// newRequest builds an authenticated request against the base URL.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build request", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do executes a request, classifies failures per the remote API's
// status-code semantics and decodes a JSON body into out when non-nil.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors and timeouts are transient by definition
		return errors.Wrap(errors.ErrTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.New(errors.FromStatusCode(resp.StatusCode),
			fmt.Sprintf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to decode response", err)
	}
	return nil
}
