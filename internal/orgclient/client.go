// Package orgclient scopes backend requests to the current organization.
package orgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/testdash/internal/apiclient"
	"github.com/wolfeidau/testdash/internal/state"
)

// HeaderOrganizationID carries the tenant of every scoped request.
const HeaderOrganizationID = "X-Organization-ID"

// CurrentOrg is a live accessor for the current organization id.
// Implementations must return the value at call time, never a stale copy.
type CurrentOrg interface {
	CurrentOrgID() string
}

// CurrentOrgSetter is implemented by accessors that must follow a switch made
// through the client, so the next request sends the new id.
type CurrentOrgSetter interface {
	AdoptOrgID(ctx context.Context, id string)
}

// CurrentOrgFunc adapts a function to CurrentOrg.
type CurrentOrgFunc func() string

func (f CurrentOrgFunc) CurrentOrgID() string { return f() }

// RequestOptions extend apiclient.Options with tenant selection.
type RequestOptions struct {
	apiclient.Options

	// OrganizationID overrides every other source when set.
	OrganizationID string

	// SkipOrganizationHeader sends no X-Organization-ID at all.
	SkipOrganizationHeader bool
}

// Client adds X-Organization-ID to requests made through an apiclient.Client.
type Client struct {
	api   *apiclient.Client
	store state.Store

	mu      sync.RWMutex
	current CurrentOrg
}

// New creates a scoped client persisting the current organization in store.
func New(api *apiclient.Client, store state.Store) *Client {
	return &Client{api: api, store: store}
}

// SetCurrentOrg installs the accessor consulted before persisted state.
// Passing nil removes it.
func (c *Client) SetCurrentOrg(current CurrentOrg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = current
}

// GetCurrentOrganizationID returns the persisted organization id, "" if none.
func (c *Client) GetCurrentOrganizationID(ctx context.Context) string {
	id, err := state.GetString(ctx, c.store, state.CurrentOrganizationKey)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read current organization")
		return ""
	}
	return id
}

// SetCurrentOrganizationID persists id; the next request picks it up.
func (c *Client) SetCurrentOrganizationID(ctx context.Context, id string) error {
	if err := c.store.Set(ctx, state.CurrentOrganizationKey, id); err != nil {
		return fmt.Errorf("failed to persist current organization: %w", err)
	}
	return nil
}

// ClearCurrentOrganizationID removes the persisted organization id.
func (c *Client) ClearCurrentOrganizationID(ctx context.Context) error {
	if err := c.store.Delete(ctx, state.CurrentOrganizationKey); err != nil {
		return fmt.Errorf("failed to clear current organization: %w", err)
	}
	return nil
}

// organizationID resolves the tenant: explicit, then the live accessor, then storage.
func (c *Client) organizationID(ctx context.Context, opts RequestOptions) string {
	if opts.OrganizationID != "" {
		return opts.OrganizationID
	}

	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()

	if current != nil {
		if id := current.CurrentOrgID(); id != "" {
			return id
		}
	}

	return c.GetCurrentOrganizationID(ctx)
}

// Do issues a request with the tenant header and returns the raw response.
func (c *Client) Do(ctx context.Context, method, endpoint string, body io.Reader, opts RequestOptions) (*http.Response, error) {
	apiOpts := opts.Options
	header := make(http.Header, len(apiOpts.Header)+1)
	for k, v := range apiOpts.Header {
		header[k] = v
	}

	if !opts.SkipOrganizationHeader {
		if id := c.organizationID(ctx, opts); id != "" {
			header.Set(HeaderOrganizationID, id)
		}
	}
	apiOpts.Header = header

	return c.api.Do(ctx, method, endpoint, body, apiOpts)
}

func (c *Client) Get(ctx context.Context, endpoint string, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, endpoint, nil, opts)
}

func (c *Client) Post(ctx context.Context, endpoint string, body any, opts RequestOptions) (*http.Response, error) {
	return c.doJSON(ctx, http.MethodPost, endpoint, body, opts)
}

func (c *Client) Put(ctx context.Context, endpoint string, body any, opts RequestOptions) (*http.Response, error) {
	return c.doJSON(ctx, http.MethodPut, endpoint, body, opts)
}

func (c *Client) Patch(ctx context.Context, endpoint string, body any, opts RequestOptions) (*http.Response, error) {
	return c.doJSON(ctx, http.MethodPatch, endpoint, body, opts)
}

func (c *Client) Delete(ctx context.Context, endpoint string, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, endpoint, nil, opts)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body any, opts RequestOptions) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.Do(ctx, method, endpoint, reader, opts)
}

// SwitchOrganization persists id before returning, then tells the backend
// about the new preference. A failed notification is logged and does not
// undo the local switch.
func (c *Client) SwitchOrganization(ctx context.Context, id string, opts apiclient.Options) error {
	if err := c.SetCurrentOrganizationID(ctx, id); err != nil {
		return err
	}

	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()
	if setter, ok := current.(CurrentOrgSetter); ok {
		setter.AdoptOrgID(ctx, id)
	}

	endpoint := "/api/v1/users/me/organizations/" + url.PathEscape(id) + "/switch"
	resp, err := c.Do(ctx, http.MethodPost, endpoint, nil, RequestOptions{Options: opts, OrganizationID: id})
	if err != nil {
		log.Warn().Err(err).Str("orgID", id).Msg("failed to notify backend of organization switch")
		return nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("orgID", id).Msg("backend rejected organization switch notification")
		return nil
	}

	log.Debug().Str("orgID", id).Msg("organization switch recorded")
	return nil
}
