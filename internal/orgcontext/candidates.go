package orgcontext

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/testdash/internal/apiclient"
	"github.com/wolfeidau/testdash/internal/models"
	"github.com/wolfeidau/testdash/internal/orgclient"
)

// Organization list endpoints, in the order they are tried.
const (
	PrimaryOrganizationsPath = "/api/v1/orgs"
	LegacyOrganizationsPath  = "/api/v1/users/me/organizations"
)

// ErrNoCandidates is returned when every candidate reported not found.
var ErrNoCandidates = errors.New("no organization endpoint available")

// Result is the tagged outcome of one candidate.
// NotFound means the endpoint does not exist and the next candidate should be tried.
type Result struct {
	Organizations []models.Organization
	NotFound      bool
	Err           error
}

// Candidate is one way of listing the caller's organizations.
type Candidate struct {
	Name  string
	Fetch func(ctx context.Context) Result
}

// FetchOrganizations tries candidates in order. A NotFound result moves on
// to the next candidate; any other failure or success ends the sequence.
func FetchOrganizations(ctx context.Context, candidates []Candidate) ([]models.Organization, error) {
	for _, c := range candidates {
		res := c.Fetch(ctx)

		switch {
		case res.NotFound:
			log.Debug().Str("candidate", c.Name).Msg("organization endpoint not found, trying next")
			continue
		case res.Err != nil:
			return nil, fmt.Errorf("%s: %w", c.Name, res.Err)
		default:
			log.Debug().
				Str("candidate", c.Name).
				Int("count", len(res.Organizations)).
				Msg("fetched organizations")
			return res.Organizations, nil
		}
	}
	return nil, ErrNoCandidates
}

// DefaultCandidates lists organizations from the primary endpoint, falling
// back to the legacy endpoint.
func DefaultCandidates(client *orgclient.Client, auth func(ctx context.Context) apiclient.Options) []Candidate {
	return []Candidate{
		EndpointCandidate("primary", PrimaryOrganizationsPath, client, auth),
		EndpointCandidate("legacy", LegacyOrganizationsPath, client, auth),
	}
}

// EndpointCandidate fetches organizations with a GET to path. Listing is not
// organization scoped, so no X-Organization-ID is sent.
func EndpointCandidate(name, path string, client *orgclient.Client, auth func(ctx context.Context) apiclient.Options) Candidate {
	return Candidate{
		Name: name,
		Fetch: func(ctx context.Context) Result {
			var opts apiclient.Options
			if auth != nil {
				opts = auth(ctx)
			}

			resp, err := client.Get(ctx, path, orgclient.RequestOptions{
				Options:                opts,
				SkipOrganizationHeader: true,
			})
			if err != nil {
				return Result{Err: err}
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				_, _ = io.Copy(io.Discard, resp.Body)
				return Result{NotFound: true}
			}

			if err := orgclient.CheckResponse(resp); err != nil {
				return Result{Err: err}
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return Result{Err: fmt.Errorf("failed to read organizations: %w", err)}
			}

			orgs, err := decodeOrganizations(body)
			if err != nil {
				return Result{Err: err}
			}
			return Result{Organizations: orgs}
		},
	}
}

// decodeOrganizations accepts a bare array or an {"organizations": [...]} envelope.
func decodeOrganizations(body []byte) ([]models.Organization, error) {
	trimmed := bytes.TrimSpace(body)

	var orgs []models.Organization
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &orgs); err != nil {
			return nil, fmt.Errorf("failed to decode organizations: %w", err)
		}
		return orgs, nil
	}

	var envelope struct {
		Organizations []models.Organization `json:"organizations"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode organizations: %w", err)
	}
	return envelope.Organizations, nil
}
