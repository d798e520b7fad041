// Package orgcontext determines the active organization for a signed-in
// session and keeps it in sync with persisted state and the request layer.
package orgcontext

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/testdash/internal/identity"
	"github.com/wolfeidau/testdash/internal/models"
	"github.com/wolfeidau/testdash/internal/orgclient"
	"github.com/wolfeidau/testdash/internal/telemetry"
)

// Status is the resolver's load state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the resolver state.
type Snapshot struct {
	Status        Status
	Organizations []models.Organization
	Current       *models.Organization
	Error         string
}

// Loading reports whether a fetch is in flight.
func (s Snapshot) Loading() bool {
	return s.Status == StatusLoading
}

// Resolver owns the list of organizations the caller belongs to and the
// current selection.
type Resolver struct {
	client     *orgclient.Client
	provider   identity.Provider
	candidates []Candidate

	// currentID is the reference cell read by the request layer.
	currentID atomic.Pointer[string]

	mu         sync.Mutex
	status     Status
	orgs       []models.Organization
	current    *models.Organization
	errMsg     string
	generation uint64

	observersMu sync.Mutex
	observers   map[int]func(Snapshot)
	nextID      int
}

// NewResolver creates a resolver and installs it as the live organization
// accessor of client.
func NewResolver(client *orgclient.Client, provider identity.Provider, candidates []Candidate) *Resolver {
	r := &Resolver{
		client:     client,
		provider:   provider,
		candidates: candidates,
		observers:  make(map[int]func(Snapshot)),
	}
	empty := ""
	r.currentID.Store(&empty)

	client.SetCurrentOrg(r)

	return r
}

// CurrentOrgID implements orgclient.CurrentOrg by reading the reference cell.
func (r *Resolver) CurrentOrgID() string {
	return *r.currentID.Load()
}

// AdoptOrgID implements orgclient.CurrentOrgSetter. The client has already
// persisted id; a known id becomes the selection, an unknown one clears it so
// requests fall back to the persisted value.
func (r *Resolver) AdoptOrgID(ctx context.Context, id string) {
	if r.CurrentOrgID() == id {
		return
	}
	if r.SwitchOrganization(ctx, id) {
		return
	}

	r.mu.Lock()
	r.current = nil
	empty := ""
	r.currentID.Store(&empty)
	r.mu.Unlock()
	r.notify()

	log.Debug().Str("orgID", id).Msg("adopted organization outside the fetched list")
}

// Start loads organizations once the identity provider is loaded and
// signed in. Otherwise the resolver stays uninitialized.
func (r *Resolver) Start(ctx context.Context) error {
	if !r.provider.IsLoaded() || !r.provider.IsSignedIn() {
		log.Debug().Msg("identity session unavailable, organization context not loaded")
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh fetches the organization list and re-selects the current
// organization. On failure the previous list and selection are kept.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.status = StatusLoading
	r.mu.Unlock()
	r.notify()

	start := time.Now()
	orgs, fetchErr := FetchOrganizations(ctx, r.candidates)
	metrics := telemetry.GetMetrics()
	metrics.OrgFetchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	r.mu.Lock()
	if gen != r.generation {
		// Signed out or superseded while the fetch was in flight.
		r.mu.Unlock()
		log.Debug().Msg("discarding stale organization fetch")
		return nil
	}

	if fetchErr != nil {
		r.status = StatusError
		r.errMsg = fmt.Sprintf("Failed to load organizations: %v", fetchErr)
		r.mu.Unlock()
		r.notify()

		metrics.OrgFetchErrorsTotal.Add(ctx, 1)
		log.Error().Err(fetchErr).Msg("failed to load organizations")
		return fetchErr
	}

	previous := ""
	if r.current != nil {
		previous = r.current.ID
	}
	if previous == "" {
		previous = r.client.GetCurrentOrganizationID(ctx)
	}

	r.orgs = slices.Clone(orgs)
	r.setCurrentLocked(ctx, SelectCurrent(r.orgs, previous))
	r.status = StatusReady
	r.errMsg = ""
	r.mu.Unlock()
	r.notify()

	return nil
}

// SwitchOrganization selects id when it belongs to the fetched list and
// persists it. Unknown ids leave the state unchanged and return false.
func (r *Resolver) SwitchOrganization(ctx context.Context, id string) bool {
	r.mu.Lock()
	org := models.FindOrganization(r.orgs, id)
	if org == nil {
		r.mu.Unlock()
		log.Debug().Str("orgID", id).Msg("ignoring switch to unknown organization")
		return false
	}

	r.setCurrentLocked(ctx, org)
	r.mu.Unlock()
	r.notify()

	telemetry.GetMetrics().OrgSwitchesTotal.Add(ctx, 1)
	log.Info().Str("orgID", org.ID).Str("name", org.Name).Msg("switched organization")
	return true
}

// SignOut resets to an empty list with no selection, clears persisted state
// and invalidates in-flight fetches.
func (r *Resolver) SignOut(ctx context.Context) {
	r.mu.Lock()
	r.generation++
	r.status = StatusUninitialized
	r.orgs = nil
	r.errMsg = ""
	r.current = nil
	empty := ""
	r.currentID.Store(&empty)

	if err := r.client.ClearCurrentOrganizationID(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear persisted organization")
	}
	r.mu.Unlock()
	r.notify()
}

// RunBackgroundRefresh refreshes every interval until ctx is cancelled.
// Failures are logged, keeping the last good state. A non-positive interval
// disables it.
func (r *Resolver) RunBackgroundRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.provider.IsSignedIn() {
				continue
			}
			if err := r.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("background organization refresh failed")
			}
		}
	}
}

// Snapshot returns the current state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// CurrentOrganization returns the selected organization, or nil.
func (r *Resolver) CurrentOrganization() *models.Organization {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	org := *r.current
	return &org
}

// OnChange registers fn to receive a snapshot after every state change.
func (r *Resolver) OnChange(fn func(Snapshot)) (unsubscribe func()) {
	r.observersMu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.observersMu.Unlock()

	return func() {
		r.observersMu.Lock()
		delete(r.observers, id)
		r.observersMu.Unlock()
	}
}

func (r *Resolver) notify() {
	snap := r.Snapshot()

	r.observersMu.Lock()
	observers := make([]func(Snapshot), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.observersMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// setCurrentLocked updates the selection, the reference cell and persisted
// state. r.mu must be held.
func (r *Resolver) setCurrentLocked(ctx context.Context, org *models.Organization) {
	r.current = org

	id := ""
	if org != nil {
		id = org.ID
	}
	r.currentID.Store(&id)

	var err error
	if id == "" {
		err = r.client.ClearCurrentOrganizationID(ctx)
	} else {
		err = r.client.SetCurrentOrganizationID(ctx, id)
	}
	if err != nil {
		log.Warn().Err(err).Str("orgID", id).Msg("failed to persist current organization")
	}
}

func (r *Resolver) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:        r.status,
		Organizations: slices.Clone(r.orgs),
		Error:         r.errMsg,
	}
	if r.current != nil {
		org := *r.current
		snap.Current = &org
	}
	return snap
}

// SelectCurrent picks the current organization from orgs: the persisted id
// when still present, then the default organization, then the first one in
// backend order. An empty list selects nothing.
func SelectCurrent(orgs []models.Organization, persistedID string) *models.Organization {
	if org := models.FindOrganization(orgs, persistedID); org != nil {
		return org
	}

	for i := range orgs {
		if orgs[i].IsDefault {
			org := orgs[i]
			return &org
		}
	}

	if len(orgs) > 0 {
		org := orgs[0]
		return &org
	}

	return nil
}
