package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/wolfeidau/testdash/internal/models"
)

// OrgsCmd manages the current organization.
type OrgsCmd struct {
	List    OrgsListCmd    `cmd:"" help:"List organizations you belong to"`
	Current OrgsCurrentCmd `cmd:"" help:"Show the current organization"`
	Switch  OrgsSwitchCmd  `cmd:"" help:"Switch the current organization"`
	Refresh OrgsRefreshCmd `cmd:"" help:"Re-fetch organizations and re-select the current one"`
}

// OrgsListCmd lists organizations.
type OrgsListCmd struct {
	JSON bool `help:"Print as JSON"`
}

func (c *OrgsListCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := globals.connect(ctx)
	if err != nil {
		return err
	}
	if err := rt.load(ctx); err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}

	snap := rt.resolver.Snapshot()
	if c.JSON {
		return printJSON(globals.out(), snap.Organizations)
	}

	currentID := ""
	if snap.Current != nil {
		currentID = snap.Current.ID
	}
	printOrganizations(globals.out(), snap.Organizations, currentID)
	return nil
}

// OrgsCurrentCmd shows the current organization.
type OrgsCurrentCmd struct {
	Offline bool `help:"Print the saved organization id without contacting the backend"`
	JSON    bool `help:"Print as JSON"`
}

func (c *OrgsCurrentCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := globals.connect(ctx)
	if err != nil {
		return err
	}

	if c.Offline {
		id := rt.orgs.GetCurrentOrganizationID(ctx)
		if id == "" {
			fmt.Fprintln(globals.out(), "No organization selected.")
			return nil
		}
		fmt.Fprintln(globals.out(), id)
		return nil
	}

	if err := rt.load(ctx); err != nil {
		return fmt.Errorf("failed to load organizations: %w", err)
	}

	org := rt.resolver.CurrentOrganization()
	if org == nil {
		fmt.Fprintln(globals.out(), "You don't belong to any organization.")
		return nil
	}
	if c.JSON {
		return printJSON(globals.out(), org)
	}
	printOrganization(globals.out(), org)
	return nil
}

// OrgsSwitchCmd switches the current organization.
type OrgsSwitchCmd struct {
	ID string `arg:"" help:"Organization id"`
}

func (c *OrgsSwitchCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := globals.connect(ctx)
	if err != nil {
		return err
	}
	if err := rt.load(ctx); err != nil {
		return fmt.Errorf("failed to load organizations: %w", err)
	}

	if !rt.resolver.SwitchOrganization(ctx, c.ID) {
		return fmt.Errorf("organization %q not found\n\nRun 'testdash orgs list' to see available organizations", c.ID)
	}

	if err := rt.orgs.SwitchOrganization(ctx, c.ID, rt.auth(ctx)); err != nil {
		return fmt.Errorf("failed to switch organization: %w", err)
	}

	org := rt.resolver.CurrentOrganization()
	fmt.Fprintf(globals.out(), "Switched to %s (%s)\n", org.Name, org.ID)
	return nil
}

// OrgsRefreshCmd re-runs organization selection.
type OrgsRefreshCmd struct{}

func (c *OrgsRefreshCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := globals.connect(ctx)
	if err != nil {
		return err
	}

	previous := rt.orgs.GetCurrentOrganizationID(ctx)
	if err := rt.load(ctx); err != nil {
		return fmt.Errorf("failed to refresh organizations: %w", err)
	}

	snap := rt.resolver.Snapshot()
	fmt.Fprintf(globals.out(), "Fetched %d organizations.\n", len(snap.Organizations))

	switch {
	case snap.Current == nil:
		fmt.Fprintln(globals.out(), "No organization selected.")
	case previous != "" && previous != snap.Current.ID:
		fmt.Fprintf(globals.out(), "Organization %s is no longer available, switched to %s (%s)\n",
			previous, snap.Current.Name, snap.Current.ID)
	default:
		fmt.Fprintf(globals.out(), "Current organization: %s (%s)\n", snap.Current.Name, snap.Current.ID)
	}
	return nil
}

func printOrganizations(w io.Writer, orgs []models.Organization, currentID string) {
	if len(orgs) == 0 {
		fmt.Fprintln(w, "No organizations found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CURRENT\tID\tNAME\tSLUG\tROLE\tPLAN\tMEMBERS")

	for _, org := range orgs {
		current := ""
		if org.ID == currentID {
			current = "*"
		}

		name := org.Name
		if len(name) > 32 {
			name = name[:29] + "..."
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			current, org.ID, name, org.Slug, org.Role, org.Plan, org.MemberCount)
	}

	tw.Flush()
}

func printOrganization(w io.Writer, org *models.Organization) {
	fmt.Fprintf(w, "ID:       %s\n", org.ID)
	fmt.Fprintf(w, "Name:     %s\n", org.Name)
	fmt.Fprintf(w, "Slug:     %s\n", org.Slug)
	fmt.Fprintf(w, "Role:     %s\n", org.Role)
	if org.Plan != "" {
		fmt.Fprintf(w, "Plan:     %s\n", org.Plan)
	}
	fmt.Fprintf(w, "Members:  %d\n", org.MemberCount)
	fmt.Fprintf(w, "Default:  %v\n", org.IsDefault)
	fmt.Fprintf(w, "Personal: %v\n", org.IsPersonal)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
