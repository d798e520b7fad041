package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/testdash/internal/orgcontext"
	"github.com/wolfeidau/testdash/internal/session"
	"github.com/wolfeidau/testdash/internal/state"
)

// SessionCmd groups session commands.
type SessionCmd struct {
	Watch SessionWatchCmd `cmd:"" help:"Keep an interactive session open and sign out after inactivity"`
}

// SessionWatchCmd runs the idle session monitor against terminal input.
type SessionWatchCmd struct {
	Timeout         time.Duration `help:"Idle time before signing out" default:"30m" env:"TESTDASH_SESSION_TIMEOUT"`
	WarningLead     time.Duration `help:"How long before the timeout to warn" default:"5m" env:"TESTDASH_SESSION_WARNING_LEAD"`
	Throttle        time.Duration `help:"Minimum gap between recorded activity" default:"1s"`
	Disabled        bool          `help:"Do not sign out idle sessions" env:"TESTDASH_SESSION_DISABLED"`
	RefreshInterval time.Duration `help:"How often organizations are re-fetched" default:"5m"`

	// input replaces os.Stdin in tests.
	input io.Reader
}

func (c *SessionWatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := globals.connect(ctx)
	if err != nil {
		return err
	}
	if err := rt.load(ctx); err != nil {
		return fmt.Errorf("failed to load organizations: %w", err)
	}

	out := globals.out()
	printCurrent(out, rt.resolver.Snapshot())

	var mu sync.Mutex
	lastID := rt.resolver.CurrentOrgID()
	unsubscribe := rt.resolver.OnChange(func(snap orgcontext.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if snap.Current == nil || snap.Current.ID == lastID {
			return
		}
		lastID = snap.Current.ID
		fmt.Fprintf(out, "Organization changed to %s (%s)\n", snap.Current.Name, snap.Current.ID)
	})
	defer unsubscribe()

	// other testdash processes sharing the state file
	go func() {
		err := rt.store.Watch(ctx, func(key, value string) {
			if key != state.CurrentOrganizationKey || value == rt.resolver.CurrentOrgID() {
				return
			}
			if value != "" && rt.resolver.SwitchOrganization(ctx, value) {
				return
			}
			if err := rt.resolver.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to refresh after external organization change")
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("state watch stopped")
		}
	}()

	go rt.resolver.RunBackgroundRefresh(ctx, c.RefreshInterval)

	input := c.input
	if input == nil {
		input = os.Stdin
	}
	source := session.NewReaderSource(input)

	monitor := session.NewMonitor(rt.provider, source, session.Config{
		Timeout:       c.Timeout,
		WarningLead:   c.WarningLead,
		Throttle:      c.Throttle,
		CheckInterval: time.Second,
		Disabled:      c.Disabled,
	})
	monitor.OnWarning(func(secs int) {
		fmt.Fprintf(out, "Session expires in %ds, type 'extend' to stay signed in\n", secs)
	})
	monitor.OnExpire(cancel)
	monitor.SetNavigator(func(path string) {
		// a failed sign-out must not leave a saved session behind
		if err := rt.store.Delete(context.WithoutCancel(ctx), RefreshTokenKey); err != nil {
			log.Error().Err(err).Msg("failed to remove saved session")
		}
		cancel()
	})

	stop := monitor.Start(ctx)
	defer stop()

	if monitor.State() == session.StateIdle && !c.Disabled {
		fmt.Fprintln(out, "Session monitoring needs a signed-in user, idle sign out is off.")
	}

	fmt.Fprintln(out, "Commands: orgs, switch <id>, extend, status, quit")

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- source.Run(ctx, func(line string) {
			if c.handle(ctx, out, rt, monitor, line) {
				cancel()
			}
		})
	}()

	select {
	case <-ctx.Done():
	case err := <-inputDone:
		if err != nil {
			log.Warn().Err(err).Msg("input closed")
		}
	}

	if monitor.State() == session.StateExpired {
		rt.resolver.SignOut(context.WithoutCancel(ctx))
		if err := rt.store.Delete(context.WithoutCancel(ctx), RefreshTokenKey); err != nil {
			log.Warn().Err(err).Msg("failed to remove saved session")
		}
		fmt.Fprintln(out, "Signed out after inactivity.")
	}
	return nil
}

// handle runs one interactive command and reports whether to quit.
func (c *SessionWatchCmd) handle(ctx context.Context, out io.Writer, rt *runtime, monitor *session.Monitor, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true
	case "extend":
		monitor.ExtendSession(ctx)
		fmt.Fprintln(out, "Session extended.")
	case "status":
		activity := monitor.Activity()
		fmt.Fprintf(out, "State: %s, last activity %s, %ds remaining\n",
			monitor.State(), activity.LastActivity.Format(time.Kitchen), activity.SecondsRemaining)
	case "orgs":
		snap := rt.resolver.Snapshot()
		currentID := ""
		if snap.Current != nil {
			currentID = snap.Current.ID
		}
		printOrganizations(out, snap.Organizations, currentID)
	case "switch":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: switch <id>")
			return false
		}
		if !rt.resolver.SwitchOrganization(ctx, fields[1]) {
			fmt.Fprintf(out, "Organization %q not found.\n", fields[1])
			return false
		}
		if err := rt.orgs.SwitchOrganization(ctx, fields[1], rt.auth(ctx)); err != nil {
			fmt.Fprintf(out, "Failed to switch organization: %v\n", err)
		}
	default:
		fmt.Fprintf(out, "Unknown command %q.\n", fields[0])
	}
	return false
}

func printCurrent(w io.Writer, snap orgcontext.Snapshot) {
	if snap.Current == nil {
		fmt.Fprintln(w, "No organization selected.")
		return
	}
	fmt.Fprintf(w, "Current organization: %s (%s)\n", snap.Current.Name, snap.Current.ID)
}
