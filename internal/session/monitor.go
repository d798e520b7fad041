// Package session signs out idle sessions. A Monitor tracks user activity,
// raises a countdown warning ahead of the idle timeout and signs the user out
// when it elapses.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/testdash/internal/identity"
	"github.com/wolfeidau/testdash/internal/models"
	"github.com/wolfeidau/testdash/internal/telemetry"
)

// Defaults applied to zero Config values.
const (
	DefaultTimeout       = 30 * time.Minute
	DefaultWarningLead   = 5 * time.Minute
	DefaultThrottle      = time.Second
	DefaultCheckInterval = time.Second
)

// RootPath is where a failed sign-out navigates to.
const RootPath = "/"

// Config controls idle detection.
type Config struct {
	// Timeout is the idle time after which the session is signed out.
	Timeout time.Duration
	// WarningLead is how long before Timeout the warning is raised.
	WarningLead time.Duration
	// Throttle is the minimum gap between two recorded activity ticks.
	Throttle time.Duration
	// CheckInterval is the resolution of the periodic check.
	CheckInterval time.Duration
	// Disabled turns the monitor off entirely.
	Disabled bool
}

// DefaultConfig returns the standard session timeouts.
func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		WarningLead:   DefaultWarningLead,
		Throttle:      DefaultThrottle,
		CheckInterval: DefaultCheckInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WarningLead <= 0 {
		c.WarningLead = DefaultWarningLead
	}
	if c.Throttle < 0 {
		c.Throttle = 0
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// State of the monitor.
type State int

const (
	StateIdle State = iota
	StateActive
	StateWarning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Navigator performs a hard navigation, discarding all client-side session
// state. It is the fallback when signing out fails.
type Navigator func(path string)

// Monitor is the idle session state machine.
type Monitor struct {
	provider identity.Provider
	source   ActivitySource
	cfg      Config
	clock    Clock
	navigate Navigator

	mu           sync.Mutex
	running      bool
	expired      bool
	warning      bool
	lastActivity time.Time
	lastTick     time.Time
	remaining    time.Duration
	epoch        uint64
	ctx          context.Context
	teardown     func()

	onWarning func(secondsRemaining int)
	onExpire  func()
}

// NewMonitor creates a stopped monitor using the wall clock.
func NewMonitor(provider identity.Provider, source ActivitySource, cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	if cfg.WarningLead >= cfg.Timeout {
		log.Warn().
			Dur("timeout", cfg.Timeout).
			Dur("warningLead", cfg.WarningLead).
			Msg("session warning lead is not shorter than the timeout")
	}

	return &Monitor{
		provider: provider,
		source:   source,
		cfg:      cfg,
		clock:    SystemClock,
		navigate: func(path string) {
			log.Error().Str("path", path).Msg("hard navigation requested without a navigator")
		},
		remaining: cfg.Timeout,
	}
}

// SetClock replaces the clock. Call before Start.
func (m *Monitor) SetClock(c Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = c
}

// SetNavigator replaces the hard navigation fallback.
func (m *Monitor) SetNavigator(n Navigator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navigate = n
}

// OnWarning registers fn to receive the countdown on every check while the
// session is in the warning state.
func (m *Monitor) OnWarning(fn func(secondsRemaining int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarning = fn
}

// OnExpire registers fn to run once the session has been signed out.
func (m *Monitor) OnExpire(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Start subscribes to activity and begins periodic checks. Nothing is
// installed when the monitor is disabled or no user is signed in. The
// returned stop function tears everything down and may be called any number
// of times. Cancelling ctx has the same effect.
func (m *Monitor) Start(ctx context.Context) (stop func()) {
	if m.cfg.Disabled {
		log.Debug().Msg("session monitor disabled")
		return func() {}
	}
	if !m.provider.IsLoaded() || !m.provider.IsSignedIn() {
		log.Debug().Msg("not signed in, session monitor not started")
		return func() {}
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		log.Warn().Msg("session monitor already running")
		return func() {}
	}

	now := m.clock.Now()
	m.epoch++
	epoch := m.epoch
	m.running = true
	m.expired = false
	m.warning = false
	m.lastActivity = now
	m.lastTick = now
	m.remaining = m.cfg.Timeout
	m.ctx = ctx

	ticks, stopTicker := m.clock.Tick(m.cfg.CheckInterval)
	unsubscribe := m.source.Subscribe(func() {
		m.RecordActivity(m.clock.Now())
	})

	done := make(chan struct{})
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			unsubscribe()
			stopTicker()
			close(done)
		})
	}
	m.teardown = teardown
	m.mu.Unlock()

	stop = func() {
		m.mu.Lock()
		if m.epoch == epoch && m.running {
			m.running = false
			m.warning = false
			m.epoch++
		}
		m.mu.Unlock()
		teardown()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case <-ticks:
				m.Check(m.clock.Now())
			}
		}
	}()

	log.Debug().
		Dur("timeout", m.cfg.Timeout).
		Dur("warningLead", m.cfg.WarningLead).
		Msg("session monitor started")

	return stop
}

// RecordActivity registers an activity tick at now. Ticks within the
// throttle interval of the previously recorded one are ignored. A recorded
// tick restores the full timeout and clears any warning. It reports whether
// the tick was recorded.
func (m *Monitor) RecordActivity(now time.Time) bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	if now.Sub(m.lastTick) <= m.cfg.Throttle {
		m.mu.Unlock()
		return false
	}

	wasWarning := m.warning
	m.lastTick = now
	m.lastActivity = now
	m.warning = false
	m.remaining = m.cfg.Timeout
	m.mu.Unlock()

	telemetry.GetMetrics().SessionActivityRecordedTotal.Add(context.Background(), 1)
	if wasWarning {
		log.Debug().Msg("activity resumed session")
	}
	return true
}

// Check evaluates the idle time at now, raising the warning or expiring the
// session as needed, and returns the resulting state.
func (m *Monitor) Check(now time.Time) State {
	m.mu.Lock()
	if !m.running {
		s := m.stateLocked()
		m.mu.Unlock()
		return s
	}

	// signed out elsewhere: stop without a second sign-out
	if !m.provider.IsSignedIn() {
		m.running = false
		m.warning = false
		m.epoch++
		teardown := m.teardown
		m.mu.Unlock()

		teardown()
		log.Debug().Msg("identity session ended, session monitor stopped")
		return StateIdle
	}

	remaining := max(m.cfg.Timeout-now.Sub(m.lastActivity), 0)

	switch {
	case remaining == 0:
		m.running = false
		m.expired = true
		m.warning = false
		m.remaining = 0
		m.epoch++
		teardown := m.teardown
		ctx := m.ctx
		onExpire := m.onExpire
		navigate := m.navigate
		m.mu.Unlock()

		teardown()
		m.expire(ctx, navigate, onExpire)
		return StateExpired

	case remaining <= m.cfg.WarningLead:
		first := !m.warning
		m.warning = true
		m.remaining = remaining
		onWarning := m.onWarning
		m.mu.Unlock()

		secs := countdownSeconds(remaining)
		if first {
			telemetry.GetMetrics().SessionWarningsTotal.Add(context.Background(), 1)
			log.Warn().Int("secondsRemaining", secs).Msg("session about to expire")
		}
		if onWarning != nil {
			onWarning(secs)
		}
		return StateWarning

	default:
		m.warning = false
		m.remaining = remaining
		m.mu.Unlock()
		return StateActive
	}
}

func (m *Monitor) expire(ctx context.Context, navigate Navigator, onExpire func()) {
	metrics := telemetry.GetMetrics()
	ctx = context.WithoutCancel(ctx)

	log.Info().Msg("session expired after inactivity, signing out")
	metrics.SessionExpirationsTotal.Add(ctx, 1)

	if err := m.provider.SignOut(ctx); err != nil {
		log.Error().Err(err).Msg("sign out failed, forcing navigation to root")
		metrics.SessionSignOutFailuresTotal.Add(ctx, 1)
		navigate(RootPath)
	}

	if onExpire != nil {
		onExpire()
	}
}

// ExtendSession refreshes the identity token bypassing the cache and resets
// the idle timer. A failed refresh is logged and the timer is reset anyway.
func (m *Monitor) ExtendSession(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		log.Debug().Msg("session monitor not running, nothing to extend")
		return
	}
	epoch := m.epoch
	m.mu.Unlock()

	if _, err := m.provider.GetToken(ctx, identity.TokenOptions{SkipCache: true}); err != nil {
		log.Warn().Err(err).Msg("failed to refresh token while extending session")
	}

	m.mu.Lock()
	if m.epoch != epoch || !m.running {
		m.mu.Unlock()
		log.Debug().Msg("session ended while extending, ignoring")
		return
	}
	now := m.clock.Now()
	m.lastActivity = now
	m.lastTick = now
	m.warning = false
	m.remaining = m.cfg.Timeout
	m.mu.Unlock()

	telemetry.GetMetrics().SessionExtensionsTotal.Add(ctx, 1)
	log.Info().Msg("session extended")
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Monitor) stateLocked() State {
	switch {
	case m.expired:
		return StateExpired
	case !m.running:
		return StateIdle
	case m.warning:
		return StateWarning
	default:
		return StateActive
	}
}

// Activity returns the activity snapshot as of the last check.
func (m *Monitor) Activity() models.ActivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.ActivityState{
		LastActivity:     m.lastActivity,
		Warning:          m.warning,
		SecondsRemaining: countdownSeconds(m.remaining),
	}
}

// countdownSeconds rounds up to whole seconds.
func countdownSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
