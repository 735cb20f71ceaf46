package forward

import (
	"context"
	"fmt"
	"sync"

	liberr "github.com/nabbar/golib/errors"
	libclo "github.com/nabbar/golib/ioutils/mapCloser"
	liblog "github.com/nabbar/golib/logger"
	loglvl "github.com/nabbar/golib/logger/level"
)

// ManagerState is the lifecycle state machine value.
type ManagerState int

const (
	StateStopped ManagerState = iota
	StateStarting
	StateStarted
	StateStopping
)

func (s ManagerState) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}

// ListenerOutcome is the recorded result of a listener's most recent start
// attempt. Only the most recent outcome is kept; liveness after a
// successful bind is not tracked here.
type ListenerOutcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Manager is the lifecycle orchestrator (C9): it owns the resolver, health
// checker, active-connection tracker, listener stats registry and task
// controller, and drives them all through start()/stop().
type Manager struct {
	mu sync.Mutex

	state ManagerState

	resolver *Resolver
	health   *HealthChecker
	active   *ActiveConnections
	group    *TaskGroup
	closer   libclo.Closer
	log      liblog.FuncLog

	stats   map[string]*ListenerStats
	status  map[string]ListenerOutcome
	runners map[string]*Runner
	cfg     *Config
	rootCtx context.Context
}

// NewManager constructs a Manager bound to the given background context,
// which is the parent of every task spawned through the task controller.
func NewManager(ctx context.Context, log liblog.FuncLog) *Manager {
	return &Manager{
		state:    StateStopped,
		active:   NewActiveConnections(),
		resolver: NewResolver(),
		log:      log,
		stats:    make(map[string]*ListenerStats),
		status:   make(map[string]ListenerOutcome),
		runners:  make(map[string]*Runner),
		rootCtx:  ctx,
	}
}

func (m *Manager) logEntry(lvl loglvl.Level, msg string) {
	if m.log == nil {
		return
	}
	m.log().Entry(lvl, msg).FieldAdd("component", "manager").Log()
}

// GetRunStatus returns the current lifecycle state.
func (m *Manager) GetRunStatus() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetListenerStats returns a snapshot of every running listener's stats.
func (m *Manager) GetListenerStats() map[string]ListenerStatsView {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ListenerStatsView, len(m.stats))
	for name, s := range m.stats {
		out[name] = s.Snapshot()
	}
	return out
}

// GetListenerStatus returns the map of last start outcomes.
func (m *Manager) GetListenerStatus() map[string]ListenerOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ListenerOutcome, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// Start brings up the whole data plane: it requires STOPPED (failing
// with a lifecycle error otherwise), initializes the resolver and health
// checker registries, resets the active-connection tracker, starts the
// health-checker loop, then binds every configured listener, awaiting
// each one's started-or-failed signal before returning the status map.
func (m *Manager) Start(cfg *Config) (map[string]ListenerOutcome, error) {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return nil, liberr.New(uint16(ErrLifecycle), "manager still running")
	}
	m.state = StateStarting
	m.stats = make(map[string]*ListenerStats)
	m.status = make(map[string]ListenerOutcome)
	m.runners = make(map[string]*Runner)
	m.cfg = cfg
	m.mu.Unlock()

	m.logEntry(loglvl.InfoLevel, "starting manager")

	ctx := m.rootCtx
	m.group = NewTaskGroup(ctx)
	m.closer = libclo.New(ctx)

	// Startup ordering: resolver init precedes health-checker start
	// precedes listener starts.
	m.resolver.Init(cfg.DNS)
	m.health = NewHealthChecker(m.resolver, m.log)
	m.health.Init(cfg.HealthTargets())
	m.active.Reset()

	m.group.Spawn(func(gctx context.Context) {
		m.health.Loop(gctx)
	})

	defaultMaxIdle := cfg.Options.MaxIdleTimeMs
	selfIPs := cfg.Options.SelfIPs

	status := make(map[string]ListenerOutcome, len(cfg.Listeners))
	stats := make(map[string]*ListenerStats, len(cfg.Listeners))
	runners := make(map[string]*Runner, len(cfg.Listeners))

	for name, lcfg := range cfg.Listeners {
		lc, err := newListenerContext(name, lcfg, defaultMaxIdle)
		if err != nil {
			status[name] = ListenerOutcome{OK: false, Error: err.Error()}
			continue
		}

		runner := NewRunner(lc, m.resolver, m.health, m.active, selfIPs, m.group, m.log)
		runner.closer = m.closer

		if err = runner.Start(ctx); err != nil {
			status[name] = ListenerOutcome{OK: false, Error: err.Error()}
			m.logEntry(loglvl.ErrorLevel, fmt.Sprintf("listener %q failed to bind: %s", name, err.Error()))
			continue
		}

		status[name] = ListenerOutcome{OK: true}
		stats[name] = lc.stats
		runners[name] = runner
	}

	m.mu.Lock()
	m.status = status
	m.stats = stats
	m.runners = runners
	m.state = StateStarted
	m.mu.Unlock()

	m.logEntry(loglvl.InfoLevel, "manager started")
	return status, nil
}

// Stop is a no-op if already STOPPED,
// otherwise it clears registries, cancels the task controller (aborting
// every accept loop, pipe, watchdog and the health-checker loop), and
// closes tracked resources via the closer.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	group := m.group
	closer := m.closer
	m.mu.Unlock()

	m.logEntry(loglvl.InfoLevel, "stopping manager")

	m.mu.Lock()
	m.stats = make(map[string]*ListenerStats)
	m.runners = make(map[string]*Runner)
	m.active.Reset()
	m.mu.Unlock()

	if group != nil {
		group.Cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()

	m.logEntry(loglvl.InfoLevel, "manager stopped")
}

// Reconfigure orchestrates Stop then Start with the new configuration.
// The manager does not itself watch files; the admin plane calls this
// to apply a new configuration.
func (m *Manager) Reconfigure(cfg *Config) (map[string]ListenerOutcome, error) {
	m.Stop()
	return m.Start(cfg)
}
