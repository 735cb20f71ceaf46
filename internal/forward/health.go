package forward

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	libatm "github.com/nabbar/golib/atomic"
	liblog "github.com/nabbar/golib/logger"
	loglvl "github.com/nabbar/golib/logger/level"
	libsem "github.com/nabbar/golib/semaphore"
)

const (
	healthProbeTimeout  = 5 * time.Second
	healthCycleSleep    = 5 * time.Second
	healthMaxConcurrent = 32
)

type healthEntry struct {
	up          bool
	lastChanged time.Time
}

// HealthChecker is the background reachability prober (C5). It owns the
// process-wide host set and up/down status map, and is the sole writer of
// both; the manager starts its Loop under the shared task controller.
type HealthChecker struct {
	resolver *Resolver
	log      liblog.FuncLog

	mu     sync.RWMutex
	hosts  map[string]struct{}
	status libatm.MapTyped[string, healthEntry]
}

func NewHealthChecker(resolver *Resolver, log liblog.FuncLog) *HealthChecker {
	return &HealthChecker{
		resolver: resolver,
		log:      log,
		hosts:    make(map[string]struct{}),
		status:   libatm.NewMapTyped[string, healthEntry](),
	}
}

// Init replaces the global host set and clears the status map. It is
// seeded from plain-mode listener target sets collected across the whole
// config; SNI-mode targets are dynamic and are not registered here, so
// SNI backends are only checked by the per-connection dial timeout.
func (h *HealthChecker) Init(hosts []string) {
	next := make(map[string]struct{}, len(hosts))
	for _, hst := range hosts {
		next[hst] = struct{}{}
	}

	h.mu.Lock()
	h.hosts = next
	h.mu.Unlock()

	h.status = libatm.NewMapTyped[string, healthEntry]()
}

func (h *HealthChecker) snapshotHosts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.hosts))
	for hst := range h.hosts {
		out = append(out, hst)
	}
	return out
}

// Loop runs the periodic probing cycle until ctx is cancelled. It is
// spawned once by the manager under the shared task controller.
func (h *HealthChecker) Loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		h.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(healthCycleSleep):
		}
	}
}

func (h *HealthChecker) runCycle(ctx context.Context) {
	hosts := h.snapshotHosts()
	if len(hosts) == 0 {
		return
	}

	sem := libsem.New(ctx, healthMaxConcurrent, false)
	defer sem.DeferMain()

	var wg sync.WaitGroup
	for _, hst := range hosts {
		host := hst

		if err := sem.NewWorker(); err != nil {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.DeferWorker()

			up := h.probe(host)
			h.recordTransition(host, up)
		}()
	}
	wg.Wait()
}

func (h *HealthChecker) recordTransition(host string, up bool) {
	prev, ok := h.status.Load(host)
	if ok && prev.up == up {
		return
	}

	entry := healthEntry{up: up, lastChanged: time.Now()}
	h.status.Store(host, entry)

	if f := h.log; f != nil {
		lvl := loglvl.InfoLevel
		if !up {
			lvl = loglvl.WarnLevel
		}
		f().Entry(lvl, "health check transition").
			FieldAdd("host", host).
			FieldAdd("up", up).
			Log()
	}
}

// probe attempts a TCP connect to host (after resolver override) with a
// fixed per-probe timeout. Any error or timeout is treated as down.
func (h *HealthChecker) probe(host string) bool {
	target := h.resolver.Resolve(host)

	conn, err := net.DialTimeout("tcp", target, healthProbeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Select returns a uniformly random element of candidates marked up; if
// none are up, it returns a uniformly random element of the full list
// with ok=false (fail-open fallback, logged against listenerName).
// candidates must be non-empty.
func (h *HealthChecker) Select(listenerName string, candidates []string) (host string, ok bool) {
	up := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if e, found := h.status.Load(c); found && e.up {
			up = append(up, c)
		}
	}

	if len(up) > 0 {
		return up[rand.Intn(len(up))], true
	}

	host = candidates[rand.Intn(len(candidates))]

	if f := h.log; f != nil {
		f().Entry(loglvl.WarnLevel, "all targets down, fail-open selection").
			FieldAdd("listener", listenerName).
			FieldAdd("chosen", host).
			Log()
	}

	return host, false
}

// StatusFor returns the up/down state for host; unknown hosts report
// optimistically up=true so the first connection through an unprobed
// backend is not pre-emptively blocked.
func (h *HealthChecker) StatusFor(host string) (up bool, lastChanged time.Time) {
	if e, ok := h.status.Load(host); ok {
		return e.up, e.lastChanged
	}
	return true, time.Now()
}
