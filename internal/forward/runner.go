package forward

import (
	"context"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	libclo "github.com/nabbar/golib/ioutils/mapCloser"
	liblog "github.com/nabbar/golib/logger"
	loglvl "github.com/nabbar/golib/logger/level"
	libptc "github.com/nabbar/golib/network/protocol"
)

const (
	bindRetryCount    = 3
	bindRetryInterval = 100 * time.Millisecond
	startWait         = 1 * time.Second

	clientHelloHeaderTimeout = 3 * time.Second
	clientHelloReadBuf       = 1024

	backendConnectTimeout = 5 * time.Second

	pipeBufSize  = 4096
	watchdogTick = 500 * time.Millisecond
)

// listenerContext bundles a listener's name, compiled rules, stats handle
// and idle default so the per-connection worker never recomputes a lookup
// against the listener registry.
type listenerContext struct {
	name     string
	cfg      Listener
	stats    *ListenerStats
	maxIdle  time.Duration
	patterns []*regexp.Regexp
}

func newListenerContext(name string, cfg Listener, defaultMaxIdleMs uint64) (*listenerContext, error) {
	maxIdleMs := defaultMaxIdleMs
	if cfg.MaxIdleTimeMs != nil {
		maxIdleMs = *cfg.MaxIdleTimeMs
	}

	lc := &listenerContext{
		name:    name,
		cfg:     cfg,
		stats:   NewListenerStats(name, maxIdleMs),
		maxIdle: time.Duration(maxIdleMs) * time.Millisecond,
	}

	for _, p := range cfg.Rules.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		lc.patterns = append(lc.patterns, re)
	}

	return lc, nil
}

// isAllowed applies the SNI policy: ALLOW admits a host matching any
// static host or pattern, DENY admits a host matching none.
func (lc *listenerContext) isAllowed(sniHost string) bool {
	matched := lc.matchesRules(sniHost)

	switch lc.cfg.PolicyMode {
	case PolicyDeny:
		return !matched
	default: // PolicyAllow
		return matched
	}
}

func (lc *listenerContext) matchesRules(sniHost string) bool {
	lower := strings.ToLower(sniHost)
	for _, h := range lc.cfg.Rules.StaticHosts {
		if strings.ToLower(h) == lower {
			return true
		}
	}
	for _, re := range lc.patterns {
		if re.MatchString(sniHost) {
			return true
		}
	}
	return false
}

// Runner is the listener runtime (C8): one instance per configured
// listener, owning its accept loop and every per-connection worker it
// spawns under the shared task controller.
type Runner struct {
	lc       *listenerContext
	resolver *Resolver
	health   *HealthChecker
	active   *ActiveConnections
	selfIPs  map[string]struct{}
	group    *TaskGroup
	log      liblog.FuncLog

	// closer, when set, tracks the bound socket so the manager can close
	// every listener it owns on stop.
	closer libclo.Closer

	ln net.Listener
}

// NewRunner constructs a Runner for a single listener. selfIPs is the
// process-wide self-loop guard set from Options.SelfIPs.
func NewRunner(lc *listenerContext, resolver *Resolver, health *HealthChecker, active *ActiveConnections, selfIPs []string, group *TaskGroup, log liblog.FuncLog) *Runner {
	self := make(map[string]struct{}, len(selfIPs))
	for _, ip := range selfIPs {
		self[ip] = struct{}{}
	}

	return &Runner{
		lc:       lc,
		resolver: resolver,
		health:   health,
		active:   active,
		selfIPs:  self,
		group:    group,
		log:      log,
	}
}

func (r *Runner) logEntry(lvl loglvl.Level, msg string) {
	if r.log == nil {
		return
	}
	r.log().Entry(lvl, msg).
		FieldAdd("listener", r.lc.name).
		FieldAdd("bind", r.lc.cfg.Bind).
		Log()
}

func (r *Runner) logConn(lvl loglvl.Level, id ConnectionId, msg string) {
	if r.log == nil {
		return
	}
	r.log().Entry(lvl, msg).
		FieldAdd("listener", r.lc.name).
		FieldAdd("conn", uint64(id)).
		Log()
}

// Start binds the listener's address with up to bindRetryCount retries
// spaced bindRetryInterval apart (transient EADDRINUSE during fast
// restart), then spawns the accept loop under the task group. It blocks
// up to startWait for a bind success/failure signal.
func (r *Runner) Start(ctx context.Context) error {
	signal := make(chan error, 1)

	r.group.Spawn(func(gctx context.Context) {
		var (
			ln  net.Listener
			err error
		)

		for attempt := 0; attempt < bindRetryCount; attempt++ {
			ln, err = net.Listen(libptc.NetworkTCP.String(), r.lc.cfg.Bind)
			if err == nil {
				break
			}
			select {
			case <-gctx.Done():
				signal <- gctx.Err()
				return
			case <-time.After(bindRetryInterval):
			}
		}

		if err != nil {
			select {
			case signal <- err:
			default:
			}
			return
		}

		r.ln = ln
		if r.closer != nil {
			r.closer.Add(ln)
		}
		select {
		case signal <- nil:
		default:
		}

		// Accept blocks until the socket closes; closing it on
		// cancellation is what unblocks the loop below.
		go func() {
			<-gctx.Done()
			_ = ln.Close()
		}()

		r.acceptLoop(gctx)
	})

	select {
	case err := <-signal:
		return err
	case <-time.After(startWait):
		r.logEntry(loglvl.WarnLevel, "listener start cancelled: no signal within startWait, running asynchronously")
		return nil
	}
}

func (r *Runner) acceptLoop(ctx context.Context) {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			r.logEntry(loglvl.ErrorLevel, "accept error: "+err.Error())
			continue
		}

		peer := conn.RemoteAddr()
		if peer == nil {
			_ = conn.Close()
			continue
		}

		id := nextConnectionId()
		r.lc.stats.ConnOpened()
		r.active.Put(id, peer)

		r.group.Spawn(func(gctx context.Context) {
			defer func() {
				r.lc.stats.ConnClosed()
				r.active.Remove(id)
			}()

			if r.lc.cfg.IsSNI() {
				r.handleSNI(gctx, id, conn)
			} else {
				r.handlePlain(gctx, id, conn)
			}
		})
	}
}

// handlePlain runs the plain-mode per-connection worker.
func (r *Runner) handlePlain(ctx context.Context, id ConnectionId, client net.Conn) {
	defer func() { _ = client.Close() }()

	chosen, _ := r.health.Select(r.lc.name, r.lc.cfg.Targets)

	backendAddr := r.resolver.Resolve(chosen)

	backend, err := net.DialTimeout(libptc.NetworkTCP.String(), backendAddr, backendConnectTimeout)
	if err != nil {
		r.logConn(loglvl.ErrorLevel, id, "backend connect failed: "+err.Error())
		return
	}
	defer func() { _ = backend.Close() }()

	r.pipeConnection(ctx, id, client, backend)
}

// handleSNI runs the SNI-mode per-connection worker: peek the
// ClientHello, extract SNI, check policy, resolve + self-loop guard,
// dial, replay the captured bytes, then pipe like plain mode.
func (r *Runner) handleSNI(ctx context.Context, id ConnectionId, client net.Conn) {
	defer func() { _ = client.Close() }()

	hello, err := readClientHello(client)
	if err != nil {
		r.logConn(loglvl.DebugLevel, id, "client hello read failed: "+err.Error())
		return
	}

	sniHost, err := Parse(hello)
	if err != nil {
		r.logConn(loglvl.DebugLevel, id, "client hello parse failed: "+err.Error())
		return
	}

	if !r.lc.isAllowed(sniHost) {
		r.logConn(loglvl.InfoLevel, id, "sni host rejected by policy: "+sniHost)
		return
	}

	resolvedHost := r.resolver.Resolve(sniHost)
	backendAddr := net.JoinHostPort(resolvedHost, strconv.Itoa(int(r.lc.cfg.TargetPort)))

	if r.isSelfLoop(resolvedHost) {
		r.logConn(loglvl.WarnLevel, id, "self-loop rejected: "+backendAddr)
		return
	}

	backend, err := net.DialTimeout(libptc.NetworkTCP.String(), backendAddr, backendConnectTimeout)
	if err != nil {
		r.logConn(loglvl.ErrorLevel, id, "backend connect failed: "+err.Error())
		return
	}
	defer func() { _ = backend.Close() }()

	if _, err = backend.Write(hello); err != nil {
		r.logConn(loglvl.ErrorLevel, id, "client hello replay failed: "+err.Error())
		return
	}
	r.lc.stats.AddUploaded(int64(len(hello)))

	r.pipeConnection(ctx, id, client, backend)
}

// isSelfLoop resolves host to its candidate IPs and reports whether any of
// them equals a configured self IP.
func (r *Runner) isSelfLoop(host string) bool {
	if len(r.selfIPs) == 0 {
		return false
	}

	if ip := net.ParseIP(host); ip != nil {
		_, found := r.selfIPs[ip.String()]
		return found
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return false
	}
	for _, ip := range ips {
		if _, found := r.selfIPs[ip.String()]; found {
			return true
		}
	}
	return false
}

// readClientHello reads into a growing buffer until PreCheck passes, the
// header timeout expires, or EOF occurs.
func readClientHello(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(clientHelloHeaderTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, 0, clientHelloReadBuf)
	chunk := make([]byte, clientHelloReadBuf)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if PreCheck(buf) {
				return buf, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// pipeConnection spawns the upload/download pipe tasks and the idle
// watchdog under the task group, and blocks until all three have exited
// so the caller's defers (closing client/backend) run only once the
// connection is fully quiesced.
func (r *Runner) pipeConnection(ctx context.Context, id ConnectionId, client, backend net.Conn) {
	maxIdle := r.lc.maxIdle
	idle := NewIdleTracker(maxIdle)

	uploadDone := make(chan struct{})
	downloadDone := make(chan struct{})
	watchdogDone := make(chan struct{})

	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.group.Spawn(func(context.Context) {
		defer close(uploadDone)
		r.pipe(client, backend, r.lc.stats.AddUploaded, idle)
		_ = backend.Close()
	})

	r.group.Spawn(func(context.Context) {
		defer close(downloadDone)
		r.pipe(backend, client, r.lc.stats.AddDownloaded, idle)
		_ = client.Close()
	})

	r.group.Spawn(func(context.Context) {
		defer close(watchdogDone)
		r.watchdog(pipeCtx, id, idle, uploadDone, downloadDone, client, backend)
	})

	<-uploadDone
	<-downloadDone
	cancel()
	<-watchdogDone
}

// pipe copies bytes in one direction in pipeBufSize chunks, crediting the
// per-listener byte counter and marking idle activity after every
// successful write.
func (r *Runner) pipe(src io.Reader, dst io.Writer, addBytes func(int64), idle *IdleTracker) {
	buf := make([]byte, pipeBufSize)

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
			addBytes(int64(n))
			idle.Mark()
		}
		if rerr != nil {
			return
		}
	}
}

// watchdog enforces idle timeout and sibling-exit propagation (spec
// §4.8 "Idle watchdog"): every watchdogTick it checks whether either pipe
// has finished (then aborts the other by closing both sockets) or whether
// the idle tracker has expired.
func (r *Runner) watchdog(ctx context.Context, id ConnectionId, idle *IdleTracker, uploadDone, downloadDone <-chan struct{}, client, backend net.Conn) {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.abort(client, backend)
			return
		case <-uploadDone:
			r.abort(client, backend)
			return
		case <-downloadDone:
			r.abort(client, backend)
			return
		case <-ticker.C:
			if idle.IsExpired() {
				r.logConn(loglvl.InfoLevel, id, "idle timeout, aborting connection")
				r.abort(client, backend)
				return
			}
		}
	}
}

func (r *Runner) abort(client, backend net.Conn) {
	_ = client.Close()
	_ = backend.Close()
}
