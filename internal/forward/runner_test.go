package forward

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

// newTestRunner wires up a Runner with fresh process-wide-style registries
// scoped to the test, the way the manager does per listener.
func newTestRunner(t *testing.T, cfg Listener, resolver *Resolver, selfIPs []string) *Runner {
	t.Helper()

	lc, err := newListenerContext("test-listener", cfg, 60000)
	if err != nil {
		t.Fatalf("newListenerContext() error = %v", err)
	}

	health := NewHealthChecker(resolver, nil)
	active := NewActiveConnections()
	group := NewTaskGroup(context.Background())

	return NewRunner(lc, resolver, health, active, selfIPs, group, nil)
}

func startEchoBackend(t *testing.T) (addr string, closeFn func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start test backend: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

// TestRunnerPlainForwardsToHealthyBackend checks that a plain-mode
// listener forwards bytes to its configured backend and back.
func TestRunnerPlainForwardsToHealthyBackend(t *testing.T) {
	backendAddr, closeBackend := startEchoBackend(t)
	defer closeBackend()

	r := newTestRunner(t, Listener{
		Bind:    "127.0.0.1:0",
		Targets: []string{backendAddr},
	}, NewResolver(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client, err := net.Dial("tcp", r.ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = client.Close() }()

	payload := []byte("hello through the gateway")
	if _, err = client.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, len(payload))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err = io.ReadFull(client, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("echoed payload = %q, want %q", buf, payload)
	}
}

// TestRunnerSNIPolicyAllowRoutesMatchingHost checks that an ALLOW
// listener forwards a client whose SNI host matches a static host entry.
func TestRunnerSNIPolicyAllowRoutesMatchingHost(t *testing.T) {
	backendAddr, closeBackend := startEchoBackend(t)
	defer closeBackend()
	_, portStr, _ := net.SplitHostPort(backendAddr)

	resolver := NewResolver()
	resolver.Init(map[string]string{"example.test": "127.0.0.1"})

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		t.Fatalf("failed to parse backend port: %v", err)
	}

	r := newTestRunner(t, Listener{
		Bind:       "127.0.0.1:0",
		TargetPort: uint16(port),
		PolicyMode: PolicyAllow,
		Rules:      Rules{StaticHosts: []string{"example.test"}},
	}, resolver, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client, err := net.Dial("tcp", r.ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = client.Close() }()

	hello := buildClientHello(t, "example.test")
	if _, err = client.Write(hello); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, len(hello))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err = io.ReadFull(client, buf); err != nil {
		t.Fatalf("expected the replayed client hello to be echoed back: %v", err)
	}
}

// TestRunnerSNIPolicyDenyRejectsMatchingHost checks that a DENY
// listener closes the connection without dialing a backend when the SNI
// host matches the deny list.
func TestRunnerSNIPolicyDenyRejectsMatchingHost(t *testing.T) {
	resolver := NewResolver()
	resolver.Init(map[string]string{"blocked.test": "127.0.0.1"})

	r := newTestRunner(t, Listener{
		Bind:       "127.0.0.1:0",
		TargetPort: 9999,
		PolicyMode: PolicyDeny,
		Rules:      Rules{StaticHosts: []string{"blocked.test"}},
	}, resolver, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client, err := net.Dial("tcp", r.ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = client.Close() }()

	hello := buildClientHello(t, "blocked.test")
	if _, err = client.Write(hello); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, 1)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err = client.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after policy rejection")
	}
}

// TestRunnerSelfLoopGuardRejects checks that a resolved backend
// matching a configured self IP must be rejected before dialing.
func TestRunnerSelfLoopGuardRejects(t *testing.T) {
	resolver := NewResolver()
	resolver.Init(map[string]string{"loopback.test": "127.0.0.1"})

	r := newTestRunner(t, Listener{
		Bind:       "127.0.0.1:0",
		TargetPort: 9999,
		PolicyMode: PolicyAllow,
		Rules:      Rules{StaticHosts: []string{"loopback.test"}},
	}, resolver, []string{"127.0.0.1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client, err := net.Dial("tcp", r.ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = client.Close() }()

	hello := buildClientHello(t, "loopback.test")
	if _, err = client.Write(hello); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, 1)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err = client.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after self-loop rejection")
	}
}

// TestRunnerIdleTimeoutClosesConnection checks that a connection
// with no traffic for longer than max_idle_time_ms is aborted.
func TestRunnerIdleTimeoutClosesConnection(t *testing.T) {
	backendAddr, closeBackend := startEchoBackend(t)
	defer closeBackend()

	tiny := uint64(1)
	r := newTestRunner(t, Listener{
		Bind:          "127.0.0.1:0",
		Targets:       []string{backendAddr},
		MaxIdleTimeMs: &tiny,
	}, NewResolver(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client, err := net.Dial("tcp", r.ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = client.Close() }()

	buf := make([]byte, 1)
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err = client.Read(buf); err == nil {
		t.Fatalf("expected idle connection to be closed by the watchdog")
	}
}
