package forward

import (
	"context"
	"testing"
)

func TestManagerStartReportsPerListenerOutcome(t *testing.T) {
	backendAddr, closeBackend := startEchoBackend(t)
	defer closeBackend()

	mgr := NewManager(context.Background(), nil)
	defer mgr.Stop()

	cfg := &Config{
		Listeners: map[string]Listener{
			"plain": {Bind: "127.0.0.1:0", Targets: []string{backendAddr}},
		},
		Options: Options{MaxIdleTimeMs: 60000},
	}

	status, err := mgr.Start(cfg)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	out, ok := status["plain"]
	if !ok || !out.OK {
		t.Fatalf("status[plain] = %+v, want OK=true", out)
	}
	if mgr.GetRunStatus() != StateStarted {
		t.Fatalf("GetRunStatus() = %v, want STARTED", mgr.GetRunStatus())
	}

	stats := mgr.GetListenerStats()
	if _, ok = stats["plain"]; !ok {
		t.Fatalf("expected stats entry for the plain listener")
	}
}

func TestManagerStartRejectedWhenAlreadyStarted(t *testing.T) {
	mgr := NewManager(context.Background(), nil)
	defer mgr.Stop()

	cfg := &Config{
		Listeners: map[string]Listener{
			"plain": {Bind: "127.0.0.1:0", Targets: []string{"127.0.0.1:1"}},
		},
	}

	if _, err := mgr.Start(cfg); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}

	if _, err := mgr.Start(cfg); err == nil {
		t.Fatalf("expected second Start() to fail while already STARTED")
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	mgr := NewManager(context.Background(), nil)

	mgr.Stop()
	mgr.Stop()

	if mgr.GetRunStatus() != StateStopped {
		t.Fatalf("GetRunStatus() = %v, want STOPPED", mgr.GetRunStatus())
	}
}

// TestManagerReconfigureAppliesNewListenerSet checks that applying
// a new configuration tears down listeners absent from it and stands up
// ones newly present.
func TestManagerReconfigureAppliesNewListenerSet(t *testing.T) {
	backendAddr, closeBackend := startEchoBackend(t)
	defer closeBackend()

	mgr := NewManager(context.Background(), nil)
	defer mgr.Stop()

	first := &Config{
		Listeners: map[string]Listener{
			"a": {Bind: "127.0.0.1:0", Targets: []string{backendAddr}},
		},
	}
	if _, err := mgr.Start(first); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	second := &Config{
		Listeners: map[string]Listener{
			"b": {Bind: "127.0.0.1:0", Targets: []string{backendAddr}},
		},
	}
	status, err := mgr.Reconfigure(second)
	if err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}

	if _, ok := status["a"]; ok {
		t.Fatalf("listener \"a\" should be gone after reconfigure, got %+v", status)
	}
	out, ok := status["b"]
	if !ok || !out.OK {
		t.Fatalf("status[b] = %+v, want OK=true", out)
	}

	stats := mgr.GetListenerStats()
	if _, ok = stats["a"]; ok {
		t.Fatalf("stats for listener \"a\" should be cleared after reconfigure")
	}
	if _, ok = stats["b"]; !ok {
		t.Fatalf("expected stats entry for listener \"b\" after reconfigure")
	}
}
