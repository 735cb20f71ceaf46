package forward

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigRoundTripsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tcpgate.yaml")

	if err := SaveConfig(path, Default()); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	l, ok := cfg.Listeners["example-plain"]
	if !ok {
		t.Fatalf("expected example-plain listener to survive round trip")
	}
	if l.Bind != "0.0.0.0:8080" {
		t.Fatalf("Bind = %q, want 0.0.0.0:8080", l.Bind)
	}
	if l.IsSNI() {
		t.Fatalf("example-plain listener must not report SNI mode")
	}
}

func TestValidateRejectsMixedModeListener(t *testing.T) {
	cfg := &Config{
		Listeners: map[string]Listener{
			"bad": {
				Bind:       "0.0.0.0:8080",
				Targets:    []string{"127.0.0.1:9090"},
				TargetPort: 443,
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for mixed-mode listener")
	}
}

func TestValidateRejectsEmptyListener(t *testing.T) {
	cfg := &Config{
		Listeners: map[string]Listener{
			"bad": {Bind: "0.0.0.0:8080"},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for listener with no targets or sni config")
	}
}

func TestValidateRejectsSNIWithoutTargetPort(t *testing.T) {
	cfg := &Config{
		Listeners: map[string]Listener{
			"bad": {
				Bind:       "0.0.0.0:8443",
				PolicyMode: PolicyAllow,
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for sni listener missing target_port")
	}
}

func TestValidateAcceptsWellFormedSNIListener(t *testing.T) {
	cfg := &Config{
		Listeners: map[string]Listener{
			"good": {
				Bind:       "0.0.0.0:8443",
				TargetPort: 443,
				PolicyMode: PolicyAllow,
				Rules:      Rules{StaticHosts: []string{"example.com"}},
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRequiresBind(t *testing.T) {
	cfg := &Config{
		Listeners: map[string]Listener{
			"bad": {Targets: []string{"127.0.0.1:9090"}},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing bind")
	}
}

func TestLoadDNSOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dns.json")

	if err := os.WriteFile(path, []byte(`{"Svc.Internal":"10.0.0.5:8080"}`), 0o644); err != nil {
		t.Fatalf("setup WriteFile() error = %v", err)
	}

	out, err := LoadDNSOverrideFile(path)
	if err != nil {
		t.Fatalf("LoadDNSOverrideFile() error = %v", err)
	}
	if out["svc.internal"] != "10.0.0.5:8080" {
		t.Fatalf("expected lower-cased key, got %+v", out)
	}
}

func TestLoadDNSOverrideFileRejectsNonStringValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dns.json")

	if err := os.WriteFile(path, []byte(`{"svc.internal": 123}`), 0o644); err != nil {
		t.Fatalf("setup WriteFile() error = %v", err)
	}

	if _, err := LoadDNSOverrideFile(path); err == nil {
		t.Fatalf("expected error for non-string override value")
	}
}

func TestHealthTargetsDedupesAcrossListenersAndSkipsSNI(t *testing.T) {
	cfg := &Config{
		Listeners: map[string]Listener{
			"plain-a": {Bind: "0.0.0.0:8080", Targets: []string{"10.0.0.1:9090", "10.0.0.2:9090"}},
			"plain-b": {Bind: "0.0.0.0:8081", Targets: []string{"10.0.0.1:9090"}},
			"sni-a":   {Bind: "0.0.0.0:8443", TargetPort: 443, PolicyMode: PolicyAllow},
		},
	}

	targets := cfg.HealthTargets()
	if len(targets) != 2 {
		t.Fatalf("HealthTargets() = %v, want 2 deduped entries", targets)
	}
}

func TestIsSNIDetectsEitherField(t *testing.T) {
	if (Listener{}).IsSNI() {
		t.Fatalf("zero-value listener must not report SNI mode")
	}
	if !(Listener{TargetPort: 443}).IsSNI() {
		t.Fatalf("listener with target_port must report SNI mode")
	}
	if !(Listener{PolicyMode: PolicyDeny}).IsSNI() {
		t.Fatalf("listener with policy must report SNI mode")
	}
}
