package forward

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	libval "github.com/go-playground/validator/v10"
	liberr "github.com/nabbar/golib/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Policy is the SNI allow/deny list discipline.
type Policy string

const (
	PolicyAllow Policy = "ALLOW"
	PolicyDeny  Policy = "DENY"
)

// Rules holds the static-host set and ordered regex patterns an SNI-mode
// listener checks a client's requested host name against.
type Rules struct {
	StaticHosts []string `mapstructure:"static_hosts" yaml:"static_hosts" json:"static_hosts"`
	Patterns    []string `mapstructure:"patterns" yaml:"patterns" json:"patterns"`
}

// Listener is a tagged variant over the two listener modes: plain mode
// forwards to a random member of Targets, SNI mode extracts the
// ClientHello's server name and applies Policy/Rules before dialing
// <resolved-sni>:TargetPort.
type Listener struct {
	Bind string `mapstructure:"bind" yaml:"bind" json:"bind" validate:"required"`

	// Plain mode.
	Targets []string `mapstructure:"targets" yaml:"targets,omitempty" json:"targets,omitempty"`

	// SNI mode.
	TargetPort    uint16  `mapstructure:"target_port" yaml:"target_port,omitempty" json:"target_port,omitempty"`
	PolicyMode    Policy  `mapstructure:"policy" yaml:"policy,omitempty" json:"policy,omitempty" validate:"omitempty,oneof=ALLOW DENY"`
	Rules         Rules   `mapstructure:"rules" yaml:"rules,omitempty" json:"rules,omitempty"`
	MaxIdleTimeMs *uint64 `mapstructure:"max_idle_time_ms" yaml:"max_idle_time_ms,omitempty" json:"max_idle_time_ms,omitempty"`
}

// IsSNI reports whether this listener is configured in SNI-aware mode.
func (l Listener) IsSNI() bool {
	return l.TargetPort != 0 || l.PolicyMode != ""
}

// Options are the process-wide knobs shared by every listener.
type Options struct {
	LogConfigFile      string   `mapstructure:"log_config_file" yaml:"log_config_file,omitempty" json:"log_config_file,omitempty"`
	HealthCheckTimeout uint64   `mapstructure:"health_check_timeout_ms" yaml:"health_check_timeout_ms" json:"health_check_timeout_ms"`
	MaxIdleTimeMs      uint64   `mapstructure:"max_idle_time_ms" yaml:"max_idle_time_ms" json:"max_idle_time_ms"`
	SelfIPs            []string `mapstructure:"self_ips" yaml:"self_ips,omitempty" json:"self_ips,omitempty"`
}

// BasicAuth is the admin plane's optional Basic-auth credential pair.
type BasicAuth struct {
	Username string `mapstructure:"username" yaml:"username,omitempty" json:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty" json:"password,omitempty"`
}

// AdminTLS is the admin plane's optional TLS/mTLS material, file paths
// on disk rather than inline PEM.
type AdminTLS struct {
	CertFile          string `mapstructure:"cert_file" yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile           string `mapstructure:"key_file" yaml:"key_file,omitempty" json:"key_file,omitempty"`
	ClientCAFile      string `mapstructure:"client_ca_file" yaml:"client_ca_file,omitempty" json:"client_ca_file,omitempty"`
	RequireClientCert bool   `mapstructure:"require_client_cert" yaml:"require_client_cert,omitempty" json:"require_client_cert,omitempty"`

	// VersionMin/VersionMax restrict the negotiated TLS version (e.g. "1.2",
	// "1.3"); CipherList/CurveList restrict the cipher suites and elliptic
	// curves offered, all parsed by the certificates/tlsversion,
	// certificates/cipher and certificates/curves packages. Empty values
	// leave the certificates package's own defaults in place.
	VersionMin string   `mapstructure:"version_min" yaml:"version_min,omitempty" json:"version_min,omitempty"`
	VersionMax string   `mapstructure:"version_max" yaml:"version_max,omitempty" json:"version_max,omitempty"`
	CipherList []string `mapstructure:"cipher_list" yaml:"cipher_list,omitempty" json:"cipher_list,omitempty"`
	CurveList  []string `mapstructure:"curve_list" yaml:"curve_list,omitempty" json:"curve_list,omitempty"`
}

// AdminServerConfig configures the external admin control plane (C10).
type AdminServerConfig struct {
	Bind   string     `mapstructure:"bind" yaml:"bind" json:"bind" validate:"required"`
	Auth   *BasicAuth `mapstructure:"auth" yaml:"auth,omitempty" json:"auth,omitempty"`
	TLS    *AdminTLS  `mapstructure:"tls" yaml:"tls,omitempty" json:"tls,omitempty"`
	Assets string     `mapstructure:"assets" yaml:"assets,omitempty" json:"assets,omitempty"`
}

// Config is the root, immutable configuration snapshot.
type Config struct {
	Listeners   map[string]Listener `mapstructure:"listeners" yaml:"listeners" json:"listeners" validate:"required,dive"`
	Options     Options             `mapstructure:"options" yaml:"options" json:"options"`
	DNS         map[string]string   `mapstructure:"dns" yaml:"dns,omitempty" json:"dns,omitempty"`
	AdminServer *AdminServerConfig  `mapstructure:"admin_server" yaml:"admin_server,omitempty" json:"admin_server,omitempty"`
}

var validate = libval.New()

// Validate runs struct-tag validation over the loaded configuration and a
// handful of cross-field checks the tags cannot express (a listener must
// be either plain or SNI mode, never neither or both ambiguous).
func (c *Config) Validate() liberr.Error {
	if err := validate.Struct(c); err != nil {
		return liberr.New(uint16(ErrConfigValidate), "", err)
	}

	for name, l := range c.Listeners {
		sni := l.IsSNI()
		if sni && len(l.Targets) > 0 {
			return liberr.New(uint16(ErrConfigValidate), fmt.Sprintf("listener %q: mixes SNI-mode and plain-mode fields", name))
		}
		if !sni && l.TargetPort == 0 && len(l.Targets) == 0 {
			return liberr.New(uint16(ErrConfigValidate), fmt.Sprintf("listener %q: neither targets nor target_port/policy configured", name))
		}
		if sni && l.TargetPort == 0 {
			return liberr.New(uint16(ErrConfigValidate), fmt.Sprintf("listener %q: sni mode requires target_port", name))
		}
	}

	return nil
}

// LoadConfig reads and validates the YAML configuration file at path
// through a freshly scoped viper.Viper.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, liberr.New(uint16(ErrConfigLoad), "", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, liberr.New(uint16(ErrConfigParse), "", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveConfig rewrites the configuration to path as canonical YAML; the
// admin plane calls this on every config mutation.
func SaveConfig(path string, cfg *Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return liberr.New(uint16(ErrConfigParse), "", err)
	}

	if err = os.WriteFile(path, b, 0o644); err != nil {
		return liberr.New(uint16(ErrConfigLoad), "", err)
	}

	return nil
}

// LoadDNSOverrideFile loads the flat-JSON DNS override file: a JSON
// object mapping hostname to override hostname, keys lower-cased on
// load, non-string values rejected.
func LoadDNSOverrideFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, liberr.New(uint16(ErrDNSOverrideLoad), "", err)
	}

	var generic map[string]interface{}
	if err = json.Unmarshal(raw, &generic); err != nil {
		return nil, liberr.New(uint16(ErrDNSOverrideLoad), "", err)
	}

	out := make(map[string]string, len(generic))
	for k, v := range generic {
		s, ok := v.(string)
		if !ok {
			return nil, liberr.New(uint16(ErrDNSOverrideLoad), fmt.Sprintf("dns override: value for %q is not a string", k))
		}
		out[strings.ToLower(k)] = s
	}

	return out, nil
}

// Default returns a minimal starter configuration, used by the `config
// init` CLI subcommand to write a documented on-disk schema example.
func Default() *Config {
	return &Config{
		Listeners: map[string]Listener{
			"example-plain": {
				Bind:    "0.0.0.0:8080",
				Targets: []string{"127.0.0.1:9090"},
			},
		},
		Options: Options{
			HealthCheckTimeout: 5000,
			MaxIdleTimeMs:      300000,
			SelfIPs:            []string{"127.0.0.1"},
		},
		DNS: map[string]string{},
	}
}

// HealthTargets collects every target reachable from any plain-mode
// listener in the config, used to seed the health checker's registry.
// SNI-mode targets are dynamic and stay unregistered.
func (c *Config) HealthTargets() []string {
	seen := map[string]struct{}{}
	var out []string

	for _, l := range c.Listeners {
		if l.IsSNI() {
			continue
		}
		for _, t := range l.Targets {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}
