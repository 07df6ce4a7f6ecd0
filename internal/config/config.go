// Package config loads fleetgate configuration and resolves per-instance
// connection targets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fleetgate/internal/types"
)

// Defaults applied to omitted fields.
const (
	defaultGatewayHTTPPort = 18789
	defaultCacheTTL        = 15 * time.Second
	defaultCommandTimeout  = 30 * time.Second
	defaultRetryAttempts   = 1
)

// defaultProbePorts are tried, in order, by the direct TCP reachability probe.
var defaultProbePorts = []int{18789, 18790, 22}

// Config is the complete server configuration.
type Config struct {
	// DefaultTarget is the process-wide fallback used when an instance has no
	// target of its own.
	DefaultTarget *types.RemoteTarget `yaml:"default_target"`

	// Instances maps logical instance identifiers to their connection targets.
	Instances map[string]types.RemoteTarget `yaml:"instances"`

	// GatewayHTTPPort is where the gateway's own HTTP API listens on the
	// target host.
	GatewayHTTPPort int `yaml:"gateway_http_port"`

	// ProbePorts are tried by the direct TCP reachability probe.
	ProbePorts []int `yaml:"probe_ports"`

	CacheTTLSeconds       int `yaml:"cache_ttl_seconds"`
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
	RetryAttempts         int `yaml:"retry_attempts"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes, applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GatewayHTTPPort == 0 {
		c.GatewayHTTPPort = defaultGatewayHTTPPort
	}
	if len(c.ProbePorts) == 0 {
		c.ProbePorts = append([]int(nil), defaultProbePorts...)
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = int(defaultCacheTTL / time.Second)
	}
	if c.CommandTimeoutSeconds == 0 {
		c.CommandTimeoutSeconds = int(defaultCommandTimeout / time.Second)
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
}

func (c *Config) validate() error {
	if c.DefaultTarget != nil && c.DefaultTarget.Host == "" {
		return fmt.Errorf("default_target: host is required")
	}
	for id, t := range c.Instances {
		if t.Host == "" {
			return fmt.Errorf("instance %q: host is required", id)
		}
	}
	return nil
}

// CacheTTL returns the node-list cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// CommandTimeout returns the per-session remote command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// Resolver resolves the concrete remote target for a logical instance.
type Resolver struct {
	cfg *Config
}

// NewResolver returns a Resolver backed by cfg.
func NewResolver(cfg *Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns the connection target for instanceID: the per-instance
// record if one exists, otherwise the process-wide default. The second return
// is false when neither is configured; callers must short-circuit with
// types.ErrNoTarget and attempt no connection.
func (r *Resolver) Resolve(instanceID string) (types.RemoteTarget, bool) {
	if t, ok := r.cfg.Instances[instanceID]; ok {
		return t, true
	}
	if r.cfg.DefaultTarget != nil {
		return *r.cfg.DefaultTarget, true
	}
	return types.RemoteTarget{}, false
}
