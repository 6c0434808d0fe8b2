// Package config loads the controller's config.yaml and applies
// environment overrides and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the controller configuration.
type Config struct {
	// DataDir is the filesystem root for workspaces, caches, artifacts,
	// logs and the sqlite database.
	DataDir string `yaml:"data_dir"`

	// DockerHost overrides the Docker control socket address
	// (e.g. "unix:///var/run/docker.sock"). Empty uses the environment.
	DockerHost string `yaml:"docker_host,omitempty"`

	// APISocket is the unix socket path for the control API.
	// Defaults to <data_dir>/easycicd.sock.
	APISocket string `yaml:"api_socket,omitempty"`

	// ProxyAddr is the listen address of the reverse proxy router.
	ProxyAddr string `yaml:"proxy_addr"`

	// BaseDomain is the domain suffix the router matches against
	// (e.g. "example.com" for "myapp-app.example.com").
	BaseDomain string `yaml:"base_domain"`

	// GatewayAddr is the host-reachable address used to reach sibling
	// containers' published ports. When the controller itself runs in a
	// container this is the Docker bridge gateway; on a bare host it is
	// 127.0.0.1.
	GatewayAddr string `yaml:"gateway_addr,omitempty"`

	// PortRange bounds host port allocation for project slots and
	// named containers.
	PortRange PortRange `yaml:"port_range"`

	// Health configures deployment health probing.
	Health HealthConfig `yaml:"health"`

	// Workers is the number of concurrent build workers.
	Workers int `yaml:"workers,omitempty"`

	// BuildTimeout bounds a single build. Zero means no timeout.
	BuildTimeout time.Duration `yaml:"build_timeout,omitempty"`

	// HostPaths maps path prefixes as seen by the controller to the
	// host's view, for bind mounts when the controller itself runs in
	// a container. Empty means paths are passed through unchanged.
	HostPaths map[string]string `yaml:"host_paths,omitempty"`

	// RouterCacheTTL bounds how stale the router's project cache may be.
	RouterCacheTTL time.Duration `yaml:"router_cache_ttl,omitempty"`

	// LogRetentionDays is how long daily debug logs are kept.
	LogRetentionDays int `yaml:"log_retention_days,omitempty"`
}

// PortRange is an inclusive host port range.
type PortRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// HealthConfig configures the deployer's health probe loop.
type HealthConfig struct {
	// Attempts is the number of probe attempts before the deployment
	// is drained and aborted.
	Attempts int `yaml:"attempts,omitempty"`

	// Interval is the wait between attempts.
	Interval time.Duration `yaml:"interval,omitempty"`

	// Timeout bounds a single probe request.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Default returns the default configuration rooted at dir.
func Default(dir string) *Config {
	cfg := &Config{
		DataDir:   dir,
		ProxyAddr: ":8000",
		PortRange: PortRange{Start: 10000, End: 10999},
		Health: HealthConfig{
			Attempts: 30,
			Interval: time.Second,
			Timeout:  3 * time.Second,
		},
		Workers:          2,
		BaseDomain:       "localhost",
		GatewayAddr:      "127.0.0.1",
		RouterCacheTTL:   time.Second,
		LogRetentionDays: 7,
	}
	cfg.APISocket = filepath.Join(dir, "easycicd.sock")
	return cfg
}

// DefaultDataDir returns ~/.easycicd, falling back to ./.easycicd when the
// home directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".easycicd")
	}
	return filepath.Join(home, ".easycicd")
}

// Load reads config.yaml under dir (if present), applies environment
// overrides and validates the result.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = DefaultDataDir()
	}
	cfg := Default(dir)

	path := filepath.Join(dir, "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		defaultSocket := cfg.APISocket
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		// The file may redeclare data_dir; keep derived defaults coherent.
		if cfg.DataDir == "" {
			cfg.DataDir = dir
		}
		if cfg.APISocket == "" || (cfg.APISocket == defaultSocket && cfg.DataDir != dir) {
			cfg.APISocket = filepath.Join(cfg.DataDir, "easycicd.sock")
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EASYCICD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EASYCICD_DOCKER_HOST"); v != "" {
		cfg.DockerHost = v
	}
	if v := os.Getenv("EASYCICD_PROXY_ADDR"); v != "" {
		cfg.ProxyAddr = v
	}
	if v := os.Getenv("EASYCICD_BASE_DOMAIN"); v != "" {
		cfg.BaseDomain = v
	}
	if v := os.Getenv("EASYCICD_GATEWAY_ADDR"); v != "" {
		cfg.GatewayAddr = v
	}
	if v := os.Getenv("EASYCICD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.PortRange.Start <= 0 || c.PortRange.End > 65535 {
		return fmt.Errorf("port_range %d-%d out of bounds", c.PortRange.Start, c.PortRange.End)
	}
	if c.PortRange.End < c.PortRange.Start+1 {
		return fmt.Errorf("port_range must span at least two ports for a slot pair")
	}
	if c.BaseDomain == "" {
		return fmt.Errorf("base_domain must be set")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Health.Attempts < 1 {
		return fmt.Errorf("health.attempts must be at least 1")
	}
	return nil
}
