package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dirkpetersen/ober/pkg/vip"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// HA mode selects which mechanism directs traffic at the cluster.
// Exactly one is active per deployment.
const (
	HAModeBGP        = "bgp"
	HAModeKeepalived = "keepalived"
)

// Managed systemd unit names.
const (
	ServiceHTTP = "ober-http" // HAProxy
	ServiceBGP  = "ober-bgp"  // ExaBGP
	ServiceHA   = "ober-ha"   // keepalived
)

// VIPConfig is a single virtual IP, optionally with a CIDR prefix.
type VIPConfig struct {
	Address string `yaml:"address" envconfig:"ADDRESS"`
}

// BackendConfig describes one HAProxy backend pool.
type BackendConfig struct {
	Name      string   `yaml:"name"`
	Port      int      `yaml:"port"`
	Servers   []string `yaml:"servers"`
	CheckPath string   `yaml:"check_path"`
}

// BGPConfig holds the ExaBGP announcement settings.
type BGPConfig struct {
	Neighbors []string `yaml:"neighbors" envconfig:"NEIGHBORS"`
	LocalAS   int      `yaml:"local_as" envconfig:"LOCAL_AS"`
	PeerAS    int      `yaml:"peer_as" envconfig:"PEER_AS"`
	RouterID  string   `yaml:"router_id" envconfig:"ROUTER_ID"`
}

// KeepalivedConfig holds the VRRP failover settings.
type KeepalivedConfig struct {
	Peers        []string `yaml:"peers" envconfig:"PEERS"`
	Interface    string   `yaml:"interface" envconfig:"INTERFACE"`
	UseMulticast bool     `yaml:"use_multicast" envconfig:"USE_MULTICAST"`
	AdvertInt    int      `yaml:"advert_int" envconfig:"ADVERT_INT"`
}

// ExporterConfig holds the settings for the monitoring endpoint.
type ExporterConfig struct {
	Listen         string  `yaml:"listen" envconfig:"LISTEN"`
	AuthToken      string  `yaml:"auth_token" envconfig:"AUTH_TOKEN"`
	RateLimit      float64 `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
}

// CertsConfig points at the PEM bundle HAProxy terminates TLS with.
type CertsConfig struct {
	Path string `yaml:"path" envconfig:"PATH"`
}

// Config holds the full ober configuration.
type Config struct {
	HAMode      string           `yaml:"ha_mode" envconfig:"HA_MODE"`
	Nodes       string           `yaml:"nodes" envconfig:"NODES"`
	VIPs        []VIPConfig      `yaml:"vips"`
	Backends    []BackendConfig  `yaml:"backends"`
	BGP         BGPConfig        `yaml:"bgp"`
	Keepalived  KeepalivedConfig `yaml:"keepalived"`
	Certs       CertsConfig      `yaml:"certs"`
	Exporter    ExporterConfig   `yaml:"exporter"`
	StatsPort   int              `yaml:"stats_port" envconfig:"STATS_PORT"`
	InstallPath string           `yaml:"install_path" envconfig:"INSTALL_PATH"`
}

// Load reads the configuration from a YAML file and then overrides
// values from OBER_* environment variables. A missing file is not an
// error; the configuration may be provided entirely by environment.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
		}
	}

	if err := envconfig.Process("ober", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HAMode == "" {
		c.HAMode = HAModeBGP
	}
	if c.StatsPort == 0 {
		c.StatsPort = 8404
	}
	if c.InstallPath == "" {
		c.InstallPath = "/etc/ober"
	}
	if c.Keepalived.AdvertInt <= 0 {
		c.Keepalived.AdvertInt = 1
	}
	if c.Exporter.Listen == "" {
		c.Exporter.Listen = "127.0.0.1:9144"
	}
	if c.Exporter.RateLimit <= 0 {
		c.Exporter.RateLimit = 5
	}
	if c.Exporter.RateLimitBurst <= 0 {
		c.Exporter.RateLimitBurst = 10
	}
}

// Validate checks the fields that must be well-formed before any
// command acts on the configuration.
func (c *Config) Validate() error {
	if c.HAMode != HAModeBGP && c.HAMode != HAModeKeepalived {
		return fmt.Errorf("invalid ha_mode %q: must be %q or %q", c.HAMode, HAModeBGP, HAModeKeepalived)
	}
	for _, v := range c.VIPs {
		if err := vip.Validate(v.Address); err != nil {
			return fmt.Errorf("invalid vip: %w", err)
		}
	}
	return nil
}

// ConfigPath is the location of the ober.yaml file itself.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.InstallPath, "ober.yaml")
}

// HAProxyConfigPath is the rendered HAProxy configuration.
func (c *Config) HAProxyConfigPath() string {
	return filepath.Join(c.InstallPath, "haproxy", "haproxy.cfg")
}

// KeepalivedConfigPath is the rendered keepalived configuration.
func (c *Config) KeepalivedConfigPath() string {
	return filepath.Join(c.InstallPath, "keepalived", "keepalived.conf")
}

// BGPConfigPath is the rendered ExaBGP configuration.
func (c *Config) BGPConfigPath() string {
	return filepath.Join(c.InstallPath, "exabgp", "exabgp.conf")
}

// HAServiceName returns the unit implementing the configured HA mode.
func (c *Config) HAServiceName() string {
	if c.HAMode == HAModeBGP {
		return ServiceBGP
	}
	return ServiceHA
}

// EnsureDirectories creates the directories the generators write into.
func (c *Config) EnsureDirectories() error {
	for _, p := range []string{c.HAProxyConfigPath(), c.KeepalivedConfigPath(), c.BGPConfigPath()} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return nil
}

// VIPAddresses returns the configured VIP address strings in order.
func (c *Config) VIPAddresses() []string {
	out := make([]string, 0, len(c.VIPs))
	for _, v := range c.VIPs {
		out = append(out, v.Address)
	}
	return out
}
