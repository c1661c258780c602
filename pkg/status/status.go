// Package status collects the runtime state of the managed services:
// systemd unit states, VRRP instance roles parsed from the journal,
// and HAProxy statistics from the local stats endpoint.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/dirkpetersen/ober/pkg/system"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var vrrpStateRe = regexp.MustCompile(`(?i)(VI_\d+)\s+entering\s+(MASTER|BACKUP)\s+STATE`)

// Snapshot is the full status report for this node.
type Snapshot struct {
	Services   map[string]system.ServiceInfo `json:"services"`
	HAProxy    HAProxyStatus                 `json:"haproxy"`
	BGP        BGPStatus                     `json:"bgp"`
	Keepalived KeepalivedStatus              `json:"keepalived"`
	Config     ConfigStatus                  `json:"config"`
}

// HAProxyStatus describes the edge proxy component.
type HAProxyStatus struct {
	Version      string                 `json:"version"`
	ConfigExists bool                   `json:"config_exists"`
	Stats        map[string]interface{} `json:"stats,omitempty"`
}

// BGPStatus describes the ExaBGP component.
type BGPStatus struct {
	Version      string `json:"version"`
	ConfigExists bool   `json:"config_exists"`
}

// KeepalivedStatus describes the VRRP component.
type KeepalivedStatus struct {
	Version      string            `json:"version"`
	ConfigExists bool              `json:"config_exists"`
	VRRPState    map[string]string `json:"vrrp_state"`
}

// ConfigStatus summarizes the stored configuration.
type ConfigStatus struct {
	Exists   bool     `json:"exists"`
	Path     string   `json:"path"`
	VIPs     []string `json:"vips,omitempty"`
	Backends []string `json:"backends,omitempty"`
}

// FileChecker reports whether a path exists; injected for tests.
type FileChecker func(path string) bool

// Collector gathers status snapshots.
type Collector struct {
	cfg        *config.Config
	services   system.ServiceManager
	runner     system.Runner
	fileExists FileChecker
	breaker    *gobreaker.CircuitBreaker
	client     *http.Client
	logger     zerolog.Logger
}

// New creates a collector. The circuit breaker around the HAProxy
// stats fetch keeps repeated polling (the exporter) from hammering a
// dead stats socket.
func New(cfg *config.Config, services system.ServiceManager, runner system.Runner, fileExists FileChecker, logger zerolog.Logger) *Collector {
	return &Collector{
		cfg:        cfg,
		services:   services,
		runner:     runner,
		fileExists: fileExists,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "haproxy-stats",
			Timeout: 30 * time.Second,
		}),
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// Collect queries all components and assembles a snapshot.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Services: make(map[string]system.ServiceInfo),
		Keepalived: KeepalivedStatus{
			VRRPState: map[string]string{},
		},
	}

	snap.Services[config.ServiceHTTP] = system.QueryService(ctx, c.services, config.ServiceHTTP)
	haService := c.cfg.HAServiceName()
	snap.Services[haService] = system.QueryService(ctx, c.services, haService)

	snap.HAProxy.Version = system.HAProxyVersion(ctx, c.runner)
	snap.HAProxy.ConfigExists = c.fileExists(c.cfg.HAProxyConfigPath())

	if c.cfg.HAMode == config.HAModeBGP {
		snap.BGP.Version = system.ExaBGPVersion(ctx, c.runner)
		snap.BGP.ConfigExists = c.fileExists(c.cfg.BGPConfigPath())
	} else {
		snap.Keepalived.Version = system.KeepalivedVersion(ctx, c.runner)
		snap.Keepalived.ConfigExists = c.fileExists(c.cfg.KeepalivedConfigPath())
		if snap.Services[config.ServiceHA].Active {
			snap.Keepalived.VRRPState = c.VRRPState(ctx)
		}
	}

	snap.Config.Exists = c.fileExists(c.cfg.ConfigPath())
	snap.Config.Path = c.cfg.ConfigPath()
	snap.Config.VIPs = c.cfg.VIPAddresses()
	for _, b := range c.cfg.Backends {
		snap.Config.Backends = append(snap.Config.Backends, b.Name)
	}

	if snap.Services[config.ServiceHTTP].Active {
		snap.HAProxy.Stats = c.haproxyStats()
	}

	return snap
}

// VRRPState parses the most recent VRRP state transition per instance
// from the keepalived unit's journal. The latest line per instance
// wins. Failures yield an empty map, never an error; status collection
// must degrade, not abort.
func (c *Collector) VRRPState(ctx context.Context) map[string]string {
	states := make(map[string]string)

	output, err := c.runner.Run(ctx, "journalctl", "-u", config.ServiceHA, "-n", "100", "--no-pager", "-q")
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to read keepalived journal")
		return states
	}

	return ParseVRRPStates(string(output))
}

// ParseVRRPStates extracts instance states from journal text.
func ParseVRRPStates(journal string) map[string]string {
	states := make(map[string]string)
	for _, line := range strings.Split(journal, "\n") {
		if m := vrrpStateRe.FindStringSubmatch(line); m != nil {
			states[m[1]] = strings.ToUpper(m[2])
		}
	}
	return states
}

// haproxyStats fetches the JSON stats document from the local stats
// endpoint through the circuit breaker.
func (c *Collector) haproxyStats() map[string]interface{} {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("http://127.0.0.1:%d/stats;json", c.cfg.StatsPort)
		resp, err := c.client.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("stats endpoint returned %d", resp.StatusCode)
		}

		var stats map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return nil, err
		}
		return stats, nil
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("HAProxy stats unavailable")
		return map[string]interface{}{}
	}
	return result.(map[string]interface{})
}
