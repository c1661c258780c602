// Package check implements the preflight test sequence: configuration
// syntax validation via the real binaries and connectivity probes to
// neighbors, peers and backends, all without starting any service.
package check

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/dirkpetersen/ober/pkg/system"
	"github.com/rs/zerolog"
)

const (
	bgpPort            = 179
	defaultBackendPort = 80

	// Diagnostics from the validated binaries are truncated so one
	// broken config line does not flood the report.
	maxDiagnostic = 100
)

// Result is the outcome of a single named test.
type Result struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Report aggregates all test outcomes. Errors make the configuration
// invalid (exit 1); warnings alone still exit 0.
type Report struct {
	ConfigValid bool     `json:"config_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Tests       []Result `json:"tests"`
}

func (r *Report) errorf(format string, args ...interface{}) {
	r.ConfigValid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Prober is the connectivity capability the checker consumes.
type Prober interface {
	TCP(ctx context.Context, host string, port int) error
	ICMP(ctx context.Context, host string) error
}

// Checker runs the preflight sequence.
type Checker struct {
	cfg    *config.Config
	runner system.Runner
	prober Prober
	logger zerolog.Logger
}

// New creates a checker.
func New(cfg *config.Config, runner system.Runner, prober Prober, logger zerolog.Logger) *Checker {
	return &Checker{
		cfg:    cfg,
		runner: runner,
		prober: prober,
		logger: logger.With().Str("component", "check").Logger(),
	}
}

// Run executes the full test sequence and returns the report.
func (c *Checker) Run(ctx context.Context) *Report {
	report := &Report{ConfigValid: true, Errors: []string{}, Warnings: []string{}, Tests: []Result{}}

	if _, err := os.Stat(c.cfg.ConfigPath()); err != nil {
		report.errorf("configuration file not found: run 'ober config' first")
		return report
	}

	haproxy := c.checkHAProxyConfig(ctx)
	report.Tests = append(report.Tests, haproxy)
	if !haproxy.Passed {
		report.errorf("%s", haproxy.Message)
	}

	switch c.cfg.HAMode {
	case config.HAModeBGP:
		c.checkBGP(ctx, report)
	case config.HAModeKeepalived:
		c.checkKeepalived(ctx, report)
	}

	if len(c.cfg.VIPs) == 0 {
		report.warnf("no VIPs configured")
	}

	c.checkBackends(ctx, report)

	if c.cfg.Certs.Path != "" {
		cert := checkCertificate(c.cfg.Certs.Path)
		report.Tests = append(report.Tests, cert)
		if !cert.Passed {
			report.warnf("certificate: %s", cert.Message)
		}
	}

	return report
}

func (c *Checker) checkHAProxyConfig(ctx context.Context) Result {
	name := "HAProxy Config"
	path := c.cfg.HAProxyConfigPath()

	if _, err := os.Stat(path); err != nil {
		return Result{Name: name, Message: "configuration file not found"}
	}
	if !system.CommandExists("haproxy") {
		return Result{Name: name, Message: "HAProxy not installed"}
	}

	output, err := c.runner.Run(ctx, "haproxy", "-c", "-f", path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: name, Message: "validation timed out"}
		}
		return Result{Name: name, Message: "invalid configuration: " + truncate(string(output))}
	}
	return Result{Name: name, Passed: true, Message: "configuration valid"}
}

func (c *Checker) checkBGP(ctx context.Context, report *Report) {
	if len(c.cfg.BGP.Neighbors) == 0 {
		report.warnf("no BGP neighbors configured")
		return
	}
	for _, neighbor := range c.cfg.BGP.Neighbors {
		res := Result{Name: "BGP Neighbor " + neighbor}
		if err := c.prober.TCP(ctx, neighbor, bgpPort); err != nil {
			res.Message = "port 179 not reachable: check firewall rules"
			report.warnf("BGP neighbor %s: %s", neighbor, res.Message)
		} else {
			res.Passed = true
			res.Message = "port 179 reachable"
		}
		report.Tests = append(report.Tests, res)
	}
}

func (c *Checker) checkKeepalived(ctx context.Context, report *Report) {
	res := c.checkKeepalivedConfig(ctx)
	report.Tests = append(report.Tests, res)
	if !res.Passed {
		report.errorf("%s", res.Message)
	}

	if len(c.cfg.Keepalived.Peers) == 0 {
		report.warnf("no keepalived peers configured (single node mode)")
		return
	}
	for _, peer := range c.cfg.Keepalived.Peers {
		res := Result{Name: "Keepalived Peer " + peer}
		if err := c.prober.ICMP(ctx, peer); err != nil {
			res.Message = "not reachable (ping failed): check network connectivity"
			report.warnf("keepalived peer %s: %s", peer, res.Message)
		} else {
			res.Passed = true
			res.Message = "reachable (ping)"
		}
		report.Tests = append(report.Tests, res)
	}
}

func (c *Checker) checkKeepalivedConfig(ctx context.Context) Result {
	name := "Keepalived Config"
	path := c.cfg.KeepalivedConfigPath()

	if _, err := os.Stat(path); err != nil {
		return Result{Name: name, Message: "configuration file not found"}
	}
	if !system.CommandExists("keepalived") {
		return Result{Name: name, Message: "keepalived not installed"}
	}

	// --config-test validates syntax without starting the daemon.
	output, err := c.runner.Run(ctx, "keepalived", "--config-test", "-f", path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: name, Message: "validation timed out"}
		}
		return Result{Name: name, Message: "invalid configuration: " + truncate(string(output))}
	}
	return Result{Name: name, Passed: true, Message: "configuration valid"}
}

func (c *Checker) checkBackends(ctx context.Context, report *Report) {
	if len(c.cfg.Backends) == 0 {
		report.warnf("no backends configured")
		return
	}
	for _, backend := range c.cfg.Backends {
		for _, server := range backend.Servers {
			label := backend.Name + "/" + server
			res := Result{Name: "Backend " + label}

			host, port, err := splitServer(server)
			if err != nil {
				res.Message = err.Error()
				report.warnf("backend %s: %s", label, res.Message)
				report.Tests = append(report.Tests, res)
				continue
			}

			if err := c.prober.TCP(ctx, host, port); err != nil {
				res.Message = "not reachable"
				report.warnf("backend %s: %s", label, res.Message)
			} else {
				res.Passed = true
				res.Message = "reachable"
			}
			report.Tests = append(report.Tests, res)
		}
	}
}

// splitServer parses "host:port" or bare "host" (default port 80).
func splitServer(server string) (string, int, error) {
	if !strings.Contains(server, ":") {
		return server, defaultBackendPort, nil
	}
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return "", 0, fmt.Errorf("invalid server address %q", server)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// checkCertificate verifies a PEM bundle contains both the certificate
// and the private key, as HAProxy requires them in one file.
func checkCertificate(path string) Result {
	name := "Certificate"

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Name: name, Message: "file not found: " + path}
	}

	content := string(data)
	hasCert := strings.Contains(content, "-----BEGIN CERTIFICATE-----")
	hasKey := strings.Contains(content, "PRIVATE KEY-----")

	switch {
	case hasCert && hasKey:
		return Result{Name: name, Passed: true, Message: "valid PEM file with certificate and key"}
	case hasCert:
		return Result{Name: name, Message: "certificate found but no private key: HAProxy requires both in one PEM file"}
	default:
		return Result{Name: name, Message: "invalid PEM format"}
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDiagnostic {
		return s[:maxDiagnostic]
	}
	return s
}
