package system

import (
	"context"
	"net"
	"os"
	"regexp"
	"strings"
)

var (
	haproxyVersionRe    = regexp.MustCompile(`HA-?Proxy version ([\d.]+)`)
	keepalivedVersionRe = regexp.MustCompile(`Keepalived v([\d.]+)`)
	exabgpVersionRe     = regexp.MustCompile(`ExaBGP : ([\d.]+)|exabgp ([\d.]+)`)
	defaultRouteRe      = regexp.MustCompile(`default via \S+ dev (\S+)`)
	linkNameRe          = regexp.MustCompile(`^\d+:\s+([^:@]+)`)
)

// HAProxyVersion returns the installed HAProxy version, or "" when the
// binary is missing or unparsable.
func HAProxyVersion(ctx context.Context, runner Runner) string {
	output, err := runner.Run(ctx, "haproxy", "-v")
	if err != nil {
		return ""
	}
	if m := haproxyVersionRe.FindSubmatch(output); m != nil {
		return string(m[1])
	}
	return ""
}

// KeepalivedVersion returns the installed keepalived version, or "".
// keepalived prints its version banner to stderr; the runner's
// combined output captures it either way.
func KeepalivedVersion(ctx context.Context, runner Runner) string {
	output, _ := runner.Run(ctx, "keepalived", "--version")
	if m := keepalivedVersionRe.FindSubmatch(output); m != nil {
		return string(m[1])
	}
	return ""
}

// ExaBGPVersion returns the installed ExaBGP version, or "".
func ExaBGPVersion(ctx context.Context, runner Runner) string {
	output, err := runner.Run(ctx, "exabgp", "--version")
	if err != nil {
		return ""
	}
	if m := exabgpVersionRe.FindSubmatch(output); m != nil {
		if len(m[1]) > 0 {
			return string(m[1])
		}
		return string(m[2])
	}
	return ""
}

// DefaultInterface detects the interface carrying the default route.
// Falls back to scanning link names (skipping loopback and virtual
// interfaces), and finally to "eth0".
func DefaultInterface(ctx context.Context, runner Runner) string {
	output, err := runner.Run(ctx, "ip", "route", "show", "default")
	if err == nil {
		if m := defaultRouteRe.FindSubmatch(output); m != nil {
			return string(m[1])
		}
	}

	output, err = runner.Run(ctx, "ip", "-o", "link", "show")
	if err == nil {
		for _, line := range strings.Split(string(output), "\n") {
			m := linkNameRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := strings.TrimSpace(m[1])
			if name == "lo" || isVirtualInterface(name) {
				continue
			}
			return name
		}
	}

	return "eth0"
}

func isVirtualInterface(name string) bool {
	for _, prefix := range []string{"docker", "veth", "br-", "virbr", "tun", "tap"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// LocalIP returns the source address the host would use to reach the
// outside world. No packets are sent.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// Hostname returns the host's name, or "localhost" when unavailable.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}
