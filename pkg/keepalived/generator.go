// Package keepalived renders the keepalived (VRRP) configuration for
// this node from the cluster-wide settings. The output is a pure
// function of its inputs: regenerating from the same configuration
// yields a byte-identical document.
package keepalived

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dirkpetersen/ober/pkg/vip"
)

// Health-check script parameters embedded in every generated config.
// The script fails when no haproxy process is alive, dropping this
// node's priority below any healthy backup.
const (
	checkScript   = "/usr/bin/killall -0 haproxy"
	checkInterval = 2
	checkWeight   = -20
	checkFallRise = 2

	ifaceTrackWeight = -50
)

// Generator holds the inputs for one node's keepalived configuration.
type Generator struct {
	Hostname  string   // router_id in global_defs
	Nodes     []string // full cluster node set
	SelfNode  string   // this node's identity within Nodes
	LocalIP   string   // unicast source address
	VIPs      []string // virtual IPs in stable order, optional /prefix
	Peers     []string // unicast peer addresses (every other node)
	Interface string   // interface to bind and track, may be empty
	Multicast bool     // use multicast VRRP instead of unicast
	AdvertInt int      // advertisement interval in seconds
}

// Render produces the configuration document. One vrrp_instance block
// is emitted per VIP, numbered by position (VI_1, VI_2, ...)
// independently of ownership.
func (g *Generator) Render() ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# keepalived configuration generated by ober\n")
	fmt.Fprintf(&b, "# Regenerated on every start; do not edit by hand.\n\n")

	fmt.Fprintf(&b, "global_defs {\n")
	fmt.Fprintf(&b, "    router_id %s\n", g.Hostname)
	fmt.Fprintf(&b, "    script_user root\n")
	fmt.Fprintf(&b, "    enable_script_security\n")
	fmt.Fprintf(&b, "}\n\n")

	fmt.Fprintf(&b, "vrrp_script chk_haproxy {\n")
	fmt.Fprintf(&b, "    script \"%s\"\n", checkScript)
	fmt.Fprintf(&b, "    interval %d\n", checkInterval)
	fmt.Fprintf(&b, "    weight %d\n", checkWeight)
	fmt.Fprintf(&b, "    fall %d\n", checkFallRise)
	fmt.Fprintf(&b, "    rise %d\n", checkFallRise)
	fmt.Fprintf(&b, "}\n")

	for i, address := range g.VIPs {
		_, priority, err := vip.Owner(address, g.Nodes, g.SelfNode)
		if err != nil {
			return nil, err
		}
		if err := g.renderInstance(&b, i+1, address, priority); err != nil {
			return nil, err
		}
	}

	return []byte(b.String()), nil
}

func (g *Generator) renderInstance(b *strings.Builder, n int, address string, priority int) error {
	routerID := vip.RouterID(address)

	state := "BACKUP"
	if priority == vip.PriorityOwner {
		state = "MASTER"
	}

	fmt.Fprintf(b, "\nvrrp_instance VI_%d {\n", n)
	fmt.Fprintf(b, "    state %s\n", state)
	if g.Interface != "" {
		fmt.Fprintf(b, "    interface %s\n", g.Interface)
	}
	fmt.Fprintf(b, "    virtual_router_id %d\n", routerID)
	fmt.Fprintf(b, "    priority %d\n", priority)
	fmt.Fprintf(b, "    advert_int %d\n", g.AdvertInt)
	fmt.Fprintf(b, "\n")
	fmt.Fprintf(b, "    authentication {\n")
	fmt.Fprintf(b, "        auth_type PASS\n")
	fmt.Fprintf(b, "        auth_pass ober%d\n", routerID)
	fmt.Fprintf(b, "    }\n\n")

	// Unicast and multicast are mutually exclusive in the output.
	if g.Multicast {
		fmt.Fprintf(b, "    # Multicast mode - no unicast peer configuration\n\n")
	} else {
		fmt.Fprintf(b, "    unicast_src_ip %s\n", g.LocalIP)
		fmt.Fprintf(b, "    unicast_peer {\n")
		for _, peer := range g.Peers {
			fmt.Fprintf(b, "        %s\n", peer)
		}
		fmt.Fprintf(b, "    }\n\n")
	}

	fmt.Fprintf(b, "    virtual_ipaddress {\n")
	fmt.Fprintf(b, "        %s\n", withPrefix(address))
	fmt.Fprintf(b, "    }\n\n")

	fmt.Fprintf(b, "    track_script {\n")
	fmt.Fprintf(b, "        chk_haproxy\n")
	fmt.Fprintf(b, "    }\n")

	if g.Interface != "" {
		fmt.Fprintf(b, "\n    track_interface {\n")
		fmt.Fprintf(b, "        %s weight %d\n", g.Interface, ifaceTrackWeight)
		fmt.Fprintf(b, "    }\n")
	}

	fmt.Fprintf(b, "}\n")
	return nil
}

// WriteFile renders the configuration and atomically replaces the file
// at path, so a crash mid-write never leaves a truncated config for
// keepalived to load.
func (g *Generator) WriteFile(path string) error {
	data, err := g.Render()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".keepalived-*.conf")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func withPrefix(address string) string {
	if strings.Contains(address, "/") {
		return address
	}
	if strings.Contains(address, ":") {
		return address + "/128"
	}
	return address + "/32"
}
