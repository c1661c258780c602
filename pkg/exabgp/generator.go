// Package exabgp renders the ExaBGP configuration announcing the
// configured VIPs to each BGP neighbor. Like the keepalived generator,
// the output is byte-stable for identical inputs.
package exabgp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dirkpetersen/ober/pkg/vip"
)

// Generator holds the inputs for this node's ExaBGP configuration.
type Generator struct {
	RouterID  string   // BGP router id, usually the node's primary IP
	LocalIP   string   // local-address for sessions
	LocalAS   int
	PeerAS    int
	Neighbors []string // neighbor addresses
	VIPs      []string // announced addresses, optional /prefix ignored
}

// Render produces the configuration document: one neighbor block per
// neighbor, each announcing every VIP as a /32 static route with
// next-hop self.
func (g *Generator) Render() ([]byte, error) {
	for _, address := range g.VIPs {
		if err := vip.Validate(address); err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# ExaBGP configuration generated by ober\n")
	fmt.Fprintf(&b, "# Regenerated on every start; do not edit by hand.\n")

	for _, neighbor := range g.Neighbors {
		fmt.Fprintf(&b, "\nneighbor %s {\n", neighbor)
		fmt.Fprintf(&b, "    router-id %s;\n", g.RouterID)
		fmt.Fprintf(&b, "    local-address %s;\n", g.LocalIP)
		fmt.Fprintf(&b, "    local-as %d;\n", g.LocalAS)
		fmt.Fprintf(&b, "    peer-as %d;\n", g.PeerAS)
		fmt.Fprintf(&b, "\n    static {\n")
		for _, address := range g.VIPs {
			fmt.Fprintf(&b, "        route %s/32 next-hop self;\n", vip.Addr(address))
		}
		fmt.Fprintf(&b, "    }\n")
		fmt.Fprintf(&b, "}\n")
	}

	return []byte(b.String()), nil
}

// WriteFile renders and atomically replaces the file at path.
func (g *Generator) WriteFile(path string) error {
	data, err := g.Render()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".exabgp-*.conf")
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
