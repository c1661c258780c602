package main

import (
	"context"
	"fmt"

	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/dirkpetersen/ober/pkg/exabgp"
	"github.com/dirkpetersen/ober/pkg/hostlist"
	"github.com/dirkpetersen/ober/pkg/keepalived"
	"github.com/dirkpetersen/ober/pkg/system"

	"github.com/rs/zerolog/log"
)

// generateConfigs renders the failover daemon configuration for the
// configured HA mode from the current node set and VIP list.
func generateConfigs(ctx context.Context, cfg *config.Config) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	nodes, err := hostlist.Expand(cfg.Nodes)
	if err != nil {
		return fmt.Errorf("invalid nodes specification %q: %w", cfg.Nodes, err)
	}

	hostname := system.Hostname()
	localIP := system.LocalIP()

	switch cfg.HAMode {
	case config.HAModeKeepalived:
		iface := cfg.Keepalived.Interface
		if iface == "" {
			iface = system.DefaultInterface(ctx, system.NewExecRunner(log.Logger))
		}

		// Resolve self before deriving the peer list, so a node set
		// expressed as IPs still excludes this node from its own
		// unicast peers.
		self := selfNode(nodes, hostname, localIP)
		peers := cfg.Keepalived.Peers
		if len(peers) == 0 {
			peers = otherNodes(nodes, self)
		}

		gen := &keepalived.Generator{
			Hostname:  hostname,
			Nodes:     nodes,
			SelfNode:  self,
			LocalIP:   localIP,
			VIPs:      cfg.VIPAddresses(),
			Peers:     peers,
			Interface: iface,
			Multicast: cfg.Keepalived.UseMulticast,
			AdvertInt: cfg.Keepalived.AdvertInt,
		}
		if err := gen.WriteFile(cfg.KeepalivedConfigPath()); err != nil {
			return err
		}
		log.Info().Str("path", cfg.KeepalivedConfigPath()).Msg("Wrote keepalived configuration")

	case config.HAModeBGP:
		if len(cfg.BGP.Neighbors) == 0 {
			log.Warn().Msg("No BGP neighbors configured, skipping ExaBGP config generation")
			return nil
		}

		routerID := cfg.BGP.RouterID
		if routerID == "" {
			routerID = localIP
		}

		gen := &exabgp.Generator{
			RouterID:  routerID,
			LocalIP:   localIP,
			LocalAS:   cfg.BGP.LocalAS,
			PeerAS:    cfg.BGP.PeerAS,
			Neighbors: cfg.BGP.Neighbors,
			VIPs:      cfg.VIPAddresses(),
		}
		if err := gen.WriteFile(cfg.BGPConfigPath()); err != nil {
			return err
		}
		log.Info().Str("path", cfg.BGPConfigPath()).Msg("Wrote ExaBGP configuration")
	}

	return nil
}

// selfNode identifies this host within the expanded node set, matching
// the hostname first and the local IP second. When neither matches the
// hostname is used as-is; every VIP then renders with backup priority,
// which is the safe default for a node outside the cluster set.
func selfNode(nodes []string, hostname, localIP string) string {
	for _, n := range nodes {
		if n == hostname {
			return hostname
		}
	}
	for _, n := range nodes {
		if n == localIP {
			return localIP
		}
	}
	return hostname
}

// otherNodes returns every node except self, preserving order.
func otherNodes(nodes []string, self string) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}
