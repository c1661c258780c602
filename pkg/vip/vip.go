// Package vip computes deterministic, coordination-free VIP ownership
// and the derived VRRP identifiers. Every node evaluates the same pure
// functions over the same inputs and arrives at the same answer, so no
// peer protocol is needed to agree on who should hold an address.
package vip

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Election priorities handed to the VRRP daemon. The owner advertises
// the higher value and wins the master role.
const (
	PriorityOwner  = 100
	PriorityBackup = 90
)

// Validate checks a VIP address, which is an IPv4 or IPv6 address with
// an optional /prefix (default /32 for IPv4, /128 for IPv6).
func Validate(address string) error {
	addr, prefix, hasPrefix := strings.Cut(address, "/")

	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("invalid IP address %q", addr)
	}

	if !hasPrefix {
		return nil
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return fmt.Errorf("invalid CIDR prefix %q", prefix)
	}
	max := 128
	if ip.To4() != nil {
		max = 32
	}
	if n < 0 || n > max {
		return fmt.Errorf("invalid CIDR prefix /%d for %s", n, addr)
	}
	return nil
}

// Addr strips an optional /prefix from a VIP address.
func Addr(address string) string {
	addr, _, _ := strings.Cut(address, "/")
	return addr
}

// Owner deterministically selects the owning node for a VIP and
// returns the election priority of self for it. The node list is
// treated as a set: duplicates and ordering do not affect the result.
func Owner(address string, nodes []string, self string) (string, int, error) {
	if err := Validate(address); err != nil {
		return "", 0, err
	}

	sorted := canonicalize(nodes)
	if len(sorted) == 0 {
		return "", 0, fmt.Errorf("cannot assign VIP %s: empty node set", address)
	}

	owner := sorted[xxhash.Sum64String(Addr(address))%uint64(len(sorted))]
	if self == owner {
		return owner, PriorityOwner, nil
	}
	return owner, PriorityBackup, nil
}

// RouterID derives a VRRP virtual router id in [1,255] from a VIP
// address. Collisions between different VIPs are tolerated by the
// protocol; the mapping only has to be stable.
func RouterID(address string) int {
	return int(xxhash.Sum64String(Addr(address))%254) + 1
}

// canonicalize de-duplicates and sorts the node set so the hash index
// is independent of input iteration order.
func canonicalize(nodes []string) []string {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
