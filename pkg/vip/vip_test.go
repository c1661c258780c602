package vip

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"192.168.1.100",
		"192.168.1.100/32",
		"10.0.0.1/24",
		"2001:db8::1",
		"2001:db8::1/128",
		"2001:db8::1/64",
	}
	for _, addr := range valid {
		assert.NoError(t, Validate(addr), addr)
	}

	invalid := []string{
		"",
		"not-an-ip",
		"192.168.1.256",
		"192.168.1.1/33",
		"192.168.1.1/-1",
		"2001:db8::1/129",
		"192.168.1.1/abc",
	}
	for _, addr := range invalid {
		assert.Error(t, Validate(addr), addr)
	}
}

func TestOwnerDeterministic(t *testing.T) {
	nodes := []string{"node1", "node2", "node3"}

	owner1, _, err := Owner("192.168.1.100", nodes, "node1")
	require.NoError(t, err)
	owner2, _, err := Owner("192.168.1.100", nodes, "node2")
	require.NoError(t, err)

	// Every node must agree on the owner.
	assert.Equal(t, owner1, owner2)
	assert.Contains(t, nodes, owner1)
}

func TestOwnerIndependentOfNodeOrder(t *testing.T) {
	orderings := [][]string{
		{"node1", "node2", "node3"},
		{"node3", "node1", "node2"},
		{"node2", "node3", "node1"},
		{"node1", "node1", "node2", "node3"}, // duplicates ignored
	}

	first, _, err := Owner("10.0.0.50", orderings[0], "node1")
	require.NoError(t, err)
	for _, nodes := range orderings[1:] {
		owner, _, err := Owner("10.0.0.50", nodes, "node1")
		require.NoError(t, err)
		assert.Equal(t, first, owner)
	}
}

func TestOwnerPriorities(t *testing.T) {
	nodes := []string{"node1", "node2", "node3"}

	owner, _, err := Owner("192.168.1.100", nodes, "node1")
	require.NoError(t, err)

	for _, self := range nodes {
		_, priority, err := Owner("192.168.1.100", nodes, self)
		require.NoError(t, err)
		if self == owner {
			assert.Equal(t, PriorityOwner, priority)
		} else {
			assert.Equal(t, PriorityBackup, priority)
		}
	}
}

func TestOwnerIgnoresPrefix(t *testing.T) {
	nodes := []string{"node1", "node2", "node3"}

	bare, _, err := Owner("192.168.1.100", nodes, "node1")
	require.NoError(t, err)
	prefixed, _, err := Owner("192.168.1.100/32", nodes, "node1")
	require.NoError(t, err)

	assert.Equal(t, bare, prefixed)
}

func TestOwnerErrors(t *testing.T) {
	_, _, err := Owner("192.168.1.100", nil, "node1")
	require.Error(t, err)

	_, _, err = Owner("192.168.1.100", []string{"", ""}, "node1")
	require.Error(t, err)

	_, _, err = Owner("bogus", []string{"node1"}, "node1")
	require.Error(t, err)
}

func TestOwnerSpreadsAcrossNodes(t *testing.T) {
	// With enough VIPs the hash should land on more than one node.
	nodes := []string{"node1", "node2", "node3", "node4"}
	owners := make(map[string]bool)
	for i := 0; i < 32; i++ {
		owner, _, err := Owner(fmt.Sprintf("10.1.2.%d", i), nodes, "node1")
		require.NoError(t, err)
		owners[owner] = true
	}
	assert.GreaterOrEqual(t, len(owners), 2)
}

func TestRouterID(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		addr := fmt.Sprintf("172.16.%d.%d", i/10, i)
		id := RouterID(addr)
		assert.GreaterOrEqual(t, id, 1)
		assert.LessOrEqual(t, id, 255)
		// Stable across calls.
		assert.Equal(t, id, RouterID(addr))
		seen[id] = true
	}
	// 100 distinct addresses should not all collapse to a handful of ids.
	assert.GreaterOrEqual(t, len(seen), 10)

	// Prefix does not change the id.
	assert.Equal(t, RouterID("192.168.1.100"), RouterID("192.168.1.100/32"))
}

func TestRouterIDCollisionBound(t *testing.T) {
	// Ten distinct VIPs must yield at least eight distinct router ids.
	ids := make(map[int]bool)
	for i := 0; i < 10; i++ {
		ids[RouterID(fmt.Sprintf("192.168.1.%d", 100+i))] = true
	}
	assert.GreaterOrEqual(t, len(ids), 8)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, "192.168.1.100", Addr("192.168.1.100/32"))
	assert.Equal(t, "192.168.1.100", Addr("192.168.1.100"))
	assert.Equal(t, "2001:db8::1", Addr("2001:db8::1/128"))
}
