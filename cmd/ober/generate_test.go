package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelfNode(t *testing.T) {
	nodes := []string{"node1", "node2", "10.0.0.3"}

	assert.Equal(t, "node1", selfNode(nodes, "node1", "10.0.0.1"))
	// Hostname unknown in the set, local IP matches.
	assert.Equal(t, "10.0.0.3", selfNode(nodes, "other", "10.0.0.3"))
	// Neither matches: fall back to the hostname.
	assert.Equal(t, "stranger", selfNode(nodes, "stranger", "10.9.9.9"))
}

func TestDefaultPeersExcludeSelfForIPNodeSets(t *testing.T) {
	// Nodes given as IPs: self resolves via the local IP, and the
	// derived unicast peer list must not contain this node's address.
	nodes := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}

	self := selfNode(nodes, "node1", "10.0.0.1")
	assert.Equal(t, "10.0.0.1", self)

	peers := otherNodes(nodes, self)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, peers)
	assert.NotContains(t, peers, self)
}

func TestOtherNodes(t *testing.T) {
	nodes := []string{"node1", "node2", "node3"}

	assert.Equal(t, []string{"node2", "node3"}, otherNodes(nodes, "node1"))
	assert.Equal(t, []string{"node1", "node3"}, otherNodes(nodes, "node2"))
	assert.Equal(t, nodes, otherNodes(nodes, "absent"))
}
