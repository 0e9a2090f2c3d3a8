// Package provider defines the infrastructure provider abstraction for
// node-level operations on the containers backing the local cluster.
package provider

import "context"

// NodeInfo contains information about a node managed by a provider.
type NodeInfo struct {
	// Name is the unique identifier of the node (container name).
	Name string

	// ClusterName is the name of the cluster this node belongs to.
	ClusterName string

	// Role is the role of the node (control-plane, worker).
	Role string

	// State is the current state of the node (running, exited, ...).
	State string
}

// Running reports whether the node's container is currently running.
func (n NodeInfo) Running() bool {
	return n.State == "running"
}

// Provider handles node-level operations independent of the Kubernetes
// distribution: the cluster driver delegates start/stop/inspect of the node
// containers to it.
type Provider interface {
	// StartNodes starts the nodes for a cluster.
	// If no nodes exist, returns ErrNoNodes.
	StartNodes(ctx context.Context, clusterName string) error

	// StopNodes stops the nodes for a cluster.
	// If no nodes exist, returns ErrNoNodes.
	StopNodes(ctx context.Context, clusterName string) error

	// ListNodes returns all nodes for a specific cluster.
	ListNodes(ctx context.Context, clusterName string) ([]NodeInfo, error)

	// NodesExist returns true if nodes exist for the given cluster name.
	NodesExist(ctx context.Context, clusterName string) (bool, error)

	// DeleteNodes removes all nodes for a cluster. The provisioner normally
	// deletes nodes through its SDK; this is a cleanup fallback.
	DeleteNodes(ctx context.Context, clusterName string) error

	// Ping verifies that the provider's backend (the Docker daemon) responds.
	Ping(ctx context.Context) error
}
