// Package types holds shared value types for cluster provisioners.
package types

import "github.com/cdp-platform/cdp-dev/pkg/svc/provider"

// ClusterInfo is a read-only snapshot of the cluster, used by status reporting.
type ClusterInfo struct {
	// Name is the cluster name.
	Name string
	// Exists reports whether any cluster infrastructure exists.
	Exists bool
	// Running reports whether all node containers are running.
	Running bool
	// Nodes lists the cluster's node containers.
	Nodes []provider.NodeInfo
}
