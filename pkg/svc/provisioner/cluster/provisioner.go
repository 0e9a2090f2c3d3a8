// Package clusterprovisioner defines the cluster driver abstraction: the
// operations the lifecycle orchestrator needs from the local Kubernetes
// cluster, independent of how it is provisioned.
package clusterprovisioner

import (
	"context"

	"github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/types"
)

// ClusterProvisioner manages the local Kubernetes cluster's lifecycle.
// Distribution-specific operations (create, delete) go through the
// distribution's tooling; node start/stop is delegated to a Provider.
type ClusterProvisioner interface {
	// EnsureRunning converges the cluster to a running state: it creates the
	// cluster when absent, starts stopped node containers, and is a no-op
	// when everything already runs. The kubeconfig is refreshed afterwards.
	EnsureRunning(ctx context.Context) error

	// Stop stops the cluster's node containers, preserving all cluster state.
	Stop(ctx context.Context) error

	// Destroy deletes the cluster and its resources. Destroying a cluster
	// that does not exist is a no-op.
	Destroy(ctx context.Context) error

	// Inspect returns a read-only snapshot of the cluster without mutating it.
	Inspect(ctx context.Context) (types.ClusterInfo, error)

	// Exists checks whether the cluster exists.
	Exists(ctx context.Context) (bool, error)

	// ExportKubeconfig refreshes the kubeconfig entry for the cluster so
	// kubectl, helm and client-go can reach it.
	ExportKubeconfig(ctx context.Context) error
}
