package clusterprovisioner

import (
	"fmt"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provider/docker"
	kindprovisioner "github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/kind"
)

// Factory creates a cluster provisioner for an environment.
type Factory interface {
	Create(environment *v1alpha1.Environment) (ClusterProvisioner, error)
}

// DefaultFactory builds kind provisioners backed by the local Docker daemon.
type DefaultFactory struct{}

var _ Factory = DefaultFactory{}

// Create builds a kind cluster provisioner for the environment.
func (DefaultFactory) Create(environment *v1alpha1.Environment) (ClusterProvisioner, error) {
	infraProvider, err := docker.NewDefaultProvider()
	if err != nil {
		return nil, fmt.Errorf("create infrastructure provider: %w", err)
	}

	return kindprovisioner.NewKindClusterProvisioner(
		kindprovisioner.NewSingleNodeConfig(environment.ClusterName),
		environment.Connection.Kubeconfig,
		infraProvider,
	), nil
}
