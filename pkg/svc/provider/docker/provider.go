// Package docker implements the infrastructure provider on top of the Docker
// API. Kind node containers carry no cluster labels, so nodes are identified
// by the "<cluster>-" container name prefix.
package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cdp-platform/cdp-dev/pkg/svc/provider"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Default timeouts for Docker operations.
const (
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 60 * time.Second
)

// Provider implements provider.Provider for kind node containers.
type Provider struct {
	client client.APIClient
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates a new Docker provider.
func NewProvider(cli client.APIClient) *Provider {
	return &Provider{client: cli}
}

// NewDefaultProvider creates a Docker provider connected via the standard
// environment (DOCKER_HOST et al.) with API version negotiation.
func NewDefaultProvider() (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return NewProvider(cli), nil
}

// Ping verifies the Docker daemon responds.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return provider.ErrProviderUnavailable
	}

	_, err := p.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}

	return nil
}

// StartNodes starts all node containers for the given cluster.
func (p *Provider) StartNodes(ctx context.Context, clusterName string) error {
	if p.client == nil {
		return provider.ErrProviderUnavailable
	}

	nodes, err := p.ListNodes(ctx, clusterName)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", provider.ErrNoNodes, clusterName)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, DefaultStartTimeout)
	defer cancel()

	for _, node := range nodes {
		err := p.client.ContainerStart(timeoutCtx, node.Name, container.StartOptions{})
		if err != nil {
			return fmt.Errorf("failed to start container %s: %w", node.Name, err)
		}
	}

	return nil
}

// StopNodes stops all node containers for the given cluster.
func (p *Provider) StopNodes(ctx context.Context, clusterName string) error {
	if p.client == nil {
		return provider.ErrProviderUnavailable
	}

	nodes, err := p.ListNodes(ctx, clusterName)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", provider.ErrNoNodes, clusterName)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
	defer cancel()

	for _, node := range nodes {
		err := p.client.ContainerStop(timeoutCtx, node.Name, container.StopOptions{})
		if err != nil {
			return fmt.Errorf("failed to stop container %s: %w", node.Name, err)
		}
	}

	return nil
}

// ListNodes returns all node containers for the given cluster.
func (p *Provider) ListNodes(ctx context.Context, clusterName string) ([]provider.NodeInfo, error) {
	if p.client == nil {
		return nil, provider.ErrProviderUnavailable
	}

	containers, err := p.listClusterContainers(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	nodes := make([]provider.NodeInfo, 0, len(containers))
	for _, ctr := range containers {
		nodes = append(nodes, containerToNodeInfo(ctr, clusterName))
	}

	return nodes, nil
}

// NodesExist returns true if any node containers exist for the given cluster.
func (p *Provider) NodesExist(ctx context.Context, clusterName string) (bool, error) {
	if p.client == nil {
		return false, provider.ErrProviderUnavailable
	}

	containers, err := p.listClusterContainers(ctx, clusterName)
	if err != nil {
		return false, err
	}

	return len(containers) > 0, nil
}

// DeleteNodes force-removes all node containers for the given cluster.
// Used as cleanup when the kind SDK left half-deleted clusters behind.
func (p *Provider) DeleteNodes(ctx context.Context, clusterName string) error {
	if p.client == nil {
		return provider.ErrProviderUnavailable
	}

	containers, err := p.listClusterContainers(ctx, clusterName)
	if err != nil {
		return err
	}

	for _, ctr := range containers {
		err := p.client.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
		if err != nil {
			return fmt.Errorf("failed to remove container %s: %w", ctr.ID, err)
		}
	}

	return nil
}

// listClusterContainers lists containers by name prefix (kind doesn't use labels).
// Kind names its containers <cluster>-control-plane, <cluster>-worker, etc.
func (p *Provider) listClusterContainers(
	ctx context.Context,
	clusterName string,
) ([]container.Summary, error) {
	containers, err := p.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	prefix := clusterName + "-"

	var result []container.Summary

	for _, ctr := range containers {
		for _, name := range ctr.Names {
			// Container names have leading "/"
			name = strings.TrimPrefix(name, "/")
			if strings.HasPrefix(name, prefix) {
				result = append(result, ctr)

				break
			}
		}
	}

	return result, nil
}

func containerToNodeInfo(ctr container.Summary, clusterName string) provider.NodeInfo {
	name := ""
	if len(ctr.Names) > 0 {
		name = strings.TrimPrefix(ctr.Names[0], "/")
	}

	role := "worker"
	if strings.Contains(name, "control-plane") {
		role = "control-plane"
	}

	return provider.NodeInfo{
		Name:        name,
		ClusterName: clusterName,
		Role:        role,
		State:       ctr.State,
	}
}
