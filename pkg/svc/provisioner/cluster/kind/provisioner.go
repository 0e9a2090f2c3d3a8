// Package kindprovisioner provisions the local cluster with kind.
// It uses kind's Cobra commands where available (create, delete, list,
// export kubeconfig) and delegates node start/stop to the injected
// infrastructure provider.
package kindprovisioner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/cdp-platform/cdp-dev/pkg/cmd/runner"
	"github.com/cdp-platform/cdp-dev/pkg/k8s"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provider"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/clustererr"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/types"
	"sigs.k8s.io/kind/pkg/apis/config/v1alpha4"
	kindcmd "sigs.k8s.io/kind/pkg/cmd"
	createcluster "sigs.k8s.io/kind/pkg/cmd/kind/create/cluster"
	deletecluster "sigs.k8s.io/kind/pkg/cmd/kind/delete/cluster"
	exportkubeconfig "sigs.k8s.io/kind/pkg/cmd/kind/export/kubeconfig"
	getclusters "sigs.k8s.io/kind/pkg/cmd/kind/get/clusters"
	sigsyaml "sigs.k8s.io/yaml"
)

// NewSingleNodeConfig builds the kind cluster config for the environment: a
// single control-plane node, which is all the dev profile needs.
func NewSingleNodeConfig(name string) *v1alpha4.Cluster {
	return &v1alpha4.Cluster{
		TypeMeta: v1alpha4.TypeMeta{
			Kind:       "Cluster",
			APIVersion: "kind.x-k8s.io/v1alpha4",
		},
		Name: name,
		Nodes: []v1alpha4.Node{
			{Role: v1alpha4.ControlPlaneRole},
		},
	}
}

// KindClusterProvisioner converges a kind cluster to the desired lifecycle
// state. Creation and deletion go through kind's Cobra commands; starting and
// stopping the node containers goes through the infrastructure provider.
type KindClusterProvisioner struct {
	kubeConfig    string
	kindConfig    *v1alpha4.Cluster
	infraProvider provider.Provider
	runner        runner.CommandRunner
}

// NewKindClusterProvisioner constructs a KindClusterProvisioner with the
// default command runner.
func NewKindClusterProvisioner(
	kindConfig *v1alpha4.Cluster,
	kubeConfig string,
	infraProvider provider.Provider,
) *KindClusterProvisioner {
	return NewKindClusterProvisionerWithRunner(
		kindConfig,
		kubeConfig,
		infraProvider,
		runner.NewCobraCommandRunner(os.Stdout, os.Stderr),
	)
}

// NewKindClusterProvisionerWithRunner constructs a KindClusterProvisioner with
// an explicit command runner for testing purposes.
func NewKindClusterProvisionerWithRunner(
	kindConfig *v1alpha4.Cluster,
	kubeConfig string,
	infraProvider provider.Provider,
	commandRunner runner.CommandRunner,
) *KindClusterProvisioner {
	return &KindClusterProvisioner{
		kubeConfig:    kubeConfig,
		kindConfig:    kindConfig,
		infraProvider: infraProvider,
		runner:        commandRunner,
	}
}

// EnsureRunning creates the cluster when absent, starts stopped node
// containers, and refreshes the kubeconfig. Already-running clusters pass
// through untouched.
func (k *KindClusterProvisioner) EnsureRunning(ctx context.Context) error {
	exists, err := k.Exists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		createErr := k.create(ctx)
		if createErr != nil {
			return createErr
		}

		// kind create already writes the kubeconfig entry.
		return nil
	}

	running, err := k.nodesRunning(ctx)
	if err != nil {
		return err
	}

	if !running {
		startErr := k.startNodes(ctx)
		if startErr != nil {
			return startErr
		}
	}

	exportErr := k.ExportKubeconfig(ctx)
	if exportErr != nil {
		return exportErr
	}

	return nil
}

// Stop stops the cluster's node containers.
func (k *KindClusterProvisioner) Stop(ctx context.Context) error {
	if k.infraProvider == nil {
		return fmt.Errorf("%w for cluster %q", clustererr.ErrProviderNotSet, k.kindConfig.Name)
	}

	err := k.infraProvider.StopNodes(ctx, k.kindConfig.Name)
	if err != nil {
		return fmt.Errorf("%w: cluster %q: %w", clustererr.ErrStopFailed, k.kindConfig.Name, err)
	}

	return nil
}

// Destroy deletes the cluster using kind's Cobra command. A missing cluster
// is treated as already destroyed.
func (k *KindClusterProvisioner) Destroy(ctx context.Context) error {
	exists, err := k.Exists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		return nil
	}

	logger := &streamLogger{writer: os.Stdout}
	streams := kindcmd.IOStreams{Out: os.Stdout, ErrOut: os.Stderr}

	cmd := deletecluster.NewCommand(logger, streams)

	args := []string{"--name", k.kindConfig.Name}
	if kubeconfigPath := k8s.ExpandPath(k.kubeConfig); kubeconfigPath != "" {
		args = append(args, "--kubeconfig", kubeconfigPath)
	}

	result, err := k.runner.Run(ctx, cmd, args)
	if err != nil {
		return fmt.Errorf(
			"%w: %w%s",
			clustererr.ErrDeleteFailed, err, diagnosticSuffix(result.Stderr),
		)
	}

	return nil
}

// Inspect returns a read-only snapshot of the cluster without mutating it.
func (k *KindClusterProvisioner) Inspect(ctx context.Context) (types.ClusterInfo, error) {
	info := types.ClusterInfo{Name: k.kindConfig.Name}

	exists, err := k.Exists(ctx)
	if err != nil {
		return info, err
	}

	info.Exists = exists
	if !exists {
		return info, nil
	}

	if k.infraProvider == nil {
		return info, fmt.Errorf("%w for cluster %q", clustererr.ErrProviderNotSet, k.kindConfig.Name)
	}

	nodes, err := k.infraProvider.ListNodes(ctx, k.kindConfig.Name)
	if err != nil {
		return info, fmt.Errorf("list cluster nodes: %w", err)
	}

	info.Nodes = nodes
	info.Running = len(nodes) > 0

	for _, node := range nodes {
		if !node.Running() {
			info.Running = false

			break
		}
	}

	return info, nil
}

// Exists checks whether the cluster is known to kind.
func (k *KindClusterProvisioner) Exists(ctx context.Context) (bool, error) {
	clusters, err := k.list(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list kind clusters: %w", err)
	}

	return slices.Contains(clusters, k.kindConfig.Name), nil
}

// ExportKubeconfig refreshes the kubeconfig entry via kind's Cobra command.
func (k *KindClusterProvisioner) ExportKubeconfig(ctx context.Context) error {
	logger := &streamLogger{writer: io.Discard}
	streams := kindcmd.IOStreams{Out: io.Discard, ErrOut: os.Stderr}

	cmd := exportkubeconfig.NewCommand(logger, streams)

	args := []string{"--name", k.kindConfig.Name}
	if kubeconfigPath := k8s.ExpandPath(k.kubeConfig); kubeconfigPath != "" {
		args = append(args, "--kubeconfig", kubeconfigPath)
	}

	_, err := k.runner.Run(ctx, cmd, args)
	if err != nil {
		return fmt.Errorf("failed to export kubeconfig: %w", err)
	}

	return nil
}

// --- internals ---

// create provisions the cluster via kind's Cobra command. The config is
// serialized to a temp file because the command only accepts file paths.
func (k *KindClusterProvisioner) create(ctx context.Context) error {
	tmpFile, err := os.CreateTemp("", "cdp-dev-kind-config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}

	defer func() { _ = tmpFile.Close() }()
	defer func() { _ = os.Remove(tmpFile.Name()) }()

	configYAML, err := sigsyaml.Marshal(k.kindConfig)
	if err != nil {
		return fmt.Errorf("marshal kind config: %w", err)
	}

	const configFilePerms = 0o600

	err = os.WriteFile(tmpFile.Name(), configYAML, configFilePerms)
	if err != nil {
		return fmt.Errorf("write temp config file: %w", err)
	}

	// Kind writes progress through its logger interface - stream to stdout.
	logger := &streamLogger{writer: os.Stdout}
	streams := kindcmd.IOStreams{Out: os.Stdout, ErrOut: os.Stderr}

	cmd := createcluster.NewCommand(logger, streams)

	args := []string{"--name", k.kindConfig.Name, "--config", tmpFile.Name()}
	if kubeconfigPath := k8s.ExpandPath(k.kubeConfig); kubeconfigPath != "" {
		args = append(args, "--kubeconfig", kubeconfigPath)
	}

	result, err := k.runner.Run(ctx, cmd, args)
	if err != nil {
		return fmt.Errorf(
			"%w: %w%s",
			clustererr.ErrCreateFailed, err, diagnosticSuffix(result.Stderr),
		)
	}

	return nil
}

func (k *KindClusterProvisioner) startNodes(ctx context.Context) error {
	if k.infraProvider == nil {
		return fmt.Errorf("%w for cluster %q", clustererr.ErrProviderNotSet, k.kindConfig.Name)
	}

	err := k.infraProvider.StartNodes(ctx, k.kindConfig.Name)
	if err != nil {
		return fmt.Errorf("%w: cluster %q: %w", clustererr.ErrStartFailed, k.kindConfig.Name, err)
	}

	return nil
}

func (k *KindClusterProvisioner) nodesRunning(ctx context.Context) (bool, error) {
	if k.infraProvider == nil {
		return false, fmt.Errorf("%w for cluster %q", clustererr.ErrProviderNotSet, k.kindConfig.Name)
	}

	nodes, err := k.infraProvider.ListNodes(ctx, k.kindConfig.Name)
	if err != nil {
		return false, fmt.Errorf("list cluster nodes: %w", err)
	}

	if len(nodes) == 0 {
		return false, nil
	}

	for _, node := range nodes {
		if !node.Running() {
			return false, nil
		}
	}

	return true, nil
}

// list returns all kind clusters using kind's Cobra command.
func (k *KindClusterProvisioner) list(ctx context.Context) ([]string, error) {
	// Kind's get clusters command writes names to streams.Out directly,
	// so capture to a buffer instead of the console.
	var outBuf bytes.Buffer

	logger := &streamLogger{writer: &outBuf}
	streams := kindcmd.IOStreams{Out: &outBuf, ErrOut: io.Discard}

	cmd := getclusters.NewCommand(logger, streams)

	result, err := k.runner.Run(ctx, cmd, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to list kind clusters: %w", err)
	}

	const noKindClustersMsg = "No kind clusters found."

	output := outBuf.String()
	if output == "" {
		output = result.Stdout
	}

	var clusters []string

	for _, line := range strings.Split(output, "\n") {
		name := strings.TrimSpace(line)
		if name != "" && name != noKindClustersMsg {
			clusters = append(clusters, name)
		}
	}

	return clusters, nil
}

// diagnosticSuffix formats captured stderr for attachment to an error message.
func diagnosticSuffix(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}

	return "\n" + stderr
}
