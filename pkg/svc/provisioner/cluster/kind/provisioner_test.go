package kindprovisioner_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/cdp-platform/cdp-dev/pkg/cmd/runner"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provider"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/clustererr"
	kindprovisioner "github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/kind"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClusterName = "cdp-local"

var errNodesBoom = errors.New("nodes boom")

// invocation records one command executed through the fake runner.
type invocation struct {
	use  string
	args []string
}

// scriptedResponse is what the fake runner returns for one call, in order.
type scriptedResponse struct {
	result runner.CommandResult
	err    error
}

// fakeRunner replays scripted responses and records every invocation.
type fakeRunner struct {
	responses   []scriptedResponse
	invocations []invocation
}

func (f *fakeRunner) Run(
	_ context.Context,
	cmd *cobra.Command,
	args []string,
) (runner.CommandResult, error) {
	f.invocations = append(f.invocations, invocation{use: cmd.Use, args: slices.Clone(args)})

	if len(f.responses) == 0 {
		return runner.CommandResult{}, nil
	}

	response := f.responses[0]
	f.responses = f.responses[1:]

	return response.result, response.err
}

// listResponse scripts a "kind get clusters" result listing the given names.
func listResponse(names ...string) scriptedResponse {
	stdout := ""
	for _, name := range names {
		stdout += name + "\n"
	}

	if stdout == "" {
		stdout = "No kind clusters found.\n"
	}

	return scriptedResponse{result: runner.CommandResult{Stdout: stdout}}
}

// fakeInfraProvider serves canned node lists and counts start/stop calls.
type fakeInfraProvider struct {
	nodes    []provider.NodeInfo
	nodesErr error

	startCalls int
	startErr   error
	stopCalls  int
	stopErr    error
}

func (f *fakeInfraProvider) StartNodes(_ context.Context, _ string) error {
	f.startCalls++

	return f.startErr
}

func (f *fakeInfraProvider) StopNodes(_ context.Context, _ string) error {
	f.stopCalls++

	return f.stopErr
}

func (f *fakeInfraProvider) ListNodes(_ context.Context, _ string) ([]provider.NodeInfo, error) {
	return f.nodes, f.nodesErr
}

func (f *fakeInfraProvider) NodesExist(ctx context.Context, clusterName string) (bool, error) {
	nodes, err := f.ListNodes(ctx, clusterName)

	return len(nodes) > 0, err
}

func (f *fakeInfraProvider) DeleteNodes(_ context.Context, _ string) error {
	return nil
}

func (f *fakeInfraProvider) Ping(_ context.Context) error {
	return nil
}

func controlPlaneNode(state string) provider.NodeInfo {
	return provider.NodeInfo{
		Name:        testClusterName + "-control-plane",
		ClusterName: testClusterName,
		Role:        "control-plane",
		State:       state,
	}
}

func newProvisioner(
	commandRunner *fakeRunner,
	infra *fakeInfraProvider,
) *kindprovisioner.KindClusterProvisioner {
	return kindprovisioner.NewKindClusterProvisionerWithRunner(
		kindprovisioner.NewSingleNodeConfig(testClusterName),
		"~/.kube/config",
		infra,
		commandRunner,
	)
}

func TestExists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		list     scriptedResponse
		expected bool
	}{
		{"cluster listed", listResponse("other", testClusterName), true},
		{"other clusters only", listResponse("other"), false},
		{"no clusters at all", listResponse(), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			commandRunner := &fakeRunner{responses: []scriptedResponse{tc.list}}
			provisioner := newProvisioner(commandRunner, &fakeInfraProvider{})

			exists, err := provisioner.Exists(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tc.expected, exists)
		})
	}
}

func TestEnsureRunning_CreatesAbsentCluster(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{
		listResponse(),
		{},
	}}
	provisioner := newProvisioner(commandRunner, &fakeInfraProvider{})

	err := provisioner.EnsureRunning(context.Background())

	require.NoError(t, err)
	require.Len(t, commandRunner.invocations, 2, "list then create")

	createArgs := commandRunner.invocations[1].args
	assert.Contains(t, createArgs, "--name")
	assert.Contains(t, createArgs, testClusterName)
	assert.Contains(t, createArgs, "--config")
	assert.Contains(t, createArgs, "--kubeconfig")
}

func TestEnsureRunning_CreateFailureCarriesStderr(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{
		listResponse(),
		{
			result: runner.CommandResult{Stderr: "docker: port already allocated"},
			err:    errors.New("command execution failed: exit status 1"),
		},
	}}
	provisioner := newProvisioner(commandRunner, &fakeInfraProvider{})

	err := provisioner.EnsureRunning(context.Background())

	require.ErrorIs(t, err, clustererr.ErrCreateFailed)
	assert.Contains(t, err.Error(), "port already allocated")
}

func TestEnsureRunning_StartsStoppedNodes(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{
		listResponse(testClusterName),
		{},
	}}
	infra := &fakeInfraProvider{nodes: []provider.NodeInfo{controlPlaneNode("exited")}}
	provisioner := newProvisioner(commandRunner, infra)

	err := provisioner.EnsureRunning(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, infra.startCalls)

	// After starting, the kubeconfig entry is refreshed.
	require.Len(t, commandRunner.invocations, 2)
	assert.Equal(t, "kubeconfig", commandRunner.invocations[1].use)
}

func TestEnsureRunning_RunningClusterOnlyRefreshesKubeconfig(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{
		listResponse(testClusterName),
		{},
	}}
	infra := &fakeInfraProvider{nodes: []provider.NodeInfo{controlPlaneNode("running")}}
	provisioner := newProvisioner(commandRunner, infra)

	err := provisioner.EnsureRunning(context.Background())

	require.NoError(t, err)
	assert.Zero(t, infra.startCalls)
	require.Len(t, commandRunner.invocations, 2)
	assert.Equal(t, "kubeconfig", commandRunner.invocations[1].use)
}

func TestEnsureRunning_StartFailureWrapsSentinel(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{
		listResponse(testClusterName),
	}}
	infra := &fakeInfraProvider{
		nodes:    []provider.NodeInfo{controlPlaneNode("exited")},
		startErr: errNodesBoom,
	}
	provisioner := newProvisioner(commandRunner, infra)

	err := provisioner.EnsureRunning(context.Background())

	require.ErrorIs(t, err, clustererr.ErrStartFailed)
	require.ErrorIs(t, err, errNodesBoom)
}

func TestStop(t *testing.T) {
	t.Parallel()

	infra := &fakeInfraProvider{}
	provisioner := newProvisioner(&fakeRunner{}, infra)

	require.NoError(t, provisioner.Stop(context.Background()))
	assert.Equal(t, 1, infra.stopCalls)

	infra.stopErr = errNodesBoom

	err := provisioner.Stop(context.Background())
	require.ErrorIs(t, err, clustererr.ErrStopFailed)
}

func TestStop_WithoutProvider(t *testing.T) {
	t.Parallel()

	provisioner := kindprovisioner.NewKindClusterProvisionerWithRunner(
		kindprovisioner.NewSingleNodeConfig(testClusterName),
		"",
		nil,
		&fakeRunner{},
	)

	err := provisioner.Stop(context.Background())

	require.ErrorIs(t, err, clustererr.ErrProviderNotSet)
}

func TestDestroy_MissingClusterIsNoOp(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{listResponse()}}
	provisioner := newProvisioner(commandRunner, &fakeInfraProvider{})

	err := provisioner.Destroy(context.Background())

	require.NoError(t, err)
	require.Len(t, commandRunner.invocations, 1, "only the list runs, no delete")
}

func TestDestroy_DeletesExistingCluster(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{
		listResponse(testClusterName),
		{},
	}}
	provisioner := newProvisioner(commandRunner, &fakeInfraProvider{})

	err := provisioner.Destroy(context.Background())

	require.NoError(t, err)
	require.Len(t, commandRunner.invocations, 2)

	deleteArgs := commandRunner.invocations[1].args
	assert.Contains(t, deleteArgs, "--name")
	assert.Contains(t, deleteArgs, testClusterName)
}

func TestDestroy_FailureCarriesStderr(t *testing.T) {
	t.Parallel()

	commandRunner := &fakeRunner{responses: []scriptedResponse{
		listResponse(testClusterName),
		{
			result: runner.CommandResult{Stderr: "failed to delete nodes"},
			err:    errors.New("command execution failed: exit status 1"),
		},
	}}
	provisioner := newProvisioner(commandRunner, &fakeInfraProvider{})

	err := provisioner.Destroy(context.Background())

	require.ErrorIs(t, err, clustererr.ErrDeleteFailed)
	assert.Contains(t, err.Error(), "failed to delete nodes")
}

func TestInspect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		list            scriptedResponse
		nodes           []provider.NodeInfo
		expectedExists  bool
		expectedRunning bool
	}{
		{
			"absent cluster",
			listResponse(),
			nil,
			false, false,
		},
		{
			"all nodes running",
			listResponse(testClusterName),
			[]provider.NodeInfo{controlPlaneNode("running")},
			true, true,
		},
		{
			"stopped node",
			listResponse(testClusterName),
			[]provider.NodeInfo{controlPlaneNode("exited")},
			true, false,
		},
		{
			"cluster listed but no containers",
			listResponse(testClusterName),
			nil,
			true, false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			commandRunner := &fakeRunner{responses: []scriptedResponse{tc.list}}
			infra := &fakeInfraProvider{nodes: tc.nodes}
			provisioner := newProvisioner(commandRunner, infra)

			info, err := provisioner.Inspect(context.Background())

			require.NoError(t, err)
			assert.Equal(t, testClusterName, info.Name)
			assert.Equal(t, tc.expectedExists, info.Exists)
			assert.Equal(t, tc.expectedRunning, info.Running)
			assert.Len(t, info.Nodes, len(tc.nodes))
		})
	}
}
