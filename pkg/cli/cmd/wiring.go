package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/client/helm"
	"github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/io/configmanager"
	"github.com/cdp-platform/cdp-dev/pkg/k8s"
	"github.com/cdp-platform/cdp-dev/pkg/svc/installer/airflow"
	"github.com/cdp-platform/cdp-dev/pkg/svc/orchestrator"
	"github.com/cdp-platform/cdp-dev/pkg/svc/portforward"
	"github.com/cdp-platform/cdp-dev/pkg/svc/preflight"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provider/docker"
	"github.com/cdp-platform/cdp-dev/pkg/svc/state"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
)

// lifecycle bundles the wired collaborators a lifecycle command needs.
type lifecycle struct {
	environment  *v1alpha1.Environment
	orchestrator *orchestrator.Orchestrator
	forwarder    *portforward.Forwarder
	store        *state.Store
	clients      *clusterClients
}

// buildLifecycle loads the configuration and wires the orchestrator with its
// real collaborators. Cluster-bound clients (helm, client-go) are constructed
// lazily because their kubeconfig context only exists once the cluster does.
func buildLifecycle(cmd *cobra.Command, injector di.Injector) (*lifecycle, error) {
	out := cmd.OutOrStdout()

	environment, err := configmanager.NewConfigManager(out).LoadConfigSilent()
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(environment.ClusterName)
	if err != nil {
		return nil, err
	}

	factory, err := di.ResolveClusterProvisionerFactory(injector)
	if err != nil {
		return nil, err
	}

	provisioner, err := factory.Create(environment)
	if err != nil {
		return nil, err
	}

	dockerProvider, err := docker.NewDefaultProvider()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	// Tunnel records from the previous invocation seed the forwarder so it
	// can adopt or reap existing kubectl processes. A corrupt state file is
	// tolerated here; the operations themselves surface it.
	records := map[string]v1alpha1.PortForwardRecord{}
	if persisted, loadErr := store.Load(); loadErr == nil {
		records = persisted.PortForwards
	}

	supervisorLog := logrus.New()
	supervisorLog.SetOutput(cmd.ErrOrStderr())

	forwarder := portforward.NewForwarder(environment, records, supervisorLog)

	clients := &clusterClients{environment: environment}

	orch := orchestrator.New(environment, orchestrator.Deps{
		Preflight: preflight.NewChecker(preflight.ExecProber{}, dockerProvider),
		Pinger:    dockerProvider,
		Cluster:   provisioner,
		Installer: &lazyInstaller{environment: environment, clients: clients, out: out},
		Forwarder: forwarder,
		Store:     store,
		Inspector: clients,
		Out:       out,
	})

	return &lifecycle{
		environment:  environment,
		orchestrator: orch,
		forwarder:    forwarder,
		store:        store,
		clients:      clients,
	}, nil
}

// clusterClients constructs cluster-bound clients on first use and caches
// them. It doubles as the orchestrator's workload inspector.
type clusterClients struct {
	environment *v1alpha1.Environment

	mu        sync.Mutex
	clientset kubernetes.Interface
}

// Clientset returns the cached client-go clientset, building it on first use.
func (c *clusterClients) Clientset() (kubernetes.Interface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clientset != nil {
		return c.clientset, nil
	}

	clientset, err := k8s.NewClientset(
		c.environment.Connection.Kubeconfig, c.environment.KubeContext(),
	)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes client: %w", err)
	}

	c.clientset = clientset

	return c.clientset, nil
}

// ListPods implements orchestrator.WorkloadInspector.
func (c *clusterClients) ListPods(
	ctx context.Context,
	namespace string,
) ([]k8s.PodSummary, error) {
	clientset, err := c.Clientset()
	if err != nil {
		return nil, err
	}

	return k8s.ListPodSummaries(ctx, clientset, namespace)
}

// lazyInstaller defers installer construction until the cluster exists, then
// delegates every call. The helm client cannot be initialized before the
// kubeconfig context it targets has been written.
type lazyInstaller struct {
	environment *v1alpha1.Environment
	clients     *clusterClients
	out         io.Writer

	mu        sync.Mutex
	installer *airflow.Installer
}

func (l *lazyInstaller) get() (*airflow.Installer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.installer != nil {
		return l.installer, nil
	}

	helmClient, err := helm.NewClient(
		l.environment.Connection.Kubeconfig, l.environment.KubeContext(),
	)
	if err != nil {
		return nil, fmt.Errorf("build helm client: %w", err)
	}

	clientset, err := l.clients.Clientset()
	if err != nil {
		return nil, err
	}

	l.installer = airflow.NewInstaller(l.environment, helmClient, clientset, l.out)

	return l.installer, nil
}

func (l *lazyInstaller) InstallOrUpgrade(ctx context.Context) (*airflow.Release, error) {
	installer, err := l.get()
	if err != nil {
		return nil, err
	}

	return installer.InstallOrUpgrade(ctx)
}

func (l *lazyInstaller) WaitUntilReady(ctx context.Context) error {
	installer, err := l.get()
	if err != nil {
		return err
	}

	return installer.WaitUntilReady(ctx)
}

func (l *lazyInstaller) InstalledVersion(ctx context.Context) (string, error) {
	installer, err := l.get()
	if err != nil {
		return "", err
	}

	return installer.InstalledVersion(ctx)
}

func (l *lazyInstaller) Uninstall(ctx context.Context) error {
	installer, err := l.get()
	if err != nil {
		return err
	}

	return installer.Uninstall(ctx)
}
