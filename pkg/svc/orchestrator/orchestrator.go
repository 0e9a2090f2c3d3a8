// Package orchestrator implements the lifecycle engine: it converges the
// cluster, the Airflow release and the tunnels toward the state each
// operation demands, committing progress to the state store after every
// completed step so interrupted operations resume from persisted state.
package orchestrator

import (
	"context"
	"io"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/k8s"
	"github.com/cdp-platform/cdp-dev/pkg/svc/installer/airflow"
	"github.com/cdp-platform/cdp-dev/pkg/svc/portforward"
	"github.com/cdp-platform/cdp-dev/pkg/svc/preflight"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/types"
)

// Preflight gates install and start on the host's tooling.
type Preflight interface {
	Check(ctx context.Context) (preflight.Report, error)
}

// Pinger checks that the Docker daemon responds. Start uses it as its
// lighter-weight prerequisite gate.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cluster is the cluster driver surface the orchestrator consumes.
type Cluster interface {
	EnsureRunning(ctx context.Context) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error
	Inspect(ctx context.Context) (types.ClusterInfo, error)
	Exists(ctx context.Context) (bool, error)
}

// Installer converges the application release.
type Installer interface {
	InstallOrUpgrade(ctx context.Context) (*airflow.Release, error)
	WaitUntilReady(ctx context.Context) error
	InstalledVersion(ctx context.Context) (string, error)
	Uninstall(ctx context.Context) error
}

// Forwarder manages the service tunnels.
type Forwarder interface {
	StartAll(ctx context.Context) (map[string]v1alpha1.PortForwardRecord, error)
	StopAll(ctx context.Context) error
	Records() map[string]v1alpha1.PortForwardRecord
	Health() []portforward.TunnelHealth
	Supervise(ctx context.Context, events chan<- portforward.Event)
}

// Store persists the environment state.
type Store interface {
	Load() (*v1alpha1.EnvironmentState, error)
	Save(environmentState *v1alpha1.EnvironmentState) error
	Reset() error
	WithTransaction(ctx context.Context, fn func() error) error
}

// WorkloadInspector lists application pods for status reporting.
type WorkloadInspector interface {
	ListPods(ctx context.Context, namespace string) ([]k8s.PodSummary, error)
}

// Deps groups the injectable collaborators. Tests substitute fakes.
type Deps struct {
	Preflight Preflight
	Pinger    Pinger
	Cluster   Cluster
	Installer Installer
	Forwarder Forwarder
	Store     Store
	Inspector WorkloadInspector
	Out       io.Writer
}

// Orchestrator drives the five lifecycle operations against the capability
// interfaces.
type Orchestrator struct {
	environment *v1alpha1.Environment
	deps        Deps
}

// New creates an Orchestrator for the environment.
func New(environment *v1alpha1.Environment, deps Deps) *Orchestrator {
	if deps.Out == nil {
		deps.Out = io.Discard
	}

	return &Orchestrator{environment: environment, deps: deps}
}

// Result describes a completed operation.
type Result struct {
	// Operation is the operation name.
	Operation string
	// NoOp is true when the environment was already in the target state.
	NoOp bool
	// Release is set when the operation installed or upgraded the chart.
	Release *airflow.Release
}
