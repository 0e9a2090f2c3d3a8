// Package v1alpha1 defines the cdp-dev environment API types: the static
// environment configuration loaded from config files, and the persisted
// environment state the lifecycle engine reconciles against.
package v1alpha1

import (
	"time"
)

const (
	// APIVersion is the schema version stamped on serialized documents.
	APIVersion = "cdpdev.io/v1alpha1"
	// EnvironmentKind identifies environment configuration documents.
	EnvironmentKind = "Environment"
	// EnvironmentStateKind identifies persisted environment state documents.
	EnvironmentStateKind = "EnvironmentState"
)

// --- Status enums ---

// ClusterStatus describes the lifecycle phase of the local cluster.
type ClusterStatus string

const (
	// ClusterStatusAbsent means no cluster exists.
	ClusterStatusAbsent ClusterStatus = "Absent"
	// ClusterStatusCreating means cluster creation is in progress or was interrupted.
	ClusterStatusCreating ClusterStatus = "Creating"
	// ClusterStatusReady means the cluster exists and its node containers run.
	ClusterStatusReady ClusterStatus = "Ready"
	// ClusterStatusStopped means the cluster exists but its node containers are stopped.
	ClusterStatusStopped ClusterStatus = "Stopped"
	// ClusterStatusError means the last cluster operation failed.
	ClusterStatusError ClusterStatus = "Error"
)

// ValidValues returns all valid string values for ClusterStatus.
func (ClusterStatus) ValidValues() []string {
	return []string{
		string(ClusterStatusAbsent),
		string(ClusterStatusCreating),
		string(ClusterStatusReady),
		string(ClusterStatusStopped),
		string(ClusterStatusError),
	}
}

// AppStatus describes the lifecycle phase of the Airflow release.
type AppStatus string

const (
	// AppStatusAbsent means the release is not installed.
	AppStatusAbsent AppStatus = "Absent"
	// AppStatusInstalling means an install or upgrade is in progress or was interrupted.
	AppStatusInstalling AppStatus = "Installing"
	// AppStatusReady means the release is installed and its workloads reported ready.
	AppStatusReady AppStatus = "Ready"
	// AppStatusError means the last install or upgrade failed.
	AppStatusError AppStatus = "Error"
)

// ValidValues returns all valid string values for AppStatus.
func (AppStatus) ValidValues() []string {
	return []string{
		string(AppStatusAbsent),
		string(AppStatusInstalling),
		string(AppStatusReady),
		string(AppStatusError),
	}
}

// --- Persisted state ---

// PortForwardRecord tracks a single tunnel child process owned by the supervisor.
type PortForwardRecord struct {
	// Service is the service descriptor name the tunnel serves.
	Service string `json:"service"`
	// PID is the kubectl port-forward child process ID.
	PID int `json:"pid"`
	// LocalPort is the bound local port.
	LocalPort int32 `json:"localPort"`
	// StartedAt is when the tunnel process was spawned.
	StartedAt time.Time `json:"startedAt"`
}

// EnvironmentState is the single persisted record the lifecycle engine trusts
// as the source of truth between invocations. It is stored as human-inspectable
// JSON under the state directory.
type EnvironmentState struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`

	// ClusterName is the kind cluster the state describes.
	ClusterName string `json:"clusterName"`
	// ClusterStatus is the last committed cluster phase.
	ClusterStatus ClusterStatus `json:"clusterStatus"`
	// AppStatus is the last committed application phase.
	AppStatus AppStatus `json:"appStatus"`
	// InstalledChartVersion is the chart version of the last successful install.
	InstalledChartVersion string `json:"installedChartVersion,omitempty"`
	// LastOperation names the most recent lifecycle operation that mutated state.
	LastOperation string `json:"lastOperation,omitempty"`
	// LastError carries the failure message of the last failed operation, if any.
	LastError string `json:"lastError,omitempty"`
	// PortForwards maps service names to their tracked tunnel processes.
	PortForwards map[string]PortForwardRecord `json:"portForwards,omitempty"`
	// UpdatedAt is the time of the last committed mutation.
	UpdatedAt time.Time `json:"updatedAt"`
}

// MarkOperation records the operation in progress and refreshes the timestamp.
func (s *EnvironmentState) MarkOperation(operation string) {
	s.LastOperation = operation
	s.LastError = ""
	s.UpdatedAt = time.Now().UTC()
}

// MarkError records a failed operation while preserving the statuses already
// committed by earlier steps.
func (s *EnvironmentState) MarkError(operation string, err error) {
	s.LastOperation = operation
	if err != nil {
		s.LastError = err.Error()
	}

	s.UpdatedAt = time.Now().UTC()
}

// SetClusterStatus commits a cluster phase. Leaving ClusterStatusReady demotes
// a ready application, keeping the AppStatusReady ⟹ ClusterStatusReady invariant.
func (s *EnvironmentState) SetClusterStatus(status ClusterStatus) {
	s.ClusterStatus = status
	if status != ClusterStatusReady && s.AppStatus == AppStatusReady {
		s.AppStatus = AppStatusAbsent
		if status == ClusterStatusStopped || status == ClusterStatusError {
			// The release still exists inside the cluster; it is simply not
			// reachable. Installing marks it as needing a readiness pass.
			s.AppStatus = AppStatusInstalling
		}
	}

	s.UpdatedAt = time.Now().UTC()
}

// SetAppStatus commits an application phase.
func (s *EnvironmentState) SetAppStatus(status AppStatus) {
	s.AppStatus = status
	s.UpdatedAt = time.Now().UTC()
}

// --- Environment configuration ---

// ChartConfig identifies the Helm chart the installer manages.
type ChartConfig struct {
	// RepositoryName is the local name the chart repository is registered under.
	RepositoryName string `json:"repositoryName,omitempty" mapstructure:"repositoryName"`
	// RepositoryURL is the chart repository URL.
	RepositoryURL string `json:"repositoryURL,omitempty" mapstructure:"repositoryURL"`
	// Name is the fully qualified chart reference (e.g. "apache-airflow/airflow").
	Name string `json:"name,omitempty" mapstructure:"name"`
	// Version pins the chart version. Empty installs the latest.
	Version string `json:"version,omitempty" mapstructure:"version"`
	// ReleaseName is the Helm release name.
	ReleaseName string `json:"releaseName,omitempty" mapstructure:"releaseName"`
	// Namespace is the namespace the release is installed into.
	Namespace string `json:"namespace,omitempty" mapstructure:"namespace"`
	// ValuesFile optionally points at a values YAML overriding chart defaults.
	ValuesFile string `json:"valuesFile,omitempty" mapstructure:"valuesFile"`
}

// ServiceDescriptor declares a service exposed on localhost through a tunnel.
type ServiceDescriptor struct {
	// Name is the short service name used on the CLI (e.g. "webserver").
	Name string `json:"name" mapstructure:"name"`
	// Namespace the target lives in.
	Namespace string `json:"namespace" mapstructure:"namespace"`
	// Target is the port-forward target (e.g. "service/airflow-webserver").
	Target string `json:"target" mapstructure:"target"`
	// LocalPort is the port bound on localhost.
	LocalPort int32 `json:"localPort" mapstructure:"localPort"`
	// RemotePort is the port on the target.
	RemotePort int32 `json:"remotePort" mapstructure:"remotePort"`
	// HealthPath optionally names an HTTP path probed for tunnel health.
	HealthPath string `json:"healthPath,omitempty" mapstructure:"healthPath"`
}

// ConnectionConfig describes how kubectl, helm and client-go reach the cluster.
type ConnectionConfig struct {
	// Kubeconfig is the kubeconfig path. Supports a leading "~".
	Kubeconfig string `json:"kubeconfig,omitempty" mapstructure:"kubeconfig"`
	// Context is the kubeconfig context. Empty derives "kind-<cluster>".
	Context string `json:"context,omitempty" mapstructure:"context"`
}

// TimeoutConfig bounds the long-running phases of lifecycle operations.
type TimeoutConfig struct {
	// Install bounds a single helm install or upgrade.
	Install time.Duration `json:"install,omitempty" mapstructure:"install"`
	// Readiness bounds the per-component workload readiness poll.
	Readiness time.Duration `json:"readiness,omitempty" mapstructure:"readiness"`
	// Inspect bounds read-only status probes.
	Inspect time.Duration `json:"inspect,omitempty" mapstructure:"inspect"`
}

// SupervisorConfig tunes the port-forward watch loop.
type SupervisorConfig struct {
	// HealthInterval is the pause between tunnel health checks.
	HealthInterval time.Duration `json:"healthInterval,omitempty" mapstructure:"healthInterval"`
	// BackoffBase is the first restart delay after an unexpected tunnel exit.
	BackoffBase time.Duration `json:"backoffBase,omitempty" mapstructure:"backoffBase"`
	// BackoffCeiling caps the doubling restart delay.
	BackoffCeiling time.Duration `json:"backoffCeiling,omitempty" mapstructure:"backoffCeiling"`
}

// Environment is the static configuration for a local Airflow environment.
type Environment struct {
	APIVersion string `json:"apiVersion,omitempty" mapstructure:"apiVersion"`
	Kind       string `json:"kind,omitempty" mapstructure:"kind"`

	// ClusterName is the kind cluster name.
	ClusterName string `json:"clusterName,omitempty" mapstructure:"clusterName"`
	// Chart is the Airflow chart to install.
	Chart ChartConfig `json:"chart,omitempty" mapstructure:"chart"`
	// Services are the tunnels exposed on localhost while the environment runs.
	Services []ServiceDescriptor `json:"services,omitempty" mapstructure:"services"`
	// Connection configures cluster access.
	Connection ConnectionConfig `json:"connection,omitempty" mapstructure:"connection"`
	// Timeouts bound the lifecycle phases.
	Timeouts TimeoutConfig `json:"timeouts,omitempty" mapstructure:"timeouts"`
	// Supervisor tunes the port-forward watch loop.
	Supervisor SupervisorConfig `json:"supervisor,omitempty" mapstructure:"supervisor"`
}

// KubeContext returns the kubeconfig context for the environment, deriving the
// kind-prefixed context name when none is configured explicitly.
func (e *Environment) KubeContext() string {
	if e.Connection.Context != "" {
		return e.Connection.Context
	}

	return "kind-" + e.ClusterName
}

// Service returns the descriptor with the given name, or false when unknown.
func (e *Environment) Service(name string) (ServiceDescriptor, bool) {
	for _, svc := range e.Services {
		if svc.Name == name {
			return svc, true
		}
	}

	return ServiceDescriptor{}, false
}
