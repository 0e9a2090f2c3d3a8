package v1alpha1

import "time"

// Default environment values. They mirror the managed platform's dev profile:
// a single-node kind cluster named cdp-local running the official Apache
// Airflow chart with the webserver reachable on localhost:8080.
const (
	// DefaultClusterName is the kind cluster name.
	DefaultClusterName = "cdp-local"
	// DefaultChartRepositoryName is the local Helm repository name.
	DefaultChartRepositoryName = "apache-airflow"
	// DefaultChartRepositoryURL is the upstream Airflow chart repository.
	DefaultChartRepositoryURL = "https://airflow.apache.org"
	// DefaultChartName is the fully qualified Airflow chart reference.
	DefaultChartName = "apache-airflow/airflow"
	// DefaultReleaseName is the Helm release name.
	DefaultReleaseName = "airflow"
	// DefaultNamespace is the namespace the release is installed into.
	DefaultNamespace = "airflow"

	// DefaultInstallTimeout bounds a single helm install or upgrade.
	DefaultInstallTimeout = 10 * time.Minute
	// DefaultReadinessTimeout bounds the per-component readiness poll.
	DefaultReadinessTimeout = 5 * time.Minute
	// DefaultInspectTimeout bounds read-only status probes.
	DefaultInspectTimeout = 15 * time.Second

	// DefaultHealthInterval is the pause between tunnel health checks.
	DefaultHealthInterval = 5 * time.Second
	// DefaultBackoffBase is the first tunnel restart delay.
	DefaultBackoffBase = time.Second
	// DefaultBackoffCeiling caps the doubling tunnel restart delay.
	DefaultBackoffCeiling = 30 * time.Second
)

// NewEnvironment creates an Environment populated with the default dev profile.
// Configuration files, environment variables and flags override these values
// through the config manager.
func NewEnvironment() *Environment {
	return &Environment{
		APIVersion:  APIVersion,
		Kind:        EnvironmentKind,
		ClusterName: DefaultClusterName,
		Chart: ChartConfig{
			RepositoryName: DefaultChartRepositoryName,
			RepositoryURL:  DefaultChartRepositoryURL,
			Name:           DefaultChartName,
			ReleaseName:    DefaultReleaseName,
			Namespace:      DefaultNamespace,
		},
		Services: DefaultServices(),
		Timeouts: TimeoutConfig{
			Install:   DefaultInstallTimeout,
			Readiness: DefaultReadinessTimeout,
			Inspect:   DefaultInspectTimeout,
		},
		Supervisor: SupervisorConfig{
			HealthInterval: DefaultHealthInterval,
			BackoffBase:    DefaultBackoffBase,
			BackoffCeiling: DefaultBackoffCeiling,
		},
	}
}

// DefaultServices returns the tunnels exposed by the default dev profile.
func DefaultServices() []ServiceDescriptor {
	return []ServiceDescriptor{
		{
			Name:       "webserver",
			Namespace:  DefaultNamespace,
			Target:     "service/airflow-webserver",
			LocalPort:  8080,
			RemotePort: 8080,
			HealthPath: "/health",
		},
	}
}

// NewEnvironmentState creates the state record for an environment that has
// never been installed.
func NewEnvironmentState(clusterName string) *EnvironmentState {
	return &EnvironmentState{
		APIVersion:    APIVersion,
		Kind:          EnvironmentStateKind,
		ClusterName:   clusterName,
		ClusterStatus: ClusterStatusAbsent,
		AppStatus:     AppStatusAbsent,
		PortForwards:  map[string]PortForwardRecord{},
		UpdatedAt:     time.Now().UTC(),
	}
}
