package airflow

// WorkloadKind distinguishes how a chart component is deployed.
type WorkloadKind string

const (
	// WorkloadDeployment is a Kubernetes Deployment.
	WorkloadDeployment WorkloadKind = "Deployment"
	// WorkloadStatefulSet is a Kubernetes StatefulSet.
	WorkloadStatefulSet WorkloadKind = "StatefulSet"
)

// Component is one workload of the Airflow chart that must report ready
// before an install or upgrade is considered complete.
type Component struct {
	// Name is the short component name (scheduler, webserver, ...).
	Name string
	// Kind is the workload type the chart deploys the component as.
	Kind WorkloadKind
	// WorkloadName is the chart's resource name for the component, derived
	// from the release name.
	WorkloadName string
	// LogSelector selects the component's pods for log streaming.
	LogSelector string
}

// ExpectedComponents returns the chart workloads polled for readiness after
// an install or upgrade, named after the release.
func ExpectedComponents(releaseName string) []Component {
	return []Component{
		{
			Name:         "scheduler",
			Kind:         WorkloadDeployment,
			WorkloadName: releaseName + "-scheduler",
			LogSelector:  "component=scheduler",
		},
		{
			Name:         "webserver",
			Kind:         WorkloadDeployment,
			WorkloadName: releaseName + "-webserver",
			LogSelector:  "component=webserver",
		},
		{
			Name:         "worker",
			Kind:         WorkloadStatefulSet,
			WorkloadName: releaseName + "-worker",
			LogSelector:  "component=worker",
		},
		{
			Name:         "triggerer",
			Kind:         WorkloadStatefulSet,
			WorkloadName: releaseName + "-triggerer",
			LogSelector:  "component=triggerer",
		},
	}
}

// LogSelector maps a service name from the CLI to a pod label selector.
// The empty or "airflow" service selects every pod of the release.
func LogSelector(service string) (string, bool) {
	if service == "" || service == "airflow" {
		return "app.kubernetes.io/name=airflow", true
	}

	for _, component := range ExpectedComponents("") {
		if component.Name == service {
			return component.LogSelector, true
		}
	}

	return "", false
}
