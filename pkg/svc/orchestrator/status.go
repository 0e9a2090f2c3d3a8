package orchestrator

import (
	"context"
	"fmt"
	"time"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/k8s"
	"github.com/cdp-platform/cdp-dev/pkg/svc/portforward"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/types"
)

// StatusReport aggregates everything the status command shows. Fields degrade
// independently: a probe that fails becomes a note instead of failing the
// whole report.
type StatusReport struct {
	State   *v1alpha1.EnvironmentState
	Cluster types.ClusterInfo
	Pods    []k8s.PodSummary
	Tunnels []portforward.TunnelHealth
	Notes   []string
}

// Status reports the persisted state alongside the live cluster, workload and
// tunnel condition. It deliberately does not take the operation lock, so it
// stays usable while an install or start is in flight. Live probes are
// bounded by the inspect timeout.
func (o *Orchestrator) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{}

	environmentState, err := o.deps.Store.Load()
	if err != nil {
		return report, err
	}

	report.State = environmentState

	inspectTimeout := o.environment.Timeouts.Inspect
	if inspectTimeout <= 0 {
		inspectTimeout = v1alpha1.DefaultInspectTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	report.Cluster = o.inspectCluster(probeCtx, &report)

	if report.Cluster.Running {
		report.Pods = o.inspectPods(probeCtx, &report)
	}

	report.Tunnels = o.deps.Forwarder.Health()

	o.noteDrift(&report)

	return report, nil
}

func (o *Orchestrator) inspectCluster(ctx context.Context, report *StatusReport) types.ClusterInfo {
	info, err := o.deps.Cluster.Inspect(ctx)
	if err != nil {
		report.Notes = append(report.Notes, fmt.Sprintf("cluster probe failed: %v", err))

		return types.ClusterInfo{Name: o.environment.ClusterName}
	}

	return info
}

func (o *Orchestrator) inspectPods(ctx context.Context, report *StatusReport) []k8s.PodSummary {
	if o.deps.Inspector == nil {
		return nil
	}

	pods, err := o.deps.Inspector.ListPods(ctx, o.environment.Chart.Namespace)
	if err != nil {
		report.Notes = append(report.Notes, fmt.Sprintf("pod probe failed: %v", err))

		return nil
	}

	return pods
}

// noteDrift flags disagreements between the persisted record and the live
// probes so stale state is visible instead of misleading.
func (o *Orchestrator) noteDrift(report *StatusReport) {
	recorded := report.State.ClusterStatus

	switch {
	case recorded == v1alpha1.ClusterStatusReady && !report.Cluster.Running:
		report.Notes = append(report.Notes,
			"state records the cluster as ready but its nodes are not running")
	case recorded == v1alpha1.ClusterStatusAbsent && report.Cluster.Exists:
		report.Notes = append(report.Notes,
			"state records no environment but a cluster with its name exists")
	case recorded == v1alpha1.ClusterStatusStopped && report.Cluster.Running:
		report.Notes = append(report.Notes,
			"state records the cluster as stopped but its nodes are running")
	}

	for _, tunnel := range report.Tunnels {
		record, tracked := report.State.PortForwards[tunnel.Service]
		if tracked && !tunnel.Up() {
			report.Notes = append(report.Notes, fmt.Sprintf(
				"tunnel for %q (pid %d, started %s) is down",
				tunnel.Service, record.PID, record.StartedAt.Format(time.RFC3339),
			))
		}
	}
}
