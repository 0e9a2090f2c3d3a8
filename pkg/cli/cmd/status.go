package cmd

import (
	"fmt"
	"io"
	"strings"

	runtime "github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/svc/orchestrator"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates and returns the status command.
func NewStatusCmd(runtimeContainer *runtime.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the environment's recorded and live state",
		Long: `Show the persisted environment state next to live probes of the cluster, the
Airflow pods and the tunnels. Status never mutates anything and stays usable
while another operation runs.`,
		SilenceUsage: true,
		RunE: runtime.RunEWithRuntime(runtimeContainer, func(
			cmd *cobra.Command, injector runtime.Injector,
		) error {
			return runStatus(cmd, injector)
		}),
	}

	return cmd
}

func runStatus(cmd *cobra.Command, injector runtime.Injector) error {
	out := cmd.OutOrStdout()

	notify.Titlef(out, "🔍", "Environment status...")

	env, err := buildLifecycle(cmd, injector)
	if err != nil {
		return err
	}

	report, err := env.orchestrator.Status(cmd.Context())
	if err != nil {
		// Status is informational; an unreadable state file is reported, not
		// fatal. The destroy command offers the guarded reset.
		notify.Warningf(out, "state unreadable: %v", err)
		notify.Infof(out, "run 'cdp-dev destroy' to rebuild the environment from scratch")

		return nil
	}

	renderStatus(out, report)

	return nil
}

func renderStatus(out io.Writer, report orchestrator.StatusReport) {
	var summary strings.Builder

	fmt.Fprintf(&summary, "cluster:  %s (%s)\n", report.Cluster.Name, report.State.ClusterStatus)
	fmt.Fprintf(&summary, "airflow:  %s", report.State.AppStatus)

	if report.State.InstalledChartVersion != "" {
		fmt.Fprintf(&summary, " (chart %s)", report.State.InstalledChartVersion)
	}

	if report.State.LastOperation != "" {
		fmt.Fprintf(&summary, "\nlast op:  %s", report.State.LastOperation)
	}

	if report.State.LastError != "" {
		fmt.Fprintf(&summary, "\nlast err: %s", report.State.LastError)
	}

	notify.Infof(out, "%s", summary.String())

	renderNodes(out, report)
	renderPods(out, report)
	renderTunnels(out, report)

	for _, note := range report.Notes {
		notify.Warningf(out, "%s", note)
	}
}

func renderNodes(out io.Writer, report orchestrator.StatusReport) {
	if !report.Cluster.Exists {
		notify.Infof(out, "no cluster nodes")

		return
	}

	var nodes strings.Builder

	nodes.WriteString("nodes:")

	for _, node := range report.Cluster.Nodes {
		fmt.Fprintf(&nodes, "\n  %s  %s", node.Name, node.State)
	}

	notify.Infof(out, "%s", nodes.String())
}

func renderPods(out io.Writer, report orchestrator.StatusReport) {
	if len(report.Pods) == 0 {
		return
	}

	var pods strings.Builder

	pods.WriteString("pods:")

	for _, pod := range report.Pods {
		fmt.Fprintf(&pods, "\n  %s  %s  %d/%d ready  %d restarts",
			pod.Name, pod.Phase, pod.ReadyContainers, pod.TotalContainers, pod.Restarts)
	}

	notify.Infof(out, "%s", pods.String())
}

func renderTunnels(out io.Writer, report orchestrator.StatusReport) {
	if len(report.Tunnels) == 0 {
		return
	}

	var tunnels strings.Builder

	tunnels.WriteString("tunnels:")

	for _, tunnel := range report.Tunnels {
		condition := "down"
		if tunnel.Up() {
			condition = "up"
		}

		fmt.Fprintf(&tunnels, "\n  %s  localhost:%d  %s (pid %d)",
			tunnel.Service, tunnel.LocalPort, condition, tunnel.PID)
	}

	notify.Infof(out, "%s", tunnels.String())
}
