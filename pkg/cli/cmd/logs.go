package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	runtime "github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/io/configmanager"
	"github.com/cdp-platform/cdp-dev/pkg/k8s"
	"github.com/cdp-platform/cdp-dev/pkg/svc/installer/airflow"
	"github.com/spf13/cobra"
)

const defaultLogTail = 50

// NewLogsCmd creates and returns the logs command.
func NewLogsCmd(runtimeContainer *runtime.Runtime) *cobra.Command {
	var (
		follow bool
		tail   int64
	)

	cmd := &cobra.Command{
		Use:   "logs [service]",
		Short: "Stream logs from the Airflow pods",
		Long: `Stream logs from the Airflow pods, prefixed per pod. Without a service every
pod of the release is streamed; scheduler, webserver, worker and triggerer
narrow to one component.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: runtime.RunEWithRuntime(runtimeContainer, func(
			cmd *cobra.Command, _ runtime.Injector,
		) error {
			service := ""
			if len(cmd.Flags().Args()) > 0 {
				service = cmd.Flags().Args()[0]
			}

			return runLogs(cmd, service, follow, tail)
		}),
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", true, "Keep streaming until interrupted")
	cmd.Flags().Int64Var(&tail, "tail", defaultLogTail, "Trailing lines fetched per pod")

	return cmd
}

func runLogs(cmd *cobra.Command, service string, follow bool, tail int64) error {
	environment, err := configmanager.NewConfigManager(cmd.OutOrStdout()).LoadConfigSilent()
	if err != nil {
		return err
	}

	selector, ok := airflow.LogSelector(service)
	if !ok {
		return fmt.Errorf("unknown service %q, expected one of: airflow, scheduler, "+
			"webserver, worker, triggerer", service)
	}

	clientset, err := k8s.NewClientset(
		environment.Connection.Kubeconfig, environment.KubeContext(),
	)
	if err != nil {
		return fmt.Errorf("build kubernetes client: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return k8s.StreamPodLogs(ctx, clientset, k8s.LogOptions{
		Namespace:     environment.Chart.Namespace,
		LabelSelector: selector,
		Follow:        follow,
		TailLines:     tail,
	}, cmd.OutOrStdout())
}
