package cmd

import (
	runtime "github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"github.com/cdp-platform/cdp-dev/pkg/utils/timer"
	"github.com/spf13/cobra"
)

// NewStartCmd creates and returns the start command.
func NewStartCmd(runtimeContainer *runtime.Runtime) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Resume a stopped environment",
		Long: `Resume a previously stopped environment: start the cluster's node containers,
wait for the Airflow workloads to come back, and reopen the tunnels.

The chart is only reinstalled when the configured version differs from the
installed one. A ready environment does nothing.`,
		SilenceUsage: true,
		RunE: runtime.RunEWithRuntime(runtimeContainer, runtime.WithTimer(
			func(cmd *cobra.Command, injector runtime.Injector, tmr timer.Timer) error {
				return runStart(cmd, injector, tmr, watch)
			},
		)),
	}

	cmd.Flags().BoolVar(&watch, "watch", false,
		"Keep running and supervise the tunnels until interrupted")

	return cmd
}

func runStart(
	cmd *cobra.Command,
	injector runtime.Injector,
	tmr timer.Timer,
	watch bool,
) error {
	out := cmd.OutOrStdout()

	tmr.Start()
	notify.Titlef(out, "▶️", "Start environment...")

	env, err := buildLifecycle(cmd, injector)
	if err != nil {
		return err
	}

	result, err := env.orchestrator.Start(cmd.Context())
	if err != nil {
		return err
	}

	if result.NoOp {
		notify.Successf(out, "nothing to do, environment already running")

		return nil
	}

	reportRelease(out, result)
	reportServices(out, env)
	notify.SuccessWithTimerf(out, tmr, "environment running")

	if watch {
		return superviseTunnels(cmd, env)
	}

	return nil
}
