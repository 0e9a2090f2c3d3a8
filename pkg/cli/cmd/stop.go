package cmd

import (
	runtime "github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"github.com/cdp-platform/cdp-dev/pkg/utils/timer"
	"github.com/spf13/cobra"
)

// NewStopCmd creates and returns the stop command.
func NewStopCmd(runtimeContainer *runtime.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the environment, preserving all cluster state",
		Long: `Stop the environment without losing anything: close the tunnels and stop the
cluster's node containers. Databases, DAG runs and the installed release
survive a stop and come back with start.`,
		SilenceUsage: true,
		RunE: runtime.RunEWithRuntime(runtimeContainer, runtime.WithTimer(
			func(cmd *cobra.Command, injector runtime.Injector, tmr timer.Timer) error {
				return runStop(cmd, injector, tmr)
			},
		)),
	}

	return cmd
}

func runStop(cmd *cobra.Command, injector runtime.Injector, tmr timer.Timer) error {
	out := cmd.OutOrStdout()

	tmr.Start()
	notify.Titlef(out, "⏹️", "Stop environment...")

	env, err := buildLifecycle(cmd, injector)
	if err != nil {
		return err
	}

	result, err := env.orchestrator.Stop(cmd.Context())
	if err != nil {
		return err
	}

	if result.NoOp {
		notify.Successf(out, "nothing to do, environment not running")

		return nil
	}

	notify.SuccessWithTimerf(out, tmr, "environment stopped")

	return nil
}
