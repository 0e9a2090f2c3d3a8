package cmd

import (
	"io"

	runtime "github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/svc/orchestrator"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"github.com/cdp-platform/cdp-dev/pkg/utils/timer"
	"github.com/spf13/cobra"
)

// NewInstallCmd creates and returns the install command.
func NewInstallCmd(runtimeContainer *runtime.Runtime) *cobra.Command {
	var (
		skipPreflight bool
		watch         bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Provision the cluster, install Airflow and open tunnels",
		Long: `Provision the full local environment: check prerequisites, create the kind
cluster, install the Airflow chart, wait for its workloads, and open the
configured localhost tunnels.

Re-running install on a ready environment does nothing. After a failure the
command resumes from the last committed step.`,
		SilenceUsage: true,
		RunE: runtime.RunEWithRuntime(runtimeContainer, runtime.WithTimer(
			func(cmd *cobra.Command, injector runtime.Injector, tmr timer.Timer) error {
				return runInstall(cmd, injector, tmr, skipPreflight, watch)
			},
		)),
	}

	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip prerequisite checks")
	cmd.Flags().BoolVar(&watch, "watch", false,
		"Keep running and supervise the tunnels until interrupted")

	return cmd
}

func runInstall(
	cmd *cobra.Command,
	injector runtime.Injector,
	tmr timer.Timer,
	skipPreflight bool,
	watch bool,
) error {
	out := cmd.OutOrStdout()

	tmr.Start()
	notify.Titlef(out, "📦", "Install environment...")

	env, err := buildLifecycle(cmd, injector)
	if err != nil {
		return err
	}

	result, err := env.orchestrator.Install(cmd.Context(), orchestrator.InstallOptions{
		SkipPreflight: skipPreflight,
	})
	if err != nil {
		return err
	}

	if result.NoOp {
		notify.Successf(out, "nothing to do, environment already ready")

		return nil
	}

	reportRelease(out, result)
	reportServices(out, env)
	notify.SuccessWithTimerf(out, tmr, "environment ready")

	if watch {
		return superviseTunnels(cmd, env)
	}

	return nil
}

func reportRelease(out io.Writer, result orchestrator.Result) {
	if result.Release == nil {
		return
	}

	verb := "installed"
	if result.Release.Upgraded {
		verb = "upgraded"
	}

	notify.Infof(out, "release %q %s (chart %s, airflow %s)",
		result.Release.Name, verb, result.Release.ChartVersion, result.Release.AppVersion)
}

func reportServices(out io.Writer, env *lifecycle) {
	for _, svc := range env.environment.Services {
		notify.Infof(out, "%s available at http://localhost:%d", svc.Name, svc.LocalPort)
	}
}
