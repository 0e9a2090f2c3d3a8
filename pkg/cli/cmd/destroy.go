package cmd

import (
	"github.com/cdp-platform/cdp-dev/pkg/cli/ui/confirm"
	runtime "github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/svc/orchestrator"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"github.com/cdp-platform/cdp-dev/pkg/utils/timer"
	"github.com/spf13/cobra"
)

// NewDestroyCmd creates and returns the destroy command.
func NewDestroyCmd(runtimeContainer *runtime.Runtime) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete the environment completely",
		Long: `Delete the environment completely: the tunnels, the kind cluster with
everything inside it, and the persisted state. All Airflow data is lost.

Destroy works from any state and tolerates half-deleted clusters, so it is
also the recovery path after a failed install or a corrupt state file.`,
		SilenceUsage: true,
		RunE: runtime.RunEWithRuntime(runtimeContainer, runtime.WithTimer(
			func(cmd *cobra.Command, injector runtime.Injector, tmr timer.Timer) error {
				return runDestroy(cmd, injector, tmr, force)
			},
		)),
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")

	return cmd
}

func runDestroy(
	cmd *cobra.Command,
	injector runtime.Injector,
	tmr timer.Timer,
	force bool,
) error {
	out := cmd.OutOrStdout()

	tmr.Start()
	notify.Titlef(out, "🔥", "Destroy environment...")

	env, err := buildLifecycle(cmd, injector)
	if err != nil {
		return err
	}

	if !confirm.ShouldSkipPrompt(force) {
		confirmed := confirm.PromptForConfirmation(out,
			"This deletes the cluster, all Airflow data and the persisted state")
		if !confirmed {
			return confirm.ErrCancelled
		}
	}

	// The confirmation (or --force) also covers rebuilding from a corrupt
	// state file.
	_, err = env.orchestrator.Destroy(cmd.Context(), orchestrator.DestroyOptions{
		ResetCorruptState: true,
	})
	if err != nil {
		return err
	}

	notify.SuccessWithTimerf(out, tmr, "environment destroyed")

	return nil
}
