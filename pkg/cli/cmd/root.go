// Package cmd assembles the cdp-dev command tree.
package cmd

import (
	"fmt"

	runtime "github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/spf13/cobra"
)

const rootLong = `cdp-dev manages a local single-node Kubernetes cluster running Apache Airflow,
standing in for the managed platform during development.

The environment is driven by five lifecycle operations (install, start, stop,
status, destroy) plus a logs pass-through. Operations are idempotent: re-running
one converges the environment instead of failing.`

// NewRootCmd creates and returns the root command with version info and subcommands.
func NewRootCmd(version, commit, date string) *cobra.Command {
	runtimeContainer := runtime.NewRuntime()

	cmd := &cobra.Command{
		Use:          "cdp-dev",
		Short:        "Manage a local Airflow-on-Kubernetes developer environment",
		Long:         rootLong,
		RunE:         handleRootRunE,
		SilenceUsage: true,
	}

	cmd.Version = fmt.Sprintf("%s (Built on %s from Git SHA %s)", version, date, commit)

	cmd.AddCommand(NewInstallCmd(runtimeContainer))
	cmd.AddCommand(NewStartCmd(runtimeContainer))
	cmd.AddCommand(NewStopCmd(runtimeContainer))
	cmd.AddCommand(NewStatusCmd(runtimeContainer))
	cmd.AddCommand(NewLogsCmd(runtimeContainer))
	cmd.AddCommand(NewDestroyCmd(runtimeContainer))

	return cmd
}

// Execute runs the provided root command.
func Execute(cmd *cobra.Command) error {
	err := cmd.Execute()
	if err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}

	return nil
}

// handleRootRunE handles the bare root command.
func handleRootRunE(cmd *cobra.Command, _ []string) error {
	// The err can safely be ignored, as it can never fail at runtime.
	_ = cmd.Help()

	return nil
}
