// Package main is the entry point for the cdp-dev application.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/cdp-platform/cdp-dev/internal/buildmeta"
	"github.com/cdp-platform/cdp-dev/pkg/cli/cmd"
	"github.com/cdp-platform/cdp-dev/pkg/svc/installer/airflow"
	"github.com/cdp-platform/cdp-dev/pkg/svc/preflight"
	"github.com/cdp-platform/cdp-dev/pkg/svc/provisioner/cluster/clustererr"
	"github.com/cdp-platform/cdp-dev/pkg/svc/state"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
)

// Exit codes. Scripts around cdp-dev branch on these, so each error class
// keeps a stable code.
const (
	exitOK           = 0
	exitGeneric      = 1
	exitPrerequisite = 2
	exitCluster      = 3
	exitInstall      = 4
	exitConcurrent   = 5
)

func main() {
	exitCode := runSafely(os.Args[1:], runWithArgs, os.Stderr)

	if exitCode != exitOK {
		os.Exit(exitCode)
	}
}

//nolint:nonamedreturns // Named return simplifies panic recovery logic.
func runSafely(args []string, runner func([]string) int, errWriter io.Writer) (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			panicMessage := fmt.Sprintf("panic recovered: %v\n%s", r, debug.Stack())
			notify.WriteMessage(notify.Message{
				Type:    notify.ErrorType,
				Content: panicMessage,
				Writer:  errWriter,
			})

			exitCode = exitGeneric
		}
	}()

	exitCode = runner(args)

	return exitCode
}

func runWithArgs(args []string) int {
	rootCmd := cmd.NewRootCmd(buildmeta.Version, buildmeta.Commit, buildmeta.Date)
	rootCmd.SetArgs(args)

	err := cmd.Execute(rootCmd)
	if err != nil {
		notify.Errorf(rootCmd.ErrOrStderr(), "%v", err)

		return classify(err)
	}

	return exitOK
}

// classify maps an error chain to its exit code.
func classify(err error) int {
	var notReady *airflow.NotReadyError

	switch {
	case errors.Is(err, preflight.ErrUnsatisfied):
		return exitPrerequisite
	case errors.Is(err, state.ErrConcurrentOperation):
		return exitConcurrent
	case errors.Is(err, clustererr.ErrCreateFailed),
		errors.Is(err, clustererr.ErrStartFailed),
		errors.Is(err, clustererr.ErrStopFailed),
		errors.Is(err, clustererr.ErrDeleteFailed),
		errors.Is(err, clustererr.ErrClusterNotFound):
		return exitCluster
	case errors.Is(err, airflow.ErrInstallFailed), errors.As(err, &notReady):
		return exitInstall
	default:
		return exitGeneric
	}
}
