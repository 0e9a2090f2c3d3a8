package orchestrator

import (
	"context"
	"fmt"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/svc/installer/airflow"
	"github.com/cdp-platform/cdp-dev/pkg/svc/preflight"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
)

// Operation step names, recorded in state and error messages so a failed
// operation tells the user exactly how far it got.
const (
	stepPreflight   = "preflight"
	stepCluster     = "cluster"
	stepApplication = "application"
	stepTunnels     = "tunnels"
)

// InstallOptions tunes the install operation.
type InstallOptions struct {
	// SkipPreflight bypasses the prerequisite gate.
	SkipPreflight bool
}

// Install provisions the full environment: prerequisites, cluster, release,
// tunnels. Re-running install on a ready environment is a no-op success.
// Progress is committed after each step, so an interrupted install resumes
// where it stopped.
func (o *Orchestrator) Install(ctx context.Context, opts InstallOptions) (Result, error) {
	result := Result{Operation: "install"}

	err := o.deps.Store.WithTransaction(ctx, func() error {
		environmentState, err := o.deps.Store.Load()
		if err != nil {
			return err
		}

		if environmentState.ClusterStatus == v1alpha1.ClusterStatusReady &&
			environmentState.AppStatus == v1alpha1.AppStatusReady {
			result.NoOp = true

			return nil
		}

		if !opts.SkipPreflight {
			gateErr := o.runPreflight(ctx)
			if gateErr != nil {
				return gateErr
			}
		}

		environmentState.MarkOperation("install")

		clusterErr := o.ensureCluster(ctx, environmentState, "install")
		if clusterErr != nil {
			return clusterErr
		}

		release, appErr := o.converge(ctx, environmentState, "install", false)
		if appErr != nil {
			return appErr
		}

		result.Release = release

		return o.startTunnels(ctx, environmentState, "install")
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

// runPreflight checks prerequisites and renders the report. State is never
// mutated by a failed gate.
func (o *Orchestrator) runPreflight(ctx context.Context) error {
	report, err := o.deps.Preflight.Check(ctx)
	if err != nil {
		return fmt.Errorf("install: after %s: %w", stepPreflight, err)
	}

	report.Render(o.deps.Out)

	if report.Unsatisfied() {
		return fmt.Errorf("install: %w", preflight.ErrUnsatisfied)
	}

	return nil
}

// ensureCluster converges the cluster to running and commits the status.
func (o *Orchestrator) ensureCluster(
	ctx context.Context,
	environmentState *v1alpha1.EnvironmentState,
	operation string,
) error {
	environmentState.SetClusterStatus(v1alpha1.ClusterStatusCreating)

	saveErr := o.deps.Store.Save(environmentState)
	if saveErr != nil {
		return saveErr
	}

	notify.Activityf(o.deps.Out, "ensuring cluster %q is running", o.environment.ClusterName)

	err := o.deps.Cluster.EnsureRunning(ctx)
	if err != nil {
		environmentState.SetClusterStatus(v1alpha1.ClusterStatusError)
		environmentState.MarkError(operation, err)
		_ = o.deps.Store.Save(environmentState)

		return fmt.Errorf("%s: after %s: %w", operation, stepCluster, err)
	}

	environmentState.SetClusterStatus(v1alpha1.ClusterStatusReady)

	return o.deps.Store.Save(environmentState)
}

// converge installs or upgrades the release, or, when skipUnchanged is set
// and the installed chart version already matches the configured one, only
// waits for the workloads to report ready again.
func (o *Orchestrator) converge(
	ctx context.Context,
	environmentState *v1alpha1.EnvironmentState,
	operation string,
	skipUnchanged bool,
) (*airflow.Release, error) {
	if skipUnchanged && o.installedVersionMatches(ctx, environmentState) {
		notify.Activityf(
			o.deps.Out,
			"chart %s unchanged, waiting for workloads",
			environmentState.InstalledChartVersion,
		)

		waitErr := o.deps.Installer.WaitUntilReady(ctx)
		if waitErr != nil {
			environmentState.SetAppStatus(v1alpha1.AppStatusError)
			environmentState.MarkError(operation, waitErr)
			_ = o.deps.Store.Save(environmentState)

			return nil, fmt.Errorf("%s: after %s: %w", operation, stepApplication, waitErr)
		}

		environmentState.SetAppStatus(v1alpha1.AppStatusReady)

		return nil, o.deps.Store.Save(environmentState)
	}

	environmentState.SetAppStatus(v1alpha1.AppStatusInstalling)

	saveErr := o.deps.Store.Save(environmentState)
	if saveErr != nil {
		return nil, saveErr
	}

	release, err := o.deps.Installer.InstallOrUpgrade(ctx)
	if err != nil {
		environmentState.SetAppStatus(v1alpha1.AppStatusError)
		environmentState.MarkError(operation, err)
		_ = o.deps.Store.Save(environmentState)

		return nil, fmt.Errorf("%s: after %s: %w", operation, stepApplication, err)
	}

	environmentState.InstalledChartVersion = release.ChartVersion
	environmentState.SetAppStatus(v1alpha1.AppStatusReady)

	return release, o.deps.Store.Save(environmentState)
}

// startTunnels starts the service tunnels and persists their records. A
// contested port fails the operation, but the cluster and release stay ready.
func (o *Orchestrator) startTunnels(
	ctx context.Context,
	environmentState *v1alpha1.EnvironmentState,
	operation string,
) error {
	notify.Activityf(o.deps.Out, "starting service tunnels")

	records, err := o.deps.Forwarder.StartAll(ctx)

	environmentState.PortForwards = records

	if err != nil {
		environmentState.MarkError(operation, err)
		_ = o.deps.Store.Save(environmentState)

		return fmt.Errorf("%s: after %s: %w", operation, stepTunnels, err)
	}

	return o.deps.Store.Save(environmentState)
}

// installedVersionMatches reports whether the installed chart version equals
// the configured one. A missing persisted version falls back to asking helm.
// An empty configured version pins nothing, so any installed version matches.
func (o *Orchestrator) installedVersionMatches(
	ctx context.Context,
	environmentState *v1alpha1.EnvironmentState,
) bool {
	installed := environmentState.InstalledChartVersion
	if installed == "" {
		queried, err := o.deps.Installer.InstalledVersion(ctx)
		if err != nil || queried == "" {
			return false
		}

		installed = queried
	}

	configured := o.environment.Chart.Version

	return configured == "" || configured == installed
}
