package orchestrator

import (
	"context"
	"fmt"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/svc/preflight"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
)

// Start resumes a stopped environment: node containers, workloads, tunnels.
// The chart is reinstalled only when the configured version differs from the
// installed one. A ready environment is a no-op success.
func (o *Orchestrator) Start(ctx context.Context) (Result, error) {
	result := Result{Operation: "start"}

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

		pingErr := o.deps.Pinger.Ping(ctx)
		if pingErr != nil {
			return fmt.Errorf("start: %w: %w", preflight.ErrUnsatisfied, pingErr)
		}

		environmentState.MarkOperation("start")

		clusterErr := o.ensureCluster(ctx, environmentState, "start")
		if clusterErr != nil {
			return clusterErr
		}

		release, appErr := o.converge(ctx, environmentState, "start", true)
		if appErr != nil {
			return appErr
		}

		result.Release = release

		return o.startTunnels(ctx, environmentState, "start")
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

// Stop shuts the environment down while preserving all cluster state:
// tunnels are terminated, node containers stopped. An already stopped or
// absent environment is a no-op success.
func (o *Orchestrator) Stop(ctx context.Context) (Result, error) {
	result := Result{Operation: "stop"}

	err := o.deps.Store.WithTransaction(ctx, func() error {
		environmentState, err := o.deps.Store.Load()
		if err != nil {
			return err
		}

		if environmentState.ClusterStatus == v1alpha1.ClusterStatusStopped ||
			environmentState.ClusterStatus == v1alpha1.ClusterStatusAbsent {
			result.NoOp = true

			return nil
		}

		environmentState.MarkOperation("stop")

		stopErr := o.deps.Forwarder.StopAll(ctx)
		if stopErr != nil {
			// Tunnel teardown is best effort; a leaked process must not
			// leave the cluster running.
			notify.Warningf(o.deps.Out, "some tunnels did not stop cleanly: %v", stopErr)
		}

		environmentState.PortForwards = o.deps.Forwarder.Records()

		saveErr := o.deps.Store.Save(environmentState)
		if saveErr != nil {
			return saveErr
		}

		notify.Activityf(o.deps.Out, "stopping cluster %q", o.environment.ClusterName)

		clusterErr := o.deps.Cluster.Stop(ctx)
		if clusterErr != nil {
			environmentState.SetClusterStatus(v1alpha1.ClusterStatusError)
			environmentState.MarkError("stop", clusterErr)
			_ = o.deps.Store.Save(environmentState)

			return fmt.Errorf("stop: after %s: %w", stepCluster, clusterErr)
		}

		environmentState.SetClusterStatus(v1alpha1.ClusterStatusStopped)

		return o.deps.Store.Save(environmentState)
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

// DestroyOptions tunes the destroy operation.
type DestroyOptions struct {
	// ResetCorruptState proceeds even when the state file cannot be parsed,
	// rebuilding from the default state. The CLI gates this behind an
	// explicit confirmation.
	ResetCorruptState bool
}

// Destroy deletes the environment completely: tunnels, cluster, persisted
// state. It works from any state, tolerates half-deleted clusters, and
// retries the cluster deletion once on failure before giving up.
func (o *Orchestrator) Destroy(ctx context.Context, opts DestroyOptions) (Result, error) {
	result := Result{Operation: "destroy"}

	err := o.deps.Store.WithTransaction(ctx, func() error {
		environmentState, err := o.deps.Store.Load()
		if err != nil {
			if !opts.ResetCorruptState {
				return err
			}

			notify.Warningf(o.deps.Out, "state file unreadable, rebuilding from scratch: %v", err)
			environmentState = v1alpha1.NewEnvironmentState(o.environment.ClusterName)
		}

		environmentState.MarkOperation("destroy")

		stopErr := o.deps.Forwarder.StopAll(ctx)
		if stopErr != nil {
			notify.Warningf(o.deps.Out, "some tunnels did not stop cleanly: %v", stopErr)
		}

		if environmentState.AppStatus != v1alpha1.AppStatusAbsent {
			notify.Activityf(o.deps.Out, "uninstalling release %q", o.environment.Chart.ReleaseName)

			uninstallErr := o.deps.Installer.Uninstall(ctx)
			if uninstallErr != nil {
				// Uninstall is best effort; cluster deletion removes the
				// release regardless.
				notify.Warningf(o.deps.Out, "release uninstall failed: %v", uninstallErr)
			}
		}

		notify.Activityf(o.deps.Out, "deleting cluster %q", o.environment.ClusterName)

		destroyErr := o.deps.Cluster.Destroy(ctx)
		if destroyErr != nil {
			// One bounded retry: deletions routinely fail transiently while
			// containers shut down.
			notify.Warningf(o.deps.Out, "cluster deletion failed, retrying once: %v", destroyErr)

			destroyErr = o.deps.Cluster.Destroy(ctx)
		}

		if destroyErr != nil {
			environmentState.SetClusterStatus(v1alpha1.ClusterStatusError)
			environmentState.MarkError("destroy", destroyErr)
			_ = o.deps.Store.Save(environmentState)

			return fmt.Errorf("destroy: after %s: %w", stepCluster, destroyErr)
		}

		return o.deps.Store.Reset()
	})
	if err != nil {
		return result, err
	}

	return result, nil
}
