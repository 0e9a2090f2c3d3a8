// Package airflow installs the Apache Airflow chart and polls its workloads
// until they report ready.
package airflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/client/helm"
	"github.com/cdp-platform/cdp-dev/pkg/k8s"
	"github.com/cdp-platform/cdp-dev/pkg/k8s/readiness"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"k8s.io/client-go/kubernetes"
)

// ErrInstallFailed classifies install and upgrade failures for callers that
// map error classes to exit codes.
var ErrInstallFailed = errors.New("airflow install failed")

// NotReadyError reports a component that did not reach readiness within the
// readiness timeout. The release itself may still converge afterwards.
type NotReadyError struct {
	// Component is the chart component that timed out.
	Component string
	// Elapsed is how long the poll waited.
	Elapsed time.Duration
}

func (e *NotReadyError) Error() string {
	msg := fmt.Sprintf(
		"component %q not ready after %s",
		e.Component, e.Elapsed.Round(time.Second),
	)

	if _, known := LogSelector(e.Component); known {
		msg += fmt.Sprintf(" (inspect it with: cdp-dev logs %s)", e.Component)
	}

	return msg
}

// Release describes the installed chart release.
type Release struct {
	// Name is the Helm release name.
	Name string
	// Namespace the release lives in.
	Namespace string
	// ChartVersion is the installed chart version.
	ChartVersion string
	// AppVersion is the Airflow version the chart ships.
	AppVersion string
	// Revision is the Helm revision number.
	Revision int
	// Upgraded is true when an existing release was upgraded rather than installed.
	Upgraded bool
}

// Installer converges the Airflow release: repository registration, namespace
// creation, install-or-upgrade, and workload readiness.
type Installer struct {
	environment *v1alpha1.Environment
	helmClient  helm.Interface
	clientset   kubernetes.Interface
	out         io.Writer
}

// NewInstaller creates an Installer for the environment.
func NewInstaller(
	environment *v1alpha1.Environment,
	helmClient helm.Interface,
	clientset kubernetes.Interface,
	out io.Writer,
) *Installer {
	return &Installer{
		environment: environment,
		helmClient:  helmClient,
		clientset:   clientset,
		out:         out,
	}
}

// InstallOrUpgrade converges the release and waits for its workloads.
// Helm-level waiting is disabled; readiness is polled explicitly so a timeout
// can name the component that lagged.
func (i *Installer) InstallOrUpgrade(ctx context.Context) (*Release, error) {
	chart := i.environment.Chart

	notify.Activityf(i.out, "registering helm repository %q", chart.RepositoryName)

	err := i.helmClient.AddRepository(ctx, &helm.RepositoryEntry{
		Name: chart.RepositoryName,
		URL:  chart.RepositoryURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: add chart repository: %w", ErrInstallFailed, err)
	}

	err = k8s.EnsureNamespace(ctx, i.clientset, chart.Namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: ensure namespace %q: %w", ErrInstallFailed, chart.Namespace, err)
	}

	existing, getErr := i.helmClient.GetRelease(ctx, chart.ReleaseName, chart.Namespace)
	upgraded := getErr == nil && existing != nil

	if upgraded {
		notify.Activityf(i.out, "upgrading release %q (chart %s)", chart.ReleaseName, chart.Name)
	} else {
		notify.Activityf(i.out, "installing release %q (chart %s)", chart.ReleaseName, chart.Name)
	}

	spec := &helm.ChartSpec{
		ReleaseName:     chart.ReleaseName,
		ChartName:       chart.Name,
		Namespace:       chart.Namespace,
		Version:         chart.Version,
		CreateNamespace: false,
		Wait:            false,
		Timeout:         i.environment.Timeouts.Install,
		RepoURL:         chart.RepositoryURL,
	}
	if chart.ValuesFile != "" {
		spec.ValueFiles = []string{chart.ValuesFile}
	}

	info, err := i.helmClient.InstallOrUpgradeChart(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	waitErr := i.waitForComponents(ctx)
	if waitErr != nil {
		return nil, waitErr
	}

	return &Release{
		Name:         info.Name,
		Namespace:    info.Namespace,
		ChartVersion: info.ChartVersion,
		AppVersion:   info.AppVersion,
		Revision:     info.Revision,
		Upgraded:     upgraded,
	}, nil
}

// InstalledVersion returns the chart version of the existing release, or
// empty when the release is not installed.
func (i *Installer) InstalledVersion(ctx context.Context) (string, error) {
	chart := i.environment.Chart

	info, err := i.helmClient.GetRelease(ctx, chart.ReleaseName, chart.Namespace)
	if err != nil {
		if errors.Is(err, helm.ErrReleaseNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("get release: %w", err)
	}

	return info.ChartVersion, nil
}

// Uninstall removes the release. A missing release is already uninstalled.
func (i *Installer) Uninstall(ctx context.Context) error {
	chart := i.environment.Chart

	_, err := i.helmClient.GetRelease(ctx, chart.ReleaseName, chart.Namespace)
	if err != nil {
		if errors.Is(err, helm.ErrReleaseNotFound) {
			return nil
		}

		return fmt.Errorf("get release: %w", err)
	}

	err = i.helmClient.UninstallRelease(ctx, chart.ReleaseName, chart.Namespace)
	if err != nil {
		return fmt.Errorf("uninstall release: %w", err)
	}

	return nil
}

// WaitUntilReady polls the expected workloads of an already installed release
// until ready. Used when the chart itself is unchanged and only the workloads
// need to come back, for example after a stopped cluster resumes.
func (i *Installer) WaitUntilReady(ctx context.Context) error {
	return i.waitForComponents(ctx)
}

// waitForComponents polls the API server and then every expected workload
// until ready or the readiness timeout expires.
func (i *Installer) waitForComponents(ctx context.Context) error {
	timeout := i.environment.Timeouts.Readiness
	namespace := i.environment.Chart.Namespace

	notify.Activityf(i.out, "waiting for the kubernetes api server")

	apiStarted := time.Now()

	apiErr := readiness.WaitForAPIServerReady(ctx, i.clientset, timeout)
	if apiErr != nil {
		if errors.Is(apiErr, readiness.ErrTimeoutExceeded) {
			return &NotReadyError{
				Component: "api-server",
				Elapsed:   time.Since(apiStarted),
			}
		}

		return fmt.Errorf("wait for api server: %w", apiErr)
	}

	for _, component := range ExpectedComponents(i.environment.Chart.ReleaseName) {
		notify.Activityf(i.out, "waiting for %s to become ready", component.Name)

		started := time.Now()

		var err error

		switch component.Kind {
		case WorkloadDeployment:
			err = readiness.WaitForDeploymentReady(
				ctx, i.clientset, namespace, component.WorkloadName, timeout,
			)
		case WorkloadStatefulSet:
			err = readiness.WaitForStatefulSetReady(
				ctx, i.clientset, namespace, component.WorkloadName, timeout,
			)
		}

		if err != nil {
			if errors.Is(err, readiness.ErrTimeoutExceeded) {
				return &NotReadyError{
					Component: component.Name,
					Elapsed:   time.Since(started),
				}
			}

			return fmt.Errorf("wait for %s: %w", component.Name, err)
		}
	}

	return nil
}
