package airflow_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/client/helm"
	"github.com/cdp-platform/cdp-dev/pkg/svc/installer/airflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"
)

var errHelmBoom = errors.New("helm boom")

// fakeHelm scripts the helm.Interface calls the installer makes.
type fakeHelm struct {
	repos        []helm.RepositoryEntry
	specs        []helm.ChartSpec
	uninstalled  []string
	existing     *helm.ReleaseInfo
	installInfo  *helm.ReleaseInfo
	addRepoErr   error
	installErr   error
	uninstallErr error
}

func (f *fakeHelm) InstallOrUpgradeChart(
	_ context.Context,
	spec *helm.ChartSpec,
) (*helm.ReleaseInfo, error) {
	f.specs = append(f.specs, *spec)

	if f.installErr != nil {
		return nil, f.installErr
	}

	return f.installInfo, nil
}

func (f *fakeHelm) GetRelease(_ context.Context, _, _ string) (*helm.ReleaseInfo, error) {
	if f.existing == nil {
		return nil, helm.ErrReleaseNotFound
	}

	return f.existing, nil
}

func (f *fakeHelm) UninstallRelease(_ context.Context, releaseName, _ string) error {
	f.uninstalled = append(f.uninstalled, releaseName)

	return f.uninstallErr
}

func (f *fakeHelm) AddRepository(_ context.Context, entry *helm.RepositoryEntry) error {
	f.repos = append(f.repos, *entry)

	return f.addRepoErr
}

func testEnvironment() *v1alpha1.Environment {
	environment := v1alpha1.NewEnvironment()
	environment.Timeouts.Readiness = 50 * time.Millisecond

	return environment
}

func readyDeployment(name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: v1alpha1.DefaultNamespace},
		Spec:       appsv1.DeploymentSpec{Replicas: ptr.To(int32(1))},
		Status:     appsv1.DeploymentStatus{ReadyReplicas: 1},
	}
}

func readyStatefulSet(name string) *appsv1.StatefulSet {
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: v1alpha1.DefaultNamespace},
		Spec:       appsv1.StatefulSetSpec{Replicas: ptr.To(int32(1))},
		Status:     appsv1.StatefulSetStatus{ReadyReplicas: 1},
	}
}

// readyClientset serves every chart workload as already converged.
func readyClientset() kubernetes.Interface {
	release := v1alpha1.DefaultReleaseName

	return fake.NewClientset(
		readyDeployment(release+"-scheduler"),
		readyDeployment(release+"-webserver"),
		readyStatefulSet(release+"-worker"),
		readyStatefulSet(release+"-triggerer"),
	)
}

func releaseInfo(revision int) *helm.ReleaseInfo {
	return &helm.ReleaseInfo{
		Name:         v1alpha1.DefaultReleaseName,
		Namespace:    v1alpha1.DefaultNamespace,
		Revision:     revision,
		ChartVersion: "1.15.0",
		AppVersion:   "2.10.2",
	}
}

func TestInstallOrUpgrade_FreshInstall(t *testing.T) {
	t.Parallel()

	helmClient := &fakeHelm{installInfo: releaseInfo(1)}
	clientset := readyClientset()
	installer := airflow.NewInstaller(testEnvironment(), helmClient, clientset, io.Discard)

	release, err := installer.InstallOrUpgrade(context.Background())

	require.NoError(t, err)
	assert.False(t, release.Upgraded)
	assert.Equal(t, "1.15.0", release.ChartVersion)
	assert.Equal(t, 1, release.Revision)

	require.Len(t, helmClient.repos, 1)
	assert.Equal(t, v1alpha1.DefaultChartRepositoryName, helmClient.repos[0].Name)

	require.Len(t, helmClient.specs, 1)
	assert.Equal(t, v1alpha1.DefaultReleaseName, helmClient.specs[0].ReleaseName)
	assert.False(t, helmClient.specs[0].Wait, "readiness is polled explicitly, not by helm")

	// The installer materializes the target namespace itself.
	_, err = clientset.CoreV1().
		Namespaces().
		Get(context.Background(), v1alpha1.DefaultNamespace, metav1.GetOptions{})
	require.NoError(t, err)
}

func TestInstallOrUpgrade_ExistingReleaseUpgrades(t *testing.T) {
	t.Parallel()

	helmClient := &fakeHelm{existing: releaseInfo(1), installInfo: releaseInfo(2)}
	installer := airflow.NewInstaller(testEnvironment(), helmClient, readyClientset(), io.Discard)

	release, err := installer.InstallOrUpgrade(context.Background())

	require.NoError(t, err)
	assert.True(t, release.Upgraded)
	assert.Equal(t, 2, release.Revision)
}

func TestInstallOrUpgrade_HelmFailureClassified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(f *fakeHelm)
	}{
		{"repository registration fails", func(f *fakeHelm) { f.addRepoErr = errHelmBoom }},
		{"chart operation fails", func(f *fakeHelm) { f.installErr = errHelmBoom }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			helmClient := &fakeHelm{installInfo: releaseInfo(1)}
			tc.mod(helmClient)

			installer := airflow.NewInstaller(
				testEnvironment(), helmClient, readyClientset(), io.Discard,
			)

			_, err := installer.InstallOrUpgrade(context.Background())

			require.ErrorIs(t, err, airflow.ErrInstallFailed)
			require.ErrorIs(t, err, errHelmBoom)
		})
	}
}

func TestInstallOrUpgrade_ComponentTimeoutNamesComponent(t *testing.T) {
	t.Parallel()

	release := v1alpha1.DefaultReleaseName

	// Scheduler ready, webserver missing: the error must name the webserver.
	clientset := fake.NewClientset(
		readyDeployment(release+"-scheduler"),
		readyStatefulSet(release+"-worker"),
		readyStatefulSet(release+"-triggerer"),
	)

	helmClient := &fakeHelm{installInfo: releaseInfo(1)}
	installer := airflow.NewInstaller(testEnvironment(), helmClient, clientset, io.Discard)

	_, err := installer.InstallOrUpgrade(context.Background())

	var notReady *airflow.NotReadyError

	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, "webserver", notReady.Component)
	assert.Contains(t, err.Error(), "cdp-dev logs webserver")
}

func TestNotReadyError_HintNamesLoggableComponentsOnly(t *testing.T) {
	t.Parallel()

	webserver := &airflow.NotReadyError{Component: "webserver", Elapsed: 90 * time.Second}
	assert.Contains(t, webserver.Error(), "cdp-dev logs webserver")

	// The API server has no log selector, so no hint is offered.
	apiServer := &airflow.NotReadyError{Component: "api-server", Elapsed: time.Minute}
	assert.NotContains(t, apiServer.Error(), "cdp-dev logs")
}

func TestInstalledVersion(t *testing.T) {
	t.Parallel()

	helmClient := &fakeHelm{existing: releaseInfo(3)}
	installer := airflow.NewInstaller(testEnvironment(), helmClient, readyClientset(), io.Discard)

	version, err := installer.InstalledVersion(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "1.15.0", version)
}

func TestInstalledVersion_NotInstalled(t *testing.T) {
	t.Parallel()

	installer := airflow.NewInstaller(testEnvironment(), &fakeHelm{}, readyClientset(), io.Discard)

	version, err := installer.InstalledVersion(context.Background())

	require.NoError(t, err)
	assert.Empty(t, version)
}

func TestUninstall(t *testing.T) {
	t.Parallel()

	helmClient := &fakeHelm{existing: releaseInfo(1)}
	installer := airflow.NewInstaller(testEnvironment(), helmClient, readyClientset(), io.Discard)

	require.NoError(t, installer.Uninstall(context.Background()))
	assert.Equal(t, []string{v1alpha1.DefaultReleaseName}, helmClient.uninstalled)
}

func TestUninstall_MissingReleaseIsNoOp(t *testing.T) {
	t.Parallel()

	helmClient := &fakeHelm{}
	installer := airflow.NewInstaller(testEnvironment(), helmClient, readyClientset(), io.Discard)

	require.NoError(t, installer.Uninstall(context.Background()))
	assert.Empty(t, helmClient.uninstalled)
}

func TestLogSelector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		service  string
		selector string
		known    bool
	}{
		{"", "app.kubernetes.io/name=airflow", true},
		{"airflow", "app.kubernetes.io/name=airflow", true},
		{"scheduler", "component=scheduler", true},
		{"worker", "component=worker", true},
		{"databse", "", false},
	}

	for _, tc := range tests {
		selector, known := airflow.LogSelector(tc.service)

		assert.Equal(t, tc.known, known, "service %q", tc.service)
		assert.Equal(t, tc.selector, selector, "service %q", tc.service)
	}
}
