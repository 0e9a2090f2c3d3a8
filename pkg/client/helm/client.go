// Package helm wraps the Helm v4 action API with the small surface the
// Airflow installer needs: repository registration, install-or-upgrade,
// release lookup and uninstall.
package helm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	helmv4action "helm.sh/helm/v4/pkg/action"
	helmv4loader "helm.sh/helm/v4/pkg/chart/loader"
	chartv2 "helm.sh/helm/v4/pkg/chart/v2"
	helmv4cli "helm.sh/helm/v4/pkg/cli"
	helmv4getter "helm.sh/helm/v4/pkg/getter"
	v1 "helm.sh/helm/v4/pkg/release/v1"
	repov1 "helm.sh/helm/v4/pkg/repo/v1"
	helmv4strvals "helm.sh/helm/v4/pkg/strvals"
	sigsyaml "sigs.k8s.io/yaml"
)

const (
	// DefaultTimeout defines the fallback Helm chart installation timeout.
	DefaultTimeout = 5 * time.Minute
	repoDirMode    = 0o750
	repoFileMode   = 0o640
)

var (
	// ErrReleaseNotFound is returned by GetRelease when no release exists.
	ErrReleaseNotFound = errors.New("helm: release not found")

	errReleaseNameRequired     = errors.New("helm: release name is required")
	errRepositoryEntryRequired = errors.New("helm: repository entry is required")
	errRepositoryNameRequired  = errors.New("helm: repository name is required")
	errRepositoryCacheUnset    = errors.New("helm: repository cache path is not set")
	errRepositoryConfigUnset   = errors.New("helm: repository config path is not set")
	errChartSpecRequired       = errors.New("helm: chart spec is required")
)

// ChartSpec describes a chart operation.
type ChartSpec struct {
	ReleaseName string
	ChartName   string
	Namespace   string
	Version     string

	CreateNamespace bool
	Wait            bool
	Timeout         time.Duration

	ValueFiles []string
	SetValues  map[string]string

	RepoURL string
}

// RepositoryEntry describes a Helm repository registered locally before chart
// operations.
type RepositoryEntry struct {
	Name string
	URL  string
}

// ReleaseInfo captures metadata about a Helm release after an operation.
type ReleaseInfo struct {
	Name         string
	Namespace    string
	Revision     int
	Status       string
	Chart        string
	ChartVersion string
	AppVersion   string
	Updated      time.Time
	Notes        string
}

// Interface defines the Helm functionality required by the installer.
type Interface interface {
	InstallOrUpgradeChart(ctx context.Context, spec *ChartSpec) (*ReleaseInfo, error)
	GetRelease(ctx context.Context, releaseName, namespace string) (*ReleaseInfo, error)
	UninstallRelease(ctx context.Context, releaseName, namespace string) error
	AddRepository(ctx context.Context, entry *RepositoryEntry) error
}

// Client is the default Helm v4 backed implementation.
type Client struct {
	actionConfig *helmv4action.Configuration
	settings     *helmv4cli.EnvSettings
}

var _ Interface = (*Client)(nil)

// NewClient creates a Helm client using the provided kubeconfig and context.
func NewClient(kubeConfig, kubeContext string) (*Client, error) {
	settings := helmv4cli.New()
	if kubeConfig != "" {
		settings.KubeConfig = kubeConfig
	}

	if kubeContext != "" {
		settings.KubeContext = kubeContext
	}

	actionConfig := new(helmv4action.Configuration)

	initErr := actionConfig.Init(
		settings.RESTClientGetter(),
		settings.Namespace(),
		os.Getenv("HELM_DRIVER"),
	)
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize helm action config: %w", initErr)
	}

	return &Client{actionConfig: actionConfig, settings: settings}, nil
}

// InstallOrUpgradeChart upgrades a release when it exists and installs it otherwise.
func (c *Client) InstallOrUpgradeChart(ctx context.Context, spec *ChartSpec) (*ReleaseInfo, error) {
	if spec == nil {
		return nil, errChartSpecRequired
	}

	cleanup, err := c.switchNamespace(spec.Namespace)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var rel *v1.Release

	histClient := helmv4action.NewHistory(c.actionConfig)
	histClient.Max = 1

	releases, histErr := histClient.Run(spec.ReleaseName)
	if histErr == nil && len(releases) > 0 {
		rel, err = c.upgradeRelease(ctx, spec)
	} else {
		rel, err = c.performInstall(ctx, spec)
	}

	if err != nil {
		return nil, err
	}

	return releaseToInfo(rel), nil
}

// GetRelease returns metadata for the latest revision of a release, or
// ErrReleaseNotFound when the release does not exist.
func (c *Client) GetRelease(ctx context.Context, releaseName, namespace string) (*ReleaseInfo, error) {
	if releaseName == "" {
		return nil, errReleaseNameRequired
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, fmt.Errorf("get release context cancelled: %w", ctxErr)
	}

	cleanup, err := c.switchNamespace(namespace)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	histClient := helmv4action.NewHistory(c.actionConfig)
	histClient.Max = 1

	releases, histErr := histClient.Run(releaseName)
	if histErr != nil || len(releases) == 0 {
		return nil, fmt.Errorf("%w: %q in namespace %q", ErrReleaseNotFound, releaseName, namespace)
	}

	// History returns releaser interfaces; only concrete v1 releases carry the
	// metadata callers need.
	latest, ok := releases[len(releases)-1].(*v1.Release)
	if !ok {
		return nil, fmt.Errorf("%w: %q in namespace %q", ErrReleaseNotFound, releaseName, namespace)
	}

	return releaseToInfo(latest), nil
}

// UninstallRelease removes a Helm release by name within the provided namespace.
func (c *Client) UninstallRelease(ctx context.Context, releaseName, namespace string) error {
	if releaseName == "" {
		return errReleaseNameRequired
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return fmt.Errorf("uninstall release context cancelled: %w", ctxErr)
	}

	cleanup, err := c.switchNamespace(namespace)
	if err != nil {
		return err
	}
	defer cleanup()

	client := helmv4action.NewUninstall(c.actionConfig)
	client.KeepHistory = false

	_, uninstallErr := client.Run(releaseName)
	if uninstallErr != nil {
		return fmt.Errorf("uninstall release %q: %w", releaseName, uninstallErr)
	}

	return nil
}

// AddRepository registers a Helm repository and downloads its index.
// Re-adding an existing repository refreshes the entry, matching
// `helm repo add --force-update`.
func (c *Client) AddRepository(ctx context.Context, entry *RepositoryEntry) error {
	requestErr := validateRepositoryRequest(ctx, entry)
	if requestErr != nil {
		return requestErr
	}

	repoFile, err := ensureRepositoryConfig(c.settings)
	if err != nil {
		return err
	}

	repositoryFile := loadOrInitRepositoryFile(repoFile)
	repoEntry := &repov1.Entry{Name: entry.Name, URL: entry.URL}

	repoCache, err := ensureRepositoryCache(c.settings)
	if err != nil {
		return err
	}

	chartRepository, err := repov1.NewChartRepository(repoEntry, helmv4getter.All(c.settings))
	if err != nil {
		return fmt.Errorf("create chart repository: %w", err)
	}

	chartRepository.CachePath = repoCache

	indexPath, err := chartRepository.DownloadIndexFile()
	if err != nil {
		return fmt.Errorf("failed to download repository index file: %w", err)
	}

	_, statErr := os.Stat(indexPath)
	if statErr != nil {
		return fmt.Errorf("failed to verify repository index file: %w", statErr)
	}

	repositoryFile.Update(repoEntry)

	writeErr := repositoryFile.WriteFile(repoFile, repoFileMode)
	if writeErr != nil {
		return fmt.Errorf("write repository file: %w", writeErr)
	}

	return nil
}

func validateRepositoryRequest(ctx context.Context, entry *RepositoryEntry) error {
	if entry == nil {
		return errRepositoryEntryRequired
	}

	if entry.Name == "" {
		return errRepositoryNameRequired
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return fmt.Errorf("add repository context cancelled: %w", ctxErr)
	}

	return nil
}

func ensureRepositoryConfig(settings *helmv4cli.EnvSettings) (string, error) {
	repoFile := settings.RepositoryConfig
	if repoFile == "" {
		return "", errRepositoryConfigUnset
	}

	mkdirErr := os.MkdirAll(filepath.Dir(repoFile), repoDirMode)
	if mkdirErr != nil {
		return "", fmt.Errorf("create repository directory: %w", mkdirErr)
	}

	return repoFile, nil
}

func ensureRepositoryCache(settings *helmv4cli.EnvSettings) (string, error) {
	repoCache := settings.RepositoryCache
	if repoCache == "" {
		return "", errRepositoryCacheUnset
	}

	mkdirErr := os.MkdirAll(repoCache, repoDirMode)
	if mkdirErr != nil {
		return "", fmt.Errorf("create repository cache directory: %w", mkdirErr)
	}

	return repoCache, nil
}

func loadOrInitRepositoryFile(repoFile string) *repov1.File {
	repositoryFile, err := repov1.LoadFile(repoFile)
	if err != nil {
		return repov1.NewFile()
	}

	return repositoryFile
}

func (c *Client) performInstall(ctx context.Context, spec *ChartSpec) (*v1.Release, error) {
	client := helmv4action.NewInstall(c.actionConfig)
	client.ReleaseName = spec.ReleaseName
	client.Namespace = spec.Namespace
	client.CreateNamespace = spec.CreateNamespace
	client.Version = spec.Version

	client.Timeout = spec.Timeout
	if client.Timeout == 0 {
		client.Timeout = DefaultTimeout
	}

	chartPath, chart, err := c.locateAndLoadChart(spec, &client.ChartPathOptions)
	if err != nil {
		return nil, err
	}

	vals, err := mergeValues(spec, chartPath)
	if err != nil {
		return nil, err
	}

	releaser, err := client.RunWithContext(ctx, chart, vals)
	if err != nil {
		return nil, fmt.Errorf("install release %q: %w", spec.ReleaseName, err)
	}

	if rel, ok := releaser.(*v1.Release); ok {
		return rel, nil
	}

	return nil, fmt.Errorf("unexpected release type: %T", releaser)
}

func (c *Client) upgradeRelease(ctx context.Context, spec *ChartSpec) (*v1.Release, error) {
	client := helmv4action.NewUpgrade(c.actionConfig)
	client.Namespace = spec.Namespace
	client.Version = spec.Version

	client.Timeout = spec.Timeout
	if client.Timeout == 0 {
		client.Timeout = DefaultTimeout
	}

	chartPath, chart, err := c.locateAndLoadChart(spec, &client.ChartPathOptions)
	if err != nil {
		return nil, err
	}

	vals, err := mergeValues(spec, chartPath)
	if err != nil {
		return nil, err
	}

	releaser, err := client.RunWithContext(ctx, spec.ReleaseName, chart, vals)
	if err != nil {
		return nil, fmt.Errorf("upgrade release %q: %w", spec.ReleaseName, err)
	}

	if rel, ok := releaser.(*v1.Release); ok {
		return rel, nil
	}

	return nil, fmt.Errorf("unexpected release type: %T", releaser)
}

func (c *Client) locateAndLoadChart(
	spec *ChartSpec,
	pathOptions *helmv4action.ChartPathOptions,
) (string, *chartv2.Chart, error) {
	chartPath := spec.ChartName

	if spec.RepoURL != "" {
		pathOptions.RepoURL = spec.RepoURL

		located, err := c.locateChartFromRepo(spec)
		if err != nil {
			return "", nil, err
		}

		chartPath = located
	}

	chartInterface, err := helmv4loader.Load(chartPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load chart: %w", err)
	}

	chart, ok := chartInterface.(*chartv2.Chart)
	if !ok {
		return "", nil, fmt.Errorf("unexpected chart type: %T", chartInterface)
	}

	return chartPath, chart, nil
}

func (c *Client) locateChartFromRepo(spec *ChartSpec) (string, error) {
	chartName := chartBaseName(spec.ChartName)

	chartURL, err := repov1.FindChartInRepoURL(
		spec.RepoURL,
		chartName,
		helmv4getter.All(c.settings),
		repov1.WithChartVersion(spec.Version),
	)
	if err != nil {
		return "", fmt.Errorf(
			"failed to locate chart %q in repository %s: %w",
			chartName, spec.RepoURL, err,
		)
	}

	return chartURL, nil
}

func mergeValues(spec *ChartSpec, chartPath string) (map[string]any, error) {
	base := map[string]any{}

	for _, filePath := range spec.ValueFiles {
		if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(filepath.Dir(chartPath), filePath)
		}

		fileBytes, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read values file %s: %w", filePath, err)
		}

		currentMap := map[string]any{}

		unmarshalErr := sigsyaml.Unmarshal(fileBytes, &currentMap)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("failed to parse values file %s: %w", filePath, unmarshalErr)
		}

		base = mergeMaps(base, currentMap)
	}

	for key, val := range spec.SetValues {
		parseErr := helmv4strvals.ParseInto(fmt.Sprintf("%s=%s", key, val), base)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse set value %s=%s: %w", key, val, parseErr)
		}
	}

	return base, nil
}

func mergeMaps(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}

	for k, v := range b {
		if nested, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = mergeMaps(existing, nested)

				continue
			}
		}

		out[k] = v
	}

	return out
}

// switchNamespace points the action configuration at the given namespace and
// returns a cleanup restoring the previous one.
func (c *Client) switchNamespace(namespace string) (func(), error) {
	if namespace == "" || c.settings.Namespace() == namespace {
		return func() {}, nil
	}

	previousNamespace := c.settings.Namespace()
	c.settings.SetNamespace(namespace)

	reinitErr := c.actionConfig.Init(
		c.settings.RESTClientGetter(),
		namespace,
		os.Getenv("HELM_DRIVER"),
	)
	if reinitErr != nil {
		c.settings.SetNamespace(previousNamespace)

		return nil, fmt.Errorf("failed to set helm namespace %q: %w", namespace, reinitErr)
	}

	return func() {
		c.settings.SetNamespace(previousNamespace)
		_ = c.actionConfig.Init(
			c.settings.RESTClientGetter(),
			previousNamespace,
			os.Getenv("HELM_DRIVER"),
		)
	}, nil
}

func chartBaseName(chartRef string) string {
	if base := filepath.Base(chartRef); base != "." && base != "/" {
		return base
	}

	return chartRef
}

func releaseToInfo(rel *v1.Release) *ReleaseInfo {
	if rel == nil {
		return nil
	}

	info := &ReleaseInfo{
		Name:      rel.Name,
		Namespace: rel.Namespace,
		Revision:  rel.Version,
	}

	if rel.Info != nil {
		info.Status = rel.Info.Status.String()
		info.Updated = rel.Info.LastDeployed
		info.Notes = rel.Info.Notes
	}

	if rel.Chart != nil && rel.Chart.Metadata != nil {
		info.Chart = rel.Chart.Metadata.Name
		info.ChartVersion = rel.Chart.Metadata.Version
		info.AppVersion = rel.Chart.Metadata.AppVersion
	}

	return info
}
