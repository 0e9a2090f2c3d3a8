// Package configmanager loads the Environment configuration with viper.
// Priority: built-in defaults < config file < environment variables.
package configmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"github.com/cdp-platform/cdp-dev/pkg/utils/timer"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for configuration environment variables,
	// e.g. CDP_DEV_CLUSTERNAME.
	EnvPrefix = "CDP_DEV"
	// ConfigName is the config file base name, resolved as cdp-dev.yaml in the
	// working directory or under ~/.cdp-dev.
	ConfigName = "cdp-dev"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigManager loads and caches the Environment configuration.
type ConfigManager struct {
	Viper  *viper.Viper
	Config *v1alpha1.Environment
	Writer io.Writer

	configLoaded    bool
	configFileFound bool
}

// NewConfigManager creates a configuration manager writing notifications to
// the given writer.
func NewConfigManager(writer io.Writer) *ConfigManager {
	return &ConfigManager{
		Viper:  initializeViper(),
		Config: v1alpha1.NewEnvironment(),
		Writer: writer,
	}
}

// initializeViper configures config file discovery, environment variable
// binding and scalar defaults. Defaults are registered with viper so their
// keys bind to environment variables.
func initializeViper() *viper.Viper {
	viperInstance := viper.New()

	viperInstance.SetConfigName(ConfigName)
	viperInstance.SetConfigType("yaml")
	viperInstance.AddConfigPath(".")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		viperInstance.AddConfigPath(filepath.Join(homeDir, ".cdp-dev"))
	}

	viperInstance.SetEnvPrefix(EnvPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	registerDefaults(viperInstance)

	return viperInstance
}

// registerDefaults registers the scalar defaults from the default dev profile.
// The services list keeps its default on the struct; lists of structs are only
// overridable through the config file.
func registerDefaults(viperInstance *viper.Viper) {
	defaults := v1alpha1.NewEnvironment()

	viperInstance.SetDefault("clusterName", defaults.ClusterName)
	viperInstance.SetDefault("chart.repositoryName", defaults.Chart.RepositoryName)
	viperInstance.SetDefault("chart.repositoryURL", defaults.Chart.RepositoryURL)
	viperInstance.SetDefault("chart.name", defaults.Chart.Name)
	viperInstance.SetDefault("chart.version", defaults.Chart.Version)
	viperInstance.SetDefault("chart.releaseName", defaults.Chart.ReleaseName)
	viperInstance.SetDefault("chart.namespace", defaults.Chart.Namespace)
	viperInstance.SetDefault("chart.valuesFile", defaults.Chart.ValuesFile)
	viperInstance.SetDefault("connection.kubeconfig", defaults.Connection.Kubeconfig)
	viperInstance.SetDefault("connection.context", defaults.Connection.Context)
	viperInstance.SetDefault("timeouts.install", defaults.Timeouts.Install)
	viperInstance.SetDefault("timeouts.readiness", defaults.Timeouts.Readiness)
	viperInstance.SetDefault("timeouts.inspect", defaults.Timeouts.Inspect)
	viperInstance.SetDefault("supervisor.healthInterval", defaults.Supervisor.HealthInterval)
	viperInstance.SetDefault("supervisor.backoffBase", defaults.Supervisor.BackoffBase)
	viperInstance.SetDefault("supervisor.backoffCeiling", defaults.Supervisor.BackoffCeiling)
}

// LoadConfig loads the configuration from files and environment variables.
// The loaded config is cached; repeated calls return the cached value. If a
// timer is provided, the success notification includes timing.
func (m *ConfigManager) LoadConfig(tmr timer.Timer) (*v1alpha1.Environment, error) {
	return m.loadConfigWithOptions(tmr, false)
}

// LoadConfigSilent loads the configuration without notifications.
func (m *ConfigManager) LoadConfigSilent() (*v1alpha1.Environment, error) {
	return m.loadConfigWithOptions(nil, true)
}

func (m *ConfigManager) loadConfigWithOptions(
	tmr timer.Timer,
	silent bool,
) (*v1alpha1.Environment, error) {
	if m.configLoaded {
		return m.Config, nil
	}

	err := m.readConfig(silent)
	if err != nil {
		return nil, err
	}

	err = m.unmarshal()
	if err != nil {
		return nil, err
	}

	err = validate(m.Config)
	if err != nil {
		return nil, err
	}

	if !silent {
		notify.SuccessWithTimerf(m.Writer, tmr, "config loaded")
	}

	m.configLoaded = true

	return m.Config, nil
}

func (m *ConfigManager) readConfig(silent bool) error {
	err := m.Viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}

		m.configFileFound = false

		if !silent {
			notify.Activityf(m.Writer, "using default config")
		}

		return nil
	}

	m.configFileFound = true

	if !silent {
		notify.Activityf(m.Writer, "'%s' found", m.Viper.ConfigFileUsed())
	}

	return nil
}

func (m *ConfigManager) unmarshal() error {
	decoderConfig := func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}

	err := m.Viper.Unmarshal(m.Config, decoderConfig)
	if err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if len(m.Config.Services) == 0 {
		m.Config.Services = v1alpha1.DefaultServices()
	}

	return nil
}

// validate rejects configurations the lifecycle engine cannot act on.
func validate(environment *v1alpha1.Environment) error {
	if environment.Kind != "" && environment.Kind != v1alpha1.EnvironmentKind {
		return fmt.Errorf("%w: unexpected kind %q", ErrInvalidConfig, environment.Kind)
	}

	if environment.ClusterName == "" {
		return fmt.Errorf("%w: clusterName must not be empty", ErrInvalidConfig)
	}

	if environment.Chart.Name == "" || environment.Chart.ReleaseName == "" {
		return fmt.Errorf("%w: chart name and releaseName must not be empty", ErrInvalidConfig)
	}

	seen := map[string]bool{}
	for _, svc := range environment.Services {
		if svc.Name == "" {
			return fmt.Errorf("%w: service with empty name", ErrInvalidConfig)
		}

		if seen[svc.Name] {
			return fmt.Errorf("%w: duplicate service %q", ErrInvalidConfig, svc.Name)
		}

		seen[svc.Name] = true

		if svc.LocalPort <= 0 || svc.RemotePort <= 0 {
			return fmt.Errorf(
				"%w: service %q needs positive local and remote ports",
				ErrInvalidConfig, svc.Name,
			)
		}
	}

	return nil
}
