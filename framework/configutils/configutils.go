// Package configutils reads the YAML configuration of a test project: the
// base config.yml, team config files, service descriptions and payloads.
//
// A project is laid out as
//
//	<root>/config.yml
//	<root>/features/configuration/<team>.yml
//	<root>/features/<service_description>/...
//	<root>/features/<service_payloads>/...
//	<root>/features/testdata/
//
// Environment specific values live under env/<execution_environment>/<environment_type>
// in both the base and the team config.
package configutils

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"
)

const (
	BaseConfigFile     = "config.yml"
	FeaturesDir        = "features"
	ConfigurationDir   = "configuration"
	TestdataDir        = "testdata"
	BrowserStackWebDir = "browserstack_web_configuration"

	// EnvBrowser overrides current_execution_browser
	EnvBrowser = "CAFEX_BROWSER"

	DefaultBrowser     = "chrome"
	DefaultUser        = "default_user"
	DefaultDBUser      = "default_db_user"
	DefaultWaitSeconds = 30
)

var (
	// ErrKeyNotFound is returned when a key path does not resolve
	ErrKeyNotFound = errors.New("key not found")

	// ErrNotYAML is returned for config files without a .yml or .yaml extension
	ErrNotYAML = errors.New("configuration file is not in yaml format")

	// ErrInvalidConfig is returned when config.yml fails validation
	ErrInvalidConfig = errors.New("invalid base configuration")

	// ErrNoTeamConfig is returned by team lookups before a team config was read
	ErrNoTeamConfig = errors.New("team configuration not loaded")
)

// BaseConfig is the typed view of config.yml. Keys not modelled here are
// still reachable through ValueOfKeyBaseConfig and ValueFromConfigObject.
type BaseConfig struct {
	EnvironmentType      string         `json:"environment_type" validate:"required"`
	ExecutionEnvironment string         `json:"execution_environment" validate:"required"`
	Env                  map[string]any `json:"env" validate:"required"`

	UseGrid                 bool           `json:"use_grid"`
	SeleniumGridIP          string         `json:"selenium_grid_ip" validate:"required_if=UseGrid true"`
	CurrentExecutionBrowser string         `json:"current_execution_browser"`
	BrowserVersion          string         `json:"browser_version"`
	WebCapabilities         map[string]any `json:"web_capabilities"`
	ChromeOptions           []string       `json:"chrome_options"`
	ChromePreferences       map[string]any `json:"chrome_preferences"`
	FirefoxOptions          []string       `json:"firefox_options"`
	FirefoxPreferences      map[string]any `json:"firefox_preferences"`
	EdgeOptions             []string       `json:"edge_options"`
	UseProxy                bool           `json:"use_proxy"`
	ProxyOptions            string         `json:"proxy_options" validate:"required_if=UseProxy true"`
	DownloadDir             string         `json:"download_dir"`

	RunOnBrowserStack      bool   `json:"run_on_browserstack"`
	BrowserStackConfigFile string `json:"browserstack_config_file"`

	ServiceDescription string `json:"service_description"`
	ServicePayloads    string `json:"service_payloads"`

	DefaultExplicitWait int `json:"default_explicit_wait" validate:"gte=0"`
	DefaultImplicitWait int `json:"default_implicit_wait" validate:"gte=0"`
}

// ConfigUtils gives access to a project's configuration
type ConfigUtils struct {
	root   string
	logger *slog.Logger

	base    *BaseConfig
	baseRaw map[string]any

	teamName string
	team     map[string]any
}

// Option configures ConfigUtils
type Option func(*ConfigUtils)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *ConfigUtils) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTeamConfig reads the named team config file during New
func WithTeamConfig(name string) Option {
	return func(c *ConfigUtils) {
		c.teamName = name
	}
}

// New reads <root>/config.yml and, when requested, a team config
func New(root string, opts ...Option) (*ConfigUtils, error) {
	c := &ConfigUtils{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "configutils")

	if err := c.readBaseConfig(); err != nil {
		return nil, err
	}
	if c.teamName != "" {
		if _, err := c.ReadTeamConfig(c.teamName); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ConfigUtils) readBaseConfig() error {
	path := filepath.Join(c.root, BaseConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read base config %s: %w", path, err)
	}

	var base BaseConfig
	if err := yaml.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("failed to parse base config %s: %w", path, err)
	}
	if err := validator.New().Struct(&base); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidConfig, path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse base config %s: %w", path, err)
	}
	c.base, c.baseRaw = &base, raw
	c.logger.Debug("base config loaded", "path", path, "environment", base.ExecutionEnvironment, "type", base.EnvironmentType)
	return nil
}

// Root returns the project root directory
func (c *ConfigUtils) Root() string { return c.root }

// BaseConfig returns the typed base config
func (c *ConfigUtils) BaseConfig() *BaseConfig { return c.base }

// BaseConfigMap returns config.yml as a generic map
func (c *ConfigUtils) BaseConfigMap() map[string]any { return c.baseRaw }

// TeamConfig returns the last team config read, or nil
func (c *ConfigUtils) TeamConfig() map[string]any { return c.team }

// FeaturesPath returns <root>/features
func (c *ConfigUtils) FeaturesPath() string {
	return filepath.Join(c.root, FeaturesDir)
}

// ConfigurationPath returns the directory holding team config files
func (c *ConfigUtils) ConfigurationPath() string {
	return filepath.Join(c.FeaturesPath(), ConfigurationDir)
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}

// readYAMLFile loads any YAML file into a generic map
func readYAMLFile(path string) (map[string]any, error) {
	if !isYAML(path) {
		return nil, fmt.Errorf("%w: %s", ErrNotYAML, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ReadTeamConfig reads a team config file from the configuration directory
// and makes it the current team config
func (c *ConfigUtils) ReadTeamConfig(name string) (map[string]any, error) {
	team, err := readYAMLFile(filepath.Join(c.ConfigurationPath(), name))
	if err != nil {
		c.logger.Error("failed to read team config", "file", name, "error", err)
		return nil, err
	}
	c.teamName, c.team = name, team
	return team, nil
}

// ReadBrowserStackWebConfig reads a BrowserStack capabilities file from
// features/configuration/browserstack_web_configuration
func (c *ConfigUtils) ReadBrowserStackWebConfig(name string) (map[string]any, error) {
	return readYAMLFile(filepath.Join(c.ConfigurationPath(), BrowserStackWebDir, name))
}
