package configutils

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// FetchExecutionEnvironment returns execution_environment (dev, qa, ...)
func (c *ConfigUtils) FetchExecutionEnvironment() string {
	return c.base.ExecutionEnvironment
}

// FetchEnvironmentType returns environment_type (on-prem, cloud, ...)
func (c *ConfigUtils) FetchEnvironmentType() string {
	return c.base.EnvironmentType
}

func (c *ConfigUtils) envString(cfg map[string]any, which, key string) (string, error) {
	v, err := c.valueOfKey(cfg, which, key, nil)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

// FetchBaseURL returns base_url of the current environment
func (c *ConfigUtils) FetchBaseURL() (string, error) {
	return c.envString(c.baseRaw, "base", "base_url")
}

// FetchSeleniumGridIP returns selenium_grid_ip
func (c *ConfigUtils) FetchSeleniumGridIP() string {
	return c.base.SeleniumGridIP
}

// FetchUseGrid returns use_grid
func (c *ConfigUtils) FetchUseGrid() bool {
	return c.base.UseGrid
}

// FetchWebBrowserCapabilities returns web_capabilities when its use_caps flag
// is true, otherwise nil. The flag itself is not part of the result.
func (c *ConfigUtils) FetchWebBrowserCapabilities() map[string]any {
	caps := c.base.WebCapabilities
	if len(caps) == 0 || !cast.ToBool(caps["use_caps"]) {
		return nil
	}
	out := maps.Clone(caps)
	delete(out, "use_caps")
	return out
}

// FetchCurrentBrowser returns the browser to run, from CAFEX_BROWSER,
// current_execution_browser, or chrome
func (c *ConfigUtils) FetchCurrentBrowser() string {
	if b := strings.TrimSpace(os.Getenv(EnvBrowser)); b != "" {
		return b
	}
	if c.base.CurrentExecutionBrowser != "" {
		return c.base.CurrentExecutionBrowser
	}
	return DefaultBrowser
}

// FetchTestdataPath returns <root>/features/testdata
func (c *ConfigUtils) FetchTestdataPath() string {
	return filepath.Join(c.FeaturesPath(), TestdataDir)
}

// FetchServiceDescriptionPath returns the service description directory
func (c *ConfigUtils) FetchServiceDescriptionPath() (string, error) {
	if c.base.ServiceDescription == "" {
		return "", fmt.Errorf("%w: service_description in base config", ErrKeyNotFound)
	}
	return filepath.Join(c.FeaturesPath(), c.base.ServiceDescription), nil
}

// FetchServicePayloadPath returns the service payload directory
func (c *ConfigUtils) FetchServicePayloadPath() (string, error) {
	if c.base.ServicePayloads == "" {
		return "", fmt.Errorf("%w: service_payloads in base config", ErrKeyNotFound)
	}
	return filepath.Join(c.FeaturesPath(), c.base.ServicePayloads), nil
}

// FetchOverwriteBaseURL returns overwrite_base_url of the team config
func (c *ConfigUtils) FetchOverwriteBaseURL() (bool, error) {
	v, err := c.ValueOfKeyTeamConfig("overwrite_base_url")
	if err != nil {
		return false, err
	}
	return cast.ToBoolE(v)
}

// FetchTargetURL returns a URL key of the team config's current environment
func (c *ConfigUtils) FetchTargetURL(key string) (string, error) {
	if c.team == nil {
		return "", ErrNoTeamConfig
	}
	return c.envString(c.team, "team", key)
}

// FetchLoginCredentials returns username and password of an account. The
// default_user comes from config.yml, other accounts from the team config.
func (c *ConfigUtils) FetchLoginCredentials(account string) (username, password string, err error) {
	if account == "" {
		account = DefaultUser
	}
	return c.credentials(account, DefaultUser)
}

// FetchDBCredentials is FetchLoginCredentials for database accounts, with
// default_db_user as the base config account
func (c *ConfigUtils) FetchDBCredentials(account string) (username, password string, err error) {
	if account == "" {
		account = DefaultDBUser
	}
	return c.credentials(account, DefaultDBUser)
}

func (c *ConfigUtils) credentials(account, baseAccount string) (string, string, error) {
	var (
		v   any
		err error
	)
	if account == baseAccount {
		v, err = c.ValueOfKeyBaseConfig(account)
	} else {
		v, err = c.ValueOfKeyTeamConfig(account)
	}
	if err != nil {
		return "", "", err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("%w: %s is not a mapping", ErrKeyNotFound, account)
	}
	user, uok := m["username"]
	pass, pok := m["password"]
	if !uok || !pok {
		return "", "", fmt.Errorf("%w: %s/username or %s/password", ErrKeyNotFound, account, account)
	}
	return cast.ToString(user), cast.ToString(pass), nil
}

// ExplicitWait returns default_explicit_wait from the team config, then the
// base config, then 30 seconds
func (c *ConfigUtils) ExplicitWait() time.Duration {
	return c.waitSetting("default_explicit_wait", c.base.DefaultExplicitWait)
}

// ImplicitWait is ExplicitWait for default_implicit_wait
func (c *ConfigUtils) ImplicitWait() time.Duration {
	return c.waitSetting("default_implicit_wait", c.base.DefaultImplicitWait)
}

func (c *ConfigUtils) waitSetting(key string, base int) time.Duration {
	if v, ok := c.team[key]; ok {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if base > 0 {
		return time.Duration(base) * time.Second
	}
	return DefaultWaitSeconds * time.Second
}
