package configutils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafex/cafex/framework/database"
	"github.com/cafex/cafex/framework/webdriver"
)

const baseConfig = `
environment_type: on-prem
execution_environment: dev
use_grid: true
selenium_grid_ip: 10.0.0.5
current_execution_browser: firefox
service_description: service_description
service_payloads: service_payloads
default_explicit_wait: 15
web_capabilities:
  use_caps: true
  acceptInsecureCerts: true
chrome_options: ["--headless"]
firefox_options: ["-headless"]
env:
  dev:
    on-prem:
      base_url: https://dev.example.com
      default_user:
        username: alice
        password: secret
      default_db_user:
        username: dbuser
        password: dbpass
      items: [a, b]
`

const teamConfig = `
default_explicit_wait: 45
env:
  dev:
    on-prem:
      overwrite_base_url: true
      orders_api: https://orders.example.com
      admin_user:
        username: root
        password: toor
      reporting_db:
        db_type: postgres
        db_server: db.example.com
        db_name: reports
        port: 5433
      hive_db:
        db_type: hive
        db_server: edge.example.com
        key_file: keys/edge.pem
        overwrite_default_db_user: true
        user: admin_user
      warehouse_db:
        db_type: snowflake
        db_server: acme-eu1
        db_name: ANALYTICS
        warehouse: COMPUTE_WH
        schema: PUBLIC
        role: QA_ROLE
        key_file: keys/snowflake.p8
`

const usersService = `
users:
  get_user:
    method: get
    endpoint: /users/1
    queryparams: "expand=roles&limit=5"
    headers:
      Accept: application/json
  create_user:
    method: POST
    endpoint: /users
    payload: create_user.json
  create_order:
    method: POST
    endpoint: /orders
    target_url: orders_api
    payload:
      item: book
health:
  method: GET
  endpoint: /health
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func project(t *testing.T) *ConfigUtils {
	t.Helper()
	root := writeProject(t, map[string]string{
		"config.yml":                                 baseConfig,
		"features/configuration/team.yml":            teamConfig,
		"features/service_description/users.yml":     usersService,
		"features/service_payloads/create_user.json": `{"name": "bob"}`,
	})
	c, err := New(root, WithTeamConfig("team.yml"))
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	c := project(t)
	assert.Equal(t, "dev", c.BaseConfig().ExecutionEnvironment)
	assert.Equal(t, "on-prem", c.FetchEnvironmentType())
	assert.Equal(t, "dev", c.FetchExecutionEnvironment())
	assert.NotNil(t, c.TeamConfig())
	assert.Contains(t, c.BaseConfigMap(), "env")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(t.TempDir())
	assert.Error(t, err)

	root := writeProject(t, map[string]string{"config.yml": "use_grid: true\nenvironment_type: cloud\nexecution_environment: qa\nenv: {}\n"})
	_, err = New(root)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	root = writeProject(t, map[string]string{"config.yml": baseConfig})
	_, err = New(root, WithTeamConfig("missing.yml"))
	assert.Error(t, err)
}

func TestReadTeamConfig(t *testing.T) {
	c := project(t)
	_, err := c.ReadTeamConfig("team.json")
	assert.ErrorIs(t, err, ErrNotYAML)

	team, err := c.ReadTeamConfig("team.yml")
	require.NoError(t, err)
	assert.Contains(t, team, "env")
}

func TestValueOfKey(t *testing.T) {
	c := project(t)

	v, err := c.ValueOfKeyBaseConfig("base_url")
	require.NoError(t, err)
	assert.Equal(t, "https://dev.example.com", v)

	v, err = c.ValueOfKeyBaseConfig("use_grid", Global())
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = c.ValueOfKeyBaseConfig("nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = c.ValueOfKeyBaseConfig("base_url", InEnvironment("qa", "cloud"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	v, err = c.ValueOfKeyTeamConfig("orders_api")
	require.NoError(t, err)
	assert.Equal(t, "https://orders.example.com", v)

	noTeam, err := New(c.Root())
	require.NoError(t, err)
	_, err = noTeam.ValueOfKeyTeamConfig("orders_api")
	assert.ErrorIs(t, err, ErrNoTeamConfig)
}

func TestValueFromYAMLKeyPath(t *testing.T) {
	c := project(t)
	path := filepath.Join(c.Root(), "config.yml")

	v, err := c.ValueFromYAMLKeyPath(path, "env/dev/on-prem/items/1", "")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	v, err = c.ValueFromYAMLKeyPath(path, "env.dev.on-prem.default_user", ".")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"username": "alice", "password": "secret"}, v)

	_, err = c.ValueFromYAMLKeyPath(path, "env/dev/missing", "/")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = c.ValueFromYAMLKeyPath(path, "env/dev/on-prem/items/7", "/")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestValueFromConfigObject(t *testing.T) {
	obj := map[string]any{"a": map[string]any{"b": []any{"x", map[string]any{"c": 3}}}}

	v, err := ValueFromConfigObject(obj, "a/b/1/c", "/")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = ValueFromConfigObject(obj, "a/b/x", "/")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = ValueFromConfigObject(obj, "a/b/0/c", "/")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFetch(t *testing.T) {
	c := project(t)

	u, err := c.FetchBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "https://dev.example.com", u)
	assert.Equal(t, "10.0.0.5", c.FetchSeleniumGridIP())
	assert.True(t, c.FetchUseGrid())
	assert.Equal(t, map[string]any{"acceptInsecureCerts": true}, c.FetchWebBrowserCapabilities())
	assert.Equal(t, filepath.Join(c.Root(), "features", "testdata"), c.FetchTestdataPath())

	p, err := c.FetchServiceDescriptionPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Root(), "features", "service_description"), p)
	p, err = c.FetchServicePayloadPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Root(), "features", "service_payloads"), p)

	overwrite, err := c.FetchOverwriteBaseURL()
	require.NoError(t, err)
	assert.True(t, overwrite)
	target, err := c.FetchTargetURL("orders_api")
	require.NoError(t, err)
	assert.Equal(t, "https://orders.example.com", target)
	_, err = c.FetchTargetURL("billing_api")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.Equal(t, 45*time.Second, c.ExplicitWait())
	assert.Equal(t, 30*time.Second, c.ImplicitWait())
}

func TestFetchCurrentBrowser(t *testing.T) {
	c := project(t)
	t.Setenv(EnvBrowser, "")
	assert.Equal(t, "firefox", c.FetchCurrentBrowser())
	t.Setenv(EnvBrowser, "edge")
	assert.Equal(t, "edge", c.FetchCurrentBrowser())
}

func TestFetchCredentials(t *testing.T) {
	c := project(t)

	user, pass, err := c.FetchLoginCredentials("")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "secret", pass)

	user, pass, err = c.FetchLoginCredentials("admin_user")
	require.NoError(t, err)
	assert.Equal(t, "root", user)
	assert.Equal(t, "toor", pass)

	user, _, err = c.FetchDBCredentials("")
	require.NoError(t, err)
	assert.Equal(t, "dbuser", user)

	_, _, err = c.FetchLoginCredentials("guest")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestGetServiceDescription(t *testing.T) {
	c := project(t)

	d, err := c.GetServiceDescription("users.yml", "users/get_user")
	require.NoError(t, err)
	assert.Equal(t, "GET", d.Method)
	assert.Equal(t, map[string]string{"expand": "roles", "limit": "5"}, d.QueryParams)
	assert.Equal(t, map[string]string{"Accept": "application/json"}, d.Headers)
	assert.Equal(t, "https://dev.example.com", d.TargetURL)
	assert.Equal(t, "https://dev.example.com/users/1", d.Request().Endpoint)

	d, err = c.GetServiceDescription("users.yml", "users/create_user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "bob"}`, d.Payload)

	d, err = c.GetServiceDescription("users.yml", "users/create_order")
	require.NoError(t, err)
	assert.Equal(t, "https://orders.example.com", d.TargetURL)
	assert.JSONEq(t, `{"item": "book"}`, d.Payload)

	_, err = c.GetServiceDescription("users.yml", "users/delete_user")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLoadServiceDescriptions(t *testing.T) {
	c := project(t)
	dir, err := c.FetchServiceDescriptionPath()
	require.NoError(t, err)

	all, err := c.LoadServiceDescriptions(dir)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "/health", all["users/health"].Endpoint)
	assert.Equal(t, "POST", all["users/users/create_user"].Method)

	names, err := ServiceFileNames(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"users.yml"}, names)
}

func TestDBConfiguration(t *testing.T) {
	c := project(t)

	d, err := c.DBConfiguration("reporting_db", true)
	require.NoError(t, err)
	assert.Equal(t, database.Postgres, d.Type)
	assert.Equal(t, "db.example.com", d.Server)
	assert.Equal(t, 5433, d.Port)
	assert.Equal(t, "dbuser", d.Username)
	opts := d.ConnectOptions()
	assert.Equal(t, "reports", opts.Database)
	assert.Equal(t, "dbpass", opts.Password)

	d, err = c.DBConfiguration("env/dev/on-prem/hive_db", false)
	require.NoError(t, err)
	assert.Equal(t, database.Hive, d.Type)
	assert.Equal(t, filepath.Join(c.ConfigurationPath(), "keys", "edge.pem"), d.KeyFile)
	assert.Equal(t, "root", d.Username)

	d, err = c.DBConfiguration("warehouse_db", true)
	require.NoError(t, err)
	assert.Equal(t, database.Snowflake, d.Type)
	opts = d.ConnectOptions()
	assert.Equal(t, "COMPUTE_WH", opts.Warehouse)
	assert.Equal(t, "PUBLIC", opts.Schema)
	assert.Equal(t, "QA_ROLE", opts.Role)
	assert.Equal(t, filepath.Join(c.ConfigurationPath(), "keys", "snowflake.p8"), opts.PEMFile)

	_, err = c.DBConfiguration("missing_db", true)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDriverOptions(t *testing.T) {
	t.Setenv(EnvBrowser, "")
	c := project(t)

	opts, err := c.DriverOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, webdriver.Firefox, opts.Browser)
	assert.True(t, opts.UseGrid)
	assert.Equal(t, "http://10.0.0.5:4444/wd/hub", opts.GridURL)
	assert.Equal(t, []string{"-headless"}, opts.BrowserArgs)
	assert.Equal(t, true, opts.Capabilities["acceptInsecureCerts"])
	assert.Nil(t, opts.BrowserStack)

	_, _, err = webdriver.NewFactory().Capabilities(opts)
	require.NoError(t, err)
}

func TestDriverOptions_BrowserStack(t *testing.T) {
	t.Setenv(EnvBrowser, "")
	root := writeProject(t, map[string]string{
		"config.yml": "environment_type: cloud\nexecution_environment: qa\nenv: {qa: {cloud: {}}}\n" +
			"current_execution_browser: chrome\nrun_on_browserstack: true\n",
		"features/configuration/browserstack_web_configuration/browserstack.yml": `
browser:
  chrome:
    os: Windows
    osVersion: "11"
"bstack:options":
  projectName: cafex
`,
		"features/configuration/browserstack_web_configuration/random.yml": `
use_random_browsers: true
browserstack_browsers_file: browsers.json
"bstack:options":
  buildName: nightly
`,
		"features/configuration/browserstack_web_configuration/browsers.json": `[
  {"os": "OS X", "os_version": "Sonoma", "browser": "safari", "browser_version": "17.0"}
]`,
	})
	c, err := New(root)
	require.NoError(t, err)

	t.Setenv(EnvBrowserStackUsername, "")
	t.Setenv(EnvBrowserStackAccessKey, "")
	_, err = c.DriverOptions(context.Background())
	assert.ErrorIs(t, err, webdriver.ErrInvalidArgument)

	t.Setenv(EnvBrowserStackUsername, "user")
	t.Setenv(EnvBrowserStackAccessKey, "key")
	opts, err := c.DriverOptions(context.Background())
	require.NoError(t, err)
	require.NotNil(t, opts.BrowserStack)
	assert.Equal(t, webdriver.Chrome, opts.Browser)
	assert.Equal(t, "Windows", opts.BrowserStack.BrowserCapabilities["os"])
	assert.Equal(t, "cafex", opts.BrowserStack.Options["projectName"])

	c.BaseConfig().BrowserStackConfigFile = "random.yml"
	opts, err = c.DriverOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, webdriver.Safari, opts.Browser)
	assert.Equal(t, "Sonoma", opts.BrowserStack.BrowserCapabilities["osVersion"])
	assert.Equal(t, "nightly", opts.BrowserStack.Options["buildName"])
}
