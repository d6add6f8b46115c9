package configutils

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/cafex/cafex/framework/webdriver"
)

// BrowserStack credentials are only read from the environment
const (
	EnvBrowserStackUsername  = "BROWSERSTACK_USERNAME"
	EnvBrowserStackAccessKey = "BROWSERSTACK_ACCESS_KEY"

	DefaultBrowserStackConfigFile = "browserstack.yml"
	DefaultBrowserStackBrowsers   = "browsers.json"
)

// DriverOptions builds the WebDriver session options described by config.yml
// and, when run_on_browserstack is set, by the BrowserStack capabilities file
func (c *ConfigUtils) DriverOptions(ctx context.Context) (webdriver.DriverOptions, error) {
	b := c.base
	opts := webdriver.DriverOptions{
		Browser:        c.FetchCurrentBrowser(),
		BrowserVersion: b.BrowserVersion,
		UseGrid:        b.UseGrid,
		Capabilities:   c.FetchWebBrowserCapabilities(),
		DownloadDir:    b.DownloadDir,
	}
	if b.UseGrid {
		opts.GridURL = gridURL(b.SeleniumGridIP)
	}
	if b.UseProxy {
		opts.Proxy = b.ProxyOptions
	}

	if b.RunOnBrowserStack {
		bs, browser, err := c.browserStack(ctx, opts.Browser)
		if err != nil {
			return opts, err
		}
		opts.BrowserStack, opts.Browser = bs, browser
	}

	browser, err := webdriver.NormalizeBrowser(opts.Browser)
	if err != nil {
		return opts, err
	}
	opts.Browser = browser
	switch browser {
	case webdriver.Chrome:
		opts.BrowserArgs, opts.Preferences = b.ChromeOptions, b.ChromePreferences
	case webdriver.Firefox:
		opts.BrowserArgs, opts.Preferences = b.FirefoxOptions, b.FirefoxPreferences
	case webdriver.Edge:
		opts.BrowserArgs = b.EdgeOptions
	}
	return opts, nil
}

// gridURL accepts a bare host[:port] or a full hub URL
func gridURL(ip string) string {
	if ip == "" || strings.Contains(ip, "://") {
		return ip
	}
	if !strings.Contains(ip, ":") {
		ip += ":4444"
	}
	return "http://" + ip + "/wd/hub"
}

func (c *ConfigUtils) browserStack(ctx context.Context, browser string) (*webdriver.BrowserStack, string, error) {
	user, key := os.Getenv(EnvBrowserStackUsername), os.Getenv(EnvBrowserStackAccessKey)
	if user == "" || key == "" {
		return nil, "", fmt.Errorf("%w: %s and %s must be set", webdriver.ErrInvalidArgument, EnvBrowserStackUsername, EnvBrowserStackAccessKey)
	}
	file := c.base.BrowserStackConfigFile
	if file == "" {
		file = DefaultBrowserStackConfigFile
	}
	cfg, err := c.ReadBrowserStackWebConfig(file)
	if err != nil {
		return nil, "", err
	}

	var browserCaps map[string]any
	if cast.ToBool(cfg["use_random_browsers"]) {
		picked, err := c.randomBrowserStackBrowser(ctx, cfg, user, key)
		if err != nil {
			return nil, "", err
		}
		browser, browserCaps = picked.Capabilities()
	} else {
		perBrowser := cast.ToStringMap(cfg["browser"])
		browserCaps = cast.ToStringMap(perBrowser[strings.ToLower(browser)])
	}

	c.logger.Info("using BrowserStack", "browser", browser)
	return &webdriver.BrowserStack{
		Username:            user,
		AccessKey:           key,
		BrowserCapabilities: maps.Clone(browserCaps),
		Options:             cast.ToStringMap(cfg["bstack:options"]),
	}, browser, nil
}

// randomBrowserStackBrowser picks from browserstack_browsers_file when it
// exists in the BrowserStack configuration directory, otherwise from the
// BrowserStack API
func (c *ConfigUtils) randomBrowserStackBrowser(ctx context.Context, cfg map[string]any, user, key string) (webdriver.BrowserStackBrowser, error) {
	file := cast.ToString(cfg["browserstack_browsers_file"])
	if file == "" {
		file = DefaultBrowserStackBrowsers
	}
	path := filepath.Join(c.ConfigurationPath(), BrowserStackWebDir, file)

	var (
		browsers []webdriver.BrowserStackBrowser
		err      error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		browsers, err = webdriver.LoadBrowserStackBrowsers(path)
	} else {
		browsers, err = webdriver.FetchBrowserStackBrowsers(ctx, "", user, key)
	}
	if err != nil {
		return webdriver.BrowserStackBrowser{}, err
	}
	return webdriver.RandomBrowser(browsers, nil)
}
