// Package webdriver creates Selenium sessions (local, grid or BrowserStack)
// and wraps the common browser interactions used by UI tests.
package webdriver

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strings"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"
	sellog "github.com/tebeka/selenium/log"

	"github.com/cafex/cafex/framework/report"
)

// Supported browser names
const (
	Chrome           = "chrome"
	Firefox          = "firefox"
	Edge             = "edge"
	Safari           = "safari"
	InternetExplorer = "internet explorer"
)

const (
	// DefaultLocalURL is where a locally started driver or standalone
	// server listens
	DefaultLocalURL = "http://localhost:4444/wd/hub"

	// BrowserStackHubURL is the BrowserStack Automate endpoint
	BrowserStackHubURL = "https://hub-cloud.browserstack.com/wd/hub"

	bstackOptions = "bstack:options"
)

var (
	// ErrUnsupportedBrowser is returned for browser names outside SupportedBrowsers
	ErrUnsupportedBrowser = errors.New("browser name must be chrome, firefox, edge, safari or internet explorer")

	// ErrInvalidArgument is returned for missing grid URLs and credentials
	ErrInvalidArgument = errors.New("invalid argument")
)

// SupportedBrowsers lists the accepted browser names
var SupportedBrowsers = []string{Chrome, Firefox, Edge, Safari, InternetExplorer}

// NormalizeBrowser lower-cases name and maps "ie" to InternetExplorer
func NormalizeBrowser(name string) (string, error) {
	b := strings.ToLower(strings.TrimSpace(name))
	if b == "ie" {
		b = InternetExplorer
	}
	if !slices.Contains(SupportedBrowsers, b) {
		return "", fmt.Errorf("%w: got %q", ErrUnsupportedBrowser, name)
	}
	return b, nil
}

// BrowserStack holds BrowserStack credentials and the capabilities merged
// into bstack:options
type BrowserStack struct {
	Username  string
	AccessKey string
	// BrowserCapabilities are the per-browser options (os, osVersion, ...)
	BrowserCapabilities map[string]any
	// Options are the shared bstack:options (projectName, buildName, ...).
	// They win over BrowserCapabilities on conflicts.
	Options map[string]any
	HubURL  string
}

// DriverOptions describe the session to create
type DriverOptions struct {
	Browser        string
	BrowserVersion string

	// UseGrid sends the session to GridURL, otherwise LocalURL is used
	UseGrid  bool
	GridURL  string
	LocalURL string

	// Capabilities are merged last and win over everything else
	Capabilities map[string]any
	BrowserArgs  []string
	Preferences  map[string]any
	Proxy        string
	DownloadDir  string

	BrowserStack *BrowserStack
}

// RemoteFunc opens a WebDriver session
type RemoteFunc func(caps selenium.Capabilities, urlPrefix string) (selenium.WebDriver, error)

// Factory creates WebDriver sessions
type Factory struct {
	logger    *slog.Logger
	recorder  report.Recorder
	newRemote RemoteFunc
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithRecorder sets where report steps go
func WithRecorder(rec report.Recorder) FactoryOption {
	return func(f *Factory) {
		f.recorder = report.OrNop(rec)
	}
}

// WithRemote replaces selenium.NewRemote
func WithRemote(fn RemoteFunc) FactoryOption {
	return func(f *Factory) {
		if fn != nil {
			f.newRemote = fn
		}
	}
}

// NewFactory creates a Factory
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{logger: slog.Default(), recorder: report.Nop{}, newRemote: selenium.NewRemote}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "webdriver")
	return f
}

// Capabilities builds the capabilities and endpoint for opts without
// opening a session
func (f *Factory) Capabilities(opts DriverOptions) (selenium.Capabilities, string, error) {
	browser, err := NormalizeBrowser(opts.Browser)
	if err != nil {
		return nil, "", err
	}

	caps := selenium.Capabilities{"browserName": browser}
	if browser == Edge {
		caps["browserName"] = "MicrosoftEdge"
	}
	if opts.BrowserVersion != "" {
		caps["browserVersion"] = opts.BrowserVersion
	}

	prefs := maps.Clone(opts.Preferences)
	if opts.DownloadDir != "" {
		if prefs == nil {
			prefs = map[string]any{}
		}
		switch browser {
		case Chrome, Edge:
			prefs["download.default_directory"] = opts.DownloadDir
			prefs["download.prompt_for_download"] = false
		case Firefox:
			prefs["browser.download.dir"] = opts.DownloadDir
			prefs["browser.download.folderList"] = 2
		}
	}
	switch browser {
	case Chrome:
		caps.AddChrome(chrome.Capabilities{Args: opts.BrowserArgs, Prefs: prefs, W3C: true})
	case Edge:
		caps["ms:edgeOptions"] = map[string]any{"args": opts.BrowserArgs, "prefs": prefs}
	case Firefox:
		caps.AddFirefox(firefox.Capabilities{Args: opts.BrowserArgs, Prefs: prefs})
	}
	if opts.Proxy != "" {
		caps.AddProxy(selenium.Proxy{Type: selenium.Manual, HTTP: opts.Proxy, SSL: opts.Proxy})
	}
	caps.SetLogLevel(sellog.Browser, sellog.All)

	endpoint := opts.LocalURL
	if endpoint == "" {
		endpoint = DefaultLocalURL
	}
	if opts.UseGrid {
		if opts.GridURL == "" {
			return nil, "", fmt.Errorf("%w: grid URL is required when using a grid", ErrInvalidArgument)
		}
		endpoint = opts.GridURL
	}

	if bs := opts.BrowserStack; bs != nil {
		if bs.Username == "" || bs.AccessKey == "" {
			return nil, "", fmt.Errorf("%w: BrowserStack username and access key are required", ErrInvalidArgument)
		}
		bstack := maps.Clone(bs.BrowserCapabilities)
		if bstack == nil {
			bstack = map[string]any{}
		}
		maps.Copy(bstack, bs.Options)
		bstack["userName"] = bs.Username
		bstack["accessKey"] = bs.AccessKey
		caps[bstackOptions] = bstack
		endpoint = bs.HubURL
		if endpoint == "" {
			endpoint = BrowserStackHubURL
		}
	}

	maps.Copy(caps, opts.Capabilities)
	return caps, endpoint, nil
}

// CreateDriver opens a session described by opts
func (f *Factory) CreateDriver(opts DriverOptions) (selenium.WebDriver, error) {
	caps, endpoint, err := f.Capabilities(opts)
	if err != nil {
		report.Fail(f.recorder, "create web driver", "valid driver options", err.Error())
		return nil, err
	}
	wd, err := f.newRemote(caps, endpoint)
	if err != nil {
		f.logger.Error("failed to create web driver", "browser", opts.Browser, "error", err)
		report.Error(f.recorder, "create web driver", err)
		return nil, fmt.Errorf("failed to create %s driver: %w", opts.Browser, err)
	}
	f.logger.Info("web driver created", "browser", caps["browserName"], "grid", opts.UseGrid, "browserstack", opts.BrowserStack != nil)
	report.Pass(f.recorder, "create web driver", "driver created", fmt.Sprint(caps["browserName"]))
	return wd, nil
}

// PlatformName returns the host platform as WebDriver names it
func PlatformName() string {
	switch runtime.GOOS {
	case "windows":
		return "WINDOWS"
	case "darwin":
		return "MAC"
	case "linux":
		return "LINUX"
	default:
		return strings.ToUpper(runtime.GOOS)
	}
}
