package webdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/cafex/cafex/framework/restclient"
)

// BrowserStackBrowsersURL lists the browser and OS combinations available
// on BrowserStack Automate
const BrowserStackBrowsersURL = "https://api.browserstack.com/automate/browsers.json"

// BrowserStackBrowser is one entry of the browsers list
type BrowserStackBrowser struct {
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	Device         string `json:"device,omitempty"`
	RealMobile     bool   `json:"real_mobile,omitempty"`
}

// Capabilities converts the entry into browserName and bstack:options
func (b BrowserStackBrowser) Capabilities() (browser string, bstack map[string]any) {
	bstack = map[string]any{"os": b.OS, "osVersion": b.OSVersion}
	if b.BrowserVersion != "" {
		bstack["browserVersion"] = b.BrowserVersion
	}
	browser = strings.ToLower(b.Browser)
	if n, err := NormalizeBrowser(b.Browser); err == nil {
		browser = n
	}
	return browser, bstack
}

// FetchBrowserStackBrowsers downloads the browsers list. An empty url uses
// BrowserStackBrowsersURL.
func FetchBrowserStackBrowsers(ctx context.Context, url, username, accessKey string) ([]BrowserStackBrowser, error) {
	if username == "" || accessKey == "" {
		return nil, fmt.Errorf("%w: BrowserStack username and access key are required", ErrInvalidArgument)
	}
	if url == "" {
		url = BrowserStackBrowsersURL
	}
	var out []BrowserStackBrowser
	rc := restclient.New("")
	if err := rc.SendJSON(ctx, "GET", url, nil, &out, restclient.WithBasicAuth(username, accessKey)); err != nil {
		return nil, fmt.Errorf("failed to list BrowserStack browsers: %w", err)
	}
	return out, nil
}

// LoadBrowserStackBrowsers reads a browsers list saved as JSON
func LoadBrowserStackBrowsers(path string) ([]BrowserStackBrowser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read browsers file: %w", err)
	}
	var out []BrowserStackBrowser
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse browsers file %s: %w", path, err)
	}
	return out, nil
}

// RandomBrowser picks a desktop browser that the factory supports
func RandomBrowser(browsers []BrowserStackBrowser, rng *rand.Rand) (BrowserStackBrowser, error) {
	var candidates []BrowserStackBrowser
	for _, b := range browsers {
		if b.Device != "" || b.RealMobile {
			continue
		}
		if _, err := NormalizeBrowser(b.Browser); err == nil {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return BrowserStackBrowser{}, fmt.Errorf("%w: no supported desktop browser in list", ErrInvalidArgument)
	}
	if rng == nil {
		return candidates[rand.IntN(len(candidates))], nil
	}
	return candidates[rng.IntN(len(candidates))], nil
}
