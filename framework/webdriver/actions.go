package webdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/tebeka/selenium"
	sellog "github.com/tebeka/selenium/log"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/resultlist"
	"github.com/cafex/cafex/framework/wait"
)

const defaultPoll = 250 * time.Millisecond

// Actions drives one browser session
type Actions struct {
	wd       selenium.WebDriver
	logger   *slog.Logger
	recorder report.Recorder
	timeout  time.Duration
	poll     time.Duration
}

// ActionsOption configures Actions
type ActionsOption func(*Actions)

// WithActionsLogger sets the logger
func WithActionsLogger(logger *slog.Logger) ActionsOption {
	return func(a *Actions) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithActionsRecorder sets where report steps go
func WithActionsRecorder(rec report.Recorder) ActionsOption {
	return func(a *Actions) {
		a.recorder = report.OrNop(rec)
	}
}

// WithExplicitWait sets how long element lookups wait and how often they retry
func WithExplicitWait(timeout, poll time.Duration) ActionsOption {
	return func(a *Actions) {
		if timeout > 0 {
			a.timeout = timeout
		}
		if poll > 0 {
			a.poll = poll
		}
	}
}

// NewActions wraps wd
func NewActions(wd selenium.WebDriver, opts ...ActionsOption) *Actions {
	a := &Actions{
		wd:       wd,
		logger:   slog.Default(),
		recorder: report.Nop{},
		timeout:  config.DefaultExplicitWait,
		poll:     defaultPoll,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "webclient")
	return a
}

// Driver returns the wrapped session
func (a *Actions) Driver() selenium.WebDriver {
	return a.wd
}

// Quit ends the session
func (a *Actions) Quit() error {
	return a.wd.Quit()
}

// Navigate opens url
func (a *Actions) Navigate(url string) error {
	if err := a.wd.Get(url); err != nil {
		report.Error(a.recorder, "navigate to "+url, err)
		return err
	}
	a.logger.Debug("navigated", "url", url)
	return nil
}

// GoToURL checks that url is absolute http(s) before navigating
func (a *Actions) GoToURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidArgument, rawURL)
	}
	return a.Navigate(rawURL)
}

// Title returns the page title
func (a *Actions) Title() (string, error) { return a.wd.Title() }

// CurrentURL returns the page URL
func (a *Actions) CurrentURL() (string, error) { return a.wd.CurrentURL() }

// Back goes one page back in history
func (a *Actions) Back() error { return a.wd.Back() }

// Forward goes one page forward in history
func (a *Actions) Forward() error { return a.wd.Forward() }

// Refresh reloads the page
func (a *Actions) Refresh() error { return a.wd.Refresh() }

// WaitForPageReadyState waits until document.readyState is "complete"
func (a *Actions) WaitForPageReadyState(ctx context.Context, timeout time.Duration) error {
	return wait.Poll(ctx, "page ready state", a.poll, a.timeoutOr(timeout), func(context.Context) (bool, error) {
		state, err := a.wd.ExecuteScript("return document.readyState", nil)
		if err != nil {
			return false, err
		}
		return state == "complete", nil
	})
}

func (a *Actions) timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return a.timeout
}

// WindowHandles returns the open window handles
func (a *Actions) WindowHandles() ([]string, error) { return a.wd.WindowHandles() }

// SwitchToWindow switches to a window by handle
func (a *Actions) SwitchToWindow(handle string) error {
	if err := a.wd.SwitchWindow(handle); err != nil {
		report.Error(a.recorder, "switch to window "+handle, err)
		return err
	}
	return nil
}

// SwitchToLastOpenWindow switches to the most recently opened window
func (a *Actions) SwitchToLastOpenWindow() (string, error) {
	handles, err := a.wd.WindowHandles()
	if err != nil {
		return "", err
	}
	if len(handles) == 0 {
		return "", fmt.Errorf("%w: no open windows", ErrInvalidArgument)
	}
	last := handles[len(handles)-1]
	return last, a.SwitchToWindow(last)
}

// SwitchToFrame switches into the frame found by locator
func (a *Actions) SwitchToFrame(ctx context.Context, locator string) error {
	el, err := a.GetWebElement(ctx, locator)
	if err != nil {
		return err
	}
	return a.wd.SwitchFrame(el)
}

// SwitchToDefaultContent leaves all frames
func (a *Actions) SwitchToDefaultContent() error {
	return a.wd.SwitchFrame(nil)
}

// AcceptAlert accepts the open alert
func (a *Actions) AcceptAlert() error { return a.wd.AcceptAlert() }

// DismissAlert dismisses the open alert
func (a *Actions) DismissAlert() error { return a.wd.DismissAlert() }

// AlertText returns the text of the open alert
func (a *Actions) AlertText() (string, error) { return a.wd.AlertText() }

// SendKeysToAlert types into a prompt
func (a *Actions) SendKeysToAlert(text string) error { return a.wd.SetAlertText(text) }

// GetCookies returns every cookie of the current domain
func (a *Actions) GetCookies() ([]selenium.Cookie, error) { return a.wd.GetCookies() }

// CookieExists reports whether a cookie named name is set
func (a *Actions) CookieExists(name string) (bool, error) {
	cookies, err := a.wd.GetCookies()
	if err != nil {
		return false, err
	}
	ok := slices.ContainsFunc(cookies, func(c selenium.Cookie) bool { return c.Name == name })
	return report.Check(a.recorder, ok, "cookie "+name, "present", strconv.FormatBool(ok)), nil
}

// GetCookieValue returns the value of a cookie
func (a *Actions) GetCookieValue(name string) (string, error) {
	c, err := a.wd.GetCookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// AddCookie sets a cookie on the current domain
func (a *Actions) AddCookie(name, value string) error {
	return a.wd.AddCookie(&selenium.Cookie{Name: name, Value: value, Path: "/"})
}

// DeleteCookie removes one cookie, or all when name is empty
func (a *Actions) DeleteCookie(name string) error {
	if name == "" {
		return a.wd.DeleteAllCookies()
	}
	return a.wd.DeleteCookie(name)
}

// ExecuteJavaScript runs script with args
func (a *Actions) ExecuteJavaScript(script string, args ...any) (any, error) {
	return a.wd.ExecuteScript(script, args)
}

// waitElement polls locator until match accepts the element
func (a *Actions) waitElement(ctx context.Context, locator string, timeout time.Duration, what string, match func(selenium.WebElement) (bool, error)) (selenium.WebElement, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	var found selenium.WebElement
	err = wait.Poll(ctx, what+" "+loc.String(), a.poll, a.timeoutOr(timeout), func(context.Context) (bool, error) {
		el, err := a.wd.FindElement(loc.By, loc.Value)
		if err != nil {
			return false, nil
		}
		ok, err := match(el)
		if err != nil || !ok {
			return false, nil
		}
		found = el
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func present(selenium.WebElement) (bool, error) { return true, nil }

func displayed(el selenium.WebElement) (bool, error) { return el.IsDisplayed() }

func clickable(el selenium.WebElement) (bool, error) {
	if ok, err := el.IsDisplayed(); err != nil || !ok {
		return false, err
	}
	return el.IsEnabled()
}

// GetWebElement waits for the element to be present
func (a *Actions) GetWebElement(ctx context.Context, locator string) (selenium.WebElement, error) {
	el, err := a.waitElement(ctx, locator, 0, "element", present)
	if err != nil {
		report.Error(a.recorder, "find element "+locator, err)
	}
	return el, err
}

// GetClickableWebElement waits for the element to be displayed and enabled
func (a *Actions) GetClickableWebElement(ctx context.Context, locator string) (selenium.WebElement, error) {
	el, err := a.waitElement(ctx, locator, 0, "clickable element", clickable)
	if err != nil {
		report.Error(a.recorder, "find clickable element "+locator, err)
	}
	return el, err
}

// GetWebElements returns every element matching locator, possibly none
func (a *Actions) GetWebElements(locator string) ([]selenium.WebElement, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	return a.wd.FindElements(loc.By, loc.Value)
}

// IsElementPresent reports whether locator matches within timeout
func (a *Actions) IsElementPresent(ctx context.Context, locator string, timeout time.Duration) bool {
	_, err := a.waitElement(ctx, locator, timeout, "element", present)
	return err == nil
}

// IsElementDisplayed reports whether the element becomes visible within timeout
func (a *Actions) IsElementDisplayed(ctx context.Context, locator string, timeout time.Duration) bool {
	_, err := a.waitElement(ctx, locator, timeout, "visible element", displayed)
	return err == nil
}

// WaitForInvisibility waits until the element is gone or hidden
func (a *Actions) WaitForInvisibility(ctx context.Context, locator string, timeout time.Duration) error {
	loc, err := ParseLocator(locator)
	if err != nil {
		return err
	}
	return wait.Poll(ctx, "invisibility of "+loc.String(), a.poll, a.timeoutOr(timeout), func(context.Context) (bool, error) {
		el, err := a.wd.FindElement(loc.By, loc.Value)
		if err != nil {
			return true, nil
		}
		shown, err := el.IsDisplayed()
		return err != nil || !shown, nil
	})
}

// Click waits for the element to be clickable and clicks it
func (a *Actions) Click(ctx context.Context, locator string) error {
	el, err := a.GetClickableWebElement(ctx, locator)
	if err != nil {
		return err
	}
	if err := el.Click(); err != nil {
		report.Error(a.recorder, "click "+locator, err)
		return err
	}
	return nil
}

// Type sends text to the element, clearing it first when clear is set
func (a *Actions) Type(ctx context.Context, locator, text string, clear bool) error {
	el, err := a.GetClickableWebElement(ctx, locator)
	if err != nil {
		return err
	}
	if clear {
		if err := el.Clear(); err != nil {
			return err
		}
	}
	if err := el.SendKeys(text); err != nil {
		report.Error(a.recorder, "type into "+locator, err)
		return err
	}
	return nil
}

// GetAttributeValue returns an attribute of the element
func (a *Actions) GetAttributeValue(ctx context.Context, locator, attr string) (string, error) {
	el, err := a.GetWebElement(ctx, locator)
	if err != nil {
		return "", err
	}
	return el.GetAttribute(attr)
}

// GetChildElements returns the elements under parent matching child
func (a *Actions) GetChildElements(ctx context.Context, parent, child string) ([]selenium.WebElement, error) {
	el, err := a.GetWebElement(ctx, parent)
	if err != nil {
		return nil, err
	}
	loc, err := ParseLocator(child)
	if err != nil {
		return nil, err
	}
	return el.FindElements(loc.By, loc.Value)
}

// Highlight draws a red border around the element
func (a *Actions) Highlight(ctx context.Context, locator string) error {
	el, err := a.GetWebElement(ctx, locator)
	if err != nil {
		return err
	}
	_, err = a.wd.ExecuteScript("arguments[0].style.border='3px solid red';", []any{el})
	return err
}

// SelectBy chooses how a dropdown option is matched
type SelectBy int

const (
	ByVisibleText SelectBy = iota
	ByValue
	ByIndex
)

func (a *Actions) options(ctx context.Context, locator string) ([]selenium.WebElement, error) {
	el, err := a.GetWebElement(ctx, locator)
	if err != nil {
		return nil, err
	}
	return el.FindElements(selenium.ByTagName, "option")
}

func optionMatches(opt selenium.WebElement, i int, by SelectBy, value string) (bool, error) {
	switch by {
	case ByValue:
		v, err := opt.GetAttribute("value")
		return v == value, err
	case ByIndex:
		return strconv.Itoa(i) == value, nil
	default:
		t, err := opt.Text()
		return t == value, err
	}
}

// SelectDropdownValue selects the option matching value
func (a *Actions) SelectDropdownValue(ctx context.Context, locator string, by SelectBy, value string) error {
	return a.setOption(ctx, locator, by, value, true)
}

// DeselectDropdownValue clears the option matching value in a multi-select
func (a *Actions) DeselectDropdownValue(ctx context.Context, locator string, by SelectBy, value string) error {
	return a.setOption(ctx, locator, by, value, false)
}

func (a *Actions) setOption(ctx context.Context, locator string, by SelectBy, value string, selected bool) error {
	opts, err := a.options(ctx, locator)
	if err != nil {
		return err
	}
	for i, opt := range opts {
		ok, err := optionMatches(opt, i, by, value)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		is, err := opt.IsSelected()
		if err != nil {
			return err
		}
		if is != selected {
			return opt.Click()
		}
		return nil
	}
	report.Fail(a.recorder, "dropdown "+locator, "option "+value, "not found")
	return fmt.Errorf("%w: option %q in %s", ErrInvalidArgument, value, locator)
}

// GetSelectedValues returns the text of every selected option
func (a *Actions) GetSelectedValues(ctx context.Context, locator string) ([]string, error) {
	opts, err := a.options(ctx, locator)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, opt := range opts {
		if ok, err := opt.IsSelected(); err != nil || !ok {
			continue
		}
		t, err := opt.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// WebTableToResultList reads an HTML table into a result list. Header cells
// come from th elements, rows from tr elements holding td cells.
func (a *Actions) WebTableToResultList(ctx context.Context, locator string) (resultlist.ResultList, error) {
	table, err := a.GetWebElement(ctx, locator)
	if err != nil {
		return nil, err
	}
	texts := func(els []selenium.WebElement) ([]string, error) {
		out := make([]string, len(els))
		for i, el := range els {
			t, err := el.Text()
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	}
	ths, err := table.FindElements(selenium.ByTagName, "th")
	if err != nil {
		return nil, err
	}
	headers, err := texts(ths)
	if err != nil {
		return nil, err
	}
	trs, err := table.FindElements(selenium.ByTagName, "tr")
	if err != nil {
		return nil, err
	}
	records := [][]string{headers}
	for _, tr := range trs {
		tds, err := tr.FindElements(selenium.ByTagName, "td")
		if err != nil {
			return nil, err
		}
		if len(tds) == 0 {
			continue
		}
		row, err := texts(tds)
		if err != nil {
			return nil, err
		}
		records = append(records, row)
	}
	return resultlist.FromStrings(records), nil
}

// ScrollToElement scrolls the element into view
func (a *Actions) ScrollToElement(ctx context.Context, locator string) error {
	el, err := a.GetWebElement(ctx, locator)
	if err != nil {
		return err
	}
	_, err = a.wd.ExecuteScript("arguments[0].scrollIntoView(true);", []any{el})
	return err
}

// ScrollBy scrolls the window by x and y pixels
func (a *Actions) ScrollBy(x, y int) error {
	_, err := a.wd.ExecuteScript(fmt.Sprintf("window.scrollBy(%d, %d);", x, y), nil)
	return err
}

// ScrollToTop scrolls to the top of the page
func (a *Actions) ScrollToTop() error {
	_, err := a.wd.ExecuteScript("window.scrollTo(0, 0);", nil)
	return err
}

// ScrollToBottom scrolls to the bottom of the page
func (a *Actions) ScrollToBottom() error {
	_, err := a.wd.ExecuteScript("window.scrollTo(0, document.body.scrollHeight);", nil)
	return err
}

// BrowserLogs returns the browser console log
func (a *Actions) BrowserLogs() ([]sellog.Message, error) {
	return a.wd.Log(sellog.Browser)
}

// WaitUntilFileDownload waits until name (a glob) appears complete in dir
func (a *Actions) WaitUntilFileDownload(ctx context.Context, dir, name string, timeout time.Duration) (string, error) {
	path, err := wait.ForFile(ctx, dir, name, a.poll, a.timeoutOr(timeout))
	if errors.Is(err, wait.ErrTimeout) {
		report.Fail(a.recorder, "download "+name, "file downloaded", "not found in "+dir)
		return "", err
	}
	if err != nil {
		return "", err
	}
	report.Pass(a.recorder, "download "+name, "file downloaded", path)
	return path, nil
}

// SetImplicitWait sets the session's implicit wait
func (a *Actions) SetImplicitWait(d time.Duration) error {
	return a.wd.SetImplicitWaitTimeout(d)
}

// Screenshot saves a PNG of the page to path
func (a *Actions) Screenshot(path string) error {
	data, err := a.wd.Screenshot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
