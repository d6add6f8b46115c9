package webdriver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tebeka/selenium"
)

// ErrInvalidLocator is returned for locators that are not strategy=value
var ErrInvalidLocator = errors.New("invalid locator")

var strategies = map[string]string{
	"xpath":        selenium.ByXPATH,
	"id":           selenium.ByID,
	"css":          selenium.ByCSSSelector,
	"name":         selenium.ByName,
	"class":        selenium.ByClassName,
	"tag":          selenium.ByTagName,
	"link":         selenium.ByLinkText,
	"partial_link": selenium.ByPartialLinkText,
}

// LocatorStrategy maps a short strategy name to the WebDriver "by" value
func LocatorStrategy(name string) (string, error) {
	by, ok := strategies[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidLocator, name)
	}
	return by, nil
}

// Locator is a parsed strategy=value pair
type Locator struct {
	By    string
	Value string
}

func (l Locator) String() string {
	return l.By + "=" + l.Value
}

// ParseLocator parses "strategy=value". Values starting with "/" or "("
// without a strategy are taken as XPath.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("%w: empty locator", ErrInvalidLocator)
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return Locator{By: selenium.ByXPATH, Value: s}, nil
	}
	name, value, ok := strings.Cut(s, "=")
	if !ok || value == "" {
		return Locator{}, fmt.Errorf("%w: %q is not strategy=value", ErrInvalidLocator, s)
	}
	by, err := LocatorStrategy(name)
	if err != nil {
		return Locator{}, err
	}
	return Locator{By: by, Value: value}, nil
}

// GetXPath builds //tag[@attr='value'], using text() when attr is "text".
// A positive index wraps it as (xpath)[index].
func GetXPath(tag, attr, value string, index int) string {
	if tag == "" {
		tag = "*"
	}
	pred := "@" + attr
	if attr == "text" {
		pred = "text()"
	}
	xp := fmt.Sprintf("//%s[%s=%s]", tag, pred, xpathLiteral(value))
	if index > 0 {
		xp = fmt.Sprintf("(%s)[%d]", xp, index)
	}
	return xp
}

// xpathLiteral quotes s, falling back to concat() when it holds both quote kinds
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}
