// Package parser reads values out of JSON and XML response bodies.
package parser

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrInvalidJSON indicates the input is not valid JSON
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrKeyNotFound indicates a key or key path has no value
	ErrKeyNotFound = errors.New("key not found")

	// ErrElementNotFound indicates an XPath matched nothing
	ErrElementNotFound = errors.New("element not found")
)

// DefaultDelimiter separates key path segments
const DefaultDelimiter = "/"

func parse(doc string) (gjson.Result, error) {
	if !gjson.Valid(doc) {
		return gjson.Result{}, ErrInvalidJSON
	}
	return gjson.Parse(doc), nil
}

// EscapeKey escapes gjson path syntax in a single object key.
func EscapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// gjsonPath converts "a/b/0/c" into an escaped gjson path.
func gjsonPath(keyPath, delimiter string) string {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	segments := strings.Split(strings.Trim(keyPath, delimiter), delimiter)
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, EscapeKey(s))
	}
	return strings.Join(escaped, ".")
}

// GetKeyPathValue resolves an absolute key path such as "data/users/0/name".
// Numeric segments index arrays.
func GetKeyPathValue(doc, keyPath, delimiter string) (any, error) {
	root, err := parse(doc)
	if err != nil {
		return nil, err
	}
	res := root.Get(gjsonPath(keyPath, delimiter))
	if !res.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyPath)
	}
	return res.Value(), nil
}

// SetKeyPathValue returns doc with the value at keyPath replaced or created.
func SetKeyPathValue(doc, keyPath, delimiter string, value any) (string, error) {
	if _, err := parse(doc); err != nil {
		return "", err
	}
	return sjson.Set(doc, gjsonPath(keyPath, delimiter), value)
}

// walk visits every object member depth-first in document order.
func walk(res gjson.Result, visit func(key string, value gjson.Result) bool) bool {
	cont := true
	res.ForEach(func(k, v gjson.Result) bool {
		if res.IsObject() {
			if !visit(k.String(), v) {
				cont = false
				return false
			}
		}
		if v.IsObject() || v.IsArray() {
			if !walk(v, visit) {
				cont = false
				return false
			}
		}
		return true
	})
	return cont
}

// GetKeyValue returns the value of the first occurrence of key at any depth.
func GetKeyValue(doc, key string) (any, error) {
	root, err := parse(doc)
	if err != nil {
		return nil, err
	}
	var found *gjson.Result
	walk(root, func(k string, v gjson.Result) bool {
		if k == key {
			found = &v
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return found.Value(), nil
}

// KeyExists reports whether key occurs anywhere in doc
func KeyExists(doc, key string) (bool, error) {
	n, err := OccurrenceOfKey(doc, key)
	return n > 0, err
}

// OccurrenceOfKey counts how many times key appears at any depth
func OccurrenceOfKey(doc, key string) (int, error) {
	root, err := parse(doc)
	if err != nil {
		return 0, err
	}
	count := 0
	walk(root, func(k string, _ gjson.Result) bool {
		if k == key {
			count++
		}
		return true
	})
	return count, nil
}

// AllKeys lists distinct keys at any depth in order of first appearance
func AllKeys(doc string) ([]string, error) {
	root, err := parse(doc)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var keys []string
	walk(root, func(k string, _ gjson.Result) bool {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
		return true
	})
	return keys, nil
}

// CompareJSON compares two documents and returns the key paths that differ.
// Keys listed in ignoreKeys are skipped at every depth. An empty result means equal.
func CompareJSON(expected, actual string, ignoreKeys ...string) ([]string, error) {
	exp, err := parse(expected)
	if err != nil {
		return nil, fmt.Errorf("expected: %w", err)
	}
	act, err := parse(actual)
	if err != nil {
		return nil, fmt.Errorf("actual: %w", err)
	}
	ignore := make(map[string]bool, len(ignoreKeys))
	for _, k := range ignoreKeys {
		ignore[k] = true
	}
	var diffs []string
	compareValues("", exp.Value(), act.Value(), ignore, &diffs)
	sort.Strings(diffs)
	return diffs, nil
}

func compareValues(path string, exp, act any, ignore map[string]bool, diffs *[]string) {
	join := func(seg string) string {
		if path == "" {
			return seg
		}
		return path + DefaultDelimiter + seg
	}
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			*diffs = append(*diffs, pathOrRoot(path))
			return
		}
		for k, ev := range e {
			if ignore[k] {
				continue
			}
			av, ok := a[k]
			if !ok {
				*diffs = append(*diffs, join(k))
				continue
			}
			compareValues(join(k), ev, av, ignore, diffs)
		}
		for k := range a {
			if _, ok := e[k]; !ok && !ignore[k] {
				*diffs = append(*diffs, join(k))
			}
		}
	case []any:
		a, ok := act.([]any)
		if !ok || len(a) != len(e) {
			*diffs = append(*diffs, pathOrRoot(path))
			return
		}
		for i := range e {
			compareValues(join(strconv.Itoa(i)), e[i], a[i], ignore, diffs)
		}
	default:
		if !reflect.DeepEqual(exp, act) {
			*diffs = append(*diffs, pathOrRoot(path))
		}
	}
}

func pathOrRoot(p string) string {
	if p == "" {
		return DefaultDelimiter
	}
	return p
}
