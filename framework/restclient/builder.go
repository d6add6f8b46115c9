package restclient

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/cafex/cafex/framework/parser"
)

// BaseURLFromURI returns scheme://host of uri. Scheme and host are required.
func BaseURLFromURI(uri string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q must contain scheme and host", ErrInvalidArgument, uri)
	}
	return u.Scheme + "://" + u.Host, nil
}

// HeadersFromString parses "k1:v1,k2:v2" style header strings.
// The two delimiters must differ.
func HeadersFromString(s, headerDelimiter, valueDelimiter string) (map[string]string, error) {
	if headerDelimiter == "" {
		headerDelimiter = ","
	}
	if valueDelimiter == "" {
		valueDelimiter = ":"
	}
	if headerDelimiter == valueDelimiter {
		return nil, fmt.Errorf("%w: header and value delimiters must differ", ErrInvalidArgument)
	}
	headers := map[string]string{}
	for _, pair := range strings.Split(s, headerDelimiter) {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, valueDelimiter)
		if !ok {
			return nil, fmt.Errorf("%w: header %q has no value", ErrInvalidArgument, pair)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}

// AddPathParameters appends path segments to rawURL. With replace the
// existing path is dropped first; with encode each segment is escaped.
func AddPathParameters(rawURL string, params []string, encode, replace bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	var segments []string
	if !replace {
		for _, s := range strings.Split(strings.Trim(u.EscapedPath(), "/"), "/") {
			if s != "" {
				segments = append(segments, s)
			}
		}
	}
	for _, p := range params {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		if encode {
			p = url.PathEscape(p)
		}
		segments = append(segments, p)
	}
	return rebuild(u, "/"+strings.Join(segments, "/"))
}

func rebuild(u *url.URL, escapedPath string) (string, error) {
	path, err := url.PathUnescape(escapedPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	u.Path = path
	u.RawPath = escapedPath
	return u.String(), nil
}

// OverwritePathParameters replaces the path segments in current with those in
// replacement, both split by delimiter. The segment counts must match.
func OverwritePathParameters(rawURL, current, replacement, delimiter string) (string, error) {
	if delimiter == "" {
		delimiter = ","
	}
	from := strings.Split(current, delimiter)
	to := strings.Split(replacement, delimiter)
	if len(from) != len(to) {
		return "", fmt.Errorf("%w: %d current parameters but %d replacements", ErrInvalidArgument, len(from), len(to))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	segments := strings.Split(u.EscapedPath(), "/")
	for i, f := range from {
		f = strings.TrimSpace(f)
		found := false
		for j, s := range segments {
			if s == f {
				segments[j] = strings.TrimSpace(to[i])
				found = true
			}
		}
		if !found {
			return "", fmt.Errorf("%w: path parameter %q not in %s", ErrInvalidArgument, f, rawURL)
		}
	}
	return rebuild(u, strings.Join(segments, "/"))
}

// AddQueryParameters merges params into the query of rawURL. New keys are
// appended in sorted order. Without encode values are written verbatim.
func AddQueryParameters(rawURL string, params map[string]string, encode bool) (string, error) {
	base, existing, _ := strings.Cut(rawURL, "?")
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var pairs []string
	seen := map[string]bool{}
	if existing != "" {
		for _, kv := range strings.Split(existing, "&") {
			k, _, _ := strings.Cut(kv, "=")
			if v, ok := params[k]; ok {
				seen[k] = true
				kv = joinQuery(k, v, encode)
			}
			pairs = append(pairs, kv)
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, joinQuery(k, params[k], encode))
	}

	if len(pairs) == 0 {
		return base, nil
	}
	return base + "?" + strings.Join(pairs, "&"), nil
}

func joinQuery(k, v string, encode bool) string {
	if encode {
		return url.QueryEscape(k) + "=" + url.QueryEscape(v)
	}
	return k + "=" + v
}

// PathParameters returns the non-empty path segments of rawURL
func PathParameters(rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	var out []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// QueryParameters returns the query of rawURL as a map (last value wins)
func QueryParameters(rawURL string) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	out := map[string]string{}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			out[k] = vs[len(vs)-1]
		}
	}
	return out, nil
}

// QueryString returns the raw query of rawURL
func QueryString(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return u.RawQuery, nil
}

// EncodeURL query-escapes s
func EncodeURL(s string) string {
	return url.QueryEscape(s)
}

// DecodeURL reverses EncodeURL
func DecodeURL(s string) (string, error) {
	return url.QueryUnescape(s)
}

// ModifyPayload sets each key path ("a/b/0/c") in a JSON payload.
func ModifyPayload(payload string, updates map[string]any) (string, error) {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := payload
	for _, k := range keys {
		var err error
		out, err = parser.SetKeyPathValue(out, k, parser.DefaultDelimiter, updates[k])
		if err != nil {
			return "", fmt.Errorf("failed to set %s: %w", k, err)
		}
	}
	return out, nil
}

// Compress gzips data
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress gunzips data
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
