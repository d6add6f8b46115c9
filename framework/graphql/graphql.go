// Package graphql runs GraphQL queries and mutations against an endpoint
// and builds simple operation documents.
package graphql

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/machinebox/graphql"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
)

var (
	// ErrInvalidArgument is returned for empty endpoints, queries and variables
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoClient is returned when a query runs before CreateClient
	ErrNoClient = errors.New("graphql client not initialized")
)

// Response is a decoded GraphQL reply
type Response = map[string]any

// Utils holds the client created by CreateClient
type Utils struct {
	logger   *slog.Logger
	recorder report.Recorder
	timeout  time.Duration
	hc       *http.Client

	mu       sync.Mutex
	client   *graphql.Client
	endpoint string
	headers  map[string]string
}

// Option configures Utils
type Option func(*Utils)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(u *Utils) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithRecorder sets where report steps go
func WithRecorder(rec report.Recorder) Option {
	return func(u *Utils) {
		u.recorder = report.OrNop(rec)
	}
}

// WithConfig applies the default HTTP timeout
func WithConfig(cfg *config.Config) Option {
	return func(u *Utils) {
		if cfg != nil && cfg.HTTPTimeout > 0 {
			u.timeout = cfg.HTTPTimeout
		}
	}
}

// WithHTTPClient sets the HTTP client used when no per-call options are given
func WithHTTPClient(hc *http.Client) Option {
	return func(u *Utils) {
		u.hc = hc
	}
}

// New creates a GraphQL helper without a client
func New(opts ...Option) *Utils {
	u := &Utils{
		logger:   slog.Default(),
		recorder: report.Nop{},
		timeout:  config.DefaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With("component", "graphql")
	return u
}

// CallOption adjusts one call
type CallOption func(*callOptions)

type callOptions struct {
	headers  map[string]string
	timeout  time.Duration
	insecure bool
}

// WithHeaders adds headers to every request
func WithHeaders(h map[string]string) CallOption {
	return func(o *callOptions) {
		o.headers = h
	}
}

// WithTimeout bounds each request
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithVerify toggles TLS certificate verification
func WithVerify(verify bool) CallOption {
	return func(o *callOptions) {
		o.insecure = !verify
	}
}

func (u *Utils) callOptions(opts []CallOption) *callOptions {
	o := &callOptions{timeout: u.timeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (u *Utils) httpClient(o *callOptions) *http.Client {
	if u.hc != nil && !o.insecure {
		return u.hc
	}
	hc := &http.Client{Timeout: o.timeout}
	if o.insecure {
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return hc
}

// CreateClient probes endpoint with a GET and keeps a client for later
// queries. Any HTTP answer counts as reachable; GraphQL servers often reject
// a bare GET.
func (u *Utils) CreateClient(ctx context.Context, endpoint string, opts ...CallOption) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidArgument)
	}
	o := u.callOptions(opts)
	hc := u.httpClient(o)

	probe := restclient.New("", restclient.WithHTTPClient(hc), restclient.WithLogger(u.logger))
	resp, err := probe.CallRequest(ctx, http.MethodGet, endpoint, o.headers)
	if err != nil {
		u.logger.Error("graphql endpoint unreachable", "endpoint", endpoint, "error", err)
		report.Error(u.recorder, "graphql client "+endpoint, err)
		return fmt.Errorf("failed to reach graphql endpoint %s: %w", endpoint, err)
	}

	client := graphql.NewClient(endpoint, graphql.WithHTTPClient(hc))
	client.Log = func(s string) { u.logger.Debug(s) }

	u.mu.Lock()
	u.client, u.endpoint, u.headers = client, endpoint, o.headers
	u.mu.Unlock()

	u.logger.Info("graphql client created", "endpoint", endpoint, "probe_status", resp.StatusCode)
	report.Pass(u.recorder, "graphql client "+endpoint, "client created", "client created")
	return nil
}

// Endpoint returns the endpoint of the current client
func (u *Utils) Endpoint() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.endpoint
}

// ExecuteQuery runs query with vars and returns the data object. When
// endpoint is set a new client for it is created first.
func (u *Utils) ExecuteQuery(ctx context.Context, query string, vars map[string]any, endpoint string, opts ...CallOption) (Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	if endpoint != "" {
		if err := u.CreateClient(ctx, endpoint, opts...); err != nil {
			return nil, err
		}
	}
	u.mu.Lock()
	client, headers := u.client, u.headers
	u.mu.Unlock()
	if client == nil {
		return nil, ErrNoClient
	}

	req := graphql.NewRequest(query)
	for k, v := range vars {
		req.Var(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range u.callOptions(opts).headers {
		req.Header.Set(k, v)
	}

	var data Response
	if err := client.Run(ctx, req, &data); err != nil {
		u.logger.Error("graphql query failed", "error", err)
		report.Error(u.recorder, "graphql query", err)
		return nil, fmt.Errorf("graphql query failed: %w", err)
	}
	report.Pass(u.recorder, "graphql query", "response", "data received")
	return data, nil
}

// ExecuteMutation runs a mutation. Mutations must carry variables.
func (u *Utils) ExecuteMutation(ctx context.Context, mutation string, vars map[string]any, endpoint string, opts ...CallOption) (Response, error) {
	if strings.TrimSpace(mutation) == "" {
		return nil, fmt.Errorf("%w: mutation is required", ErrInvalidArgument)
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("%w: mutation variables are required", ErrInvalidArgument)
	}
	return u.ExecuteQuery(ctx, mutation, vars, endpoint, opts...)
}

// ExecuteRawRequest posts {"query", "variables"} to endpoint and returns
// the whole decoded body, errors included
func (u *Utils) ExecuteRawRequest(ctx context.Context, endpoint, query string, vars map[string]any, opts ...CallOption) (Response, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	o := u.callOptions(opts)
	rc := restclient.New("", restclient.WithHTTPClient(u.httpClient(o)), restclient.WithLogger(u.logger))
	body := map[string]any{"query": query}
	if vars != nil {
		body["variables"] = vars
	}
	resp, err := rc.CallRequest(ctx, http.MethodPost, endpoint, o.headers, restclient.WithJSON(body))
	if err != nil {
		report.Error(u.recorder, "graphql raw request", err)
		return nil, err
	}
	var out Response
	if err := resp.JSON(&out); err != nil {
		report.Error(u.recorder, "graphql raw request", err)
		return nil, fmt.Errorf("failed to decode graphql response (status %d): %w", resp.StatusCode, err)
	}
	if out == nil {
		return nil, fmt.Errorf("empty graphql response (status %d)", resp.StatusCode)
	}
	return out, nil
}

// GetData returns resp["data"], or resp itself when it has no data field
func GetData(resp Response) any {
	if resp == nil {
		return nil
	}
	if data, ok := resp["data"]; ok {
		return data
	}
	return resp
}

// GetErrors returns resp["errors"], or nil
func GetErrors(resp Response) []any {
	if resp == nil {
		return nil
	}
	errs, _ := resp["errors"].([]any)
	return errs
}

// Variable is an operation variable and its GraphQL type
type Variable struct {
	Name string
	Type string
}

func lowerFirst(s string) string {
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func writeSelection(b *strings.Builder, fields []string, nested map[string][]string, indent string) {
	for _, f := range fields {
		b.WriteString(indent + f + "\n")
	}
	keys := make([]string, 0, len(nested))
	for k := range nested {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(indent + k + " {\n")
		for _, f := range nested[k] {
			b.WriteString(indent + "  " + f + "\n")
		}
		b.WriteString(indent + "}\n")
	}
}

func signature(vars []Variable) (decl, args string) {
	d := make([]string, len(vars))
	a := make([]string, len(vars))
	for i, v := range vars {
		d[i] = "$" + v.Name + ": " + v.Type
		a[i] = v.Name + ": $" + v.Name
	}
	return strings.Join(d, ", "), strings.Join(a, ", ")
}

// BuildMutation builds
//
//	mutation Name($a: T) { name(input: {a: $a}) { fields nested { ... } } }
//
// It returns "" when name, vars or returnFields is empty.
func BuildMutation(name string, vars []Variable, returnFields []string, nested map[string][]string) string {
	if name == "" || len(vars) == 0 || len(returnFields) == 0 {
		return ""
	}
	decl, args := signature(vars)
	var b strings.Builder
	fmt.Fprintf(&b, "mutation %s(%s) {\n  %s(input: {%s}) {\n", name, decl, lowerFirst(name), args)
	writeSelection(&b, returnFields, nested, "    ")
	b.WriteString("  }\n}")
	return b.String()
}

// BuildQuery builds
//
//	query Name($a: T) { name(a: $a) { fields nested { ... } } }
//
// Arguments are optional. It returns "" when name or fields is empty.
func BuildQuery(name string, args []Variable, fields []string, nested map[string][]string) string {
	if name == "" || len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	field := lowerFirst(name)
	if len(args) > 0 {
		decl, call := signature(args)
		fmt.Fprintf(&b, "query %s(%s) {\n  %s(%s) {\n", name, decl, field, call)
	} else {
		fmt.Fprintf(&b, "query %s {\n  %s {\n", name, field)
	}
	writeSelection(&b, fields, nested, "    ")
	b.WriteString("  }\n}")
	return b.String()
}

// BuildFragment builds "fragment Name on Type { fields nested { ... } }".
// It returns "" when any of name, typeName or fields is empty.
func BuildFragment(name, typeName string, fields []string, nested map[string][]string) string {
	if name == "" || typeName == "" || len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "fragment %s on %s {\n", name, typeName)
	writeSelection(&b, fields, nested, "  ")
	b.WriteString("}")
	return b.String()
}
