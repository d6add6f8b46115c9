// Package databricks wraps the Databricks workspace REST API (DBFS,
// notebooks, clusters, jobs, command contexts and tokens) and runs SQL
// against a cluster or warehouse through databricks-sql-go.
package databricks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/database"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
)

const (
	apiV2 = "/api/2.0"
	apiV1 = "/api/1.2"

	// DefaultReadLength is the number of bytes ReadDBFSFile reads when no
	// length is given
	DefaultReadLength = 1000
)

var (
	// ErrInvalidArgument is returned for empty paths, ids and names
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a named cluster or job does not exist
	ErrNotFound = errors.New("not found")

	// ErrNoContext is returned by command calls made before a context exists
	ErrNoContext = errors.New("no execution context")

	// ErrJobFailed is returned when a run terminates without SUCCESS
	ErrJobFailed = errors.New("job run failed")
)

// Client talks to one Databricks workspace
type Client struct {
	url      string
	token    string
	rest     *restclient.Client
	legacy   *restclient.Client
	logger   *slog.Logger
	recorder report.Recorder
	db       *database.Operations

	mu        sync.Mutex
	contextID string
	sql       map[string]*database.Conn
	sqlOpener func(ctx context.Context, httpPath string) (*database.Conn, error)
}

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	logger   *slog.Logger
	recorder report.Recorder
	rest     []restclient.ClientOption
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets where report steps go
func WithRecorder(rec report.Recorder) Option {
	return func(o *clientOptions) {
		o.recorder = report.OrNop(rec)
	}
}

// WithConfig applies the HTTP timeout, TLS verification and retry settings
func WithConfig(cfg *config.Config) Option {
	return func(o *clientOptions) {
		if cfg == nil {
			return
		}
		o.rest = append(o.rest,
			restclient.WithTimeout(cfg.HTTPTimeout),
			restclient.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
			restclient.WithRetryAttempts(cfg.RetryAttempts),
		)
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		o.rest = append(o.rest, restclient.WithHTTPClient(hc))
	}
}

// New creates a client for the workspace at workspaceURL, e.g.
// "https://adb-123.4.azuredatabricks.net", authenticated with token.
func New(workspaceURL, token string, opts ...Option) *Client {
	o := &clientOptions{logger: slog.Default(), recorder: report.Nop{}}
	for _, opt := range opts {
		opt(o)
	}
	base := strings.TrimRight(workspaceURL, "/")
	base = strings.TrimSuffix(base, apiV2)
	logger := o.logger.With("component", "databricks")
	restOpts := append([]restclient.ClientOption{
		restclient.WithLogger(logger),
		restclient.WithBearerToken(token),
	}, o.rest...)
	return &Client{
		url:      base,
		token:    token,
		rest:     restclient.New(base+apiV2, restOpts...),
		legacy:   restclient.New(base+apiV1, restOpts...),
		logger:   logger,
		recorder: o.recorder,
		db:       database.New(database.WithLogger(o.logger), database.WithRecorder(o.recorder)),
		sql:      map[string]*database.Conn{},
	}
}

// BaseURL returns the 2.0 API root
func (c *Client) BaseURL() string {
	return c.rest.BaseURL()
}

func required(what, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, what)
	}
	return nil
}

// send issues a JSON request against the 2.0 API and parses the reply
func (c *Client) send(ctx context.Context, method, target string, body any) (gjson.Result, error) {
	return sendOn(ctx, c.rest, method, target, body)
}

func sendOn(ctx context.Context, rc *restclient.Client, method, target string, body any) (gjson.Result, error) {
	var raw json.RawMessage
	if err := rc.SendJSON(ctx, method, target, body, &raw); err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(raw), nil
}

// step records a pass or an error for one API call and passes err through
func (c *Client) step(name string, err error, actual string) error {
	if err != nil {
		report.Error(c.recorder, name, err)
		c.logger.Warn("databricks call failed", "step", name, "error", err)
		return err
	}
	report.Pass(c.recorder, name, "success", actual)
	return nil
}

// CallRequest sends an arbitrary request relative to the 2.0 API root
func (c *Client) CallRequest(ctx context.Context, method, target string, headers map[string]string, opts ...restclient.RequestOption) (*restclient.Response, error) {
	return c.rest.CallRequest(ctx, method, target, headers, opts...)
}

// Close releases SQL connections opened by ExecuteHiveQuery
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for path, conn := range c.sql {
		errs = append(errs, c.db.Close(conn))
		delete(c.sql, path)
	}
	return errors.Join(errs...)
}
