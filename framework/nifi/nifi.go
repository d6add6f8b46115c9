// Package nifi drives an Apache NiFi instance through its REST API:
// component state, queues, connections and access tokens.
package nifi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/parser"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
)

const (
	apiPath = "/nifi-api"

	// DefaultMaxWait bounds EnableProcessor and DisableProcessor
	DefaultMaxWait = 60 * time.Second

	// DefaultPollInterval is how often component state is re-read
	DefaultPollInterval = 5 * time.Second

	// KeyPathDelimiter separates segments in key paths such as
	// "status/aggregateSnapshot/queuedCount"
	KeyPathDelimiter = "/"
)

// Component states accepted by the run-status endpoints
const (
	StateRunning      = "RUNNING"
	StateStopped      = "STOPPED"
	StateDisabled     = "DISABLED"
	StateTransmitting = "TRANSMITTING"
)

var (
	// ErrInvalidArgument is returned for empty ids, names and bad intervals
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a named component does not exist
	ErrNotFound = errors.New("component not found")

	// ErrEmptyResponse is returned when NiFi answers without the expected content
	ErrEmptyResponse = errors.New("empty response")
)

// Revision is the optimistic locking token NiFi requires on updates
type Revision struct {
	ClientID string `json:"clientId,omitempty"`
	Version  int64  `json:"version"`
}

func revisionOf(entity gjson.Result) Revision {
	return Revision{
		ClientID: entity.Get("revision.clientId").String(),
		Version:  entity.Get("revision.version").Int(),
	}
}

// Client talks to one NiFi instance
type Client struct {
	rest         *restclient.Client
	logger       *slog.Logger
	recorder     report.Recorder
	pollInterval time.Duration
	maxWait      time.Duration
}

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	logger       *slog.Logger
	recorder     report.Recorder
	rest         []restclient.ClientOption
	pollInterval time.Duration
	maxWait      time.Duration
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

// WithToken authenticates every request with an existing bearer token
func WithToken(token string) Option {
	return func(o *clientOptions) {
		o.rest = append(o.rest, restclient.WithBearerToken(token))
	}
}

// WithPolling overrides the default interval and max wait used by the
// enable and disable helpers
func WithPolling(interval, maxWait time.Duration) Option {
	return func(o *clientOptions) {
		if interval > 0 {
			o.pollInterval = interval
		}
		if maxWait > 0 {
			o.maxWait = maxWait
		}
	}
}

// New creates a client for the NiFi instance at baseURL, e.g.
// "https://nifi.example.com:8443". The /nifi-api suffix is added when missing.
func New(baseURL string, opts ...Option) *Client {
	o := &clientOptions{
		logger:       slog.Default(),
		recorder:     report.Nop{},
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, apiPath) {
		base += apiPath
	}
	logger := o.logger.With("component", "nifi")
	return &Client{
		rest:         restclient.New(base, append([]restclient.ClientOption{restclient.WithLogger(logger)}, o.rest...)...),
		logger:       logger,
		recorder:     o.recorder,
		pollInterval: o.pollInterval,
		maxWait:      o.maxWait,
	}
}

// BaseURL returns the API root requests are sent to
func (c *Client) BaseURL() string {
	return c.rest.BaseURL()
}

// Token returns the bearer token in use
func (c *Client) Token() string {
	return c.rest.BearerToken()
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", ErrInvalidArgument, kind)
	}
	return nil
}

// send issues a JSON request and parses the reply. want defaults to 200.
func (c *Client) send(ctx context.Context, method, target string, body any, want ...int) (gjson.Result, error) {
	var raw json.RawMessage
	var opts []restclient.RequestOption
	if len(want) > 0 {
		opts = append(opts, restclient.WithExpectedStatus(want...))
	}
	if err := c.rest.SendJSON(ctx, method, target, body, &raw, opts...); err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(raw), nil
}

func (c *Client) get(ctx context.Context, target string) (gjson.Result, error) {
	return c.send(ctx, http.MethodGet, target, nil)
}

// About returns the instance title and version
type About struct {
	Title    string `json:"title"`
	Version  string `json:"version"`
	URI      string `json:"uri"`
	Timezone string `json:"timezone"`
	BuildTag string `json:"buildTag"`
}

// AboutNifi reads /flow/about
func (c *Client) AboutNifi(ctx context.Context) (*About, error) {
	var out struct {
		About About `json:"about"`
	}
	if err := c.rest.GetJSON(ctx, "flow/about", nil, &out); err != nil {
		report.Error(c.recorder, "nifi about", err)
		return nil, err
	}
	if out.About.Version == "" {
		report.Fail(c.recorder, "nifi about", "version information", "empty response")
		return nil, fmt.Errorf("%w: /flow/about", ErrEmptyResponse)
	}
	c.logger.Debug("nifi about", "title", out.About.Title, "version", out.About.Version)
	report.Pass(c.recorder, "nifi about", "version information", out.About.Version)
	return &out.About, nil
}

// GetAccessConfig reads the login configuration
func (c *Client) GetAccessConfig(ctx context.Context) (map[string]any, error) {
	var out struct {
		Config map[string]any `json:"config"`
	}
	if err := c.rest.GetJSON(ctx, "access/config", nil, &out); err != nil {
		report.Error(c.recorder, "nifi access config", err)
		return nil, err
	}
	if len(out.Config) == 0 {
		report.Fail(c.recorder, "nifi access config", "access configuration", "empty or invalid")
		return nil, fmt.Errorf("%w: /access/config", ErrEmptyResponse)
	}
	c.logger.Debug("access configuration retrieved", "config", out.Config)
	report.Pass(c.recorder, "nifi access config", "access configuration", "retrieved")
	return out.Config, nil
}

// GetSecurityToken logs in with username and password and uses the returned
// token for every later request
func (c *Client) GetSecurityToken(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: username and password are required", ErrInvalidArgument)
	}
	form := url.Values{"username": {username}, "password": {password}}
	resp, err := c.rest.Do(ctx, http.MethodPost, "access/token",
		restclient.WithPayload([]byte(form.Encode())),
		restclient.WithHeaders(map[string]string{"Content-Type": "application/x-www-form-urlencoded"}),
	)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		c.logger.Warn("failed to generate security token", "status", resp.StatusCode)
		return "", &restclient.StatusError{Method: http.MethodPost, URL: c.BaseURL() + "/access/token", StatusCode: resp.StatusCode, Body: resp.Text()}
	}
	token := strings.TrimSpace(resp.Text())
	if token == "" {
		return "", fmt.Errorf("%w: /access/token", ErrEmptyResponse)
	}
	c.rest.SetBearerToken(token)
	c.logger.Info("generated nifi security token")
	return token, nil
}

// CallRequest sends an arbitrary request relative to the API root
func (c *Client) CallRequest(ctx context.Context, method, target string, headers map[string]string, opts ...restclient.RequestOption) (*restclient.Response, error) {
	return c.rest.CallRequest(ctx, method, target, headers, opts...)
}

// GetKeyPathValue reads a "/" separated key path from a JSON document
func GetKeyPathValue(doc, keyPath string) (any, error) {
	return parser.GetKeyPathValue(doc, keyPath, KeyPathDelimiter)
}

// pickKeyPath maps each entity to its value at keyPath, or to the decoded
// entity when keyPath is empty
func pickKeyPath(entities []gjson.Result, keyPath string) ([]any, error) {
	out := make([]any, 0, len(entities))
	for _, e := range entities {
		if keyPath == "" {
			out = append(out, e.Value())
			continue
		}
		v, err := GetKeyPathValue(e.Raw, keyPath)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
