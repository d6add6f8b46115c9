// Package restclient is the HTTP layer shared by the REST, NiFi, Databricks
// and GraphQL facades.
package restclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cafex/cafex/framework/retry"
)

// Sentinel errors for request validation
var (
	// ErrInvalidMethod indicates an HTTP method outside GET, POST, PUT, PATCH, DELETE
	ErrInvalidMethod = errors.New("invalid HTTP method")

	// ErrInvalidArgument indicates a missing or malformed argument
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPayloadRequired indicates POST, PUT or PATCH was called without a body
	ErrPayloadRequired = errors.New("payload is required for POST, PUT and PATCH")

	// ErrUnexpectedStatus is matched by every StatusError
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// SupportedMethods lists the methods accepted by CallRequest
var SupportedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// StatusError is returned when a response carries an unexpected status code
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.URL, e.StatusCode, body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// StatusCode extracts the HTTP status from a StatusError chain, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Client sends requests relative to a base URL
type Client struct {
	baseURL       string
	httpClient    *http.Client
	headers       http.Header
	bearer        string
	logger        *slog.Logger
	retryAttempts int
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the client-wide request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithInsecureSkipVerify toggles TLS certificate verification
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		if t, ok := c.httpClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: skip}
		}
	}
}

// WithHeader adds a header sent on every request
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithBearerToken sets the bearer token sent on every request
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.bearer = token
	}
}

// WithRetryAttempts sets how often transport failures are retried
func WithRetryAttempts(n int) ClientOption {
	return func(c *Client) {
		c.retryAttempts = n
	}
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client. Redirects are not followed unless a request asks for it.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		headers:       make(http.Header),
		logger:        slog.Default(),
		retryAttempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL requests are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetBearerToken replaces the bearer token, e.g. after a login call
func (c *Client) SetBearerToken(token string) {
	c.bearer = token
}

// BearerToken returns the current bearer token
func (c *Client) BearerToken() string {
	return c.bearer
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	cookies    []*http.Cookie
}

// JSON decodes the body into v
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// Text returns the body as a string
func (r *Response) Text() string {
	return string(r.Body)
}

// ContentType returns the media type of the response
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// Cookies returns the cookies set by the response
func (r *Response) Cookies() []*http.Cookie {
	return r.cookies
}

type requestOptions struct {
	headers         map[string]string
	query           url.Values
	body            []byte
	hasBody         bool
	expect          []int
	cookies         map[string]string
	basicUser       string
	basicPass       string
	bearer          string
	followRedirects bool
	timeout         time.Duration
	proxy           string
	insecure        *bool
	fileField       string
	filePath        string
	formFields      map[string]string
	err             error
}

// RequestOption configures a single request
type RequestOption func(*requestOptions)

// WithPayload sends raw bytes as the request body
func WithPayload(body []byte) RequestOption {
	return func(o *requestOptions) {
		o.body = body
		o.hasBody = true
	}
}

// WithJSON marshals v as the request body and sets the JSON content type
func WithJSON(v any) RequestOption {
	return func(o *requestOptions) {
		b, err := json.Marshal(v)
		if err != nil {
			o.err = fmt.Errorf("failed to marshal request body: %w", err)
			return
		}
		o.body = b
		o.hasBody = true
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		if _, ok := o.headers["Content-Type"]; !ok {
			o.headers["Content-Type"] = "application/json"
		}
	}
}

// WithExpectedStatus sets the statuses SendJSON accepts, 200 by default
func WithExpectedStatus(codes ...int) RequestOption {
	return func(o *requestOptions) {
		o.expect = codes
	}
}

// WithHeaders adds request headers
func WithHeaders(h map[string]string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		for k, v := range h {
			o.headers[k] = v
		}
	}
}

// WithQuery adds query parameters
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		o.query = q
	}
}

// WithCookies adds request cookies
func WithCookies(cookies map[string]string) RequestOption {
	return func(o *requestOptions) {
		o.cookies = cookies
	}
}

// WithBasicAuth sets HTTP basic authentication
func WithBasicAuth(user, pass string) RequestOption {
	return func(o *requestOptions) {
		o.basicUser, o.basicPass = user, pass
	}
}

// WithRequestBearer overrides the client bearer token for one request
func WithRequestBearer(token string) RequestOption {
	return func(o *requestOptions) {
		o.bearer = token
	}
}

// WithFollowRedirects makes the request follow redirects
func WithFollowRedirects(follow bool) RequestOption {
	return func(o *requestOptions) {
		o.followRedirects = follow
	}
}

// WithRequestTimeout overrides the client timeout for one request
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// WithProxy routes the request through the given proxy URL
func WithProxy(proxyURL string) RequestOption {
	return func(o *requestOptions) {
		o.proxy = proxyURL
	}
}

// WithVerify toggles TLS verification for one request
func WithVerify(verify bool) RequestOption {
	return func(o *requestOptions) {
		skip := !verify
		o.insecure = &skip
	}
}

// WithFile uploads a local file as a multipart form field, with extra form fields
func WithFile(field, path string, fields map[string]string) RequestOption {
	return func(o *requestOptions) {
		o.fileField, o.filePath = field, path
		o.formFields = fields
		o.hasBody = true
	}
}

func (c *Client) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || c.baseURL == "" {
		return target
	}
	return c.baseURL + "/" + strings.TrimLeft(target, "/")
}

func (c *Client) clientFor(o *requestOptions) (*http.Client, error) {
	hc := *c.httpClient
	if !o.followRedirects {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	if o.timeout > 0 {
		hc.Timeout = o.timeout
	}
	if o.proxy != "" || o.insecure != nil {
		base, ok := c.httpClient.Transport.(*http.Transport)
		if !ok {
			base = http.DefaultTransport.(*http.Transport)
		}
		t := base.Clone()
		if o.proxy != "" {
			p, err := url.Parse(o.proxy)
			if err != nil {
				return nil, fmt.Errorf("%w: proxy %q: %v", ErrInvalidArgument, o.proxy, err)
			}
			t.Proxy = http.ProxyURL(p)
		}
		if o.insecure != nil {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: *o.insecure}
		}
		hc.Transport = t
	}
	return &hc, nil
}

func multipartBody(o *requestOptions) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range o.formFields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	f, err := os.Open(o.filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open upload file: %w", err)
	}
	defer f.Close()
	part, err := w.CreateFormFile(o.fileField, filepath.Base(o.filePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// retryable reports whether a failed request may be sent again. Requests
// with non-idempotent methods are only resent when the connection was
// never established.
func retryable(method string, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if idempotent(method) {
		var netErr net.Error
		var urlErr *url.Error
		return errors.As(err, &netErr) || errors.As(err, &urlErr)
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// Do sends a request and reads the whole response. Non-2xx statuses are not errors here.
func (c *Client) Do(ctx context.Context, method, target string, opts ...RequestOption) (*Response, error) {
	o := &requestOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.err != nil {
		return nil, o.err
	}

	fullURL := c.resolve(target)
	if len(o.query) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + o.query.Encode()
	}

	body := o.body
	contentType := ""
	if o.filePath != "" {
		var err error
		body, contentType, err = multipartBody(o)
		if err != nil {
			return nil, err
		}
	}

	hc, err := c.clientFor(o)
	if err != nil {
		return nil, err
	}

	return retry.DoWithData(ctx, func(ctx context.Context) (*Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for k, vs := range c.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for name, value := range o.cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
		switch {
		case o.basicUser != "":
			req.SetBasicAuth(o.basicUser, o.basicPass)
		case o.bearer != "":
			req.Header.Set("Authorization", "Bearer "+o.bearer)
		case c.bearer != "":
			req.Header.Set("Authorization", "Bearer "+c.bearer)
		}

		start := time.Now()
		resp, err := hc.Do(req)
		if err != nil {
			if retryable(method, err) {
				return nil, fmt.Errorf("failed to execute request: %w", err)
			}
			return nil, retry.Permanent(fmt.Errorf("failed to execute request: %w", err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			err = fmt.Errorf("failed to read response body: %w", err)
			if idempotent(method) {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}
		elapsed := time.Since(start)

		c.logger.Debug("http request", "method", method, "url", fullURL, "status", resp.StatusCode, "elapsed", elapsed)

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
			Elapsed:    elapsed,
			cookies:    resp.Cookies(),
		}, nil
	}, retry.WithMaxAttempts(c.retryAttempts), retry.WithInitialDelay(500*time.Millisecond))
}

// CallRequest validates method, URL and payload, then sends the request.
func (c *Client) CallRequest(ctx context.Context, method, target string, headers map[string]string, opts ...RequestOption) (*Response, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if !slices.Contains(SupportedMethods, method) {
		return nil, fmt.Errorf("%w: %q, expected one of %s", ErrInvalidMethod, method, strings.Join(SupportedMethods, ", "))
	}
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("%w: URL is empty", ErrInvalidArgument)
	}

	o := &requestOptions{}
	for _, opt := range opts {
		opt(o)
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if !o.hasBody {
			return nil, ErrPayloadRequired
		}
	}

	return c.Do(ctx, method, target, append([]RequestOption{WithHeaders(headers)}, opts...)...)
}

// expectStatus turns a response into a StatusError unless its status is one of want
func expectStatus(method, target string, resp *Response, want ...int) error {
	if slices.Contains(want, resp.StatusCode) {
		return nil
	}
	return &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: resp.Text()}
}

// GetJSON issues GET and decodes a 200 response into out (when out is non-nil)
func (c *Client) GetJSON(ctx context.Context, target string, query url.Values, out any) error {
	return c.SendJSON(ctx, http.MethodGet, target, nil, out, WithQuery(query))
}

// PostJSON issues POST with a JSON body and decodes a 200 response into out
func (c *Client) PostJSON(ctx context.Context, target string, body, out any) error {
	return c.SendJSON(ctx, http.MethodPost, target, body, out)
}

// PutJSON issues PUT with a JSON body and decodes a 200 response into out
func (c *Client) PutJSON(ctx context.Context, target string, body, out any) error {
	return c.SendJSON(ctx, http.MethodPut, target, body, out)
}

// DeleteJSON issues DELETE and decodes a 200 response into out
func (c *Client) DeleteJSON(ctx context.Context, target string, query url.Values, out any) error {
	return c.SendJSON(ctx, http.MethodDelete, target, nil, out, WithQuery(query))
}

// SendJSON sends body as JSON and decodes the response into out. Statuses
// other than the expected ones become a StatusError.
func (c *Client) SendJSON(ctx context.Context, method, target string, body, out any, opts ...RequestOption) error {
	want := []int{http.StatusOK}
	collected := &requestOptions{}
	for _, opt := range opts {
		opt(collected)
	}
	if len(collected.expect) > 0 {
		want = collected.expect
	}
	if body != nil {
		opts = append(opts, WithJSON(body))
	}
	opts = append(opts, WithHeaders(map[string]string{"Accept": "application/json"}))
	resp, err := c.Do(ctx, method, target, opts...)
	if err != nil {
		return err
	}
	if err := expectStatus(method, c.resolve(target), resp, want...); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	return resp.JSON(out)
}

// Description is a declarative request, usually loaded from a service description file
type Description struct {
	Method      string
	Endpoint    string
	QueryParams map[string]string
	Headers     map[string]string
	Payload     string
}

// Execute sends a Description
func (c *Client) Execute(ctx context.Context, d Description, opts ...RequestOption) (*Response, error) {
	target := d.Endpoint
	if len(d.QueryParams) > 0 {
		var err error
		target, err = AddQueryParameters(c.resolve(target), d.QueryParams, true)
		if err != nil {
			return nil, err
		}
	}
	if d.Payload != "" {
		opts = append(opts, WithPayload([]byte(d.Payload)))
	}
	return c.CallRequest(ctx, d.Method, target, d.Headers, opts...)
}
