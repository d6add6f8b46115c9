package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cookie, _ := r.Cookie("session")
		cookieValue := ""
		if cookie != nil {
			cookieValue = cookie.Value
		}
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "/target", http.StatusFound)
			return
		}
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"no such resource"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "served", Value: "yes"})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method":        r.Method,
			"path":          r.URL.Path,
			"query":         r.URL.RawQuery,
			"body":          string(body),
			"authorization": r.Header.Get("Authorization"),
			"content_type":  r.Header.Get("Content-Type"),
			"x_team":        r.Header.Get("X-Team"),
			"cookie":        cookieValue,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallRequest_Validation(t *testing.T) {
	c := New("http://localhost")
	ctx := context.Background()

	_, err := c.CallRequest(ctx, "TRACE", "/x", nil)
	assert.ErrorIs(t, err, ErrInvalidMethod)

	_, err = c.CallRequest(ctx, "GET", "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.CallRequest(ctx, "post", "/x", nil)
	assert.ErrorIs(t, err, ErrPayloadRequired)
}

func TestCallRequest_SendsEverything(t *testing.T) {
	srv := echoServer(t)
	c := New(srv.URL, WithHeader("X-Team", "qa"), WithBearerToken("tok"))

	resp, err := c.CallRequest(context.Background(), "PUT", "/items/7?v=1",
		map[string]string{"Content-Type": "text/plain"},
		WithPayload([]byte("hello")),
		WithCookies(map[string]string{"session": "abc"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType())
	assert.Positive(t, resp.Elapsed)

	var got map[string]string
	require.NoError(t, resp.JSON(&got))
	assert.Equal(t, "PUT", got["method"])
	assert.Equal(t, "/items/7", got["path"])
	assert.Equal(t, "v=1", got["query"])
	assert.Equal(t, "hello", got["body"])
	assert.Equal(t, "Bearer tok", got["authorization"])
	assert.Equal(t, "text/plain", got["content_type"])
	assert.Equal(t, "qa", got["x_team"])
	assert.Equal(t, "abc", got["cookie"])

	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, "served", resp.Cookies()[0].Name)
}

func TestDo_DoesNotFollowRedirectsByDefault(t *testing.T) {
	srv := echoServer(t)
	c := New(srv.URL)

	resp, err := c.Do(context.Background(), http.MethodGet, "/redirect")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	resp, err = c.Do(context.Background(), http.MethodGet, "/redirect", WithFollowRedirects(true))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_RetriesOnlyIdempotentMethods(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, WithRetryAttempts(2))

	_, err := c.Do(context.Background(), http.MethodPost, "/orders", WithPayload([]byte(`{"id":1}`)))
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())

	hits.Store(0)
	_, err = c.Do(context.Background(), http.MethodGet, "/orders")
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRetryable(t *testing.T) {
	dialErr := &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	readErr := &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}}

	assert.True(t, retryable(http.MethodPost, dialErr))
	assert.False(t, retryable(http.MethodPost, readErr))
	assert.False(t, retryable(http.MethodPatch, readErr))
	assert.True(t, retryable(http.MethodGet, readErr))
	assert.True(t, retryable(http.MethodPut, readErr))
	assert.False(t, retryable(http.MethodGet, context.Canceled))
}

func TestGetJSON_StatusError(t *testing.T) {
	srv := echoServer(t)
	c := New(srv.URL)

	err := c.GetJSON(context.Background(), "/missing", nil, nil)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Contains(t, err.Error(), "no such resource")
}

func TestPostJSON(t *testing.T) {
	srv := echoServer(t)
	c := New(srv.URL)

	var got map[string]string
	require.NoError(t, c.PostJSON(context.Background(), "/api", map[string]int{"a": 1}, &got))
	assert.Equal(t, `{"a":1}`, got["body"])
	assert.Equal(t, "application/json", got["content_type"])
}

func TestWithBasicAuthOverridesBearer(t *testing.T) {
	srv := echoServer(t)
	c := New(srv.URL, WithBearerToken("tok"))

	resp, err := c.Do(context.Background(), http.MethodGet, "/", WithBasicAuth("user", "pass"))
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, resp.JSON(&got))
	assert.Equal(t, "Basic dXNlcjpwYXNz", got["authorization"])
}

func TestWithFile_Multipart(t *testing.T) {
	var field, filename, content, extra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("contents")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		field, filename, content, extra = "contents", hdr.Filename, string(b), r.FormValue("path")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))

	c := New(srv.URL)
	_, err := c.CallRequest(context.Background(), "POST", "/upload", nil,
		WithFile("contents", path, map[string]string{"path": "/FileStore/data.csv"}))
	require.NoError(t, err)
	assert.Equal(t, "contents", field)
	assert.Equal(t, "data.csv", filename)
	assert.Equal(t, "a,b\n1,2\n", content)
	assert.Equal(t, "/FileStore/data.csv", extra)
}

func TestExecuteDescription(t *testing.T) {
	srv := echoServer(t)
	c := New(srv.URL)

	resp, err := c.Execute(context.Background(), Description{
		Method:      "POST",
		Endpoint:    "/users",
		QueryParams: map[string]string{"dryRun": "true"},
		Headers:     map[string]string{"Content-Type": "application/json"},
		Payload:     `{"name":"ada"}`,
	})
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, resp.JSON(&got))
	assert.Equal(t, "/users", got["path"])
	assert.Equal(t, "dryRun=true", got["query"])
	assert.Equal(t, `{"name":"ada"}`, got["body"])
}
