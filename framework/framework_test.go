package framework

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/logging"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/resultlist"
)

func newTestFramework(t *testing.T, opts ...Option) *Framework {
	t.Helper()
	cfg := config.Default().WithPollInterval(10 * time.Millisecond)
	cfg.ReportDir = t.TempDir()
	base := []Option{WithLogger(logging.Discard()), WithConfig(cfg)}
	f, err := New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	return f
}

type closeFunc func() error

func (fn closeFunc) Close() error { return fn() }

func TestNew_Defaults(t *testing.T) {
	f := newTestFramework(t)

	assert.NotNil(t, f.Context())
	assert.NotNil(t, f.Logger())
	assert.NotNil(t, f.Run())
	assert.Same(t, f.Run(), f.Recorder())
	assert.Nil(t, f.ConfigUtils())
	assert.Empty(t, f.GetTrackedResources())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default().WithHTTPTimeout(0)
	_, err := New(context.Background(), WithLogger(logging.Discard()), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	cfg = config.Default().WithMaxConcurrentTransfers(0)
	_, err = New(context.Background(), WithLogger(logging.Discard()), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	cfg = config.Default().WithWaitTimeout(time.Second).WithPollInterval(time.Minute)
	_, err = New(context.Background(), WithLogger(logging.Discard()), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNew_ProjectMissing(t *testing.T) {
	_, err := New(context.Background(), WithLogger(logging.Discard()), WithProject(t.TempDir(), ""))
	var preErr *PrerequisiteError
	require.ErrorAs(t, err, &preErr)
	assert.Equal(t, "project configuration", preErr.Component)
}

func TestNew_ExternalRecorder(t *testing.T) {
	run := report.NewRun("suite")
	f := newTestFramework(t, WithRecorder(run))

	assert.Nil(t, f.Run())
	_, err := f.ExportReport("x", report.FormatJSON)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCleanup_ReverseOrder(t *testing.T) {
	f := newTestFramework(t)

	var closed []string
	for _, name := range []string{"first", "second", "third"} {
		f.Track(name, closeFunc(func() error {
			closed = append(closed, name)
			return nil
		}))
	}
	f.Track("ignored", nil)
	require.Len(t, f.GetTrackedResources(), 3)

	require.NoError(t, f.Cleanup())
	assert.Equal(t, []string{"third", "second", "first"}, closed)
	assert.Empty(t, f.GetTrackedResources())

	// second cleanup has nothing left to close
	require.NoError(t, f.Cleanup())
	assert.Len(t, closed, 3)
}

func TestCleanup_CollectsErrors(t *testing.T) {
	f := newTestFramework(t)

	errFTP := errors.New("ftp quit failed")
	var closedDB bool
	f.Track("db", closeFunc(func() error {
		closedDB = true
		return nil
	}))
	f.Track("ftp", closeFunc(func() error { return errFTP }))

	err := f.Cleanup()
	var cleanupErr *CleanupError
	require.ErrorAs(t, err, &cleanupErr)
	assert.Equal(t, "close", cleanupErr.Phase)
	assert.Len(t, cleanupErr.Errs, 1)
	assert.ErrorIs(t, err, errFTP)
	assert.True(t, closedDB, "remaining closers still run after a failure")
}

func TestCheckPrerequisites(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nifi-api/flow/about":
			w.Write([]byte(`{"about":{"version":"1.23.2"}}`))
		case "/api/2.0/clusters/list":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer up.Close()

	f := newTestFramework(t)
	res, err := f.CheckPrerequisites(context.Background(),
		NiFiEndpoint(up.URL+"/nifi-api/"),
		DatabricksEndpoint(up.URL),
		SeleniumGridEndpoint(up.URL+"/wd/hub"),
	)
	require.NoError(t, err)
	require.Len(t, res.Endpoints, 3)

	assert.True(t, res.Endpoints[0].Reachable)
	assert.True(t, res.Endpoints[1].Reachable, "401 counts as reachable")
	assert.False(t, res.Endpoints[2].Reachable)
	assert.False(t, res.AllMet)
	assert.Contains(t, res.String(), "✓ NiFi")
	assert.Contains(t, res.String(), "✗ Selenium Grid")

	summary := f.Run().Summary()
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
}

func TestCheckPrerequisites_WaitsForEndpoint(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFramework(t)
	res, err := f.CheckPrerequisites(context.Background(),
		Endpoint{Name: "api", URL: srv.URL, Status: http.StatusOK, Wait: 2 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.AllMet)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestCheckPrerequisites_EmptyURL(t *testing.T) {
	f := newTestFramework(t)
	_, err := f.CheckPrerequisites(context.Background(), Endpoint{Name: "nothing"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCompareResultLists(t *testing.T) {
	f := newTestFramework(t)
	source := resultlist.New([]string{"id", "name"}, []any{1, "a"}, []any{2, "b"})
	same := resultlist.New([]string{"id", "name"}, []any{int64(1), "a"}, []any{int64(2), "b"})
	other := resultlist.New([]string{"id", "name"}, []any{1, "a"}, []any{3, "c"})

	res, err := f.CompareResultLists("same rows", source, same, resultlist.CompareOptions{})
	require.NoError(t, err)
	assert.True(t, res.Equal())

	res, err = f.CompareResultLists("different rows", source, other, resultlist.CompareOptions{})
	assert.ErrorIs(t, err, ErrCompareMismatch)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SourceOnly.RowCount())
	assert.Equal(t, 1, res.TargetOnly.RowCount())

	_, err = f.CompareResultLists("bad mode", source, other, resultlist.CompareOptions{Mode: "diagonal"})
	assert.ErrorIs(t, err, resultlist.ErrInvalidMode)

	summary := f.Run().Summary()
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Errored)
	assert.False(t, f.Run().Passed())
}

func TestExportReport(t *testing.T) {
	f := newTestFramework(t)
	report.Pass(f.Recorder(), "row count", "3", "3")

	path, err := f.ExportReport("nightly", report.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.Config().ReportDir, "nightly.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"row count"`)
}

func TestFacadesShareRecorder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	f := newTestFramework(t)
	resp, err := f.REST(srv.URL).CallRequest(context.Background(), http.MethodGet, "/health", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	dbx := f.Databricks(srv.URL, "token")
	assert.Equal(t, srv.URL+"/api/2.0", dbx.BaseURL())
	assert.Len(t, f.GetTrackedResources(), 1)
	require.NoError(t, f.Cleanup())

	assert.NotNil(t, f.WebSocket())
	assert.Len(t, f.GetTrackedResources(), 1)
	require.NoError(t, f.Cleanup())

	assert.NotNil(t, f.NiFi(srv.URL))
	assert.NotNil(t, f.GraphQL())
	assert.NotNil(t, f.FileTransfer())
	assert.NotNil(t, f.WebDriverFactory())

	_, err = f.WebDriver()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = f.ConnectConfiguredDatabase("databases/main", true)
	assert.ErrorIs(t, err, ErrNotConnected)
}
