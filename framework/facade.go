package framework

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/tebeka/selenium"

	"github.com/cafex/cafex/framework/database"
	"github.com/cafex/cafex/framework/databricks"
	"github.com/cafex/cafex/framework/filetransfer"
	"github.com/cafex/cafex/framework/graphql"
	"github.com/cafex/cafex/framework/nifi"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
	"github.com/cafex/cafex/framework/resultlist"
	"github.com/cafex/cafex/framework/webdriver"
	"github.com/cafex/cafex/framework/websocket"
)

// NiFi returns a client for the NiFi instance at baseURL
func (f *Framework) NiFi(baseURL string, opts ...nifi.Option) *nifi.Client {
	base := []nifi.Option{
		nifi.WithLogger(f.base),
		nifi.WithRecorder(f.recorder),
		nifi.WithConfig(f.config),
	}
	return nifi.New(baseURL, append(base, opts...)...)
}

// Databricks returns a client for the workspace at workspaceURL. The client is
// tracked so its cached SQL connections are closed by Cleanup.
func (f *Framework) Databricks(workspaceURL, token string, opts ...databricks.Option) *databricks.Client {
	base := []databricks.Option{
		databricks.WithLogger(f.base),
		databricks.WithRecorder(f.recorder),
		databricks.WithConfig(f.config),
	}
	c := databricks.New(workspaceURL, token, append(base, opts...)...)
	f.Track("databricks "+workspaceURL, c)
	return c
}

// WebSocket returns a WebSocket client. It is tracked so the connection kept
// by SendMessage is closed by Cleanup.
func (f *Framework) WebSocket(opts ...websocket.Option) *websocket.Client {
	base := []websocket.Option{
		websocket.WithLogger(f.base.With("component", "websocket")),
		websocket.WithRecorder(f.recorder),
		websocket.WithConfig(f.config),
	}
	c := websocket.New(append(base, opts...)...)
	f.Track("websocket client", c)
	return c
}

// GraphQL returns the GraphQL helpers
func (f *Framework) GraphQL(opts ...graphql.Option) *graphql.Utils {
	base := []graphql.Option{
		graphql.WithLogger(f.base),
		graphql.WithRecorder(f.recorder),
		graphql.WithConfig(f.config),
	}
	return graphql.New(append(base, opts...)...)
}

// REST returns a plain REST client for baseURL, which may be empty when
// every call passes an absolute URL
func (f *Framework) REST(baseURL string, opts ...restclient.ClientOption) *restclient.Client {
	base := []restclient.ClientOption{
		restclient.WithLogger(f.base.With("component", "restclient")),
		restclient.WithTimeout(f.config.HTTPTimeout),
		restclient.WithInsecureSkipVerify(f.config.InsecureSkipVerify),
		restclient.WithRetryAttempts(f.config.RetryAttempts),
	}
	return restclient.New(baseURL, append(base, opts...)...)
}

// Database returns the database operations
func (f *Framework) Database() *database.Operations {
	return database.New(
		database.WithLogger(f.base),
		database.WithRecorder(f.recorder),
	)
}

// ConnectDatabase opens a tracked database connection
func (f *Framework) ConnectDatabase(dbType database.Type, server string, opts database.ConnectOptions) (*database.Conn, error) {
	conn, err := f.Database().Connect(f.ctx, dbType, server, opts)
	if err != nil {
		return nil, err
	}
	f.Track(fmt.Sprintf("%s database %s", dbType, server), conn)
	return conn, nil
}

// ConnectConfiguredDatabase opens the database described at keypath of the
// team config, see configutils.ConfigUtils.DBConfiguration
func (f *Framework) ConnectConfiguredDatabase(keypath string, inEnv bool) (*database.Conn, error) {
	if f.configUtils == nil {
		return nil, fmt.Errorf("%w: no project configuration loaded", ErrNotConnected)
	}
	desc, err := f.configUtils.DBConfiguration(keypath, inEnv)
	if err != nil {
		return nil, err
	}
	return f.ConnectDatabase(desc.Type, desc.Server, desc.ConnectOptions())
}

// FileTransfer returns the FTP, SFTP and S3 helpers
func (f *Framework) FileTransfer() *filetransfer.Utils {
	return filetransfer.New(
		filetransfer.WithLogger(f.base),
		filetransfer.WithRecorder(f.recorder),
		filetransfer.WithConfig(f.config),
	)
}

// FTP opens a tracked plain FTP connection
func (f *Framework) FTP(host, user, password string) (*filetransfer.FTPConn, error) {
	conn, err := f.FileTransfer().OpenFTPConnection(f.ctx, host, user, password)
	if err != nil {
		return nil, err
	}
	f.Track("ftp "+host, conn)
	return conn, nil
}

// FTPS opens a tracked explicit-TLS FTP connection
func (f *Framework) FTPS(host, user, password string, tlsConfig *tls.Config) (*filetransfer.FTPConn, error) {
	conn, err := f.FileTransfer().OpenFTPSConnection(f.ctx, host, user, password, tlsConfig)
	if err != nil {
		return nil, err
	}
	f.Track("ftps "+host, conn)
	return conn, nil
}

// SFTP opens a tracked SFTP connection
func (f *Framework) SFTP(host string, port int, user string, auth filetransfer.SFTPAuth) (*filetransfer.SFTPConn, error) {
	conn, err := f.FileTransfer().OpenSFTPConnection(f.ctx, host, port, user, auth)
	if err != nil {
		return nil, err
	}
	f.Track(fmt.Sprintf("sftp %s:%d", host, port), conn)
	return conn, nil
}

// S3 opens an object store session
func (f *Framework) S3(ctx context.Context, accessKey, secretKey string, opts filetransfer.S3Options) (*filetransfer.S3Session, error) {
	return f.FileTransfer().OpenSession(ctx, accessKey, secretKey, opts)
}

// WebDriverFactory returns the WebDriver session factory
func (f *Framework) WebDriverFactory(opts ...webdriver.FactoryOption) *webdriver.Factory {
	base := []webdriver.FactoryOption{
		webdriver.WithLogger(f.base),
		webdriver.WithRecorder(f.recorder),
	}
	return webdriver.NewFactory(append(base, opts...)...)
}

// WebDriver opens a session from the project configuration and returns its
// actions. The session is tracked and quit by Cleanup.
func (f *Framework) WebDriver(opts ...webdriver.FactoryOption) (*webdriver.Actions, error) {
	if f.configUtils == nil {
		return nil, fmt.Errorf("%w: no project configuration loaded", ErrNotConnected)
	}
	driverOpts, err := f.configUtils.DriverOptions(f.ctx)
	if err != nil {
		return nil, err
	}
	wd, err := f.WebDriverFactory(opts...).CreateDriver(driverOpts)
	if err != nil {
		return nil, err
	}
	actions := f.WebActions(wd)
	if err := actions.SetImplicitWait(f.configUtils.ImplicitWait()); err != nil {
		f.logger.Warn("failed to set implicit wait", "error", err)
	}
	f.Track("webdriver "+driverOpts.Browser, quitter{actions})
	return actions, nil
}

// WebActions wraps an open session with the element and page helpers,
// using the explicit wait from the project configuration when one is loaded
func (f *Framework) WebActions(wd selenium.WebDriver) *webdriver.Actions {
	timeout := f.config.ExplicitWait
	if f.configUtils != nil {
		timeout = f.configUtils.ExplicitWait()
	}
	return webdriver.NewActions(wd,
		webdriver.WithActionsLogger(f.base),
		webdriver.WithActionsRecorder(f.recorder),
		webdriver.WithExplicitWait(timeout, 0),
	)
}

type quitter struct{ a *webdriver.Actions }

func (q quitter) Close() error { return q.a.Quit() }

// CompareResultLists compares two result lists and records the outcome.
// A successful comparison that finds differences returns the result together
// with ErrCompareMismatch.
func (f *Framework) CompareResultLists(name string, source, target resultlist.ResultList, opts resultlist.CompareOptions) (*resultlist.CompareResult, error) {
	res, err := resultlist.Compare(source, target, opts)
	if err != nil {
		report.Error(f.recorder, name, err)
		return nil, err
	}
	expected := "no differences"
	if res.Equal() {
		report.Pass(f.recorder, name, expected, expected)
		return res, nil
	}
	actual := fmt.Sprintf("%d line differences, %d source only, %d target only",
		res.Diff.RowCount(), res.SourceOnly.RowCount(), res.TargetOnly.RowCount())
	report.Fail(f.recorder, name, expected, actual)
	f.logger.Warn("result lists differ", "check", name, "differences", actual)
	return res, fmt.Errorf("%w: %s", ErrCompareMismatch, actual)
}
