// Package database opens connections to relational, Snowflake, Cassandra
// and SSH-reached Hive/Spark databases and runs verification queries on them.
// Query results are returned as resultlist.ResultList values.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	dbsql "github.com/databricks/databricks-sql-go"
	"github.com/go-sql-driver/mysql"
	"github.com/gocql/gocql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	goora "github.com/sijms/go-ora/v2"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/sshclient"
)

// Sentinel errors for database operations
var (
	// ErrUnsupported indicates an operation the database type does not support
	ErrUnsupported = errors.New("unsupported database type")

	// ErrNotConnected indicates a nil or closed connection
	ErrNotConnected = errors.New("database connection is nil")

	// ErrInvalidArgument indicates a missing or malformed argument
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrQueryFailed indicates a Hive or Spark command that reported a query error
	ErrQueryFailed = errors.New("query failed")
)

// Type names a database engine
type Type string

const (
	Postgres   Type = "postgres"
	MSSQL      Type = "mssql"
	MySQL      Type = "mysql"
	Oracle     Type = "oracle"
	Databricks Type = "databricks"
	Snowflake  Type = "snowflake"
	Cassandra  Type = "cassandra"
	Hive       Type = "hive"
	Spark      Type = "spark"
)

var defaultPorts = map[Type]int{
	Postgres:   5432,
	MSSQL:      1433,
	MySQL:      3306,
	Oracle:     1521,
	Databricks: 443,
	Snowflake:  443,
	Cassandra:  9042,
	Hive:       22,
	Spark:      22,
}

// ParseType maps a user supplied name ("PostgreSQL", "sqlserver") to a Type
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mssql", "sqlserver":
		return MSSQL, nil
	case "mysql":
		return MySQL, nil
	case "oracle":
		return Oracle, nil
	case "databricks":
		return Databricks, nil
	case "snowflake":
		return Snowflake, nil
	case "cassandra":
		return Cassandra, nil
	case "hive", "ec2_hive":
		return Hive, nil
	case "spark":
		return Spark, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// ConnectOptions carry the settings for Connect. Only the fields relevant to
// the database type are used.
type ConnectOptions struct {
	Database string
	Username string
	Password string
	Port     int

	// SecretKey decrypts an AES-encrypted Password (see DecodePassword)
	SecretKey string

	// Oracle
	SID         string
	ServiceName string

	// Databricks SQL warehouse
	HTTPPath    string
	AccessToken string
	Catalog     string

	// Snowflake. The server argument is the account identifier unless
	// Account is set.
	Account   string
	Warehouse string
	Schema    string
	Role      string

	// Cassandra
	Keyspace string
	Hosts    []string

	// PEMFile is the SSH key for Hive and Spark and the key-pair
	// authentication key for Snowflake
	PEMFile string

	// Params are appended to the driver DSN
	Params map[string]string

	Timeout time.Duration
}

// Conn is an open database handle
type Conn struct {
	Type     Type
	Database string

	db      *sqlx.DB
	session *gocql.Session
	ssh     *sshclient.Client
}

// NewConn wraps an existing sqlx handle, e.g. one opened by the caller or a sqlmock
func NewConn(t Type, database string, db *sqlx.DB) *Conn {
	return &Conn{Type: t, Database: database, db: db}
}

// NewSSHConn wraps an SSH client used for Hive or Spark commands
func NewSSHConn(t Type, client *sshclient.Client) *Conn {
	return &Conn{Type: t, ssh: client}
}

// DB returns the sqlx handle, nil for Cassandra and SSH connections
func (c *Conn) DB() *sqlx.DB {
	return c.db
}

// Session returns the Cassandra session
func (c *Conn) Session() *gocql.Session {
	return c.session
}

// Close releases the connection
func (c *Conn) Close() error {
	switch {
	case c.db != nil:
		return c.db.Close()
	case c.session != nil:
		c.session.Close()
	case c.ssh != nil:
		return c.ssh.Close()
	}
	return nil
}

// Option configures Operations
type Option func(*Operations)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Operations) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the report recorder
func WithRecorder(rec report.Recorder) Option {
	return func(o *Operations) {
		o.recorder = report.OrNop(rec)
	}
}

// Operations runs statements and verification queries
type Operations struct {
	logger   *slog.Logger
	recorder report.Recorder
}

// New creates Operations
func New(opts ...Option) *Operations {
	o := &Operations{
		logger:   slog.Default(),
		recorder: report.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Connect opens a connection of the given type to server
func (o *Operations) Connect(ctx context.Context, dbType Type, server string, opts ConnectOptions) (*Conn, error) {
	if strings.TrimSpace(server) == "" && len(opts.Hosts) == 0 {
		return nil, fmt.Errorf("%w: server name is required", ErrInvalidArgument)
	}
	if opts.Port == 0 {
		opts.Port = defaultPorts[dbType]
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.SecretKey != "" && opts.Password != "" {
		pw, err := DecodePassword(opts.Password, opts.SecretKey)
		if err != nil {
			return nil, err
		}
		opts.Password = pw
	}

	switch dbType {
	case Postgres, MSSQL, MySQL, Oracle:
		if opts.Username != "" && opts.Password == "" {
			return nil, fmt.Errorf("%w: password is required when a username is given", ErrInvalidArgument)
		}
	case Hive, Spark:
		if opts.Password == "" && opts.PEMFile == "" {
			return nil, fmt.Errorf("%w: password or PEM file is required for %s", ErrInvalidArgument, dbType)
		}
	case Snowflake:
		if opts.Username == "" || opts.Warehouse == "" {
			return nil, fmt.Errorf("%w: snowflake requires a username and a warehouse", ErrInvalidArgument)
		}
		if opts.Password == "" && opts.PEMFile == "" {
			return nil, fmt.Errorf("%w: password or PEM file is required for %s", ErrInvalidArgument, dbType)
		}
	}

	logger := o.logger.With("db_type", string(dbType), "server", server)
	var (
		conn *Conn
		err  error
	)
	switch dbType {
	case Postgres, MSSQL, MySQL, Oracle:
		conn, err = connectSQL(ctx, dbType, server, opts)
	case Databricks:
		conn, err = connectDatabricks(ctx, server, opts)
	case Snowflake:
		conn, err = connectSnowflake(ctx, server, opts)
	case Cassandra:
		conn, err = connectCassandra(ctx, server, opts)
	case Hive, Spark:
		conn, err = connectSSH(ctx, dbType, server, opts, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, dbType)
	}
	if err != nil {
		logger.Error("failed to connect", "error", err)
		return nil, err
	}
	logger.Info("connected", "database", opts.Database)
	return conn, nil
}

// DSN builds the driver name and data source name for a SQL database
func DSN(dbType Type, server string, opts ConnectOptions) (string, string, error) {
	port := opts.Port
	if port == 0 {
		port = defaultPorts[dbType]
	}
	hostPort := net.JoinHostPort(server, strconv.Itoa(port))

	switch dbType {
	case Postgres:
		u := url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + opts.Database}
		if opts.Username != "" {
			u.User = url.UserPassword(opts.Username, opts.Password)
		}
		q := url.Values{}
		q.Set("sslmode", "disable")
		for k, v := range opts.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return "postgres", u.String(), nil

	case MSSQL:
		u := url.URL{Scheme: "sqlserver", Host: hostPort}
		if opts.Username != "" {
			u.User = url.UserPassword(opts.Username, opts.Password)
		}
		q := url.Values{}
		if opts.Database != "" {
			q.Set("database", opts.Database)
		}
		if opts.Timeout > 0 {
			q.Set("connection timeout", strconv.Itoa(int(opts.Timeout.Seconds())))
		}
		for k, v := range opts.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return "sqlserver", u.String(), nil

	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = opts.Username
		cfg.Passwd = opts.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort
		cfg.DBName = opts.Database
		cfg.ParseTime = true
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		if len(opts.Params) > 0 {
			cfg.Params = opts.Params
		}
		return "mysql", cfg.FormatDSN(), nil

	case Oracle:
		urlOptions := map[string]string{}
		for k, v := range opts.Params {
			urlOptions[k] = v
		}
		service := opts.ServiceName
		if opts.SID != "" {
			urlOptions["SID"] = opts.SID
			service = ""
		}
		if service == "" && opts.SID == "" {
			service = opts.Database
		}
		return "oracle", goora.BuildUrl(server, port, service, opts.Username, opts.Password, urlOptions), nil
	}
	return "", "", fmt.Errorf("%w: %q has no SQL DSN", ErrUnsupported, dbType)
}

func connectSQL(ctx context.Context, dbType Type, server string, opts ConnectOptions) (*Conn, error) {
	driver, dsn, err := DSN(dbType, server, opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s %s: %w", dbType, server, err)
	}
	return &Conn{Type: dbType, Database: opts.Database, db: db}, nil
}

func connectDatabricks(ctx context.Context, server string, opts ConnectOptions) (*Conn, error) {
	if opts.HTTPPath == "" || opts.AccessToken == "" {
		return nil, fmt.Errorf("%w: databricks requires an HTTP path and an access token", ErrInvalidArgument)
	}
	connOpts := []dbsql.ConnOption{
		dbsql.WithServerHostname(strings.TrimPrefix(strings.TrimPrefix(server, "https://"), "http://")),
		dbsql.WithPort(opts.Port),
		dbsql.WithHTTPPath(opts.HTTPPath),
		dbsql.WithAccessToken(opts.AccessToken),
		dbsql.WithTimeout(opts.Timeout),
	}
	if opts.Catalog != "" || opts.Database != "" {
		connOpts = append(connOpts, dbsql.WithInitialNamespace(opts.Catalog, opts.Database))
	}
	connector, err := dbsql.NewConnector(connOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create databricks connector: %w", err)
	}

	db := sqlx.NewDb(sql.OpenDB(connector), "databricks")
	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to databricks %s: %w", server, err)
	}
	return &Conn{Type: Databricks, Database: opts.Database, db: db}, nil
}

func connectCassandra(ctx context.Context, server string, opts ConnectOptions) (*Conn, error) {
	hosts := opts.Hosts
	if len(hosts) == 0 {
		hosts = strings.Split(server, ",")
	}
	cluster := gocql.NewCluster(hosts...)
	cluster.Port = opts.Port
	cluster.Keyspace = opts.Keyspace
	if cluster.Keyspace == "" {
		cluster.Keyspace = opts.Database
	}
	cluster.Timeout = opts.Timeout
	cluster.ConnectTimeout = opts.Timeout
	if opts.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: opts.Username, Password: opts.Password}
	}

	type result struct {
		session *gocql.Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := cluster.CreateSession()
		done <- result{s, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to cassandra %v: %w", hosts, r.err)
		}
		return &Conn{Type: Cassandra, Database: cluster.Keyspace, session: r.session}, nil
	}
}

func connectSSH(ctx context.Context, dbType Type, server string, opts ConnectOptions, logger *slog.Logger) (*Conn, error) {
	b := sshclient.NewBuilder(opts.Username, server, opts.Port).
		WithTimeout(opts.Timeout).
		WithLogger(logger)
	if opts.PEMFile != "" {
		b = b.WithPrivateKeyPath(opts.PEMFile)
	}
	if opts.Password != "" {
		b = b.WithPassword(opts.Password)
	}
	client, err := b.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s session on %s: %w", dbType, server, err)
	}
	return &Conn{Type: dbType, Database: opts.Database, ssh: client}, nil
}
