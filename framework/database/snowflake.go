package database

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/snowflakedb/gosnowflake"
	"github.com/spf13/cast"

	"github.com/cafex/cafex/framework/report"
)

// SnowflakeConfig builds the driver configuration for account. A PEMFile
// switches to key-pair (JWT) authentication; otherwise Password is used.
func SnowflakeConfig(account string, opts ConnectOptions) (*gosnowflake.Config, error) {
	if opts.Account != "" {
		account = opts.Account
	}
	if account == "" {
		return nil, fmt.Errorf("%w: snowflake account is required", ErrInvalidArgument)
	}
	cfg := &gosnowflake.Config{
		Account:   account,
		User:      opts.Username,
		Warehouse: opts.Warehouse,
		Database:  opts.Database,
		Schema:    opts.Schema,
		Role:      opts.Role,
		Params:    map[string]*string{},
	}
	if opts.Timeout > 0 {
		cfg.LoginTimeout = opts.Timeout
	}
	for k, v := range opts.Params {
		cfg.Params[k] = &v
	}

	if opts.PEMFile != "" {
		key, err := loadRSAPrivateKey(opts.PEMFile)
		if err != nil {
			return nil, err
		}
		cfg.Authenticator = gosnowflake.AuthTypeJwt
		cfg.PrivateKey = key
		return cfg, nil
	}
	if opts.Password == "" {
		return nil, fmt.Errorf("%w: password or PEM file is required for snowflake", ErrInvalidArgument)
	}
	cfg.Password = opts.Password
	return cfg, nil
}

// loadRSAPrivateKey reads an unencrypted PKCS#8 or PKCS#1 RSA key
func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %s holds no PEM block", ErrInvalidArgument, path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse private key %s: %v", ErrInvalidArgument, path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", ErrInvalidArgument, path)
	}
	return key, nil
}

func connectSnowflake(ctx context.Context, server string, opts ConnectOptions) (*Conn, error) {
	cfg, err := SnowflakeConfig(server, opts)
	if err != nil {
		return nil, err
	}
	db := sqlx.NewDb(sql.OpenDB(gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, *cfg)), "snowflake")
	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to snowflake %s: %w", cfg.Account, err)
	}
	return &Conn{Type: Snowflake, Database: opts.Database, db: db}, nil
}

// SnowflakeTableCount runs a count query and returns the first column of its
// last row, e.g. for SELECT COUNT(*) FROM orders
func (o *Operations) SnowflakeTableCount(ctx context.Context, conn *Conn, query string) (int64, error) {
	res, err := o.ExecuteStatement(ctx, conn, query, ReturnList)
	if err != nil {
		report.Error(o.recorder, "snowflake table count", err)
		return 0, err
	}
	if res.List.RowCount() == 0 || len(res.List[0]) == 0 {
		err := fmt.Errorf("%w: count query returned no rows", ErrInvalidArgument)
		report.Error(o.recorder, "snowflake table count", err)
		return 0, err
	}
	last := res.List[len(res.List)-1]
	n, err := cast.ToInt64E(last[0])
	if err != nil {
		err = fmt.Errorf("%w: count %v is not a number", ErrInvalidArgument, last[0])
		report.Error(o.recorder, "snowflake table count", err)
		return 0, err
	}
	report.Pass(o.recorder, "snowflake table count", "count", cast.ToString(n))
	return n, nil
}

// SnowflakeTableData runs query and returns its rows
func (o *Operations) SnowflakeTableData(ctx context.Context, conn *Conn, query string) (*Result, error) {
	return o.ExecuteStatement(ctx, conn, query, ReturnList)
}
