package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gocql/gocql"

	"github.com/cafex/cafex/framework/parser"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/resultlist"
)

// ReturnType selects what ExecuteStatement returns
type ReturnType int

const (
	// ReturnList accepts SELECT statements only and returns their rows
	ReturnList ReturnType = iota
	// ReturnResult accepts any statement; SELECT returns rows, others rows affected
	ReturnResult
)

// Result is the outcome of a statement
type Result struct {
	List         resultlist.ResultList
	RowsAffected int64
}

func statementKind(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// ExecuteStatement runs query on conn
func (o *Operations) ExecuteStatement(ctx context.Context, conn *Conn, query string, rt ReturnType) (*Result, error) {
	if conn == nil {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}
	if conn.ssh != nil {
		return nil, fmt.Errorf("%w: use HiveExecuteStatement or SparkExecuteStatement for %s", ErrUnsupported, conn.Type)
	}

	kind := statementKind(query)
	if rt == ReturnList && kind != "select" {
		return nil, fmt.Errorf("%w: only select statements are allowed when returning a list", ErrInvalidArgument)
	}

	logger := o.logger.With("db_type", string(conn.Type), "statement", kind)
	var (
		res *Result
		err error
	)
	if conn.session != nil {
		res, err = executeCQL(ctx, conn.session, query, kind)
	} else {
		res, err = executeSQL(ctx, conn, query, kind)
	}
	if err != nil {
		logger.Error("statement failed", "error", err)
		return nil, err
	}
	if kind == "insert" || kind == "update" {
		if res.RowsAffected > 0 {
			logger.Info("statement applied", "rows_affected", res.RowsAffected)
		} else {
			logger.Warn("statement affected no rows")
		}
	}
	return res, nil
}

func executeSQL(ctx context.Context, conn *Conn, query, kind string) (*Result, error) {
	if conn.db == nil {
		return nil, ErrNotConnected
	}
	if kind == "select" || kind == "with" || kind == "show" || kind == "describe" {
		rows, err := conn.db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()
		list, err := resultlist.FromRows(rows)
		if err != nil {
			return nil, err
		}
		return &Result{List: list}, nil
	}
	r, err := conn.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for DDL.
		n = 0
	}
	return &Result{RowsAffected: n}, nil
}

func executeCQL(ctx context.Context, session *gocql.Session, query, kind string) (*Result, error) {
	if kind != "select" {
		if err := session.Query(query).WithContext(ctx).Exec(); err != nil {
			return nil, fmt.Errorf("statement failed: %w", err)
		}
		return &Result{}, nil
	}
	list, err := CassandraRows(session.Query(query).WithContext(ctx).Iter())
	if err != nil {
		return nil, err
	}
	return &Result{List: list}, nil
}

// CassandraRows drains a gocql iterator into a result list
func CassandraRows(iter *gocql.Iter) (resultlist.ResultList, error) {
	cols := iter.Columns()
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Name
	}
	out := resultlist.New(headers)
	for {
		row := map[string]any{}
		if !iter.MapScan(row) {
			break
		}
		values := make([]any, len(headers))
		for i, h := range headers {
			values[i] = row[h]
		}
		out = append(out, values)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return out, nil
}

// ExecuteQueryFromFile runs the query stored in a .sql or .txt file
func (o *Operations) ExecuteQueryFromFile(ctx context.Context, conn *Conn, path string) (*Result, error) {
	query, err := readQueryFile(path)
	if err != nil {
		return nil, err
	}
	return o.ExecuteStatement(ctx, conn, query, ReturnResult)
}

func readQueryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: file path is empty", ErrInvalidArgument)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sql", ".txt":
	default:
		return "", fmt.Errorf("%w: accepted file formats are .sql and .txt", ErrInvalidArgument)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	return strings.TrimSpace(strings.Join(lines, " ")), nil
}

// Close closes conn
func (o *Operations) Close(conn *Conn) error {
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", conn.Type, err)
	}
	o.logger.Info("connection closed", "db_type", string(conn.Type))
	return nil
}

func (o *Operations) count(ctx context.Context, conn *Conn, query string, args ...any) (int, error) {
	if conn.session != nil {
		var n int
		if err := conn.session.Query(query, args...).WithContext(ctx).Scan(&n); err != nil {
			return 0, fmt.Errorf("query failed: %w", err)
		}
		return n, nil
	}
	if conn.db == nil {
		return 0, ErrNotConnected
	}
	var n int
	if err := conn.db.GetContext(ctx, &n, conn.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	return n, nil
}

// quoteMSSQL brackets a SQL Server identifier
func quoteMSSQL(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// CheckTableExists reports whether table exists in database. For Postgres
// and SQL Server an optional schema narrows the lookup.
func (o *Operations) CheckTableExists(ctx context.Context, conn *Conn, database, table, schema string) (bool, error) {
	if conn == nil {
		return false, ErrNotConnected
	}
	if database == "" || table == "" {
		return false, fmt.Errorf("%w: database and table names are required", ErrInvalidArgument)
	}

	var (
		query string
		args  []any
	)
	switch conn.Type {
	case Postgres:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_catalog = ? AND table_name = ?"
		args = []any{database, table}
		if schema != "" {
			query += " AND table_schema = ?"
			args = append(args, schema)
		}
	case MSSQL:
		query = "SELECT COUNT(*) FROM " + quoteMSSQL(database) + ".INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = ?"
		args = []any{table}
		if schema != "" {
			query += " AND TABLE_SCHEMA = ?"
			args = append(args, schema)
		}
	case MySQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?"
		args = []any{database, table}
	case Oracle:
		query = "SELECT COUNT(*) FROM all_tables WHERE owner = ? AND table_name = ?"
		args = []any{strings.ToUpper(database), strings.ToUpper(table)}
	case Databricks:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?"
		args = []any{database, strings.ToLower(table)}
	case Cassandra:
		query = "SELECT COUNT(*) FROM system_schema.tables WHERE keyspace_name = ? AND table_name = ?"
		args = []any{database, table}
	default:
		return false, fmt.Errorf("%w: table lookup on %s", ErrUnsupported, conn.Type)
	}

	n, err := o.count(ctx, conn, query, args...)
	if err != nil {
		report.Error(o.recorder, "check table exists "+table, err)
		return false, err
	}
	exists := n > 0
	if !exists {
		o.logger.Warn("table not found", "database", database, "table", table)
	}
	report.Check(o.recorder, exists, "check table exists "+table, "exists", strconv.FormatBool(exists))
	return exists, nil
}

// CheckDBExists reports whether database exists on the server
func (o *Operations) CheckDBExists(ctx context.Context, conn *Conn, database string) (bool, error) {
	if conn == nil {
		return false, ErrNotConnected
	}
	if database == "" {
		return false, fmt.Errorf("%w: database name is required", ErrInvalidArgument)
	}

	var (
		query string
		arg   any = database
	)
	switch conn.Type {
	case Postgres:
		query = "SELECT COUNT(*) FROM pg_catalog.pg_database WHERE datname = ?"
	case MSSQL:
		query = "SELECT COUNT(*) FROM sys.databases WHERE name = ?"
	case MySQL:
		query = "SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?"
	case Oracle:
		query = "SELECT COUNT(*) FROM all_tab_columns WHERE owner = ?"
		arg = strings.ToUpper(database)
	default:
		return false, fmt.Errorf("%w: database lookup on %s", ErrUnsupported, conn.Type)
	}

	n, err := o.count(ctx, conn, query, arg)
	if err != nil {
		report.Error(o.recorder, "check database exists "+database, err)
		return false, err
	}
	exists := n > 0
	report.Check(o.recorder, exists, "check database exists "+database, "exists", strconv.FormatBool(exists))
	return exists, nil
}

// ColumnInfo describes a table column
type ColumnInfo struct {
	Exists     bool
	DataType   string
	MaxLength  sql.NullInt64
	Nullable   bool
	PrimaryKey bool
}

// ColumnExpectation lists the properties VerifyColumnMetadata checks.
// Nil and empty fields are not checked.
type ColumnExpectation struct {
	Exists     *bool
	DataType   string
	MaxLength  *int64
	Nullable   *bool
	PrimaryKey *bool
}

// ColumnMetadata reads the metadata of column. For Postgres and MySQL the
// database argument is the schema, for Oracle the owner.
func (o *Operations) ColumnMetadata(ctx context.Context, conn *Conn, database, table, column string) (*ColumnInfo, error) {
	if conn == nil || conn.db == nil {
		return nil, ErrNotConnected
	}
	if table == "" || column == "" {
		return nil, fmt.Errorf("%w: table and column names are required", ErrInvalidArgument)
	}

	var colQuery, pkQuery string
	var colArgs, pkArgs []any
	switch conn.Type {
	case Postgres, MySQL:
		colQuery = "SELECT data_type, character_maximum_length, is_nullable FROM information_schema.columns " +
			"WHERE table_schema = ? AND table_name = ? AND column_name = ?"
		colArgs = []any{database, table, column}
		pkQuery = "SELECT COUNT(*) FROM information_schema.table_constraints tc " +
			"JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name " +
			"AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name " +
			"WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ? AND tc.table_name = ? AND kcu.column_name = ?"
		pkArgs = colArgs
	case MSSQL:
		prefix := quoteMSSQL(database) + ".INFORMATION_SCHEMA."
		colQuery = "SELECT DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, IS_NULLABLE FROM " + prefix + "COLUMNS " +
			"WHERE TABLE_NAME = ? AND COLUMN_NAME = ?"
		colArgs = []any{table, column}
		pkQuery = "SELECT COUNT(*) FROM " + prefix + "TABLE_CONSTRAINTS AS C JOIN " + prefix + "KEY_COLUMN_USAGE AS K " +
			"ON C.TABLE_NAME = K.TABLE_NAME AND C.CONSTRAINT_CATALOG = K.CONSTRAINT_CATALOG " +
			"AND C.CONSTRAINT_SCHEMA = K.CONSTRAINT_SCHEMA AND C.CONSTRAINT_NAME = K.CONSTRAINT_NAME " +
			"WHERE C.CONSTRAINT_TYPE = 'PRIMARY KEY' AND K.TABLE_NAME = ? AND K.COLUMN_NAME = ?"
		pkArgs = colArgs
	case Oracle:
		colQuery = "SELECT data_type, data_length, nullable FROM all_tab_columns " +
			"WHERE owner = ? AND table_name = ? AND column_name = ?"
		colArgs = []any{strings.ToUpper(database), strings.ToUpper(table), strings.ToUpper(column)}
		pkQuery = "SELECT COUNT(*) FROM all_constraints c JOIN all_cons_columns cc " +
			"ON c.constraint_name = cc.constraint_name AND c.owner = cc.owner " +
			"WHERE c.constraint_type = 'P' AND c.owner = ? AND c.table_name = ? AND cc.column_name = ?"
		pkArgs = colArgs
	default:
		return nil, fmt.Errorf("%w: column metadata on %s", ErrUnsupported, conn.Type)
	}

	info := &ColumnInfo{}
	var nullable string
	err := conn.db.QueryRowxContext(ctx, conn.db.Rebind(colQuery), colArgs...).Scan(&info.DataType, &info.MaxLength, &nullable)
	if errors.Is(err, sql.ErrNoRows) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read column metadata: %w", err)
	}
	info.Exists = true
	info.Nullable = strings.EqualFold(nullable, "YES") || strings.EqualFold(nullable, "Y")

	n, err := o.count(ctx, conn, pkQuery, pkArgs...)
	if err != nil {
		return nil, err
	}
	info.PrimaryKey = n > 0
	return info, nil
}

// VerifyColumnMetadata checks column against want, recording one report
// step per expectation. It returns true when all checks pass.
func (o *Operations) VerifyColumnMetadata(ctx context.Context, conn *Conn, database, table, column string, want ColumnExpectation) (bool, *ColumnInfo, error) {
	info, err := o.ColumnMetadata(ctx, conn, database, table, column)
	if err != nil {
		report.Error(o.recorder, "verify column metadata "+table+"."+column, err)
		return false, nil, err
	}

	name := func(what string) string { return fmt.Sprintf("%s of %s.%s", what, table, column) }
	ok := true
	if want.Exists != nil {
		ok = report.Check(o.recorder, info.Exists == *want.Exists, name("existence"),
			strconv.FormatBool(*want.Exists), strconv.FormatBool(info.Exists)) && ok
	}
	if want.DataType != "" {
		ok = report.Check(o.recorder, strings.EqualFold(info.DataType, want.DataType), name("data type"),
			want.DataType, info.DataType) && ok
	}
	if want.MaxLength != nil {
		actual := "null"
		if info.MaxLength.Valid {
			actual = strconv.FormatInt(info.MaxLength.Int64, 10)
		}
		ok = report.Check(o.recorder, info.MaxLength.Valid && info.MaxLength.Int64 == *want.MaxLength, name("max length"),
			strconv.FormatInt(*want.MaxLength, 10), actual) && ok
	}
	if want.Nullable != nil {
		ok = report.Check(o.recorder, info.Nullable == *want.Nullable, name("nullable"),
			strconv.FormatBool(*want.Nullable), strconv.FormatBool(info.Nullable)) && ok
	}
	if want.PrimaryKey != nil {
		ok = report.Check(o.recorder, info.PrimaryKey == *want.PrimaryKey, name("primary key"),
			strconv.FormatBool(*want.PrimaryKey), strconv.FormatBool(info.PrimaryKey)) && ok
	}
	return ok, info, nil
}

// ModifySQLQuery loads a query from a .sql, .txt or .json file and replaces
// each placeholder key of replacements with its value. For JSON files
// jsonKey selects the query. Every placeholder must occur in the query.
func ModifySQLQuery(path string, replacements map[string]string, jsonKey string) (string, error) {
	if len(replacements) == 0 {
		return "", fmt.Errorf("%w: there is nothing to replace", ErrInvalidArgument)
	}

	var query string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sql", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		query = string(data)
	case ".json":
		if jsonKey == "" {
			return "", fmt.Errorf("%w: a key is required for json files", ErrInvalidArgument)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		v, err := parser.GetKeyPathValue(string(data), jsonKey, parser.DefaultDelimiter)
		if err != nil {
			return "", fmt.Errorf("not a valid json file or invalid key %s: %w", jsonKey, err)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: value of %s is not a string", ErrInvalidArgument, jsonKey)
		}
		query = s
	default:
		return "", fmt.Errorf("%w: accepted file formats are .sql, .txt and .json", ErrInvalidArgument)
	}

	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.Contains(query, k) {
			return "", fmt.Errorf("%w: placeholder %s not found in the query", ErrInvalidArgument, k)
		}
		query = strings.ReplaceAll(query, k, replacements[k])
	}
	return query, nil
}
