package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cafex/cafex/framework/resultlist"
)

// HiveOptions configure HiveExecuteStatement
type HiveOptions struct {
	// IncludeHeader makes hive print the column names as the first row
	IncludeHeader bool

	// ServerConnect is run before the hive command in the same shell,
	// e.g. "sudo su - hive" or a kinit call
	ServerConnect string
}

// SparkOptions configure the spark-sql command built by SparkExecuteStatement
type SparkOptions struct {
	DriverMemoryGB   int
	Executors        int
	ExecutorCores    int
	ExecutorMemoryGB int

	// Extra is appended verbatim, e.g. "--conf spark.dynamicAllocation.enabled=false"
	Extra string
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// HiveCommand builds the shell command HiveExecuteStatement runs
func HiveCommand(query string, opts HiveOptions) string {
	if opts.IncludeHeader {
		query = "set hive.cli.print.header=true; " + query
	}
	cmd := "hive -e " + shellQuote(query)
	if opts.ServerConnect != "" {
		cmd = opts.ServerConnect + " && " + cmd
	}
	return cmd
}

// SparkCommand builds the spark-sql command SparkExecuteStatement runs.
// With defaultCommand the resource options are ignored.
func SparkCommand(query, name string, defaultCommand bool, opts SparkOptions) string {
	var b strings.Builder
	b.WriteString("spark-sql")
	if !defaultCommand {
		b.WriteString(" --master yarn")
		if opts.DriverMemoryGB > 0 {
			fmt.Fprintf(&b, " --driver-memory %dg", opts.DriverMemoryGB)
		}
		if opts.Executors > 0 {
			fmt.Fprintf(&b, " --num-executors %d", opts.Executors)
		}
		if opts.ExecutorCores > 0 {
			fmt.Fprintf(&b, " --executor-cores=%d", opts.ExecutorCores)
		}
		if opts.ExecutorMemoryGB > 0 {
			fmt.Fprintf(&b, " --executor-memory %dg", opts.ExecutorMemoryGB)
		}
		if opts.Extra != "" {
			b.WriteString(" " + strings.TrimSpace(opts.Extra))
		}
	}
	fmt.Fprintf(&b, " --name %s -S -e %s", shellQuote(name), strconv.Quote(query))
	return b.String()
}

// HiveExecuteStatement runs query through the hive CLI on an SSH connection
// and parses its tab separated output. Without IncludeHeader the columns
// are named by position ("0", "1", ...).
func (o *Operations) HiveExecuteStatement(ctx context.Context, conn *Conn, query string, opts HiveOptions) (resultlist.ResultList, error) {
	if conn == nil || conn.ssh == nil {
		return nil, fmt.Errorf("%w: hive requires an SSH connection", ErrNotConnected)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}
	return o.runRemoteQuery(ctx, conn, HiveCommand(query, opts), opts.IncludeHeader)
}

// SparkExecuteStatement runs query through spark-sql on an SSH connection
func (o *Operations) SparkExecuteStatement(ctx context.Context, conn *Conn, query, name string, defaultCommand bool, opts SparkOptions) (resultlist.ResultList, error) {
	if conn == nil || conn.ssh == nil {
		return nil, fmt.Errorf("%w: spark requires an SSH connection", ErrNotConnected)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: spark application name is required", ErrInvalidArgument)
	}
	return o.runRemoteQuery(ctx, conn, SparkCommand(query, name, defaultCommand, opts), false)
}

func (o *Operations) runRemoteQuery(ctx context.Context, conn *Conn, cmd string, header bool) (resultlist.ResultList, error) {
	logger := o.logger.With("db_type", string(conn.Type), "addr", conn.ssh.Addr())
	stdout, stderr, err := conn.ssh.RunCommandOutput(ctx, cmd)
	if err != nil {
		logger.Error("remote query failed", "error", err, "stderr", stderr)
		return nil, fmt.Errorf("%w: %v: %s", ErrQueryFailed, err, strings.TrimSpace(stderr))
	}
	if strings.Contains(stderr, "Error in query") || strings.Contains(stderr, "FAILED:") {
		logger.Error("remote query reported an error", "stderr", stderr)
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, strings.TrimSpace(stderr))
	}
	return ParseTSV(stdout, header), nil
}

// ParseTSV converts tab separated CLI output into a result list
func ParseTSV(out string, header bool) resultlist.ResultList {
	var records [][]string
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, strings.Split(line, "\t"))
	}
	if header && len(records) > 0 {
		return resultlist.FromStrings(records)
	}
	width := 0
	for _, r := range records {
		width = max(width, len(r))
	}
	headers := make([]string, width)
	for i := range headers {
		headers[i] = strconv.Itoa(i)
	}
	return append(resultlist.New(headers), resultlist.FromStrings(records)...)
}
