package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cafex/cafex/framework"
	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/logging"
	"github.com/cafex/cafex/framework/report"
)

// rootOptions are the flags shared by every command
type rootOptions struct {
	logLevel  string
	logFormat string
	logFile   string
	report    string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "cafex",
		Short: "Run data platform checks from the command line",
		Long: `cafex wraps the facades of the cafex test framework: result list
comparison, project configuration lookups, Apache NiFi and Databricks.

Every check is recorded as a report step; --report exports them as JSON,
CSV or HTML when the command finishes.`,
		Version: version,
		// SilenceUsage is set to true to prevent printing usage message on errors
		// that are not about the command line itself
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "cafex version %s\n" .Version}}`)

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from CAFEX_LOG_LEVEL or info)")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&o.logFile, "log-file", "", "Also write logs to this rotating file")
	pf.StringVar(&o.report, "report", "", "Export the recorded steps to this .json, .csv or .html file")

	cmd.AddCommand(
		newCompareCmd(o),
		newConfigCmd(o),
		newServiceCmd(o),
		newNiFiCmd(o),
		newDatabricksCmd(o),
		newReportCmd(),
	)
	return cmd
}

// framework builds a Framework whose logs go to the command's error stream
func (o *rootOptions) framework(cmd *cobra.Command, opts ...framework.Option) (*framework.Framework, error) {
	cfg := config.FromEnv()
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.logFile != "" {
		cfg = cfg.WithLogFile(o.logFile)
	}

	logger, closer := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Writer:     cmd.ErrOrStderr(),
	})

	base := []framework.Option{framework.WithConfig(cfg), framework.WithLogger(logger)}
	fw, err := framework.New(cmd.Context(), append(base, opts...)...)
	if err != nil {
		closer.Close()
		return nil, err
	}
	fw.Track("log file", closer)
	return fw, nil
}

// finish exports the report when requested and closes tracked connections.
// runErr is returned unchanged unless it is nil.
func (o *rootOptions) finish(cmd *cobra.Command, fw *framework.Framework, runErr error) error {
	if o.report != "" && fw.Run() != nil {
		if err := report.Export(fw.Run(), o.report); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to export report: %v\n", err)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "Report written: %s\n", o.report)
		}
	}
	if err := fw.Cleanup(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
