package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/report/dashboard"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Work with exported JSON reports",
	}

	convert := &cobra.Command{
		Use:   "convert INPUT.json [OUTPUT]",
		Short: "Convert a JSON report to CSV or HTML",
		Long: `Convert a report written with --report run.json to the format implied by
the extension of OUTPUT. Without OUTPUT an HTML file is written next to the
input.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := report.Load(args[0])
			if err != nil {
				return err
			}
			output := strings.TrimSuffix(args[0], ".json") + ".html"
			if len(args) == 2 {
				output = args[1]
			}
			if err := report.Export(run, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report generated: %s\n", output)
			return nil
		},
	}

	summary := &cobra.Command{
		Use:   "summary INPUT.json...",
		Short: "Print the step counts of one or more JSON reports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				run, err := report.Load(path)
				if err != nil {
					return err
				}
				s := run.Summary()
				status := "PASS"
				if !run.Passed() {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(w, "  %s: %s (%d steps: %d passed, %d failed, %d errors, %d skipped)\n",
					run.Name, status, s.Total, s.Passed, s.Failed, s.Errored, s.Skipped)
			}
			fmt.Fprintf(w, "\nTotal: %d passed, %d failed\n", len(args)-failed, failed)
			if failed > 0 {
				return fmt.Errorf("%d report(s) contain failures", failed)
			}
			return nil
		},
	}

	cmd.AddCommand(convert, summary, newReportDashboardCmd())
	return cmd
}

func newReportDashboardCmd() *cobra.Command {
	var output, title string
	cmd := &cobra.Command{
		Use:   "dashboard INPUT.json...",
		Short: "Render an HTML dashboard from one or more JSON reports",
		Long: `Render an HTML dashboard with status, pass rate and duration charts.
With two or more reports the runs are compared side by side and steps whose
status changed between runs are flagged as flaky.`,
		Example: `  cafex report dashboard reports/cafex.json
  cafex report dashboard monday.json tuesday.json -o trend.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = "dashboard.html"
				if len(args) == 1 {
					output = strings.TrimSuffix(args[0], ".json") + "-dashboard.html"
				}
			}
			config := dashboard.DashboardConfig{Title: title, GeneratedAt: time.Now()}

			var err error
			if len(args) == 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "Generating dashboard from %s...\n", args[0])
				err = dashboard.Generate(args[0], output, config)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Generating comparison dashboard from %d reports...\n", len(args))
				err = dashboard.GenerateComparison(args, output, config)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dashboard generated: %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output HTML file (default: INPUT-dashboard.html, or dashboard.html for several reports)")
	cmd.Flags().StringVar(&title, "title", "cafex Test Report", "Dashboard title")
	return cmd
}
