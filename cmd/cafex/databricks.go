package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cafex/cafex/framework"
	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/databricks"
)

// The variable names used by the Databricks CLI and SDKs
const (
	envDatabricksHost  = "DATABRICKS_HOST"
	envDatabricksToken = "DATABRICKS_TOKEN"
)

type databricksOptions struct {
	host  string
	token string
}

func (o *databricksOptions) client(cmd *cobra.Command, root *rootOptions) (*framework.Framework, *databricks.Client, error) {
	if o.host == "" || o.token == "" {
		return nil, nil, fmt.Errorf("--host and --token (or %s and %s) are required", envDatabricksHost, envDatabricksToken)
	}
	fw, err := root.framework(cmd)
	if err != nil {
		return nil, nil, err
	}
	return fw, fw.Databricks(o.host, o.token), nil
}

func newDatabricksCmd(root *rootOptions) *cobra.Command {
	o := &databricksOptions{}
	cmd := &cobra.Command{
		Use:   "databricks",
		Short: "Basic Databricks workspace operations",
	}
	cmd.PersistentFlags().StringVar(&o.host, "host", os.Getenv(envDatabricksHost), "Workspace URL ($"+envDatabricksHost+")")
	cmd.PersistentFlags().StringVar(&o.token, "token", os.Getenv(envDatabricksToken), "Personal access token ($"+envDatabricksToken+")")

	clusters := &cobra.Command{
		Use:   "clusters",
		Short: "List the clusters of the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, c, err := o.client(cmd, root)
			if err != nil {
				return err
			}
			list, err := c.ListClusters(cmd.Context())
			if err == nil {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-24s %-32s %s\n", "CLUSTER ID", "NAME", "STATE")
				for _, cl := range list {
					fmt.Fprintf(w, "%-24s %-32s %s\n", cl.ClusterID, cl.ClusterName, cl.State)
				}
			}
			return root.finish(cmd, fw, err)
		},
	}

	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "List the jobs of the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, c, err := o.client(cmd, root)
			if err != nil {
				return err
			}
			list, err := c.ListJobs(cmd.Context())
			if err == nil {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-12s %s\n", "JOB ID", "NAME")
				for _, j := range list {
					fmt.Fprintf(w, "%-12d %s\n", j.JobID, j.Name())
				}
			}
			return root.finish(cmd, fw, err)
		},
	}

	cmd.AddCommand(clusters, jobs, newDatabricksRunCmd(root, o))
	return cmd
}

func newDatabricksRunCmd(root *rootOptions, o *databricksOptions) *cobra.Command {
	var (
		params   []string
		noWait   bool
		retries  int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run JOB",
		Short: "Trigger a job by id or name and wait for it to finish",
		Long: `Trigger a run of JOB, given as a job id or a job name, with optional
notebook parameters. Unless --no-wait is set, poll the run until it
terminates and fail when it does not end in SUCCESS.`,
		Example: `  cafex databricks run 42 --param date=2024-01-01
  cafex databricks run "nightly load" --retries 120 --interval 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notebookParams, err := parseParams(params)
			if err != nil {
				return err
			}
			fw, c, err := o.client(cmd, root)
			if err != nil {
				return err
			}
			err = runJob(cmd, c, args[0], notebookParams, !noWait, retries, interval)
			return root.finish(cmd, fw, err)
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Notebook parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the run id without waiting for the run")
	cmd.Flags().IntVar(&retries, "retries", config.DefaultJobRetryCount, "Status checks before giving up")
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultPollInterval, "Time between status checks")
	return cmd
}

func runJob(cmd *cobra.Command, c *databricks.Client, job string, params map[string]string, wait bool, retries int, interval time.Duration) error {
	ctx := cmd.Context()
	jobID, err := strconv.ParseInt(job, 10, 64)
	if err != nil {
		jobID, err = c.GetJobID(ctx, job)
		if err != nil {
			return err
		}
	}

	runID, err := c.RunJobAndGetRunID(ctx, jobID, params)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %d started for job %d\n", runID, jobID)
	if !wait {
		return nil
	}

	if err := c.CheckJobStatusAndWait(ctx, runID, retries, interval); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %d finished: %s\n", runID, databricks.ResultSuccess)
	return nil
}

func parseParams(params []string) (map[string]string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(params))
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
