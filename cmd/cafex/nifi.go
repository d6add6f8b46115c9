package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cafex/cafex/framework"
	"github.com/cafex/cafex/framework/nifi"
)

const (
	envNiFiURL   = "NIFI_URL"
	envNiFiToken = "NIFI_TOKEN"
)

type nifiOptions struct {
	url   string
	token string
}

func (o *nifiOptions) client(cmd *cobra.Command, root *rootOptions) (*framework.Framework, *nifi.Client, error) {
	if o.url == "" {
		return nil, nil, fmt.Errorf("--url or %s is required", envNiFiURL)
	}
	fw, err := root.framework(cmd)
	if err != nil {
		return nil, nil, err
	}
	var opts []nifi.Option
	if o.token != "" {
		opts = append(opts, nifi.WithToken(o.token))
	}
	return fw, fw.NiFi(o.url, opts...), nil
}

func newNiFiCmd(root *rootOptions) *cobra.Command {
	o := &nifiOptions{}
	cmd := &cobra.Command{
		Use:   "nifi",
		Short: "Basic Apache NiFi operations",
	}
	cmd.PersistentFlags().StringVar(&o.url, "url", os.Getenv(envNiFiURL), "NiFi base URL, e.g. https://nifi:8443 ($"+envNiFiURL+")")
	cmd.PersistentFlags().StringVar(&o.token, "token", os.Getenv(envNiFiToken), "Bearer token ($"+envNiFiToken+")")

	about := &cobra.Command{
		Use:   "about",
		Short: "Print the NiFi version and build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, c, err := o.client(cmd, root)
			if err != nil {
				return err
			}
			a, err := c.AboutNifi(cmd.Context())
			if err == nil {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Title:    %s\n", a.Title)
				fmt.Fprintf(w, "Version:  %s\n", a.Version)
				fmt.Fprintf(w, "Build:    %s\n", a.BuildTag)
				fmt.Fprintf(w, "Timezone: %s\n", a.Timezone)
			}
			return root.finish(cmd, fw, err)
		},
	}

	processorStatus := &cobra.Command{
		Use:   "processor-status ID",
		Short: "Print the run status, threads and queue of a processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, c, err := o.client(cmd, root)
			if err != nil {
				return err
			}
			st, err := c.CheckProcessorStatus(cmd.Context(), args[0])
			if err == nil {
				printStatus(cmd, st)
			}
			return root.finish(cmd, fw, err)
		},
	}

	var state string
	pgState := &cobra.Command{
		Use:   "pg-state ID",
		Short: "Print or change the state of a process group",
		Long: `Print the status of the process group. With --set running or
--set stopped, first schedule every component of the group accordingly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, c, err := o.client(cmd, root)
			if err != nil {
				return err
			}
			switch strings.ToLower(state) {
			case "":
			case "running", "run", "start":
				err = c.ChangeProcessGroupState(cmd.Context(), args[0], true)
			case "stopped", "stop":
				err = c.ChangeProcessGroupState(cmd.Context(), args[0], false)
			default:
				err = fmt.Errorf("invalid --set %q, expected running or stopped", state)
			}
			if err == nil {
				var st *nifi.Status
				st, err = c.CheckProcessGroupStatus(cmd.Context(), args[0])
				if err == nil {
					printStatus(cmd, st)
				}
			}
			return root.finish(cmd, fw, err)
		},
	}
	pgState.Flags().StringVar(&state, "set", "", "New state: running or stopped")

	cmd.AddCommand(about, processorStatus, pgState)
	return cmd
}

func printStatus(cmd *cobra.Command, st *nifi.Status) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "ID:             %s\n", st.ID)
	fmt.Fprintf(w, "Name:           %s\n", st.Name)
	fmt.Fprintf(w, "Run status:     %s\n", st.RunStatus)
	fmt.Fprintf(w, "Active threads: %d\n", st.ActiveThreadCount)
	fmt.Fprintf(w, "Queued:         %d\n", st.QueuedCount)
}
