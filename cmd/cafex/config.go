package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/cafex/cafex/framework"
	"github.com/cafex/cafex/framework/configutils"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Look up values in YAML configuration files",
	}

	var delimiter string
	get := &cobra.Command{
		Use:   "get FILE KEYPATH",
		Short: "Print the value at a key path of a YAML file",
		Long: `Print the value at KEYPATH of the YAML file FILE. Segments are separated
by --delimiter; numeric segments index into lists. Scalars are printed as
is, mappings and lists as YAML.`,
		Example: `  cafex config get config.yml env/dev/cloud/base_url
  cafex config get team.yml databases.0.db_name --delimiter .`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := configutils.ValueFromYAMLKeyPath(args[0], args[1], delimiter)
			if err != nil {
				return err
			}
			return printValue(cmd, v)
		},
	}
	get.Flags().StringVar(&delimiter, "delimiter", configutils.DefaultDelimiter, "Key path separator")

	cmd.AddCommand(get)
	return cmd
}

func printValue(cmd *cobra.Command, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
	default:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}

type projectOptions struct {
	dir  string
	team string
}

func (p *projectOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&p.dir, "project", ".", "Project directory holding config.yml")
	cmd.PersistentFlags().StringVar(&p.team, "team-config", "", "Team config file in the configuration directory")
}

func (p *projectOptions) framework(cmd *cobra.Command, root *rootOptions) (*framework.Framework, error) {
	return root.framework(cmd, framework.WithProject(p.dir, p.team))
}

func newServiceCmd(root *rootOptions) *cobra.Command {
	p := &projectOptions{}
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Inspect service descriptions of a project",
	}
	p.addFlags(cmd)

	describe := &cobra.Command{
		Use:   "describe FILE KEYPATH",
		Short: "Print a resolved service description",
		Long: `Resolve the service at KEYPATH of FILE (relative to the service
description directory) with its payload, query parameters and target URL,
and print it as JSON.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, err := p.framework(cmd, root)
			if err != nil {
				return err
			}
			d, err := fw.ConfigUtils().GetServiceDescription(args[0], args[1])
			if err == nil {
				err = printJSON(cmd, d)
			}
			return root.finish(cmd, fw, err)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every service found in the service description directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, err := p.framework(cmd, root)
			if err != nil {
				return err
			}
			err = listServices(cmd, fw.ConfigUtils())
			return root.finish(cmd, fw, err)
		},
	}

	cmd.AddCommand(describe, list)
	return cmd
}

func listServices(cmd *cobra.Command, cu *configutils.ConfigUtils) error {
	dir, err := cu.FetchServiceDescriptionPath()
	if err != nil {
		return err
	}
	services, err := cu.LoadServiceDescriptions(dir)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(services))
	for k := range services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d := services[k]
		fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-6s %s\n", k, d.Method, d.Request().Endpoint)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
