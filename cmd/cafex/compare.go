package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cafex/cafex/framework/resultlist"
)

type compareOptions struct {
	mode             string
	headers          []string
	sourceHeaders    []string
	targetHeaders    []string
	rows             int
	strict           bool
	lineToLine       bool
	common           bool
	ignoreHeaderCase bool
	inferTypes       bool
	club             bool
	sourceKeys       []string
	targetKeys       []string

	delimiter string
	sheet     string
	out       string
	format    string
}

func newCompareCmd(root *rootOptions) *cobra.Command {
	o := &compareOptions{}
	cmd := &cobra.Command{
		Use:   "compare SOURCE TARGET",
		Short: "Compare two CSV, JSON or Excel files as result lists",
		Long: `Compare reads SOURCE and TARGET into result lists and compares them.

By default rows are compared as sets of distinct rows with columns paired
by position. Use --mode header to pair columns by name and --line-to-line to
compare row i with row i. Differences are written to --out when set, one
file per non-empty result. The command fails when the files differ.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, root, o, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.mode, "mode", string(resultlist.ModeIndex), "Column pairing: index or header")
	f.StringSliceVar(&o.headers, "headers", nil, "Compare only these columns (same name on both sides)")
	f.StringSliceVar(&o.sourceHeaders, "source-headers", nil, "Source columns, paired with --target-headers")
	f.StringSliceVar(&o.targetHeaders, "target-headers", nil, "Target columns, paired with --source-headers")
	f.IntVar(&o.rows, "rows", 0, "Compare only the first N data rows (0 means all)")
	f.BoolVar(&o.strict, "strict", false, "Compare values without float coercion")
	f.BoolVar(&o.inferTypes, "infer-types", false, "Read all-numeric columns as numbers instead of text")
	f.BoolVar(&o.lineToLine, "line-to-line", false, "Compare row by row instead of as distinct sets")
	f.BoolVar(&o.common, "common", false, "Also output rows present on both sides")
	f.BoolVar(&o.ignoreHeaderCase, "ignore-header-case", false, "Match headers case-insensitively")
	f.BoolVar(&o.club, "club", false, "Merge source-only and target-only rows side by side (header mode)")
	f.StringSliceVar(&o.sourceKeys, "source-keys", nil, "Primary key columns of the source, for --club")
	f.StringSliceVar(&o.targetKeys, "target-keys", nil, "Primary key columns of the target, for --club")
	f.StringVar(&o.delimiter, "delimiter", ",", "CSV delimiter of the input files")
	f.StringVar(&o.sheet, "sheet", "", "Sheet of Excel input files (default first sheet)")
	f.StringVarP(&o.out, "out", "o", "", "Directory for the difference files")
	f.StringVar(&o.format, "format", "csv", "Format of the difference files: csv, json or xlsx")
	return cmd
}

func (o *compareOptions) compareOptions() (resultlist.CompareOptions, error) {
	opts := resultlist.CompareOptions{
		Mode:             resultlist.Mode(o.mode),
		Headers:          o.headers,
		SourceHeaders:    o.sourceHeaders,
		TargetHeaders:    o.targetHeaders,
		RowCount:         o.rows,
		StrictTypes:      o.strict,
		LineToLine:       o.lineToLine,
		GetCommon:        o.common,
		IgnoreHeaderCase: o.ignoreHeaderCase,
		Club:             o.club,
	}
	if o.club {
		if len(o.sourceKeys) == 0 || len(o.targetKeys) == 0 {
			return opts, fmt.Errorf("--club requires --source-keys and --target-keys")
		}
		opts.PrimaryKeys = &resultlist.PrimaryKeys{Source: o.sourceKeys, Target: o.targetKeys}
	}
	return opts, nil
}

func (o *compareOptions) fileOptions() (resultlist.FileOptions, error) {
	fo := resultlist.FileOptions{Sheet: o.sheet, InferTypes: o.inferTypes}
	switch r := []rune(o.delimiter); len(r) {
	case 0:
	case 1:
		fo.Delimiter = r[0]
	default:
		if o.delimiter != `\t` {
			return fo, fmt.Errorf("--delimiter must be a single character, got %q", o.delimiter)
		}
		fo.Delimiter = '\t'
	}
	return fo, nil
}

func runCompare(cmd *cobra.Command, root *rootOptions, o *compareOptions, sourcePath, targetPath string) error {
	opts, err := o.compareOptions()
	if err != nil {
		return err
	}
	fo, err := o.fileOptions()
	if err != nil {
		return err
	}

	source, err := resultlist.FromFile(sourcePath, fo)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	target, err := resultlist.FromFile(targetPath, fo)
	if err != nil {
		return fmt.Errorf("failed to read target: %w", err)
	}

	fw, err := root.framework(cmd)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("compare %s with %s", filepath.Base(sourcePath), filepath.Base(targetPath))
	res, cmpErr := fw.CompareResultLists(name, source, target, opts)
	if res != nil {
		printCompareResult(cmd, source, target, res)
		if o.out != "" {
			if err := writeCompareResult(cmd, res, o.out, o.format); err != nil && cmpErr == nil {
				cmpErr = err
			}
		}
	}
	return root.finish(cmd, fw, cmpErr)
}

func printCompareResult(cmd *cobra.Command, source, target resultlist.ResultList, res *resultlist.CompareResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Source rows: %d\n", source.RowCount())
	fmt.Fprintf(w, "Target rows: %d\n", target.RowCount())
	for _, part := range compareParts(res) {
		if part.list != nil {
			fmt.Fprintf(w, "  %-12s %d\n", part.name+":", part.list.RowCount())
		}
	}
	if res.Equal() {
		fmt.Fprintln(w, "Result: EQUAL")
	} else {
		fmt.Fprintln(w, "Result: DIFFERENT")
	}
}

type comparePart struct {
	name string
	list resultlist.ResultList
}

func compareParts(res *resultlist.CompareResult) []comparePart {
	return []comparePart{
		{"diff", res.Diff},
		{"source_only", res.SourceOnly},
		{"target_only", res.TargetOnly},
		{"common", res.Common},
		{"clubbed", res.Clubbed},
	}
}

func writeCompareResult(cmd *cobra.Command, res *resultlist.CompareResult, dir, format string) error {
	format = strings.TrimPrefix(strings.ToLower(format), ".")
	switch format {
	case "csv", "json", "xlsx":
	default:
		return fmt.Errorf("unsupported --format %q, expected csv, json or xlsx", format)
	}
	for _, part := range compareParts(res) {
		if part.list.RowCount() == 0 {
			continue
		}
		path := filepath.Join(dir, part.name+"."+format)
		if err := part.list.Export(path, resultlist.FileOptions{}); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return nil
}
