package resultlist

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Comparison errors
var (
	// ErrInvalidRowCount indicates a negative row count
	ErrInvalidRowCount = errors.New("row count must not be negative")

	// ErrLengthMismatch indicates result lists of different length in line-to-line mode
	ErrLengthMismatch = errors.New("result lists differ in length")

	// ErrHeaderCountMismatch indicates header lists of different size
	ErrHeaderCountMismatch = errors.New("header counts differ")

	// ErrHeaderMismatch indicates result lists whose header sets differ
	ErrHeaderMismatch = errors.New("headers differ")

	// ErrConflictingOptions indicates a header option combination that cannot be honored
	ErrConflictingOptions = errors.New("conflicting compare options")

	// ErrInvalidMode indicates an unknown compare mode
	ErrInvalidMode = errors.New("invalid compare mode")

	// ErrPrimaryKey indicates missing or invalid primary keys for clubbed output
	ErrPrimaryKey = errors.New("invalid primary key")
)

// Mode selects how columns of the two result lists are paired
type Mode string

const (
	// ModeIndex pairs columns by position
	ModeIndex Mode = "index"
	// ModeHeader pairs columns by header name
	ModeHeader Mode = "header"
)

// PrimaryKeys name the key column on each side for clubbed output
type PrimaryKeys struct {
	Source []string
	Target []string
}

// CompareOptions configure Compare. The zero value compares every column
// by position, all rows, with float coercion and distinct output.
type CompareOptions struct {
	Mode Mode

	// Headers compares only these columns, present under the same name on both sides
	Headers []string

	// SourceHeaders and TargetHeaders pair columns with different names
	SourceHeaders []string
	TargetHeaders []string

	// RowCount limits the comparison to the first RowCount data rows. Zero means all.
	RowCount int

	// StrictTypes disables float coercion. Without it a column holding a
	// float on either side is compared as float64 on both sides.
	StrictTypes bool

	// LineToLine compares row i with row i instead of as sets of distinct rows
	LineToLine bool

	// GetCommon fills CompareResult.Common in distinct mode
	GetCommon bool

	// IgnoreHeaderCase lowercases all headers before pairing
	IgnoreHeaderCase bool

	// Club merges the distinct differences side by side keyed by PrimaryKeys
	Club        bool
	PrimaryKeys *PrimaryKeys
}

// CompareResult holds the differences found by Compare. Every populated
// field is a result list with its own header row.
type CompareResult struct {
	// Diff holds line-to-line differences
	Diff ResultList

	// SourceOnly and TargetOnly hold distinct rows present on one side only
	SourceOnly ResultList
	TargetOnly ResultList

	// Common holds distinct rows present on both sides, when requested
	Common ResultList

	// Clubbed holds the side-by-side view of SourceOnly and TargetOnly
	Clubbed ResultList
}

// Equal reports whether the comparison found no difference
func (r *CompareResult) Equal() bool {
	return r.Diff.RowCount() == 0 && r.SourceOnly.RowCount() == 0 &&
		r.TargetOnly.RowCount() == 0 && r.Clubbed.RowCount() == 0
}

// pairing lines up the compared columns of both sides
type pairing struct {
	srcIdx, tgtIdx     []int
	srcNames, tgtNames []string
	// wide selects the source_resultset_<h>/target_resultset_<h> line diff
	wide bool
}

// Compare compares source with target according to opts
func Compare(source, target ResultList, opts CompareOptions) (*CompareResult, error) {
	if len(source) == 0 || len(target) == 0 {
		return nil, ErrNilResultList
	}
	if opts.RowCount < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRowCount, opts.RowCount)
	}
	if opts.LineToLine && opts.RowCount == 0 && len(source) != len(target) {
		return nil, fmt.Errorf("%w: source has %d rows, target has %d", ErrLengthMismatch, source.RowCount(), target.RowCount())
	}

	var (
		p   pairing
		err error
	)
	switch opts.Mode {
	case "", ModeIndex:
		p, err = pairByIndex(source, target)
	case ModeHeader:
		p, err = pairByHeader(source, target, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, opts.Mode)
	}
	if err != nil {
		return nil, err
	}

	src := project(head(source.Rows(), opts.RowCount), p.srcIdx)
	tgt := project(head(target.Rows(), opts.RowCount), p.tgtIdx)
	normalizeRows(src)
	normalizeRows(tgt)
	if !opts.StrictTypes {
		if err := coerceColumns(src, tgt, len(p.srcIdx)); err != nil {
			return nil, err
		}
	}

	if opts.LineToLine {
		diff, err := lineDiff(src, tgt, p)
		if err != nil {
			return nil, err
		}
		return &CompareResult{Diff: diff}, nil
	}

	res := distinctDiff(src, tgt, p, opts.GetCommon)
	if opts.Club && opts.Mode == ModeHeader {
		clubbed, err := club(res.SourceOnly, res.TargetOnly, opts.PrimaryKeys)
		if err != nil {
			return nil, err
		}
		res.Clubbed = clubbed
	}
	return res, nil
}

// Diff compares source and target row by row and returns the cell differences
func Diff(source, target ResultList, opts CompareOptions) (ResultList, error) {
	opts.LineToLine = true
	res, err := Compare(source, target, opts)
	if err != nil {
		return nil, err
	}
	return res.Diff, nil
}

// DistinctDiff compares source and target as sets of distinct rows
func DistinctDiff(source, target ResultList, opts CompareOptions) (*CompareResult, error) {
	opts.LineToLine = false
	return Compare(source, target, opts)
}

// ClubDifferences lays source-only and target-only rows side by side keyed by pk
func ClubDifferences(sourceOnly, targetOnly ResultList, pk PrimaryKeys) (ResultList, error) {
	if len(sourceOnly) == 0 || len(targetOnly) == 0 {
		return nil, ErrNilResultList
	}
	return club(sourceOnly, targetOnly, &pk)
}

func pairByIndex(source, target ResultList) (pairing, error) {
	if len(source[0]) != len(target[0]) {
		return pairing{}, fmt.Errorf("%w: source has %d columns, target has %d", ErrHeaderCountMismatch, len(source[0]), len(target[0]))
	}
	p := pairing{srcNames: source.Headers(), tgtNames: target.Headers()}
	for i := range source[0] {
		p.srcIdx = append(p.srcIdx, i)
		p.tgtIdx = append(p.tgtIdx, i)
	}
	return p, nil
}

func pairByHeader(source, target ResultList, opts CompareOptions) (pairing, error) {
	srcHeaders, tgtHeaders := source.Headers(), target.Headers()
	headers := opts.Headers
	srcList, tgtList := opts.SourceHeaders, opts.TargetHeaders
	if opts.IgnoreHeaderCase {
		srcHeaders, tgtHeaders = lower(srcHeaders), lower(tgtHeaders)
		headers, srcList, tgtList = lower(headers), lower(srcList), lower(tgtList)
	}

	hasPair := len(srcList) > 0 || len(tgtList) > 0
	switch {
	case len(headers) > 0 && hasPair:
		return pairing{}, fmt.Errorf("%w: headers cannot be combined with source/target headers", ErrConflictingOptions)
	case hasPair:
		if len(srcList) == 0 || len(tgtList) == 0 || len(srcList) != len(tgtList) {
			return pairing{}, fmt.Errorf("%w: %d source headers, %d target headers", ErrHeaderCountMismatch, len(srcList), len(tgtList))
		}
		p, err := lookup(srcHeaders, tgtHeaders, srcList, tgtList)
		p.wide = true
		return p, err
	case len(headers) > 0:
		return lookup(srcHeaders, tgtHeaders, headers, headers)
	}

	if len(srcHeaders) != len(tgtHeaders) {
		return pairing{}, fmt.Errorf("%w: source has %d columns, target has %d", ErrHeaderCountMismatch, len(srcHeaders), len(tgtHeaders))
	}
	a, b := slices.Clone(srcHeaders), slices.Clone(tgtHeaders)
	sort.Strings(a)
	sort.Strings(b)
	if !slices.Equal(a, b) {
		return pairing{}, fmt.Errorf("%w: source %v, target %v", ErrHeaderMismatch, srcHeaders, tgtHeaders)
	}
	p, err := lookup(srcHeaders, tgtHeaders, a, a)
	p.wide = true
	return p, err
}

func lookup(srcHeaders, tgtHeaders, srcWant, tgtWant []string) (pairing, error) {
	var p pairing
	for i := range srcWant {
		si := slices.Index(srcHeaders, srcWant[i])
		if si < 0 {
			return pairing{}, fmt.Errorf("%w: %s in source", ErrColumnNotFound, srcWant[i])
		}
		ti := slices.Index(tgtHeaders, tgtWant[i])
		if ti < 0 {
			return pairing{}, fmt.Errorf("%w: %s in target", ErrColumnNotFound, tgtWant[i])
		}
		p.srcIdx = append(p.srcIdx, si)
		p.tgtIdx = append(p.tgtIdx, ti)
		p.srcNames = append(p.srcNames, srcWant[i])
		p.tgtNames = append(p.tgtNames, tgtWant[i])
	}
	return p, nil
}

func lower(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func head(rows [][]any, n int) [][]any {
	if n > 0 && n < len(rows) {
		return rows[:n]
	}
	return rows
}

// project copies the selected columns of rows. Short rows are padded with nil.
func project(rows [][]any, idx []int) [][]any {
	out := make([][]any, len(rows))
	for r, row := range rows {
		cp := make([]any, len(idx))
		for c, i := range idx {
			if i < len(row) {
				cp[c] = row[i]
			}
		}
		out[r] = cp
	}
	return out
}

func lineDiff(src, tgt [][]any, p pairing) (ResultList, error) {
	if len(src) != len(tgt) {
		return nil, fmt.Errorf("%w: source has %d rows, target has %d", ErrLengthMismatch, len(src), len(tgt))
	}

	if !p.wide {
		out := New([]string{"row", "column", "Source_resultset", "Target_resultset"})
		for r := range src {
			for c := range p.srcIdx {
				if valueKey(src[r][c]) != valueKey(tgt[r][c]) {
					out = append(out, []any{r, p.srcNames[c], src[r][c], tgt[r][c]})
				}
			}
		}
		return out, nil
	}

	// Wide output keeps only the column pairs and rows holding a difference.
	var cols []int
	for c := range p.srcIdx {
		for r := range src {
			if valueKey(src[r][c]) != valueKey(tgt[r][c]) {
				cols = append(cols, c)
				break
			}
		}
	}
	headers := []string{"row"}
	for _, c := range cols {
		headers = append(headers, "source_resultset_"+p.srcNames[c], "target_resultset_"+p.tgtNames[c])
	}
	out := New(headers)
	for r := range src {
		row := []any{r}
		differs := false
		for _, c := range cols {
			if valueKey(src[r][c]) != valueKey(tgt[r][c]) {
				row = append(row, src[r][c], tgt[r][c])
				differs = true
			} else {
				row = append(row, nil, nil)
			}
		}
		if differs {
			out = append(out, row)
		}
	}
	return out, nil
}

func distinctDiff(src, tgt [][]any, p pairing, withCommon bool) *CompareResult {
	src, tgt = dedupe(src), dedupe(tgt)
	srcKeys := keySet(src)
	tgtKeys := keySet(tgt)

	res := &CompareResult{
		SourceOnly: New(p.srcNames),
		TargetOnly: New(p.tgtNames),
	}
	if withCommon {
		res.Common = New(p.srcNames)
	}
	for _, row := range src {
		if tgtKeys[rowKey(row)] {
			if withCommon {
				res.Common = append(res.Common, row)
			}
			continue
		}
		res.SourceOnly = append(res.SourceOnly, row)
	}
	for _, row := range tgt {
		if !srcKeys[rowKey(row)] {
			res.TargetOnly = append(res.TargetOnly, row)
		}
	}
	return res
}

// club lays the source-only and target-only rows side by side. Columns
// alternate source_<h>/target_<h> with the primary key first; rows without
// a counterpart are filled with "NA".
func club(sourceOnly, targetOnly ResultList, pk *PrimaryKeys) (ResultList, error) {
	if pk == nil || len(pk.Source) == 0 || len(pk.Target) == 0 {
		return nil, fmt.Errorf("%w: source and target primary keys are required", ErrPrimaryKey)
	}
	if len(pk.Source) != len(pk.Target) {
		return nil, fmt.Errorf("%w: %d source keys, %d target keys", ErrPrimaryKey, len(pk.Source), len(pk.Target))
	}
	if len(pk.Source) != 1 {
		return nil, fmt.Errorf("%w: exactly one primary key is supported, got %d", ErrPrimaryKey, len(pk.Source))
	}

	srcHeaders, tgtHeaders := sourceOnly.Headers(), targetOnly.Headers()
	srcOrder, err := keyFirst(srcHeaders, pk.Source[0])
	if err != nil {
		return nil, err
	}
	tgtOrder, err := keyFirst(tgtHeaders, pk.Target[0])
	if err != nil {
		return nil, err
	}

	var headers []string
	for i := range srcOrder {
		headers = append(headers, "source_"+srcHeaders[srcOrder[i]], "target_"+tgtHeaders[tgtOrder[i]])
	}
	out := New(headers)

	remaining := slices.Clone(targetOnly.Rows())
	for _, srow := range sourceOnly.Rows() {
		key := valueKey(srow[srcOrder[0]])
		var match []any
		kept := remaining[:0:0]
		for _, trow := range remaining {
			if valueKey(trow[tgtOrder[0]]) == key {
				if match == nil {
					match = trow
				}
				continue
			}
			kept = append(kept, trow)
		}
		remaining = kept

		row := make([]any, 0, len(headers))
		for i := range srcOrder {
			var tv any = "NA"
			if match != nil {
				tv = match[tgtOrder[i]]
			}
			row = append(row, srow[srcOrder[i]], tv)
		}
		out = append(out, row)
	}
	for _, trow := range remaining {
		row := make([]any, 0, len(headers))
		for i := range tgtOrder {
			row = append(row, "NA", trow[tgtOrder[i]])
		}
		out = append(out, row)
	}
	return out, nil
}

// keyFirst returns column positions with the key column moved to the front
func keyFirst(headers []string, key string) ([]int, error) {
	k := slices.Index(headers, key)
	if k < 0 {
		return nil, fmt.Errorf("%w: %s is not a compared column", ErrPrimaryKey, key)
	}
	order := []int{k}
	for i := range headers {
		if i != k {
			order = append(order, i)
		}
	}
	return order, nil
}

func dedupe(rows [][]any) [][]any {
	seen := map[string]bool{}
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		k := rowKey(row)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return out
}

func keySet(rows [][]any) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[rowKey(row)] = true
	}
	return set
}

func rowKey(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = valueKey(v)
	}
	return strings.Join(parts, "\x1f")
}

func valueKey(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T:%v", v, v)
}
