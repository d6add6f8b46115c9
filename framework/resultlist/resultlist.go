// Package resultlist implements the result list convention used by the
// database helpers (row 0 holds the column headers, later rows hold data)
// together with the comparison engine and file conversions.
package resultlist

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Sentinel errors for result list operations
var (
	// ErrNilResultList indicates a nil result list or one without a header row
	ErrNilResultList = errors.New("result list is nil or has no header row")

	// ErrColumnNotFound indicates a header that is not in the result list
	ErrColumnNotFound = errors.New("column not found")

	// ErrInvalidArgument indicates an invalid option value
	ErrInvalidArgument = errors.New("invalid argument")
)

// ResultList is a table whose first row holds the column headers
type ResultList [][]any

// New builds a result list from headers and rows
func New(headers []string, rows ...[]any) ResultList {
	hdr := make([]any, len(headers))
	for i, h := range headers {
		hdr[i] = h
	}
	out := ResultList{hdr}
	return append(out, rows...)
}

// FromStrings builds a result list from string records, the first being headers
func FromStrings(records [][]string) ResultList {
	out := make(ResultList, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		out = append(out, row)
	}
	return out
}

// FromRows drains rows into a result list. []byte values become strings.
func FromRows(rows *sql.Rows) (ResultList, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	out := New(cols)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

func (r ResultList) validate() error {
	if len(r) == 0 {
		return ErrNilResultList
	}
	return nil
}

// Headers returns the header row as strings
func (r ResultList) Headers() []string {
	if len(r) == 0 {
		return nil
	}
	out := make([]string, len(r[0]))
	for i, h := range r[0] {
		out[i] = cast.ToString(h)
	}
	return out
}

// Rows returns the data rows
func (r ResultList) Rows() [][]any {
	if len(r) < 2 {
		return nil
	}
	return r[1:]
}

// RowCount returns the number of data rows
func (r ResultList) RowCount() int {
	if len(r) == 0 {
		return 0
	}
	return len(r) - 1
}

// IsRowCountZero reports whether the result list holds no data rows
func (r ResultList) IsRowCountZero() bool {
	return r.RowCount() <= 0
}

// ColumnIndex returns the position of header
func (r ResultList) ColumnIndex(header string) (int, error) {
	if err := r.validate(); err != nil {
		return -1, err
	}
	i := slices.Index(r.Headers(), header)
	if i < 0 {
		return -1, fmt.Errorf("%w: %s", ErrColumnNotFound, header)
	}
	return i, nil
}

// ColumnData returns all values under header
func (r ResultList) ColumnData(header string) ([]any, error) {
	idx, err := r.ColumnIndex(header)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, r.RowCount())
	for _, row := range r.Rows() {
		if idx < len(row) {
			out = append(out, row[idx])
		} else {
			out = append(out, nil)
		}
	}
	return out, nil
}

// ValueExistsInColumn reports whether value occurs under header
func (r ResultList) ValueExistsInColumn(header string, value any) (bool, error) {
	data, err := r.ColumnData(header)
	if err != nil {
		return false, err
	}
	for _, v := range data {
		if matches(v, value, false) {
			return true, nil
		}
	}
	return false, nil
}

// ValueNotExistsInColumn reports whether value is absent under header
func (r ResultList) ValueNotExistsInColumn(header string, value any) (bool, error) {
	ok, err := r.ValueExistsInColumn(header, value)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// CheckOptions configure CheckDataInColumn
type CheckOptions struct {
	IgnoreCase bool

	// Headers restricts the check to these columns. A non-nil empty slice is an error.
	Headers []string

	// Count, when positive, requires exactly Count matches (per header when
	// Headers is set, in total otherwise). Negative values are an error.
	Count int
}

// DataCheck is the outcome of CheckDataInColumn
type DataCheck struct {
	Found bool

	// Unmatched maps each header that failed the check to its match count
	Unmatched map[string]int
}

// CheckDataInColumn looks for value in the result list.
//
// Without Headers and Count, Found is true when any cell matches.
// With Headers, every listed header must hold at least one match (or exactly
// Count matches when Count is set); the failing headers are in Unmatched.
// With only Count, the total number of matching cells must equal Count.
func (r ResultList) CheckDataInColumn(value any, opts CheckOptions) (DataCheck, error) {
	if err := r.validate(); err != nil {
		return DataCheck{}, err
	}
	if opts.Headers != nil && len(opts.Headers) == 0 {
		return DataCheck{}, fmt.Errorf("%w: headers list should not be empty", ErrInvalidArgument)
	}
	if opts.Count < 0 {
		return DataCheck{}, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidArgument, opts.Count)
	}

	countIn := func(idx int) int {
		n := 0
		for _, row := range r.Rows() {
			if idx < len(row) && matches(row[idx], value, opts.IgnoreCase) {
				n++
			}
		}
		return n
	}

	if opts.Headers == nil {
		total := 0
		for idx := range r[0] {
			total += countIn(idx)
			if opts.Count == 0 && total > 0 {
				return DataCheck{Found: true}, nil
			}
		}
		if opts.Count == 0 {
			return DataCheck{Found: false}, nil
		}
		return DataCheck{Found: total == opts.Count}, nil
	}

	unmatched := map[string]int{}
	for _, h := range opts.Headers {
		idx, err := r.ColumnIndex(h)
		if err != nil {
			return DataCheck{}, err
		}
		n := countIn(idx)
		if (opts.Count == 0 && n < 1) || (opts.Count > 0 && n != opts.Count) {
			unmatched[h] = n
		}
	}
	return DataCheck{Found: len(unmatched) == 0, Unmatched: unmatched}, nil
}

// CheckHeaders returns the headers not present in the result list.
// Asking for more headers than the result list has is an error.
func (r ResultList) CheckHeaders(headers []string, ignoreCase bool) ([]string, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	have := r.Headers()
	if len(have) < len(headers) {
		return nil, fmt.Errorf("%w: %d headers requested but result list has %d", ErrInvalidArgument, len(headers), len(have))
	}
	var missing []string
	for _, h := range headers {
		found := slices.ContainsFunc(have, func(x string) bool {
			if ignoreCase {
				return strings.EqualFold(x, h)
			}
			return x == h
		})
		if !found {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// matches compares a cell with a lookup value. Numeric cells compare
// numerically, times by instant, everything else as trimmed strings.
func matches(cell, value any, ignoreCase bool) bool {
	if cell == nil || value == nil {
		return cell == nil && value == nil
	}
	if isNumber(cell) {
		f, err := cast.ToFloat64E(value)
		return err == nil && cast.ToFloat64(cell) == f
	}
	if t, ok := cell.(time.Time); ok {
		vt, err := cast.ToTimeE(value)
		return err == nil && t.Equal(vt)
	}
	a := strings.TrimSpace(toString(cell))
	b := strings.TrimSpace(toString(value))
	if ignoreCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func toString(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}
