package resultlist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/xuri/excelize/v2"

	"github.com/cafex/cafex/framework/parser"
)

// ErrUnsupportedFormat indicates a file extension with no reader or writer
var ErrUnsupportedFormat = errors.New("unsupported file format")

// FileOptions configure FromFile and Export
type FileOptions struct {
	// Delimiter for CSV files, comma when zero
	Delimiter rune

	// SkipRows drops this many leading CSV records before the header row
	SkipRows int

	// Limit keeps at most this many data rows when positive
	Limit int

	// Headers replaces the header row of the file. With NoHeader the
	// first record is data and Headers (or column numbers) name the columns.
	Headers  []string
	NoHeader bool

	// LazyQuotes tolerates bare quotes in CSV fields
	LazyQuotes bool

	// Sheet for Excel files, the first sheet when empty
	Sheet string

	// InferTypes turns all-numeric columns into int64 or float64 values,
	// so that a file compares with typed database rows
	InferTypes bool
}

// FromFile reads a .csv, .xlsx or .json file into a result list.
// JSON input is an array of objects (keys in first-seen order become
// headers) or an array of arrays whose first element is the header row.
func FromFile(path string, opts FileOptions) (ResultList, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return readCSV(path, opts)
	case ".xlsx", ".xlsm", ".xls":
		r, err := readExcel(path, opts.Sheet)
		if err != nil {
			return nil, err
		}
		return shape(r, opts), nil
	case ".json":
		r, err := readJSON(path)
		if err != nil {
			return nil, err
		}
		return shape(r, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// shape applies the header and limit options to a freshly read result list
func shape(r ResultList, opts FileOptions) ResultList {
	if opts.NoHeader {
		width := len(r[0])
		hdr := make([]string, width)
		for i := range hdr {
			if i < len(opts.Headers) {
				hdr[i] = opts.Headers[i]
			} else {
				hdr[i] = strconv.Itoa(i)
			}
		}
		r = append(New(hdr), r...)
	} else if len(opts.Headers) > 0 {
		for i := range r[0] {
			if i < len(opts.Headers) {
				r[0][i] = opts.Headers[i]
			}
		}
	}
	if opts.Limit > 0 && r.RowCount() > opts.Limit {
		r = r[:opts.Limit+1]
	}
	if opts.InferTypes {
		r = r.InferTypes()
	}
	return r
}

// ToCSV writes the result list as comma separated values
func (r ResultList) ToCSV(path string) error {
	return r.Export(path, FileOptions{})
}

// Export writes the result list to path, choosing the format by extension
func (r ResultList) Export(path string, opts FileOptions) error {
	if err := r.validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return r.writeCSV(path, opts.Delimiter)
	case ".xlsx":
		return r.writeExcel(path, opts.Sheet)
	case ".json":
		doc, err := r.JSON()
		if err != nil {
			return err
		}
		return os.WriteFile(path, []byte(doc), 0o644)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func readCSV(path string, opts FileOptions) (ResultList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = opts.LazyQuotes
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if opts.SkipRows > 0 {
		records = records[min(opts.SkipRows, len(records)):]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNilResultList, path)
	}
	return shape(FromStrings(records), opts), nil
}

func (r ResultList) writeCSV(path string, delim rune) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if delim != 0 {
		writer.Comma = delim
	}
	for _, row := range r {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = cellString(v)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func readExcel(path, sheet string) (ResultList, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: %s has no sheets", ErrNilResultList, path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s is empty", ErrNilResultList, sheet)
	}
	// GetRows trims trailing empty cells, pad to the header width.
	width := len(rows[0])
	for i := range rows {
		for len(rows[i]) < width {
			rows[i] = append(rows[i], "")
		}
	}
	return FromStrings(rows), nil
}

func (r ResultList) writeExcel(path, sheet string) error {
	f := excelize.NewFile()
	defer f.Close()

	name := "Sheet1"
	if sheet != "" && sheet != name {
		if err := f.SetSheetName(name, sheet); err != nil {
			return fmt.Errorf("failed to name sheet: %w", err)
		}
		name = sheet
	}
	for i, row := range r {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		copy(values, row)
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func readJSON(path string) (ResultList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseJSON(string(data))
}

// ParseJSON converts a JSON array of objects or of arrays into a result list
func ParseJSON(doc string) (ResultList, error) {
	if !gjson.Valid(doc) {
		return nil, parser.ErrInvalidJSON
	}
	root := gjson.Parse(doc)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array", parser.ErrInvalidJSON)
	}
	items := root.Array()
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: JSON array is empty", ErrNilResultList)
	}

	if items[0].IsArray() {
		out := make(ResultList, 0, len(items))
		for _, item := range items {
			var row []any
			item.ForEach(func(_, v gjson.Result) bool {
				row = append(row, v.Value())
				return true
			})
			out = append(out, row)
		}
		return out, nil
	}

	var headers []string
	index := map[string]int{}
	for _, item := range items {
		item.ForEach(func(k, _ gjson.Result) bool {
			if _, ok := index[k.String()]; !ok {
				index[k.String()] = len(headers)
				headers = append(headers, k.String())
			}
			return true
		})
	}
	out := New(headers)
	for _, item := range items {
		row := make([]any, len(headers))
		item.ForEach(func(k, v gjson.Result) bool {
			row[index[k.String()]] = v.Value()
			return true
		})
		out = append(out, row)
	}
	return out, nil
}

// JSON renders the data rows as an array of objects keyed by header
func (r ResultList) JSON() (string, error) {
	if err := r.validate(); err != nil {
		return "", err
	}
	headers := r.Headers()
	doc := "[]"
	for _, row := range r.Rows() {
		obj := "{}"
		for i, h := range headers {
			var v any
			if i < len(row) {
				v = row[i]
			}
			if t, ok := v.(time.Time); ok {
				v = t.Format(time.RFC3339Nano)
			}
			var err error
			obj, err = sjson.Set(obj, parser.EscapeKey(h), v)
			if err != nil {
				return "", fmt.Errorf("failed to encode %s: %w", h, err)
			}
		}
		var err error
		doc, err = sjson.SetRaw(doc, "-1", obj)
		if err != nil {
			return "", fmt.Errorf("failed to append row: %w", err)
		}
	}
	return doc, nil
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return toString(v)
}
