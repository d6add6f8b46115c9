package resultlist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ErrTypeCoercion indicates a value that cannot be converted to the common column type
var ErrTypeCoercion = errors.New("cannot convert value to common column type")

type columnKind int

const (
	kindObject columnKind = iota
	kindFloat
)

// kindOf classifies a column. Only float values make a column float;
// numeric strings leave it an object column.
func kindOf(values []any) columnKind {
	for _, v := range values {
		switch v.(type) {
		case float32, float64:
			return kindFloat
		}
	}
	return kindObject
}

// coerceColumns converts a paired column of src and tgt to float64 when
// either side holds floats. Object columns keep their values as they are.
func coerceColumns(src, tgt [][]any, width int) error {
	for c := 0; c < width; c++ {
		if kindOf(column(src, c)) != kindFloat && kindOf(column(tgt, c)) != kindFloat {
			continue
		}
		for _, rows := range [][][]any{src, tgt} {
			for _, row := range rows {
				v, err := toFloat(row[c])
				if err != nil {
					return err
				}
				row[c] = v
			}
		}
	}
	return nil
}

func column(rows [][]any, c int) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[c]
	}
	return out
}

func toFloat(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (%T) to float", ErrTypeCoercion, v, v)
	}
	return f, nil
}

// normalizeRows widens integer and float values and turns []byte into
// string so that comparison does not trip over storage width.
func normalizeRows(rows [][]any) {
	for _, row := range rows {
		for i, v := range row {
			switch t := v.(type) {
			case int, int8, int16, int32, int64:
				row[i] = cast.ToInt64(t)
			case uint, uint8, uint16, uint32, uint64:
				row[i] = cast.ToUint64(t)
			case float32:
				row[i] = float64(t)
			case []byte:
				row[i] = string(t)
			}
		}
	}
}

// InferTypes returns a copy of r whose all-numeric string columns hold
// int64 or float64 values. Empty cells of such columns become nil. Other
// columns are left untouched.
func (r ResultList) InferTypes() ResultList {
	if len(r) == 0 {
		return r
	}
	out := make(ResultList, len(r))
	out[0] = r[0]
	for i, row := range r[1:] {
		out[i+1] = append([]any(nil), row...)
	}
	rows := out[1:]
	for c := range r[0] {
		switch inferKind(rows, c) {
		case "int":
			for _, row := range rows {
				if c < len(row) {
					row[c] = parseCell(row[c], func(s string) (any, error) { return strconv.ParseInt(s, 10, 64) })
				}
			}
		case "float":
			for _, row := range rows {
				if c < len(row) {
					row[c] = parseCell(row[c], func(s string) (any, error) { return strconv.ParseFloat(s, 64) })
				}
			}
		}
	}
	return out
}

// inferKind reports "int", "float" or "" for column c. Every non-empty
// cell must be a numeric string, and at least one must be present.
func inferKind(rows [][]any, c int) string {
	kind, seen := "int", false
	for _, row := range rows {
		if c >= len(row) || row[c] == nil {
			continue
		}
		s, ok := row[c].(string)
		if !ok {
			return ""
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		seen = true
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			continue
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return ""
		}
		kind = "float"
	}
	if !seen {
		return ""
	}
	return kind
}

func parseCell(v any, parse func(string) (any, error)) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	p, err := parse(s)
	if err != nil {
		return v
	}
	return p
}
