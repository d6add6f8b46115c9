package resultlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "people.csv")
	r := New([]string{"id", "name"}, []any{1, "Ada"}, []any{2, nil})

	require.NoError(t, r.Export(path, FileOptions{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,Ada\n2,\n", string(raw))

	back, err := FromFile(path, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, FromStrings([][]string{{"id", "name"}, {"1", "Ada"}, {"2", ""}}), back)
}

func TestCSVInferTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,amount,code,note\n1,2.5,007,x\n2,,12a,\n"), 0o600))

	r, err := FromFile(path, FileOptions{InferTypes: true})
	require.NoError(t, err)
	assert.Equal(t, New([]string{"id", "amount", "code", "note"},
		[]any{int64(1), 2.5, "007", "x"},
		[]any{int64(2), nil, "12a", ""},
	), r)

	plain, err := FromFile(path, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1", plain[1][0])
}

func TestCSVDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a;b\n1;2\n"), 0o600))

	r, err := FromFile(path, FileOptions{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Headers())
	assert.Equal(t, 1, r.RowCount())
}

func TestExcelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	r := New([]string{"id", "name", "note"}, []any{1, "Ada", "x"}, []any{2, "Grace", ""})

	require.NoError(t, r.Export(path, FileOptions{Sheet: "people"}))

	back, err := FromFile(path, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, FromStrings([][]string{
		{"id", "name", "note"},
		{"1", "Ada", "x"},
		{"2", "Grace", ""},
	}), back)

	_, err = FromFile(path, FileOptions{Sheet: "missing"})
	assert.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	r, err := ParseJSON(`[{"b":1,"a":"x"},{"a":"y","c":true}]`)
	require.NoError(t, err)
	assert.Equal(t, New([]string{"b", "a", "c"},
		[]any{float64(1), "x", nil},
		[]any{nil, "y", true},
	), r)

	r, err = ParseJSON(`[["id","name"],[1,"Ada"]]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, r.Headers())
	assert.Equal(t, 1, r.RowCount())

	_, err = ParseJSON(`{"a":1}`)
	assert.Error(t, err)

	_, err = ParseJSON(`[]`)
	assert.ErrorIs(t, err, ErrNilResultList)
}

func TestJSONExport(t *testing.T) {
	r := New([]string{"id", "user.name"}, []any{1, "Ada"})
	doc, err := r.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"user.name":"Ada"}]`, doc)

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, r.Export(path, FileOptions{}))
	back, err := FromFile(path, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "user.name"}, back.Headers())
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := FromFile("data.parquet", FileOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	err = New([]string{"a"}).Export(filepath.Join(t.TempDir(), "x.parquet"), FileOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
