package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format selects the export encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// Exporter writes a run to disk
type Exporter interface {
	Export(run *Run) error
}

// NewExporter picks an exporter from format, or from the file extension when format is empty.
func NewExporter(outputPath string, format Format) (Exporter, error) {
	if format == "" {
		format = Format(strings.TrimPrefix(strings.ToLower(filepath.Ext(outputPath)), "."))
	}
	switch format {
	case FormatJSON:
		return &JSONExporter{outputPath: outputPath}, nil
	case FormatCSV:
		return &CSVExporter{outputPath: outputPath}, nil
	case FormatHTML, "htm":
		return &HTMLExporter{outputPath: outputPath}, nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// Export writes run to outputPath using the format implied by its extension
func Export(run *Run, outputPath string) error {
	exp, err := NewExporter(outputPath, "")
	if err != nil {
		return err
	}
	return exp.Export(run)
}

func createOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return file, nil
}

// JSONExporter writes the run, its summary and steps as one JSON document
type JSONExporter struct {
	outputPath string
}

type jsonReport struct {
	RunID   string    `json:"run_id"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
	Summary Summary   `json:"summary"`
	Steps   []Step    `json:"steps"`
}

// Export implements Exporter
func (e *JSONExporter) Export(run *Run) error {
	file, err := createOutput(e.outputPath)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonReport{
		RunID:   run.ID,
		Name:    run.Name,
		Started: run.Started,
		Summary: run.Summary(),
		Steps:   run.Steps(),
	}); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// CSVExporter writes one row per step
type CSVExporter struct {
	outputPath string
}

// Export implements Exporter
func (e *CSVExporter) Export(run *Run) error {
	file, err := createOutput(e.outputPath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"run_id", "step_id", "timestamp", "name", "status", "expected", "actual", "error"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, st := range run.Steps() {
		row := []string{
			run.ID,
			st.ID,
			st.Timestamp.UTC().Format(time.RFC3339),
			st.Name,
			string(st.Status),
			st.Expected,
			st.Actual,
			st.Error,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return writer.Error()
}

// HTMLExporter renders a self-contained HTML page
type HTMLExporter struct {
	outputPath string
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"statusClass": func(s Status) string { return strings.ToLower(string(s)) },
	"formatTime":  func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Name}} - {{.RunID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.pass { background: #e6f4ea; } .fail { background: #fce8e6; }
.error { background: #fef7e0; } .skip { background: #f1f3f4; }
</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p>Run {{.RunID}} started {{formatTime .Started}}</p>
<p>Total {{.Summary.Total}} | Passed {{.Summary.Passed}} | Failed {{.Summary.Failed}} | Errors {{.Summary.Errored}} | Skipped {{.Summary.Skipped}}</p>
<table>
<tr><th>Time</th><th>Step</th><th>Status</th><th>Expected</th><th>Actual</th><th>Error</th></tr>
{{range .Steps}}<tr class="{{statusClass .Status}}"><td>{{formatTime .Timestamp}}</td><td>{{.Name}}</td><td>{{.Status}}</td><td>{{.Expected}}</td><td>{{.Actual}}</td><td>{{.Error}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// Export implements Exporter
func (e *HTMLExporter) Export(run *Run) error {
	file, err := createOutput(e.outputPath)
	if err != nil {
		return err
	}
	defer file.Close()

	data := jsonReport{
		RunID:   run.ID,
		Name:    run.Name,
		Started: run.Started,
		Summary: run.Summary(),
		Steps:   run.Steps(),
	}
	if err := htmlTemplate.Execute(file, data); err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}
	return nil
}

// Load reads a run written by JSONExporter
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var doc jsonReport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	run := &Run{ID: doc.RunID, Name: doc.Name, Started: doc.Started}
	for _, st := range doc.Steps {
		run.Record(st)
	}
	return run, nil
}
