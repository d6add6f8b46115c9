// Package dashboard renders an HTML dashboard from one or more JSON reports,
// with per-run charts and a step-by-run status matrix for spotting flaky checks.
package dashboard

import (
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cafex/cafex/framework/report"
)

// ErrNoRuns is returned when there is nothing to render
var ErrNoRuns = errors.New("no runs to render")

// Generator creates HTML dashboards from report runs
type Generator struct {
	config    DashboardConfig
	templates *template.Template
}

// NewGenerator creates a new dashboard generator
func NewGenerator(config DashboardConfig) (*Generator, error) {
	tmpl, err := template.New("dashboard").
		Funcs(GetTemplateFuncs()).
		ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if config.Title == "" {
		config.Title = "cafex Test Report"
	}
	if config.GeneratedAt.IsZero() {
		config.GeneratedAt = time.Now()
	}
	return &Generator{
		config:    config,
		templates: tmpl,
	}, nil
}

// Generate renders runs into outputPath
func (g *Generator) Generate(runs []*report.Run, outputPath string) error {
	return g.render(g.config, runs, outputPath)
}

func (g *Generator) render(cfg DashboardConfig, runs []*report.Run, outputPath string) error {
	if len(runs) == 0 {
		return ErrNoRuns
	}
	cfg.RunNames = slices.Clone(cfg.RunNames)
	for i := len(cfg.RunNames); i < len(runs); i++ {
		cfg.RunNames = append(cfg.RunNames, runs[i].Name)
	}

	data := buildDashboardData(cfg, runs)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := g.templates.ExecuteTemplate(file, "dashboard.html", data); err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}
	return nil
}

// GenerateFromFiles loads JSON reports and renders them. Run names default
// to the report file names.
func (g *Generator) GenerateFromFiles(paths []string, outputPath string) error {
	if len(paths) == 0 {
		return ErrNoRuns
	}
	runs := make([]*report.Run, 0, len(paths))
	for _, p := range paths {
		run, err := report.Load(p)
		if err != nil {
			return err
		}
		runs = append(runs, run)
	}
	cfg := g.config
	if len(cfg.RunNames) == 0 {
		for _, p := range paths {
			cfg.RunNames = append(cfg.RunNames, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
		}
	}
	return g.render(cfg, runs, outputPath)
}

// GenerateComparison renders at least two reports side by side
func (g *Generator) GenerateComparison(paths []string, outputPath string) error {
	if len(paths) < 2 {
		return fmt.Errorf("comparison requires at least 2 reports")
	}
	g.config.CompareMode = true
	return g.GenerateFromFiles(paths, outputPath)
}

// Generate is a convenience function for single-report dashboards
func Generate(reportPath, outputPath string, config DashboardConfig) error {
	g, err := NewGenerator(config)
	if err != nil {
		return err
	}
	return g.GenerateFromFiles([]string{reportPath}, outputPath)
}

// GenerateComparison is a convenience function for comparison dashboards
func GenerateComparison(reportPaths []string, outputPath string, config DashboardConfig) error {
	g, err := NewGenerator(config)
	if err != nil {
		return err
	}
	return g.GenerateComparison(reportPaths, outputPath)
}

func buildDashboardData(cfg DashboardConfig, runs []*report.Run) DashboardData {
	data := DashboardData{Config: cfg}
	data.Summary.RunCount = len(runs)

	stepIndex := map[string]int{}
	for i, run := range runs {
		counts := run.Summary()
		rs := RunSummary{
			Name:    cfg.RunNames[i],
			RunID:   run.ID,
			Started: run.Started,
			Passed:  run.Passed(),
			Counts:  counts,
		}
		if counts.Total > 0 {
			rs.PassRate = float64(counts.Passed) / float64(counts.Total)
		}
		if rs.Passed {
			data.Summary.PassedRuns++
		}
		data.Summary.TotalSteps += counts.Total
		data.Summary.FailedSteps += counts.Failed + counts.Errored
		data.Runs = append(data.Runs, rs)

		tr := &data.Summary.TimeRange
		if tr.Start.IsZero() || run.Started.Before(tr.Start) {
			tr.Start = run.Started
		}
		if end := run.Started.Add(counts.Duration); end.After(tr.End) {
			tr.End = end
		}

		// the last status of a repeated step name wins within a run
		for _, st := range run.Steps() {
			idx, ok := stepIndex[st.Name]
			if !ok {
				idx = len(data.Steps)
				stepIndex[st.Name] = idx
				data.Steps = append(data.Steps, StepTrend{Name: st.Name, Statuses: make([]report.Status, len(runs))})
			}
			data.Steps[idx].Statuses[i] = st.Status
		}
	}

	for i := range data.Steps {
		if isFlaky(data.Steps[i].Statuses) {
			data.Steps[i].Flaky = true
			data.Summary.FlakySteps++
		}
	}

	data.Charts = buildCharts(data.Runs)
	return data
}

// isFlaky reports whether a step present in several runs changed status
func isFlaky(statuses []report.Status) bool {
	var first report.Status
	for _, s := range statuses {
		if s == "" {
			continue
		}
		if first == "" {
			first = s
			continue
		}
		if s != first {
			return true
		}
	}
	return false
}

func buildCharts(runs []RunSummary) []ChartConfig {
	labels := make([]string, len(runs))
	for i, r := range runs {
		labels[i] = r.Name
	}

	byStatus := ChartConfig{
		ID:      "steps_by_status",
		Title:   "Steps by Status",
		Type:    ChartTypeBar,
		Labels:  labels,
		Stacked: true,
	}
	for _, status := range []report.Status{report.StatusPass, report.StatusFail, report.StatusError, report.StatusSkip} {
		s := SeriesData{Name: string(status), Color: statusColors[status], Data: make([]float64, len(runs))}
		for i, r := range runs {
			switch status {
			case report.StatusPass:
				s.Data[i] = float64(r.Counts.Passed)
			case report.StatusFail:
				s.Data[i] = float64(r.Counts.Failed)
			case report.StatusError:
				s.Data[i] = float64(r.Counts.Errored)
			case report.StatusSkip:
				s.Data[i] = float64(r.Counts.Skipped)
			}
		}
		byStatus.Series = append(byStatus.Series, s)
	}

	passRate := SeriesData{Name: "pass rate %", Color: getRunColor(0), Data: make([]float64, len(runs))}
	duration := SeriesData{Name: "seconds", Color: getRunColor(1), Data: make([]float64, len(runs))}
	for i, r := range runs {
		passRate.Data[i] = r.PassRate * 100
		duration.Data[i] = r.Counts.Duration.Seconds()
	}

	return []ChartConfig{
		byStatus,
		{ID: "pass_rate", Title: "Pass Rate", Type: ChartTypeLine, Labels: labels, Series: []SeriesData{passRate}},
		{ID: "duration", Title: "Run Duration", Type: ChartTypeBar, Labels: labels, Series: []SeriesData{duration}},
	}
}
