package dashboard

import (
	"time"

	"github.com/cafex/cafex/framework/report"
)

// ChartType represents the type of chart to render
type ChartType string

const (
	ChartTypeLine ChartType = "line"
	ChartTypeBar  ChartType = "bar"
)

// DashboardConfig configures dashboard generation
type DashboardConfig struct {
	Title       string
	GeneratedAt time.Time
	// Comparison mode settings
	CompareMode bool
	RunNames    []string // Names for each run, defaults to the report file names
}

// DashboardData holds all data for rendering the dashboard
type DashboardData struct {
	Config  DashboardConfig
	Summary TestSummary
	Runs    []RunSummary
	Charts  []ChartConfig
	// Steps lists every step name with its status in each run
	Steps []StepTrend
}

// TestSummary aggregates all runs of the dashboard
type TestSummary struct {
	RunCount    int
	PassedRuns  int
	TotalSteps  int
	FailedSteps int
	FlakySteps  int
	TimeRange   TimeRange
}

// TimeRange represents the window covered by the runs
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// RunSummary is the headline of one run
type RunSummary struct {
	Name     string
	RunID    string
	Started  time.Time
	Passed   bool
	PassRate float64
	Counts   report.Summary
}

// StepTrend shows one step across runs
type StepTrend struct {
	Name     string
	Statuses []report.Status // one per run, empty when the run lacks the step
	Flaky    bool
}

// ChartConfig defines a single chart
type ChartConfig struct {
	ID      string
	Title   string
	Type    ChartType
	Labels  []string
	Series  []SeriesData
	Stacked bool
}

// SeriesData represents a single data series for a chart
type SeriesData struct {
	Name  string
	Color string
	Data  []float64
}
