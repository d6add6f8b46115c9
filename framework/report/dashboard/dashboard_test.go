package dashboard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafex/cafex/framework/report"
)

func writeRun(t *testing.T, dir, name string, steps ...report.Step) string {
	t.Helper()
	run := report.NewRun(name)
	for _, st := range steps {
		run.Record(st)
	}
	path := filepath.Join(dir, name+".json")
	require.NoError(t, report.Export(run, path))
	return path
}

func TestBuildDashboardData(t *testing.T) {
	first := report.NewRun("nightly")
	report.Pass(first, "processor status", "RUNNING", "RUNNING")
	report.Pass(first, "queue empty", "0", "0")

	second := report.NewRun("nightly")
	report.Pass(second, "processor status", "RUNNING", "RUNNING")
	report.Fail(second, "queue empty", "0", "4")
	report.Error(second, "job finished", errors.New("timeout"))

	cfg := DashboardConfig{RunNames: []string{"monday", "tuesday"}, CompareMode: true}
	data := buildDashboardData(cfg, []*report.Run{first, second})

	assert.Equal(t, 2, data.Summary.RunCount)
	assert.Equal(t, 1, data.Summary.PassedRuns)
	assert.Equal(t, 5, data.Summary.TotalSteps)
	assert.Equal(t, 2, data.Summary.FailedSteps)
	assert.Equal(t, 1, data.Summary.FlakySteps)

	require.Len(t, data.Runs, 2)
	assert.Equal(t, "monday", data.Runs[0].Name)
	assert.InDelta(t, 1.0, data.Runs[0].PassRate, 0.001)
	assert.InDelta(t, 1.0/3, data.Runs[1].PassRate, 0.001)

	require.Len(t, data.Steps, 3)
	assert.Equal(t, "queue empty", data.Steps[1].Name)
	assert.Equal(t, []report.Status{report.StatusPass, report.StatusFail}, data.Steps[1].Statuses)
	assert.True(t, data.Steps[1].Flaky)
	// a step missing from one run is not flaky
	assert.Equal(t, []report.Status{"", report.StatusError}, data.Steps[2].Statuses)
	assert.False(t, data.Steps[2].Flaky)

	require.Len(t, data.Charts, 3)
	assert.Equal(t, []string{"monday", "tuesday"}, data.Charts[0].Labels)
	assert.Equal(t, []float64{2, 1}, data.Charts[0].Series[0].Data)
}

func TestGenerateComparison(t *testing.T) {
	dir := t.TempDir()
	a := writeRun(t, dir, "run-a", report.Step{Name: "rows match", Status: report.StatusPass})
	b := writeRun(t, dir, "run-b", report.Step{Name: "rows match", Status: report.StatusFail, Expected: "2", Actual: "3"})
	out := filepath.Join(dir, "out", "dashboard.html")

	err := GenerateComparison([]string{a, b}, out, DashboardConfig{Title: "Nightly <ETL>", GeneratedAt: time.Now()})
	require.NoError(t, err)

	html, err := os.ReadFile(out)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "Nightly &lt;ETL&gt;")
	assert.Contains(t, page, "run-a")
	assert.Contains(t, page, "run-b")
	assert.Contains(t, page, `class="flaky"`)
	assert.True(t, strings.Contains(page, "steps_by_status"))
}

func TestGenerate_Errors(t *testing.T) {
	dir := t.TempDir()
	a := writeRun(t, dir, "only")

	err := GenerateComparison([]string{a}, filepath.Join(dir, "x.html"), DashboardConfig{})
	assert.Error(t, err)

	g, err := NewGenerator(DashboardConfig{})
	require.NoError(t, err)
	assert.ErrorIs(t, g.Generate(nil, filepath.Join(dir, "x.html")), ErrNoRuns)
	assert.Error(t, g.GenerateFromFiles([]string{filepath.Join(dir, "missing.json")}, filepath.Join(dir, "x.html")))

	require.NoError(t, Generate(a, filepath.Join(dir, "single.html"), DashboardConfig{}))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 1m", formatDuration(61*time.Minute))
}
