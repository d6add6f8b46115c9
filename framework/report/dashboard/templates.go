package dashboard

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/cafex/cafex/framework/report"
)

//go:embed templates/*
var templateFS embed.FS

// GetTemplateFuncs returns the template function map
func GetTemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatPercent":  formatPercent,
		"formatTime":     formatTime,
		"statusClass":    statusClass,
		"toJSON":         toJSON,
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dh", hours)
}

// formatPercent formats a ratio as a percentage
func formatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// formatTime formats a time for display
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("2006-01-02 15:04:05")
}

func statusClass(s report.Status) string {
	if s == "" {
		return "missing"
	}
	return strings.ToLower(string(s))
}

// toJSON converts a value to JSON for embedding in templates
func toJSON(v any) template.JS {
	b, err := json.Marshal(v)
	if err != nil {
		return template.JS("null")
	}
	return template.JS(b)
}

// statusColors are the chart colors of each step status
var statusColors = map[report.Status]string{
	report.StatusPass:  "rgba(46, 204, 113, 1)", // green
	report.StatusFail:  "rgba(233, 69, 96, 1)",  // red
	report.StatusError: "rgba(241, 196, 15, 1)", // yellow
	report.StatusSkip:  "rgba(149, 165, 166, 1)",
}

// getRunColor returns a color for a given run index
func getRunColor(index int) string {
	colors := []string{
		"rgba(52, 152, 219, 1)", // blue
		"rgba(155, 89, 182, 1)", // purple
		"rgba(26, 188, 156, 1)", // teal
		"rgba(230, 126, 34, 1)", // orange
	}
	return colors[index%len(colors)]
}
