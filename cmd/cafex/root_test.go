package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()
	if cmd.Use != "cafex" {
		t.Errorf("Expected Use to be 'cafex', got %s", cmd.Use)
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("Expected Short and Long descriptions to be set")
	}
	if !cmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}

	found := map[string]bool{}
	for _, sub := range cmd.Commands() {
		found[sub.Name()] = true
	}
	for _, want := range []string{"compare", "config", "service", "nifi", "databricks", "report"} {
		if !found[want] {
			t.Errorf("Expected subcommand %s to be registered", want)
		}
	}
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("Error executing version: %v", err)
	}
	if out != "cafex version dev\n" {
		t.Errorf("Expected version output %q, got %q", "cafex version dev\n", out)
	}
}

func TestCompare_Equal(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "source.csv", "id,name\n1,a\n2,b\n")
	tgt := writeFile(t, dir, "target.csv", "id,name\n2,b\n1,a\n")

	out, _, err := execute(t, "compare", src, tgt)
	if err != nil {
		t.Fatalf("Expected equal files to compare without error, got %v", err)
	}
	if !strings.Contains(out, "Result: EQUAL") {
		t.Errorf("Expected EQUAL result, got:\n%s", out)
	}
}

func TestCompare_DifferentWritesFiles(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "source.csv", "id,name\n1,a\n2,b\n")
	tgt := writeFile(t, dir, "target.csv", "ID,NAME\n1,a\n3,c\n")
	outDir := filepath.Join(dir, "diff")
	reportPath := filepath.Join(dir, "run.json")

	out, _, err := execute(t, "compare", src, tgt,
		"--mode", "header", "--ignore-header-case", "--out", outDir, "--report", reportPath)
	if err == nil {
		t.Fatal("Expected an error for differing files")
	}
	if !strings.Contains(err.Error(), "result sets differ") {
		t.Errorf("Expected a mismatch error, got %v", err)
	}
	if !strings.Contains(out, "Result: DIFFERENT") {
		t.Errorf("Expected DIFFERENT result, got:\n%s", out)
	}
	for _, name := range []string{"source_only.csv", "target_only.csv"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("Expected %s to be written: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "common.csv")); err == nil {
		t.Error("Expected no common.csv without --common")
	}

	// the exported report converts to HTML
	out, _, err = execute(t, "report", "convert", reportPath)
	if err != nil {
		t.Fatalf("Error converting report: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.html")); err != nil {
		t.Errorf("Expected run.html to be written: %v", err)
	}

	_, _, err = execute(t, "report", "summary", reportPath)
	if err == nil {
		t.Error("Expected summary of a failed run to return an error")
	}

	_, _, err = execute(t, "report", "dashboard", reportPath)
	if err != nil {
		t.Fatalf("Error generating dashboard: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run-dashboard.html")); err != nil {
		t.Errorf("Expected run-dashboard.html to be written: %v", err)
	}
}

func TestCompare_ClubRequiresKeys(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.csv", "id\n1\n")

	_, _, err := execute(t, "compare", src, src, "--mode", "header", "--club")
	if err == nil || !strings.Contains(err.Error(), "--source-keys") {
		t.Errorf("Expected --club without keys to fail, got %v", err)
	}
}

func TestConfigGet(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `env:
  dev:
    cloud:
      base_url: https://dev.example.com
databases:
  - db_name: orders
    port: 5432
`)

	out, _, err := execute(t, "config", "get", path, "env/dev/cloud/base_url")
	if err != nil {
		t.Fatalf("Error getting key: %v", err)
	}
	if out != "https://dev.example.com\n" {
		t.Errorf("Expected base URL, got %q", out)
	}

	out, _, err = execute(t, "config", "get", path, "databases.0", "--delimiter", ".")
	if err != nil {
		t.Fatalf("Error getting list item: %v", err)
	}
	if !strings.Contains(out, "db_name: orders") {
		t.Errorf("Expected YAML mapping, got %q", out)
	}

	if _, _, err := execute(t, "config", "get", path, "env/prod"); err == nil {
		t.Error("Expected missing key to fail")
	}
}

func TestNiFiAbout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nifi-api/flow/about" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"about":{"title":"NiFi","version":"1.23.2","buildTag":"nifi-1.23.2-RC1","timezone":"UTC"}}`))
	}))
	defer srv.Close()

	out, _, err := execute(t, "nifi", "about", "--url", srv.URL)
	if err != nil {
		t.Fatalf("Error running nifi about: %v", err)
	}
	if !strings.Contains(out, "Version:  1.23.2") {
		t.Errorf("Expected version in output, got:\n%s", out)
	}
}

func TestNiFiRequiresURL(t *testing.T) {
	t.Setenv(envNiFiURL, "")
	_, _, err := execute(t, "nifi", "about")
	if err == nil {
		t.Error("Expected nifi without --url to fail")
	}
}

func TestDatabricksJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer dapi-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/2.0/jobs/list":
			w.Write([]byte(`{"jobs":[{"job_id":42,"settings":{"name":"nightly load"}}]}`))
		case "/api/2.0/jobs/run-now":
			w.Write([]byte(`{"run_id":7}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, _, err := execute(t, "databricks", "jobs", "--host", srv.URL, "--token", "dapi-test")
	if err != nil {
		t.Fatalf("Error listing jobs: %v", err)
	}
	if !strings.Contains(out, "nightly load") {
		t.Errorf("Expected job name in output, got:\n%s", out)
	}

	out, _, err = execute(t, "databricks", "run", "nightly load", "--no-wait",
		"--param", "date=2024-01-01", "--host", srv.URL, "--token", "dapi-test")
	if err != nil {
		t.Fatalf("Error running job: %v", err)
	}
	if !strings.Contains(out, "Run 7 started for job 42") {
		t.Errorf("Expected run id in output, got:\n%s", out)
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"date=2024-01-01", "filter=a=b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["date"] != "2024-01-01" || got["filter"] != "a=b" {
		t.Errorf("unexpected params: %v", got)
	}

	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Error("Expected param without = to fail")
	}
}
