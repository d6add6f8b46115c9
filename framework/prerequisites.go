package framework

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cafex/cafex/framework/concurrent"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
	"github.com/cafex/cafex/framework/wait"
)

// Endpoint is a service the tests depend on
type Endpoint struct {
	Name string
	URL  string

	// Status is the status code that counts as reachable. Zero accepts
	// any answer below 500.
	Status int

	// Wait keeps probing up to this long before giving up. Zero probes once.
	Wait time.Duration
}

// PrerequisiteStatus represents the status of a single prerequisite
type PrerequisiteStatus struct {
	Name      string
	Reachable bool
	Message   string
}

// PrerequisitesResult contains the results of all prerequisite checks
type PrerequisitesResult struct {
	Endpoints []PrerequisiteStatus
	AllMet    bool
}

// NiFiEndpoint probes the NiFi about API
func NiFiEndpoint(baseURL string) Endpoint {
	base := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/nifi-api")
	return Endpoint{Name: "NiFi", URL: base + "/nifi-api/flow/about"}
}

// SeleniumGridEndpoint probes the grid status page of a hub URL
func SeleniumGridEndpoint(hubURL string) Endpoint {
	return Endpoint{Name: "Selenium Grid", URL: strings.TrimRight(hubURL, "/") + "/status", Status: http.StatusOK}
}

// DatabricksEndpoint probes the workspace clusters API. Without a token the
// workspace still answers 401, which counts as reachable.
func DatabricksEndpoint(workspaceURL string) Endpoint {
	return Endpoint{Name: "Databricks", URL: strings.TrimRight(workspaceURL, "/") + "/api/2.0/clusters/list"}
}

// CheckPrerequisites probes every endpoint in parallel and records one report
// step per endpoint. The returned error is non-nil only for invalid endpoints.
func (f *Framework) CheckPrerequisites(ctx context.Context, endpoints ...Endpoint) (*PrerequisitesResult, error) {
	for _, ep := range endpoints {
		if ep.URL == "" {
			return nil, NewPrerequisiteError(ep.Name, fmt.Errorf("%w: endpoint URL is empty", ErrInvalidArgument))
		}
	}

	client := f.REST("", restclient.WithRetryAttempts(1))
	statuses, _ := concurrent.MapWithLimit(ctx, endpoints, len(endpoints), func(ctx context.Context, ep Endpoint) (PrerequisiteStatus, error) {
		return f.probe(ctx, client, ep), nil
	})

	result := &PrerequisitesResult{Endpoints: statuses, AllMet: true}
	for i, st := range statuses {
		if st.Name == "" {
			// not started before ctx was done
			st = PrerequisiteStatus{Name: endpoints[i].Name, Message: ctx.Err().Error()}
			result.Endpoints[i] = st
		}
		report.Check(f.recorder, st.Reachable, "prerequisite "+st.Name, "reachable", st.Message)
		if !st.Reachable {
			result.AllMet = false
			f.logger.Warn("prerequisite not met", "endpoint", st.Name, "message", st.Message)
		}
	}
	return result, nil
}

func (f *Framework) probe(ctx context.Context, client *restclient.Client, ep Endpoint) PrerequisiteStatus {
	status := PrerequisiteStatus{Name: ep.Name}
	if status.Name == "" {
		status.Name = ep.URL
	}

	var last string
	check := func(ctx context.Context) (bool, error) {
		resp, err := client.CallRequest(ctx, http.MethodGet, ep.URL, nil)
		if err != nil {
			last = err.Error()
			return false, nil
		}
		last = fmt.Sprintf("%s answered %d", ep.URL, resp.StatusCode)
		if ep.Status != 0 {
			return resp.StatusCode == ep.Status, nil
		}
		return resp.StatusCode < http.StatusInternalServerError, nil
	}

	var err error
	if ep.Wait > 0 {
		err = wait.Poll(ctx, "endpoint "+status.Name, f.config.PollInterval, ep.Wait, check)
	} else {
		var ok bool
		ok, err = check(ctx)
		if err == nil && !ok {
			err = fmt.Errorf("%w: %s", ErrUnexpectedStatus, last)
		}
	}

	status.Reachable = err == nil
	status.Message = last
	return status
}

// String returns a human-readable summary of the prerequisites result
func (r *PrerequisitesResult) String() string {
	var b strings.Builder
	b.WriteString("Prerequisites Check:\n")
	for _, st := range r.Endpoints {
		mark := "✓"
		if !st.Reachable {
			mark = "✗"
		}
		fmt.Fprintf(&b, "  %s %s: %s\n", mark, st.Name, st.Message)
	}
	fmt.Fprintf(&b, "  All prerequisites met: %v", r.AllMet)
	return b.String()
}
