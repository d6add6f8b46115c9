package databricks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/wait"
)

// Run life cycle and result states
const (
	LifeCycleTerminated    = "TERMINATED"
	LifeCycleInternalError = "INTERNAL_ERROR"
	ResultSuccess          = "SUCCESS"
	ResultFailed           = "FAILED"
)

// Job is one entry of jobs/list
type Job struct {
	JobID       int64          `json:"job_id"`
	CreatorName string         `json:"creator_user_name"`
	CreatedTime int64          `json:"created_time"`
	Settings    map[string]any `json:"settings"`
}

// Name returns settings.name
func (j Job) Name() string {
	name, _ := j.Settings["name"].(string)
	return name
}

// RunState is the state block of a job run
type RunState struct {
	LifeCycleState string `json:"life_cycle_state"`
	ResultState    string `json:"result_state"`
	StateMessage   string `json:"state_message"`
}

// Done reports whether the run has left the running states
func (s RunState) Done() bool {
	return s.LifeCycleState == LifeCycleTerminated || s.LifeCycleState == LifeCycleInternalError
}

// RunOutput is the reply of jobs/runs/get-output
type RunOutput struct {
	Metadata struct {
		JobID int64    `json:"job_id"`
		RunID int64    `json:"run_id"`
		State RunState `json:"state"`
	} `json:"metadata"`
	NotebookOutput map[string]any `json:"notebook_output,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorTrace     string         `json:"error_trace,omitempty"`
	Logs           string         `json:"logs,omitempty"`
}

// RunParams are the parameters passed to run-now. Only the fields that match
// the job's task type are used by Databricks.
type RunParams struct {
	NotebookParams    map[string]string `json:"notebook_params,omitempty"`
	JarParams         []string          `json:"jar_params,omitempty"`
	PythonParams      []string          `json:"python_params,omitempty"`
	SparkSubmitParams []string          `json:"spark_submit_params,omitempty"`
}

func jobIDQuery(jobID int64) url.Values {
	return url.Values{"job_id": {strconv.FormatInt(jobID, 10)}}
}

func requireJob(jobID int64) error {
	if jobID <= 0 {
		return fmt.Errorf("%w: job id must be positive", ErrInvalidArgument)
	}
	return nil
}

// CreateJob creates a job from a jobs/create payload and returns its id
func (c *Client) CreateJob(ctx context.Context, payload map[string]any) (int64, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: job payload is empty", ErrInvalidArgument)
	}
	doc, err := c.send(ctx, http.MethodPost, "jobs/create", payload)
	id := doc.Get("job_id").Int()
	if err := c.step("create job", err, strconv.FormatInt(id, 10)); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteJob deletes a job
func (c *Client) DeleteJob(ctx context.Context, jobID int64) error {
	if err := requireJob(jobID); err != nil {
		return err
	}
	_, err := c.send(ctx, http.MethodPost, "jobs/delete", map[string]int64{"job_id": jobID})
	return c.step(fmt.Sprintf("delete job %d", jobID), err, "deleted")
}

// ListJobs returns every job in the workspace
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	doc, err := c.send(ctx, http.MethodGet, "jobs/list", nil)
	if err != nil {
		return nil, c.step("list jobs", err, "")
	}
	var jobs []Job
	if err := decodeInto(doc.Get("jobs").Raw, &jobs); err != nil {
		return nil, err
	}
	report.Pass(c.recorder, "list jobs", "success", fmt.Sprintf("%d jobs", len(jobs)))
	return jobs, nil
}

// GetJobID finds a job by name, ignoring case
func (c *Client) GetJobID(ctx context.Context, name string) (int64, error) {
	if err := required("job name", name); err != nil {
		return 0, err
	}
	jobs, err := c.ListJobs(ctx)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		if strings.EqualFold(j.Name(), name) {
			report.Pass(c.recorder, "job id "+name, "job exists", strconv.FormatInt(j.JobID, 10))
			return j.JobID, nil
		}
	}
	report.Fail(c.recorder, "job id "+name, "job exists", "not found")
	return 0, fmt.Errorf("%w: job %q", ErrNotFound, name)
}

// GetJob returns the job definition
func (c *Client) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	if err := requireJob(jobID); err != nil {
		return nil, err
	}
	var out Job
	err := c.rest.GetJSON(ctx, "jobs/get", jobIDQuery(jobID), &out)
	if err := c.step(fmt.Sprintf("get job %d", jobID), err, out.Name()); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteJob triggers a run and returns the raw run-now reply
func (c *Client) ExecuteJob(ctx context.Context, jobID int64, params *RunParams) (gjson.Result, error) {
	if err := requireJob(jobID); err != nil {
		return gjson.Result{}, err
	}
	body := map[string]any{"job_id": jobID}
	if params != nil {
		if len(params.NotebookParams) > 0 {
			body["notebook_params"] = params.NotebookParams
		}
		if len(params.JarParams) > 0 {
			body["jar_params"] = params.JarParams
		}
		if len(params.PythonParams) > 0 {
			body["python_params"] = params.PythonParams
		}
		if len(params.SparkSubmitParams) > 0 {
			body["spark_submit_params"] = params.SparkSubmitParams
		}
	}
	doc, err := c.send(ctx, http.MethodPost, "jobs/run-now", body)
	if err := c.step(fmt.Sprintf("execute job %d", jobID), err, doc.Get("run_id").String()); err != nil {
		return gjson.Result{}, err
	}
	c.logger.Info("job triggered", "job_id", jobID, "run_id", doc.Get("run_id").Int())
	return doc, nil
}

// RunJobAndGetRunID triggers a run with notebook parameters and returns the
// run id
func (c *Client) RunJobAndGetRunID(ctx context.Context, jobID int64, notebookParams map[string]string) (int64, error) {
	doc, err := c.ExecuteJob(ctx, jobID, &RunParams{NotebookParams: notebookParams})
	if err != nil {
		return 0, err
	}
	runID := doc.Get("run_id").Int()
	if runID == 0 {
		return 0, fmt.Errorf("%w: run-now returned no run id for job %d", ErrNotFound, jobID)
	}
	return runID, nil
}

// GetJobOutput returns the output and state of a run
func (c *Client) GetJobOutput(ctx context.Context, runID int64) (*RunOutput, error) {
	if runID <= 0 {
		return nil, fmt.Errorf("%w: run id must be positive", ErrInvalidArgument)
	}
	var out RunOutput
	err := c.rest.GetJSON(ctx, "jobs/runs/get-output", url.Values{"run_id": {strconv.FormatInt(runID, 10)}}, &out)
	if err != nil {
		return nil, c.step(fmt.Sprintf("job output %d", runID), err, "")
	}
	return &out, nil
}

// ListJobRuns lists the runs of a job. Extra query fields such as
// active_only or limit go in filters.
func (c *Client) ListJobRuns(ctx context.Context, jobID int64, filters map[string]string) ([]gjson.Result, error) {
	if err := requireJob(jobID); err != nil {
		return nil, err
	}
	q := jobIDQuery(jobID)
	for k, v := range filters {
		q.Set(k, v)
	}
	doc, err := c.send(ctx, http.MethodGet, "jobs/runs/list?"+q.Encode(), nil)
	if err != nil {
		return nil, c.step(fmt.Sprintf("list runs of job %d", jobID), err, "")
	}
	runs := doc.Get("runs").Array()
	report.Pass(c.recorder, fmt.Sprintf("list runs of job %d", jobID), "success", fmt.Sprintf("%d runs", len(runs)))
	return runs, nil
}

// CheckJobStatusAndWait polls a run up to retries times, interval apart,
// until it terminates. It returns nil when the run ends in SUCCESS,
// ErrJobFailed when it ends otherwise and a wait.TimeoutError when it is
// still running after the last attempt.
func (c *Client) CheckJobStatusAndWait(ctx context.Context, runID int64, retries int, interval time.Duration) error {
	name := fmt.Sprintf("job run %d", runID)
	var state RunState
	err := wait.PollN(ctx, name, interval, retries, func(ctx context.Context) (bool, error) {
		out, err := c.GetJobOutput(ctx, runID)
		if err != nil {
			return false, err
		}
		state = out.Metadata.State
		c.logger.Debug("job run state", "run_id", runID, "life_cycle_state", state.LifeCycleState, "result_state", state.ResultState)
		return state.Done() && state.ResultState != "", nil
	})
	switch {
	case errors.Is(err, wait.ErrTimeout):
		report.Fail(c.recorder, name, ResultSuccess, "still "+state.LifeCycleState)
		return err
	case err != nil:
		report.Error(c.recorder, name, err)
		return err
	case state.ResultState != ResultSuccess:
		report.Fail(c.recorder, name, ResultSuccess, state.ResultState)
		return fmt.Errorf("%w: run %d ended in %s: %s", ErrJobFailed, runID, state.ResultState, state.StateMessage)
	}
	report.Pass(c.recorder, name, ResultSuccess, state.ResultState)
	return nil
}
