package nifi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/wait"
)

// Status is the runtime snapshot of a processor or process group
type Status struct {
	ID                string
	Name              string
	RunStatus         string
	ActiveThreadCount int64
	QueuedCount       int64
}

func statusOf(id string, st gjson.Result) *Status {
	snap := st.Get("aggregateSnapshot")
	name := st.Get("name").String()
	if name == "" {
		name = snap.Get("name").String()
	}
	return &Status{
		ID:                id,
		Name:              name,
		RunStatus:         firstNonEmpty(st.Get("runStatus").String(), snap.Get("runStatus").String()),
		ActiveThreadCount: snap.Get("activeThreadCount").Int(),
		QueuedCount:       snap.Get("queuedCount").Int(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CheckProcessorStatus reads /flow/processors/{id}/status
func (c *Client) CheckProcessorStatus(ctx context.Context, id string) (*Status, error) {
	if err := requireID("processor", id); err != nil {
		return nil, err
	}
	doc, err := c.get(ctx, "flow/processors/"+id+"/status")
	if err != nil {
		report.Error(c.recorder, "processor status "+id, err)
		return nil, err
	}
	st := doc.Get("processorStatus")
	if !st.Exists() {
		report.Fail(c.recorder, "processor status "+id, "status available", "status not available")
		c.logger.Error("processor status not available", "processor_id", id)
		return nil, fmt.Errorf("%w: status of processor %s", ErrEmptyResponse, id)
	}
	status := statusOf(id, st)
	report.Pass(c.recorder, "processor status "+id, "status available", status.RunStatus)
	c.logger.Info("processor status", "processor_id", id, "run_status", status.RunStatus)
	return status, nil
}

// GetProcessor returns the processor entity
func (c *Client) GetProcessor(ctx context.Context, id string) (gjson.Result, error) {
	if err := requireID("processor", id); err != nil {
		return gjson.Result{}, err
	}
	return c.get(ctx, "processors/"+id)
}

// ChangeProcessorState sends a caller supplied run-status payload, which
// must carry the revision, to /processors/{id}/run-status
func (c *Client) ChangeProcessorState(ctx context.Context, payload, id string) error {
	if err := requireID("processor", id); err != nil {
		return err
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidArgument)
	}
	if _, err := c.send(ctx, http.MethodPut, "processors/"+id+"/run-status", json.RawMessage(payload)); err != nil {
		c.logger.Warn("failed to change processor state", "processor_id", id, "error", err)
		return err
	}
	c.logger.Info("changed processor state", "processor_id", id)
	return nil
}

// ChangeNifiProcessorState sets a processor to RUNNING, STOPPED or DISABLED
// using its current revision
func (c *Client) ChangeNifiProcessorState(ctx context.Context, id, state string) error {
	if !slices.Contains([]string{StateRunning, StateStopped, StateDisabled}, state) {
		return fmt.Errorf("%w: unsupported processor state %q", ErrInvalidArgument, state)
	}
	entity, err := c.GetProcessor(ctx, id)
	if err != nil {
		report.Error(c.recorder, "change processor state "+id, err)
		return err
	}
	body := map[string]any{"revision": revisionOf(entity), "state": state}
	if _, err := c.send(ctx, http.MethodPut, "processors/"+id+"/run-status", body); err != nil {
		report.Error(c.recorder, "change processor state "+id, err)
		return err
	}
	report.Pass(c.recorder, "change processor state "+id, state, state)
	c.logger.Info("processor state changed", "processor_id", id, "state", state)
	return nil
}

// StartThenStopProcessor starts a processor, stops it after minWait and
// waits up to maxWait for its active threads to drain
func (c *Client) StartThenStopProcessor(ctx context.Context, id string, minWait, maxWait, interval time.Duration) error {
	if interval <= 0 {
		report.Fail(c.recorder, "invalid wait interval", "wait interval greater than 0", interval.String())
		return fmt.Errorf("%w: wait interval must be greater than 0", ErrInvalidArgument)
	}
	if err := c.ChangeNifiProcessorState(ctx, id, StateRunning); err != nil {
		return err
	}
	if err := wait.Sleep(ctx, minWait); err != nil {
		return err
	}
	if err := c.ChangeNifiProcessorState(ctx, id, StateStopped); err != nil {
		return err
	}
	err := wait.Poll(ctx, "processor "+id+" threads to stop", interval, maxWait, func(ctx context.Context) (bool, error) {
		n, err := c.activeThreads(ctx, id)
		return n == 0, err
	})
	if errors.Is(err, wait.ErrTimeout) {
		report.Fail(c.recorder, "processor "+id+" should not have active threads",
			"no active threads", fmt.Sprintf("processor is taking more than %v to stop", maxWait))
		return err
	}
	if err != nil {
		report.Error(c.recorder, "start then stop processor "+id, err)
		return err
	}
	report.Pass(c.recorder, "start then stop processor "+id, "started and stopped", "started and stopped")
	return nil
}

func (c *Client) activeThreads(ctx context.Context, id string) (int64, error) {
	entity, err := c.GetProcessor(ctx, id)
	if err != nil {
		return 0, err
	}
	return entity.Get("status.aggregateSnapshot.activeThreadCount").Int(), nil
}

// EnableProcessor moves a disabled processor to STOPPED and waits until it
// has left validation
func (c *Client) EnableProcessor(ctx context.Context, id string) error {
	if err := c.ChangeNifiProcessorState(ctx, id, StateStopped); err != nil {
		return err
	}
	err := wait.Poll(ctx, "processor "+id+" validation", c.pollInterval, c.maxWait, func(ctx context.Context) (bool, error) {
		entity, err := c.GetProcessor(ctx, id)
		if err != nil {
			return false, err
		}
		return entity.Get("status.aggregateSnapshot.runStatus").String() != "Validating", nil
	})
	if err != nil {
		report.Error(c.recorder, "enable processor "+id, err)
		return err
	}
	report.Pass(c.recorder, "enable processor "+id, "enabled", "enabled")
	return nil
}

// DisableProcessor sets a processor to DISABLED and waits for its active
// threads to drain
func (c *Client) DisableProcessor(ctx context.Context, id string) error {
	if err := c.ChangeNifiProcessorState(ctx, id, StateDisabled); err != nil {
		return err
	}
	err := wait.Poll(ctx, "processor "+id+" threads to stop", c.pollInterval, c.maxWait, func(ctx context.Context) (bool, error) {
		n, err := c.activeThreads(ctx, id)
		return n == 0, err
	})
	if err != nil {
		report.Error(c.recorder, "disable processor "+id, err)
		return err
	}
	report.Pass(c.recorder, "disable processor "+id, "disabled", "disabled")
	return nil
}

// GetProcessorID searches parentID (and its descendants) for a processor
// named name. An empty parentID searches from the root group.
func (c *Client) GetProcessorID(ctx context.Context, name, parentID string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: processor name is required", ErrInvalidArgument)
	}
	processors, err := c.listAll(ctx, kindProcessors, parentID)
	if err != nil {
		report.Error(c.recorder, "processor id "+name, err)
		return "", err
	}
	for _, p := range processors {
		if p.Get("component.name").String() == name {
			id := p.Get("id").String()
			report.Pass(c.recorder, "processor id "+name, "processor exists", id)
			return id, nil
		}
	}
	report.Fail(c.recorder, "processor id "+name, "processor exists", "not found")
	return "", fmt.Errorf("%w: processor %q", ErrNotFound, name)
}

// GetProcessors lists the processors under a group, recursively. With a
// keyPath each entry is the value at that path.
func (c *Client) GetProcessors(ctx context.Context, groupID, keyPath string) ([]any, error) {
	processors, err := c.listAll(ctx, kindProcessors, groupID)
	if err != nil {
		return nil, err
	}
	return pickKeyPath(processors, keyPath)
}

// GetProcessorQueueCount returns status/aggregateSnapshot/queuedCount
func (c *Client) GetProcessorQueueCount(ctx context.Context, id string) (int64, error) {
	entity, err := c.GetProcessor(ctx, id)
	if err != nil {
		return 0, err
	}
	return queuedCount(entity, "processor "+id)
}

func queuedCount(entity gjson.Result, what string) (int64, error) {
	v := entity.Get("status.aggregateSnapshot.queuedCount")
	if !v.Exists() {
		return 0, fmt.Errorf("%w: queued count of %s", ErrEmptyResponse, what)
	}
	if v.Type == gjson.String {
		return strconv.ParseInt(v.String(), 10, 64)
	}
	return v.Int(), nil
}

// GetProcessorProperties returns component/config/properties
func (c *Client) GetProcessorProperties(ctx context.Context, id string) (map[string]any, error) {
	entity, err := c.GetProcessor(ctx, id)
	if err != nil {
		report.Error(c.recorder, "processor properties "+id, err)
		return nil, err
	}
	props, ok := entity.Get("component.config.properties").Value().(map[string]any)
	if !ok {
		report.Fail(c.recorder, "processor properties "+id, "properties", "not found")
		return nil, fmt.Errorf("%w: properties of processor %s", ErrEmptyResponse, id)
	}
	report.Pass(c.recorder, "processor properties "+id, "properties", strconv.Itoa(len(props))+" properties")
	return props, nil
}

// UpdateProcessorProperties replaces the given properties, leaving the rest
// untouched
func (c *Client) UpdateProcessorProperties(ctx context.Context, id string, properties map[string]any) error {
	if len(properties) == 0 {
		return fmt.Errorf("%w: no properties to update", ErrInvalidArgument)
	}
	entity, err := c.GetProcessor(ctx, id)
	if err != nil {
		report.Error(c.recorder, "update processor properties "+id, err)
		return err
	}
	body := map[string]any{
		"revision": revisionOf(entity),
		"component": map[string]any{
			"id":     id,
			"config": map[string]any{"properties": properties},
		},
	}
	if _, err := c.send(ctx, http.MethodPut, "processors/"+id, body); err != nil {
		report.Error(c.recorder, "update processor properties "+id, err)
		return err
	}
	report.Pass(c.recorder, "update processor properties "+id, "properties updated", "properties updated")
	return nil
}
