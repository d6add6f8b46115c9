package nifi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
	"github.com/cafex/cafex/framework/wait"
)

// RootGroup is the alias NiFi accepts for the top level process group
const RootGroup = "root"

type kind string

const (
	kindProcessors          kind = "processors"
	kindProcessGroups       kind = "process-groups"
	kindConnections         kind = "connections"
	kindRemoteProcessGroups kind = "remote-process-groups"
)

// listField is the array holding each kind in a group listing
var listField = map[kind]string{
	kindProcessors:          "processors",
	kindProcessGroups:       "processGroups",
	kindConnections:         "connections",
	kindRemoteProcessGroups: "remoteProcessGroups",
}

// listAll collects every entity of kind under parentID, descending into
// child process groups
func (c *Client) listAll(ctx context.Context, k kind, parentID string) ([]gjson.Result, error) {
	if parentID == "" {
		parentID = RootGroup
	}
	var (
		out   []gjson.Result
		queue = []string{parentID}
	)
	for len(queue) > 0 {
		group := queue[0]
		queue = queue[1:]

		children, err := c.get(ctx, "process-groups/"+group+"/process-groups")
		if err != nil {
			return nil, err
		}
		for _, child := range children.Get("processGroups").Array() {
			queue = append(queue, child.Get("id").String())
		}
		if k == kindProcessGroups {
			out = append(out, children.Get("processGroups").Array()...)
			continue
		}
		doc, err := c.get(ctx, "process-groups/"+group+"/"+string(k))
		if err != nil {
			return nil, err
		}
		out = append(out, doc.Get(listField[k]).Array()...)
	}
	return out, nil
}

// CheckProcessGroupStatus reads /flow/process-groups/{id}/status
func (c *Client) CheckProcessGroupStatus(ctx context.Context, id string) (*Status, error) {
	if err := requireID("process group", id); err != nil {
		return nil, err
	}
	doc, err := c.get(ctx, "flow/process-groups/"+id+"/status")
	if err != nil {
		report.Error(c.recorder, "process group status "+id, err)
		return nil, err
	}
	st := doc.Get("processGroupStatus")
	if !st.Exists() {
		report.Fail(c.recorder, "process group status "+id, "process group found", "status not available")
		return nil, fmt.Errorf("%w: status of process group %s", ErrEmptyResponse, id)
	}
	status := statusOf(id, st)
	report.Pass(c.recorder, "process group status "+id, "process group found", status.Name)
	return status, nil
}

// GetProcessGroup returns the process group entity
func (c *Client) GetProcessGroup(ctx context.Context, id string) (gjson.Result, error) {
	if err := requireID("process group", id); err != nil {
		return gjson.Result{}, err
	}
	return c.get(ctx, "process-groups/"+id)
}

// ChangeProcessGroupState schedules every component of a group
func (c *Client) ChangeProcessGroupState(ctx context.Context, id string, running bool) error {
	if err := requireID("process group", id); err != nil {
		return err
	}
	state := StateStopped
	if running {
		state = StateRunning
	}
	body := map[string]any{"id": id, "state": state}
	if _, err := c.send(ctx, http.MethodPut, "flow/process-groups/"+id, body); err != nil {
		report.Error(c.recorder, "change process group state "+id, err)
		return err
	}
	report.Pass(c.recorder, "change process group state "+id, state, state)
	c.logger.Info("process group state changed", "group_id", id, "state", state)
	return nil
}

// StartThenStopProcessGroup starts a group and stops it after d
func (c *Client) StartThenStopProcessGroup(ctx context.Context, id string, d time.Duration) error {
	if _, err := c.CheckProcessGroupStatus(ctx, id); err != nil {
		return err
	}
	if err := c.ChangeProcessGroupState(ctx, id, true); err != nil {
		return err
	}
	c.logger.Info("process group started", "group_id", id)
	if err := wait.Sleep(ctx, d); err != nil {
		return err
	}
	if err := c.ChangeProcessGroupState(ctx, id, false); err != nil {
		return err
	}
	c.logger.Info("process group stopped", "group_id", id, "after", d)
	return nil
}

// GetProcessGroupID searches parentID (and its descendants) for a group
// named name
func (c *Client) GetProcessGroupID(ctx context.Context, name, parentID string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: process group name is required", ErrInvalidArgument)
	}
	groups, err := c.listAll(ctx, kindProcessGroups, parentID)
	if err != nil {
		report.Error(c.recorder, "process group id "+name, err)
		return "", err
	}
	for _, g := range groups {
		if g.Get("component.name").String() == name {
			id := g.Get("id").String()
			report.Pass(c.recorder, "process group id "+name, "process group exists", id)
			return id, nil
		}
	}
	report.Fail(c.recorder, "process group id "+name, "process group exists", "not found")
	return "", fmt.Errorf("%w: process group %q", ErrNotFound, name)
}

// GetProcessGroups lists the groups under parentID, recursively
func (c *Client) GetProcessGroups(ctx context.Context, parentID, keyPath string) ([]any, error) {
	groups, err := c.listAll(ctx, kindProcessGroups, parentID)
	if err != nil {
		return nil, err
	}
	return pickKeyPath(groups, keyPath)
}

// ListConnections lists the connections under groupID, recursively
func (c *Client) ListConnections(ctx context.Context, groupID, keyPath string) ([]any, error) {
	conns, err := c.listAll(ctx, kindConnections, groupID)
	if err != nil {
		return nil, err
	}
	return pickKeyPath(conns, keyPath)
}

// GetRemoteProcessGroups lists the remote process groups under groupID,
// recursively
func (c *Client) GetRemoteProcessGroups(ctx context.Context, groupID, keyPath string) ([]any, error) {
	rpgs, err := c.listAll(ctx, kindRemoteProcessGroups, groupID)
	if err != nil {
		return nil, err
	}
	return pickKeyPath(rpgs, keyPath)
}

// ChangeRemoteProcessGroupState enables (TRANSMITTING) or disables
// (STOPPED) transmission
func (c *Client) ChangeRemoteProcessGroupState(ctx context.Context, id string, enable bool) error {
	if err := requireID("remote process group", id); err != nil {
		return err
	}
	entity, err := c.get(ctx, "remote-process-groups/"+id)
	if err != nil {
		report.Error(c.recorder, "change remote process group state "+id, err)
		return err
	}
	state := StateStopped
	if enable {
		state = StateTransmitting
	}
	body := map[string]any{"revision": revisionOf(entity), "state": state}
	if _, err := c.send(ctx, http.MethodPut, "remote-process-groups/"+id+"/run-status", body); err != nil {
		report.Error(c.recorder, "change remote process group state "+id, err)
		return err
	}
	report.Pass(c.recorder, "change remote process group state "+id, state, state)
	return nil
}

// GetProcessGroupQueueCount returns status/aggregateSnapshot/queuedCount
func (c *Client) GetProcessGroupQueueCount(ctx context.Context, id string) (int64, error) {
	entity, err := c.GetProcessGroup(ctx, id)
	if err != nil {
		return 0, err
	}
	return queuedCount(entity, "process group "+id)
}

// Connections maps connection names to ids. Source holds the connections
// leaving the component, Destination the ones feeding it.
type Connections struct {
	Source      map[string][]string
	Destination map[string][]string
}

// Inbound returns the ids of connections feeding the component
func (c *Connections) Inbound() []string {
	return flattenIDs(c.Destination)
}

// Outbound returns the ids of connections leaving the component
func (c *Connections) Outbound() []string {
	return flattenIDs(c.Source)
}

// Single keeps one id per name, the last one listed
func (c *Connections) Single() (source, destination map[string]string) {
	last := func(m map[string][]string) map[string]string {
		out := make(map[string]string, len(m))
		for k, ids := range m {
			if len(ids) > 0 {
				out[k] = ids[len(ids)-1]
			}
		}
		return out
	}
	return last(c.Source), last(c.Destination)
}

func flattenIDs(m map[string][]string) []string {
	var out []string
	for _, ids := range m {
		out = append(out, ids...)
	}
	return out
}

// GetComponentConnections returns the connections attached to a processor
// or process group in its parent group
func (c *Client) GetComponentConnections(ctx context.Context, id string) (*Connections, error) {
	if err := requireID("component", id); err != nil {
		return nil, err
	}
	entity, err := c.get(ctx, "processors/"+id)
	isGroup := false
	if restclient.StatusCode(err) == http.StatusNotFound {
		entity, err = c.get(ctx, "process-groups/"+id)
		isGroup = true
	}
	if err != nil {
		report.Error(c.recorder, "component connections "+id, err)
		return nil, err
	}
	parent := entity.Get("component.parentGroupId").String()
	doc, err := c.get(ctx, "process-groups/"+parent+"/connections")
	if err != nil {
		report.Error(c.recorder, "component connections "+id, err)
		return nil, err
	}

	conns := &Connections{Source: map[string][]string{}, Destination: map[string][]string{}}
	found := 0
	for _, conn := range doc.Get("connections").Array() {
		name := firstNonEmpty(conn.Get("component.name").String(), conn.Get("status.name").String(), conn.Get("id").String())
		connID := conn.Get("id").String()
		if conn.Get("sourceId").String() == id || (isGroup && conn.Get("sourceGroupId").String() == id) {
			conns.Source[name] = append(conns.Source[name], connID)
			found++
		}
		if conn.Get("destinationId").String() == id || (isGroup && conn.Get("destinationGroupId").String() == id) {
			conns.Destination[name] = append(conns.Destination[name], connID)
			found++
		}
	}
	if found == 0 {
		report.Fail(c.recorder, "component connections "+id, "connections", "no connections found")
		return conns, fmt.Errorf("%w: connections of %s", ErrNotFound, id)
	}
	report.Pass(c.recorder, "component connections "+id, "connections", fmt.Sprintf("%d connections", found))
	return conns, nil
}
