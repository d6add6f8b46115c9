package nifi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/wait"
)

// FlowFileSummary is one entry of a queue listing
type FlowFileSummary struct {
	UUID            string `json:"uuid"`
	Filename        string `json:"filename"`
	Position        int    `json:"position"`
	Size            int64  `json:"size"`
	QueuedDuration  int64  `json:"queuedDuration"`
	LineageDuration int64  `json:"lineageDuration"`
	Penalized       bool   `json:"penalized"`
	ClusterNodeID   string `json:"clusterNodeId,omitempty"`
}

// ListingRequest is an asynchronous queue listing
type ListingRequest struct {
	ID       string `json:"id"`
	URI      string `json:"uri"`
	State    string `json:"state"`
	Finished bool   `json:"finished"`
	Percent  int    `json:"percentCompleted"`
}

func queuePath(connID string, parts ...string) string {
	p := "flowfile-queues/" + connID
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// ListQueueData submits a listing request for a connection queue
func (c *Client) ListQueueData(ctx context.Context, connID string) (*ListingRequest, error) {
	if err := requireID("connection", connID); err != nil {
		return nil, err
	}
	doc, err := c.send(ctx, http.MethodPost, queuePath(connID, "listing-requests"), nil, http.StatusOK, http.StatusAccepted)
	if err != nil {
		report.Error(c.recorder, "list queue data "+connID, err)
		return nil, err
	}
	req := doc.Get("listingRequest")
	if !req.Exists() {
		report.Fail(c.recorder, "list queue data "+connID, "listing request", "no data")
		return nil, fmt.Errorf("%w: listing request for %s", ErrEmptyResponse, connID)
	}
	var lr ListingRequest
	if err := json.Unmarshal([]byte(req.Raw), &lr); err != nil {
		return nil, err
	}
	report.Pass(c.recorder, "list queue data "+connID, "listing request", lr.ID)
	return &lr, nil
}

// GetFlowFilesQueueDetails lists the flow files queued in a connection
func (c *Client) GetFlowFilesQueueDetails(ctx context.Context, connID string) ([]FlowFileSummary, error) {
	lr, err := c.ListQueueData(ctx, connID)
	if err != nil {
		return nil, err
	}
	target := queuePath(connID, "listing-requests", lr.ID)
	defer func() {
		if _, err := c.send(context.WithoutCancel(ctx), http.MethodDelete, target, nil); err != nil {
			c.logger.Warn("failed to delete listing request", "connection_id", connID, "error", err)
		}
	}()

	var listing gjson.Result
	err = wait.Poll(ctx, "queue listing "+connID, c.pollInterval, c.maxWait, func(ctx context.Context) (bool, error) {
		doc, err := c.get(ctx, target)
		if err != nil {
			return false, err
		}
		listing = doc.Get("listingRequest")
		return listing.Get("finished").Bool(), nil
	})
	if err != nil {
		report.Error(c.recorder, "flow files "+connID, err)
		return nil, err
	}
	var summaries []FlowFileSummary
	if raw := listing.Get("flowFileSummaries").Raw; raw != "" {
		if err := json.Unmarshal([]byte(raw), &summaries); err != nil {
			return nil, err
		}
	}
	c.logger.Debug("queue listed", "connection_id", connID, "flow_files", len(summaries))
	return summaries, nil
}

// GetFlowFileCount returns how many flow files a connection holds
func (c *Client) GetFlowFileCount(ctx context.Context, connID string) (int, error) {
	summaries, err := c.GetFlowFilesQueueDetails(ctx, connID)
	if err != nil {
		return 0, err
	}
	return len(summaries), nil
}

// DeleteQueueData drops every flow file queued in a connection and waits
// for the drop to finish
func (c *Client) DeleteQueueData(ctx context.Context, connID string) error {
	if err := requireID("connection", connID); err != nil {
		return err
	}
	doc, err := c.send(ctx, http.MethodPost, queuePath(connID, "drop-requests"), nil, http.StatusOK, http.StatusAccepted)
	if err != nil {
		report.Error(c.recorder, "delete queue data "+connID, err)
		return err
	}
	dropID := doc.Get("dropRequest.id").String()
	if dropID == "" {
		report.Fail(c.recorder, "delete queue data "+connID, "drop request", "no drop request")
		return fmt.Errorf("%w: drop request for %s", ErrEmptyResponse, connID)
	}
	target := queuePath(connID, "drop-requests", dropID)
	err = wait.Poll(ctx, "queue drop "+connID, c.pollInterval, c.maxWait, func(ctx context.Context) (bool, error) {
		doc, err := c.get(ctx, target)
		if err != nil {
			return false, err
		}
		if reason := doc.Get("dropRequest.failureReason").String(); reason != "" {
			return false, fmt.Errorf("drop request failed: %s", reason)
		}
		return doc.Get("dropRequest.finished").Bool(), nil
	})
	if _, derr := c.send(context.WithoutCancel(ctx), http.MethodDelete, target, nil); derr != nil {
		c.logger.Warn("failed to delete drop request", "connection_id", connID, "error", derr)
	}
	if err != nil {
		report.Error(c.recorder, "delete queue data "+connID, err)
		return err
	}
	report.Pass(c.recorder, "delete queue data "+connID, "queue emptied", "queue emptied")
	return nil
}

// ClearQueues empties the inbound and/or outbound queues of a component
func (c *Client) ClearQueues(ctx context.Context, id string, inbound, outbound bool) error {
	conns, err := c.GetComponentConnections(ctx, id)
	if err != nil {
		return err
	}
	drain := func(direction string, ids []string) error {
		for _, connID := range ids {
			if err := c.DeleteQueueData(ctx, connID); err != nil {
				report.Fail(c.recorder, "clear "+direction+" queue", "queue cleared", "error deleting "+direction+" connection: "+connID)
				return err
			}
		}
		report.Pass(c.recorder, "clear "+direction+" queues "+id, "all "+direction+" queues cleared", fmt.Sprintf("%d queues cleared", len(ids)))
		return nil
	}
	if inbound {
		if err := drain("input", conns.Inbound()); err != nil {
			return err
		}
	}
	if outbound {
		if err := drain("output", conns.Outbound()); err != nil {
			return err
		}
	}
	return nil
}
