package databricks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Command languages accepted by the 1.2 execution API
const (
	LangPython = "python"
	LangScala  = "scala"
	LangSQL    = "sql"
	LangR      = "r"
)

// CommandStatus is the reply of commands/status
type CommandStatus struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	Results map[string]any `json:"results"`
}

// ContextID returns the execution context in use, if any
func (c *Client) ContextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contextID
}

// CreateContext creates an execution context on a cluster and keeps it for
// later commands
func (c *Client) CreateContext(ctx context.Context, language, clusterID string) (string, error) {
	if err := required("cluster id", clusterID); err != nil {
		return "", err
	}
	if err := required("language", language); err != nil {
		return "", err
	}
	doc, err := sendOn(ctx, c.legacy, http.MethodPost, "contexts/create", map[string]string{"language": language, "clusterId": clusterID})
	id := doc.Get("id").String()
	if err := c.step("create context on "+clusterID, err, id); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.contextID = id
	c.mu.Unlock()
	return id, nil
}

// DestroyContext destroys the context created by CreateContext or
// ExecuteCommand
func (c *Client) DestroyContext(ctx context.Context, clusterID string) error {
	contextID := c.ContextID()
	if contextID == "" {
		return ErrNoContext
	}
	_, err := sendOn(ctx, c.legacy, http.MethodPost, "contexts/destroy", map[string]string{"contextId": contextID, "clusterId": clusterID})
	if err := c.step("destroy context "+contextID, err, "destroyed"); err != nil {
		return err
	}
	c.mu.Lock()
	c.contextID = ""
	c.mu.Unlock()
	return nil
}

// ExecuteCommand runs command on a cluster, creating an execution context
// first when none exists. It returns the command id.
func (c *Client) ExecuteCommand(ctx context.Context, language, clusterID, command string) (string, error) {
	if err := required("command", command); err != nil {
		return "", err
	}
	contextID := c.ContextID()
	if contextID == "" {
		var err error
		if contextID, err = c.CreateContext(ctx, language, clusterID); err != nil {
			return "", err
		}
	}
	body := map[string]string{
		"language":  language,
		"contextId": contextID,
		"clusterId": clusterID,
		"command":   command,
	}
	doc, err := sendOn(ctx, c.legacy, http.MethodPost, "commands/execute", body)
	id := doc.Get("id").String()
	if err := c.step("execute command on "+clusterID, err, id); err != nil {
		return "", err
	}
	c.logger.Info("command submitted", "cluster_id", clusterID, "command_id", id)
	return id, nil
}

// CommandStatus reads the status and results of a command
func (c *Client) CommandStatus(ctx context.Context, clusterID, commandID string) (*CommandStatus, error) {
	contextID := c.ContextID()
	if contextID == "" {
		return nil, ErrNoContext
	}
	if err := required("command id", commandID); err != nil {
		return nil, err
	}
	q := url.Values{"clusterId": {clusterID}, "contextId": {contextID}, "commandId": {commandID}}
	doc, err := sendOn(ctx, c.legacy, http.MethodGet, "commands/status?"+q.Encode(), nil)
	if err != nil {
		return nil, c.step("command status "+commandID, err, "")
	}
	st := &CommandStatus{ID: doc.Get("id").String(), Status: doc.Get("status").String()}
	if r, ok := doc.Get("results").Value().(map[string]any); ok {
		st.Results = r
	}
	return st, nil
}

// Data returns the command output, or an error when the command failed
func (s *CommandStatus) Data() (any, error) {
	if s.Results["resultType"] == "error" {
		return nil, fmt.Errorf("command %s failed: %v", s.ID, s.Results["cause"])
	}
	return s.Results["data"], nil
}
