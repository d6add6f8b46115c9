package databricks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
)

// Cluster is the subset of cluster details most checks look at
type Cluster struct {
	ClusterID    string `json:"cluster_id"`
	ClusterName  string `json:"cluster_name"`
	State        string `json:"state"`
	StateMessage string `json:"state_message"`
	SparkVersion string `json:"spark_version"`
	NodeTypeID   string `json:"node_type_id"`
	NumWorkers   int    `json:"num_workers"`
}

// ListClusters returns every cluster in the workspace
func (c *Client) ListClusters(ctx context.Context) ([]Cluster, error) {
	var out struct {
		Clusters []Cluster `json:"clusters"`
	}
	err := c.rest.GetJSON(ctx, "clusters/list", nil, &out)
	if err := c.step("list clusters", err, fmt.Sprintf("%d clusters", len(out.Clusters))); err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

// GetClusterID finds a cluster by name, ignoring case
func (c *Client) GetClusterID(ctx context.Context, name string) (string, error) {
	if err := required("cluster name", name); err != nil {
		return "", err
	}
	clusters, err := c.ListClusters(ctx)
	if err != nil {
		return "", err
	}
	for _, cl := range clusters {
		if strings.EqualFold(cl.ClusterName, name) {
			report.Pass(c.recorder, "cluster id "+name, "cluster exists", cl.ClusterID)
			return cl.ClusterID, nil
		}
	}
	report.Fail(c.recorder, "cluster id "+name, "cluster exists", "not found")
	return "", fmt.Errorf("%w: cluster %q", ErrNotFound, name)
}

// GetCluster returns the cluster details
func (c *Client) GetCluster(ctx context.Context, clusterID string) (*Cluster, error) {
	if err := required("cluster id", clusterID); err != nil {
		return nil, err
	}
	var out Cluster
	err := c.rest.GetJSON(ctx, "clusters/get", url.Values{"cluster_id": {clusterID}}, &out)
	if err := c.step("get cluster "+clusterID, err, out.State); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) clusterAction(ctx context.Context, action, clusterID string) error {
	if err := required("cluster id", clusterID); err != nil {
		return err
	}
	_, err := c.send(ctx, http.MethodPost, "clusters/"+action, map[string]string{"cluster_id": clusterID})
	if err == nil {
		c.logger.Info("cluster "+action, "cluster_id", clusterID)
	}
	return c.step(action+" cluster "+clusterID, err, clusterID)
}

// StartCluster starts a terminated cluster
func (c *Client) StartCluster(ctx context.Context, clusterID string) error {
	return c.clusterAction(ctx, "start", clusterID)
}

// RestartCluster restarts a running cluster
func (c *Client) RestartCluster(ctx context.Context, clusterID string) error {
	return c.clusterAction(ctx, "restart", clusterID)
}

// StopCluster terminates a cluster. Its configuration is kept.
func (c *Client) StopCluster(ctx context.Context, clusterID string) error {
	return c.clusterAction(ctx, "delete", clusterID)
}

// DeleteCluster permanently removes a cluster
func (c *Client) DeleteCluster(ctx context.Context, clusterID string) error {
	return c.clusterAction(ctx, "permanent-delete", clusterID)
}

// CreateCluster creates a cluster from a clusters/create payload and returns
// its id
func (c *Client) CreateCluster(ctx context.Context, payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: cluster payload is empty", ErrInvalidArgument)
	}
	doc, err := c.send(ctx, http.MethodPost, "clusters/create", payload)
	id := doc.Get("cluster_id").String()
	if err := c.step("create cluster", err, id); err != nil {
		return "", err
	}
	return id, nil
}

// AccessToken describes a personal access token
type AccessToken struct {
	TokenID      string `json:"token_id"`
	CreationTime int64  `json:"creation_time"`
	ExpiryTime   int64  `json:"expiry_time"`
	Comment      string `json:"comment"`
}

// CreatedToken is the reply of CreateAccessToken. Value is only returned once.
type CreatedToken struct {
	Value string      `json:"token_value"`
	Info  AccessToken `json:"token_info"`
}

// CreateAccessToken creates a personal access token. When username is set
// the call authenticates with basic auth instead of the client token.
func (c *Client) CreateAccessToken(ctx context.Context, username, password string, lifetimeSeconds int64, comment string) (*CreatedToken, error) {
	body := map[string]any{"lifetime_seconds": lifetimeSeconds, "comment": comment}
	var opts []restclient.RequestOption
	if username != "" {
		opts = append(opts, restclient.WithBasicAuth(username, password))
	}
	var out CreatedToken
	err := c.rest.SendJSON(ctx, http.MethodPost, "token/create", body, &out, opts...)
	if err := c.step("create access token", err, out.Info.TokenID); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAccessToken revokes a token by id
func (c *Client) DeleteAccessToken(ctx context.Context, tokenID string) error {
	if err := required("token id", tokenID); err != nil {
		return err
	}
	_, err := c.send(ctx, http.MethodPost, "token/delete", map[string]string{"token_id": tokenID})
	return c.step("delete access token "+tokenID, err, "deleted")
}

// GetTokenList lists the caller's tokens
func (c *Client) GetTokenList(ctx context.Context) ([]AccessToken, error) {
	doc, err := c.send(ctx, http.MethodGet, "token/list", nil)
	if err != nil {
		return nil, c.step("list access tokens", err, "")
	}
	var tokens []AccessToken
	if err := decodeInto(doc.Get("token_infos").Raw, &tokens); err != nil {
		return nil, err
	}
	report.Pass(c.recorder, "list access tokens", "success", fmt.Sprintf("%d tokens", len(tokens)))
	return tokens, nil
}
