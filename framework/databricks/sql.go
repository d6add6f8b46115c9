package databricks

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cafex/cafex/framework/database"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/resultlist"
)

// ClusterHTTPPath is the SQL endpoint path of an all-purpose cluster
func ClusterHTTPPath(workspaceID, clusterID string) string {
	return fmt.Sprintf("sql/protocolv1/o/%s/%s", workspaceID, clusterID)
}

// WarehouseHTTPPath is the SQL endpoint path of a SQL warehouse
func WarehouseHTTPPath(warehouseID string) string {
	return "/sql/1.0/warehouses/" + warehouseID
}

func (c *Client) openSQL(ctx context.Context, httpPath string) (*database.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: workspace url %q has no host", ErrInvalidArgument, c.url)
	}
	return c.db.Connect(ctx, database.Databricks, u.Hostname(), database.ConnectOptions{
		HTTPPath:    "/" + strings.TrimLeft(httpPath, "/"),
		AccessToken: c.token,
	})
}

// sqlConn returns the cached connection for httpPath, opening it on first use
func (c *Client) sqlConn(ctx context.Context, httpPath string) (*database.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.sql[httpPath]; ok {
		return conn, nil
	}
	open := c.openSQL
	if c.sqlOpener != nil {
		open = c.sqlOpener
	}
	conn, err := open(ctx, httpPath)
	if err != nil {
		return nil, err
	}
	c.sql[httpPath] = conn
	return conn, nil
}

// ExecuteHiveQuery runs a SELECT on the cluster or warehouse behind
// httpPath and returns the rows as a result list
func (c *Client) ExecuteHiveQuery(ctx context.Context, httpPath, query string) (resultlist.ResultList, error) {
	if err := required("http path", httpPath); err != nil {
		return nil, err
	}
	conn, err := c.sqlConn(ctx, httpPath)
	if err != nil {
		report.Error(c.recorder, "databricks sql connect", err)
		return nil, err
	}
	res, err := c.db.ExecuteStatement(ctx, conn, query, database.ReturnList)
	if err != nil {
		report.Error(c.recorder, "databricks sql query", err)
		return nil, err
	}
	c.logger.Debug("databricks query executed", "http_path", httpPath, "rows", res.List.RowCount())
	return res.List, nil
}
