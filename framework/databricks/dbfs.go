package databricks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
)

// FileInfo is one entry of a DBFS listing
type FileInfo struct {
	Path             string `json:"path"`
	IsDir            bool   `json:"is_dir"`
	FileSize         int64  `json:"file_size"`
	ModificationTime int64  `json:"modification_time"`
}

// ListDBFSFiles lists the contents of a DBFS directory
func (c *Client) ListDBFSFiles(ctx context.Context, dbfsPath string) ([]FileInfo, error) {
	if err := required("dbfs path", dbfsPath); err != nil {
		return nil, err
	}
	var out struct {
		Files []FileInfo `json:"files"`
	}
	err := c.rest.GetJSON(ctx, "dbfs/list", url.Values{"path": {dbfsPath}}, &out)
	if err := c.step("list dbfs "+dbfsPath, err, fmt.Sprintf("%d entries", len(out.Files))); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// UploadFilesInDBFS uploads a local file into the DBFS directory dbfsDir
// keeping its base name
func (c *Client) UploadFilesInDBFS(ctx context.Context, localPath, dbfsDir string, overwrite bool) (string, error) {
	name := filepath.Base(localPath)
	if localPath == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: file name missing from %q", ErrInvalidArgument, localPath)
	}
	if err := required("dbfs path", dbfsDir); err != nil {
		return "", err
	}
	target := strings.TrimRight(dbfsDir, "/") + "/" + name
	resp, err := c.rest.Do(ctx, http.MethodPost, "dbfs/put",
		restclient.WithFile("filefield", localPath, map[string]string{
			"path":      target,
			"overwrite": strconv.FormatBool(overwrite),
		}),
	)
	if err == nil && resp.StatusCode != http.StatusOK {
		err = &restclient.StatusError{Method: http.MethodPost, URL: c.BaseURL() + "/dbfs/put", StatusCode: resp.StatusCode, Body: resp.Text()}
	}
	if err := c.step("upload to dbfs "+target, err, target); err != nil {
		return "", err
	}
	c.logger.Info("uploaded file to dbfs", "local", localPath, "dbfs_path", target)
	return target, nil
}

// DeleteDBFSPath deletes a file, or a directory when recursive is set
func (c *Client) DeleteDBFSPath(ctx context.Context, dbfsPath string, recursive bool) error {
	if err := required("dbfs path", dbfsPath); err != nil {
		return err
	}
	_, err := c.send(ctx, http.MethodPost, "dbfs/delete", map[string]any{"path": dbfsPath, "recursive": recursive})
	return c.step("delete dbfs "+dbfsPath, err, "deleted")
}

// ReadDBFSFile reads length bytes at offset from a DBFS file. A length of
// 0 reads DefaultReadLength bytes.
func (c *Client) ReadDBFSFile(ctx context.Context, dbfsPath string, offset, length int64) ([]byte, error) {
	if err := required("dbfs path", dbfsPath); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset and length must not be negative", ErrInvalidArgument)
	}
	if length == 0 {
		length = DefaultReadLength
	}
	q := url.Values{
		"path":   {dbfsPath},
		"offset": {strconv.FormatInt(offset, 10)},
		"length": {strconv.FormatInt(length, 10)},
	}
	var out struct {
		BytesRead int64  `json:"bytes_read"`
		Data      string `json:"data"`
	}
	if err := c.step("read dbfs "+dbfsPath, c.rest.GetJSON(ctx, "dbfs/read", q, &out), ""); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dbfs data: %w", err)
	}
	return data, nil
}

// Language of a workspace notebook
type Language string

const (
	Python Language = "PYTHON"
	Scala  Language = "SCALA"
	SQL    Language = "SQL"
	R      Language = "R"
)

// CreateNotebook imports a local source file as a notebook at
// workspacePath. An empty language defaults to Python.
func (c *Client) CreateNotebook(ctx context.Context, localPath, workspacePath string, language Language) error {
	if err := required("workspace path", workspacePath); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read notebook source: %w", err)
	}
	if language == "" {
		language = Python
	}
	body := map[string]any{
		"path":      workspacePath,
		"format":    "SOURCE",
		"language":  language,
		"content":   base64.StdEncoding.EncodeToString(data),
		"overwrite": false,
	}
	_, err = c.send(ctx, http.MethodPost, "workspace/import", body)
	return c.step("create notebook "+workspacePath, err, workspacePath)
}

// CheckNotebook reports whether workspacePath holds a notebook
func (c *Client) CheckNotebook(ctx context.Context, workspacePath string) (bool, error) {
	if err := required("workspace path", workspacePath); err != nil {
		return false, err
	}
	var out struct {
		ObjectType string `json:"object_type"`
	}
	err := c.rest.GetJSON(ctx, "workspace/get-status", url.Values{"path": {workspacePath}}, &out)
	if restclient.StatusCode(err) == http.StatusNotFound {
		report.Fail(c.recorder, "check notebook "+workspacePath, "NOTEBOOK", "not found")
		return false, nil
	}
	if err != nil {
		report.Error(c.recorder, "check notebook "+workspacePath, err)
		return false, err
	}
	return report.Check(c.recorder, out.ObjectType == "NOTEBOOK", "check notebook "+workspacePath, "NOTEBOOK", out.ObjectType), nil
}

// DeleteNotebook deletes a notebook, or a folder when recursive is set
func (c *Client) DeleteNotebook(ctx context.Context, workspacePath string, recursive bool) error {
	if err := required("workspace path", workspacePath); err != nil {
		return err
	}
	_, err := c.send(ctx, http.MethodPost, "workspace/delete", map[string]any{"path": workspacePath, "recursive": recursive})
	return c.step("delete notebook "+workspacePath, err, "deleted")
}

func decodeInto(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
