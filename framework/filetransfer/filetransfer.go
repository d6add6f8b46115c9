// Package filetransfer moves files between the local machine and FTP, FTPS,
// SFTP and S3 compatible endpoints.
package filetransfer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/report"
)

var (
	// ErrInvalidArgument is returned for missing hosts, credentials or connections
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransfer wraps a failed upload or download
	ErrTransfer = errors.New("transfer failed")
)

// FileDetail describes one entry of a remote directory.
// Permissions and Owner are empty when the protocol does not expose them.
type FileDetail struct {
	Name         string    `json:"file name"`
	Size         int64     `json:"file size"`
	LastModified time.Time `json:"file last modified date"`
	Permissions  string    `json:"file permissions"`
	Owner        string    `json:"file owner"`
}

// DirInfo is the listing returned by GetDirInfo
type DirInfo struct {
	Count int
	Files []FileDetail
}

// Lookup returns the detail for name
func (d *DirInfo) Lookup(name string) (FileDetail, bool) {
	for _, f := range d.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileDetail{}, false
}

// Utils opens connections and carries the shared logger, recorder and
// transfer concurrency.
type Utils struct {
	logger        *slog.Logger
	recorder      report.Recorder
	maxConcurrent int
	timeout       time.Duration
}

// Option configures Utils
type Option func(*Utils)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(u *Utils) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithRecorder sets where report steps go
func WithRecorder(rec report.Recorder) Option {
	return func(u *Utils) {
		u.recorder = report.OrNop(rec)
	}
}

// WithConfig takes transfer concurrency and the dial timeout from cfg
func WithConfig(cfg *config.Config) Option {
	return func(u *Utils) {
		if cfg == nil {
			return
		}
		if cfg.MaxConcurrentTransfers > 0 {
			u.maxConcurrent = cfg.MaxConcurrentTransfers
		}
		if cfg.HTTPTimeout > 0 {
			u.timeout = cfg.HTTPTimeout
		}
	}
}

// WithMaxConcurrentTransfers bounds parallel uploads and downloads
func WithMaxConcurrentTransfers(n int) Option {
	return func(u *Utils) {
		if n > 0 {
			u.maxConcurrent = n
		}
	}
}

// New creates Utils with config defaults
func New(opts ...Option) *Utils {
	u := &Utils{
		logger:        slog.Default(),
		recorder:      report.Nop{},
		maxConcurrent: config.DefaultMaxConcurrentTransfers,
		timeout:       config.DefaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// remoteJoin joins remote path segments with forward slashes
func remoteJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
