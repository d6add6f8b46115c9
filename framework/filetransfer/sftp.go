package filetransfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"

	"github.com/cafex/cafex/framework/concurrent"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/sshclient"
)

// SFTPAuth selects how OpenSFTPConnection authenticates. When both are set
// the key is tried first.
type SFTPAuth struct {
	Password       string
	PrivateKeyPath string
}

// SFTPConn is an SFTP client over its own SSH transport. Transfers run in
// parallel up to the configured limit.
type SFTPConn struct {
	client   *sftp.Client
	ssh      *sshclient.Client
	limit    int
	logger   *slog.Logger
	recorder report.Recorder
}

// OpenSFTPConnection connects to host:port (22 when port is 0) and starts
// the sftp subsystem
func (u *Utils) OpenSFTPConnection(ctx context.Context, host string, port int, user string, auth SFTPAuth) (*SFTPConn, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: sftp host is required", ErrInvalidArgument)
	}
	if auth.Password == "" && auth.PrivateKeyPath == "" {
		return nil, fmt.Errorf("%w: a password or private key is required", ErrInvalidArgument)
	}

	b := sshclient.NewBuilder(user, host, port).WithTimeout(u.timeout).WithLogger(u.logger)
	if auth.PrivateKeyPath != "" {
		b = b.WithPrivateKeyPath(auth.PrivateKeyPath)
	}
	if auth.Password != "" {
		b = b.WithPassword(auth.Password)
	}
	sshClient, err := b.Build(ctx)
	if err != nil {
		u.logger.Error("sftp transport failed", "host", host, "port", port, "error", err)
		return nil, err
	}
	client, err := sftp.NewClient(sshClient.SSH())
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("start sftp subsystem on %s: %w", sshClient.Addr(), err)
	}
	u.logger.Info("sftp connection opened", "addr", sshClient.Addr(), "user", user)
	return &SFTPConn{
		client:   client,
		ssh:      sshClient,
		limit:    u.maxConcurrent,
		logger:   u.logger.With("protocol", "sftp", "addr", sshClient.Addr()),
		recorder: u.recorder,
	}, nil
}

// Client exposes the underlying sftp client
func (c *SFTPConn) Client() *sftp.Client {
	return c.client
}

// MakeDir creates dir and any missing parents
func (c *SFTPConn) MakeDir(dir string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("%w: sftp connection is nil", ErrInvalidArgument)
	}
	return c.client.MkdirAll(dir)
}

// GetDirInfo lists the regular files in dir with octal permissions and a
// "uid gid" owner
func (c *SFTPConn) GetDirInfo(ctx context.Context, dir string) (*DirInfo, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("%w: sftp connection is nil", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := c.client.ReadDir(dir)
	if err != nil {
		c.logger.Error("read directory failed", "dir", dir, "error", err)
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	info := &DirInfo{}
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		d := FileDetail{
			Name:         fi.Name(),
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
			Permissions:  fmt.Sprintf("%o", fi.Mode().Perm()),
		}
		if st, ok := fi.Sys().(*sftp.FileStat); ok {
			d.Owner = fmt.Sprintf("%d %d", st.UID, st.GID)
		}
		info.Files = append(info.Files, d)
	}
	info.Count = len(info.Files)
	return info, nil
}

// DownloadFiles copies files from remoteDir into localDir
func (c *SFTPConn) DownloadFiles(ctx context.Context, files []string, remoteDir, localDir string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("%w: sftp connection is nil", ErrInvalidArgument)
	}
	if err := ensureDir(localDir); err != nil {
		return err
	}
	err := concurrent.ForEachWithLimit(ctx, files, c.limit, func(_ context.Context, name string) error {
		return c.download(remoteJoin(remoteDir, name), filepath.Join(localDir, filepath.Base(name)))
	})
	if err != nil {
		c.logger.Error("download failed", "dir", remoteDir, "error", err)
		report.Error(c.recorder, "sftp download", err)
		return err
	}
	report.Pass(c.recorder, "sftp download", fmt.Sprintf("%d files", len(files)), fmt.Sprintf("%d files in %s", len(files), localDir))
	return nil
}

func (c *SFTPConn) download(remote, local string) error {
	src, err := c.client.Open(remote)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrTransfer, remote, err)
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: copy %s: %v", ErrTransfer, remote, err)
	}
	return dst.Close()
}

// UploadFiles copies files from localDir into remoteDir
func (c *SFTPConn) UploadFiles(ctx context.Context, files []string, localDir, remoteDir string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("%w: sftp connection is nil", ErrInvalidArgument)
	}
	err := concurrent.ForEachWithLimit(ctx, files, c.limit, func(_ context.Context, name string) error {
		return c.upload(filepath.Join(localDir, name), remoteJoin(remoteDir, filepath.Base(name)))
	})
	if err != nil {
		c.logger.Error("upload failed", "dir", remoteDir, "error", err)
		report.Error(c.recorder, "sftp upload", err)
		return err
	}
	report.Pass(c.recorder, "sftp upload", fmt.Sprintf("%d files", len(files)), fmt.Sprintf("%d files in %s", len(files), remoteDir))
	return nil
}

func (c *SFTPConn) upload(local, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := c.client.Create(remote)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrTransfer, remote, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: copy %s: %v", ErrTransfer, remote, err)
	}
	return dst.Close()
}

// Close closes the sftp client and its SSH transport
func (c *SFTPConn) Close() error {
	if c == nil || c.client == nil {
		return fmt.Errorf("%w: sftp connection cannot be nil", ErrInvalidArgument)
	}
	err := c.client.Close()
	if cerr := c.ssh.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close sftp connection: %w", err)
	}
	c.logger.Info("sftp connection closed")
	return nil
}
