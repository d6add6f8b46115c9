package filetransfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/jlaffaye/ftp"

	"github.com/cafex/cafex/framework/report"
)

const defaultFTPPort = "21"

// ftpServerConn is the subset of *ftp.ServerConn the FTP facade drives
type ftpServerConn interface {
	ChangeDir(path string) error
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FTPConn is an authenticated FTP or FTPS session. A session runs one
// command at a time, so its transfers are sequential.
type FTPConn struct {
	conn     ftpServerConn
	addr     string
	logger   *slog.Logger
	recorder report.Recorder
}

func withDefaultPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

// OpenFTPConnection dials host (port 21 unless given) and logs in
func (u *Utils) OpenFTPConnection(ctx context.Context, host, user, password string) (*FTPConn, error) {
	return u.openFTP(ctx, host, user, password)
}

// OpenFTPSConnection dials host and upgrades the control connection with
// explicit TLS before logging in. A nil tlsConfig verifies against the
// system roots.
func (u *Utils) OpenFTPSConnection(ctx context.Context, host, user, password string, tlsConfig *tls.Config) (*FTPConn, error) {
	if tlsConfig == nil {
		h, _, err := net.SplitHostPort(withDefaultPort(host, defaultFTPPort))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		tlsConfig = &tls.Config{ServerName: h, MinVersion: tls.VersionTLS12}
	}
	return u.openFTP(ctx, host, user, password, ftp.DialWithExplicitTLS(tlsConfig))
}

func (u *Utils) openFTP(ctx context.Context, host, user, password string, extra ...ftp.DialOption) (*FTPConn, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: ftp host is required", ErrInvalidArgument)
	}
	if user == "" {
		return nil, fmt.Errorf("%w: ftp user is required", ErrInvalidArgument)
	}
	addr := withDefaultPort(host, defaultFTPPort)
	opts := append([]ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(u.timeout)}, extra...)

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		u.logger.Error("ftp dial failed", "addr", addr, "error", err)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		u.logger.Error("ftp login failed", "addr", addr, "user", user, "error", err)
		return nil, fmt.Errorf("login to %s as %s: %w", addr, user, err)
	}
	u.logger.Info("ftp connection opened", "addr", addr, "user", user)
	return u.newFTPConn(serverConn{conn}, addr), nil
}

func (u *Utils) newFTPConn(conn ftpServerConn, addr string) *FTPConn {
	return &FTPConn{
		conn:     conn,
		addr:     addr,
		logger:   u.logger.With("protocol", "ftp", "addr", addr),
		recorder: u.recorder,
	}
}

// GetDirInfo lists the regular files in dir. FTP listings carry no
// permissions or owner, so those fields stay empty.
func (c *FTPConn) GetDirInfo(ctx context.Context, dir string) (*DirInfo, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("%w: ftp connection is nil", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.conn.ChangeDir(dir); err != nil {
		c.logger.Error("change directory failed", "dir", dir, "error", err)
		return nil, fmt.Errorf("change directory to %s: %w", dir, err)
	}
	entries, err := c.conn.List("")
	if err != nil {
		c.logger.Error("list failed", "dir", dir, "error", err)
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	info := &DirInfo{}
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		info.Files = append(info.Files, FileDetail{
			Name:         e.Name,
			Size:         int64(e.Size),
			LastModified: e.Time,
		})
	}
	info.Count = len(info.Files)
	c.logger.Debug("directory listed", "dir", dir, "files", info.Count)
	return info, nil
}

// DownloadFiles retrieves files from remoteDir into localDir, creating
// localDir when missing. Every file is attempted.
func (c *FTPConn) DownloadFiles(ctx context.Context, files []string, remoteDir, localDir string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("%w: ftp connection is nil", ErrInvalidArgument)
	}
	if err := ensureDir(localDir); err != nil {
		return err
	}
	if err := c.conn.ChangeDir(remoteDir); err != nil {
		report.Error(c.recorder, "ftp download", err)
		return fmt.Errorf("change directory to %s: %w", remoteDir, err)
	}
	var errs []error
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.download(name, filepath.Join(localDir, filepath.Base(name))); err != nil {
			c.logger.Error("download failed", "file", name, "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		report.Error(c.recorder, "ftp download", err)
		return err
	}
	report.Pass(c.recorder, "ftp download", fmt.Sprintf("%d files", len(files)), fmt.Sprintf("%d files in %s", len(files), localDir))
	return nil
}

func (c *FTPConn) download(name, local string) error {
	rc, err := c.conn.Retr(name)
	if err != nil {
		return fmt.Errorf("%w: retrieve %s: %v", ErrTransfer, name, err)
	}
	defer rc.Close()

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("%w: copy %s: %v", ErrTransfer, name, err)
	}
	return f.Close()
}

// UploadFiles stores files from localDir into remoteDir
func (c *FTPConn) UploadFiles(ctx context.Context, files []string, localDir, remoteDir string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("%w: ftp connection is nil", ErrInvalidArgument)
	}
	if err := c.conn.ChangeDir(remoteDir); err != nil {
		report.Error(c.recorder, "ftp upload", err)
		return fmt.Errorf("change directory to %s: %w", remoteDir, err)
	}
	var errs []error
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.upload(filepath.Join(localDir, name), filepath.Base(name)); err != nil {
			c.logger.Error("upload failed", "file", name, "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		report.Error(c.recorder, "ftp upload", err)
		return err
	}
	report.Pass(c.recorder, "ftp upload", fmt.Sprintf("%d files", len(files)), fmt.Sprintf("%d files in %s", len(files), remoteDir))
	return nil
}

func (c *FTPConn) upload(local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := c.conn.Stor(remote, f); err != nil {
		return fmt.Errorf("%w: store %s: %v", ErrTransfer, remote, err)
	}
	return nil
}

// Close ends the session with QUIT
func (c *FTPConn) Close() error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("%w: ftp connection cannot be nil", ErrInvalidArgument)
	}
	if err := c.conn.Quit(); err != nil {
		c.logger.Error("quit failed", "error", err)
		return fmt.Errorf("close ftp connection: %w", err)
	}
	c.logger.Info("ftp connection closed")
	return nil
}
