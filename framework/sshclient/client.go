// Package sshclient opens SSH sessions used to run remote commands (hive,
// spark-sql, shell) and to copy files over SCP.
package sshclient

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ExitError reports a remote command that finished with a non-zero status
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

// Builder collects the connection settings for a Client
type Builder struct {
	user string
	host string
	port int

	password       *string
	agentSocket    *string
	privateKeyPath *string
	timeout        time.Duration
	logger         *slog.Logger
}

// NewBuilder creates a builder. Port 0 means 22.
func NewBuilder(user, host string, port int) *Builder {
	if port == 0 {
		port = 22
	}
	return &Builder{
		user:    user,
		host:    host,
		port:    port,
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
}

func (b *Builder) WithPassword(password string) *Builder {
	b.password = &password
	return b
}

func (b *Builder) WithAgent(socket string) *Builder {
	b.agentSocket = &socket
	return b
}

func (b *Builder) WithPrivateKeyPath(path string) *Builder {
	b.privateKeyPath = &path
	return b
}

func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *Builder) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if b.agentSocket != nil {
		conn, err := net.Dial("unix", *b.agentSocket)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't connect to ssh-agent")
		}
		signers, err := agent.NewClient(conn).Signers()
		if err != nil {
			return nil, errors.Wrap(err, "couldn't get signers from ssh-agent")
		}
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if b.privateKeyPath != nil {
		buffer, err := os.ReadFile(*b.privateKeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't read private key")
		}
		key, err := ssh.ParsePrivateKey(buffer)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't parse private key")
		}
		methods = append(methods, ssh.PublicKeys(key))
	}

	if b.password != nil {
		methods = append(methods, ssh.Password(*b.password))
	}

	if len(methods) == 0 {
		return nil, errors.New("one of password, agent or private key must be set")
	}
	return methods, nil
}

// Build dials the server
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	auth, err := b.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            b.user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106 - test hosts are not pinned
		Timeout:         b.timeout,
	}

	addr := net.JoinHostPort(b.host, strconv.Itoa(b.port))
	b.logger.Debug("dialing ssh server", "addr", addr, "user", b.user)

	dialer := net.Dialer{Timeout: b.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s failed", addr)
	}
	return &Client{client: ssh.NewClient(c, chans, reqs), addr: addr, logger: b.logger}, nil
}

// Client runs commands and copies files on one remote host
type Client struct {
	client *ssh.Client
	addr   string
	logger *slog.Logger
}

// Addr returns host:port of the remote server
func (c *Client) Addr() string {
	return c.addr
}

// RunCommand runs command and returns its combined output
func (c *Client) RunCommand(ctx context.Context, command string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "failed to create session")
	}
	defer session.Close()

	c.logger.Debug("running remote command", "addr", c.addr, "command", command)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
			session.Close()
		case <-done:
		}
	}()
	out, err := session.CombinedOutput(command)
	close(done)

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return string(out), ExitError{Command: command, ExitCode: exitErr.ExitStatus(), Output: string(out)}
		}
		if ctx.Err() != nil {
			return string(out), ctx.Err()
		}
		return string(out), errors.Wrap(err, "failed to run command")
	}
	return string(out), nil
}

// RunCommandOutput runs command and returns stdout and stderr separately
func (c *Client) RunCommandOutput(ctx context.Context, command string) (string, string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", "", errors.Wrap(err, "failed to create session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	c.logger.Debug("running remote command", "addr", c.addr, "command", command)
	if err := session.Start(command); err != nil {
		return "", "", errors.Wrap(err, "failed to start command")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), ctx.Err()
	case err = <-errCh:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), ExitError{Command: command, ExitCode: exitErr.ExitStatus(), Output: stderr.String()}
		}
		return stdout.String(), stderr.String(), errors.Wrap(err, "failed to run command")
	}
	return stdout.String(), stderr.String(), nil
}

// CopyToRemote copies a local file to remotePath with the given mode ("0644")
func (c *Client) CopyToRemote(ctx context.Context, localPath, remotePath, mode string) error {
	client, err := scp.NewClientBySSH(c.client)
	if err != nil {
		return errors.Wrap(err, "error creating SCP client")
	}
	defer client.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()

	if mode == "" {
		mode = "0644"
	}
	c.logger.Debug("copying file to remote host", "local", localPath, "remote", remotePath)
	if err := client.CopyFromFile(ctx, *f, remotePath, mode); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", localPath, remotePath)
	}
	return nil
}

// CopyFromRemote downloads remotePath into localPath
func (c *Client) CopyFromRemote(ctx context.Context, remotePath, localPath string) error {
	client, err := scp.NewClientBySSH(c.client)
	if err != nil {
		return errors.Wrap(err, "error creating SCP client")
	}
	defer client.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", localPath)
	}
	defer f.Close()

	c.logger.Debug("copying file from remote host", "remote", remotePath, "local", localPath)
	if err := client.CopyFromRemote(ctx, f, remotePath); err != nil {
		if strings.Contains(err.Error(), "No such file or directory") {
			return errors.Wrapf(os.ErrNotExist, "remote file %s", remotePath)
		}
		return errors.Wrapf(err, "failed to copy %s from remote host", remotePath)
	}
	return nil
}

// SSH exposes the underlying connection, e.g. for an SFTP subsystem
func (c *Client) SSH() *ssh.Client {
	return c.client
}

// Close closes the connection
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
