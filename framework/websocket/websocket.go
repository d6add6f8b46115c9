// Package websocket sends messages to WebSocket servers and collects their
// replies, either one request/response pair at a time or as a scripted
// sequence of JSON messages.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/cafex/cafex/framework/config"
	"github.com/cafex/cafex/framework/report"
)

var (
	// ErrInvalidArgument is returned for empty URLs and messages
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned when the server closed the connection before replying
	ErrClosed = errors.New("websocket connection closed")
)

const (
	// DefaultMessageInterval is the pause between messages of SendMessages
	DefaultMessageInterval = time.Second

	// DefaultDrainTimeout bounds the wait for the server's close reply
	DefaultDrainTimeout = 5 * time.Second
)

// Client holds one reusable connection for SendMessage
type Client struct {
	logger   *slog.Logger
	recorder report.Recorder
	dialer   *gorilla.Dialer
	header   http.Header

	mu   sync.Mutex
	conn *gorilla.Conn
	url  string
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets where report steps go
func WithRecorder(rec report.Recorder) Option {
	return func(c *Client) {
		c.recorder = report.OrNop(rec)
	}
}

// WithConfig applies the handshake timeout and TLS verification settings
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) {
		if cfg == nil {
			return
		}
		if cfg.HTTPTimeout > 0 {
			c.dialer.HandshakeTimeout = cfg.HTTPTimeout
		}
		if cfg.InsecureSkipVerify {
			c.dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}
}

// WithHeader adds a header to the opening handshake
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// New creates a Client
func New(opts ...Option) *Client {
	d := *gorilla.DefaultDialer
	c := &Client{
		logger:   slog.Default(),
		recorder: report.Nop{},
		dialer:   &d,
		header:   http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a new connection to socketURL. The caller owns it.
func (c *Client) Connect(ctx context.Context, socketURL string) (*gorilla.Conn, error) {
	if strings.TrimSpace(socketURL) == "" {
		return nil, fmt.Errorf("%w: socket URL is empty", ErrInvalidArgument)
	}
	conn, resp, err := c.dialer.DialContext(ctx, socketURL, c.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (handshake status %d)", err, resp.StatusCode)
		}
		c.logger.Error("websocket connection failed", "url", socketURL, "error", err)
		return nil, fmt.Errorf("failed to connect to %s: %w", socketURL, err)
	}
	c.logger.Debug("websocket connected", "url", socketURL)
	return conn, nil
}

// SendMessage sends message as a text frame and returns the next reply.
// The connection to socketURL is opened on first use and reused until Close
// or until a different URL is given.
func (c *Client) SendMessage(ctx context.Context, socketURL, message string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("%w: message is empty", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	step := "websocket message to " + socketURL
	if c.conn == nil || c.url != socketURL {
		c.closeLocked()
		conn, err := c.Connect(ctx, socketURL)
		if err != nil {
			report.Error(c.recorder, step, err)
			return "", err
		}
		c.conn, c.url = conn, socketURL
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		c.conn.SetReadDeadline(deadline)
		defer func() {
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Time{})
				c.conn.SetReadDeadline(time.Time{})
			}
		}()
	}
	if err := c.conn.WriteMessage(gorilla.TextMessage, []byte(message)); err != nil {
		c.closeLocked()
		err = fmt.Errorf("failed to send message: %w", err)
		report.Error(c.recorder, step, err)
		return "", err
	}
	_, reply, err := c.conn.ReadMessage()
	if err != nil {
		c.closeLocked()
		if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
			err = fmt.Errorf("%w: %v", ErrClosed, err)
		} else {
			err = fmt.Errorf("failed to read reply: %w", err)
		}
		report.Error(c.recorder, step, err)
		return "", err
	}
	report.Pass(c.recorder, step, "reply", string(reply))
	return string(reply), nil
}

// Close closes the connection kept by SendMessage
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn, c.url = nil, ""
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""), deadline)
	return conn.Close()
}
