package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/cafex/cafex/framework/report"
)

// Handlers observe a SendMessages session. Nil handlers are skipped.
type Handlers struct {
	OnOpen    func()
	OnMessage func(message string)
	OnError   func(err error)
	OnClose   func(code int, text string)
}

// MultiOptions configure SendMessages
type MultiOptions struct {
	// Interval between two messages, DefaultMessageInterval when zero
	Interval time.Duration

	// DrainTimeout bounds the wait for replies after the last message,
	// DefaultDrainTimeout when zero
	DrainTimeout time.Duration

	Handlers Handlers
}

// SendMessages opens a fresh connection to socketURL, sends every message
// JSON encoded with Interval between them, closes the connection and
// returns every reply received until the server acknowledged the close.
func (c *Client) SendMessages(ctx context.Context, socketURL string, messages []any, opts MultiOptions) ([]string, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMessageInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	h := opts.Handlers
	step := fmt.Sprintf("websocket session with %d messages to %s", len(messages), socketURL)

	conn, err := c.Connect(ctx, socketURL)
	if err != nil {
		report.Error(c.recorder, step, err)
		return nil, err
	}
	defer conn.Close()
	if h.OnOpen != nil {
		h.OnOpen()
	}
	c.logger.Info("websocket session opened", "url", socketURL, "messages", len(messages))

	var (
		mu        sync.Mutex
		responses []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				code, text := gorilla.CloseNoStatusReceived, ""
				var ce *gorilla.CloseError
				if errors.As(err, &ce) {
					code, text = ce.Code, ce.Text
				} else if h.OnError != nil {
					h.OnError(err)
				}
				if h.OnClose != nil {
					h.OnClose(code, text)
				}
				return
			}
			msg := string(data)
			c.logger.Debug("websocket message received", "message", msg)
			mu.Lock()
			responses = append(responses, msg)
			mu.Unlock()
			if h.OnMessage != nil {
				h.OnMessage(msg)
			}
		}
	}()

	sendErr := c.sendAll(ctx, conn, messages, opts.Interval, done)

	deadline := time.Now().Add(opts.DrainTimeout)
	conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""), deadline)
	select {
	case <-done:
	case <-time.After(opts.DrainTimeout):
		c.logger.Warn("websocket server did not acknowledge close", "url", socketURL)
	case <-ctx.Done():
	}
	conn.Close()
	<-done

	mu.Lock()
	out := append([]string(nil), responses...)
	mu.Unlock()
	c.logger.Info("websocket session closed", "url", socketURL, "responses", len(out))

	if sendErr != nil {
		if h.OnError != nil {
			h.OnError(sendErr)
		}
		report.Error(c.recorder, step, sendErr)
		return out, sendErr
	}
	report.Pass(c.recorder, step, "messages sent", fmt.Sprintf("%d responses", len(out)))
	return out, nil
}

func (c *Client) sendAll(ctx context.Context, conn *gorilla.Conn, messages []any, interval time.Duration, readerDone <-chan struct{}) error {
	for i, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("%w: message %d is not JSON encodable: %v", ErrInvalidArgument, i, err)
		}
		if err := conn.WriteMessage(gorilla.TextMessage, data); err != nil {
			return fmt.Errorf("failed to send message %d: %w", i, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readerDone:
			if i < len(messages)-1 {
				return fmt.Errorf("%w after message %d", ErrClosed, i)
			}
		case <-time.After(interval):
		}
	}
	return nil
}
