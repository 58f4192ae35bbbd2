// Package ws is the WebSocket transport of the hub: one Client per socket,
// a read pump feeding hub.Dispatch and a write pump draining the bounded send
// buffer. Client implements registry.Conn.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/hub"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/registry"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// на закрытии дописываем то, что уже в буфере, но не дольше
	flushWait = time.Second
)

var (
	ErrClosed     = errors.New("ws: connection closed")
	ErrBufferFull = errors.New("ws: send buffer full")
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Dispatcher is the part of the hub a socket talks to.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn registry.Conn, sessionID string, cmd hub.Command) (string, error)
	Reject(conn registry.Conn, cmd hub.CommandType, err error)
	Disconnect(sessionID string)
}

type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func (o *Options) setDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16384
	}
}

// Client represents a single WebSocket connection.
// Lifecycle: NewClient -> Start(ctx) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub  Dispatcher
	conn *websocket.Conn
	opts Options
	send chan model.Event

	// sessionID is owned by readPump.
	sessionID string
	remote    string

	// done is used as a non-blocking guard in Send.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(d Dispatcher, conn *websocket.Conn, opts Options) *Client {
	opts.setDefaults()
	return &Client{
		hub:    d,
		conn:   conn,
		opts:   opts,
		send:   make(chan model.Event, opts.SendBuffer),
		remote: conn.RemoteAddr().String(),
		done:   make(chan struct{}),
	}
}

// Start launches readPump and writePump. ctx bounds the pumps' lifetime.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Send enqueues ev without blocking.
func (c *Client) Send(ev model.Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close signals the client to stop. Safe to call multiple times from any
// goroutine. Events already queued are flushed before the socket closes.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// readPump reads commands from the WebSocket connection.
// Exits on read error (triggered by writePump closing the socket) or Close.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Disconnect(c.sessionID)
		c.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline remote=%s: %v", c.remote, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("ws read error remote=%s: %v", c.remote, err)
			}
			return
		}
		// любое входящее сообщение продлевает read deadline
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd hub.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.hub.Reject(c, "", failure.Validation("ws.read", "malformed command: %v", err))
			continue
		}
		next, err := c.hub.Dispatch(ctx, c, c.sessionID, cmd)
		c.sessionID = next
		if err == nil && cmd.Type == hub.CmdDisconnect {
			return
		}
	}
}

// writePump writes events to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(flushWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
				logger.Debugf("ws close message remote=%s: %v", c.remote, err)
			}
			return
		case ev := <-c.send:
			if err := c.write(ev, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline remote=%s: %v", c.remote, err)
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// flush writes whatever is still queued, bounded by flushWait.
func (c *Client) flush() {
	deadline := time.Now().Add(flushWait)
	for {
		select {
		case ev := <-c.send:
			if err := c.write(ev, deadline); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(ev model.Event, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(ev); err != nil {
		logger.Errorf("ws marshal %s remote=%s: %v", ev.Type, c.remote, err)
		return nil
	}
	data := buf.Bytes()
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
