// Package janus is a minimal client for the Janus WebRTC gateway WebSocket API.
// It opens sessions and plugin handles for calls and keeps them alive until
// the call ends.
package janus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

const subprotocol = "janus-protocol"

var (
	ErrNotConfigured = errors.New("janus websocket url is not configured")
	ErrDisconnected  = errors.New("janus connection closed")
)

// Error is a {"janus":"error"} reply.
type Error struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("janus error %d: %s", e.Code, e.Reason)
}

type message struct {
	Janus       string    `json:"janus"`
	Transaction string    `json:"transaction,omitempty"`
	SessionID   uint64    `json:"session_id,omitempty"`
	HandleID    uint64    `json:"handle_id,omitempty"`
	Plugin      string    `json:"plugin,omitempty"`
	Data        *dataBody `json:"data,omitempty"`
	Error       *Error    `json:"error,omitempty"`
}

type dataBody struct {
	ID uint64 `json:"id"`
}

// Handle identifies a session and the plugin handle attached to it.
type Handle struct {
	SessionID uint64
	HandleID  uint64
}

// Gateway is what the calling service needs from Janus.
type Gateway interface {
	Open(ctx context.Context) (Handle, error)
	Close(ctx context.Context, h Handle) error
	URL() string
}

type Client struct {
	url       string
	plugin    string
	keepalive time.Duration
	dialer    *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan message
	sessions map[uint64]struct{}

	writeMu sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

// NewClient returns a client for url. Sessions are kept alive every sessionTimeout/2.
func NewClient(url, plugin string, sessionTimeout time.Duration) *Client {
	interval := sessionTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Client{
		url:       url,
		plugin:    plugin,
		keepalive: interval,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{subprotocol},
			HandshakeTimeout: 10 * time.Second,
		},
		pending:  make(map[string]chan message),
		sessions: make(map[uint64]struct{}),
		stop:     make(chan struct{}),
	}
}

func (c *Client) URL() string {
	return c.url
}

// Connect dials the gateway if there is no live connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.url == "" {
		return ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial janus: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	c.once.Do(func() { go c.keepaliveLoop() })
	logrus.WithField("url", c.url).Info("Connected to Janus gateway")
	return nil
}

// Shutdown closes the connection and stops keepalives.
func (c *Client) Shutdown() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.drop(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
			default:
				logrus.WithError(err).Warn("Janus connection lost")
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithError(err).Warn("Invalid Janus message")
			continue
		}
		if msg.Transaction == "" {
			// Asynchronous plugin events and webrtcup/hangup notifications.
			logrus.WithFields(logrus.Fields{"janus": msg.Janus, "session_id": msg.SessionID}).Debug("Janus event")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.Transaction]
		if ok {
			delete(c.pending, msg.Transaction)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// drop forgets a dead connection and fails every request waiting on it.
func (c *Client) drop(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	for tx, ch := range c.pending {
		close(ch)
		delete(c.pending, tx)
	}
	c.sessions = make(map[uint64]struct{})
}

func (c *Client) request(ctx context.Context, req message) (message, error) {
	if err := c.Connect(ctx); err != nil {
		return message{}, err
	}

	req.Transaction = uuid.NewString()
	ch := make(chan message, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return message{}, ErrDisconnected
	}
	c.pending[req.Transaction] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.Transaction)
		return message{}, fmt.Errorf("janus %s: %w", req.Janus, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return message{}, ErrDisconnected
		}
		if resp.Janus == "error" && resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.Transaction)
		return message{}, ctx.Err()
	}
}

func (c *Client) forget(tx string) {
	c.mu.Lock()
	delete(c.pending, tx)
	c.mu.Unlock()
}

func (c *Client) CreateSession(ctx context.Context) (uint64, error) {
	resp, err := c.request(ctx, message{Janus: "create"})
	if err != nil {
		return 0, err
	}
	if resp.Data == nil {
		return 0, errors.New("janus create: missing session id")
	}
	c.mu.Lock()
	c.sessions[resp.Data.ID] = struct{}{}
	c.mu.Unlock()
	return resp.Data.ID, nil
}

func (c *Client) Attach(ctx context.Context, sessionID uint64, plugin string) (uint64, error) {
	resp, err := c.request(ctx, message{Janus: "attach", SessionID: sessionID, Plugin: plugin})
	if err != nil {
		return 0, err
	}
	if resp.Data == nil {
		return 0, errors.New("janus attach: missing handle id")
	}
	return resp.Data.ID, nil
}

func (c *Client) Detach(ctx context.Context, sessionID, handleID uint64) error {
	_, err := c.request(ctx, message{Janus: "detach", SessionID: sessionID, HandleID: handleID})
	return err
}

func (c *Client) Destroy(ctx context.Context, sessionID uint64) error {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	_, err := c.request(ctx, message{Janus: "destroy", SessionID: sessionID})
	return err
}

func (c *Client) KeepAlive(ctx context.Context, sessionID uint64) error {
	_, err := c.request(ctx, message{Janus: "keepalive", SessionID: sessionID})
	return err
}

// Open creates a session and attaches the configured plugin to it.
func (c *Client) Open(ctx context.Context) (Handle, error) {
	sessionID, err := c.CreateSession(ctx)
	if err != nil {
		return Handle{}, err
	}
	handleID, err := c.Attach(ctx, sessionID, c.plugin)
	if err != nil {
		if derr := c.Destroy(ctx, sessionID); derr != nil {
			logrus.WithError(derr).WithField("session_id", sessionID).Warn("Failed to destroy Janus session")
		}
		return Handle{}, err
	}
	return Handle{SessionID: sessionID, HandleID: handleID}, nil
}

// Close detaches the handle and destroys its session.
func (c *Client) Close(ctx context.Context, h Handle) error {
	var result error
	if err := c.Detach(ctx, h.SessionID, h.HandleID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Destroy(ctx, h.SessionID); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			ids := make([]uint64, 0, len(c.sessions))
			for id := range c.sessions {
				ids = append(ids, id)
			}
			c.mu.Unlock()

			for _, id := range ids {
				ctx, cancel := context.WithTimeout(context.Background(), c.keepalive/2)
				if err := c.KeepAlive(ctx, id); err != nil {
					logrus.WithError(err).WithField("session_id", id).Warn("Janus keepalive failed")
				}
				cancel()
			}
		}
	}
}
