// Package network implements the websocket connection to the game server:
// dialing, the token handshake, and binary message transport.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandshakeOK is the reply the game sends for an accepted token.
const HandshakeOK = "Connection OK. Have Fun!"

const (
	defaultHandshakeTimeout = 5 * time.Second
	writeTimeout            = 10 * time.Second
	inboxSize               = 64

	// maxMessageSize caps one reply frame; a full terrain map is far smaller.
	maxMessageSize = 16 << 20
)

var (
	// ErrAuthFailed means the token was rejected or the handshake broke off.
	ErrAuthFailed = errors.New("network: authentication failed")
	// ErrClosed is returned after the connection has been closed.
	ErrClosed = errors.New("network: connection closed")
)

// DialOptions describes the game endpoint.
type DialOptions struct {
	Host             string
	Port             int
	Token            string
	HandshakeTimeout time.Duration
}

// URL returns the websocket URL of the game server.
func URL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Connection is an authenticated websocket session with the game server.
// A single goroutine reads frames into an inbox so that Receive can honor
// a context without touching the socket's read deadline.
type Connection struct {
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	url     string
	logger  zerolog.Logger

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// State
	closed  bool
	inbox   chan []byte
	stop    chan struct{}
	done    chan struct{}
	readErr error
}

// Dial connects to the game server and performs the token handshake.
func Dial(ctx context.Context, opts DialOptions) (*Connection, error) {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	url := URL(opts.Host, opts.Port)
	logger := log.With().Str("component", "connection").Str("url", url).Logger()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	logger.Info().Msg("authenticating connection")
	if err := authenticate(ws, opts.Token, timeout, logger); err != nil {
		ws.Close()
		return nil, err
	}

	ws.SetReadLimit(maxMessageSize)

	now := time.Now()
	c := &Connection{
		conn:         ws,
		url:          url,
		logger:       logger,
		connectedAt:  now,
		lastActivity: now,
		inbox:        make(chan []byte, inboxSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.readPump()

	logger.Info().Msg("connected to game server")
	return c, nil
}

// authenticate sends the token as a text frame and expects HandshakeOK.
func authenticate(ws *websocket.Conn, token string, timeout time.Duration, logger zerolog.Logger) error {
	deadline := time.Now().Add(timeout)
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(strings.ToLower(token))); err != nil {
		return fmt.Errorf("%w: connection error: %v", ErrAuthFailed, err)
	}

	ws.SetReadDeadline(deadline)
	_, reply, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: connection error: %v", ErrAuthFailed, err)
	}
	ws.SetReadDeadline(time.Time{})
	ws.SetWriteDeadline(time.Time{})

	logger.Info().Str("reply", string(reply)).Msg("server answered handshake")
	if string(reply) != HandshakeOK {
		return fmt.Errorf("%w: is the token correct?", ErrAuthFailed)
	}
	return nil
}

// DialWithRetry dials until it succeeds, ctx ends, or attempts run out.
// Authentication failures are not retried.
func DialWithRetry(ctx context.Context, opts DialOptions, attempts int, delay time.Duration) (*Connection, error) {
	var lastErr error
	for i := 1; attempts <= 0 || i <= attempts; i++ {
		conn, err := Dial(ctx, opts)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrAuthFailed) {
			return nil, err
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i).Msg("game server not reachable, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, lastErr)
}

func (c *Connection) readPump() {
	defer close(c.done)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.readErr = err
				c.logger.Warn().Err(err).Msg("connection lost")
			}
			c.mu.Unlock()
			return
		}
		if kind != websocket.BinaryMessage {
			c.logger.Debug().Str("text", string(data)).Msg("ignoring text frame")
			continue
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		select {
		case c.inbox <- data:
		case <-c.stop:
			return
		}
	}
}

// Send writes one binary message.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.IsClosed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// Receive returns the next binary message, or an error once ctx ends or
// the connection is gone. Messages already buffered are delivered first.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	default:
	}

	select {
	case data := <-c.inbox:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		select {
		case data := <-c.inbox:
			return data, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
		}
		return nil, ErrClosed
	}
}

// Close sends a close frame and shuts the socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	c.logger.Info().Msg("connection closed")
	return err
}

// IsClosed returns whether the connection has been closed or lost.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// URL returns the server URL.
func (c *Connection) URL() string {
	return c.url
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}
