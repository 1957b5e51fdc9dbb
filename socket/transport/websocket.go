package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/logs"
)

var ErrConnClosed = errors.New("connection closed")

// Conn is one established connection. Receive must only be called from a
// single goroutine; Send and Close are safe for concurrent use.
type Conn interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

type WebSocketTransport struct {
	url              string
	dialer           *websocket.Dialer
	headers          http.Header
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	compression      bool
	log              *zap.Logger
}

type WebSocketOption func(*WebSocketTransport)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

// WithBearerToken sends the token in the Authorization header in addition
// to whatever the endpoint query carries.
func WithBearerToken(token string) WebSocketOption {
	return func(t *WebSocketTransport) {
		if token != "" {
			t.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

func WithHandshakeTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.handshakeTimeout = timeout
	}
}

// WithReadTimeout bounds the wait for the next frame. Server pings push the
// deadline forward. Zero disables it.
func WithReadTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.writeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.compression = enabled
	}
}

func WithLogger(l *zap.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		if l != nil {
			t.log = l
		}
	}
}

func NewWebSocketTransport(url string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:              url,
		dialer:           websocket.DefaultDialer,
		headers:          make(http.Header),
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		log:              logs.L().Named("ws"),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocketTransport) URL() string {
	return t.url
}

// Connect dials a fresh connection every time it is called.
func (t *WebSocketTransport) Connect(ctx context.Context) (Conn, error) {
	t.log.Debug("dialing", zap.String("url", t.url))

	dialer := *t.dialer
	dialer.HandshakeTimeout = t.handshakeTimeout
	dialer.EnableCompression = t.compression

	conn, resp, err := dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		if resp != nil {
			err = errors.Wrapf(err, "handshake rejected with status %d", resp.StatusCode)
		} else {
			err = errors.Wrap(err, "dial")
		}
		t.log.Debug("dial failed", zap.Error(err))
		return nil, err
	}

	c := &WebSocketConn{
		conn:         conn,
		readTimeout:  t.readTimeout,
		writeTimeout: t.writeTimeout,
		log:          t.log,
	}
	if t.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		conn.SetPingHandler(c.handlePing)
	}

	t.log.Debug("connected", zap.String("url", t.url))
	return c, nil
}

type WebSocketConn struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	closed       bool
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          *zap.Logger
}

func (c *WebSocketConn) handlePing(appData string) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *WebSocketConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}

	c.log.Debug("send", zap.ByteString("data", data))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "write")
	}
	return nil
}

// Receive blocks for the next text frame.
func (c *WebSocketConn) Receive() ([]byte, error) {
	for {
		if c.readTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return nil, errors.Wrap(err, "set read deadline")
			}
		}
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug("read failed", zap.Error(err))
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.log.Debug("receive", zap.ByteString("data", message))
		return message, nil
	}
}

func (c *WebSocketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil {
		c.log.Debug("close handshake failed", zap.Error(err))
	}

	return c.conn.Close()
}

// IsCleanClose reports whether err is the peer closing normally, which the
// client surfaces as a close without a preceding error.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(errors.Cause(err), websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
