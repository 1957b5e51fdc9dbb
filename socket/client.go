package socket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/logs"
	"github.com/kleeedolinux/chatsocket/socket/transport"
)

const (
	DefaultReconnectDelay    = 3 * time.Second
	DefaultReconnectAttempts = 5
	DefaultHeartbeatInterval = 30 * time.Second
)

type HeartbeatFunc func(c *Client)

type Client struct {
	mu     sync.Mutex
	id     string
	dialer Transport
	conn   Conn
	events *Emitter
	log    *zap.Logger

	state    State
	gen      uint64
	attempts int

	reconnectDelay    time.Duration
	reconnectAttempts int
	reconnectTimer    *time.Timer
	timerSeq          uint64

	heartbeatInterval time.Duration
	heartbeat         HeartbeatFunc
	heartbeatStop     chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
}

type ClientOption func(*Client)

func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

func WithReconnectAttempts(attempts int) ClientOption {
	return func(c *Client) {
		c.reconnectAttempts = attempts
	}
}

// WithHeartbeat sets the keepalive interval and the hook run on each tick
// while the connection is open. A nil hook only logs.
func WithHeartbeat(interval time.Duration, fn HeartbeatFunc) ClientOption {
	return func(c *Client) {
		c.heartbeatInterval = interval
		c.heartbeat = fn
	}
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEmitter shares a listener table between clients.
func WithEmitter(e *Emitter) ClientOption {
	return func(c *Client) {
		if e != nil {
			c.events = e
		}
	}
}

func NewClient(t Transport, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		id:                uuid.NewString(),
		dialer:            t,
		events:            NewEmitter(),
		log:               logs.L().Named("chat"),
		reconnectDelay:    DefaultReconnectDelay,
		reconnectAttempts: DefaultReconnectAttempts,
		heartbeatInterval: DefaultHeartbeatInterval,
		ctx:               ctx,
		cancelFunc:        cancel,
	}

	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("client_id", c.id))

	return c
}

// NewChatClient dials endpoint over WebSocket with default transport
// settings. Use NewClient with a configured transport for anything else.
func NewChatClient(endpoint string, opts ...ClientOption) *Client {
	return NewClient(transport.NewWebSocketTransport(endpoint), opts...)
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.state == StateOpen
}

// Attempts is the number of automatic reconnects made since the last
// successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens a connection and returns once it is open or has failed. A
// failure is also reported through the error and close events and, like an
// unexpected close, schedules automatic reconnects. Connect after Close
// starts a new lineage with a fresh attempt budget.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnecting
	case StateClosed:
		c.ctx, c.cancelFunc = context.WithCancel(context.Background())
	}
	c.attempts = 0
	gen, lineage := c.beginLocked()
	c.mu.Unlock()

	return c.dial(ctx, gen, lineage)
}

func (c *Client) beginLocked() (uint64, context.Context) {
	c.stopReconnectTimerLocked()
	c.gen++
	c.state = StateConnecting
	return c.gen, c.ctx
}

func (c *Client) dial(ctx context.Context, gen uint64, lineage context.Context) error {
	dialCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(lineage, cancel)
	conn, err := c.dialer.Connect(dialCtx)
	stop()
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClientClosed
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("connect failed", zap.Error(err))
		c.events.Emit(EventError, err)
		c.handleClose(gen)
		return err
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	var hbStop chan struct{}
	if c.heartbeatInterval > 0 {
		hbStop = make(chan struct{})
		c.heartbeatStop = hbStop
	}
	c.mu.Unlock()

	c.log.Info("connected")
	if hbStop != nil {
		go c.heartbeatLoop(gen, hbStop)
	}
	c.events.Emit(EventOpen, nil)
	go c.receiveLoop(gen, conn)
	return nil
}

func (c *Client) receiveLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.Receive()
		if err != nil {
			if !c.isCurrent(gen) {
				return
			}
			if !transport.IsCleanClose(err) {
				c.log.Warn("connection lost", zap.Error(err))
				c.events.Emit(EventError, err)
			}
			c.handleClose(gen)
			return
		}
		c.dispatchFrame(gen, data)
	}
}

func (c *Client) dispatchFrame(gen uint64, frame []byte) {
	msgs, err := ParseFrame(frame)
	for _, e := range multierr.Errors(err) {
		c.log.Warn("dropping malformed message", zap.Error(e))
	}
	for _, m := range msgs {
		if !c.isCurrent(gen) {
			return
		}
		c.events.Emit(KindEvent(m.Kind), m.Payload)
		c.events.Emit(EventAnyMessage, m)
	}
}

// handleClose tears down the connection of generation gen after it failed
// or was closed by the peer, then schedules a reconnect.
func (c *Client) handleClose(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.log.Info("disconnected")
	c.events.Emit(EventClose, nil)
	c.scheduleReconnect(gen)
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateIdle || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.reconnectAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		c.log.Warn("giving up reconnecting", zap.Int("attempts", attempts))
		c.events.Emit(EventReconnectFailed, attempts)
		return
	}

	c.attempts++
	c.state = StateReconnectWait
	c.timerSeq++
	seq := c.timerSeq
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.fireReconnect(seq)
	})
	attempt, limit := c.attempts, c.reconnectAttempts
	c.mu.Unlock()

	c.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", limit),
		zap.Duration("delay", c.reconnectDelay))
}

func (c *Client) fireReconnect(seq uint64) {
	c.mu.Lock()
	if c.reconnectTimer == nil || seq != c.timerSeq || c.state != StateReconnectWait {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	gen, lineage := c.beginLocked()
	c.mu.Unlock()

	if err := c.dial(context.Background(), gen, lineage); err != nil {
		c.log.Debug("reconnect attempt failed", zap.Error(err))
	}
}

func (c *Client) heartbeatLoop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.isCurrent(gen) {
				return
			}
			if c.heartbeat == nil {
				c.log.Debug("heartbeat")
				continue
			}
			c.heartbeat(c)
		}
	}
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.state == StateOpen
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// Close stops reconnecting, stops the heartbeat and closes the connection.
// It is safe to call more than once. The close event fires only when an
// open connection was torn down.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}

	c.state = StateClosed
	c.gen++
	c.stopReconnectTimerLocked()
	c.stopHeartbeatLocked()
	c.cancelFunc()

	conn := c.conn
	c.conn = nil
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.mu.Unlock()

	if conn != nil {
		c.log.Info("closed")
		c.events.Emit(EventClose, nil)
	}
	return err
}

// Send writes {"type":kind,...fields} as one text frame. When no connection
// is open the frame is dropped and ErrNotConnected returned.
func (c *Client) Send(kind Kind, fields map[string]any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.log.Warn("dropping outbound message, not connected", zap.String("type", string(kind)))
		return ErrNotConnected
	}

	data, err := EncodeOutbound(kind, fields)
	if err != nil {
		c.log.Error("encode outbound message", zap.Error(err))
		return err
	}
	if err := conn.Send(data); err != nil {
		c.log.Warn("send failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) SendMessage(content string) error {
	return c.Send(KindMessage, map[string]any{"content": content})
}

func (c *Client) On(event Event, fn Handler) ListenerID {
	return c.events.On(event, fn)
}

func (c *Client) Off(event Event, ids ...ListenerID) {
	c.events.Off(event, ids...)
}

func (c *Client) OnOpen(fn func()) ListenerID {
	return c.On(EventOpen, func(any) { fn() })
}

func (c *Client) OnClose(fn func()) ListenerID {
	return c.On(EventClose, func(any) { fn() })
}

func (c *Client) OnError(fn func(error)) ListenerID {
	return c.On(EventError, func(data any) {
		if err, ok := data.(error); ok {
			fn(err)
		}
	})
}

func (c *Client) OnReconnectFailed(fn func(attempts int)) ListenerID {
	return c.On(EventReconnectFailed, func(data any) {
		n, _ := data.(int)
		fn(n)
	})
}

func (c *Client) OnAnyMessage(fn func(Message)) ListenerID {
	return c.On(EventAnyMessage, func(data any) {
		if m, ok := data.(Message); ok {
			fn(m)
		}
	})
}

func (c *Client) OnChatMessage(fn func(*ChatMessage)) ListenerID {
	return c.On(KindEvent(KindMessage), func(data any) {
		if m, ok := data.(*ChatMessage); ok {
			fn(m)
		}
	})
}

func (c *Client) OnHistory(fn func(History)) ListenerID {
	return c.On(KindEvent(KindHistory), func(data any) {
		if h, ok := data.(*History); ok {
			fn(*h)
		}
	})
}

func (c *Client) OnUserJoin(fn func(UserInfo)) ListenerID {
	return c.On(KindEvent(KindUserJoin), func(data any) {
		if u, ok := data.(*UserJoin); ok {
			fn(UserInfo(*u))
		}
	})
}

func (c *Client) OnUserLeave(fn func(UserInfo)) ListenerID {
	return c.On(KindEvent(KindUserLeave), func(data any) {
		if u, ok := data.(*UserLeave); ok {
			fn(UserInfo(*u))
		}
	})
}

func (c *Client) OnUserList(fn func(*OnlineInfo)) ListenerID {
	return c.On(KindEvent(KindUserList), func(data any) {
		if info, ok := data.(*OnlineInfo); ok {
			fn(info)
		}
	})
}

func (c *Client) OnSystem(fn func(*SystemNotice)) ListenerID {
	return c.On(KindEvent(KindSystem), func(data any) {
		if n, ok := data.(*SystemNotice); ok {
			fn(n)
		}
	})
}

func (c *Client) OnKick(fn func(*Kick)) ListenerID {
	return c.On(KindEvent(KindKick), func(data any) {
		if k, ok := data.(*Kick); ok {
			fn(k)
		}
	})
}
