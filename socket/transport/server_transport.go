package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/logs"
)

var ErrSendBufferFull = errors.New("send buffer full")

type ServerConfig struct {
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	BufferSize     int
	MaxMessageSize int64
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		BufferSize:     256,
		MaxMessageSize: 4096,
	}
}

// ServerConn is the hub side of one peer. Frames queued with Write are sent
// by a single write pump, which joins everything queued at the time of a
// write into one newline-separated text frame.
type ServerConn struct {
	id      string
	conn    *websocket.Conn
	sendCh  chan []byte
	closeCh chan struct{}
	writeWg sync.WaitGroup
	cfg     ServerConfig
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
}

func NewServerConn(id string, conn *websocket.Conn, cfg ServerConfig, log *zap.Logger) *ServerConn {
	if log == nil {
		log = logs.L().Named("ws")
	}
	t := &ServerConn{
		id:      id,
		conn:    conn,
		sendCh:  make(chan []byte, cfg.BufferSize),
		closeCh: make(chan struct{}),
		cfg:     cfg,
		log:     log.With(zap.String("conn_id", id)),
	}

	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}

	t.writeWg.Add(1)
	go t.writePump()

	return t
}

func (t *ServerConn) writePump() {
	defer t.writeWg.Done()

	var tick <-chan time.Time
	if t.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(t.cfg.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-t.closeCh:
			return
		case message := <-t.sendCh:
			if err := t.writeBatch(message); err != nil {
				t.log.Debug("write failed", zap.Error(err))
				go t.Close()
				return
			}
		case <-tick:
			t.setWriteDeadline()
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.log.Debug("ping failed", zap.Error(err))
				go t.Close()
				return
			}
		}
	}
}

func (t *ServerConn) writeBatch(first []byte) error {
	t.setWriteDeadline()

	w, err := t.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(first); err != nil {
		return err
	}

	n := len(t.sendCh)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
		if _, err := w.Write(<-t.sendCh); err != nil {
			return err
		}
	}
	return w.Close()
}

func (t *ServerConn) setWriteDeadline() {
	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
}

// Read blocks for the next text frame from the peer.
func (t *ServerConn) Read() ([]byte, error) {
	for {
		kind, message, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return message, nil
		}
	}
}

// Write queues data without blocking. A peer that cannot keep up is closed.
func (t *ServerConn) Write(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return ErrConnClosed
	}

	select {
	case t.sendCh <- data:
		return nil
	default:
		t.log.Warn("send buffer full, closing connection")
		go t.Close()
		return ErrSendBufferFull
	}
}

// CloseAfter closes the connection once d has elapsed, letting queued frames
// drain first.
func (t *ServerConn) CloseAfter(d time.Duration) {
	time.AfterFunc(d, func() { _ = t.Close() })
}

func (t *ServerConn) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()

	t.writeWg.Wait()

	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

func (t *ServerConn) ID() string {
	return t.id
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
