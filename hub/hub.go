package hub

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kleeedolinux/chatsocket/logs"
	"github.com/kleeedolinux/chatsocket/socket"
	"github.com/kleeedolinux/chatsocket/socket/transport"
	"github.com/kleeedolinux/chatsocket/store"
)

const (
	SystemUsername = "system"
	DefaultReason  = "violated chat rules"

	mutedNotice   = "chat is muted, only admins can speak"
	tooFastNotice = "you are sending messages too fast"
)

var (
	ErrInvalidTarget = errors.New("target must be announcement, chat or both")
	ErrEmptyContent  = errors.New("content is empty")
)

type Config struct {
	HistoryLimit int           `mapstructure:"history_limit"`
	MessageRate  float64       `mapstructure:"message_rate"`
	MessageBurst int           `mapstructure:"message_burst"`
	KickDelay    time.Duration `mapstructure:"kick_delay"`
	MuteAll      bool          `mapstructure:"mute_all"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit: 50,
		MessageRate:  2,
		MessageBurst: 5,
		KickDelay:    500 * time.Millisecond,
	}
}

type Hub struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	seq   uint64

	store   store.MessageStore
	cfg     Config
	connCfg transport.ServerConfig
	muted   atomic.Bool
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithServerConfig(cfg transport.ServerConfig) Option {
	return func(h *Hub) {
		h.connCfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

func New(st store.MessageStore, cfg Config, opts ...Option) *Hub {
	h := &Hub{
		peers:   make(map[string]*Peer),
		store:   st,
		cfg:     cfg,
		connCfg: transport.DefaultServerConfig(),
		log:     logs.L().Named("hub"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.muted.Store(cfg.MuteAll)
	return h
}

func (h *Hub) SetMuted(muted bool) {
	if h.muted.Swap(muted) != muted {
		h.log.Info("mute setting changed", zap.Bool("mute_all", muted))
	}
}

func (h *Hub) Muted() bool {
	return h.muted.Load()
}

// identify resolves the peer identity from a signed token, then from the
// username query, then as a generated guest name.
func (h *Hub) identify(r *http.Request) Identity {
	q := r.URL.Query()
	id := Identity{Avatar: q.Get("avatar")}

	if token := bearerToken(r); token != "" {
		claims, err := ParseToken([]byte(h.cfg.JWTSecret), token)
		if err == nil {
			uid := claims.UserID
			id.UserID = &uid
			id.Username = claims.Username
			id.Role = claims.Role
		} else {
			h.log.Debug("ignoring chat token", zap.Error(err))
		}
	}

	if id.Username == "" {
		id.Username = strings.TrimSpace(q.Get("username"))
	}
	if id.Username == "" {
		id.Username = guestName()
	}
	return id
}

// ServeWS upgrades the request and serves the peer until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := h.identify(r)
	ip := clientIP(r)

	conn, err := transport.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err), zap.String("ip", ip))
		return
	}

	id := uuid.NewString()
	p := &Peer{
		id:       id,
		hub:      h,
		conn:     transport.NewServerConn(id, conn, h.connCfg, h.log),
		identity: identity,
		ip:       ip,
		limiter:  rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst),
		log:      h.log.With(zap.String("client_id", id), zap.String("username", identity.Username)),
	}

	h.join(r.Context(), p)
	p.readLoop()
	h.leave(p)
}

func (h *Hub) join(ctx context.Context, p *Peer) {
	history, err := h.store.Recent(ctx, h.cfg.HistoryLimit)
	if err != nil {
		h.log.Error("load history failed", zap.Error(err))
	}

	h.mu.Lock()
	h.seq++
	p.seq = h.seq
	h.peers[p.id] = p
	if err == nil {
		out := make(socket.History, len(history))
		for i, m := range history {
			out[i] = public(m)
		}
		p.send(&out, h.now())
	}
	h.mu.Unlock()

	p.log.Info("peer joined", zap.String("ip", p.ip))
	h.broadcast(&socket.UserJoin{ID: p.id, Username: p.identity.Username, Avatar: p.identity.Avatar})
	h.broadcastUserList()
}

func (h *Hub) leave(p *Peer) {
	h.mu.Lock()
	_, ok := h.peers[p.id]
	delete(h.peers, p.id)
	h.mu.Unlock()

	_ = p.conn.Close()
	if !ok {
		return
	}

	p.log.Info("peer left")
	h.broadcast(&socket.UserLeave{ID: p.id, Username: p.identity.Username})
	h.broadcastUserList()
}

func (h *Hub) broadcast(payload socket.Payload) {
	frame, err := socket.EncodeMessage(payload, h.now().UnixMilli())
	if err != nil {
		h.log.Error("encode broadcast failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := p.conn.Write(frame); err != nil {
			p.log.Debug("broadcast dropped", zap.Error(err))
		}
	}
}

func (h *Hub) broadcastUserList() {
	info := h.OnlineInfo()
	h.broadcast(&info)
}

// OnlineUsers lists connected people once each, in join order. A person
// connected several times is listed with their first connection.
func (h *Hub) OnlineUsers() []socket.UserInfo {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	slices.SortFunc(peers, func(a, b *Peer) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	seen := make(map[string]bool, len(peers))
	users := make([]socket.UserInfo, 0, len(peers))
	for _, p := range peers {
		key := p.identity.key()
		if seen[key] {
			continue
		}
		seen[key] = true
		users = append(users, socket.UserInfo{ID: p.id, Username: p.identity.Username, Avatar: p.identity.Avatar})
	}
	return users
}

func (h *Hub) OnlineInfo() socket.OnlineInfo {
	users := h.OnlineUsers()
	return socket.OnlineInfo{OnlineCount: len(users), OnlineUsers: users}
}

func (h *Hub) peer(clientID string) *Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[clientID]
}

// Kick tells the peer why and disconnects it after the configured delay. It
// reports whether the peer was connected.
func (h *Hub) Kick(clientID, reason string) bool {
	p := h.peer(clientID)
	if p == nil {
		return false
	}
	if reason == "" {
		reason = DefaultReason
	}

	p.send(&socket.Kick{Reason: reason}, h.now())
	p.conn.CloseAfter(h.cfg.KickDelay)
	p.log.Info("peer kicked", zap.String("reason", reason))
	return true
}

// BroadcastSystem stores an admin broadcast and, unless it targets only the
// announcement board, pushes it to every peer as a system notice.
func (h *Hub) BroadcastSystem(ctx context.Context, content string, priority int, target string) (*socket.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	switch target = strings.ToLower(strings.TrimSpace(target)); target {
	case "":
		target = store.TargetBoth
	case store.TargetAnnouncement, store.TargetChat, store.TargetBoth:
	default:
		return nil, ErrInvalidTarget
	}
	if priority != 1 {
		priority = 0
	}

	msg := &socket.ChatMessage{
		Content:     content,
		Username:    SystemUsername,
		Priority:    priority,
		Target:      target,
		IsBroadcast: true,
	}
	if err := h.store.Save(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "save broadcast")
	}

	if store.InChat(msg) {
		out := public(*msg)
		h.broadcast(&socket.SystemNotice{ChatMessage: &out})
	}
	h.log.Info("system broadcast", zap.Uint("id", msg.ID), zap.String("target", target))
	return msg, nil
}

func (h *Hub) Messages(ctx context.Context, page, size int, includeAnnouncements bool) ([]socket.ChatMessage, int64, error) {
	return h.store.List(ctx, page, size, includeAnnouncements)
}

func (h *Hub) DeleteMessage(ctx context.Context, id uint) error {
	return h.store.Delete(ctx, id)
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*Peer)
	h.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}

func public(m socket.ChatMessage) socket.ChatMessage {
	m.IP = ""
	return m
}
