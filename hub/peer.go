package hub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kleeedolinux/chatsocket/socket"
	"github.com/kleeedolinux/chatsocket/socket/transport"
)

type Peer struct {
	id       string
	seq      uint64
	hub      *Hub
	conn     *transport.ServerConn
	identity Identity
	ip       string
	limiter  *rate.Limiter
	log      *zap.Logger
}

type inbound struct {
	Type    socket.Kind `json:"type"`
	Content string      `json:"content"`
}

func (p *Peer) readLoop() {
	for {
		data, err := p.conn.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		p.handle(data)
	}
}

func (p *Peer) handle(data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		p.log.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	switch in.Type {
	case socket.KindMessage:
		p.handleMessage(in.Content)
	default:
		p.log.Debug("ignoring frame", zap.String("type", string(in.Type)))
	}
}

func (p *Peer) handleMessage(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}

	h := p.hub
	if !p.identity.IsAdmin() && h.Muted() {
		p.notice(mutedNotice)
		return
	}
	if !p.limiter.Allow() {
		p.notice(tooFastNotice)
		return
	}

	ip := p.ip
	if ip == "" {
		ip = "unknown"
	}
	msg := &socket.ChatMessage{
		Content:  content,
		UserID:   p.identity.UserID,
		Username: p.identity.Username,
		Avatar:   p.identity.Avatar,
		IP:       ip,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.Save(ctx, msg); err != nil {
		p.log.Error("save message failed", zap.Error(err))
		return
	}

	out := public(*msg)
	out.ClientID = p.id
	h.broadcast(&out)
}

func (p *Peer) notice(text string) {
	p.send(&socket.SystemNotice{Message: text}, p.hub.now())
}

func (p *Peer) send(payload socket.Payload, now time.Time) {
	frame, err := socket.EncodeMessage(payload, now.UnixMilli())
	if err != nil {
		p.log.Error("encode frame failed", zap.Error(err))
		return
	}
	if err := p.conn.Write(frame); err != nil {
		p.log.Debug("frame dropped", zap.Error(err))
	}
}
