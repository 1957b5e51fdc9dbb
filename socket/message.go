package socket

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type Kind string

const (
	KindMessage   Kind = "message"
	KindHistory   Kind = "history"
	KindUserJoin  Kind = "user_join"
	KindUserLeave Kind = "user_leave"
	KindUserList  Kind = "user_list"
	KindSystem    Kind = "system"
	KindKick      Kind = "kick"
)

// Kinds lists every inbound kind in dispatch-table order.
var Kinds = []Kind{KindMessage, KindHistory, KindUserJoin, KindUserLeave, KindUserList, KindSystem, KindKick}

// ChatMessage is a chat line as stored and broadcast by the hub.
type ChatMessage struct {
	ID          uint      `json:"id"`
	Content     string    `json:"content"`
	UserID      *uint     `json:"user_id,omitempty"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	IP          string    `json:"ip,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
	Priority    int       `json:"priority,omitempty"`
	IsBroadcast bool      `json:"is_broadcast,omitempty"`
	Target      string    `json:"target,omitempty"`
	Status      int       `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type OnlineInfo struct {
	OnlineCount int        `json:"online_count"`
	OnlineUsers []UserInfo `json:"online_users"`
}

// UnmarshalJSON also accepts a bare user array; the count is then its length.
func (o *OnlineInfo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var users []UserInfo
		if err := json.Unmarshal(data, &users); err != nil {
			return err
		}
		o.OnlineUsers = users
		o.OnlineCount = len(users)
		return nil
	}
	type plain OnlineInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = OnlineInfo(p)
	return nil
}

// SystemNotice is either a short hub notice (Message) or an admin broadcast
// carried as a full chat message.
type SystemNotice struct {
	Message string `json:"message,omitempty"`
	*ChatMessage
}

// Text returns whichever of the notice text or broadcast content is set.
func (n *SystemNotice) Text() string {
	if n.Message != "" || n.ChatMessage == nil {
		return n.Message
	}
	return n.Content
}

type Kick struct {
	Reason string `json:"reason"`
}

type (
	History   []ChatMessage
	UserJoin  UserInfo
	UserLeave UserInfo
)

// Payload is implemented only by the per-kind payload types of this package.
type Payload interface {
	Kind() Kind
	payload()
}

func (*ChatMessage) Kind() Kind  { return KindMessage }
func (*History) Kind() Kind      { return KindHistory }
func (*UserJoin) Kind() Kind     { return KindUserJoin }
func (*UserLeave) Kind() Kind    { return KindUserLeave }
func (*OnlineInfo) Kind() Kind   { return KindUserList }
func (*SystemNotice) Kind() Kind { return KindSystem }
func (*Kick) Kind() Kind         { return KindKick }

func (*ChatMessage) payload()  {}
func (*History) payload()      {}
func (*UserJoin) payload()     {}
func (*UserLeave) payload()    {}
func (*OnlineInfo) payload()   {}
func (*SystemNotice) payload() {}
func (*Kick) payload()         {}

type Message struct {
	Kind      Kind
	Payload   Payload
	Timestamp int64
}

type envelope struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func newPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindMessage:
		return &ChatMessage{}, nil
	case KindHistory:
		return &History{}, nil
	case KindUserJoin:
		return &UserJoin{}, nil
	case KindUserLeave:
		return &UserLeave{}, nil
	case KindUserList:
		return &OnlineInfo{}, nil
	case KindSystem:
		return &SystemNotice{}, nil
	case KindKick:
		return &Kick{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownKind, "kind %q", kind)
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	p, err := newPayload(kind)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "decode %s payload", kind)
	}
	return p, nil
}

// invalidMessageError matches ErrInvalidMessage and unwraps to the decode
// error.
type invalidMessageError struct {
	err error
}

func (e *invalidMessageError) Error() string {
	return ErrInvalidMessage.Error() + ": " + e.err.Error()
}

func (e *invalidMessageError) Is(target error) bool { return target == ErrInvalidMessage }

func (e *invalidMessageError) Unwrap() error { return e.err }

// ParseMessage decodes one JSON document.
func ParseMessage(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Message{}, &invalidMessageError{err: err}
	}
	p, err := decodePayload(env.Type, env.Data)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: env.Type, Payload: p, Timestamp: env.Timestamp}, nil
}

// ParseFrame splits a frame on newlines and decodes every non-blank line.
// Lines that fail are reported in the combined error and do not stop the
// remaining lines from being decoded.
func ParseFrame(frame []byte) ([]Message, error) {
	var (
		msgs []Message
		errs error
	)
	for i, line := range bytes.Split(frame, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "line %d", i+1))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

// EncodeMessage renders an inbound-shaped document, as written by the hub.
func EncodeMessage(p Payload, ts int64) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", p.Kind())
	}
	return json.Marshal(envelope{Type: p.Kind(), Data: data, Timestamp: ts})
}

// EncodeOutbound renders {"type":kind,...fields}. The kind always wins over a
// "type" key in fields.
func EncodeOutbound(kind Kind, fields map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = kind
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrapf(err, "encode outbound %s", kind)
	}
	return data, nil
}
