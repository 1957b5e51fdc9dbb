package socket

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kleeedolinux/chatsocket/socket/transport"
)

type Event string

const (
	EventOpen            Event = "open"
	EventClose           Event = "close"
	EventError           Event = "error"
	EventAnyMessage      Event = "ws:message"
	EventReconnectFailed Event = "reconnect_failed"
)

// KindEvent is the event a message of kind k is delivered on.
func KindEvent(k Kind) Event {
	return Event(k)
}

type Conn = transport.Conn

// Transport opens connections. Each successful Connect returns a new Conn
// owned by the caller.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// State is the lifecycle position of a Client.
//
//	Idle          -> Connecting     Connect
//	Connecting    -> Open           transport opened
//	Connecting    -> ReconnectWait  dial failed, attempts left
//	Open          -> ReconnectWait  unexpected close, attempts left
//	ReconnectWait -> Connecting     reconnect timer fired
//	*             -> Idle           attempts exhausted
//	*             -> Closed         Close
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnectWait
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectWait:
		return "reconnect_wait"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected   = errors.New("socket not connected")
	ErrClientClosed   = errors.New("socket closed by client")
	ErrConnecting     = errors.New("socket connect already in progress")
	ErrInvalidMessage = errors.New("invalid message format")
	ErrUnknownKind    = errors.New("unknown message kind")
)
