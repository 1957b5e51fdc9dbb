package api

import (
	"encoding/json"

	"github.com/kleeedolinux/chatsocket/socket"
)

const CodeOK = 200

// Envelope wraps every REST response. Code mirrors the HTTP status on
// failure and is 200 on success.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Page[T any] struct {
	List     []T   `json:"list"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// ChatSettings uses "0" and "1" for the mute flag.
type ChatSettings struct {
	MuteAll string `json:"chat_mute_all"`
}

func (s ChatSettings) Muted() bool {
	return s.MuteAll == "1"
}

func SettingsFor(muted bool) ChatSettings {
	if muted {
		return ChatSettings{MuteAll: "1"}
	}
	return ChatSettings{MuteAll: "0"}
}

type BroadcastRequest struct {
	Content  string `json:"content"`
	Priority int    `json:"priority"`
	Target   string `json:"target,omitempty"`
}

type KickRequest struct {
	ClientID string `json:"client_id"`
	Reason   string `json:"reason,omitempty"`
}

type MessagePage = Page[socket.ChatMessage]
