package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kleeedolinux/chatsocket/socket"
)

const (
	StatusDeleted = 0
	StatusVisible = 1
)

// Broadcast targets. An empty target counts as both.
const (
	TargetChat         = "chat"
	TargetAnnouncement = "announcement"
	TargetBoth         = "both"
)

var ErrNotFound = errors.New("message not found")

// MessageStore keeps chat history. Deleted messages are hidden, not removed.
type MessageStore interface {
	// Save assigns the id, timestamps and visible status.
	Save(ctx context.Context, msg *socket.ChatMessage) error
	// Recent returns up to limit chat-visible messages, oldest first.
	Recent(ctx context.Context, limit int) ([]socket.ChatMessage, error)
	// List pages through visible messages, newest first. Announcement-only
	// broadcasts are left out unless includeAnnouncements is set.
	List(ctx context.Context, page, size int, includeAnnouncements bool) ([]socket.ChatMessage, int64, error)
	Delete(ctx context.Context, id uint) error
	Close() error
}

// InChat reports whether msg belongs in the chat stream rather than only on
// the announcement board.
func InChat(msg *socket.ChatMessage) bool {
	if !msg.IsBroadcast {
		return true
	}
	switch msg.Target {
	case "", TargetChat, TargetBoth:
		return true
	}
	return false
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
