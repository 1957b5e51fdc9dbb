package store

import (
	"context"
	"sync"
	"time"

	"github.com/kleeedolinux/chatsocket/socket"
)

type MemoryStore struct {
	mu       sync.RWMutex
	messages []socket.ChatMessage
	nextID   uint
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, msg *socket.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC().Truncate(time.Millisecond)
	msg.ID = s.nextID
	msg.Status = StatusVisible
	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]socket.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []socket.ChatMessage
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.Status == StatusVisible && InChat(&m) {
			out = append(out, m)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, page, size int, includeAnnouncements bool) ([]socket.ChatMessage, int64, error) {
	page, size = normalizePage(page, size)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []socket.ChatMessage
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Status != StatusVisible {
			continue
		}
		if !includeAnnouncements && !InChat(&m) {
			continue
		}
		matched = append(matched, m)
	}

	total := int64(len(matched))
	start := (page - 1) * size
	if start >= len(matched) {
		return []socket.ChatMessage{}, total, nil
	}
	end := min(start+size, len(matched))
	return matched[start:end], total, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id && s.messages[i].Status == StatusVisible {
			s.messages[i].Status = StatusDeleted
			s.messages[i].UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) Close() error {
	return nil
}
