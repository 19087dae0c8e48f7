package notify

import (
	"context"
	"sort"
	"sync"
)

// MemoryInbox is an InboxStore for deployments without a database.
type MemoryInbox struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{entries: make(map[string][]Entry)}
}

func (m *MemoryInbox) SaveNotification(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.RecipientID] = append(m.entries[e.RecipientID], e)
	return nil
}

func (m *MemoryInbox) ListNotifications(_ context.Context, recipientID string, unreadOnly bool, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries[recipientID] {
		if unreadOnly && e.Read {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryInbox) MarkRead(_ context.Context, recipientID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[recipientID]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}
