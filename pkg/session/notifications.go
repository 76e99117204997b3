package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/liquidvex/pkg/models"
)

const DefaultNotificationLimit = 50

// Notifications is the bounded toast list, newest first.
type Notifications struct {
	mu    sync.RWMutex
	items []models.Notification
	limit int
	now   func() time.Time
}

func NewNotifications(limit int) *Notifications {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	return &Notifications{limit: limit, now: time.Now}
}

func (n *Notifications) Push(level models.NotificationLevel, title, message string) models.Notification {
	item := models.Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Title:     title,
		Message:   message,
		CreatedAt: n.now().UTC(),
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append([]models.Notification{item}, n.items...)
	if len(n.items) > n.limit {
		n.items = n.items[:n.limit]
	}
	return item
}

// List returns the notifications that have not been dismissed, unless all
// is set.
func (n *Notifications) List(all bool) []models.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]models.Notification, 0, len(n.items))
	for _, item := range n.items {
		if all || !item.Dismissed {
			out = append(out, item)
		}
	}
	return out
}

func (n *Notifications) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.items {
		if n.items[i].ID == id {
			n.items[i].Dismissed = true
			return true
		}
	}
	return false
}

func (n *Notifications) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = nil
}
