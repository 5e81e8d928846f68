package notifications

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID        string    `json:"id"`
	Type      Severity  `json:"type"`
	Message   string    `json:"message"`
	Timeout   int64     `json:"timeout,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Center keeps the active notifications in memory and removes them once their timeout elapses
type Center struct {
	lock          sync.Mutex
	notifications []Notification
	timers        map[string]*time.Timer
	defaultTTL    time.Duration
}

type CenterOption func(*Center)

func WithDefaultAutoDismiss(d time.Duration) CenterOption {
	return func(c *Center) {
		c.defaultTTL = d
	}
}

func NewCenter(options ...CenterOption) *Center {
	c := Center{timers: map[string]*time.Timer{}, defaultTTL: DefaultAutoDismiss}
	for _, opt := range options {
		opt(&c)
	}
	return &c
}

// Notify stores the notification. A negative autoDismiss uses the default of the center.
func (c *Center) Notify(message string, severity Severity, autoDismiss time.Duration) {
	if autoDismiss < 0 {
		autoDismiss = c.defaultTTL
	}
	n := Notification{
		ID:        uuid.NewString(),
		Type:      severity,
		Message:   message,
		Timeout:   autoDismiss.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.notifications = append(c.notifications, n)
	if autoDismiss > 0 {
		id := n.ID
		c.timers[id] = time.AfterFunc(autoDismiss, func() { c.Dismiss(id) })
	}
	slog.Debug("NOTIFICATION CENTER", "message", "notification added", "id", n.ID, "severity", severity)
}

// List returns a copy of the active notifications, oldest first
func (c *Center) List() []Notification {
	c.lock.Lock()
	defer c.lock.Unlock()
	output := make([]Notification, len(c.notifications))
	copy(output, c.notifications)
	return output
}

// Dismiss removes the notification, it returns false if it was already gone
func (c *Center) Dismiss(id string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if timer, found := c.timers[id]; found {
		timer.Stop()
		delete(c.timers, id)
	}
	for i, n := range c.notifications {
		if n.ID == id {
			c.notifications = append(c.notifications[:i], c.notifications[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all notifications and stops their timers
func (c *Center) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.notifications = nil
}
