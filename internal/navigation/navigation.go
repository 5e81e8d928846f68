// Package navigation contains the redirect side effects and the route level authorization gate.
package navigation

import (
	"log/slog"
	"sync"
)

// Navigator sends the user to another surface of the application
type Navigator interface {
	RedirectTo(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) RedirectTo(path string) {
	f(path)
}

// History records every redirect, the last one is the current location
type History struct {
	lock    sync.Mutex
	entries []string
}

func NewHistory(initial string) *History {
	return &History{entries: []string{initial}}
}

func (h *History) RedirectTo(path string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	slog.Debug("NAVIGATION", "message", "redirecting", "from", h.current(), "to", path)
	h.entries = append(h.entries, path)
}

func (h *History) current() string {
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1]
}

func (h *History) Current() string {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.current()
}

// Entries returns every location visited so far
func (h *History) Entries() []string {
	h.lock.Lock()
	defer h.lock.Unlock()
	output := make([]string, len(h.entries))
	copy(output, h.entries)
	return output
}
