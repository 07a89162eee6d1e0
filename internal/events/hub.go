// Package events fans workspace and run notifications out to subscribers.
package events

import (
	"sync"
	"time"

	"codepad/apps/editor/internal/metrics"
)

const (
	TypeFileOpened      = "file_opened"
	TypeFileSaved       = "file_saved"
	TypeFileCreated     = "file_created"
	TypeFileDeleted     = "file_deleted"
	TypeFileRenamed     = "file_renamed"
	TypeDirectoryOpened = "directory_opened"
	TypeFSChange        = "fs_change"
	TypeRunStarted      = "run_started"
	TypeRunExited       = "run_exited"
	TypeConfigUpdated   = "config_updated"
)

const subscriberBuffer = 64

type Event struct {
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	OldPath   string `json:"old_path,omitempty"`
	Op        string `json:"op,omitempty"`
	Session   string `json:"session,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	now         func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		now:         time.Now,
	}
}

// Subscribe registers a buffered channel. Callers must Unsubscribe it.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	metrics.SetEventSubscribers(n)
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
	n := len(h.subscribers)
	h.mu.Unlock()
	metrics.SetEventSubscribers(n)
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = h.now().UnixMilli()
	}
	h.mu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	h.mu.RUnlock()
	metrics.RecordEvent(event.Type)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close drops every subscriber, which ends their stream handlers.
func (h *Hub) Close() {
	h.mu.Lock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.mu.Unlock()
	metrics.SetEventSubscribers(0)
}
