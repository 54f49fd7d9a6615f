package presence

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const HeartbeatInterval = 25 * time.Second

var pingFrame = []byte(": ping\n\n")

// Hub fans the active-session snapshot out to long-lived stream
// subscribers. Every subscriber gets the current snapshot immediately
// on subscribe and a heartbeat comment every 25s so proxies keep the
// connection open.
type Hub struct {
	cache             *Cache
	heartbeatInterval time.Duration

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
}

type Subscriber struct {
	hub    *Hub
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewHub(cache *Cache) *Hub {
	return &Hub{
		cache:             cache,
		heartbeatInterval: HeartbeatInterval,
		subscribers:       make(map[*Subscriber]struct{}),
	}
}

func (h *Hub) snapshotFrame() []byte {
	payload, err := json.Marshal(struct {
		Active []ActiveSession `json:"active"`
	}{Active: h.cache.Snapshot()})
	if err != nil {
		slog.Error("can't marshal active snapshot", "error", err)
		return nil
	}
	frame := make([]byte, 0, len(payload)+16)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame
}

// Registers a subscriber, queues the current snapshot so new
// dashboards render instantly, and starts its heartbeat.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		hub:    h,
		frames: make(chan []byte, 8),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	if frame := h.snapshotFrame(); frame != nil {
		sub.push(frame)
	}

	go func() {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sub.done:
				return
			case <-ticker.C:
				sub.push(pingFrame)
			}
		}
	}()

	return sub
}

// Serializes the current cache snapshot and sends it to every
// registered subscriber.
func (h *Hub) Publish() {
	frame := h.snapshotFrame()
	if frame == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		sub.push(frame)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// A slow consumer drops frames instead of blocking the publisher; the
// next publish carries the full snapshot anyway.
func (s *Subscriber) push(frame []byte) {
	select {
	case <-s.done:
	case s.frames <- frame:
	default:
	}
}

// Complete SSE frames ready to be written to the response.
func (s *Subscriber) Frames() <-chan []byte {
	return s.frames
}

// Stops the heartbeat and deregisters; no further publish targets
// this subscriber.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s)
		s.hub.mu.Unlock()
	})
}
