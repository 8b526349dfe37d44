// ABOUTME: Observer registry with best-effort fan-out and per-observer failure isolation
// ABOUTME: A failed send deregisters that observer; delivery to the rest continues

package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sendTimeout bounds a single observer delivery so one stalled transport
// cannot hold up the fan-out indefinitely.
const sendTimeout = 5 * time.Second

// Sender is the transport handle for one connected observer.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Hub tracks connected observers and pushes state-delta notifications.
// Delivery is best-effort: no acknowledgment is required, and a failure on
// one connection never aborts the broadcast.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]Sender
	logger    *slog.Logger
	metrics   Metrics
}

// Metrics receives delivery counts. The zero-value no-op is used when nil.
type Metrics interface {
	EventPublished(eventType string)
	DeliveryFailed()
}

type nopMetrics struct{}

func (nopMetrics) EventPublished(string) {}
func (nopMetrics) DeliveryFailed()       {}

// New creates an empty hub. Pass nil logger or metrics for defaults.
func New(logger *slog.Logger, metrics Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{
		observers: make(map[string]Sender),
		logger:    logger.With("component", "hub"),
		metrics:   metrics,
	}
}

// Subscribe registers an observer connection. Re-subscribing the same ID
// replaces the previous handle, closing it first.
func (h *Hub) Subscribe(connectionID string, handle Sender) {
	h.mu.Lock()
	prev, existed := h.observers[connectionID]
	h.observers[connectionID] = handle
	h.mu.Unlock()

	if existed && prev != handle {
		_ = prev.Close()
	}
	h.logger.Info("observer subscribed", "connection_id", connectionID, "total", h.Count())
}

// Unsubscribe removes and closes an observer connection. Idempotent.
func (h *Hub) Unsubscribe(connectionID string) {
	h.mu.Lock()
	handle, ok := h.observers[connectionID]
	delete(h.observers, connectionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = handle.Close()
	h.logger.Info("observer unsubscribed", "connection_id", connectionID, "remaining", h.Count())
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Publish delivers the event to every observer. Each send failure is
// isolated: the failing observer is deregistered and delivery continues.
func (h *Hub) Publish(ctx context.Context, event Event) {
	data, err := event.Encode()
	if err != nil {
		h.logger.Error("event encoding failed", "type", event.Type, "error", err)
		return
	}

	// Copy the observer set so sends happen outside the lock.
	h.mu.RLock()
	targets := make(map[string]Sender, len(h.observers))
	for id, handle := range h.observers {
		targets[id] = handle
	}
	h.mu.RUnlock()

	h.metrics.EventPublished(event.Type)
	if len(targets) == 0 {
		return
	}

	// Delivery must outlive the publishing request: a lead disconnecting
	// mid-chat would otherwise fail every send and wipe the observer set.
	// The per-send timeout still bounds stalled connections.
	base := context.WithoutCancel(ctx)

	var failed []string
	for id, handle := range targets {
		sendCtx, cancel := context.WithTimeout(base, sendTimeout)
		err := handle.Send(sendCtx, data)
		cancel()
		if err != nil {
			h.metrics.DeliveryFailed()
			h.logger.Warn("observer delivery failed, deregistering",
				"connection_id", id,
				"event_type", event.Type,
				"error", err,
			)
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		h.Unsubscribe(id)
	}

	h.logger.Debug("event published",
		"type", event.Type,
		"delivered", len(targets)-len(failed),
		"failed", len(failed),
	)
}

// Close deregisters and closes every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	observers := h.observers
	h.observers = make(map[string]Sender)
	h.mu.Unlock()

	for _, handle := range observers {
		_ = handle.Close()
	}
}
