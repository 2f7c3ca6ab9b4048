package channel

import (
	"log/slog"
	"sync"
)

// Conn is a client connection able to receive messages.
type Conn interface {
	Send(Message) error
	Open() bool
}

// Sink receives the events of one execution. Send never fails; delivery is
// best effort.
type Sink interface {
	Send(Message)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Message)

func (f SinkFunc) Send(m Message) { f(m) }

// Discard drops every message.
var Discard Sink = SinkFunc(func(Message) {})

// Tee sends every message to all sinks in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(m Message) {
		for _, s := range sinks {
			s.Send(m)
		}
	})
}

// Registry maps a configuration id to the single connection watching it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register makes c the subscriber for configID, replacing and returning any
// previous one.
func (r *Registry) Register(configID string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[configID]
	r.conns[configID] = c
	if prev != nil {
		slog.Debug("channel subscriber replaced", "config", configID)
	}
	return prev
}

// Unregister removes c if it is still the subscriber for configID.
func (r *Registry) Unregister(configID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[configID] == c {
		delete(r.conns, configID)
	}
}

// Live reports whether an open subscriber exists for configID.
func (r *Registry) Live(configID string) bool {
	r.mu.RLock()
	c := r.conns[configID]
	r.mu.RUnlock()
	return c != nil && c.Open()
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers m to the current subscriber for configID. It reports whether
// the message was written; failures are logged and dropped.
func (r *Registry) Send(configID string, m Message) bool {
	r.mu.RLock()
	c := r.conns[configID]
	r.mu.RUnlock()

	if c == nil || !c.Open() {
		slog.Debug("no live subscriber, dropping message", "config", configID, "type", m.Type)
		return false
	}
	if err := c.Send(m); err != nil {
		slog.Warn("channel send failed", "config", configID, "type", m.Type, "error", err)
		return false
	}
	return true
}

// Sink returns a sink bound to configID. The subscriber is looked up on every
// send, so a client that reconnects mid-run receives the remaining events.
func (r *Registry) Sink(configID string) Sink {
	return SinkFunc(func(m Message) {
		r.Send(configID, m)
	})
}
