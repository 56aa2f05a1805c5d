// Package events is the in-process activity feed. The agent loop and the
// bot publish; the MQTT publisher and tests subscribe. A nil *Bus is a
// valid, silent bus.
package events

import (
	"context"
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent   = "agent"
	SourceBot     = "bot"
	SourceSession = "session"
)

// Kinds. The Data keys each kind carries are listed alongside.
const (
	// KindRequestStart: request_id, chat_id, session.
	KindRequestStart = "request_start"
	// KindLLMCall: request_id, iter.
	KindLLMCall = "llm_call"
	// KindLLMResponse: request_id, iter, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete: request_id, iterations, tokens_in, tokens_out,
	// exhausted, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindMessageReceived: channel, chat_id, sender, message_len.
	KindMessageReceived = "message_received"
	// KindReplySent: channel, chat_id, reply_len, ok.
	KindReplySent = "reply_sent"

	// KindSessionBound: key, alias.
	KindSessionBound = "session_bound"
	// KindSessionUnbound: alias.
	KindSessionUnbound = "session_unbound"
	// KindSessionConfigured: key.
	KindSessionConfigured = "session_configured"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Subscribers that fall behind lose
// events instead of stalling publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recv maps the receive-only view handed to callers back to the
	// channel stored in subs.
	recv map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
		recv: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel with the given buffer. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recv[ch] = ch
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.recv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.recv, ch)
	close(send)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Forward subscribes and calls fn for every event until ctx is done.
// It blocks; run it in its own goroutine.
func (b *Bus) Forward(ctx context.Context, bufSize int, fn func(Event)) {
	if b == nil {
		<-ctx.Done()
		return
	}
	ch := b.Subscribe(bufSize)
	defer b.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fn(e)
		}
	}
}
