// Package notify fans state change notifications out to connected clients
// and routes inbound messages to registered handlers by target.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/abr-vis/abr-server/core/infra/logging"
	"github.com/abr-vis/abr-server/core/infra/metrics"
)

// Target names a category of message. The values are the wire strings
// clients already speak.
type Target string

const (
	TargetState          Target = "state"
	TargetVisAssetsCache Target = "CacheUpdate-visassets"
	TargetThumbnail      Target = "thumbnail"
)

// SchemaURL is advertised on every outbound message so clients can validate
// what they receive.
const SchemaURL = "https://raw.githubusercontent.com/ivlab/abr-schemas/main/ws-send.json"

// Message is the outbound notification wire shape.
type Message struct {
	Schema string `json:"$schema"`
	Target Target `json:"target"`
}

// NewMessage builds a notification for a target.
func NewMessage(target Target) Message {
	return Message{Schema: SchemaURL, Target: target}
}

// Subscriber receives outbound notifications. WebSocket connections satisfy
// this behind a send-channel adapter in the gateway.
type Subscriber interface {
	SendJSON(v any) error
}

// Action handles one inbound message for a target, along with the sender's
// subscription id.
type Action func(msg map[string]any, senderID uuid.UUID)

type actionEntry struct {
	id uuid.UUID
	fn Action
}

// Notifier is the process-wide pub/sub registry. Subscribers and actions are
// guarded by their own lock, independent of the document lock, so delivery
// never blocks state mutation.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]Subscriber
	actions     map[Target][]actionEntry

	metrics metrics.Metrics
}

// New creates an empty Notifier.
func New(m metrics.Metrics) *Notifier {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Notifier{
		subscribers: make(map[uuid.UUID]Subscriber),
		actions:     make(map[Target][]actionEntry),
		metrics:     m,
	}
}

// Subscribe registers a connection and returns its subscription id.
func (n *Notifier) Subscribe(sub Subscriber) uuid.UUID {
	id := uuid.New()
	n.mu.Lock()
	n.subscribers[id] = sub
	n.mu.Unlock()
	logging.Debug("notifier", "subscribed", "id", id.String())
	return id
}

// Unsubscribe removes a connection. Unsubscribing twice is a no-op.
func (n *Notifier) Unsubscribe(id uuid.UUID) {
	n.mu.Lock()
	delete(n.subscribers, id)
	n.mu.Unlock()
	logging.Debug("notifier", "unsubscribed", "id", id.String())
}

// Notify sends a message to every connected subscriber. A failing or
// panicking subscriber never blocks delivery to the others.
func (n *Notifier) Notify(msg Message) {
	n.mu.RLock()
	subs := make(map[uuid.UUID]Subscriber, len(n.subscribers))
	for id, sub := range n.subscribers {
		subs[id] = sub
	}
	n.mu.RUnlock()

	n.metrics.IncNotifications(string(msg.Target))
	for id, sub := range subs {
		n.deliver(id, sub, msg)
	}
}

// AnnounceState tells every subscriber the state document changed.
func (n *Notifier) AnnounceState() {
	n.Notify(NewMessage(TargetState))
}

// AnnounceVisAssetsCache tells every subscriber the local asset set changed.
func (n *Notifier) AnnounceVisAssetsCache() {
	n.Notify(NewMessage(TargetVisAssetsCache))
}

func (n *Notifier) deliver(id uuid.UUID, sub Subscriber, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			n.metrics.IncDeliveryFailures()
			logging.Error("notifier", "subscriber panicked", "id", id.String(), "panic", r)
		}
	}()
	if err := sub.SendJSON(msg); err != nil {
		n.metrics.IncDeliveryFailures()
		logging.Error("notifier", "delivery failed", "id", id.String(), "error", err)
	}
}

// AddAction registers a handler for inbound messages on a target and returns
// an id that can remove it later. Handlers run in registration order.
func (n *Notifier) AddAction(target Target, fn Action) uuid.UUID {
	id := uuid.New()
	n.mu.Lock()
	n.actions[target] = append(n.actions[target], actionEntry{id: id, fn: fn})
	n.mu.Unlock()
	return id
}

// RemoveAction unregisters a single handler by id. Reports whether it was
// registered.
func (n *Notifier) RemoveAction(target Target, id uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	entries := n.actions[target]
	for i, entry := range entries {
		if entry.id == id {
			n.actions[target] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Receive routes an inbound message to every handler registered for its
// target. An unknown target is logged and dropped. A panicking handler does
// not prevent later handlers from running.
func (n *Notifier) Receive(msg map[string]any, senderID uuid.UUID) {
	target, _ := msg["target"].(string)
	n.mu.RLock()
	entries := append([]actionEntry(nil), n.actions[Target(target)]...)
	n.mu.RUnlock()

	if len(entries) == 0 {
		logging.Error("notifier", "no handler for inbound target", "target", target)
		return
	}
	for _, entry := range entries {
		runAction(entry, msg, senderID, target)
	}
}

func runAction(entry actionEntry, msg map[string]any, senderID uuid.UUID, target string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("notifier", "action panicked", "target", target, "panic", r)
		}
	}()
	entry.fn(msg, senderID)
}
