package integration

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventPublisher receives integration events.
type EventPublisher interface {
	Publish(topic string, data map[string]any)
}

// Topics published by the Manager.
const (
	TopicManagerStarted  = "integration.started"
	TopicManagerStopping = "integration.stopping"
	TopicManagerStopped  = "integration.stopped"

	TopicBuildStarted   = "build.started"
	TopicBuildCompleted = "build.completed"
	TopicLinkCompleted  = "build.link.completed"
	TopicWatchChanged   = "build.watch.changed"

	TopicToolchainChecked = "toolchain.checked"

	TopicDebugStarted = "debug.session.started"
	TopicDebugStopped = "debug.session.stopped"
)

// EventBus is a synchronous publish-subscribe bus keyed by dotted
// topic names. A subscription to "build.*" matches every topic under
// "build.".
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]func(map[string]any)
	byID   map[string]string
	nextID atomic.Uint64
	closed atomic.Bool
	logger *zap.Logger
}

// NewEventBus creates an empty bus. Handler panics are logged to logger,
// which may be nil.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:   make(map[string]map[string]func(map[string]any)),
		byID:   make(map[string]string),
		logger: logger,
	}
}

// Subscribe registers handler for topic and returns the subscription ID.
// It returns "" on a closed bus.
func (b *EventBus) Subscribe(topic string, handler func(data map[string]any)) string {
	if b.closed.Load() {
		return ""
	}
	id := strconv.FormatUint(b.nextID.Add(1), 10)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]func(map[string]any))
	}
	b.subs[topic][id] = handler
	b.byID[id] = topic
	return id
}

// Unsubscribe removes a subscription. It reports whether it existed.
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	delete(b.subs[topic], id)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	return true
}

// Publish calls every matching handler synchronously.
func (b *EventBus) Publish(topic string, data map[string]any) {
	if b.closed.Load() {
		return
	}
	for _, h := range b.handlers(topic) {
		b.call(topic, h, data)
	}
}

func (b *EventBus) call(topic string, h func(map[string]any), data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", zap.String("topic", topic), zap.Any("panic", r))
		}
	}()
	h(data)
}

func (b *EventBus) handlers(topic string) []func(map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []func(map[string]any)
	for pattern, subs := range b.subs {
		if !matchTopic(pattern, topic) {
			continue
		}
		for _, h := range subs {
			out = append(out, h)
		}
	}
	return out
}

// Close drops all subscriptions. Later calls are no-ops.
func (b *EventBus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	b.subs = make(map[string]map[string]func(map[string]any))
	b.byID = make(map[string]string)
	b.mu.Unlock()
}

// SubscriptionCount returns the number of live subscriptions.
func (b *EventBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

func matchTopic(pattern, topic string) bool {
	prefix, ok := strings.CutSuffix(pattern, ".*")
	if !ok {
		return pattern == topic
	}
	return strings.HasPrefix(topic, prefix+".")
}
