package stream

import (
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc receives one published payload. Handlers run synchronously on
// the publisher's goroutine; keep them short and hand heavy work to a channel.
type HandlerFunc func(payload any)

// Publisher is the write side of the bus. The Redis fan-out bridge wraps it
// to distribute publishes across instances.
type Publisher interface {
	Publish(key string, payload any)
}

type subscriber struct {
	id      uint64
	handler HandlerFunc
}

// Bus is an in-process publish/subscribe registry. There is no persistence
// and no replay: a subscriber registered after a publish never sees it. New
// stream sessions compensate with an initial snapshot pull on connect.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]subscriber
	nextID uint64
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string][]subscriber),
		logger: logger.Named("snapshot.bus"),
	}
}

// Subscribe registers a handler for a key and returns its disposer. The
// disposer is idempotent and must be called on every session exit path.
func (b *Bus) Subscribe(key string, h HandlerFunc) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[key] = append(b.subs[key], subscriber{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[key]
			for i, sub := range list {
				if sub.id == id {
					b.subs[key] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		})
	}
}

// Publish delivers payload to every live subscriber of key, in registration
// order, then returns. A panicking handler is logged and skipped; it never
// blocks delivery to co-subscribers.
func (b *Bus) Publish(key string, payload any) {
	b.mu.Lock()
	list := make([]subscriber, len(b.subs[key]))
	copy(list, b.subs[key])
	b.mu.Unlock()

	for _, sub := range list {
		b.deliver(key, sub, payload)
	}
}

func (b *Bus) deliver(key string, sub subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber handler panicked",
				zap.String("key", key),
				zap.Uint64("subscriber_id", sub.id),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(payload)
}

// SubscriberCount reports live subscribers for one key.
func (b *Bus) SubscriberCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// Keys lists every key with at least one live subscriber.
func (b *Bus) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.subs))
	for key := range b.subs {
		keys = append(keys, key)
	}
	return keys
}
