package progress

import (
	"fmt"
	"log/slog"
	"sync"
)

// Broadcaster fans events out to a registry of listeners.
//
// Delivery is at-least-once from registration: a listener sees every event
// notified after it subscribed and none from before. A listener that panics is
// logged and skipped; it never aborts delivery to the others.
type Broadcaster struct {
	mu        sync.Mutex
	listeners []listener
	nextID    uint64
	logger    *slog.Logger
}

type listener struct {
	id uint64
	fn Func
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger}
}

// Subscribe registers fn and returns a func that removes it again.
// A nil fn is ignored.
func (b *Broadcaster) Subscribe(fn Func) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Notify delivers ev to every listener registered at the time of the call,
// in registration order. Listeners run outside the registry lock so they may
// subscribe or unsubscribe themselves.
func (b *Broadcaster) Notify(ev Event) {
	b.mu.Lock()
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		b.deliver(l, ev)
	}
}

func (b *Broadcaster) deliver(l listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("progress listener panicked",
				slog.Uint64("listener_id", l.id),
				slog.String("stage", string(ev.Stage)),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l.fn(ev)
}

// Clear removes every listener.
func (b *Broadcaster) Clear() {
	b.mu.Lock()
	b.listeners = nil
	b.mu.Unlock()
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
