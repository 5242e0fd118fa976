package events

import (
	"log/slog"
	"sync"
)

type Listener func(Event)

// Bus is the in-process event fan-out. Publishing is synchronous: the
// request layer is cooperatively scheduled, so listeners run as one
// self-contained step and must not block.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Event listener panic",
						slog.String("event", string(e.Type)),
						slog.Any("panic", r))
				}
			}()
			l(e)
		}()
	}
}
