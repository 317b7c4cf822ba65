package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTab carries tab lifecycle updates.
	EventTab EventType = "tab"
	// EventChanged carries the coarse "tab list changed" signal.
	EventChanged EventType = "changed"
)

// Event represents a UI-facing event emitted by a window.
type Event struct {
	Type   EventType
	Window int
	Tab    schema.TabEvent
}

// Bus fanouts events to per-window subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[int]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[int]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the window and returns a channel + cancel.
func (b *Bus) Subscribe(window int) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	windowSubs := b.subs[window]
	if windowSubs == nil {
		windowSubs = make(map[chan Event]struct{})
		b.subs[window] = windowSubs
	}
	windowSubs[ch] = struct{}{}
	count := len(windowSubs)
	b.mu.Unlock()
	b.log.With("window", window).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[window]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, window)
				}
			}
			b.mu.Unlock()
			close(ch)
			b.log.With("window", window).Debug("eventbus unsubscribe")
		})
	}
}

// OnTabEvent publishes a tab event.
func (b *Bus) OnTabEvent(event schema.TabEvent) {
	b.publish(event.Window, Event{Type: EventTab, Window: event.Window, Tab: event})
}

// OnChange publishes the coarse change signal for a window.
func (b *Bus) OnChange(window int) {
	b.publish(window, Event{Type: EventChanged, Window: window})
}

func (b *Bus) publish(window int, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	windowSubs := b.subs[window]
	subs := make([]chan Event, 0, len(windowSubs))
	for sub := range windowSubs {
		subs = append(subs, sub)
	}
	// Sends happen under the lock so a concurrent cancel cannot close a channel mid-send.
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.With("window", window).Trace("eventbus dropped", "count", dropped)
	}
}
