package monitor

import "sync"

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventStreamUp     EventKind = "streamUp"
	EventStreamDown   EventKind = "streamDown"
	EventViewCount    EventKind = "viewCount"
	EventTitle        EventKind = "title"
	EventCategory     EventKind = "category"
	EventThumbnail    EventKind = "thumbnail"
	EventSocketOpen   EventKind = "socketOpen"
	EventSocketClose  EventKind = "socketClose"
	EventError        EventKind = "error"
)

// Event is the single tagged value delivered to listeners. Which of the
// value fields is meaningful depends on Kind.
type Event struct {
	Kind     EventKind
	Platform Platform
	Channel  ChannelInfo
	Stream   *Stream

	Viewers     int
	ViewerDelta int
	Title       string
	Category    Category
	Thumbnail   string
	Err         error
}

type Listener func(Event)

type subscription struct {
	kind EventKind
	fn   Listener
}

// EventBus delivers events synchronously to the listeners registered at
// emission time. Nothing is buffered or replayed.
type EventBus struct {
	mu        sync.RWMutex
	listeners []*subscription
	closed    bool
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// On registers fn for one kind of event. The returned func removes it.
func (b *EventBus) On(kind EventKind, fn Listener) (remove func()) {
	return b.add(&subscription{kind: kind, fn: fn})
}

// OnAny registers fn for every event.
func (b *EventBus) OnAny(fn Listener) (remove func()) {
	return b.add(&subscription{fn: fn})
}

func (b *EventBus) add(s *subscription) func() {
	b.mu.Lock()
	b.listeners = append(b.listeners, s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l == s {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

func (b *EventBus) Emit(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.kind == "" || l.kind == ev.Kind {
			targets = append(targets, l.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// Close drops all listeners; later Emit calls are no-ops.
func (b *EventBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.listeners = nil
	b.mu.Unlock()
}
