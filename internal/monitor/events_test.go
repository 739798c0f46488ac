package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_KindFilter(t *testing.T) {
	b := NewEventBus()
	var titles, all int
	b.On(EventTitle, func(Event) { titles++ })
	b.OnAny(func(Event) { all++ })

	b.Emit(Event{Kind: EventTitle})
	b.Emit(Event{Kind: EventViewCount})

	assert.Equal(t, 1, titles)
	assert.Equal(t, 2, all)
}

func TestEventBus_RegistrationOrder(t *testing.T) {
	b := NewEventBus()
	var order []string
	b.OnAny(func(Event) { order = append(order, "first") })
	b.On(EventStreamUp, func(Event) { order = append(order, "second") })

	b.Emit(Event{Kind: EventStreamUp})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventBus_Remove(t *testing.T) {
	b := NewEventBus()
	var n int
	remove := b.OnAny(func(Event) { n++ })

	b.Emit(Event{Kind: EventTitle})
	remove()
	remove()
	b.Emit(Event{Kind: EventTitle})

	assert.Equal(t, 1, n)
}

func TestEventBus_NoReplayForLateListeners(t *testing.T) {
	b := NewEventBus()
	b.Emit(Event{Kind: EventStreamUp})

	var n int
	b.OnAny(func(Event) { n++ })

	assert.Zero(t, n)
}

func TestEventBus_ClosedDropsEvents(t *testing.T) {
	b := NewEventBus()
	var n int
	b.OnAny(func(Event) { n++ })

	b.Close()
	b.Emit(Event{Kind: EventStreamUp})
	b.OnAny(func(Event) { n++ })
	b.Emit(Event{Kind: EventStreamUp})

	assert.Zero(t, n)
}

func TestEventBus_ListenerMayRegisterDuringEmit(t *testing.T) {
	b := NewEventBus()
	var inner int
	b.OnAny(func(Event) {
		b.On(EventTitle, func(Event) { inner++ })
	})

	b.Emit(Event{Kind: EventTitle})
	assert.Zero(t, inner)

	b.Emit(Event{Kind: EventTitle})
	assert.Equal(t, 1, inner)
}
