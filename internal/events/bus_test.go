package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testEventType Type = "test_event"

type testEvent struct {
	value int
}

func (e testEvent) EventType() Type { return testEventType }

func TestPublishReachesSubscribers(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var got []int
	bus.Subscribe("a", testEventType, func(e Event) {
		got = append(got, e.(testEvent).value)
	})
	bus.Subscribe("b", testEventType, func(e Event) {
		got = append(got, e.(testEvent).value*10)
	})

	bus.Publish(testEvent{value: 2})
	assert.Equal(t, []int{2, 20}, got)
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	called := false
	bus.Subscribe("a", "other_event", func(Event) { called = true })
	bus.Publish(testEvent{})
	assert.False(t, called)
}

func TestSubscribeWithFilter(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var got []int
	bus.Subscribe("a", testEventType, func(e Event) {
		got = append(got, e.(testEvent).value)
	}, WithFilter(func(e Event) bool {
		return e.(testEvent).value > 5
	}))

	bus.Publish(testEvent{value: 3})
	bus.Publish(testEvent{value: 7})
	assert.Equal(t, []int{7}, got)
}

func TestUnsubscribeAll(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var aCalls, bCalls int
	bus.Subscribe("a", testEventType, func(Event) { aCalls++ })
	bus.Subscribe("a", "other_event", func(Event) { aCalls++ })
	bus.Subscribe("b", testEventType, func(Event) { bCalls++ })

	bus.UnsubscribeAll("a")
	bus.Publish(testEvent{})
	assert.Zero(t, aCalls)
	assert.Equal(t, 1, bCalls)
}
