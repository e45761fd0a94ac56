package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	bus.Subscribe("k", func(payload any) { got = append(got, "first") })
	bus.Subscribe("k", func(payload any) { got = append(got, "second") })
	bus.Subscribe("k", func(payload any) { got = append(got, "third") })

	bus.Publish("k", 1)

	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	bus.Publish("k", "missed")

	received := 0
	bus.Subscribe("k", func(payload any) { received++ })
	assert.Equal(t, 0, received)

	bus.Publish("k", "seen")
	assert.Equal(t, 1, received)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())

	received := 0
	unsubscribe := bus.Subscribe("k", func(payload any) { received++ })

	bus.Publish("k", 1)
	unsubscribe()
	unsubscribe() // must be idempotent
	bus.Publish("k", 2)

	assert.Equal(t, 1, received)
	assert.Equal(t, 0, bus.SubscriberCount("k"))
}

func TestBus_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	bus.Subscribe("k", func(payload any) { panic("boom") })
	bus.Subscribe("k", func(payload any) { got = append(got, "alive") })

	assert.NotPanics(t, func() { bus.Publish("k", 1) })
	assert.Equal(t, []string{"alive"}, got)
}

func TestBus_KeysTracksLiveSubscriptions(t *testing.T) {
	bus := NewBus(zap.NewNop())

	unsubA := bus.Subscribe("school:a", func(payload any) {})
	bus.Subscribe("class:a:b", func(payload any) {})

	assert.ElementsMatch(t, []string{"school:a", "class:a:b"}, bus.Keys())

	unsubA()
	assert.Equal(t, []string{"class:a:b"}, bus.Keys())
}

func TestBus_KeyIsolation(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var a, b int
	bus.Subscribe("school:a", func(payload any) { a++ })
	bus.Subscribe("school:b", func(payload any) { b++ })

	bus.Publish("school:a", 1)

	assert.Equal(t, 1, a)
	assert.Equal(t, 0, b)
}
