package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerDelivery(t *testing.T) {
	t.Parallel()

	t.Run("persistent listeners receive every event", func(t *testing.T) {
		t.Parallel()
		h := NewHandler()

		var got []Event
		h.On(func(ev Event) { got = append(got, ev) })

		h.Fire(UpdateTick{Seq: 1})
		h.Fire(PipelineChanged{OldIndex: -1, NewIndex: 0, DefName: "a"})

		assert.Equal(t, []Event{
			UpdateTick{Seq: 1},
			PipelineChanged{OldIndex: -1, NewIndex: 0, DefName: "a"},
		}, got)
	})

	t.Run("once listeners are drained after one event", func(t *testing.T) {
		t.Parallel()
		h := NewHandler()

		var count int
		h.Once(func(Event) { count++ })

		h.Fire(UpdateTick{Seq: 1})
		h.Fire(UpdateTick{Seq: 2})

		assert.Equal(t, 1, count)
	})

	t.Run("once listeners run before persistent ones", func(t *testing.T) {
		t.Parallel()
		h := NewHandler()

		var order []string
		h.On(func(Event) { order = append(order, "persistent") })
		h.Once(func(Event) { order = append(order, "once") })

		h.Fire(Resumed{})

		assert.Equal(t, []string{"once", "persistent"}, order)
	})

	t.Run("listeners may register listeners during delivery", func(t *testing.T) {
		t.Parallel()
		h := NewHandler()

		var nested int
		h.Once(func(Event) {
			h.Once(func(Event) { nested++ })
		})

		h.Fire(UpdateTick{Seq: 1})
		assert.Equal(t, 0, nested)
		h.Fire(UpdateTick{Seq: 2})
		assert.Equal(t, 1, nested)
	})

	t.Run("fire with no listeners is safe", func(t *testing.T) {
		t.Parallel()
		h := NewHandler()
		h.Fire(Paused{Reason: "user_requested"})
	})
}
