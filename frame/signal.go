// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package frame

// Signal carries one-off notifications from one pass to others, like the
// result of a reduction the next pass needs. Slots run synchronously on
// the render goroutine in connection order.
type Signal[T any] struct {
	slots []func(T)
}

// Connect adds a slot.
func (s *Signal[T]) Connect(slot func(T)) {
	s.slots = append(s.slots, slot)
}

// Emit calls every slot with v.
func (s *Signal[T]) Emit(v T) {
	for _, slot := range s.slots {
		slot(v)
	}
}
