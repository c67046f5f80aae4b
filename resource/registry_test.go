// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource_test

import (
	"errors"
	"testing"

	"github.com/devblok/radiance/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob struct {
	size     int
	released *int
}

func (b *blob) Release() {
	if b.released != nil {
		*b.released++
	}
}

func newActiveBus() *resource.Bus {
	bus := resource.NewBus(nil)
	bus.Activate()
	return bus
}

type recorder struct {
	events []resource.Event
}

func (r *recorder) Notify(ev resource.Event) []resource.Event {
	r.events = append(r.events, ev)
	return nil
}

func TestBuildIsIdempotent(t *testing.T) {
	reg := resource.NewRegistry[*blob](resource.KindBuffer, newActiveBus())

	calls := 0
	construct := func() (*blob, error) {
		calls++
		return &blob{size: 100}, nil
	}

	first, err := reg.Build("A", construct)
	require.NoError(t, err)
	second, err := reg.Build("A", construct)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first.Value, second.Value)
	assert.Equal(t, 1, calls, "constructor must run once")
	assert.Equal(t, 1, reg.Len())
}

func TestBuildFailureRegistersNothing(t *testing.T) {
	bus := newActiveBus()
	reg := resource.NewRegistry[*blob](resource.KindImage, bus)
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(resource.KindImage, resource.KindShader, rec))

	_, err := reg.Build("Tex0", func() (*blob, error) {
		return nil, errors.New("out of memory")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, resource.ErrBuildFailure))

	_, ok := reg.Get("Tex0")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, rec.events)
}

func TestRemoveInvalidatesHandle(t *testing.T) {
	released := 0
	reg := resource.NewRegistry[*blob](resource.KindBuffer, newActiveBus())

	rec, err := reg.Build("A", func() (*blob, error) {
		return &blob{size: 4, released: &released}, nil
	})
	require.NoError(t, err)
	handle := rec.Handle()

	got, ok := reg.Resolve(handle)
	require.True(t, ok)
	assert.Same(t, rec, got)

	assert.True(t, reg.Remove("A"))
	assert.Equal(t, 1, released)
	assert.False(t, reg.Remove("A"))

	_, ok = reg.Resolve(handle)
	assert.False(t, ok, "handle to a removed record must not resolve")

	// the freed slot is reused with a new generation
	again, err := reg.Build("B", func() (*blob, error) { return &blob{}, nil })
	require.NoError(t, err)
	assert.Equal(t, handle.Index, again.Handle().Index)
	assert.NotEqual(t, handle.Generation, again.Handle().Generation)
	_, ok = reg.Resolve(handle)
	assert.False(t, ok)
}

func TestReplaceKeepsIdentity(t *testing.T) {
	bus := newActiveBus()
	reg := resource.NewRegistry[*blob](resource.KindBuffer, bus)
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(resource.KindBuffer, resource.KindShader, rec))

	released := 0
	first, err := reg.Build("B", func() (*blob, error) {
		return &blob{size: 16, released: &released}, nil
	})
	require.NoError(t, err)
	handle := first.Handle()

	err = reg.Replace("B", func(old *blob) (*blob, error) {
		return &blob{size: old.size * 2}, nil
	})
	require.NoError(t, err)

	second, ok := reg.Get("B")
	require.True(t, ok)
	assert.Same(t, first, second)
	assert.Equal(t, handle, second.Handle())
	assert.Equal(t, 32, second.Value.size)
	assert.Equal(t, 1, released)

	require.Len(t, rec.events, 2)
	assert.Equal(t, resource.Added, rec.events[0].Type)
	assert.Equal(t, resource.Changed, rec.events[1].Type, "resize must not emit removed+added")

	err = reg.Replace("missing", func(old *blob) (*blob, error) { return old, nil })
	assert.True(t, errors.Is(err, resource.ErrNotFound))
}

func TestReplaceFailureKeepsOldValue(t *testing.T) {
	released := 0
	reg := resource.NewRegistry[*blob](resource.KindBuffer, newActiveBus())
	_, err := reg.Build("B", func() (*blob, error) {
		return &blob{size: 16, released: &released}, nil
	})
	require.NoError(t, err)

	err = reg.Replace("B", func(*blob) (*blob, error) {
		return nil, errors.New("too large")
	})
	assert.True(t, errors.Is(err, resource.ErrBuildFailure))

	rec, _ := reg.Get("B")
	assert.Equal(t, 16, rec.Value.size)
	assert.Zero(t, released)
}

func TestSameNameResolvesIdentically(t *testing.T) {
	reg := resource.NewRegistry[*blob](resource.KindBuffer, newActiveBus())
	names := []string{"a", "b", "c"}
	construct := func() (*blob, error) { return &blob{}, nil }

	// interleave builds, resizes and removes and check identity in between
	for round := 0; round < 5; round++ {
		for i, name := range names {
			first, err := reg.Build(name, construct)
			require.NoError(t, err)
			if (round+i)%2 == 0 {
				require.NoError(t, reg.Replace(name, func(old *blob) (*blob, error) {
					return &blob{size: old.size + 1}, nil
				}))
			}
			second, err := reg.Build(name, construct)
			require.NoError(t, err)
			assert.Same(t, first, second)
			if (round+i)%3 == 0 {
				reg.Remove(name)
			}
		}
	}
}

func TestEachAndClear(t *testing.T) {
	bus := newActiveBus()
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(resource.KindImage, resource.KindFramebuffer, rec))

	released := 0
	reg := resource.NewRegistry[*blob](resource.KindImage, bus)
	for _, name := range []string{"x", "y", "z"} {
		_, err := reg.Build(name, func() (*blob, error) { return &blob{released: &released}, nil })
		require.NoError(t, err)
	}

	var seen []string
	reg.Each(func(r *resource.Record[*blob]) bool {
		seen = append(seen, r.Name())
		return true
	})
	assert.Equal(t, []string{"x", "y", "z"}, seen)

	reg.Clear()
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 3, released)

	removed := 0
	for _, ev := range rec.events {
		if ev.Type == resource.Removed {
			removed++
		}
	}
	assert.Equal(t, 3, removed)
}

func TestTouchPublishesChanged(t *testing.T) {
	bus := newActiveBus()
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(resource.KindShader, resource.KindMaterial, rec))
	reg := resource.NewRegistry[*blob](resource.KindShader, bus)

	assert.False(t, reg.Touch("lighting"))
	_, err := reg.Build("lighting", func() (*blob, error) { return &blob{}, nil })
	require.NoError(t, err)
	assert.True(t, reg.Touch("lighting"))

	require.Len(t, rec.events, 2)
	assert.Equal(t, resource.Changed, rec.events[1].Type)
	assert.Equal(t, "lighting", rec.events[1].Name)
}
