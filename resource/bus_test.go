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

func TestBusInertUntilActivated(t *testing.T) {
	bus := resource.NewBus(nil)
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(resource.KindBuffer, resource.KindShader, rec))

	reg := resource.NewRegistry[*blob](resource.KindBuffer, bus)
	_, err := reg.Build("A", func() (*blob, error) { return &blob{}, nil })
	require.NoError(t, err)
	assert.Empty(t, rec.events, "startup construction must not notify")
	assert.False(t, bus.Active())

	bus.Activate()
	reg.Touch("A")
	assert.Len(t, rec.events, 1)
	assert.EqualValues(t, 1, bus.Delivered())

	bus.Deactivate()
	reg.Touch("A")
	assert.Len(t, rec.events, 1)
}

func TestSubscribeRejectsCycles(t *testing.T) {
	bus := resource.NewBus(nil)
	nop := resource.SubscriberFunc(func(resource.Event) []resource.Event { return nil })

	require.NoError(t, bus.Subscribe(resource.KindImage, resource.KindShader, nop))
	require.NoError(t, bus.Subscribe(resource.KindShader, resource.KindMaterial, nop))
	require.NoError(t, bus.Subscribe(resource.KindMaterial, resource.KindPass, nop))

	err := bus.Subscribe(resource.KindPass, resource.KindImage, nop)
	assert.True(t, errors.Is(err, resource.ErrCyclicSubscription))

	err = bus.Subscribe(resource.KindShader, resource.KindShader, nop)
	assert.True(t, errors.Is(err, resource.ErrCyclicSubscription))

	// a diamond is fine
	assert.NoError(t, bus.Subscribe(resource.KindImage, resource.KindMaterial, nop))

	assert.Error(t, bus.Subscribe(resource.Kind(42), resource.KindPass, nop))
}

func TestCascadeDrainsInFIFOOrder(t *testing.T) {
	bus := resource.NewBus(nil)
	var order []string

	// image -> two shaders -> each shader -> one material
	require.NoError(t, bus.Subscribe(resource.KindImage, resource.KindShader,
		resource.SubscriberFunc(func(ev resource.Event) []resource.Event {
			order = append(order, "shader<-"+ev.Name)
			return []resource.Event{
				{Kind: resource.KindShader, Name: "s1", Type: resource.Changed},
				{Kind: resource.KindShader, Name: "s2", Type: resource.Changed},
			}
		})))
	require.NoError(t, bus.Subscribe(resource.KindShader, resource.KindMaterial,
		resource.SubscriberFunc(func(ev resource.Event) []resource.Event {
			order = append(order, "material<-"+ev.Name)
			return []resource.Event{{Kind: resource.KindMaterial, Name: "m-" + ev.Name, Type: resource.Changed}}
		})))
	require.NoError(t, bus.Subscribe(resource.KindMaterial, resource.KindPass,
		resource.SubscriberFunc(func(ev resource.Event) []resource.Event {
			order = append(order, "pass<-"+ev.Name)
			return nil
		})))

	bus.Activate()
	bus.Publish(resource.Event{Kind: resource.KindImage, Name: "tex", Type: resource.Removed})

	assert.Equal(t, []string{
		"shader<-tex",
		"material<-s1",
		"material<-s2",
		"pass<-m-s1",
		"pass<-m-s2",
	}, order)
}

func TestSubscribersRunInSubscriptionOrder(t *testing.T) {
	bus := resource.NewBus(nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, bus.Subscribe(resource.KindBuffer, resource.KindShader,
			resource.SubscriberFunc(func(resource.Event) []resource.Event {
				order = append(order, i)
				return nil
			})))
	}
	bus.Activate()
	bus.Publish(resource.Event{Kind: resource.KindBuffer, Name: "b", Type: resource.Added})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPublishFromSubscriberIsQueued(t *testing.T) {
	bus := resource.NewBus(nil)
	reg := resource.NewRegistry[*blob](resource.KindShader, bus)
	var order []string

	require.NoError(t, bus.Subscribe(resource.KindBuffer, resource.KindShader,
		resource.SubscriberFunc(func(ev resource.Event) []resource.Event {
			order = append(order, "buffer "+ev.Type.String())
			// registry calls made from inside a handler join the same drain
			reg.Touch("s")
			order = append(order, "after touch")
			return nil
		})))
	require.NoError(t, bus.Subscribe(resource.KindShader, resource.KindMaterial,
		resource.SubscriberFunc(func(ev resource.Event) []resource.Event {
			order = append(order, "shader "+ev.Type.String())
			return nil
		})))

	_, err := reg.Build("s", func() (*blob, error) { return &blob{}, nil })
	require.NoError(t, err)
	bus.Activate()
	bus.Publish(resource.Event{Kind: resource.KindBuffer, Name: "b", Type: resource.Changed})

	assert.Equal(t, []string{"buffer changed", "after touch", "shader changed"}, order)
}

func TestHandleString(t *testing.T) {
	assert.Equal(t, "null", resource.NullHandle.String())
	h := resource.Handle{Kind: resource.KindImage, Index: 3, Generation: 2}
	assert.Equal(t, "image#3.2", h.String())
	assert.True(t, h.Valid())
}
