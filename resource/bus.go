// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Subscriber reacts to events of one upstream kind. The events it returns
// are appended to the bus worklist and delivered in the same drain.
type Subscriber interface {
	Notify(ev Event) []Event
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ev Event) []Event

// Notify implements interface
func (f SubscriberFunc) Notify(ev Event) []Event {
	return f(ev)
}

type subscription struct {
	target     Kind
	subscriber Subscriber
}

// NewBus creates an inactive bus. Events published before Activate are dropped.
func NewBus(logger log.FieldLogger) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{
		log: logger.WithField("component", "bus"),
	}
}

// Bus delivers registry events to subscribers synchronously. It is driven
// from a single goroutine and is not safe for concurrent use.
type Bus struct {
	log log.FieldLogger

	active        bool
	draining      bool
	subscriptions [kindCount][]subscription
	queue         []Event
	delivered     uint64
}

// Subscribe attaches s to events of the source kind. Target is the kind
// of resource the subscriber updates; the subscription is refused when it
// would close a cycle in the kind graph.
func (b *Bus) Subscribe(source, target Kind, s Subscriber) error {
	if source < 0 || source >= kindCount || target < 0 || target >= kindCount {
		return fmt.Errorf("subscribe %s -> %s: unknown kind", source, target)
	}
	if source == target || b.reaches(target, source) {
		return fmt.Errorf("subscribe %s -> %s: %w", source, target, ErrCyclicSubscription)
	}
	b.subscriptions[source] = append(b.subscriptions[source], subscription{
		target:     target,
		subscriber: s,
	})
	return nil
}

// reaches reports whether events of from can cascade into kind to.
func (b *Bus) reaches(from, to Kind) bool {
	var visited [kindCount]bool
	stack := []Kind{from}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if k == to {
			return true
		}
		if visited[k] {
			continue
		}
		visited[k] = true
		for _, s := range b.subscriptions[k] {
			stack = append(stack, s.target)
		}
	}
	return false
}

// Activate enables delivery. Before activation the bus is inert so that
// bulk construction at startup doesn't trigger rebuild storms.
func (b *Bus) Activate() {
	b.active = true
}

// Deactivate disables delivery, used while tearing everything down.
func (b *Bus) Deactivate() {
	b.active = false
	b.queue = b.queue[:0]
}

// Active reports whether events are delivered.
func (b *Bus) Active() bool {
	return b.active
}

// Delivered returns the number of events handed to subscribers so far.
func (b *Bus) Delivered() uint64 {
	return b.delivered
}

// Publish queues ev and, unless a drain is already running further up
// the stack, drains the worklist before returning.
func (b *Bus) Publish(ev Event) {
	if !b.active {
		return
	}
	b.queue = append(b.queue, ev)
	if b.draining {
		return
	}

	b.draining = true
	defer func() { b.draining = false }()

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.log.WithFields(log.Fields{
			"kind":  next.Kind,
			"name":  next.Name,
			"event": next.Type,
		}).Debug("deliver")
		for _, s := range b.subscriptions[next.Kind] {
			b.delivered++
			b.queue = append(b.queue, s.subscriber.Notify(next)...)
		}
	}
	b.queue = b.queue[:0]
}
