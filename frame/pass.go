// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package frame

import (
	"time"

	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/render"
)

// Pass is one scheduled unit of GPU work.
type Pass interface {
	Name() string
	Queue() gfx.QueueKind

	// Materials lists the binding sets the pass owns.
	Materials() []string

	// CommandBufferCount is the number of command buffers Record fills.
	CommandBufferCount() int

	// Setup builds the resources and declares the materials of the pass.
	// It runs once, before the context is activated.
	Setup(ctx *render.Context) error

	// BeginFrame resets per-frame progress.
	BeginFrame()

	// Pending reports whether the pass wants another submission this
	// frame and which of its command buffers to submit.
	Pending() (index int, ok bool)

	// Prepare updates CPU side state before a submission.
	Prepare(ctx *render.Context, dt time.Duration) error

	// Record fills every command buffer of the pass. The buffers are
	// already begun and get ended by the scheduler.
	Record(ctx *render.Context, cbs []gfx.CommandBuffer) error

	// PostCommandSubmit runs after the submission finished on the device.
	PostCommandSubmit(state *render.PassState)
}

// NewBase creates the common part of a pass submitting steps command
// buffers per frame, one after another.
func NewBase(name string, queue gfx.QueueKind, steps int, materials ...string) Base {
	return Base{
		name:      name,
		queue:     queue,
		steps:     steps,
		materials: materials,
	}
}

// Base implements the bookkeeping of Pass. Passes embed it and provide
// Setup and Record.
type Base struct {
	name      string
	queue     gfx.QueueKind
	steps     int
	step      int
	materials []string
}

// Name implements interface
func (b *Base) Name() string {
	return b.name
}

// Queue implements interface
func (b *Base) Queue() gfx.QueueKind {
	return b.queue
}

// Materials implements interface
func (b *Base) Materials() []string {
	return b.materials
}

// CommandBufferCount implements interface
func (b *Base) CommandBufferCount() int {
	return b.steps
}

// Step returns the index of the current submission within the frame.
func (b *Base) Step() int {
	return b.step
}

// BeginFrame implements interface
func (b *Base) BeginFrame() {
	b.step = 0
}

// Pending implements interface
func (b *Base) Pending() (int, bool) {
	return b.step, b.step < b.steps
}

// Prepare implements interface
func (b *Base) Prepare(ctx *render.Context, dt time.Duration) error {
	return nil
}

// PostCommandSubmit implements interface
func (b *Base) PostCommandSubmit(state *render.PassState) {
	b.step++
}
