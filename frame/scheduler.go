// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package frame executes passes. Every frame each active pass gets its
// materials updated, is re-recorded when its command buffers went stale
// and is submitted as many times as it asks for. Submissions are strictly
// sequential: the host waits on a single fence after each of them.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/render"
	log "github.com/sirupsen/logrus"
)

// ErrSubmission is returned once a queue operation failed. The scheduler
// does not recover from it.
var ErrSubmission = errors.New("queue submission failed")

// Options configures a Scheduler.
type Options struct {
	// FenceTimeout bounds every host wait.
	FenceTimeout time.Duration

	// ControlBuffer is the capacity of the control channel.
	ControlBuffer int

	// PresentSource names the image blitted into the swapchain image
	// before present. Without it the swapchain image is only transitioned.
	PresentSource string

	// SwapchainSized names images resized with the swapchain.
	SwapchainSized []string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		FenceTimeout:  time.Second,
		ControlBuffer: 16,
	}
}

// NewScheduler creates a scheduler submitting to the device of ctx.
func NewScheduler(ctx *render.Context, opts Options) (*Scheduler, error) {
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = DefaultOptions().FenceTimeout
	}
	if opts.ControlBuffer <= 0 {
		opts.ControlBuffer = DefaultOptions().ControlBuffer
	}

	fence, err := ctx.Device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	imageAcquired, err := ctx.Device.CreateSemaphore()
	if err != nil {
		fence.Release()
		return nil, fmt.Errorf("create semaphore: %w", err)
	}
	drawComplete, err := ctx.Device.CreateSemaphore()
	if err != nil {
		fence.Release()
		imageAcquired.Release()
		return nil, fmt.Errorf("create semaphore: %w", err)
	}

	return &Scheduler{
		ctx:           ctx,
		device:        ctx.Device,
		log:           ctx.Log().WithField("component", "scheduler"),
		opts:          opts,
		fence:         fence,
		imageAcquired: imageAcquired,
		drawComplete:  drawComplete,
		control:       make(chan Control, opts.ControlBuffer),
		skipped:       make(map[string]bool),
	}, nil
}

// Scheduler runs the ordered pass list once per frame. Frame must be
// called from the goroutine owning the render context.
type Scheduler struct {
	ctx    *render.Context
	device gfx.Device
	log    log.FieldLogger
	opts   Options

	passes []Pass
	states []*render.PassState

	fence         gfx.Fence
	imageAcquired gfx.Semaphore
	drawComplete  gfx.Semaphore

	control chan Control
	skipped map[string]bool

	present gfx.CommandBuffer

	err       error
	frames    uint64
	submitted uint64
}

// Add sets the pass up and appends it to the execution order.
func (s *Scheduler) Add(p Pass) error {
	if _, ok := s.ctx.Pass(p.Name()); ok {
		return fmt.Errorf("pass %q already scheduled", p.Name())
	}
	if err := p.Setup(s.ctx); err != nil {
		return fmt.Errorf("pass %q setup: %w", p.Name(), err)
	}
	state, err := s.ctx.RegisterPass(p.Name(), p.Queue(), p.Materials()...)
	if err != nil {
		return err
	}
	s.passes = append(s.passes, p)
	s.states = append(s.states, state)
	return nil
}

// Control returns the channel external code sends pass commands on. It is
// drained at the start of every frame.
func (s *Scheduler) Control() chan<- Control {
	return s.control
}

// Frames returns the number of completed frames.
func (s *Scheduler) Frames() uint64 {
	return s.frames
}

// Submitted returns the number of pass submissions so far.
func (s *Scheduler) Submitted() uint64 {
	return s.submitted
}

// Err returns the error that halted the scheduler, if any.
func (s *Scheduler) Err() error {
	return s.err
}

func (s *Scheduler) fail(op string, err error) error {
	s.err = fmt.Errorf("%w: %s: %s", ErrSubmission, op, err.Error())
	s.log.WithError(err).WithField("op", op).Error("scheduler halted")
	return s.err
}

func (s *Scheduler) drainControl() {
	for {
		select {
		case c := <-s.control:
			s.apply(c)
		default:
			return
		}
	}
}

func (s *Scheduler) apply(c Control) {
	state, ok := s.ctx.Pass(c.Pass)
	if !ok {
		s.log.WithField("pass", c.Pass).Warn("control for unknown pass")
		return
	}
	switch c.Command {
	case Enable:
		state.Active = true
	case Disable:
		state.Active = false
	case Toggle:
		state.Active = !state.Active
	case Rerecord:
		state.NeedsRecord = true
	}
	s.log.WithFields(log.Fields{
		"pass":    c.Pass,
		"command": c.Command,
		"active":  state.Active,
	}).Debug("control applied")
}

// preRecordLoop reports whether the cached command buffers of the pass
// can be submitted as they are.
func (s *Scheduler) preRecordLoop(p Pass, state *render.PassState) bool {
	if len(state.CommandBuffers) != p.CommandBufferCount() || state.NeedsRecord {
		return false
	}
	for _, m := range p.Materials() {
		if s.ctx.MaterialStale(m) {
			return false
		}
	}
	return true
}

func (s *Scheduler) updateMaterials(p Pass) bool {
	for _, m := range p.Materials() {
		if !s.ctx.UpdateMaterial(m) {
			if !s.skipped[p.Name()] {
				s.skipped[p.Name()] = true
				s.log.WithFields(log.Fields{
					"pass":     p.Name(),
					"material": m,
				}).Warn("material not bindable, skipping pass")
			}
			return false
		}
	}
	if s.skipped[p.Name()] {
		delete(s.skipped, p.Name())
		s.log.WithField("pass", p.Name()).Info("pass bindable again")
	}
	return true
}

// record replaces the command buffer cache of the pass.
func (s *Scheduler) record(p Pass, state *render.PassState) (bool, error) {
	if len(state.CommandBuffers) != p.CommandBufferCount() {
		state.ResetCommandBuffers()
		cbs, err := s.device.AllocateCommandBuffers(p.Queue(), p.CommandBufferCount())
		if err != nil {
			return false, err
		}
		state.CommandBuffers = cbs
	}
	for _, cb := range state.CommandBuffers {
		if err := cb.Begin(); err != nil {
			return false, err
		}
	}
	recErr := p.Record(s.ctx, state.CommandBuffers)
	for _, cb := range state.CommandBuffers {
		if err := cb.End(); err != nil {
			return false, err
		}
	}
	if recErr != nil {
		s.log.WithError(recErr).WithField("pass", p.Name()).Warn("record failed, skipping pass")
		state.NeedsRecord = true
		return false, nil
	}
	state.NeedsRecord = false
	s.log.WithFields(log.Fields{
		"pass":    p.Name(),
		"buffers": len(state.CommandBuffers),
	}).Debug("recorded")
	return true, nil
}

func (s *Scheduler) submit(queue gfx.QueueKind, info gfx.SubmitInfo) error {
	info.Fence = s.fence
	if err := s.device.Submit(queue, info); err != nil {
		return s.fail("submit", err)
	}
	if err := s.device.WaitForFence(s.fence, s.opts.FenceTimeout); err != nil {
		return s.fail("wait for fence", err)
	}
	if err := s.device.ResetFence(s.fence); err != nil {
		return s.fail("reset fence", err)
	}
	return nil
}

// Frame runs every active pass once and presents. After a submission
// failure every call returns the same ErrSubmission.
func (s *Scheduler) Frame(dt time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.drainControl()

	var (
		index    uint32
		acquired bool
	)
	swapchain := s.device.Swapchain()
	if swapchain != nil {
		i, err := swapchain.Acquire(s.imageAcquired)
		if errors.Is(err, gfx.ErrOutOfDate) {
			// the frame is dropped, the next one renders at the new size
			return s.recreate(swapchain)
		}
		if err != nil {
			return s.fail("acquire", err)
		}
		index, acquired = i, true
	}
	waitAcquire := acquired

	for i, p := range s.passes {
		state := s.states[i]
		if !state.Active {
			continue
		}
		valid := s.preRecordLoop(p, state)

		p.BeginFrame()
		for {
			cb, ok := p.Pending()
			if !ok {
				break
			}
			if err := p.Prepare(s.ctx, dt); err != nil {
				s.log.WithError(err).WithField("pass", p.Name()).Warn("prepare failed, skipping pass")
				break
			}
			if !s.updateMaterials(p) {
				break
			}
			if !valid || state.NeedsRecord {
				recorded, err := s.record(p, state)
				if err != nil {
					return s.fail("record", err)
				}
				if !recorded {
					break
				}
				valid = true
			}

			if cb < 0 || cb >= len(state.CommandBuffers) {
				s.log.WithFields(log.Fields{
					"pass":    p.Name(),
					"index":   cb,
					"buffers": len(state.CommandBuffers),
				}).Warn("pending command buffer out of range, skipping pass")
				break
			}
			info := gfx.SubmitInfo{Buffers: []gfx.CommandBuffer{state.CommandBuffers[cb]}}
			if waitAcquire {
				info.Wait = []gfx.Semaphore{s.imageAcquired}
				waitAcquire = false
			}
			if err := s.submit(p.Queue(), info); err != nil {
				return err
			}
			s.submitted++
			p.PostCommandSubmit(state)
		}
	}

	outOfDate := false
	if acquired {
		if err := s.submitPresent(swapchain, index, waitAcquire); err != nil {
			return err
		}
		err := swapchain.Present(s.drawComplete, index)
		switch {
		case errors.Is(err, gfx.ErrOutOfDate):
			outOfDate = true
		case err != nil:
			return s.fail("present", err)
		}
	}

	s.frames++
	if s.frames == 1 {
		s.dumpBuffers()
	}
	if outOfDate {
		return s.recreate(swapchain)
	}
	return nil
}

// submitPresent records the blit of the present source into the acquired
// image and submits it as the closing submission signalling drawComplete.
func (s *Scheduler) submitPresent(swapchain gfx.Swapchain, index uint32, waitAcquire bool) error {
	if s.present == nil {
		cbs, err := s.device.AllocateCommandBuffers(gfx.GraphicsQueue, 1)
		if err != nil {
			return s.fail("allocate present", err)
		}
		s.present = cbs[0]
	}

	var src gfx.Image
	if s.opts.PresentSource != "" {
		if img, ok := s.ctx.Image(s.opts.PresentSource); ok {
			src = img.Image
		}
	}
	if err := s.present.Begin(); err != nil {
		return s.fail("record present", err)
	}
	s.present.BlitToPresent(src, swapchain.Images()[index])
	if err := s.present.End(); err != nil {
		return s.fail("record present", err)
	}

	info := gfx.SubmitInfo{
		Buffers: []gfx.CommandBuffer{s.present},
		Signal:  []gfx.Semaphore{s.drawComplete},
	}
	if waitAcquire {
		info.Wait = []gfx.Semaphore{s.imageAcquired}
	}
	return s.submit(gfx.GraphicsQueue, info)
}

// recreate rebuilds the swapchain and resizes the images following it.
// Their dependents go stale through the usual Changed cascade.
func (s *Scheduler) recreate(swapchain gfx.Swapchain) error {
	s.device.WaitIdle()
	if err := swapchain.Recreate(swapchain.Extent()); err != nil {
		return s.fail("recreate swapchain", err)
	}
	extent := swapchain.Extent()
	for _, name := range s.opts.SwapchainSized {
		img, ok := s.ctx.Image(name)
		if !ok || img.Desc().Extent == extent {
			continue
		}
		if err := s.ctx.ResizeImage(name, extent); err != nil {
			s.log.WithError(err).WithField("image", name).Warn("resize with swapchain failed")
		}
	}
	s.log.WithFields(log.Fields{
		"width":  extent.Width,
		"height": extent.Height,
	}).Info("swapchain recreated")
	return nil
}

func (s *Scheduler) dumpBuffers() {
	var total uint64
	for _, info := range s.ctx.BufferInfo() {
		total += info.Size
		s.log.WithFields(log.Fields{
			"buffer": info.Name,
			"size":   info.Size,
		}).Info("live buffer")
	}
	s.log.WithField("total", total).Info("buffer memory after first frame")
}

// Destroy releases the synchronization objects. Pass state is owned by
// the render context.
func (s *Scheduler) Destroy() {
	s.device.WaitIdle()
	if s.present != nil {
		s.device.FreeCommandBuffers(gfx.GraphicsQueue, []gfx.CommandBuffer{s.present})
		s.present = nil
	}
	s.fence.Release()
	s.imageAcquired.Release()
	s.drawComplete.Release()
}
