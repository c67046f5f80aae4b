// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core assembles the engine: configuration, logging, timing and
// the render context driven by the frame scheduler.
package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devblok/radiance/frame"
	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/passes"
	"github.com/devblok/radiance/render"
	"github.com/devblok/radiance/resource"
	"github.com/devblok/radiance/shaderpack"
	log "github.com/sirupsen/logrus"
)

// Engine owns the render context, the scheduler running the stock passes
// and the shader pack feeding them. All methods run on the render goroutine.
type Engine struct {
	Config    Configuration
	Context   *render.Context
	Scheduler *frame.Scheduler

	log     log.FieldLogger
	pack    *shaderpack.Pack
	watcher *shaderpack.Watcher
}

// NewEngine loads the shader pack, sets the stock passes up on device and
// links every resource.
func NewEngine(cfg Configuration, device gfx.Device, logger log.FieldLogger) (*Engine, error) {
	pack, err := shaderpack.Open(cfg.Shaders.Location)
	if err != nil {
		return nil, fmt.Errorf("shader pack: %w", err)
	}

	e := &Engine{
		Config: cfg,
		log:    logger,
		pack:   pack,
	}
	if err := e.setup(device); err != nil {
		e.Close()
		return nil, err
	}

	if cfg.Shaders.Watch {
		if info, err := os.Stat(cfg.Shaders.Location); err == nil && info.IsDir() {
			w, err := shaderpack.Watch(cfg.Shaders.Location, logger)
			if err != nil {
				logger.WithError(err).Warn("shader hot reload disabled")
			} else {
				e.watcher = w
			}
		}
	}
	return e, nil
}

func (e *Engine) setup(device gfx.Device) error {
	ctx, err := render.NewContext(device, e.pack, e.log)
	if err != nil {
		return err
	}
	e.Context = ctx

	opts := frame.DefaultOptions()
	if wait := e.Config.Renderer.FenceWait(); wait > 0 {
		opts.FenceTimeout = wait
	}
	if device.Swapchain() != nil {
		opts.PresentSource = passes.LightingTarget
		opts.SwapchainSized = []string{passes.LightingTarget}
	}
	sched, err := frame.NewScheduler(ctx, opts)
	if err != nil {
		return err
	}
	e.Scheduler = sched

	cfg := e.Config.Passes
	cfg.Extent = e.Config.Renderer.Extent()
	if sc := device.Swapchain(); sc != nil {
		cfg.Extent = sc.Extent()
	}
	for _, p := range passes.Stock(cfg) {
		if err := sched.Add(p); err != nil {
			return err
		}
	}
	ctx.Activate()
	return nil
}

// Frame reloads changed shaders and runs one frame.
func (e *Engine) Frame(dt time.Duration) error {
	if e.watcher != nil {
		for _, name := range e.watcher.Pending() {
			if _, ok := e.Context.Shaders.Get(name); !ok {
				continue
			}
			if err := e.Context.ReloadShader(name); err != nil {
				e.log.WithError(err).WithField("shader", name).Error("shader reload")
			}
		}
	}
	return e.Scheduler.Frame(dt)
}

// Run renders frames at the configured rate until ctx is done, a frame
// fails or limit frames were rendered. A zero limit runs unbounded.
func (e *Engine) Run(ctx context.Context, limit uint64) error {
	t := NewTime(e.Config.Time)
	defer t.Stop()

	for limit == 0 || e.Scheduler.Frames() < limit {
		select {
		case <-ctx.Done():
			return nil
		case <-t.FpsTicker().C:
			if err := e.Frame(t.Delta()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Control forwards a pass command to the scheduler.
func (e *Engine) Control(c frame.Control) {
	select {
	case e.Scheduler.Control() <- c:
	default:
		e.log.WithField("pass", c.Pass).Warn("control queue full, command dropped")
	}
}

// Diagnostics is a snapshot of the engine state.
type Diagnostics struct {
	Frames    uint64              `json:"frames"`
	Submitted uint64              `json:"submitted"`
	Buffers   []render.BufferInfo `json:"buffers"`
	Passes    []PassInfo          `json:"passes"`
	Materials []MaterialInfo      `json:"materials"`
	Error     string              `json:"error,omitempty"`
}

// PassInfo describes one scheduled pass.
type PassInfo struct {
	Name   string `json:"name"`
	Queue  string `json:"queue"`
	Active bool   `json:"active"`
}

// MaterialInfo describes one binding set.
type MaterialInfo struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Unbindable bool   `json:"unbindable,omitempty"`
}

// Diagnostics collects the current Diagnostics.
func (e *Engine) Diagnostics() Diagnostics {
	d := Diagnostics{
		Frames:    e.Scheduler.Frames(),
		Submitted: e.Scheduler.Submitted(),
		Buffers:   e.Context.BufferInfo(),
	}
	if err := e.Scheduler.Err(); err != nil {
		d.Error = err.Error()
	}
	e.Context.Passes.Each(func(rec *resource.Record[*render.PassState]) bool {
		d.Passes = append(d.Passes, PassInfo{
			Name:   rec.Name(),
			Queue:  rec.Value.Queue.String(),
			Active: rec.Value.Active,
		})
		return true
	})
	e.Context.Materials.Each(func(rec *resource.Record[*render.BindingSet]) bool {
		d.Materials = append(d.Materials, MaterialInfo{
			Name:       rec.Name(),
			State:      rec.Value.State().String(),
			Unbindable: rec.Value.Unbindable(),
		})
		return true
	})
	return d
}

// Close tears everything down in reverse order of creation.
func (e *Engine) Close() {
	if e.watcher != nil {
		e.watcher.Close()
		e.watcher = nil
	}
	if e.Scheduler != nil {
		e.Scheduler.Destroy()
		e.Scheduler = nil
	}
	if e.Context != nil {
		e.Context.Destroy()
		e.Context = nil
	}
	if e.pack != nil {
		e.pack.Close()
		e.pack = nil
	}
}
