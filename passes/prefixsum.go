// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package passes

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/devblok/radiance/frame"
	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/render"
)

const prefixLocalSize = 256

func errNotReady(material string) error {
	return fmt.Errorf("material %q has no pipeline", material)
}

// NewPrefixSum creates the two step scan over the occupancy buffer.
func NewPrefixSum(elements uint32) *PrefixSum {
	return &PrefixSum{
		Base:     frame.NewBase("prefix-sum", gfx.ComputeQueue, 2, "prefix-sum"),
		elements: elements,
	}
}

// PrefixSum scans occupancy flags into offsets. The first submission
// scans every workgroup locally, the second adds the workgroup totals.
// Once both finished the total is read back and emitted.
type PrefixSum struct {
	frame.Base

	// OccupiedCount receives the number of occupied elements every frame.
	OccupiedCount frame.Signal[uint32]

	ctx      *render.Context
	elements uint32
	phase    uint32
}

// Setup implements interface
func (p *PrefixSum) Setup(ctx *render.Context) error {
	p.ctx = ctx
	size := uint64(p.elements) * 4
	if _, err := ctx.BuildBuffer(OccupancyBuffer, size, gfx.BufferUsageStorage|gfx.BufferUsageTransferDst); err != nil {
		return err
	}
	if _, err := ctx.BuildBuffer(PrefixBuffer, size, gfx.BufferUsageStorage|gfx.BufferUsageTransferSrc); err != nil {
		return err
	}
	if _, err := ctx.BuildShader(PrefixSumShader); err != nil {
		return err
	}
	set, err := ctx.BuildMaterial("prefix-sum", render.MaterialDesc{Shader: PrefixSumShader})
	if err != nil {
		return err
	}
	return set.Expose(
		[]render.Field{
			render.Uint("Scan", "count", &p.elements),
			render.Uint("Scan", "phase", &p.phase),
		},
		render.StorageBuffer(0, OccupancyBuffer),
		render.StorageBuffer(1, PrefixBuffer),
	)
}

// Prepare implements interface
func (p *PrefixSum) Prepare(ctx *render.Context, dt time.Duration) error {
	p.phase = uint32(p.Step())
	return nil
}

// Record implements interface
func (p *PrefixSum) Record(ctx *render.Context, cbs []gfx.CommandBuffer) error {
	pipeline, ok := ctx.Pipeline("prefix-sum")
	if !ok {
		return errNotReady("prefix-sum")
	}
	n := groups(int(p.elements), prefixLocalSize)
	for _, cb := range cbs {
		cb.BindPipeline(pipeline)
		cb.Dispatch(n, 1, 1)
		cb.Barrier()
	}
	return nil
}

// PostCommandSubmit implements interface
func (p *PrefixSum) PostCommandSubmit(state *render.PassState) {
	p.Base.PostCommandSubmit(state)
	if _, more := p.Pending(); more {
		return
	}
	// submissions are host-waited, the last offset is final here
	buf, ok := p.ctx.Buffer(PrefixBuffer)
	if !ok {
		return
	}
	last, err := buf.Read(uint64(p.elements-1)*4, 4)
	if err != nil {
		return
	}
	p.OccupiedCount.Emit(binary.LittleEndian.Uint32(last))
}
