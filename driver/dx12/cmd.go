// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package dx12

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/frame/driver"
)

// CommandBuffer implements driver.CmdBuffer using a native
// command list and a pair of shader-visible descriptor
// heaps that it owns exclusively.
// Methods that do not return an error report misuse by
// recording it; End returns the first such error.
// A CommandBuffer must not be used concurrently.
type CommandBuffer struct {
	pool  *CommandPool
	slot  int
	typ   driver.CommandType
	list  CommandList
	heaps [2]heapArena
	binds [2]tableSet

	recording bool
	inPass    bool
	err       error
}

// Type returns the type of commands that cb records.
func (cb *CommandBuffer) Type() driver.CommandType { return cb.typ }

// Begin starts a new recording session.
// It resets the command list, the descriptor heap offsets,
// the root descriptor tables and the bound pipeline
// interfaces.
func (cb *CommandBuffer) Begin() error {
	if cb.list == nil {
		return fmt.Errorf("dx12: command buffer was destroyed: %w", driver.ErrNotPermitted)
	}
	if cb.recording {
		return fmt.Errorf("dx12: Begin called twice: %w", driver.ErrRecording)
	}
	if err := cb.list.Reset(cb.pool.alloc); err != nil {
		return fmt.Errorf("dx12: command list reset: %w: %w", driver.ErrBackend, err)
	}
	cb.err = nil
	cb.inPass = false
	for i := range cb.heaps {
		cb.heaps[i].reset()
	}
	for i := range cb.binds {
		cb.binds[i].pi = nil
		cb.binds[i].clear()
	}
	var heaps []DescriptorHeap
	for i := range cb.heaps {
		if cb.heaps[i].heap != nil {
			heaps = append(heaps, cb.heaps[i].heap)
		}
	}
	if len(heaps) > 0 {
		cb.list.SetDescriptorHeaps(heaps...)
	}
	cb.recording = true
	return nil
}

// End finishes the recording session.
// It returns the first error that was recorded during the
// session, if any.
func (cb *CommandBuffer) End() error {
	if !cb.recording {
		return fmt.Errorf("dx12: End called without Begin: %w", driver.ErrRecording)
	}
	cb.recording = false
	if cb.inPass {
		cb.inPass = false
		cb.fail(errors.New("dx12: render pass not ended"))
	}
	if err := cb.list.Close(); err != nil && cb.err == nil {
		cb.err = fmt.Errorf("dx12: command list close: %w: %w", driver.ErrBackend, err)
	}
	return cb.err
}

// Recording returns whether cb is in a recording session.
func (cb *CommandBuffer) Recording() bool { return cb.recording }

// List returns the native command list, or nil if cb was
// destroyed.
func (cb *CommandBuffer) List() CommandList { return cb.list }

// fail records err as a recording error.
// Only the first error of a session is kept.
func (cb *CommandBuffer) fail(err error) {
	if !errors.Is(err, driver.ErrRecording) && !errors.Is(err, driver.ErrNullArg) &&
		!errors.Is(err, driver.ErrOutOfRange) && !errors.Is(err, driver.ErrTypeMismatch) {
		err = fmt.Errorf("%w: %w", driver.ErrRecording, err)
	}
	driver.Logger().WithError(err).Debug("dx12: recording error")
	if cb.err == nil {
		cb.err = err
	}
}

// ready checks whether commands can be recorded.
func (cb *CommandBuffer) ready() bool {
	if !cb.recording {
		driver.Logger().Warn("dx12: command recorded outside of a recording session")
		return false
	}
	return true
}

// needType checks that cb can record commands of the
// given type. Graphics command buffers can record every
// type of command.
func (cb *CommandBuffer) needType(typ driver.CommandType) bool {
	if cb.typ == typ || cb.typ == driver.CGraphics {
		return true
	}
	cb.fail(fmt.Errorf("dx12: %s command in %s command buffer: %w", typ, cb.typ, driver.ErrTypeMismatch))
	return false
}

// setInterface makes pi the interface of bind point bp.
// Changing the interface invalidates the root descriptor
// tables of bp, which must be bound again.
func (cb *CommandBuffer) setInterface(bp BindPoint, pi PipelineInterface) {
	if sameInterface(cb.binds[bp].pi, pi) {
		return
	}
	cb.binds[bp].pi = pi
	cb.binds[bp].clear()
	if bp == BindGraphics {
		cb.list.SetGraphicsRootSignature(pi.RootSignature())
	} else {
		cb.list.SetComputeRootSignature(pi.RootSignature())
	}
}

// sameInterface reports whether a and b are the same
// interface. Values that cannot be compared are never the
// same.
func sameInterface(a, b PipelineInterface) bool {
	if a == nil || b == nil {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}

func (cb *CommandBuffer) checkBind(bp BindPoint, pi PipelineInterface) error {
	if !cb.recording {
		return fmt.Errorf("dx12: not recording: %w", driver.ErrRecording)
	}
	if pi == nil {
		return fmt.Errorf("dx12: nil pipeline interface: %w", driver.ErrNullArg)
	}
	typ := driver.CGraphics
	if bp == BindCompute {
		typ = driver.CCompute
	}
	if cb.typ != typ && cb.typ != driver.CGraphics {
		return fmt.Errorf("dx12: %s binding in %s command buffer: %w", typ, cb.typ, driver.ErrTypeMismatch)
	}
	return nil
}

// SetGraphicsPipelineInterface sets the graphics root
// signature.
func (cb *CommandBuffer) SetGraphicsPipelineInterface(pi PipelineInterface) error {
	if err := cb.checkBind(BindGraphics, pi); err != nil {
		return err
	}
	cb.setInterface(BindGraphics, pi)
	return nil
}

// SetComputePipelineInterface sets the compute root
// signature.
func (cb *CommandBuffer) SetComputePipelineInterface(pi PipelineInterface) error {
	if err := cb.checkBind(BindCompute, pi); err != nil {
		return err
	}
	cb.setInterface(BindCompute, pi)
	return nil
}

// BindGraphicsDescriptorSets binds descriptor sets for use
// by draw commands.
// It fails with driver.ErrHeapExhausted if the sets do not
// fit in the remaining heap space, in which case nothing
// is recorded.
func (cb *CommandBuffer) BindGraphicsDescriptorSets(pi PipelineInterface, sets ...DescriptorSet) error {
	return cb.bindDescriptorSets(BindGraphics, pi, sets)
}

// BindComputeDescriptorSets binds descriptor sets for use
// by dispatch commands.
// It fails with driver.ErrHeapExhausted if the sets do not
// fit in the remaining heap space, in which case nothing
// is recorded.
func (cb *CommandBuffer) BindComputeDescriptorSets(pi PipelineInterface, sets ...DescriptorSet) error {
	return cb.bindDescriptorSets(BindCompute, pi, sets)
}

func (cb *CommandBuffer) bindDescriptorSets(bp BindPoint, pi PipelineInterface, sets []DescriptorSet) error {
	if err := cb.checkBind(bp, pi); err != nil {
		return err
	}
	pend, need, err := planTables(pi, sets)
	if err != nil {
		return err
	}
	for kind := range cb.heaps {
		if a := &cb.heaps[kind]; !a.fits(need[kind]) {
			return fmt.Errorf("dx12: %d %s descriptors needed, %d available: %w",
				need[kind], HeapKind(kind), a.size()-a.off, driver.ErrHeapExhausted)
		}
	}

	cb.setInterface(bp, pi)
	dev := cb.pool.dev
	for _, p := range pend {
		cpu, gpu := cb.heaps[p.kind].alloc(p.count)
		dev.CopyDescriptors(p.count, cpu, p.set.CPUHandle(p.nr), p.kind)
		cb.binds[bp].set(p.kind, p.param, gpu)
		if bp == BindGraphics {
			cb.list.SetGraphicsRootDescriptorTable(p.param, gpu)
		} else {
			cb.list.SetComputeRootDescriptorTable(p.param, gpu)
		}
	}
	driver.Logger().WithFields(logrus.Fields{
		"sets":    len(sets),
		"general": cb.heaps[HeapGeneral].off,
		"sampler": cb.heaps[HeapSampler].off,
	}).Debug("dx12: descriptor sets bound")
	return nil
}

// PushGraphicsConstants writes values into the inline
// constants of the graphics root signature, starting at
// the 32-bit value dstOffset.
func (cb *CommandBuffer) PushGraphicsConstants(pi PipelineInterface, values []uint32, dstOffset uint32) error {
	return cb.pushConstants(BindGraphics, pi, values, dstOffset)
}

// PushComputeConstants writes values into the inline
// constants of the compute root signature, starting at
// the 32-bit value dstOffset.
func (cb *CommandBuffer) PushComputeConstants(pi PipelineInterface, values []uint32, dstOffset uint32) error {
	return cb.pushConstants(BindCompute, pi, values, dstOffset)
}

func (cb *CommandBuffer) pushConstants(bp BindPoint, pi PipelineInterface, values []uint32, dstOffset uint32) error {
	if err := cb.checkBind(bp, pi); err != nil {
		return err
	}
	param, count, ok := pi.PushConstants()
	if !ok {
		return fmt.Errorf("dx12: pipeline interface has no push constants: %w", driver.ErrTypeMismatch)
	}
	if uint64(dstOffset)+uint64(len(values)) > uint64(count) {
		return fmt.Errorf("dx12: %d push constants at offset %d exceed %d: %w",
			len(values), dstOffset, count, driver.ErrOutOfRange)
	}
	if len(values) == 0 {
		return nil
	}
	cb.setInterface(bp, pi)
	if bp == BindGraphics {
		cb.list.SetGraphicsRoot32BitConstants(param, values, dstOffset)
	} else {
		cb.list.SetComputeRoot32BitConstants(param, values, dstOffset)
	}
	return nil
}

// RootTables returns the root descriptor tables of the
// given kind that are bound to bp, ordered by root
// parameter index.
func (cb *CommandBuffer) RootTables(bp BindPoint, kind HeapKind) []RootTable {
	return cb.binds[bp].sorted(kind)
}

// HeapOffsets returns the number of descriptors allocated
// from each heap in the current recording session.
func (cb *CommandBuffer) HeapOffsets() (general, sampler int) {
	return cb.heaps[HeapGeneral].off, cb.heaps[HeapSampler].off
}

// HeapSizes returns the capacity of each heap.
func (cb *CommandBuffer) HeapSizes() (general, sampler int) {
	return cb.heaps[HeapGeneral].size(), cb.heaps[HeapSampler].size()
}

func nativeOf(x any, what string) (any, error) {
	if x == nil {
		return nil, fmt.Errorf("dx12: nil %s: %w", what, driver.ErrNullArg)
	}
	r, ok := x.(Resource)
	if !ok {
		return nil, fmt.Errorf("dx12: %s %T has no native resource: %w", what, x, driver.ErrTypeMismatch)
	}
	return r.NativeResource(), nil
}

func handleOf(x any, what string) (CPUHandle, error) {
	v, ok := x.(View)
	if !ok {
		return 0, fmt.Errorf("dx12: %s %T has no descriptor: %w", what, x, driver.ErrTypeMismatch)
	}
	return v.CPUHandle(), nil
}

// TransitionImageLayout records a transition barrier for
// the given subresources of img.
// Barriers are not tracked: the caller supplies both
// states. Queue ownership is implicit in this model, so
// src and dst are ignored.
func (cb *CommandBuffer) TransitionImageLayout(img driver.Image, rng gputypes.ImageSubresourceRange, before, after driver.ResourceState, src, dst driver.Queue) {
	if !cb.ready() || before == after {
		return
	}
	res, err := nativeOf(img, "image")
	if err != nil {
		cb.fail(err)
		return
	}
	info := img.Info()
	mips, layers := uint32(max(info.MipLevels, 1)), uint32(max(info.ArrayLayers, 1))
	if rng.IsFullResource(mips, layers) {
		cb.list.ResourceBarrier([]Barrier{{res, AllSubresources, before, after}})
		return
	}
	mipCount := mips - min(rng.BaseMipLevel, mips)
	if rng.MipLevelCount != nil {
		mipCount = *rng.MipLevelCount
	}
	layerCount := layers - min(rng.BaseArrayLayer, layers)
	if rng.ArrayLayerCount != nil {
		layerCount = *rng.ArrayLayerCount
	}
	if mipCount == 0 || layerCount == 0 ||
		uint64(rng.BaseMipLevel)+uint64(mipCount) > uint64(mips) ||
		uint64(rng.BaseArrayLayer)+uint64(layerCount) > uint64(layers) {
		cb.fail(fmt.Errorf("dx12: subresource range outside of %dx%d image: %w", mips, layers, driver.ErrOutOfRange))
		return
	}
	bars := make([]Barrier, 0, mipCount*layerCount)
	for l := rng.BaseArrayLayer; l < rng.BaseArrayLayer+layerCount; l++ {
		for m := rng.BaseMipLevel; m < rng.BaseMipLevel+mipCount; m++ {
			bars = append(bars, Barrier{res, m + l*mips, before, after})
		}
	}
	cb.list.ResourceBarrier(bars)
}

// BufferResourceBarrier records a transition barrier for
// buf. As with TransitionImageLayout, src and dst are
// ignored.
func (cb *CommandBuffer) BufferResourceBarrier(buf driver.Buffer, before, after driver.ResourceState, src, dst driver.Queue) {
	if !cb.ready() || before == after {
		return
	}
	res, err := nativeOf(buf, "buffer")
	if err != nil {
		cb.fail(err)
		return
	}
	cb.list.ResourceBarrier([]Barrier{{res, AllSubresources, before, after}})
}

// RenderPassBegin describes the start of a render pass.
type RenderPassBegin struct {
	Pass       driver.RenderPass
	RenderArea driver.Rect
}

// BeginRenderPass sets the render targets of the pass and
// clears the ones whose load operation is
// gputypes.LoadOpClear.
func (cb *CommandBuffer) BeginRenderPass(begin *RenderPassBegin) {
	if !cb.ready() || !cb.needType(driver.CGraphics) {
		return
	}
	if cb.inPass {
		cb.fail(errors.New("dx12: render pass already begun"))
		return
	}
	if begin == nil || begin.Pass == nil {
		cb.fail(fmt.Errorf("dx12: nil render pass: %w", driver.ErrNullArg))
		return
	}
	info := begin.Pass.Info()
	rtvs := make([]CPUHandle, len(info.RenderTargets))
	for i, rt := range info.RenderTargets {
		h, err := handleOf(rt, "render target view")
		if err != nil {
			cb.fail(err)
			return
		}
		rtvs[i] = h
	}
	var dsv *CPUHandle
	if info.DepthStencil != nil {
		h, err := handleOf(info.DepthStencil, "depth/stencil view")
		if err != nil {
			cb.fail(err)
			return
		}
		dsv = &h
	}
	cb.list.OMSetRenderTargets(rtvs, dsv)
	for i, rt := range info.RenderTargets {
		if rt.Info().LoadOp != gputypes.LoadOpClear {
			continue
		}
		var color gputypes.Color
		if i < len(info.ClearColor) {
			color = info.ClearColor[i]
		}
		cb.list.ClearRenderTargetView(rtvs[i], color)
	}
	if dsv != nil {
		var flags ClearFlags
		ds := info.DepthStencil.Info()
		if ds.DepthLoadOp == gputypes.LoadOpClear {
			flags |= ClearDepth
		}
		if ds.StencilLoadOp == gputypes.LoadOpClear && ds.Format.HasStencil() {
			flags |= ClearStencil
		}
		if flags != 0 {
			cb.list.ClearDepthStencilView(*dsv, flags, info.ClearDepth, info.ClearStencil)
		}
	}
	cb.inPass = true
}

// EndRenderPass ends the current render pass.
func (cb *CommandBuffer) EndRenderPass() {
	if !cb.ready() {
		return
	}
	if !cb.inPass {
		cb.fail(errors.New("dx12: no render pass to end"))
		return
	}
	cb.inPass = false
}

// ClearRenderTarget clears the image of rtv to color.
func (cb *CommandBuffer) ClearRenderTarget(rtv driver.RenderTargetView, color gputypes.Color) {
	if !cb.ready() || !cb.needType(driver.CGraphics) {
		return
	}
	h, err := handleOf(rtv, "render target view")
	if err != nil {
		cb.fail(err)
		return
	}
	cb.list.ClearRenderTargetView(h, color)
}

// ClearDepthStencil clears the aspects of dsv's image that
// flags selects.
func (cb *CommandBuffer) ClearDepthStencil(dsv driver.DepthStencilView, depth float32, stencil uint8, flags ClearFlags) {
	if !cb.ready() || !cb.needType(driver.CGraphics) {
		return
	}
	h, err := handleOf(dsv, "depth/stencil view")
	if err != nil {
		cb.fail(err)
		return
	}
	if flags&(ClearDepth|ClearStencil) == 0 {
		return
	}
	cb.list.ClearDepthStencilView(h, flags, depth, stencil)
}

// SetViewports sets the viewports.
func (cb *CommandBuffer) SetViewports(vports ...driver.Viewport) {
	if !cb.ready() || !cb.needType(driver.CGraphics) || len(vports) == 0 {
		return
	}
	cb.list.RSSetViewports(vports)
}

// SetScissors sets the scissor rectangles.
func (cb *CommandBuffer) SetScissors(rects ...driver.Rect) {
	if !cb.ready() || !cb.needType(driver.CGraphics) || len(rects) == 0 {
		return
	}
	cb.list.RSSetScissorRects(rects)
}

// BindGraphicsPipeline sets the graphics pipeline state
// and its pipeline interface.
func (cb *CommandBuffer) BindGraphicsPipeline(pl GraphicsPipeline) {
	if !cb.ready() {
		return
	}
	if pl == nil {
		cb.fail(fmt.Errorf("dx12: nil graphics pipeline: %w", driver.ErrNullArg))
		return
	}
	if err := cb.SetGraphicsPipelineInterface(pl.Interface()); err != nil {
		cb.fail(err)
		return
	}
	cb.list.SetPipelineState(pl.NativeState())
	cb.list.IASetPrimitiveTopology(pl.Topology())
}

// BindComputePipeline sets the compute pipeline state and
// its pipeline interface.
func (cb *CommandBuffer) BindComputePipeline(pl Pipeline) {
	if !cb.ready() {
		return
	}
	if pl == nil {
		cb.fail(fmt.Errorf("dx12: nil compute pipeline: %w", driver.ErrNullArg))
		return
	}
	if err := cb.SetComputePipelineInterface(pl.Interface()); err != nil {
		cb.fail(err)
		return
	}
	cb.list.SetPipelineState(pl.NativeState())
}

// IndexBufferView describes an index buffer binding.
type IndexBufferView struct {
	Buffer driver.Buffer
	Offset int64
	Format gputypes.IndexFormat
}

// VertexBufferView describes a vertex buffer binding.
type VertexBufferView struct {
	Buffer driver.Buffer
	Offset int64
	Stride uint32
}

// BindIndexBuffer sets the index buffer.
func (cb *CommandBuffer) BindIndexBuffer(view *IndexBufferView) {
	if !cb.ready() || !cb.needType(driver.CGraphics) {
		return
	}
	if view == nil {
		cb.fail(fmt.Errorf("dx12: nil index buffer view: %w", driver.ErrNullArg))
		return
	}
	res, err := nativeOf(view.Buffer, "index buffer")
	if err != nil {
		cb.fail(err)
		return
	}
	if view.Format.Size() == 0 {
		cb.fail(fmt.Errorf("dx12: index format %s: %w", view.Format, driver.ErrTypeMismatch))
		return
	}
	size := view.Buffer.Size() - view.Offset
	if view.Offset < 0 || size < 0 {
		cb.fail(fmt.Errorf("dx12: index buffer offset %d: %w", view.Offset, driver.ErrOutOfRange))
		return
	}
	cb.list.IASetIndexBuffer(&IndexView{res, view.Offset, size, view.Format})
}

// BindVertexBuffers sets the vertex buffers, starting at
// input slot 0.
func (cb *CommandBuffer) BindVertexBuffers(views ...VertexBufferView) {
	if !cb.ready() || !cb.needType(driver.CGraphics) || len(views) == 0 {
		return
	}
	vvs := make([]VertexView, len(views))
	for i, v := range views {
		res, err := nativeOf(v.Buffer, "vertex buffer")
		if err != nil {
			cb.fail(err)
			return
		}
		size := v.Buffer.Size() - v.Offset
		if v.Offset < 0 || size < 0 {
			cb.fail(fmt.Errorf("dx12: vertex buffer %d offset %d: %w", i, v.Offset, driver.ErrOutOfRange))
			return
		}
		vvs[i] = VertexView{res, v.Offset, size, v.Stride}
	}
	cb.list.IASetVertexBuffers(0, vvs)
}

func (cb *CommandBuffer) canDraw() bool {
	if !cb.ready() || !cb.needType(driver.CGraphics) {
		return false
	}
	switch {
	case cb.binds[BindGraphics].pi == nil:
		cb.fail(errors.New("dx12: draw without a graphics pipeline interface"))
	case !cb.inPass:
		cb.fail(errors.New("dx12: draw outside of a render pass"))
	default:
		return true
	}
	return false
}

// Draw draws primitives.
func (cb *CommandBuffer) Draw(vertCount, instCount, baseVert, baseInst uint32) {
	if cb.canDraw() {
		cb.list.DrawInstanced(vertCount, instCount, baseVert, baseInst)
	}
}

// DrawIndexed draws indexed primitives.
func (cb *CommandBuffer) DrawIndexed(idxCount, instCount, baseIdx uint32, vertOff int32, baseInst uint32) {
	if cb.canDraw() {
		cb.list.DrawIndexedInstanced(idxCount, instCount, baseIdx, vertOff, baseInst)
	}
}

// Dispatch dispatches compute thread groups.
func (cb *CommandBuffer) Dispatch(x, y, z uint32) {
	if !cb.ready() || !cb.needType(driver.CCompute) {
		return
	}
	switch {
	case cb.binds[BindCompute].pi == nil:
		cb.fail(errors.New("dx12: dispatch without a compute pipeline interface"))
	case cb.inPass:
		cb.fail(errors.New("dx12: dispatch inside of a render pass"))
	default:
		cb.list.Dispatch(x, y, z)
	}
}
