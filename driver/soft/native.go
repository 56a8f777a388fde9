// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/driver/dx12"
)

// descIncrement is the distance between two consecutive
// descriptor handles.
const descIncrement = 32

// gpuBit is set in every GPU handle so that GPU and CPU
// handles of the same descriptor differ.
const gpuBit = 1 << 48

// WriteDescriptor writes the contents of the descriptor
// at h.
func (d *Device) WriteDescriptor(h dx12.CPUHandle, contents string) {
	d.mu.Lock()
	d.desc[h] = contents
	d.mu.Unlock()
}

// Descriptor returns the contents of the descriptor at h.
func (d *Device) Descriptor(h dx12.CPUHandle) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desc[h]
}

// CopyDescriptors copies n descriptors from src to dst.
func (d *Device) CopyDescriptors(n int, dst, src dx12.CPUHandle, _ dx12.HeapKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range n {
		off := dx12.CPUHandle(i * descIncrement)
		if s, ok := d.desc[src+off]; ok {
			d.desc[dst+off] = s
		} else {
			delete(d.desc, dst+off)
		}
	}
}

// Allocator implements dx12.Allocator.
type Allocator struct {
	d      *Device
	typ    driver.CommandType
	resets int
}

// Reset resets the allocator.
func (a *Allocator) Reset() error {
	a.resets++
	return nil
}

// Resets returns the number of calls to Reset.
func (a *Allocator) Resets() int { return a.resets }

// Release releases the allocator.
func (a *Allocator) Release() {
	if a.d != nil {
		a.d.destroy(allocators)
		a.d = nil
	}
}

// CreateCommandAllocator creates a new command allocator.
func (d *Device) CreateCommandAllocator(typ driver.CommandType) (dx12.Allocator, error) {
	if err := d.create(allocators); err != nil {
		return nil, err
	}
	return &Allocator{d: d, typ: typ}, nil
}

// DescriptorHeap implements dx12.DescriptorHeap.
type DescriptorHeap struct {
	d       *Device
	kind    dx12.HeapKind
	size    int
	start   dx12.CPUHandle
	visible bool
}

// Kind returns the heap kind.
func (h *DescriptorHeap) Kind() dx12.HeapKind { return h.kind }

// Size returns the number of descriptors in the heap.
func (h *DescriptorHeap) Size() int { return h.size }

// CPUStart returns the handle of the first descriptor.
func (h *DescriptorHeap) CPUStart() dx12.CPUHandle { return h.start }

// GPUStart returns the GPU handle of the first
// descriptor, or 0 if the heap is not shader-visible.
func (h *DescriptorHeap) GPUStart() dx12.GPUHandle {
	if !h.visible {
		return 0
	}
	return dx12.GPUHandle(h.start) | gpuBit
}

// Increment returns the handle increment.
func (*DescriptorHeap) Increment() uint64 { return descIncrement }

// Release releases the heap.
func (h *DescriptorHeap) Release() {
	if h.d != nil {
		h.d.destroy(heaps)
		h.d = nil
	}
}

// CPUHandleOf converts a GPU handle of a shader-visible
// heap to the CPU handle of the same descriptor.
func CPUHandleOf(h dx12.GPUHandle) dx12.CPUHandle {
	return dx12.CPUHandle(h &^ gpuBit)
}

// CreateDescriptorHeap creates a new descriptor heap.
func (d *Device) CreateDescriptorHeap(kind dx12.HeapKind, size int, shaderVisible bool) (dx12.DescriptorHeap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("soft: descriptor heap size %d: %w", size, driver.ErrInvalidInfo)
	}
	if err := d.create(heaps); err != nil {
		return nil, err
	}
	return &DescriptorHeap{
		d:       d,
		kind:    kind,
		size:    size,
		start:   d.handles(size),
		visible: shaderVisible,
	}, nil
}

// RootTableCall is a descriptor table set on a List.
type RootTableCall struct {
	Compute bool
	Param   uint32
	Base    dx12.GPUHandle
}

// List implements dx12.CommandList.
// It keeps a log of the calls made since the last Reset.
type List struct {
	d    *Device
	typ  driver.CommandType
	open bool

	mu       sync.Mutex
	calls    []string
	tables   []RootTableCall
	barriers []dx12.Barrier
	consts   []uint32
}

// CreateCommandList creates a new command list, in the
// recording state.
func (d *Device) CreateCommandList(typ driver.CommandType, alloc dx12.Allocator) (dx12.CommandList, error) {
	if alloc == nil {
		return nil, driver.ErrNullArg
	}
	if a, ok := alloc.(*Allocator); !ok || a.typ != typ {
		return nil, fmt.Errorf("soft: allocator %T for %s list: %w", alloc, typ, driver.ErrTypeMismatch)
	}
	if err := d.create(lists); err != nil {
		return nil, err
	}
	return &List{d: d, typ: typ, open: true}, nil
}

func (l *List) log(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

// Calls returns the calls made since the last Reset.
// Each call is formatted as its name followed by its
// arguments.
func (l *List) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// RootTableCalls returns the descriptor tables set since
// the last Reset.
func (l *List) RootTableCalls() []RootTableCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RootTableCall(nil), l.tables...)
}

// Barriers returns the barriers recorded since the last
// Reset.
func (l *List) Barriers() []dx12.Barrier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dx12.Barrier(nil), l.barriers...)
}

// Constants returns the inline constants written since
// the last Reset, in call order.
func (l *List) Constants() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint32(nil), l.consts...)
}

// Open returns whether l is in the recording state.
func (l *List) Open() bool { return l.open }

// Reset clears the call log and reopens the list.
func (l *List) Reset(alloc dx12.Allocator) error {
	if l.open {
		return fmt.Errorf("soft: reset of open command list: %w", driver.ErrNotPermitted)
	}
	if alloc == nil {
		return driver.ErrNullArg
	}
	l.mu.Lock()
	l.calls, l.tables, l.barriers, l.consts = nil, nil, nil, nil
	l.mu.Unlock()
	l.open = true
	return nil
}

// Close closes the list.
func (l *List) Close() error {
	if !l.open {
		return fmt.Errorf("soft: close of closed command list: %w", driver.ErrNotPermitted)
	}
	l.open = false
	return nil
}

// Release releases the list.
func (l *List) Release() {
	if l.d != nil {
		l.d.destroy(lists)
		l.d = nil
	}
}

func (l *List) SetDescriptorHeaps(heaps ...dx12.DescriptorHeap) {
	l.log("SetDescriptorHeaps %d", len(heaps))
}

func (l *List) SetGraphicsRootSignature(sig any) { l.log("SetGraphicsRootSignature %v", sig) }

func (l *List) SetComputeRootSignature(sig any) { l.log("SetComputeRootSignature %v", sig) }

func (l *List) SetGraphicsRootDescriptorTable(param uint32, base dx12.GPUHandle) {
	l.log("SetGraphicsRootDescriptorTable %d", param)
	l.mu.Lock()
	l.tables = append(l.tables, RootTableCall{false, param, base})
	l.mu.Unlock()
}

func (l *List) SetComputeRootDescriptorTable(param uint32, base dx12.GPUHandle) {
	l.log("SetComputeRootDescriptorTable %d", param)
	l.mu.Lock()
	l.tables = append(l.tables, RootTableCall{true, param, base})
	l.mu.Unlock()
}

func (l *List) SetGraphicsRoot32BitConstants(param uint32, values []uint32, dstOffset uint32) {
	l.log("SetGraphicsRoot32BitConstants %d %d %d", param, len(values), dstOffset)
	l.mu.Lock()
	l.consts = append(l.consts, values...)
	l.mu.Unlock()
}

func (l *List) SetComputeRoot32BitConstants(param uint32, values []uint32, dstOffset uint32) {
	l.log("SetComputeRoot32BitConstants %d %d %d", param, len(values), dstOffset)
	l.mu.Lock()
	l.consts = append(l.consts, values...)
	l.mu.Unlock()
}

func (l *List) ResourceBarrier(barriers []dx12.Barrier) {
	l.log("ResourceBarrier %d", len(barriers))
	l.mu.Lock()
	l.barriers = append(l.barriers, barriers...)
	l.mu.Unlock()
}

func (l *List) RSSetViewports(vports []driver.Viewport) { l.log("RSSetViewports %d", len(vports)) }

func (l *List) RSSetScissorRects(rects []driver.Rect) { l.log("RSSetScissorRects %d", len(rects)) }

func (l *List) SetPipelineState(state any) { l.log("SetPipelineState %v", state) }

func (l *List) IASetPrimitiveTopology(topology gputypes.PrimitiveTopology) {
	l.log("IASetPrimitiveTopology %v", topology)
}

func (l *List) IASetIndexBuffer(view *dx12.IndexView) {
	l.log("IASetIndexBuffer %d %d", view.Offset, view.Size)
}

func (l *List) IASetVertexBuffers(start uint32, views []dx12.VertexView) {
	l.log("IASetVertexBuffers %d %d", start, len(views))
}

func (l *List) OMSetRenderTargets(rtvs []dx12.CPUHandle, dsv *dx12.CPUHandle) {
	l.log("OMSetRenderTargets %d %t", len(rtvs), dsv != nil)
}

func (l *List) ClearRenderTargetView(rtv dx12.CPUHandle, color gputypes.Color) {
	l.log("ClearRenderTargetView %#x", uint64(rtv))
}

func (l *List) ClearDepthStencilView(dsv dx12.CPUHandle, flags dx12.ClearFlags, depth float32, stencil uint8) {
	l.log("ClearDepthStencilView %#x %d", uint64(dsv), flags)
}

func (l *List) DrawInstanced(vertCount, instCount, baseVert, baseInst uint32) {
	l.log("DrawInstanced %d %d %d %d", vertCount, instCount, baseVert, baseInst)
}

func (l *List) DrawIndexedInstanced(idxCount, instCount, baseIdx uint32, vertOff int32, baseInst uint32) {
	l.log("DrawIndexedInstanced %d %d %d %d %d", idxCount, instCount, baseIdx, vertOff, baseInst)
}

func (l *List) Dispatch(x, y, z uint32) { l.log("Dispatch %d %d %d", x, y, z) }

func (l *List) CopyBufferRegion(dst any, dstOff int64, src any, srcOff int64, size int64) {
	l.log("CopyBufferRegion %d %d %d", dstOff, srcOff, size)
}

func (l *List) CopyTextureRegion(dst *dx12.CopyLocation, x, y, z uint32, src *dx12.CopyLocation, box *dx12.Box) {
	l.log("CopyTextureRegion %t %d %d %d %t", dst.Footprint, x, y, z, src.Footprint)
}

func (l *List) BeginQuery(heap any, typ dx12.QueryType, index uint32) {
	l.log("BeginQuery %d %d", typ, index)
}

func (l *List) EndQuery(heap any, typ dx12.QueryType, index uint32) {
	l.log("EndQuery %d %d", typ, index)
}

func (l *List) ResolveQueryData(heap any, typ dx12.QueryType, start, n uint32, dst any, dstOff int64) {
	l.log("ResolveQueryData %d %d %d %d", typ, start, n, dstOff)
}
