// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package dx12 implements command recording for backends
// that use the descriptor heap binding model.
// Descriptor sets are not bound directly. Instead, their
// descriptors are copied into shader-visible heaps owned
// by the command buffer, and the resulting ranges are bound
// as root descriptor tables.
// The native API itself is abstracted by NativeDevice and
// CommandList, so the package can be used by a platform
// layer or by a software implementation.
package dx12

import (
	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
)

// HeapKind identifies a descriptor heap type.
type HeapKind int

// Descriptor heap kinds.
const (
	// Constant buffer, shader resource and unordered
	// access views.
	HeapGeneral HeapKind = iota
	// Samplers.
	HeapSampler
)

func (k HeapKind) String() string {
	switch k {
	case HeapGeneral:
		return "general"
	case HeapSampler:
		return "sampler"
	}
	return "unknown"
}

// CPUHandle is the CPU address of a descriptor.
type CPUHandle uint64

// GPUHandle is the GPU address of a descriptor in a
// shader-visible heap.
type GPUHandle uint64

// NativeDevice is the subset of the native device API
// used by command pools and command buffers.
type NativeDevice interface {
	CreateCommandAllocator(typ driver.CommandType) (Allocator, error)
	CreateCommandList(typ driver.CommandType, alloc Allocator) (CommandList, error)
	CreateDescriptorHeap(kind HeapKind, size int, shaderVisible bool) (DescriptorHeap, error)
	CopyDescriptors(n int, dst, src CPUHandle, kind HeapKind)
}

// Allocator is the native command allocator, which backs
// the memory of command lists.
type Allocator interface {
	Reset() error
	Release()
}

// DescriptorHeap is a native descriptor heap.
type DescriptorHeap interface {
	Kind() HeapKind
	Size() int
	CPUStart() CPUHandle
	GPUStart() GPUHandle
	// Increment is the distance between two consecutive
	// descriptors of the heap.
	Increment() uint64
	Release()
}

// AllSubresources identifies every subresource of a
// resource in a Barrier.
const AllSubresources = ^uint32(0)

// Barrier is a native transition barrier.
type Barrier struct {
	Resource    any
	Subresource uint32
	Before      driver.ResourceState
	After       driver.ResourceState
}

// ClearFlags selects the aspects cleared by
// ClearDepthStencilView.
type ClearFlags int

// Clear flags.
const (
	ClearDepth ClearFlags = 1 << iota
	ClearStencil
)

// IndexView is a native index buffer view.
type IndexView struct {
	Resource any
	Offset   int64
	Size     int64
	Format   gputypes.IndexFormat
}

// VertexView is a native vertex buffer view.
type VertexView struct {
	Resource any
	Offset   int64
	Size     int64
	Stride   uint32
}

// CopyLocation is the source or destination of a native
// texture copy. When Footprint is true, Resource is a
// buffer whose contents are laid out as described by
// Offset, Format, Extent and RowPitch. Otherwise it is an
// image subresource.
type CopyLocation struct {
	Resource    any
	Subresource uint32
	Footprint   bool
	Offset      int64
	Format      gputypes.TextureFormat
	Extent      gputypes.Extent3D
	RowPitch    uint32
}

// Box is a region of a copy source.
type Box struct {
	Left, Top, Front, Right, Bottom, Back uint32
}

// QueryType is the type of a query.
type QueryType int

// Query types.
const (
	QOcclusion QueryType = iota
	QTimestamp
	QPipelineStatistics
)

// CommandList is the native command list.
// Its methods map one-to-one to native calls and perform
// no validation.
type CommandList interface {
	Reset(alloc Allocator) error
	Close() error
	Release()

	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetGraphicsRootSignature(sig any)
	SetComputeRootSignature(sig any)
	SetGraphicsRootDescriptorTable(param uint32, base GPUHandle)
	SetComputeRootDescriptorTable(param uint32, base GPUHandle)
	SetGraphicsRoot32BitConstants(param uint32, values []uint32, dstOffset uint32)
	SetComputeRoot32BitConstants(param uint32, values []uint32, dstOffset uint32)

	ResourceBarrier(barriers []Barrier)

	RSSetViewports(vports []driver.Viewport)
	RSSetScissorRects(rects []driver.Rect)
	SetPipelineState(state any)
	IASetPrimitiveTopology(topology gputypes.PrimitiveTopology)
	IASetIndexBuffer(view *IndexView)
	IASetVertexBuffers(start uint32, views []VertexView)
	OMSetRenderTargets(rtvs []CPUHandle, dsv *CPUHandle)

	ClearRenderTargetView(rtv CPUHandle, color gputypes.Color)
	ClearDepthStencilView(dsv CPUHandle, flags ClearFlags, depth float32, stencil uint8)

	DrawInstanced(vertCount, instCount, baseVert, baseInst uint32)
	DrawIndexedInstanced(idxCount, instCount, baseIdx uint32, vertOff int32, baseInst uint32)
	Dispatch(x, y, z uint32)

	CopyBufferRegion(dst any, dstOff int64, src any, srcOff int64, size int64)
	CopyTextureRegion(dst *CopyLocation, x, y, z uint32, src *CopyLocation, box *Box)

	BeginQuery(heap any, typ QueryType, index uint32)
	EndQuery(heap any, typ QueryType, index uint32)
	ResolveQueryData(heap any, typ QueryType, start, n uint32, dst any, dstOff int64)
}

// Resource is implemented by images, buffers and query
// pools that wrap a native object.
type Resource interface {
	NativeResource() any
}

// View is implemented by render target and depth/stencil
// views that wrap a native descriptor.
type View interface {
	CPUHandle() CPUHandle
}
