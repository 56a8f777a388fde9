// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package dx12

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
)

// DescType is the type of a descriptor.
type DescType int

// Descriptor types.
const (
	DConstant DescType = iota
	DBuffer
	DTexture
	DImage
	DTexelBuffer
	DSampler
)

// Kind returns the kind of heap that stores descriptors
// of type t.
func (t DescType) Kind() HeapKind {
	if t == DSampler {
		return HeapSampler
	}
	return HeapGeneral
}

// Binding describes one binding of a descriptor set.
type Binding struct {
	Nr    int
	Type  DescType
	Count uint32
}

// DescriptorSet is the interface that defines a set of
// descriptors written in a CPU-only heap.
// The descriptors of each binding must be contiguous.
type DescriptorSet interface {
	// Set returns the set number.
	Set() int
	// Bindings returns the bindings of the set.
	Bindings() []Binding
	// CPUHandle returns the handle of the first
	// descriptor of the given binding.
	CPUHandle(binding int) CPUHandle
}

// PipelineInterface is the interface that defines the
// layout of a root signature.
//
// Binding an interface that compares equal to the current
// one keeps the bound tables. Values that are not
// comparable are always treated as a new interface.
type PipelineInterface interface {
	// RootSignature returns the native root signature.
	RootSignature() any
	// ParameterIndex returns the root parameter that
	// holds the descriptor table of the given binding.
	ParameterIndex(set, binding int) (param uint32, ok bool)
	// PushConstants returns the root parameter reserved
	// for inline constants and its size in 32-bit values.
	PushConstants() (param, count uint32, ok bool)
}

// Pipeline is the interface that defines a pipeline state
// object.
type Pipeline interface {
	Interface() PipelineInterface
	NativeState() any
}

// GraphicsPipeline is implemented by pipelines that can be
// bound with BindGraphicsPipeline.
type GraphicsPipeline interface {
	Pipeline
	Topology() gputypes.PrimitiveTopology
}

// BindPoint identifies the pipeline type that descriptor
// tables are bound to.
type BindPoint int

// Bind points.
const (
	BindGraphics BindPoint = iota
	BindCompute
)

// RootTable is a root descriptor table record.
type RootTable struct {
	Param uint32
	Base  GPUHandle
}

// heapArena allocates descriptors from a shader-visible
// heap. The offset only grows during a recording session.
type heapArena struct {
	heap DescriptorHeap
	off  int
}

func newHeapArena(dev NativeDevice, kind HeapKind, size int) (heapArena, error) {
	if size <= 0 {
		return heapArena{}, nil
	}
	heap, err := dev.CreateDescriptorHeap(kind, size, true)
	if err != nil {
		return heapArena{}, fmt.Errorf("dx12: %s heap: %w", kind, err)
	}
	return heapArena{heap: heap}, nil
}

// size returns the capacity of the heap.
func (a *heapArena) size() int {
	if a.heap == nil {
		return 0
	}
	return a.heap.Size()
}

// fits checks whether n descriptors can be allocated.
func (a *heapArena) fits(n int) bool { return a.off+n <= a.size() }

// alloc allocates n consecutive descriptors.
// The caller must check fits first.
func (a *heapArena) alloc(n int) (CPUHandle, GPUHandle) {
	inc := a.heap.Increment()
	cpu := a.heap.CPUStart() + CPUHandle(uint64(a.off)*inc)
	gpu := a.heap.GPUStart() + GPUHandle(uint64(a.off)*inc)
	a.off += n
	return cpu, gpu
}

func (a *heapArena) reset() { a.off = 0 }

func (a *heapArena) release() {
	if a.heap != nil {
		a.heap.Release()
		a.heap = nil
	}
	a.off = 0
}

// tableSet holds the root descriptor tables of one bind
// point, keyed by root parameter index.
type tableSet struct {
	pi     PipelineInterface
	tables [2]map[uint32]GPUHandle
}

func (s *tableSet) set(kind HeapKind, param uint32, base GPUHandle) {
	if s.tables[kind] == nil {
		s.tables[kind] = make(map[uint32]GPUHandle)
	}
	s.tables[kind][param] = base
}

func (s *tableSet) clear() {
	clear(s.tables[HeapGeneral])
	clear(s.tables[HeapSampler])
}

// sorted returns the tables of the given kind ordered by
// parameter index.
func (s *tableSet) sorted(kind HeapKind) []RootTable {
	rts := make([]RootTable, 0, len(s.tables[kind]))
	for param, base := range s.tables[kind] {
		rts = append(rts, RootTable{param, base})
	}
	slices.SortFunc(rts, func(a, b RootTable) int { return cmp.Compare(a.Param, b.Param) })
	return rts
}

// pendingTable is a table whose heap range has not been
// allocated yet.
type pendingTable struct {
	set   DescriptorSet
	nr    int
	kind  HeapKind
	count int
	param uint32
}

// planTables resolves the root parameter of every binding
// in sets and computes how many descriptors of each kind
// they need. It does not change any state.
func planTables(pi PipelineInterface, sets []DescriptorSet) (pend []pendingTable, need [2]int, err error) {
	for i, ds := range sets {
		if ds == nil {
			return nil, need, fmt.Errorf("dx12: descriptor set %d: %w", i, driver.ErrNullArg)
		}
		for _, b := range ds.Bindings() {
			if b.Count == 0 {
				continue
			}
			param, ok := pi.ParameterIndex(ds.Set(), b.Nr)
			if !ok {
				return nil, need, fmt.Errorf("dx12: set %d binding %d has no root parameter: %w", ds.Set(), b.Nr, driver.ErrTypeMismatch)
			}
			kind := b.Type.Kind()
			need[kind] += int(b.Count)
			pend = append(pend, pendingTable{ds, b.Nr, kind, int(b.Count), param})
		}
	}
	return
}
