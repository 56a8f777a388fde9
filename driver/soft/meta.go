// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/driver/dx12"
)

// DescriptorSet implements dx12.DescriptorSet.
// Its descriptors live in CPU-only memory of the device.
type DescriptorSet struct {
	d        *Device
	set      int
	bindings []dx12.Binding
	base     map[int]dx12.CPUHandle
}

// NewDescriptorSet creates a new descriptor set.
func (d *Device) NewDescriptorSet(set int, bindings ...dx12.Binding) (*DescriptorSet, error) {
	ds := &DescriptorSet{
		d:        d,
		set:      set,
		bindings: append([]dx12.Binding(nil), bindings...),
		base:     make(map[int]dx12.CPUHandle, len(bindings)),
	}
	for _, b := range bindings {
		if _, dup := ds.base[b.Nr]; dup {
			return nil, fmt.Errorf("soft: duplicate binding %d: %w", b.Nr, driver.ErrInvalidInfo)
		}
		ds.base[b.Nr] = d.handles(int(b.Count))
	}
	return ds, nil
}

// Set returns the set number.
func (ds *DescriptorSet) Set() int { return ds.set }

// Bindings returns the bindings of the set.
func (ds *DescriptorSet) Bindings() []dx12.Binding { return ds.bindings }

// CPUHandle returns the handle of the first descriptor of
// binding.
func (ds *DescriptorSet) CPUHandle(binding int) dx12.CPUHandle { return ds.base[binding] }

// Write writes the contents of descriptor i of binding.
func (ds *DescriptorSet) Write(binding, i int, contents string) {
	ds.d.WriteDescriptor(ds.base[binding]+dx12.CPUHandle(i*descIncrement), contents)
}

// PipelineInterface implements dx12.PipelineInterface.
type PipelineInterface struct {
	Name      string
	Params    map[[2]int]uint32
	PushParam uint32
	PushCount uint32
	HasPush   bool
}

// RootSignature returns pi.Name.
func (pi *PipelineInterface) RootSignature() any { return pi.Name }

// ParameterIndex returns the root parameter of the given
// set and binding.
func (pi *PipelineInterface) ParameterIndex(set, binding int) (uint32, bool) {
	param, ok := pi.Params[[2]int{set, binding}]
	return param, ok
}

// PushConstants returns the push constant range.
func (pi *PipelineInterface) PushConstants() (uint32, uint32, bool) {
	return pi.PushParam, pi.PushCount, pi.HasPush
}

// Pipeline implements dx12.GraphicsPipeline.
type Pipeline struct {
	PI   *PipelineInterface
	Name string
	Prim gputypes.PrimitiveTopology
}

// Interface returns the pipeline interface.
func (p *Pipeline) Interface() dx12.PipelineInterface { return p.PI }

// NativeState returns p.Name.
func (p *Pipeline) NativeState() any { return p.Name }

// Topology returns p.Prim.
func (p *Pipeline) Topology() gputypes.PrimitiveTopology { return p.Prim }

// Query implements dx12.Query.
type Query struct {
	typ     dx12.QueryType
	count   uint32
	resolve *Buffer
}

// NewQuery creates a new query pool whose results are
// resolved into a new buffer.
func (d *Device) NewQuery(typ dx12.QueryType, count uint32) (*Query, error) {
	if count == 0 {
		return nil, fmt.Errorf("soft: empty query pool: %w", driver.ErrInvalidInfo)
	}
	sz := int64(8)
	if typ == dx12.QPipelineStatistics {
		sz = 11 * 8
	}
	buf, err := d.NewBuffer(sz * int64(count))
	if err != nil {
		return nil, err
	}
	return &Query{typ, count, buf}, nil
}

// NativeResource returns q itself.
func (q *Query) NativeResource() any { return q }

// Type returns the query type.
func (q *Query) Type() dx12.QueryType { return q.typ }

// Count returns the number of queries.
func (q *Query) Count() uint32 { return q.count }

// ResolveBuffer returns the resolve buffer.
func (q *Query) ResolveBuffer() driver.Buffer { return q.resolve }
