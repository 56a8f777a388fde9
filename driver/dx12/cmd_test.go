// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package dx12_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/driver/dx12"
	"github.com/gviegas/frame/driver/soft"
)

// newCmdBuffer creates a command buffer from a new pool.
func newCmdBuffer(t *testing.T, typ driver.CommandType, general, sampler int) (*soft.Device, *dx12.CommandBuffer) {
	t.Helper()
	dev := soft.NewDevice()
	p, err := dx12.NewCommandPool(dev, typ)
	require.NoError(t, err, "dx12.NewCommandPool")
	t.Cleanup(p.Destroy)
	cb, err := p.NewCmdBuffer(&dx12.CmdBufferInfo{
		Type:               typ,
		GeneralDescriptors: general,
		SamplerDescriptors: sampler,
	})
	require.NoError(t, err, "p.NewCmdBuffer")
	return dev, cb
}

func listOf(cb *dx12.CommandBuffer) *soft.List { return cb.List().(*soft.List) }

// hasCall checks whether the list recorded a call with the
// given name.
func hasCall(l *soft.List, name string) bool {
	return slices.ContainsFunc(l.Calls(), func(c string) bool {
		return c == name || strings.HasPrefix(c, name+" ")
	})
}

// Set 0 has a buffer array and a sampler, set 1 has a
// texture array.
func testSets(t *testing.T, dev *soft.Device) (*soft.PipelineInterface, *soft.DescriptorSet, *soft.DescriptorSet) {
	t.Helper()
	pi := &soft.PipelineInterface{
		Name: "pi",
		Params: map[[2]int]uint32{
			{0, 0}: 0,
			{0, 1}: 1,
			{1, 0}: 2,
		},
		PushParam: 3,
		PushCount: 4,
		HasPush:   true,
	}
	set0, err := dev.NewDescriptorSet(0,
		dx12.Binding{Nr: 0, Type: dx12.DBuffer, Count: 2},
		dx12.Binding{Nr: 1, Type: dx12.DSampler, Count: 1},
	)
	require.NoError(t, err)
	set0.Write(0, 0, "buf0")
	set0.Write(0, 1, "buf1")
	set0.Write(1, 0, "smp0")
	set1, err := dev.NewDescriptorSet(1, dx12.Binding{Nr: 0, Type: dx12.DTexture, Count: 3})
	require.NoError(t, err)
	for i, s := range [...]string{"tex0", "tex1", "tex2"} {
		set1.Write(0, i, s)
	}
	return pi, set0, set1
}

func TestBeginEnd(t *testing.T) {
	_, cb := newCmdBuffer(t, driver.CGraphics, 4, 4)
	assert.ErrorIs(t, cb.End(), driver.ErrRecording, "cb.End without cb.Begin")
	require.NoError(t, cb.Begin())
	assert.True(t, cb.Recording())
	assert.True(t, listOf(cb).Open())
	assert.True(t, hasCall(listOf(cb), "SetDescriptorHeaps"), "heaps not set by cb.Begin")
	assert.ErrorIs(t, cb.Begin(), driver.ErrRecording, "cb.Begin twice")
	require.NoError(t, cb.End())
	assert.False(t, cb.Recording())
	assert.False(t, listOf(cb).Open())
}

func TestBindDescriptorSets(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CGraphics, 16, 4)
	pi, set0, set1 := testSets(t, dev)
	require.NoError(t, cb.Begin())

	require.NoError(t, cb.BindGraphicsDescriptorSets(pi, set0, set1), "cb.BindGraphicsDescriptorSets")
	g, s := cb.HeapOffsets()
	assert.Equal(t, 5, g, "general heap offset")
	assert.Equal(t, 1, s, "sampler heap offset")

	gen := cb.RootTables(dx12.BindGraphics, dx12.HeapGeneral)
	require.Len(t, gen, 2)
	assert.Equal(t, uint32(0), gen[0].Param)
	assert.Equal(t, uint32(2), gen[1].Param)
	smp := cb.RootTables(dx12.BindGraphics, dx12.HeapSampler)
	require.Len(t, smp, 1)
	assert.Equal(t, uint32(1), smp[0].Param)
	assert.Empty(t, cb.RootTables(dx12.BindCompute, dx12.HeapGeneral), "compute tables changed")

	// Descriptors are copied into the shader-visible heap.
	const inc = 32
	base := soft.CPUHandleOf(gen[0].Base)
	assert.Equal(t, "buf0", dev.Descriptor(base))
	assert.Equal(t, "buf1", dev.Descriptor(base+inc))
	base = soft.CPUHandleOf(gen[1].Base)
	for i, want := range [...]string{"tex0", "tex1", "tex2"} {
		assert.Equal(t, want, dev.Descriptor(base+dx12.CPUHandle(i*inc)))
	}
	assert.Equal(t, "smp0", dev.Descriptor(soft.CPUHandleOf(smp[0].Base)))

	// Rebinding replaces the tables of the same parameters.
	prev := gen[0].Base
	require.NoError(t, cb.BindGraphicsDescriptorSets(pi, set0), "cb.BindGraphicsDescriptorSets again")
	gen = cb.RootTables(dx12.BindGraphics, dx12.HeapGeneral)
	require.Len(t, gen, 2, "root tables duplicated")
	assert.NotEqual(t, prev, gen[0].Base, "table of parameter 0 not replaced")
	assert.Len(t, cb.RootTables(dx12.BindGraphics, dx12.HeapSampler), 1, "root tables duplicated")
	g, s = cb.HeapOffsets()
	assert.Equal(t, 7, g)
	assert.Equal(t, 2, s)
	assert.Len(t, listOf(cb).RootTableCalls(), 5)

	require.NoError(t, cb.End())

	// A new session starts from empty heaps.
	require.NoError(t, cb.Begin())
	g, s = cb.HeapOffsets()
	assert.Zero(t, g+s, "heap offsets not reset by cb.Begin")
	assert.Empty(t, cb.RootTables(dx12.BindGraphics, dx12.HeapGeneral), "root tables not reset by cb.Begin")
	require.NoError(t, cb.End())
}

func TestBindDescriptorSetsExhausted(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CCompute, 7, 4)
	pi, set0, set1 := testSets(t, dev)
	require.NoError(t, cb.Begin())

	require.NoError(t, cb.BindComputeDescriptorSets(pi, set1))
	require.NoError(t, cb.BindComputeDescriptorSets(pi, set0))
	tables := cb.RootTables(dx12.BindCompute, dx12.HeapGeneral)
	calls := len(listOf(cb).RootTableCalls())
	g, s := cb.HeapOffsets()
	require.Equal(t, 5, g)

	// Set 0 would fit on its own, but not along with set 1.
	err := cb.BindComputeDescriptorSets(pi, set0, set1)
	assert.ErrorIs(t, err, driver.ErrHeapExhausted, "cb.BindComputeDescriptorSets beyond heap capacity")
	g2, s2 := cb.HeapOffsets()
	assert.Equal(t, g, g2, "general heap offset changed by failed bind")
	assert.Equal(t, s, s2, "sampler heap offset changed by failed bind")
	assert.Equal(t, tables, cb.RootTables(dx12.BindCompute, dx12.HeapGeneral), "root tables changed by failed bind")
	assert.Len(t, listOf(cb).RootTableCalls(), calls, "tables set by failed bind")

	// Failed binds are not recording errors.
	assert.NoError(t, cb.End())
}

func TestBindDescriptorSetsInvalid(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CGraphics, 16, 4)
	pi, set0, _ := testSets(t, dev)

	assert.ErrorIs(t, cb.BindGraphicsDescriptorSets(pi, set0), driver.ErrRecording, "bind outside of recording session")
	require.NoError(t, cb.Begin())

	orphan, err := dev.NewDescriptorSet(2, dx12.Binding{Nr: 0, Type: dx12.DImage, Count: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, cb.BindGraphicsDescriptorSets(pi, set0, orphan), driver.ErrTypeMismatch, "bind of set with no root parameter")
	assert.ErrorIs(t, cb.BindGraphicsDescriptorSets(pi, set0, nil), driver.ErrNullArg, "bind of nil set")
	assert.ErrorIs(t, cb.BindGraphicsDescriptorSets(nil, set0), driver.ErrNullArg, "bind with nil interface")
	g, s := cb.HeapOffsets()
	assert.Zero(t, g+s, "heap space allocated by failed binds")
	assert.Empty(t, listOf(cb).RootTableCalls())

	// Empty bindings are skipped.
	empty, err := dev.NewDescriptorSet(2, dx12.Binding{Nr: 0, Type: dx12.DImage})
	require.NoError(t, err)
	assert.NoError(t, cb.BindGraphicsDescriptorSets(pi, empty))
	require.NoError(t, cb.End())
}

func TestBindComputeInCopy(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CCopy, 0, 0)
	pi, _, _ := testSets(t, dev)
	require.NoError(t, cb.Begin())
	assert.ErrorIs(t, cb.SetComputePipelineInterface(pi), driver.ErrTypeMismatch)
	assert.ErrorIs(t, cb.PushComputeConstants(pi, []uint32{1}, 0), driver.ErrTypeMismatch)
	require.NoError(t, cb.End())
}

func TestInterfaceSwitch(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CGraphics, 32, 8)
	pi, set0, set1 := testSets(t, dev)
	require.NoError(t, cb.Begin())

	require.NoError(t, cb.BindGraphicsDescriptorSets(pi, set0, set1))
	require.NoError(t, cb.BindComputeDescriptorSets(pi, set1))
	require.NoError(t, cb.SetGraphicsPipelineInterface(pi), "setting the same interface")
	assert.Len(t, cb.RootTables(dx12.BindGraphics, dx12.HeapGeneral), 2, "tables cleared by same interface")

	other := &soft.PipelineInterface{Name: "other", Params: pi.Params}
	require.NoError(t, cb.SetGraphicsPipelineInterface(other))
	assert.Empty(t, cb.RootTables(dx12.BindGraphics, dx12.HeapGeneral), "graphics tables not cleared")
	assert.Empty(t, cb.RootTables(dx12.BindGraphics, dx12.HeapSampler), "graphics tables not cleared")
	assert.Len(t, cb.RootTables(dx12.BindCompute, dx12.HeapGeneral), 1, "compute tables cleared")
	assert.Contains(t, listOf(cb).Calls(), "SetGraphicsRootSignature other")

	// Binding with a new interface switches to it first.
	require.NoError(t, cb.BindComputeDescriptorSets(other, set0))
	assert.Len(t, cb.RootTables(dx12.BindCompute, dx12.HeapGeneral), 1)
	assert.Len(t, cb.RootTables(dx12.BindCompute, dx12.HeapSampler), 1)
	require.NoError(t, cb.End())
}

// valueInterface is a pipeline interface that cannot be
// compared.
type valueInterface struct{ params []uint32 }

func (valueInterface) RootSignature() any { return "value" }

func (v valueInterface) ParameterIndex(_, binding int) (uint32, bool) {
	if binding < len(v.params) {
		return v.params[binding], true
	}
	return 0, false
}

func (valueInterface) PushConstants() (uint32, uint32, bool) { return 0, 0, false }

func TestInterfaceNotComparable(t *testing.T) {
	_, cb := newCmdBuffer(t, driver.CGraphics, 0, 0)
	require.NoError(t, cb.Begin())
	pi := valueInterface{params: []uint32{0}}
	assert.NotPanics(t, func() {
		require.NoError(t, cb.SetGraphicsPipelineInterface(pi))
		require.NoError(t, cb.SetGraphicsPipelineInterface(pi))
		require.NoError(t, cb.SetComputePipelineInterface(pi))
		require.NoError(t, cb.SetComputePipelineInterface(valueInterface{}))
	})
	n := 0
	for _, c := range listOf(cb).Calls() {
		if c == "SetGraphicsRootSignature value" {
			n++
		}
	}
	assert.Equal(t, 2, n, "root signature not set on every call")
	require.NoError(t, cb.End())
}

func TestPushConstants(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CGraphics, 0, 0)
	pi, _, _ := testSets(t, dev)
	require.NoError(t, cb.Begin())

	require.NoError(t, cb.PushGraphicsConstants(pi, []uint32{1, 2, 3, 4}, 0))
	require.NoError(t, cb.PushComputeConstants(pi, []uint32{5}, 3))
	assert.ErrorIs(t, cb.PushGraphicsConstants(pi, []uint32{6, 7}, 3), driver.ErrOutOfRange, "push beyond range")
	assert.ErrorIs(t, cb.PushGraphicsConstants(pi, nil, 5), driver.ErrOutOfRange, "push at offset beyond range")
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, listOf(cb).Constants())

	nopush := &soft.PipelineInterface{Name: "nopush"}
	assert.ErrorIs(t, cb.PushGraphicsConstants(nopush, []uint32{1}, 0), driver.ErrTypeMismatch, "push without push constants")
	g, s := cb.HeapOffsets()
	assert.Zero(t, g+s, "push constants allocated heap space")
	require.NoError(t, cb.End())
}

// pipeline creates a pipeline whose interface is pi.
func pipeline(pi *soft.PipelineInterface) *soft.Pipeline {
	return &soft.Pipeline{PI: pi, Name: "pl", Prim: gputypes.PrimitiveTopologyTriangleList}
}

func renderPass(t *testing.T, dev *soft.Device, depth bool) driver.RenderPass {
	t.Helper()
	cinfo := driver.RenderTarget2D(64, 64, gputypes.TextureFormatRGBA8Unorm)
	color, err := dev.CreateImage(&cinfo)
	require.NoError(t, err)
	rinfo := driver.RTVInfoFrom(color)
	rinfo.LoadOp = gputypes.LoadOpClear
	rtv, err := dev.CreateRenderTargetView(&rinfo)
	require.NoError(t, err)
	pinfo := driver.RenderPassInfo{
		Width:         64,
		Height:        64,
		RenderTargets: []driver.RenderTargetView{rtv},
		ClearColor:    []gputypes.Color{{R: 1, A: 1}},
		ClearDepth:    1,
	}
	if depth {
		dinfo := driver.DepthStencilTarget(64, 64, gputypes.TextureFormatDepth32Float)
		img, err := dev.CreateImage(&dinfo)
		require.NoError(t, err)
		vinfo := driver.DSVInfoFrom(img)
		vinfo.DepthLoadOp = gputypes.LoadOpClear
		vinfo.StencilLoadOp = gputypes.LoadOpClear
		pinfo.DepthStencil, err = dev.CreateDepthStencilView(&vinfo)
		require.NoError(t, err)
	}
	pass, err := dev.CreateRenderPass(&pinfo)
	require.NoError(t, err)
	return pass
}

func TestDraw(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CGraphics, 16, 4)
	pi, set0, _ := testSets(t, dev)
	pass := renderPass(t, dev, true)
	vbuf, err := dev.NewBuffer(1024)
	require.NoError(t, err)
	ibuf, err := dev.NewBuffer(256)
	require.NoError(t, err)

	require.NoError(t, cb.Begin())
	cb.BindGraphicsPipeline(pipeline(pi))
	require.NoError(t, cb.BindGraphicsDescriptorSets(pi, set0))
	cb.BeginRenderPass(&dx12.RenderPassBegin{Pass: pass, RenderArea: driver.Rect{Width: 64, Height: 64}})
	cb.SetViewports(driver.Viewport{Width: 64, Height: 64, Zfar: 1})
	cb.SetScissors(driver.Rect{Width: 64, Height: 64})
	cb.BindVertexBuffers(dx12.VertexBufferView{Buffer: vbuf, Stride: 16})
	cb.BindIndexBuffer(&dx12.IndexBufferView{Buffer: ibuf, Format: gputypes.IndexFormatUint16})
	cb.Draw(3, 1, 0, 0)
	cb.DrawIndexed(6, 1, 0, 0, 0)
	cb.EndRenderPass()
	require.NoError(t, cb.End(), "cb.End")

	calls := listOf(cb).Calls()
	for _, name := range [...]string{
		"SetGraphicsRootSignature pi",
		"SetPipelineState pl",
		"OMSetRenderTargets 1 true",
		"RSSetViewports 1",
		"RSSetScissorRects 1",
		"IASetVertexBuffers 0 1",
		"IASetIndexBuffer 0 256",
		"DrawInstanced 3 1 0 0",
		"DrawIndexedInstanced 6 1 0 0 0",
	} {
		assert.Contains(t, calls, name)
	}
	l := listOf(cb)
	assert.True(t, hasCall(l, "ClearRenderTargetView"), "clear render target not cleared")
	// Depth32Float has no stencil aspect.
	assert.True(t, slices.ContainsFunc(calls, func(c string) bool {
		return strings.HasPrefix(c, "ClearDepthStencilView") && strings.HasSuffix(c, " 1")
	}), "depth not cleared")
}

func TestDrawErrors(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CGraphics, 0, 0)
	pi, _, _ := testSets(t, dev)
	pass := renderPass(t, dev, false)

	// No pipeline interface.
	require.NoError(t, cb.Begin())
	cb.BeginRenderPass(&dx12.RenderPassBegin{Pass: pass})
	cb.Draw(3, 1, 0, 0)
	cb.EndRenderPass()
	err := cb.End()
	assert.ErrorIs(t, err, driver.ErrRecording, "cb.End after draw without interface")
	assert.False(t, hasCall(listOf(cb), "DrawInstanced"))

	// Outside of a render pass.
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetGraphicsPipelineInterface(pi))
	cb.Draw(3, 1, 0, 0)
	assert.ErrorIs(t, cb.End(), driver.ErrRecording, "cb.End after draw outside of render pass")

	// Render pass not ended.
	require.NoError(t, cb.Begin())
	cb.BeginRenderPass(&dx12.RenderPassBegin{Pass: pass})
	assert.ErrorIs(t, cb.End(), driver.ErrRecording, "cb.End inside of render pass")

	// The first error is kept.
	require.NoError(t, cb.Begin())
	cb.BeginRenderPass(nil)
	cb.EndRenderPass()
	err = cb.End()
	assert.ErrorIs(t, err, driver.ErrNullArg, "cb.End after nil render pass")

	// Errors do not outlive the session.
	require.NoError(t, cb.Begin())
	assert.NoError(t, cb.End())

	// Commands outside of a session are ignored.
	cb.Draw(3, 1, 0, 0)
	require.NoError(t, cb.Begin())
	assert.NoError(t, cb.End())
}

func TestDispatch(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CCompute, 8, 0)
	pi, _, set1 := testSets(t, dev)

	require.NoError(t, cb.Begin())
	cb.BindComputePipeline(pipeline(pi))
	require.NoError(t, cb.BindComputeDescriptorSets(pi, set1))
	cb.Dispatch(8, 4, 1)
	require.NoError(t, cb.End())
	assert.Contains(t, listOf(cb).Calls(), "Dispatch 8 4 1")
	assert.Contains(t, listOf(cb).Calls(), "SetComputeRootSignature pi")

	// Compute buffers cannot draw.
	require.NoError(t, cb.Begin())
	cb.SetViewports(driver.Viewport{Width: 1, Height: 1})
	assert.ErrorIs(t, cb.End(), driver.ErrTypeMismatch)

	require.NoError(t, cb.Begin())
	cb.Dispatch(1, 1, 1)
	assert.ErrorIs(t, cb.End(), driver.ErrRecording, "cb.End after dispatch without interface")

	// Graphics buffers can dispatch, but not inside of a
	// render pass.
	gdev, gcb := newCmdBuffer(t, driver.CGraphics, 0, 0)
	gpi, _, _ := testSets(t, gdev)
	pass := renderPass(t, gdev, false)
	require.NoError(t, gcb.Begin())
	require.NoError(t, gcb.SetComputePipelineInterface(gpi))
	gcb.Dispatch(1, 1, 1)
	require.NoError(t, gcb.End())
	assert.Contains(t, listOf(gcb).Calls(), "Dispatch 1 1 1")

	require.NoError(t, gcb.Begin())
	require.NoError(t, gcb.SetComputePipelineInterface(gpi))
	gcb.BeginRenderPass(&dx12.RenderPassBegin{Pass: pass})
	gcb.Dispatch(1, 1, 1)
	gcb.EndRenderPass()
	assert.ErrorIs(t, gcb.End(), driver.ErrRecording, "cb.End after dispatch inside of render pass")
}

func TestTransitionImageLayout(t *testing.T) {
	dev, cb := newCmdBuffer(t, driver.CGraphics, 0, 0)
	info := driver.RenderTarget2D(256, 256, gputypes.TextureFormatRGBA8Unorm)
	info.MipLevels = 3
	info.ArrayLayers = 2
	img, err := dev.CreateImage(&info)
	require.NoError(t, err)
	res := img.(*soft.Image).NativeResource()

	require.NoError(t, cb.Begin())
	cb.TransitionImageLayout(img, gputypes.ImageSubresourceRange{}, driver.SUndefined, driver.SShaderRead, nil, nil)
	bars := listOf(cb).Barriers()
	require.Len(t, bars, 1)
	assert.Equal(t, dx12.Barrier{
		Resource:    res,
		Subresource: dx12.AllSubresources,
		Before:      driver.SUndefined,
		After:       driver.SShaderRead,
	}, bars[0])

	two, one := uint32(2), uint32(1)
	cb.TransitionImageLayout(img, gputypes.ImageSubresourceRange{
		BaseMipLevel:    1,
		MipLevelCount:   &two,
		BaseArrayLayer:  1,
		ArrayLayerCount: &one,
	}, driver.SShaderRead, driver.SCopyDst, nil, nil)
	bars = listOf(cb).Barriers()[1:]
	require.Len(t, bars, 2)
	assert.Equal(t, uint32(1+1*3), bars[0].Subresource)
	assert.Equal(t, uint32(2+1*3), bars[1].Subresource)

	// Identical states record nothing.
	cb.TransitionImageLayout(img, gputypes.ImageSubresourceRange{}, driver.SCopyDst, driver.SCopyDst, nil, nil)
	assert.Len(t, listOf(cb).Barriers(), 3)
	require.NoError(t, cb.End())

	require.NoError(t, cb.Begin())
	cb.TransitionImageLayout(img, gputypes.ImageSubresourceRange{BaseMipLevel: 2, MipLevelCount: &two}, driver.SCopyDst, driver.SShaderRead, nil, nil)
	assert.ErrorIs(t, cb.End(), driver.ErrOutOfRange, "transition of range outside of image")

	buf, err := dev.NewBuffer(64)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	cb.BufferResourceBarrier(buf, driver.SCopyDst, driver.SVertexBuffer, nil, nil)
	require.NoError(t, cb.End())
	bars = listOf(cb).Barriers()
	require.Len(t, bars, 1)
	assert.Equal(t, dx12.AllSubresources, bars[0].Subresource)
	assert.Equal(t, buf, bars[0].Resource)
}
