// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver_test

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/frame/driver"
)

func TestCommandTypeString(t *testing.T) {
	assert.Equal(t, "graphics", driver.CGraphics.String())
	assert.Equal(t, "compute", driver.CCompute.String())
	assert.Equal(t, "copy", driver.CCopy.String())
}

func TestResourceStateString(t *testing.T) {
	seen := make(map[string]bool)
	for s := driver.SUndefined; s <= driver.SConstantBuffer; s++ {
		str := s.String()
		assert.NotEqual(t, "unknown", str, "ResourceState(%d).String", s)
		assert.False(t, seen[str], "ResourceState(%d).String: %q is not unique", s, str)
		seen[str] = true
	}
}

func TestRenderTarget2D(t *testing.T) {
	info := driver.RenderTarget2D(640, 480, gputypes.TextureFormatRGBA8Unorm)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 480, info.Height)
	assert.Equal(t, gputypes.TextureUsageRenderAttachment, info.Usage)
	assert.Equal(t, 1, info.Samples)
	assert.Equal(t, 1, info.MipLevels)
	assert.Equal(t, 1, info.ArrayLayers)
	assert.Equal(t, driver.SRenderTarget, info.InitialState)
}

func TestDepthStencilTarget(t *testing.T) {
	info := driver.DepthStencilTarget(640, 480, gputypes.TextureFormatDepth24PlusStencil8)
	assert.Equal(t, driver.SDepthWrite, info.InitialState)
	assert.Equal(t, float32(1), info.ClearDepth)
	assert.Equal(t, uint8(0xff), info.ClearStencil)
}

func TestViewInfoFrom(t *testing.T) {
	dev := gpu.Device()
	cinfo := driver.RenderTarget2D(64, 64, gputypes.TextureFormatBGRA8Unorm)
	color, err := dev.CreateImage(&cinfo)
	require.NoError(t, err, "Device.CreateImage")
	defer dev.DestroyImage(color)
	rinfo := driver.RTVInfoFrom(color)
	assert.Equal(t, color, rinfo.Image)
	assert.Equal(t, gputypes.TextureFormatBGRA8Unorm, rinfo.Format)
	assert.Equal(t, gputypes.LoadOpLoad, rinfo.LoadOp)
	assert.Equal(t, gputypes.StoreOpStore, rinfo.StoreOp)

	dinfo := driver.DepthStencilTarget(64, 64, gputypes.TextureFormatDepth32Float)
	depth, err := dev.CreateImage(&dinfo)
	require.NoError(t, err, "Device.CreateImage")
	defer dev.DestroyImage(depth)
	vinfo := driver.DSVInfoFrom(depth)
	assert.Equal(t, gputypes.TextureFormatDepth32Float, vinfo.Format)
	assert.Equal(t, gputypes.LoadOpLoad, vinfo.DepthLoadOp)
	assert.Equal(t, gputypes.LoadOpLoad, vinfo.StencilLoadOp)
}

func TestSetLogger(t *testing.T) {
	def := driver.Logger()
	require.NotNil(t, def, "driver.Logger: nil default")
	driver.SetLogger(nil)
	assert.NotNil(t, driver.Logger(), "driver.SetLogger(nil)")
}
