// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package swapchain_test

import (
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/driver/soft"
	"github.com/gviegas/frame/swapchain"
)

func xrInfo(c swapchain.Compositor, q driver.Queue, depth gputypes.TextureFormat) *swapchain.Info {
	return &swapchain.Info{
		Type:        swapchain.TXR,
		Width:       1440,
		Height:      1600,
		ColorFormat: gputypes.TextureFormatRGBA8UnormSrgb,
		DepthFormat: depth,
		Samples:     1,
		Queue:       q,
		Compositor:  c,
	}
}

func TestXR(t *testing.T) {
	dev := soft.NewDevice()
	q := dev.NewQueue(driver.CGraphics)
	comp := soft.NewCompositor(3)

	sc, err := swapchain.New(dev, xrInfo(comp, q, gputypes.TextureFormatDepth32Float))
	require.NoError(t, err, "swapchain.New")
	assert.Equal(t, 3, sc.ImageCount(), "sc.ImageCount: compositor count not used")
	assert.Equal(t, -1, sc.CurrentImageIndex())
	assert.True(t, sc.SkipExternalSync(), "sc.SkipExternalSync")
	assert.Equal(t, 2, comp.Chains())
	checkViews(t, sc, true)

	for i := range sc.ImageCount() {
		img, _ := sc.ColorImage(i)
		assert.Equal(t, driver.SRenderTarget, img.(*soft.Image).State(), "color image %d not transitioned", i)
	}

	sem, err := dev.NewSemaphore()
	require.NoError(t, err)
	_, err = sc.AcquireNextImage(time.Second, sem, nil)
	assert.ErrorIs(t, err, driver.ErrInvalidInfo, "sc.AcquireNextImage with semaphore")
	sem.Destroy()
	fence, err := dev.NewFence(false)
	require.NoError(t, err)
	_, err = sc.AcquireNextImage(time.Second, nil, fence)
	assert.ErrorIs(t, err, driver.ErrInvalidInfo, "sc.AcquireNextImage with fence")
	fence.Destroy()

	for i := range 4 {
		idx, err := sc.AcquireNextImage(time.Second, nil, nil)
		require.NoError(t, err, "sc.AcquireNextImage")
		assert.Equal(t, i%3, idx)
		assert.NoError(t, sc.Present(idx), "sc.Present")
	}
	assert.Equal(t, 0, q.Submits(), "XR swapchain submitted work")

	sc.Destroy()
	assert.Equal(t, soft.Counts{}, dev.Live(), "dev.Live after sc.Destroy")
	assert.Equal(t, 0, comp.Chains(), "image chains not destroyed")
}

func TestXRNoDepth(t *testing.T) {
	dev := soft.NewDevice()
	comp := soft.NewCompositor(2)
	// No queue: images are left undefined.
	sc, err := swapchain.New(dev, xrInfo(comp, nil, 0))
	require.NoError(t, err, "swapchain.New")
	defer sc.Destroy()
	assert.Equal(t, 1, comp.Chains())
	checkViews(t, sc, false)
	img, _ := sc.ColorImage(0)
	assert.Equal(t, driver.SUndefined, img.(*soft.Image).State())
}

func TestXRMismatch(t *testing.T) {
	dev := soft.NewDevice()
	comp := soft.NewCompositor(3)
	comp.SetDepthImageCount(2)
	_, err := swapchain.New(dev, xrInfo(comp, nil, depthFmt))
	assert.ErrorIs(t, err, driver.ErrIndexMismatch, "swapchain.New with different chain lengths")

	comp = soft.NewCompositor(3)
	comp.SetDepthSkew(1)
	sc, err := swapchain.New(dev, xrInfo(comp, nil, depthFmt))
	require.NoError(t, err, "swapchain.New")
	defer sc.Destroy()
	idx, err := sc.AcquireNextImage(time.Second, nil, nil)
	assert.ErrorIs(t, err, driver.ErrIndexMismatch, "sc.AcquireNextImage with skewed depth chain")
	assert.Equal(t, -1, idx)
}

func TestXRTimeout(t *testing.T) {
	dev := soft.NewDevice()
	comp := soft.NewCompositor(2)
	sc, err := swapchain.New(dev, xrInfo(comp, nil, 0))
	require.NoError(t, err, "swapchain.New")
	defer sc.Destroy()

	comp.QueueTimeouts(1)
	_, err = sc.AcquireNextImage(time.Millisecond, nil, nil)
	assert.ErrorIs(t, err, driver.ErrTimeout, "sc.AcquireNextImage: timeout")
	idx, err := sc.AcquireNextImage(time.Second, nil, nil)
	require.NoError(t, err, "sc.AcquireNextImage after timeout")
	assert.Equal(t, 0, idx, "timed out image not kept")
	idx, err = sc.AcquireNextImage(time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestXRTimeoutDepth(t *testing.T) {
	dev := soft.NewDevice()
	comp := soft.NewCompositor(3)
	sc, err := swapchain.New(dev, xrInfo(comp, nil, depthFmt))
	require.NoError(t, err, "swapchain.New")
	defer sc.Destroy()

	// Repeated timeouts must not move the color chain
	// ahead of the depth chain.
	comp.QueueTimeouts(2)
	for range 2 {
		_, err = sc.AcquireNextImage(time.Millisecond, nil, nil)
		assert.ErrorIs(t, err, driver.ErrTimeout, "sc.AcquireNextImage: timeout")
	}
	for i := range 4 {
		idx, err := sc.AcquireNextImage(time.Second, nil, nil)
		require.NoError(t, err, "sc.AcquireNextImage after timeout")
		assert.Equal(t, i%3, idx)
		assert.Equal(t, idx, sc.CurrentImageIndex())
	}
}
