// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package swapchain implements the frame acquisition and
// presentation state machine.
// A Swapchain owns a fixed number of frame images, along
// with the views and render passes used to draw into them.
// How images are obtained, acquired and presented depends
// on the swapchain type: surface swapchains delegate to a
// platform presenter, virtual swapchains simulate
// presentation with no display, and XR swapchains use
// images supplied by a compositor.
// A Swapchain is not safe for concurrent use.
package swapchain

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/frame/driver"
)

// Type is the type of a swapchain.
type Type int

// Swapchain types.
const (
	TSurface Type = iota
	TVirtual
	TXR
)

func (t Type) String() string {
	switch t {
	case TSurface:
		return "surface"
	case TVirtual:
		return "virtual"
	case TXR:
		return "xr"
	}
	return "unknown"
}

// ParseType parses the name of a swapchain type.
func ParseType(s string) (Type, error) {
	for _, t := range [...]Type{TSurface, TVirtual, TXR} {
		if s == t.String() {
			return t, nil
		}
	}
	return 0, fmt.Errorf("swapchain: unknown type %q: %w", s, driver.ErrInvalidInfo)
}

// Info describes a swapchain.
type Info struct {
	Type   Type
	Width  int
	Height int
	// ColorFormat must be a color format.
	ColorFormat gputypes.TextureFormat
	// DepthFormat is either gputypes.TextureFormatUndefined,
	// in which case no depth images are created, or a
	// format with a depth aspect.
	DepthFormat gputypes.TextureFormat
	// ImageCount is the requested number of images.
	// The actual number may be greater for TSurface and
	// is chosen by the compositor for TXR.
	ImageCount  int
	PresentMode gputypes.PresentMode
	Samples     int

	// Queue is required by TVirtual.
	Queue driver.Queue
	// Surface is required by TSurface.
	// It is not owned by the swapchain.
	Surface Surface
	// Compositor is required by TXR.
	// It is not owned by the swapchain.
	Compositor Compositor
}

// validate checks the fields that every type of swapchain
// uses.
func (info *Info) validate() error {
	switch {
	case info.Width <= 0 || info.Height <= 0:
		return fmt.Errorf("swapchain: invalid extent %dx%d: %w", info.Width, info.Height, driver.ErrInvalidInfo)
	case info.ColorFormat == gputypes.TextureFormatUndefined || info.ColorFormat.IsDepthStencil():
		return fmt.Errorf("swapchain: invalid color format %s: %w", info.ColorFormat, driver.ErrInvalidInfo)
	case info.DepthFormat != gputypes.TextureFormatUndefined && !info.DepthFormat.HasDepth():
		return fmt.Errorf("swapchain: invalid depth format %s: %w", info.DepthFormat, driver.ErrInvalidInfo)
	case info.Samples < 0:
		return fmt.Errorf("swapchain: invalid sample count %d: %w", info.Samples, driver.ErrInvalidInfo)
	}
	switch info.Type {
	case TSurface, TVirtual:
		if info.ImageCount <= 0 {
			return fmt.Errorf("swapchain: invalid image count %d: %w", info.ImageCount, driver.ErrInvalidInfo)
		}
	case TXR:
	default:
		return fmt.Errorf("swapchain: unknown type %d: %w", info.Type, driver.ErrInvalidInfo)
	}
	return nil
}

// backend is the interface that each type of swapchain
// implements.
type backend interface {
	// createInternal creates the color images and, if
	// requested, the depth images.
	createInternal(sc *Swapchain) error
	destroyInternal(sc *Swapchain)
	acquire(sc *Swapchain, timeout time.Duration, sem driver.Semaphore, fence driver.Fence) (int, error)
	present(sc *Swapchain, index int, wait []driver.Semaphore) error
	skipExternalSync() bool
}

// Swapchain is a rotating set of frame images.
type Swapchain struct {
	dev  driver.Device
	info Info
	impl backend
	cur  int

	color       []driver.Image
	depth       []driver.Image
	clearRTVs   []driver.RenderTargetView
	loadRTVs    []driver.RenderTargetView
	dsvs        []driver.DepthStencilView
	clearPasses []driver.RenderPass
	loadPasses  []driver.RenderPass

	destroyed bool
}

// New creates a new swapchain.
// Creation happens in phases: the type-specific images
// are created first, the image count is then corrected to
// the number of images actually created, and finally the
// render target views and render passes are created for
// every image.
// If any phase fails, New returns the error immediately.
// Objects created by earlier phases are not destroyed in
// that case.
func New(dev driver.Device, info *Info) (*Swapchain, error) {
	if dev == nil {
		return nil, fmt.Errorf("swapchain: nil device: %w", driver.ErrNullArg)
	}
	if info == nil {
		return nil, fmt.Errorf("swapchain: nil info: %w", driver.ErrNullArg)
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	sc := &Swapchain{dev: dev, info: *info, cur: -1}
	switch info.Type {
	case TSurface:
		sc.impl = &surfaceBackend{}
	case TVirtual:
		sc.impl = &virtualBackend{}
	case TXR:
		sc.impl = &xrBackend{}
	}
	if err := sc.impl.createInternal(sc); err != nil {
		return nil, err
	}
	if len(sc.color) == 0 {
		return nil, fmt.Errorf("swapchain: no color images: %w", driver.ErrImageCount)
	}
	sc.info.ImageCount = len(sc.color)
	if err := sc.createRenderTargets(); err != nil {
		return nil, err
	}
	if err := sc.createRenderPasses(); err != nil {
		return nil, err
	}
	driver.Logger().WithFields(logrus.Fields{
		"type":   sc.info.Type,
		"width":  sc.info.Width,
		"height": sc.info.Height,
		"images": sc.info.ImageCount,
	}).Info("swapchain created")
	return sc, nil
}

// colorInfo returns the info of the color images created
// by the swapchain itself.
func (sc *Swapchain) colorInfo() driver.ImageInfo {
	info := driver.RenderTarget2D(sc.info.Width, sc.info.Height, sc.info.ColorFormat)
	info.Samples = max(sc.info.Samples, 1)
	info.Restricted = true
	return info
}

func (sc *Swapchain) depthInfo() driver.ImageInfo {
	info := driver.DepthStencilTarget(sc.info.Width, sc.info.Height, sc.info.DepthFormat)
	info.Samples = max(sc.info.Samples, 1)
	info.Restricted = true
	return info
}

// createDepthImages creates one depth image per color
// image, unless no depth format was requested.
func (sc *Swapchain) createDepthImages() error {
	if sc.info.DepthFormat == gputypes.TextureFormatUndefined {
		return nil
	}
	if len(sc.depth) != 0 {
		return fmt.Errorf("swapchain: depth images already exist: %w", driver.ErrNotPermitted)
	}
	for range sc.info.ImageCount {
		info := sc.depthInfo()
		img, err := sc.dev.CreateImage(&info)
		if err != nil {
			return fmt.Errorf("swapchain: depth image: %w", err)
		}
		sc.depth = append(sc.depth, img)
	}
	return nil
}

// wrapImages creates images that wrap the given native
// handles.
func (sc *Swapchain) wrapImages(natives []any, base driver.ImageInfo) ([]driver.Image, error) {
	imgs := make([]driver.Image, 0, len(natives))
	for _, n := range natives {
		info := base
		info.Native = n
		img, err := sc.dev.CreateImage(&info)
		if err != nil {
			return imgs, err
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}

func (sc *Swapchain) createRenderTargets() error {
	for i, img := range sc.color {
		info := driver.RTVInfoFrom(img)
		info.LoadOp = gputypes.LoadOpClear
		info.Restricted = true
		rtv, err := sc.dev.CreateRenderTargetView(&info)
		if err != nil {
			return fmt.Errorf("swapchain: clear render target view %d: %w", i, err)
		}
		sc.clearRTVs = append(sc.clearRTVs, rtv)

		info.LoadOp = gputypes.LoadOpLoad
		if rtv, err = sc.dev.CreateRenderTargetView(&info); err != nil {
			return fmt.Errorf("swapchain: load render target view %d: %w", i, err)
		}
		sc.loadRTVs = append(sc.loadRTVs, rtv)

		if len(sc.depth) == 0 {
			continue
		}
		dinfo := driver.DSVInfoFrom(sc.depth[i])
		dinfo.DepthLoadOp = gputypes.LoadOpClear
		dinfo.StencilLoadOp = gputypes.LoadOpClear
		dinfo.Restricted = true
		dsv, err := sc.dev.CreateDepthStencilView(&dinfo)
		if err != nil {
			return fmt.Errorf("swapchain: depth/stencil view %d: %w", i, err)
		}
		sc.dsvs = append(sc.dsvs, dsv)
	}
	return nil
}

func (sc *Swapchain) createRenderPasses() error {
	for _, x := range [...]struct {
		rtvs   []driver.RenderTargetView
		passes *[]driver.RenderPass
		name   string
	}{
		{sc.clearRTVs, &sc.clearPasses, "clear"},
		{sc.loadRTVs, &sc.loadPasses, "load"},
	} {
		for i, rtv := range x.rtvs {
			info := driver.RenderPassInfo{
				Width:         sc.info.Width,
				Height:        sc.info.Height,
				RenderTargets: []driver.RenderTargetView{rtv},
				ClearColor:    []gputypes.Color{{}},
				ClearDepth:    1,
				ClearStencil:  0xff,
				Restricted:    true,
			}
			if len(sc.dsvs) != 0 {
				info.DepthStencil = sc.dsvs[i]
			}
			pass, err := sc.dev.CreateRenderPass(&info)
			if err != nil {
				return fmt.Errorf("swapchain: %s render pass %d: %w", x.name, i, err)
			}
			*x.passes = append(*x.passes, pass)
		}
	}
	return nil
}

// Destroy destroys the swapchain.
// Objects are destroyed in the reverse order of creation:
// render passes, views, depth images, color images and
// then the type-specific objects.
// It must only be called on swapchains returned by a
// successful call to New. Calling it again has no effect.
func (sc *Swapchain) Destroy() {
	if sc.destroyed {
		driver.Logger().WithField("type", sc.info.Type).Warn("swapchain destroyed twice")
		return
	}
	for _, p := range sc.clearPasses {
		sc.dev.DestroyRenderPass(p)
	}
	for _, p := range sc.loadPasses {
		sc.dev.DestroyRenderPass(p)
	}
	sc.clearPasses, sc.loadPasses = nil, nil

	for _, v := range sc.clearRTVs {
		sc.dev.DestroyRenderTargetView(v)
	}
	for _, v := range sc.loadRTVs {
		sc.dev.DestroyRenderTargetView(v)
	}
	for _, v := range sc.dsvs {
		sc.dev.DestroyDepthStencilView(v)
	}
	sc.clearRTVs, sc.loadRTVs, sc.dsvs = nil, nil, nil

	for _, img := range sc.depth {
		sc.dev.DestroyImage(img)
	}
	sc.depth = nil
	for _, img := range sc.color {
		sc.dev.DestroyImage(img)
	}
	sc.color = nil

	sc.impl.destroyInternal(sc)
	sc.destroyed = true
	sc.cur = -1
	driver.Logger().WithField("type", sc.info.Type).Info("swapchain destroyed")
}

// Type returns the swapchain type.
func (sc *Swapchain) Type() Type { return sc.info.Type }

// Width returns the width of the images.
func (sc *Swapchain) Width() int { return sc.info.Width }

// Height returns the height of the images.
func (sc *Swapchain) Height() int { return sc.info.Height }

// ImageCount returns the actual number of images.
func (sc *Swapchain) ImageCount() int { return sc.info.ImageCount }

// ColorFormat returns the format of the color images.
func (sc *Swapchain) ColorFormat() gputypes.TextureFormat { return sc.info.ColorFormat }

// DepthFormat returns the format of the depth images.
func (sc *Swapchain) DepthFormat() gputypes.TextureFormat { return sc.info.DepthFormat }

// PresentMode returns the presentation mode.
func (sc *Swapchain) PresentMode() gputypes.PresentMode { return sc.info.PresentMode }

// CurrentImageIndex returns the index of the most recently
// acquired image.
// Before the first acquisition it is -1, except for TVirtual
// swapchains, where it is ImageCount()-1.
func (sc *Swapchain) CurrentImageIndex() int { return sc.cur }

func checkIndex(index, n int, what string) error {
	if index < 0 || index >= n {
		return fmt.Errorf("swapchain: %s index %d not in [0, %d): %w", what, index, n, driver.ErrOutOfRange)
	}
	return nil
}

// ColorImage returns the color image at index.
func (sc *Swapchain) ColorImage(index int) (driver.Image, error) {
	if err := checkIndex(index, len(sc.color), "color image"); err != nil {
		return nil, err
	}
	return sc.color[index], nil
}

// DepthImage returns the depth image at index.
// It fails with driver.ErrOutOfRange for every index if
// the swapchain has no depth images.
func (sc *Swapchain) DepthImage(index int) (driver.Image, error) {
	if err := checkIndex(index, len(sc.depth), "depth image"); err != nil {
		return nil, err
	}
	return sc.depth[index], nil
}

// RenderPass returns the render pass of the image at index.
// If op is gputypes.LoadOpClear, the pass clears the
// image. Otherwise, it preserves its contents.
func (sc *Swapchain) RenderPass(index int, op gputypes.LoadOp) (driver.RenderPass, error) {
	if err := checkIndex(index, len(sc.clearPasses), "render pass"); err != nil {
		return nil, err
	}
	if op == gputypes.LoadOpClear {
		return sc.clearPasses[index], nil
	}
	return sc.loadPasses[index], nil
}

// RenderTargetView returns the color view of the image at
// index. op selects the view as in RenderPass.
func (sc *Swapchain) RenderTargetView(index int, op gputypes.LoadOp) (driver.RenderTargetView, error) {
	if err := checkIndex(index, len(sc.clearRTVs), "render target view"); err != nil {
		return nil, err
	}
	if op == gputypes.LoadOpClear {
		return sc.clearRTVs[index], nil
	}
	return sc.loadRTVs[index], nil
}

// DepthStencilView returns the depth/stencil view of the
// image at index.
func (sc *Swapchain) DepthStencilView(index int) (driver.DepthStencilView, error) {
	if err := checkIndex(index, len(sc.dsvs), "depth/stencil view"); err != nil {
		return nil, err
	}
	return sc.dsvs[index], nil
}

// AcquireNextImage acquires the next writable image.
// sem and fence, if not nil, are signaled when the image
// can be written to.
// It fails with driver.ErrTimeout if no image became
// available within timeout, in which case the caller may
// try again. Any other error means that the swapchain
// can no longer be used.
func (sc *Swapchain) AcquireNextImage(timeout time.Duration, sem driver.Semaphore, fence driver.Fence) (int, error) {
	if sc.destroyed {
		return -1, fmt.Errorf("swapchain: acquire after Destroy: %w", driver.ErrNotPermitted)
	}
	index, err := sc.impl.acquire(sc, timeout, sem, fence)
	if err != nil {
		if !errors.Is(err, driver.ErrTimeout) {
			driver.Logger().WithError(err).WithField("type", sc.info.Type).Error("swapchain acquire failed")
		}
		return -1, err
	}
	sc.cur = index
	driver.Logger().WithFields(logrus.Fields{
		"type":  sc.info.Type,
		"index": index,
	}).Debug("image acquired")
	return index, nil
}

// Present presents the image at index once every
// semaphore in wait is signaled.
// The image must not be written to until it is acquired
// again.
func (sc *Swapchain) Present(index int, wait ...driver.Semaphore) error {
	if sc.destroyed {
		return fmt.Errorf("swapchain: present after Destroy: %w", driver.ErrNotPermitted)
	}
	if err := checkIndex(index, sc.info.ImageCount, "present"); err != nil {
		return err
	}
	return sc.impl.present(sc, index, wait)
}

// Resize is not supported by any swapchain type: images
// are sized at creation, so the swapchain must be
// destroyed and created again with the new extent.
func (sc *Swapchain) Resize(width, height int) error {
	return fmt.Errorf("swapchain: resize of %s swapchain to %dx%d: %w", sc.info.Type, width, height, driver.ErrUnsupported)
}

// SkipExternalSync reports whether the caller should not
// wait on or signal semaphores when submitting work that
// uses the swapchain images. It is true only for TXR, whose
// compositor orders image access itself.
func (sc *Swapchain) SkipExternalSync() bool { return sc.impl.skipExternalSync() }
