// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/driver/dx12"
)

// ErrInjected is the error returned by operations that
// fail because of a knob set by the caller.
var ErrInjected = errors.New("soft: injected failure")

// Counts holds the number of live objects of a Device.
type Counts struct {
	Images       int
	RTVs         int
	DSVs         int
	RenderPasses int
	Semaphores   int
	Fences       int
	CmdBuffers   int
	Allocators   int
	Lists        int
	Heaps        int
}

// Device implements driver.Device and dx12.NativeDevice.
// It is safe for concurrent use.
type Device struct {
	mu    sync.Mutex
	live  Counts
	fail  int
	nimg  uint64
	nextH uint64
	// Descriptor memory, addressed by CPU handle.
	desc map[dx12.CPUHandle]string
}

// NewDevice creates a new device.
func NewDevice() *Device {
	return &Device{
		fail:  -1,
		nextH: 1 << 16,
		desc:  make(map[dx12.CPUHandle]string),
	}
}

// FailAfter causes creation calls to fail with ErrInjected
// after n more calls succeed. A negative n disables
// failures.
func (d *Device) FailAfter(n int) {
	d.mu.Lock()
	d.fail = n
	d.mu.Unlock()
}

// Live returns the number of live objects.
func (d *Device) Live() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// create counts a creation call and updates the live
// count selected by field if the call can succeed.
func (d *Device) create(field func(*Counts) *int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.fail == 0:
		return ErrInjected
	case d.fail > 0:
		d.fail--
	}
	*field(&d.live)++
	return nil
}

func (d *Device) destroy(field func(*Counts) *int) {
	d.mu.Lock()
	*field(&d.live)--
	d.mu.Unlock()
}

func images(c *Counts) *int       { return &c.Images }
func rtvs(c *Counts) *int         { return &c.RTVs }
func dsvs(c *Counts) *int         { return &c.DSVs }
func renderPasses(c *Counts) *int { return &c.RenderPasses }
func semaphores(c *Counts) *int   { return &c.Semaphores }
func fences(c *Counts) *int       { return &c.Fences }
func cmdBuffers(c *Counts) *int   { return &c.CmdBuffers }
func allocators(c *Counts) *int   { return &c.Allocators }
func lists(c *Counts) *int        { return &c.Lists }
func heaps(c *Counts) *int        { return &c.Heaps }

// handles reserves n consecutive descriptor handles.
func (d *Device) handles(n int) dx12.CPUHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := dx12.CPUHandle(d.nextH)
	d.nextH += uint64(max(n, 1)) * descIncrement
	return h
}

// NativeImage is the native handle of images created by
// surfaces and compositors.
type NativeImage struct {
	ID     uint64
	Format gputypes.TextureFormat
	Extent gputypes.Extent3D
}

// Image implements driver.Image and dx12.Resource.
type Image struct {
	info   driver.ImageInfo
	native any

	mu    sync.Mutex
	state driver.ResourceState
}

// Info returns the info used to create the image.
func (img *Image) Info() *driver.ImageInfo { return &img.info }

// NativeResource returns the native handle of the image.
func (img *Image) NativeResource() any { return img.native }

// State returns the state set by the last immediate
// transition.
func (img *Image) State() driver.ResourceState {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.state
}

// CreateImage creates a new image.
func (d *Device) CreateImage(info *driver.ImageInfo) (driver.Image, error) {
	if info == nil {
		return nil, driver.ErrNullArg
	}
	if info.Width <= 0 || info.Height <= 0 || info.Format == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("soft: image %dx%d %s: %w", info.Width, info.Height, info.Format, driver.ErrInvalidInfo)
	}
	if err := d.create(images); err != nil {
		return nil, err
	}
	native := info.Native
	if native == nil {
		d.mu.Lock()
		d.nimg++
		native = &NativeImage{
			ID:     d.nimg,
			Format: info.Format,
			Extent: gputypes.NewExtent2D(uint32(info.Width), uint32(info.Height)),
		}
		d.mu.Unlock()
	}
	return &Image{info: *info, native: native, state: info.InitialState}, nil
}

// DestroyImage destroys an image.
func (d *Device) DestroyImage(img driver.Image) {
	if img != nil {
		d.destroy(images)
	}
}

// RTV implements driver.RenderTargetView and dx12.View.
type RTV struct {
	info driver.RTVInfo
	h    dx12.CPUHandle
}

// Info returns the info used to create the view.
func (v *RTV) Info() *driver.RTVInfo { return &v.info }

// CPUHandle returns the descriptor of the view.
func (v *RTV) CPUHandle() dx12.CPUHandle { return v.h }

// CreateRenderTargetView creates a new color view.
func (d *Device) CreateRenderTargetView(info *driver.RTVInfo) (driver.RenderTargetView, error) {
	if info == nil || info.Image == nil {
		return nil, driver.ErrNullArg
	}
	if info.Format.IsDepthStencil() {
		return nil, fmt.Errorf("soft: render target view of %s: %w", info.Format, driver.ErrInvalidInfo)
	}
	if err := d.create(rtvs); err != nil {
		return nil, err
	}
	return &RTV{info: *info, h: d.handles(1)}, nil
}

// DestroyRenderTargetView destroys a color view.
func (d *Device) DestroyRenderTargetView(rtv driver.RenderTargetView) {
	if rtv != nil {
		d.destroy(rtvs)
	}
}

// DSV implements driver.DepthStencilView and dx12.View.
type DSV struct {
	info driver.DSVInfo
	h    dx12.CPUHandle
}

// Info returns the info used to create the view.
func (v *DSV) Info() *driver.DSVInfo { return &v.info }

// CPUHandle returns the descriptor of the view.
func (v *DSV) CPUHandle() dx12.CPUHandle { return v.h }

// CreateDepthStencilView creates a new depth/stencil view.
func (d *Device) CreateDepthStencilView(info *driver.DSVInfo) (driver.DepthStencilView, error) {
	if info == nil || info.Image == nil {
		return nil, driver.ErrNullArg
	}
	if !info.Format.IsDepthStencil() {
		return nil, fmt.Errorf("soft: depth/stencil view of %s: %w", info.Format, driver.ErrInvalidInfo)
	}
	if err := d.create(dsvs); err != nil {
		return nil, err
	}
	return &DSV{info: *info, h: d.handles(1)}, nil
}

// DestroyDepthStencilView destroys a depth/stencil view.
func (d *Device) DestroyDepthStencilView(dsv driver.DepthStencilView) {
	if dsv != nil {
		d.destroy(dsvs)
	}
}

// RenderPass implements driver.RenderPass.
type RenderPass struct {
	info driver.RenderPassInfo
}

// Info returns the info used to create the render pass.
func (p *RenderPass) Info() *driver.RenderPassInfo { return &p.info }

// CreateRenderPass creates a new render pass.
func (d *Device) CreateRenderPass(info *driver.RenderPassInfo) (driver.RenderPass, error) {
	if info == nil {
		return nil, driver.ErrNullArg
	}
	if len(info.RenderTargets) == 0 && info.DepthStencil == nil {
		return nil, fmt.Errorf("soft: render pass without attachments: %w", driver.ErrInvalidInfo)
	}
	if err := d.create(renderPasses); err != nil {
		return nil, err
	}
	p := &RenderPass{info: *info}
	p.info.RenderTargets = append([]driver.RenderTargetView(nil), info.RenderTargets...)
	p.info.ClearColor = append([]gputypes.Color(nil), info.ClearColor...)
	return p, nil
}

// DestroyRenderPass destroys a render pass.
func (d *Device) DestroyRenderPass(pass driver.RenderPass) {
	if pass != nil {
		d.destroy(renderPasses)
	}
}

// Buffer implements driver.Buffer and dx12.Resource.
type Buffer struct {
	size int64
	id   uint64
}

// Size returns the size of the buffer in bytes.
func (b *Buffer) Size() int64 { return b.size }

// NativeResource returns the native handle of the buffer.
func (b *Buffer) NativeResource() any { return b }

// NewBuffer creates a new buffer.
func (d *Device) NewBuffer(size int64) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("soft: buffer size %d: %w", size, driver.ErrInvalidInfo)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nimg++
	return &Buffer{size: size, id: d.nimg}, nil
}
