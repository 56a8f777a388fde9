// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package swapchain

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/frame/driver"
)

// ChainInfo describes an image chain.
type ChainInfo struct {
	Format  gputypes.TextureFormat
	Width   int
	Height  int
	Samples int
	// Depth indicates that the images will be used as
	// depth/stencil attachments.
	Depth bool
}

// Compositor is the interface that defines an XR
// compositor, which owns the images that it presents.
// Compositors are not owned by the swapchains that use
// them.
type Compositor interface {
	NewImageChain(info *ChainInfo) (ImageChain, error)
}

// ImageChain is the interface that defines a chain of
// images created by a Compositor.
type ImageChain interface {
	// Images returns the native images of the chain.
	Images() ([]any, error)

	// Acquire acquires the next image of the chain.
	Acquire() (int, error)

	// Wait waits until the acquired image can be written
	// to. It returns driver.ErrTimeout if the image is not
	// ready within timeout.
	Wait(timeout time.Duration) error

	driver.Destroyer
}

// xrBackend uses images supplied by a compositor.
// Presentation is done by the compositor itself.
type xrBackend struct {
	color ImageChain
	depth ImageChain
	// Images acquired from each chain whose wait timed out.
	cpend pending
	dpend pending
}

// pending is an image acquired from a chain that was not
// yet waited on.
type pending struct {
	index int
	ok    bool
}

func (b *xrBackend) createInternal(sc *Swapchain) error {
	comp := sc.info.Compositor
	if comp == nil {
		return fmt.Errorf("swapchain: nil compositor: %w", driver.ErrNullArg)
	}
	samples := max(sc.info.Samples, 1)
	b.cpend, b.dpend = pending{}, pending{}

	var err error
	b.color, err = comp.NewImageChain(&ChainInfo{
		Format:  sc.info.ColorFormat,
		Width:   sc.info.Width,
		Height:  sc.info.Height,
		Samples: samples,
	})
	if err != nil {
		return fmt.Errorf("swapchain: color image chain: %w: %w", driver.ErrBackend, err)
	}
	colors, err := b.color.Images()
	if err != nil {
		return fmt.Errorf("swapchain: color image chain: %w: %w", driver.ErrBackend, err)
	}

	var depths []any
	if sc.info.DepthFormat != gputypes.TextureFormatUndefined {
		b.depth, err = comp.NewImageChain(&ChainInfo{
			Format:  sc.info.DepthFormat,
			Width:   sc.info.Width,
			Height:  sc.info.Height,
			Samples: samples,
			Depth:   true,
		})
		if err != nil {
			return fmt.Errorf("swapchain: depth image chain: %w: %w", driver.ErrBackend, err)
		}
		if depths, err = b.depth.Images(); err != nil {
			return fmt.Errorf("swapchain: depth image chain: %w: %w", driver.ErrBackend, err)
		}
		if len(depths) != len(colors) {
			return fmt.Errorf("swapchain: %d color images, %d depth images: %w", len(colors), len(depths), driver.ErrIndexMismatch)
		}
	}

	cinfo := sc.colorInfo()
	cinfo.Usage |= gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
		gputypes.TextureUsageTextureBinding | gputypes.TextureUsageStorageBinding
	cinfo.InitialState = driver.SUndefined
	if sc.color, err = sc.wrapImages(colors, cinfo); err != nil {
		return fmt.Errorf("swapchain: color image: %w", err)
	}
	if sc.depth, err = sc.wrapImages(depths, sc.depthInfo()); err != nil {
		return fmt.Errorf("swapchain: depth image: %w", err)
	}

	// Compositor images start undefined. If the queue can
	// transition them right away, do so.
	if tr, ok := sc.info.Queue.(driver.ImageTransitioner); ok {
		for _, img := range sc.color {
			if err := tr.TransitionImage(img, driver.SUndefined, driver.SRenderTarget); err != nil {
				return fmt.Errorf("swapchain: color image transition: %w", err)
			}
		}
	}

	if len(sc.color) != sc.info.ImageCount {
		driver.Logger().WithFields(logrus.Fields{
			"requested": sc.info.ImageCount,
			"actual":    len(sc.color),
		}).Info("compositor chose image count")
	}
	sc.info.ImageCount = len(sc.color)
	return nil
}

func (b *xrBackend) destroyInternal(sc *Swapchain) {
	if b.color != nil {
		b.color.Destroy()
		b.color = nil
	}
	if b.depth != nil {
		b.depth.Destroy()
		b.depth = nil
	}
	b.cpend, b.dpend = pending{}, pending{}
}

// acquireChain acquires the next image of ch and waits
// until it is ready. If p holds an image, the wait is
// retried on it instead. p holds the acquired image until
// the wait succeeds.
func acquireChain(ch ImageChain, p *pending, timeout time.Duration) (int, error) {
	if !p.ok {
		index, err := ch.Acquire()
		if err != nil {
			return -1, err
		}
		*p = pending{index, true}
	}
	if err := ch.Wait(timeout); err != nil {
		return -1, err
	}
	p.ok = false
	return p.index, nil
}

// acquire acquires from the color chain and then from the
// depth chain. The compositor signals readiness itself, so
// sem and fence must be nil.
// A timed out acquisition leaves the chains in step, so
// the next call can retry it.
func (b *xrBackend) acquire(sc *Swapchain, timeout time.Duration, sem driver.Semaphore, fence driver.Fence) (int, error) {
	if sem != nil || fence != nil {
		return -1, fmt.Errorf("swapchain: XR acquire with semaphore or fence: %w", driver.ErrInvalidInfo)
	}
	if b.color == nil {
		return -1, fmt.Errorf("swapchain: no color image chain: %w", driver.ErrNotPermitted)
	}
	index, err := acquireChain(b.color, &b.cpend, timeout)
	if err != nil {
		return -1, fmt.Errorf("swapchain: color image chain: %w", err)
	}
	if b.depth != nil {
		dindex, err := acquireChain(b.depth, &b.dpend, timeout)
		if err != nil {
			return -1, fmt.Errorf("swapchain: depth image chain: %w", err)
		}
		if dindex != index {
			return -1, fmt.Errorf("swapchain: color index %d, depth index %d: %w", index, dindex, driver.ErrIndexMismatch)
		}
	}
	if err := checkIndex(index, sc.info.ImageCount, "acquired image"); err != nil {
		return -1, fmt.Errorf("%w: %w", driver.ErrSwapchain, err)
	}
	return index, nil
}

// present does nothing, since the compositor presents
// images asynchronously.
func (*xrBackend) present(*Swapchain, int, []driver.Semaphore) error { return nil }

func (*xrBackend) skipExternalSync() bool { return true }
