// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package swapchain

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gviegas/frame/driver"
)

// InvalidExtent is the value of Caps.CurrentImageWidth and
// Caps.CurrentImageHeight when the platform does not know
// the current extent of the surface.
const InvalidExtent = -1

// Caps describes the limits of a surface, as reported by
// the platform.
// A maximum of 0 means that there is no limit.
type Caps struct {
	MinImageWidth      int
	MinImageHeight     int
	MinImageCount      int
	MaxImageWidth      int
	MaxImageHeight     int
	MaxImageCount      int
	CurrentImageWidth  int
	CurrentImageHeight int
}

// Clamp returns the given extent and image count clamped
// to c. If the surface has a current extent, it is used
// in place of width and height.
func (c *Caps) Clamp(width, height, count int) (int, int, int) {
	if c.CurrentImageWidth != InvalidExtent && c.CurrentImageHeight != InvalidExtent {
		width, height = c.CurrentImageWidth, c.CurrentImageHeight
	}
	clamp := func(x, lo, hi int) int {
		x = max(x, lo)
		if hi > 0 {
			x = min(x, hi)
		}
		return x
	}
	return clamp(width, c.MinImageWidth, c.MaxImageWidth),
		clamp(height, c.MinImageHeight, c.MaxImageHeight),
		clamp(count, c.MinImageCount, c.MaxImageCount)
}

// check checks whether the surface supports info.
// Requesting fewer images than the minimum is valid: the
// platform will create more images than requested.
func (c *Caps) check(info *Info) error {
	switch {
	case info.Width < c.MinImageWidth || (c.MaxImageWidth > 0 && info.Width > c.MaxImageWidth),
		info.Height < c.MinImageHeight || (c.MaxImageHeight > 0 && info.Height > c.MaxImageHeight):
		return fmt.Errorf("swapchain: extent %dx%d not supported by surface: %w", info.Width, info.Height, driver.ErrInvalidInfo)
	case c.MaxImageCount > 0 && info.ImageCount > c.MaxImageCount:
		return fmt.Errorf("swapchain: surface supports at most %d images: %w", c.MaxImageCount, driver.ErrInvalidInfo)
	}
	return nil
}

// Surface is the interface that defines a platform
// presentation target.
// Surfaces are not owned by the swapchains that use them.
type Surface interface {
	// Caps returns the current capabilities of the
	// surface.
	Caps() Caps

	// NewPresenter creates the native swapchain of the
	// surface. It may create more images than
	// info.ImageCount.
	NewPresenter(dev driver.Device, info *Info) (Presenter, error)
}

// Presenter is the interface that defines a native
// swapchain created from a Surface.
type Presenter interface {
	// Images returns the native images of the presenter.
	Images() ([]any, error)

	// Acquire acquires the next image.
	// It returns driver.ErrTimeout if no image is
	// available within timeout, and driver.ErrSwapchain if
	// the presenter can no longer be used.
	Acquire(timeout time.Duration, sem driver.Semaphore, fence driver.Fence) (int, error)

	// Present presents the image at index.
	Present(index int, wait []driver.Semaphore) error

	// Destroy destroys the presenter. Its images must
	// not be in use.
	driver.Destroyer
}

// surfaceBackend presents to a platform surface.
type surfaceBackend struct {
	pres Presenter
}

func (b *surfaceBackend) createInternal(sc *Swapchain) error {
	if sc.info.Surface == nil {
		return fmt.Errorf("swapchain: nil surface: %w", driver.ErrNullArg)
	}
	caps := sc.info.Surface.Caps()
	if err := caps.check(&sc.info); err != nil {
		return err
	}
	pres, err := sc.info.Surface.NewPresenter(sc.dev, &sc.info)
	if err != nil {
		return fmt.Errorf("swapchain: presenter: %w", err)
	}
	b.pres = pres
	natives, err := pres.Images()
	if err != nil {
		return fmt.Errorf("swapchain: presenter images: %w", err)
	}
	info := sc.colorInfo()
	info.InitialState = driver.SUndefined
	if sc.color, err = sc.wrapImages(natives, info); err != nil {
		return fmt.Errorf("swapchain: color image: %w", err)
	}

	requested, actual := sc.info.ImageCount, len(sc.color)
	if actual < requested {
		return fmt.Errorf("swapchain: %d images created, %d requested: %w", actual, requested, driver.ErrImageCount)
	}
	if actual != requested {
		driver.Logger().WithFields(logrus.Fields{
			"requested": requested,
			"actual":    actual,
		}).Info("swapchain image count differs from requested")
	}
	sc.info.ImageCount = actual
	return sc.createDepthImages()
}

func (b *surfaceBackend) destroyInternal(sc *Swapchain) {
	if b.pres != nil {
		b.pres.Destroy()
		b.pres = nil
	}
}

func (b *surfaceBackend) acquire(sc *Swapchain, timeout time.Duration, sem driver.Semaphore, fence driver.Fence) (int, error) {
	index, err := b.pres.Acquire(timeout, sem, fence)
	if err != nil {
		return -1, err
	}
	if err := checkIndex(index, sc.info.ImageCount, "acquired image"); err != nil {
		return -1, fmt.Errorf("%w: %w", driver.ErrSwapchain, err)
	}
	return index, nil
}

func (b *surfaceBackend) present(sc *Swapchain, index int, wait []driver.Semaphore) error {
	return b.pres.Present(index, wait)
}

func (*surfaceBackend) skipExternalSync() bool { return false }
