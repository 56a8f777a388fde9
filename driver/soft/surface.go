// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/swapchain"
)

// Surface implements swapchain.Surface.
// Its presenters hand out images in a fixed order and
// never block.
type Surface struct {
	mu       sync.Mutex
	caps     swapchain.Caps
	extra    int
	statuses []gputypes.SurfaceStatus
	live     int
	nimg     uint64
}

// NewSurface creates a new surface with the given
// capabilities.
func NewSurface(caps swapchain.Caps) *Surface {
	return &Surface{caps: caps}
}

// DefaultCaps returns the capabilities used when no
// limits are needed.
func DefaultCaps() swapchain.Caps {
	return swapchain.Caps{
		MinImageWidth:      1,
		MinImageHeight:     1,
		MinImageCount:      2,
		MaxImageWidth:      16384,
		MaxImageHeight:     16384,
		MaxImageCount:      8,
		CurrentImageWidth:  swapchain.InvalidExtent,
		CurrentImageHeight: swapchain.InvalidExtent,
	}
}

// Caps returns the capabilities of s.
func (s *Surface) Caps() swapchain.Caps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// SetExtraImages sets how many images beyond the
// requested count new presenters create.
func (s *Surface) SetExtraImages(n int) {
	s.mu.Lock()
	s.extra = n
	s.mu.Unlock()
}

// QueueStatus queues results for the next acquisitions
// of any presenter of s, in order.
// gputypes.SurfaceStatusTimeout maps to driver.ErrTimeout
// and gputypes.SurfaceStatusOutdated,
// gputypes.SurfaceStatusLost and
// gputypes.SurfaceStatusUnknown map to
// driver.ErrSwapchain. The remaining statuses succeed.
func (s *Surface) QueueStatus(status ...gputypes.SurfaceStatus) {
	s.mu.Lock()
	s.statuses = append(s.statuses, status...)
	s.mu.Unlock()
}

// Presenters returns the number of presenters that were
// not destroyed.
func (s *Surface) Presenters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Surface) nextStatus() gputypes.SurfaceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return gputypes.SurfaceStatusGood
	}
	st := s.statuses[0]
	s.statuses = s.statuses[1:]
	return st
}

// NewPresenter creates a new presenter.
// It creates at least caps.MinImageCount images.
func (s *Surface) NewPresenter(dev driver.Device, info *swapchain.Info) (swapchain.Presenter, error) {
	if dev == nil || info == nil {
		return nil, driver.ErrNullArg
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := max(info.ImageCount, s.caps.MinImageCount) + s.extra
	if s.caps.MaxImageCount > 0 {
		n = min(n, s.caps.MaxImageCount)
	}
	if n <= 0 {
		return nil, fmt.Errorf("soft: presenter with %d images: %w", n, driver.ErrImageCount)
	}
	p := &Presenter{s: s, cur: -1}
	for range n {
		s.nimg++
		p.natives = append(p.natives, &NativeImage{
			ID:     s.nimg,
			Format: info.ColorFormat,
			Extent: gputypes.NewExtent2D(uint32(info.Width), uint32(info.Height)),
		})
	}
	s.live++
	driver.Logger().WithFields(logrus.Fields{
		"requested": info.ImageCount,
		"images":    n,
	}).Debug("soft: presenter created")
	return p, nil
}

// Presenter implements swapchain.Presenter.
type Presenter struct {
	s        *Surface
	natives  []any
	cur      int
	presents int
}

// Images returns the native images.
func (p *Presenter) Images() ([]any, error) {
	if p.s == nil {
		return nil, fmt.Errorf("soft: presenter was destroyed: %w", driver.ErrNotPermitted)
	}
	return append([]any(nil), p.natives...), nil
}

// signal signals sem and fence.
func signal(sem driver.Semaphore, fence driver.Fence) error {
	if sem != nil {
		s, ok := sem.(*Semaphore)
		if !ok {
			return fmt.Errorf("soft: semaphore %T: %w", sem, driver.ErrTypeMismatch)
		}
		s.mu.Lock()
		s.signaled = true
		s.mu.Unlock()
	}
	if fence != nil {
		f, ok := fence.(*Fence)
		if !ok {
			return fmt.Errorf("soft: fence %T: %w", fence, driver.ErrTypeMismatch)
		}
		f.signal()
	}
	return nil
}

// Acquire acquires the next image in order.
// The timeout is only reported through queued statuses.
func (p *Presenter) Acquire(_ time.Duration, sem driver.Semaphore, fence driver.Fence) (int, error) {
	if p.s == nil {
		return -1, fmt.Errorf("soft: presenter was destroyed: %w", driver.ErrNotPermitted)
	}
	switch st := p.s.nextStatus(); st {
	case gputypes.SurfaceStatusTimeout:
		return -1, driver.ErrTimeout
	case gputypes.SurfaceStatusOutdated, gputypes.SurfaceStatusLost, gputypes.SurfaceStatusUnknown:
		return -1, fmt.Errorf("soft: surface %s: %w", st, driver.ErrSwapchain)
	}
	if err := signal(sem, fence); err != nil {
		return -1, err
	}
	p.cur = (p.cur + 1) % len(p.natives)
	return p.cur, nil
}

// Present consumes the wait semaphores.
func (p *Presenter) Present(index int, wait []driver.Semaphore) error {
	if p.s == nil {
		return fmt.Errorf("soft: presenter was destroyed: %w", driver.ErrNotPermitted)
	}
	if index < 0 || index >= len(p.natives) {
		return fmt.Errorf("soft: present index %d: %w", index, driver.ErrOutOfRange)
	}
	for i, w := range wait {
		s, ok := w.(*Semaphore)
		if !ok {
			return fmt.Errorf("soft: wait semaphore %d: %w", i, driver.ErrTypeMismatch)
		}
		s.mu.Lock()
		signaled := s.signaled
		s.signaled = false
		s.mu.Unlock()
		if !signaled {
			return fmt.Errorf("soft: wait semaphore %d is never signaled: %w", i, driver.ErrBackend)
		}
	}
	p.presents++
	return nil
}

// Presents returns the number of successful presentations.
func (p *Presenter) Presents() int { return p.presents }

// Destroy destroys the presenter.
func (p *Presenter) Destroy() {
	if p.s == nil {
		return
	}
	p.s.mu.Lock()
	p.s.live--
	p.s.mu.Unlock()
	p.s = nil
}
