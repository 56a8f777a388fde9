// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/swapchain"
)

// Compositor implements swapchain.Compositor.
type Compositor struct {
	mu       sync.Mutex
	count    int
	dcount   int
	skew     int
	timeouts int
	live     int
	nimg     uint64
}

// NewCompositor creates a new compositor whose chains
// have count images.
func NewCompositor(count int) *Compositor {
	return &Compositor{count: count}
}

// SetDepthImageCount makes new depth chains have n images
// instead of the color count. Zero restores the default.
func (c *Compositor) SetDepthImageCount(n int) {
	c.mu.Lock()
	c.dcount = n
	c.mu.Unlock()
}

// SetDepthSkew offsets the indices acquired from new depth
// chains by n.
func (c *Compositor) SetDepthSkew(n int) {
	c.mu.Lock()
	c.skew = n
	c.mu.Unlock()
}

// QueueTimeouts causes the next n waits of any chain to
// time out.
func (c *Compositor) QueueTimeouts(n int) {
	c.mu.Lock()
	c.timeouts += n
	c.mu.Unlock()
}

// Chains returns the number of chains that were not
// destroyed.
func (c *Compositor) Chains() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// NewImageChain creates a new image chain.
func (c *Compositor) NewImageChain(info *swapchain.ChainInfo) (swapchain.ImageChain, error) {
	if info == nil {
		return nil, driver.ErrNullArg
	}
	if info.Depth != info.Format.IsDepthStencil() {
		return nil, fmt.Errorf("soft: chain format %s: %w", info.Format, driver.ErrInvalidInfo)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.count
	ch := &ImageChain{c: c, cur: -1}
	if info.Depth {
		if c.dcount > 0 {
			n = c.dcount
		}
		ch.cur += c.skew
	}
	if n <= 0 {
		return nil, fmt.Errorf("soft: chain with %d images: %w", n, driver.ErrImageCount)
	}
	for range n {
		c.nimg++
		ch.natives = append(ch.natives, &NativeImage{
			ID:     c.nimg,
			Format: info.Format,
			Extent: gputypes.NewExtent2D(uint32(info.Width), uint32(info.Height)),
		})
	}
	c.live++
	return ch, nil
}

// ImageChain implements swapchain.ImageChain.
type ImageChain struct {
	c       *Compositor
	natives []any
	cur     int
}

// Images returns the native images.
func (ch *ImageChain) Images() ([]any, error) {
	if ch.c == nil {
		return nil, fmt.Errorf("soft: image chain was destroyed: %w", driver.ErrNotPermitted)
	}
	return append([]any(nil), ch.natives...), nil
}

// Acquire acquires the next image in order.
func (ch *ImageChain) Acquire() (int, error) {
	if ch.c == nil {
		return -1, fmt.Errorf("soft: image chain was destroyed: %w", driver.ErrNotPermitted)
	}
	n := len(ch.natives)
	ch.cur = ((ch.cur+1)%n + n) % n
	return ch.cur, nil
}

// Wait returns driver.ErrTimeout if a timeout was queued.
func (ch *ImageChain) Wait(time.Duration) error {
	if ch.c == nil {
		return fmt.Errorf("soft: image chain was destroyed: %w", driver.ErrNotPermitted)
	}
	ch.c.mu.Lock()
	defer ch.c.mu.Unlock()
	if ch.c.timeouts > 0 {
		ch.c.timeouts--
		return driver.ErrTimeout
	}
	return nil
}

// Destroy destroys the chain.
func (ch *ImageChain) Destroy() {
	if ch.c == nil {
		return
	}
	ch.c.mu.Lock()
	ch.c.live--
	ch.c.mu.Unlock()
	ch.c = nil
}
