// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package swapchain

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
)

// virtualBackend simulates presentation with no display.
// Images are used in a fixed order, and each acquisition
// or presentation submits an empty command buffer so that
// semaphores and fences are signaled as with a real
// presentation engine.
type virtualBackend struct {
	cbs []driver.CmdBuffer
}

func (b *virtualBackend) createInternal(sc *Swapchain) error {
	que := sc.info.Queue
	if que == nil {
		return fmt.Errorf("swapchain: nil queue: %w", driver.ErrNullArg)
	}
	for range sc.info.ImageCount {
		info := sc.colorInfo()
		info.Usage |= gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding
		info.InitialState = driver.SPresent
		img, err := sc.dev.CreateImage(&info)
		if err != nil {
			return fmt.Errorf("swapchain: color image: %w", err)
		}
		sc.color = append(sc.color, img)
	}
	if err := sc.createDepthImages(); err != nil {
		return err
	}

	// The first acquisition yields image 0.
	sc.cur = sc.info.ImageCount - 1

	for range sc.info.ImageCount {
		cb, err := que.NewCmdBuffer()
		if err != nil {
			return fmt.Errorf("swapchain: command buffer: %w", err)
		}
		b.cbs = append(b.cbs, cb)
	}
	return nil
}

func (b *virtualBackend) destroyInternal(sc *Swapchain) {
	for _, cb := range b.cbs {
		sc.info.Queue.DestroyCmdBuffer(cb)
	}
	b.cbs = nil
}

// submit records an empty command buffer and submits it.
func (b *virtualBackend) submit(que driver.Queue, cb driver.CmdBuffer, info *driver.SubmitInfo) error {
	if err := cb.Begin(); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	info.CmdBuffers = []driver.CmdBuffer{cb}
	return que.Submit(info)
}

// acquire never blocks, so timeout is ignored.
func (b *virtualBackend) acquire(sc *Swapchain, _ time.Duration, sem driver.Semaphore, fence driver.Fence) (int, error) {
	next := (sc.cur + 1) % sc.info.ImageCount
	info := driver.SubmitInfo{Fence: fence}
	if sem != nil {
		info.Signal = []driver.Semaphore{sem}
	}
	if err := b.submit(sc.info.Queue, b.cbs[next], &info); err != nil {
		return -1, fmt.Errorf("swapchain: virtual acquire: %w", err)
	}
	return next, nil
}

func (b *virtualBackend) present(sc *Swapchain, index int, wait []driver.Semaphore) error {
	info := driver.SubmitInfo{Wait: wait}
	if err := b.submit(sc.info.Queue, b.cbs[index], &info); err != nil {
		return fmt.Errorf("swapchain: virtual present: %w", err)
	}
	return nil
}

func (*virtualBackend) skipExternalSync() bool { return false }
