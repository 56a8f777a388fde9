// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package frameloop drives swapchains through the usual
// sequence of a rendering application: wait for the
// previous frame, acquire an image, record commands into
// it, submit them and present the image.
package frameloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/driver/dx12"
	"github.com/gviegas/frame/swapchain"
)

// DefaultTimeout is the timeout used when Params.Timeout
// is zero.
const DefaultTimeout = time.Second

// Params describes a frame loop.
type Params struct {
	Device driver.Device
	Native dx12.NativeDevice
	// Queue must be a graphics queue.
	Queue driver.Queue
	// Info describes the swapchain to create.
	// Info.Queue defaults to Queue.
	Info swapchain.Info
	// Frames is the number of frames to run, including
	// skipped ones.
	Frames int
	// Timeout bounds fence waits and acquisitions.
	Timeout time.Duration

	GeneralDescriptors int
	SamplerDescriptors int

	// Pipeline is optional. When set, every frame binds it
	// along with Sets and draws a triangle.
	Pipeline dx12.GraphicsPipeline
	Sets     []dx12.DescriptorSet
}

// Stats reports what a frame loop did.
type Stats struct {
	// Presented counts frames that were presented.
	Presented int
	// Skipped counts frames whose acquisition timed out.
	Skipped int
	// Images is the image count of the swapchain.
	Images int
	// Indices holds the acquired image indices, in order.
	Indices []int
}

// loop holds the objects of a running frame loop.
type loop struct {
	p     *Params
	sc    *swapchain.Swapchain
	pool  *dx12.CommandPool
	cb    *dx12.CommandBuffer
	fence driver.Fence
	// acquired and rendered are nil when the swapchain
	// skips external synchronization.
	acquired driver.Semaphore
	rendered driver.Semaphore
}

// Run runs a frame loop until p.Frames frames have run or
// ctx is done.
// A frame whose acquisition times out is skipped. Any
// other error ends the loop.
// Every object that Run creates is destroyed before it
// returns.
func Run(ctx context.Context, p Params) (Stats, error) {
	var st Stats
	if p.Device == nil || p.Native == nil || p.Queue == nil {
		return st, fmt.Errorf("frameloop: %w", driver.ErrNullArg)
	}
	if p.Queue.Type() != driver.CGraphics {
		return st, fmt.Errorf("frameloop: %s queue: %w", p.Queue.Type(), driver.ErrTypeMismatch)
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Info.Queue == nil {
		p.Info.Queue = p.Queue
	}

	l := &loop{p: &p}
	defer l.destroy()
	if err := l.init(); err != nil {
		return st, err
	}
	st.Images = l.sc.ImageCount()
	log := driver.Logger().WithField("type", l.sc.Type())
	log.WithFields(logrus.Fields{
		"width":  l.sc.Width(),
		"height": l.sc.Height(),
		"images": st.Images,
	}).Info("frameloop: started")

	for frame := range p.Frames {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("frameloop: frame %d: %w", frame, err)
		}
		index, err := l.frame(frame)
		switch {
		case errors.Is(err, errSkipped):
			st.Skipped++
			log.WithField("frame", frame).Debug("frameloop: frame skipped")
			continue
		case err != nil:
			return st, fmt.Errorf("frameloop: frame %d: %w", frame, err)
		}
		st.Presented++
		st.Indices = append(st.Indices, index)
	}
	// The last submission must complete before teardown.
	if err := l.fence.Wait(p.Timeout); err != nil {
		return st, fmt.Errorf("frameloop: %w", err)
	}
	log.WithFields(logrus.Fields{
		"presented": st.Presented,
		"skipped":   st.Skipped,
	}).Info("frameloop: finished")
	return st, nil
}

func (l *loop) init() (err error) {
	p := l.p
	if l.sc, err = swapchain.New(p.Device, &p.Info); err != nil {
		return fmt.Errorf("frameloop: %w", err)
	}
	if l.pool, err = dx12.NewCommandPool(p.Native, driver.CGraphics); err != nil {
		return fmt.Errorf("frameloop: %w", err)
	}
	l.cb, err = l.pool.NewCmdBuffer(&dx12.CmdBufferInfo{
		Type:               driver.CGraphics,
		GeneralDescriptors: p.GeneralDescriptors,
		SamplerDescriptors: p.SamplerDescriptors,
	})
	if err != nil {
		return fmt.Errorf("frameloop: %w", err)
	}
	if l.fence, err = p.Device.NewFence(true); err != nil {
		return fmt.Errorf("frameloop: %w", err)
	}
	if l.sc.SkipExternalSync() {
		return nil
	}
	if l.acquired, err = p.Device.NewSemaphore(); err != nil {
		return fmt.Errorf("frameloop: %w", err)
	}
	if l.rendered, err = p.Device.NewSemaphore(); err != nil {
		return fmt.Errorf("frameloop: %w", err)
	}
	return nil
}

// destroy destroys the objects of l in reverse order of
// creation. It can be called after a partial init.
func (l *loop) destroy() {
	for _, s := range [...]driver.Semaphore{l.rendered, l.acquired} {
		if s != nil {
			s.Destroy()
		}
	}
	if l.fence != nil {
		l.fence.Destroy()
	}
	if l.pool != nil {
		if l.cb != nil {
			if err := l.pool.DestroyCmdBuffer(l.cb); err != nil {
				driver.Logger().WithError(err).Warn("frameloop: command buffer not destroyed")
			}
		}
		l.pool.Destroy()
	}
	if l.sc != nil {
		l.sc.Destroy()
	}
}

// errSkipped is returned by frame when image acquisition
// times out.
var errSkipped = errors.New("frameloop: frame skipped")

// frame runs a single frame and returns the index of the
// image that it presented.
func (l *loop) frame(frame int) (int, error) {
	p := l.p
	if err := l.fence.Wait(p.Timeout); err != nil {
		return -1, err
	}
	index, err := l.sc.AcquireNextImage(p.Timeout, l.acquired, nil)
	switch {
	case errors.Is(err, driver.ErrTimeout):
		return -1, errSkipped
	case err != nil:
		return -1, err
	}
	if err := l.fence.Reset(); err != nil {
		return -1, err
	}
	if err := l.record(frame, index); err != nil {
		return -1, err
	}
	sub := &driver.SubmitInfo{
		CmdBuffers: []driver.CmdBuffer{l.cb},
		Fence:      l.fence,
	}
	var wait []driver.Semaphore
	if l.acquired != nil {
		sub.Wait = []driver.Semaphore{l.acquired}
		sub.Signal = []driver.Semaphore{l.rendered}
		wait = sub.Signal
	}
	if err := p.Queue.Submit(sub); err != nil {
		return -1, err
	}
	if err := l.sc.Present(index, wait...); err != nil {
		return -1, err
	}
	driver.Logger().WithFields(logrus.Fields{
		"frame": frame,
		"index": index,
	}).Debug("frameloop: frame presented")
	return index, nil
}

// record records the commands of a frame.
// Even frames clear the image and odd frames load it.
func (l *loop) record(frame, index int) error {
	p, sc, cb := l.p, l.sc, l.cb
	img, err := sc.ColorImage(index)
	if err != nil {
		return err
	}
	op := gputypes.LoadOpClear
	if frame%2 != 0 {
		op = gputypes.LoadOpLoad
	}
	pass, err := sc.RenderPass(index, op)
	if err != nil {
		return err
	}
	// XR images stay in the render target state.
	idle := driver.SPresent
	if sc.Type() == swapchain.TXR {
		idle = driver.SRenderTarget
	}
	w, h := sc.Width(), sc.Height()

	if err := cb.Begin(); err != nil {
		return err
	}
	cb.TransitionImageLayout(img, gputypes.ImageSubresourceRange{}, idle, driver.SRenderTarget, nil, nil)
	cb.BeginRenderPass(&dx12.RenderPassBegin{
		Pass:       pass,
		RenderArea: driver.Rect{Width: w, Height: h},
	})
	cb.SetViewports(driver.Viewport{Width: float32(w), Height: float32(h), Zfar: 1})
	cb.SetScissors(driver.Rect{Width: w, Height: h})
	if p.Pipeline != nil {
		if err := l.draw(frame, index); err != nil {
			if eerr := cb.End(); eerr != nil {
				driver.Logger().WithError(eerr).Debug("frameloop: command buffer not ended")
			}
			return err
		}
	}
	cb.EndRenderPass()
	cb.TransitionImageLayout(img, gputypes.ImageSubresourceRange{}, driver.SRenderTarget, idle, nil, nil)
	return cb.End()
}

func (l *loop) draw(frame, index int) error {
	p, cb := l.p, l.cb
	cb.BindGraphicsPipeline(p.Pipeline)
	pi := p.Pipeline.Interface()
	if len(p.Sets) > 0 {
		if err := cb.BindGraphicsDescriptorSets(pi, p.Sets...); err != nil {
			return err
		}
	}
	if _, n, ok := pi.PushConstants(); ok && n >= 2 {
		if err := cb.PushGraphicsConstants(pi, []uint32{uint32(frame), uint32(index)}, 0); err != nil {
			return err
		}
	}
	cb.Draw(3, 1, 0, 0)
	return nil
}

// RunMany runs n frame loops concurrently, each with its
// own swapchain, and returns the stats of each one.
// The first error cancels the other loops.
// Every resource in p must be safe for concurrent use.
func RunMany(ctx context.Context, n int, p Params) ([]Stats, error) {
	stats := make([]Stats, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			st, err := Run(ctx, p)
			stats[i] = st
			if err != nil {
				return fmt.Errorf("loop %d: %w", i, err)
			}
			return nil
		})
	}
	return stats, g.Wait()
}
