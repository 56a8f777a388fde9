// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package dx12

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/internal/slots"
)

// Limits of shader-visible descriptor heaps.
const (
	MaxGeneralDescriptors = 1000000
	MaxSamplerDescriptors = 2048
)

// CommandPool owns the command allocator that backs the
// command buffers created from it.
// Its command type is set at creation and never changes.
// A CommandPool must not be used concurrently.
type CommandPool struct {
	dev   NativeDevice
	typ   driver.CommandType
	alloc Allocator
	bufs  slots.Table[*CommandBuffer]
}

// NewCommandPool creates a new command pool for commands
// of the given type.
func NewCommandPool(dev NativeDevice, typ driver.CommandType) (*CommandPool, error) {
	if dev == nil {
		return nil, fmt.Errorf("dx12: nil native device: %w", driver.ErrNullArg)
	}
	switch typ {
	case driver.CGraphics, driver.CCompute, driver.CCopy:
	default:
		return nil, fmt.Errorf("dx12: command type %d: %w", typ, driver.ErrInvalidInfo)
	}
	alloc, err := dev.CreateCommandAllocator(typ)
	if err != nil {
		return nil, fmt.Errorf("dx12: command allocator: %w: %w", driver.ErrBackend, err)
	}
	driver.Logger().WithField("type", typ).Debug("dx12: command pool created")
	return &CommandPool{dev: dev, typ: typ, alloc: alloc}, nil
}

// Type returns the type of command buffers that p creates.
func (p *CommandPool) Type() driver.CommandType { return p.typ }

// Len returns the number of command buffers created from
// p that have not been destroyed.
func (p *CommandPool) Len() int { return p.bufs.Count() }

// CmdBufferInfo describes a command buffer.
// The descriptor counts set the capacity of the
// shader-visible heaps used by a single recording session.
type CmdBufferInfo struct {
	Type               driver.CommandType
	GeneralDescriptors int
	SamplerDescriptors int
}

// NewCmdBuffer creates a new command buffer.
// info.Type must match the pool's type.
func (p *CommandPool) NewCmdBuffer(info *CmdBufferInfo) (*CommandBuffer, error) {
	if p.alloc == nil {
		return nil, fmt.Errorf("dx12: command pool was destroyed: %w", driver.ErrNotPermitted)
	}
	if info == nil {
		return nil, fmt.Errorf("dx12: nil command buffer info: %w", driver.ErrNullArg)
	}
	if info.Type != p.typ {
		return nil, fmt.Errorf("dx12: %s command buffer from %s pool: %w", info.Type, p.typ, driver.ErrTypeMismatch)
	}
	switch {
	case info.GeneralDescriptors < 0 || info.GeneralDescriptors > MaxGeneralDescriptors,
		info.SamplerDescriptors < 0 || info.SamplerDescriptors > MaxSamplerDescriptors:
		return nil, fmt.Errorf("dx12: descriptor counts %d/%d: %w",
			info.GeneralDescriptors, info.SamplerDescriptors, driver.ErrInvalidInfo)
	case info.Type == driver.CCopy && info.GeneralDescriptors+info.SamplerDescriptors > 0:
		return nil, fmt.Errorf("dx12: copy command buffers cannot bind descriptors: %w", driver.ErrInvalidInfo)
	}

	list, err := p.dev.CreateCommandList(p.typ, p.alloc)
	if err != nil {
		return nil, fmt.Errorf("dx12: command list: %w: %w", driver.ErrBackend, err)
	}
	// Lists are created in the recording state.
	if err := list.Close(); err != nil {
		list.Release()
		return nil, fmt.Errorf("dx12: command list close: %w: %w", driver.ErrBackend, err)
	}
	cb := &CommandBuffer{pool: p, typ: p.typ, list: list}
	sizes := [2]int{info.GeneralDescriptors, info.SamplerDescriptors}
	for kind, size := range sizes {
		if cb.heaps[kind], err = newHeapArena(p.dev, HeapKind(kind), size); err != nil {
			cb.release()
			return nil, fmt.Errorf("%w: %w", driver.ErrBackend, err)
		}
	}
	cb.slot = p.bufs.Insert(cb)
	driver.Logger().WithFields(logrus.Fields{
		"type":    p.typ,
		"general": info.GeneralDescriptors,
		"sampler": info.SamplerDescriptors,
	}).Debug("dx12: command buffer created")
	return cb, nil
}

// release releases the native objects of cb.
func (cb *CommandBuffer) release() {
	for i := range cb.heaps {
		cb.heaps[i].release()
	}
	if cb.list != nil {
		cb.list.Release()
		cb.list = nil
	}
	cb.recording = false
}

// DestroyCmdBuffer destroys a command buffer created from
// p. It must not be pending execution.
func (p *CommandPool) DestroyCmdBuffer(cb *CommandBuffer) error {
	if cb == nil {
		return fmt.Errorf("dx12: nil command buffer: %w", driver.ErrNullArg)
	}
	if x, ok := p.bufs.Get(cb.slot); !ok || x != cb {
		return fmt.Errorf("dx12: command buffer not from this pool: %w", driver.ErrNotPermitted)
	}
	p.bufs.Remove(cb.slot)
	cb.release()
	return nil
}

// Reset resets the command allocator, reclaiming the
// memory of every command list recorded from p.
// None of the pool's command buffers can be recording or
// pending execution.
func (p *CommandPool) Reset() error {
	if p.alloc == nil {
		return fmt.Errorf("dx12: command pool was destroyed: %w", driver.ErrNotPermitted)
	}
	if _, ok := p.bufs.Find((*CommandBuffer).Recording); ok {
		return fmt.Errorf("dx12: command buffer still recording: %w", driver.ErrNotPermitted)
	}
	if err := p.alloc.Reset(); err != nil {
		return fmt.Errorf("dx12: command allocator reset: %w: %w", driver.ErrBackend, err)
	}
	return nil
}

// Destroy destroys the command pool.
// Command buffers that were not destroyed are destroyed
// as well.
func (p *CommandPool) Destroy() {
	if p.alloc == nil {
		driver.Logger().Warn("dx12: command pool destroyed twice")
		return
	}
	if n := p.bufs.Count(); n > 0 {
		driver.Logger().WithField("count", n).Warn("dx12: destroying command pool with live command buffers")
		for _, cb := range p.bufs.All() {
			cb.release()
		}
		p.bufs.Clear()
	}
	p.alloc.Release()
	p.alloc = nil
}
