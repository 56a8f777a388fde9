// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"errors"
	"time"

	"github.com/gogpu/gputypes"
)

// ErrNullArg means that a required argument was nil.
var ErrNullArg = errors.New("driver: unexpected nil argument")

// ErrOutOfRange means that an index was not within the
// bounds of the collection it addresses.
var ErrOutOfRange = errors.New("driver: index out of range")

// ErrTypeMismatch means that an object does not match the
// type expected by the operation (e.g., a command buffer
// of the wrong command type, or a descriptor binding that
// the pipeline interface does not declare).
var ErrTypeMismatch = errors.New("driver: type mismatch")

// ErrInvalidInfo means that a creation info is not valid.
var ErrInvalidInfo = errors.New("driver: invalid creation info")

// ErrNotPermitted means that the object is not in a state
// that permits the operation.
var ErrNotPermitted = errors.New("driver: operation not permitted")

// ErrRecording means that commands were recorded in an
// invalid order or with invalid state.
var ErrRecording = errors.New("driver: invalid command recording")

// ErrHeapExhausted means that a descriptor heap does not
// have enough free slots for an allocation.
var ErrHeapExhausted = errors.New("driver: descriptor heap exhausted")

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface may hold external
// resources that are not managed by GC, so Destroy must be
// called explicitly to ensure they are released.
type Destroyer interface {
	Destroy()
}

// Device is the interface that creates and destroys the
// resources used for frame presentation.
// Every Create* method returns either a valid object or a
// non-nil error. Objects must be destroyed using the
// Destroy* method that matches the Create* method that
// created them.
type Device interface {
	// CreateImage creates a new image.
	// If info.Native is set, the image wraps that native
	// handle rather than allocating new storage.
	CreateImage(info *ImageInfo) (Image, error)

	// DestroyImage destroys an image.
	// All views of the image must have been destroyed.
	DestroyImage(img Image)

	// CreateRenderTargetView creates a new color view.
	CreateRenderTargetView(info *RTVInfo) (RenderTargetView, error)

	// DestroyRenderTargetView destroys a color view.
	DestroyRenderTargetView(rtv RenderTargetView)

	// CreateDepthStencilView creates a new depth/stencil
	// view.
	CreateDepthStencilView(info *DSVInfo) (DepthStencilView, error)

	// DestroyDepthStencilView destroys a depth/stencil view.
	DestroyDepthStencilView(dsv DepthStencilView)

	// CreateRenderPass creates a new render pass.
	CreateRenderPass(info *RenderPassInfo) (RenderPass, error)

	// DestroyRenderPass destroys a render pass.
	DestroyRenderPass(pass RenderPass)

	// NewSemaphore creates a new GPU-GPU synchronization
	// primitive.
	NewSemaphore() (Semaphore, error)

	// NewFence creates a new GPU-CPU synchronization
	// primitive.
	NewFence(signaled bool) (Fence, error)
}

// CommandType is the type of commands that a queue
// executes and that a command buffer records.
type CommandType int

// Command types.
const (
	CGraphics CommandType = iota
	CCompute
	CCopy
)

func (t CommandType) String() string {
	switch t {
	case CGraphics:
		return "graphics"
	case CCompute:
		return "compute"
	case CCopy:
		return "copy"
	}
	return "unknown"
}

// Queue is the interface that defines a command queue.
type Queue interface {
	// Type returns the type of commands that the queue
	// executes. It is immutable.
	Type() CommandType

	// Submit submits command buffers for execution.
	// Execution starts only after every semaphore in
	// info.Wait is signaled. When execution completes,
	// every semaphore in info.Signal and info.Fence (if
	// not nil) are signaled.
	Submit(info *SubmitInfo) error

	// NewCmdBuffer creates a new command buffer whose
	// commands can be submitted to the queue.
	NewCmdBuffer() (CmdBuffer, error)

	// DestroyCmdBuffer destroys a command buffer created
	// by NewCmdBuffer.
	DestroyCmdBuffer(cb CmdBuffer)
}

// ImageTransitioner is implemented by queues that can
// perform an immediate layout transition on an image,
// outside of any command buffer.
type ImageTransitioner interface {
	TransitionImage(img Image, before, after ResourceState) error
}

// SubmitInfo describes a queue submission.
type SubmitInfo struct {
	CmdBuffers []CmdBuffer
	Wait       []Semaphore
	Signal     []Semaphore
	Fence      Fence
}

// CmdBuffer is the interface that every command buffer
// implements, regardless of backend.
// Begin resets the command buffer and starts a new
// recording session. End finishes the session and
// reports any error detected while recording.
// A submitted command buffer must not be recorded again
// until the fence of its submission is signaled.
type CmdBuffer interface {
	Begin() error
	End() error
	Type() CommandType
}

// Semaphore is the interface that defines a GPU-GPU
// synchronization primitive.
type Semaphore interface {
	Destroyer
}

// Fence is the interface that defines a GPU-CPU
// synchronization primitive.
type Fence interface {
	Destroyer

	// Wait blocks until the fence is signaled or until
	// timeout expires, in which case it returns
	// ErrTimeout.
	Wait(timeout time.Duration) error

	// Reset unsignals the fence.
	Reset() error

	// Signaled returns whether the fence is signaled.
	Signaled() bool
}

// ResourceState is the type of a resource's state, which
// determines how the GPU may access it.
type ResourceState int

// Resource states.
const (
	SUndefined ResourceState = iota
	SCommon
	SPresent
	SRenderTarget
	SDepthWrite
	SDepthRead
	SShaderRead
	SUnorderedAccess
	SCopySrc
	SCopyDst
	SVertexBuffer
	SIndexBuffer
	SConstantBuffer
)

func (s ResourceState) String() string {
	switch s {
	case SUndefined:
		return "undefined"
	case SCommon:
		return "common"
	case SPresent:
		return "present"
	case SRenderTarget:
		return "render-target"
	case SDepthWrite:
		return "depth-write"
	case SDepthRead:
		return "depth-read"
	case SShaderRead:
		return "shader-read"
	case SUnorderedAccess:
		return "unordered-access"
	case SCopySrc:
		return "copy-src"
	case SCopyDst:
		return "copy-dst"
	case SVertexBuffer:
		return "vertex-buffer"
	case SIndexBuffer:
		return "index-buffer"
	case SConstantBuffer:
		return "constant-buffer"
	}
	return "unknown"
}

// Image is the interface that defines a GPU image.
type Image interface {
	// Info returns the info used to create the image.
	// It must not be changed by the caller.
	Info() *ImageInfo
}

// ImageInfo describes an image.
type ImageInfo struct {
	Width, Height int
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
	Samples       int
	MipLevels     int
	ArrayLayers   int
	InitialState  ResourceState
	ClearColor    gputypes.Color
	ClearDepth    float32
	ClearStencil  uint8
	// Native, when not nil, is a backend image handle
	// that the image wraps. Such images are owned by
	// whoever created the native handle.
	Native any
	// Restricted marks images owned by another object
	// (e.g., a swapchain).
	Restricted bool
}

// RenderTarget2D returns the info of a single-sampled 2D
// color image usable as render target.
func RenderTarget2D(width, height int, format gputypes.TextureFormat) ImageInfo {
	return ImageInfo{
		Width:        width,
		Height:       height,
		Format:       format,
		Usage:        gputypes.TextureUsageRenderAttachment,
		Samples:      1,
		MipLevels:    1,
		ArrayLayers:  1,
		InitialState: SRenderTarget,
	}
}

// DepthStencilTarget returns the info of a single-sampled
// 2D depth/stencil image usable as render target.
func DepthStencilTarget(width, height int, format gputypes.TextureFormat) ImageInfo {
	return ImageInfo{
		Width:        width,
		Height:       height,
		Format:       format,
		Usage:        gputypes.TextureUsageRenderAttachment,
		Samples:      1,
		MipLevels:    1,
		ArrayLayers:  1,
		InitialState: SDepthWrite,
		ClearDepth:   1,
		ClearStencil: 0xff,
	}
}

// RenderTargetView is the interface that defines a color
// view of an image.
type RenderTargetView interface {
	Info() *RTVInfo
}

// RTVInfo describes a render target view.
type RTVInfo struct {
	Image      Image
	Format     gputypes.TextureFormat
	MipLevel   int
	ArrayLayer int
	LoadOp     gputypes.LoadOp
	StoreOp    gputypes.StoreOp
	Restricted bool
}

// RTVInfoFrom returns a render target view info that
// covers the first level and layer of img.
func RTVInfoFrom(img Image) RTVInfo {
	return RTVInfo{
		Image:   img,
		Format:  img.Info().Format,
		LoadOp:  gputypes.LoadOpLoad,
		StoreOp: gputypes.StoreOpStore,
	}
}

// DepthStencilView is the interface that defines a
// depth/stencil view of an image.
type DepthStencilView interface {
	Info() *DSVInfo
}

// DSVInfo describes a depth/stencil view.
type DSVInfo struct {
	Image          Image
	Format         gputypes.TextureFormat
	MipLevel       int
	ArrayLayer     int
	DepthLoadOp    gputypes.LoadOp
	DepthStoreOp   gputypes.StoreOp
	StencilLoadOp  gputypes.LoadOp
	StencilStoreOp gputypes.StoreOp
	Restricted     bool
}

// DSVInfoFrom returns a depth/stencil view info that
// covers the first level and layer of img.
func DSVInfoFrom(img Image) DSVInfo {
	return DSVInfo{
		Image:          img,
		Format:         img.Info().Format,
		DepthLoadOp:    gputypes.LoadOpLoad,
		DepthStoreOp:   gputypes.StoreOpStore,
		StencilLoadOp:  gputypes.LoadOpLoad,
		StencilStoreOp: gputypes.StoreOpStore,
	}
}

// RenderPass is the interface that defines a render pass.
type RenderPass interface {
	Info() *RenderPassInfo
}

// RenderPassInfo describes a render pass.
// ClearColor[i] is used by RenderTargets[i] when its view
// was created with gputypes.LoadOpClear.
type RenderPassInfo struct {
	Width, Height int
	RenderTargets []RenderTargetView
	DepthStencil  DepthStencilView
	ClearColor    []gputypes.Color
	ClearDepth    float32
	ClearStencil  uint8
	Restricted    bool
}

// Buffer is the interface that defines a GPU buffer.
type Buffer interface {
	Size() int64
}

// Viewport defines the bounds of a viewport.
type Viewport struct {
	X, Y, Width, Height, Znear, Zfar float32
}

// Rect defines a rectangle, such as a scissor rectangle.
type Rect struct {
	X, Y, Width, Height int
}
