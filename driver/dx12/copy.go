// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package dx12

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/frame/driver"
)

// RowPitchAlignment is the required alignment of the row
// pitch of buffer footprints.
const RowPitchAlignment = 256

// BufferCopy describes a buffer-to-buffer copy.
type BufferCopy struct {
	SrcOffset int64
	DstOffset int64
	Size      int64
}

// BufferImageCopy describes a copy between a buffer and
// a single image subresource.
// If RowPitch is 0, the tightly packed row size aligned to
// RowPitchAlignment is used.
type BufferImageCopy struct {
	BufferOffset int64
	RowPitch     uint32
	MipLevel     uint32
	ArrayLayer   uint32
	Origin       gputypes.Origin3D
	Extent       gputypes.Extent3D
}

// ImageCopy describes an image-to-image copy.
type ImageCopy struct {
	SrcMipLevel   uint32
	SrcArrayLayer uint32
	SrcOrigin     gputypes.Origin3D
	DstMipLevel   uint32
	DstArrayLayer uint32
	DstOrigin     gputypes.Origin3D
	Extent        gputypes.Extent3D
}

// texelSize returns the size in bytes of one texel of
// format f, or 0 for formats that cannot be copied.
func texelSize(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatR16Float, gputypes.TextureFormatR16Uint,
		gputypes.TextureFormatR16Sint, gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint, gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint, gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	case gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatRGBA16Uint,
		gputypes.TextureFormatRGBA16Sint, gputypes.TextureFormatRG32Float,
		gputypes.TextureFormatRG32Uint, gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatDepth32FloatStencil8:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16
	}
	return 0
}

// RowPitch returns the aligned row pitch of a buffer
// footprint that holds width texels of format f.
func RowPitch(f gputypes.TextureFormat, width uint32) uint32 {
	n := texelSize(f) * width
	return (n + RowPitchAlignment - 1) &^ (RowPitchAlignment - 1)
}

// CopyBufferToBuffer copies a range of src into dst.
func (cb *CommandBuffer) CopyBufferToBuffer(info *BufferCopy, src, dst driver.Buffer) {
	if !cb.ready() || !cb.needType(driver.CCopy) {
		return
	}
	if info == nil {
		cb.fail(fmt.Errorf("dx12: nil buffer copy: %w", driver.ErrNullArg))
		return
	}
	sres, err := nativeOf(src, "source buffer")
	if err != nil {
		cb.fail(err)
		return
	}
	dres, err := nativeOf(dst, "destination buffer")
	if err != nil {
		cb.fail(err)
		return
	}
	if info.Size < 0 || info.SrcOffset < 0 || info.DstOffset < 0 ||
		info.SrcOffset+info.Size > src.Size() || info.DstOffset+info.Size > dst.Size() {
		cb.fail(fmt.Errorf("dx12: buffer copy of %d bytes: %w", info.Size, driver.ErrOutOfRange))
		return
	}
	cb.list.CopyBufferRegion(dres, info.DstOffset, sres, info.SrcOffset, info.Size)
}

// footprint resolves the buffer and image locations of a
// buffer/image copy.
func footprint(info *BufferImageCopy, buf driver.Buffer, img driver.Image) (bloc, iloc CopyLocation, err error) {
	bres, err := nativeOf(buf, "buffer")
	if err != nil {
		return
	}
	ires, err := nativeOf(img, "image")
	if err != nil {
		return
	}
	ii := img.Info()
	mips := uint32(max(ii.MipLevels, 1))
	if info.MipLevel >= mips || info.ArrayLayer >= uint32(max(ii.ArrayLayers, 1)) {
		err = fmt.Errorf("dx12: image subresource %d/%d: %w", info.MipLevel, info.ArrayLayer, driver.ErrOutOfRange)
		return
	}
	pitch := info.RowPitch
	if pitch == 0 {
		pitch = RowPitch(ii.Format, info.Extent.Width)
	}
	if pitch == 0 || pitch%RowPitchAlignment != 0 {
		err = fmt.Errorf("dx12: row pitch %d for %s: %w", pitch, ii.Format, driver.ErrOutOfRange)
		return
	}
	rows := int64(info.Extent.Height) * int64(max(info.Extent.DepthOrArrayLayers, 1))
	if info.BufferOffset < 0 || info.BufferOffset+rows*int64(pitch) > buf.Size() {
		err = fmt.Errorf("dx12: buffer footprint exceeds %d bytes: %w", buf.Size(), driver.ErrOutOfRange)
		return
	}
	bloc = CopyLocation{
		Resource:  bres,
		Footprint: true,
		Offset:    info.BufferOffset,
		Format:    ii.Format,
		Extent:    info.Extent,
		RowPitch:  pitch,
	}
	iloc = CopyLocation{
		Resource:    ires,
		Subresource: info.MipLevel + info.ArrayLayer*mips,
	}
	return
}

func boxOf(o gputypes.Origin3D, e gputypes.Extent3D) *Box {
	return &Box{
		Left:   o.X,
		Top:    o.Y,
		Front:  o.Z,
		Right:  o.X + e.Width,
		Bottom: o.Y + e.Height,
		Back:   o.Z + max(e.DepthOrArrayLayers, 1),
	}
}

// CopyBufferToImage copies buffer data into image
// subresources.
func (cb *CommandBuffer) CopyBufferToImage(infos []BufferImageCopy, src driver.Buffer, dst driver.Image) {
	if !cb.ready() || !cb.needType(driver.CCopy) {
		return
	}
	for i := range infos {
		bloc, iloc, err := footprint(&infos[i], src, dst)
		if err != nil {
			cb.fail(err)
			return
		}
		o := infos[i].Origin
		cb.list.CopyTextureRegion(&iloc, o.X, o.Y, o.Z, &bloc, nil)
	}
}

// CopyImageToBuffer copies an image subresource into a
// buffer. It returns the row pitch of the data written to
// dst, or 0 if the copy was not recorded.
func (cb *CommandBuffer) CopyImageToBuffer(info *BufferImageCopy, src driver.Image, dst driver.Buffer) (rowPitch uint32) {
	if !cb.ready() || !cb.needType(driver.CCopy) {
		return
	}
	if info == nil {
		cb.fail(fmt.Errorf("dx12: nil image copy: %w", driver.ErrNullArg))
		return
	}
	bloc, iloc, err := footprint(info, dst, src)
	if err != nil {
		cb.fail(err)
		return
	}
	cb.list.CopyTextureRegion(&bloc, 0, 0, 0, &iloc, boxOf(info.Origin, info.Extent))
	return bloc.RowPitch
}

// CopyImageToImage copies a region between image
// subresources.
func (cb *CommandBuffer) CopyImageToImage(info *ImageCopy, src, dst driver.Image) {
	if !cb.ready() || !cb.needType(driver.CCopy) {
		return
	}
	if info == nil {
		cb.fail(fmt.Errorf("dx12: nil image copy: %w", driver.ErrNullArg))
		return
	}
	sres, err := nativeOf(src, "source image")
	if err != nil {
		cb.fail(err)
		return
	}
	dres, err := nativeOf(dst, "destination image")
	if err != nil {
		cb.fail(err)
		return
	}
	si, di := src.Info(), dst.Info()
	smips, dmips := uint32(max(si.MipLevels, 1)), uint32(max(di.MipLevels, 1))
	if info.SrcMipLevel >= smips || info.SrcArrayLayer >= uint32(max(si.ArrayLayers, 1)) ||
		info.DstMipLevel >= dmips || info.DstArrayLayer >= uint32(max(di.ArrayLayers, 1)) {
		cb.fail(fmt.Errorf("dx12: image copy subresource: %w", driver.ErrOutOfRange))
		return
	}
	sloc := CopyLocation{Resource: sres, Subresource: info.SrcMipLevel + info.SrcArrayLayer*smips}
	dloc := CopyLocation{Resource: dres, Subresource: info.DstMipLevel + info.DstArrayLayer*dmips}
	o := info.DstOrigin
	cb.list.CopyTextureRegion(&dloc, o.X, o.Y, o.Z, &sloc, boxOf(info.SrcOrigin, info.Extent))
}

// Query is the interface that defines a pool of queries.
type Query interface {
	Resource
	Type() QueryType
	Count() uint32
	// ResolveBuffer returns the buffer that
	// ResolveQueryData writes results to.
	ResolveBuffer() driver.Buffer
}

// resultSize returns the size in bytes of one result of
// a query of type t.
func resultSize(t QueryType) int64 {
	if t == QPipelineStatistics {
		return 11 * 8
	}
	return 8
}

func (cb *CommandBuffer) checkQuery(q Query, start, n uint32) (any, bool) {
	if q == nil {
		cb.fail(fmt.Errorf("dx12: nil query: %w", driver.ErrNullArg))
		return nil, false
	}
	if uint64(start)+uint64(n) > uint64(q.Count()) {
		cb.fail(fmt.Errorf("dx12: query %d (+%d) of %d: %w", start, n, q.Count(), driver.ErrOutOfRange))
		return nil, false
	}
	return q.NativeResource(), true
}

// BeginQuery begins an occlusion or pipeline statistics
// query.
func (cb *CommandBuffer) BeginQuery(q Query, index uint32) {
	if !cb.ready() {
		return
	}
	heap, ok := cb.checkQuery(q, index, 1)
	if !ok {
		return
	}
	if q.Type() == QTimestamp {
		cb.fail(fmt.Errorf("dx12: timestamp queries cannot be begun: %w", driver.ErrTypeMismatch))
		return
	}
	cb.list.BeginQuery(heap, q.Type(), index)
}

// EndQuery ends an occlusion or pipeline statistics query.
func (cb *CommandBuffer) EndQuery(q Query, index uint32) {
	if !cb.ready() {
		return
	}
	heap, ok := cb.checkQuery(q, index, 1)
	if !ok {
		return
	}
	if q.Type() == QTimestamp {
		cb.fail(fmt.Errorf("dx12: use WriteTimestamp for timestamp queries: %w", driver.ErrTypeMismatch))
		return
	}
	cb.list.EndQuery(heap, q.Type(), index)
}

// WriteTimestamp writes a timestamp into a query.
func (cb *CommandBuffer) WriteTimestamp(q Query, index uint32) {
	if !cb.ready() {
		return
	}
	heap, ok := cb.checkQuery(q, index, 1)
	if !ok {
		return
	}
	if q.Type() != QTimestamp {
		cb.fail(fmt.Errorf("dx12: not a timestamp query: %w", driver.ErrTypeMismatch))
		return
	}
	cb.list.EndQuery(heap, QTimestamp, index)
}

// ResolveQueryData writes the results of n queries,
// starting at start, into the query's resolve buffer.
// Results are written at the offset of the first query.
func (cb *CommandBuffer) ResolveQueryData(q Query, start, n uint32) {
	if !cb.ready() {
		return
	}
	heap, ok := cb.checkQuery(q, start, n)
	if !ok || n == 0 {
		return
	}
	buf := q.ResolveBuffer()
	dst, err := nativeOf(buf, "resolve buffer")
	if err != nil {
		cb.fail(err)
		return
	}
	sz := resultSize(q.Type())
	if off := int64(start) * sz; off+int64(n)*sz > buf.Size() {
		cb.fail(fmt.Errorf("dx12: resolve buffer too small for %d queries: %w", n, driver.ErrOutOfRange))
		return
	}
	cb.list.ResolveQueryData(heap, q.Type(), start, n, dst, int64(start)*sz)
}
