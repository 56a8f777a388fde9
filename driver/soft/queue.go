// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/gviegas/frame/driver"
)

// Semaphore implements driver.Semaphore.
// It is a binary semaphore: a wait consumes the signal.
type Semaphore struct {
	d        *Device
	mu       sync.Mutex
	signaled bool
}

// Signaled returns whether s is signaled.
func (s *Semaphore) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

// Destroy destroys the semaphore.
func (s *Semaphore) Destroy() {
	if s.d != nil {
		s.d.destroy(semaphores)
		s.d = nil
	}
}

// NewSemaphore creates a new semaphore.
func (d *Device) NewSemaphore() (driver.Semaphore, error) {
	if err := d.create(semaphores); err != nil {
		return nil, err
	}
	return &Semaphore{d: d}, nil
}

// Fence implements driver.Fence.
type Fence struct {
	d  *Device
	mu sync.Mutex
	ch chan struct{}
}

// NewFence creates a new fence.
func (d *Device) NewFence(signaled bool) (driver.Fence, error) {
	if err := d.create(fences); err != nil {
		return nil, err
	}
	f := &Fence{d: d, ch: make(chan struct{})}
	if signaled {
		close(f.ch)
	}
	return f, nil
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.ch:
	default:
		close(f.ch)
	}
}

// Wait waits until f is signaled or timeout expires.
func (f *Fence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	select {
	case <-ch:
		return nil
	default:
	}
	if timeout <= 0 {
		return driver.ErrTimeout
	}
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case <-ch:
		return nil
	case <-tm.C:
		return driver.ErrTimeout
	}
}

// Reset unsignals f.
func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.ch:
		f.ch = make(chan struct{})
	default:
	}
	return nil
}

// Signaled returns whether f is signaled.
func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Destroy destroys the fence.
func (f *Fence) Destroy() {
	if f.d != nil {
		f.d.destroy(fences)
		f.d = nil
	}
}

// CmdBuffer implements driver.CmdBuffer.
// It records nothing.
type CmdBuffer struct {
	typ       driver.CommandType
	recording bool
	sessions  int
}

// Begin starts a recording session.
func (cb *CmdBuffer) Begin() error {
	if cb.recording {
		return fmt.Errorf("soft: Begin called twice: %w", driver.ErrRecording)
	}
	cb.recording = true
	cb.sessions++
	return nil
}

// End ends the recording session.
func (cb *CmdBuffer) End() error {
	if !cb.recording {
		return fmt.Errorf("soft: End called without Begin: %w", driver.ErrRecording)
	}
	cb.recording = false
	return nil
}

// Type returns the command type.
func (cb *CmdBuffer) Type() driver.CommandType { return cb.typ }

// Recording returns whether cb is recording.
func (cb *CmdBuffer) Recording() bool { return cb.recording }

// Sessions returns the number of recording sessions that
// were begun.
func (cb *CmdBuffer) Sessions() int { return cb.sessions }

// Queue implements driver.Queue and
// driver.ImageTransitioner.
type Queue struct {
	d   *Device
	typ driver.CommandType

	mu      sync.Mutex
	submits int
	last    *driver.SubmitInfo
}

// NewQueue creates a new queue.
func (d *Device) NewQueue(typ driver.CommandType) *Queue {
	return &Queue{d: d, typ: typ}
}

// Type returns the queue type.
func (q *Queue) Type() driver.CommandType { return q.typ }

// Submits returns the number of successful submissions.
func (q *Queue) Submits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}

// LastSubmit returns a copy of the last successful
// submission, or nil if there was none.
func (q *Queue) LastSubmit() *driver.SubmitInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.last == nil {
		return nil
	}
	last := *q.last
	return &last
}

// Submit executes the submission immediately.
// Waiting on a semaphore that is not signaled fails,
// since nothing could ever signal it.
func (q *Queue) Submit(info *driver.SubmitInfo) error {
	if info == nil {
		return driver.ErrNullArg
	}
	for i, cb := range info.CmdBuffers {
		if cb == nil {
			return fmt.Errorf("soft: command buffer %d: %w", i, driver.ErrNullArg)
		}
		if t := cb.Type(); t != q.typ && q.typ != driver.CGraphics {
			return fmt.Errorf("soft: %s command buffer on %s queue: %w", t, q.typ, driver.ErrTypeMismatch)
		}
		if r, ok := cb.(interface{ Recording() bool }); ok && r.Recording() {
			return fmt.Errorf("soft: command buffer %d is recording: %w", i, driver.ErrNotPermitted)
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range info.Wait {
		sem, ok := s.(*Semaphore)
		if !ok {
			return fmt.Errorf("soft: wait semaphore %d: %w", i, driver.ErrTypeMismatch)
		}
		if !sem.Signaled() {
			return fmt.Errorf("soft: wait semaphore %d is never signaled: %w", i, driver.ErrBackend)
		}
	}
	for _, s := range info.Wait {
		sem := s.(*Semaphore)
		sem.mu.Lock()
		sem.signaled = false
		sem.mu.Unlock()
	}
	for i, s := range info.Signal {
		sem, ok := s.(*Semaphore)
		if !ok {
			return fmt.Errorf("soft: signal semaphore %d: %w", i, driver.ErrTypeMismatch)
		}
		sem.mu.Lock()
		sem.signaled = true
		sem.mu.Unlock()
	}
	if info.Fence != nil {
		f, ok := info.Fence.(*Fence)
		if !ok {
			return fmt.Errorf("soft: fence: %w", driver.ErrTypeMismatch)
		}
		f.signal()
	}
	q.submits++
	last := *info
	q.last = &last
	return nil
}

// NewCmdBuffer creates a new command buffer.
func (q *Queue) NewCmdBuffer() (driver.CmdBuffer, error) {
	if err := q.d.create(cmdBuffers); err != nil {
		return nil, err
	}
	return &CmdBuffer{typ: q.typ}, nil
}

// DestroyCmdBuffer destroys a command buffer.
func (q *Queue) DestroyCmdBuffer(cb driver.CmdBuffer) {
	if cb != nil {
		q.d.destroy(cmdBuffers)
	}
}

// TransitionImage changes the state of img immediately.
func (q *Queue) TransitionImage(img driver.Image, before, after driver.ResourceState) error {
	x, ok := img.(*Image)
	if !ok {
		return fmt.Errorf("soft: image %T: %w", img, driver.ErrTypeMismatch)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != before {
		return fmt.Errorf("soft: image is %s, not %s: %w", x.state, before, driver.ErrNotPermitted)
	}
	x.state = after
	return nil
}
