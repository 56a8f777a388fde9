// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"errors"
)

// ErrSwapchain means that the backend reported that a
// swapchain image became unusable.
// This error is fatal to the presentation session: the
// swapchain must be destroyed and created again. It is
// never retried internally.
var ErrSwapchain = errors.New("driver: swapchain-related error")

// ErrTimeout means that a blocking acquisition did not
// complete within the given timeout.
// Unlike ErrSwapchain, it is not fatal: the caller may
// retry the acquisition or skip the frame.
var ErrTimeout = errors.New("driver: timeout expired")

// ErrImageCount means that the backend created fewer
// swapchain images than were requested.
var ErrImageCount = errors.New("driver: image count shortfall")

// ErrIndexMismatch means that a compositor returned
// different image indices for the color and depth images
// of the same acquisition, or different image counts for
// the color and depth image chains.
var ErrIndexMismatch = errors.New("driver: color/depth index mismatch")

// ErrUnsupported means that the operation is not supported
// by the backend.
var ErrUnsupported = errors.New("driver: operation not supported")

// ErrBackend means that a native backend call failed.
var ErrBackend = errors.New("driver: backend call failed")
