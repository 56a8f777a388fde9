// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// loggerPtr stores the active logger.
var loggerPtr atomic.Pointer[logrus.Logger]

func init() { loggerPtr.Store(newNopLogger()) }

// newNopLogger creates a logger that discards all output.
func newNopLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// SetLogger configures the logger used by driver and by
// the packages built on top of it (swapchain, dx12, soft).
// By default nothing is logged.
// Passing nil restores the default.
//
// Levels:
//   - Debug: per-frame diagnostics (acquired index, heap offsets)
//   - Info: lifecycle events (swapchain created, driver registered)
//   - Warn: tolerated misuse (double Destroy, leaked command buffers)
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
// It is safe for concurrent use.
func Logger() *logrus.Logger { return loggerPtr.Load() }
