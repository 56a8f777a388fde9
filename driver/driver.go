// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package driver defines the set of interfaces that the
// frame acquisition and command recording layers consume
// from an underlying graphics backend.
// Backends implement these interfaces and register
// themselves through Register, usually from an init
// function.
package driver

import (
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Driver is the interface that provides methods for
// loading and unloading an underlying implementation.
type Driver interface {
	// Open initializes the driver.
	// If it succeeds, further calls with the same receiver
	// have no effect and must return the same GPU instance.
	// Callers should assume that Open is not safe for
	// parallel execution.
	Open() (GPU, error)

	// Name returns the name of the driver.
	// It must not cause the driver to be opened.
	Name() string

	// Close deinitializes the driver.
	// Closing a driver that is not open has no effect.
	Close()
}

// GPU is the main interface to an opened driver.
// It gives access to the device, which creates resources,
// and to the queues, which execute commands.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Device returns the logical device.
	Device() Device

	// Queue returns a queue of the given type.
	// It fails with ErrUnsupported if the GPU has no
	// queue of that type.
	Queue(typ CommandType) (Queue, error)
}

// ErrNoDriver means that no registered driver matched
// a call to Open.
var ErrNoDriver = errors.New("driver: driver not found")

// ErrNoDevice means that no suitable device could be
// found.
var ErrNoDevice = errors.New("driver: no suitable device found")

// ErrFatal means that the driver is in an unrecoverable
// state. Upon encountering such an error, the application
// must destroy everything that it created using the
// driver's GPU and then call the Close method.
var ErrFatal = errors.New("driver: fatal error")

// Drivers returns the registered Drivers.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Register registers a Driver.
// Driver implementations are expected to call Register
// exactly once, from an init function.
// If a driver with the same name has already been
// registered, it will be replaced by drv.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			Logger().WithField("driver", drv.Name()).Warn("driver replaced")
			return
		}
	}
	drivers = append(drivers, drv)
	Logger().WithField("driver", drv.Name()).Info("driver registered")
}

// Open opens the first registered driver whose name
// contains name, ignoring case.
// If name is the empty string, then all registered
// drivers are considered.
// Drivers that fail to open are skipped; the error of the
// last failure is returned if none succeeds.
func Open(name string) (GPU, error) {
	err := ErrNoDriver
	name = strings.ToLower(name)
	for _, drv := range Drivers() {
		if !strings.Contains(strings.ToLower(drv.Name()), name) {
			continue
		}
		var gpu GPU
		if gpu, err = drv.Open(); err != nil {
			Logger().WithFields(logrus.Fields{
				"driver": drv.Name(),
				"error":  err,
			}).Warn("driver failed to open")
			continue
		}
		return gpu, nil
	}
	return nil, err
}

// Variables used for driver registration.
var (
	mu      sync.Mutex
	drivers []Driver = make([]Driver, 0, 1)
)
