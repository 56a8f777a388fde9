// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package soft implements driver interfaces in memory,
// with no GPU.
// Submissions complete synchronously: semaphores and
// fences are signaled before Submit returns.
// Besides driver.Device and driver.Queue, it provides a
// surface, an XR compositor and the native API used by
// the dx12 package, along with knobs that tests use to
// inject failures.
package soft

import (
	"sync"

	"github.com/gviegas/frame/driver"
)

const driverName = "soft"

// Driver implements driver.Driver and driver.GPU.
type Driver struct {
	mu   sync.Mutex
	dev  *Device
	ques [3]*Queue
}

func init() {
	driver.Register(&Driver{})
}

// Open initializes the driver.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		d.dev = NewDevice()
		for i := range d.ques {
			d.ques[i] = d.dev.NewQueue(driver.CommandType(i))
		}
	}
	return d, nil
}

// Name returns the driver name.
func (*Driver) Name() string { return driverName }

// Close deinitializes the driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dev = nil
	d.ques = [3]*Queue{}
}

// Driver returns d itself.
func (d *Driver) Driver() driver.Driver { return d }

// Device returns the device.
// The driver must be open.
func (d *Driver) Device() driver.Device { return d.dev }

// SoftDevice returns the device with its concrete type.
func (d *Driver) SoftDevice() *Device { return d.dev }

// Queue returns the queue of the given type.
func (d *Driver) Queue(typ driver.CommandType) (driver.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil, driver.ErrNoDevice
	}
	if typ < 0 || int(typ) >= len(d.ques) {
		return nil, driver.ErrUnsupported
	}
	return d.ques[typ], nil
}
