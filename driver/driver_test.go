// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/frame/driver"
)

func TestDrivers(t *testing.T) {
	drivers := driver.Drivers()
	for i := range drivers {
		name := drivers[i].Name()
		for j := range i {
			assert.NotEqual(t, name, drivers[j].Name(), "driver.Drivers: Driver.Name is not unique")
		}
	}
	drivers2 := driver.Drivers()
	require.Len(t, drivers2, len(drivers), "driver.Drivers: length mismatch")
	for i := range drivers {
		assert.Equal(t, drivers[i].Name(), drivers2[i].Name(), "driver.Drivers: Driver.Name mismatch")
	}
}

func TestDriverName(t *testing.T) {
	name := drv.Name()
	require.NotEmpty(t, name, "Driver.Name: name is empty")
	drv.Close()
	assert.Equal(t, name, drv.Name(), "Driver.Name: unexpected name after call to Close")
	var err error
	gpu, err = drv.Open()
	require.NoError(t, err, "Failed to re-Open drv - cannot continue")
	assert.Equal(t, name, drv.Name(), "Driver.Name: unexpected name after call to Open")
}

func TestGPUDriver(t *testing.T) {
	g, err := drv.Open()
	require.NoError(t, err)
	assert.Equal(t, drv, gpu.Driver(), "GPU.Driver: unexpected Driver value")
	assert.Equal(t, g.Driver(), gpu.Driver(), "GPU.Driver: unexpected Driver value")
}

func TestGPUQueue(t *testing.T) {
	for _, typ := range [...]driver.CommandType{driver.CGraphics, driver.CCompute, driver.CCopy} {
		q, err := gpu.Queue(typ)
		require.NoError(t, err, "GPU.Queue(%s)", typ)
		assert.Equal(t, typ, q.Type(), "Queue.Type")
	}
	_, err := gpu.Queue(driver.CommandType(42))
	assert.ErrorIs(t, err, driver.ErrUnsupported, "GPU.Queue(42)")
}

func TestOpen(t *testing.T) {
	g, err := driver.Open("SOFT")
	require.NoError(t, err, "driver.Open(\"SOFT\")")
	assert.Equal(t, "soft", g.Driver().Name())

	g, err = driver.Open("")
	require.NoError(t, err, "driver.Open(\"\")")
	assert.NotNil(t, g)

	_, err = driver.Open("no such driver")
	assert.ErrorIs(t, err, driver.ErrNoDriver, "driver.Open(\"no such driver\")")
}

type failDriver struct{ name string }

var errFail = errors.New("failDriver: cannot open")

func (d failDriver) Open() (driver.GPU, error) { return nil, errFail }
func (d failDriver) Name() string              { return d.name }
func (d failDriver) Close()                    {}

func TestRegister(t *testing.T) {
	n := len(driver.Drivers())
	driver.Register(failDriver{"fail-driver-test"})
	require.Len(t, driver.Drivers(), n+1, "driver.Register: driver not appended")
	driver.Register(failDriver{"fail-driver-test"})
	assert.Len(t, driver.Drivers(), n+1, "driver.Register: driver not replaced")

	_, err := driver.Open("fail-driver")
	assert.ErrorIs(t, err, errFail, "driver.Open: error of failed driver not returned")
}
