// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package driver_test

import (
	"log"

	"github.com/gviegas/frame/driver"
	_ "github.com/gviegas/frame/driver/soft"
)

var (
	drv driver.Driver
	gpu driver.GPU
)

func init() {
	for _, d := range driver.Drivers() {
		if d.Name() == "soft" {
			drv = d
			break
		}
	}
	if drv == nil {
		log.Fatal("driver.Drivers(): driver not found")
	}
	var err error
	gpu, err = drv.Open()
	if err != nil {
		log.Fatal(err)
	}
}
