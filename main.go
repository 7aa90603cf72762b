// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Cinder - Helios Firmware Flasher
//
// A CLI tool for flashing firmware onto the ESP32 module of a Helios
// appliance, over a local serial port or a Slate router's UART bridge.

package main

import (
	"os"

	"github.com/Thermoquad/cinder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
