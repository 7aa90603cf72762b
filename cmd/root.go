// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// Slate connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "cinder",
	Short: "Helios Firmware Flasher",
	Long: `Cinder - A CLI tool for flashing firmware onto the Helios ESP32 module.

Talks the ROM bootloader protocol over a direct serial port or through the
UART bridge of a Slate router, and provides commands for flashing, probing
and monitoring the module.

Connection modes:
  Serial: --port /dev/ttyUSB0 [--baud 115200]
  Slate:  --url ws://router/uart --port uart0 [--username user]

With --url, --port names the UART device on the router side rather than a
local serial port.

For Slate authentication, the password is read from the CINDER_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version: "1.2.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device, or UART name on the router with --url")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate")

	// Slate connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Slate router WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
