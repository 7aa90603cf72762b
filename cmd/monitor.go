// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cinder/pkg/flasher"
)

var (
	monitorHex        bool
	monitorTimestamps bool
	monitorNoReset    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display module serial output",
	Long: `Reset the module into normal boot and stream its serial output.

By default bytes are passed through untouched, so firmware log output
renders exactly as the module prints it. Use --hex for a hex dump of the
raw stream, or --timestamps to prefix each line with its arrival time.

Press Ctrl+C to exit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Hex dump instead of raw passthrough")
	monitorCmd.Flags().BoolVar(&monitorTimestamps, "timestamps", false, "Prefix each line with arrival time")
	monitorCmd.Flags().BoolVar(&monitorNoReset, "no-reset", false, "Attach without resetting the module")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}
	defer transport.Close()

	fmt.Printf("Cinder - Serial Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	// Make sure the module runs its application, not a half-entered loader.
	if transport.Capabilities().ControlLines && !monitorNoReset {
		if err := flasher.ReleaseReset(transport, flasher.DefaultResetProfiles()[0]); err != nil {
			return err
		}
	}

	var offset int
	var lineBuf []byte

	for {
		chunk, err := transport.ReadChunk(time.Second)
		if err != nil {
			if errors.Is(err, flasher.ErrTimeout) {
				continue
			}
			return err
		}

		switch {
		case monitorHex:
			offset = dumpHex(chunk, offset)
		case monitorTimestamps:
			lineBuf = dumpLines(chunk, lineBuf)
		default:
			os.Stdout.Write(chunk)
		}
	}
}

// dumpHex prints a running hex dump, returning the updated stream offset
func dumpHex(chunk []byte, offset int) int {
	for _, b := range chunk {
		if offset%16 == 0 {
			if offset > 0 {
				fmt.Printf("\n")
			}
			fmt.Printf("%08X  ", offset)
		}
		fmt.Printf("%02X ", b)
		offset++
	}
	return offset
}

// dumpLines prints complete lines prefixed with their arrival time
func dumpLines(chunk, pending []byte) []byte {
	pending = append(pending, chunk...)
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			return pending
		}
		line := bytes.TrimSuffix(pending[:i], []byte{'\r'})
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
		pending = pending[i+1:]
	}
}
