// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cinder/pkg/flasher"
)

var (
	probeReadRegs []string
	probeNoReset  bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test whether the module answers in bootloader mode",
	Long: `Reset the module into its ROM bootloader and check that it answers.

This command runs the reset and sync sequence and reports the detected
chip along with its security state. With --read-reg, individual registers
are read and printed, which is useful for identifying board revisions
from eFuse words.

Exit codes:
  0 - Module answered in bootloader mode
  1 - Module did not answer
  2 - Connection error

Useful for testing cabling and reset wiring before a flash.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringArrayVar(&probeReadRegs, "read-reg", nil, "Register address to read (hex or decimal, repeatable)")
	probeCmd.Flags().BoolVar(&probeNoReset, "no-reset", false, "Skip the reset sequence (module already in bootloader)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer transport.Close()

	fmt.Printf("Cinder - Bootloader Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Waiting for bootloader sync...\n\n")

	opts := []flasher.Option{}
	if probeNoReset {
		opts = append(opts, flasher.WithSkipReset())
	}
	session := flasher.New(transport, opts...)

	if err := session.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "No module answered: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("SUCCESS: Module is in bootloader mode\n")
	fmt.Printf("  Chip: %s\n", session.Chip())

	// Older ROMs reject the security query; report what we can.
	if info, err := session.SecurityInfo(); err != nil {
		fmt.Printf("  Security info: unavailable (%v)\n", err)
	} else {
		fmt.Printf("  Secure boot: %s\n", enabledStr(info.SecureBootEnabled()))
		fmt.Printf("  Flash crypt count: %d\n", info.FlashCryptCnt)
		if info.Extended {
			fmt.Printf("  Chip identifier: 0x%08X (API v%d)\n", info.ChipIdentifier, info.APIVersion)
		}
	}

	for _, arg := range probeReadRegs {
		addr, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid register address %q: %v\n", arg, err)
			os.Exit(1)
		}
		value, err := session.ReadRegister(uint32(addr))
		if err != nil {
			fmt.Printf("  Register 0x%08X: read failed (%v)\n", uint32(addr), err)
			continue
		}
		fmt.Printf("  Register 0x%08X = 0x%08X\n", uint32(addr), value)
	}

	fmt.Println()
	if transport.Capabilities().ControlLines && !probeNoReset {
		if err := flasher.ReleaseReset(transport, flasher.DefaultResetProfiles()[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Reset release failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Module reset into normal boot\n")
	} else {
		fmt.Printf("Module left in bootloader mode\n")
	}

	os.Exit(0)
	return nil
}

func enabledStr(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
