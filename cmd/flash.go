// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/cinder/pkg/flasher"
)

var (
	flashImages     []string
	flashNoTUI      bool
	flashNoReset    bool
	flashNoVerify   bool
	flashVerbose    bool
	flashChunkSize  int
	flashSyncCycles int
	flashSizeMB     int
	flashBaudHigh   int
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Write firmware images to the Helios module",
	Long: `Write firmware images to the Helios module's flash.

Each --image flag names one region as ADDRESS=FILE, where ADDRESS is the
flash address (hex or decimal) and FILE is the image to write there. The
module is reset into its ROM bootloader, the images are streamed in
acknowledged chunks, verified by MD5 unless --no-verify is given, and the
module is rebooted into the new firmware.

Example:
  cinder flash --port /dev/ttyUSB0 \
    --image 0x1000=bootloader.bin \
    --image 0x8000=partitions.bin \
    --image 0x10000=helios.bin

Exit codes:
  0 - All regions written and module rebooted
  1 - Flash failed
  2 - Connection error`,
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringArrayVar(&flashImages, "image", nil, "Image region as ADDRESS=FILE (repeatable)")
	flashCmd.Flags().BoolVar(&flashNoTUI, "no-tui", false, "Plain text output instead of the terminal UI")
	flashCmd.Flags().BoolVar(&flashNoReset, "no-reset", false, "Skip the reset sequence (module already in bootloader)")
	flashCmd.Flags().BoolVar(&flashNoVerify, "no-verify", false, "Skip MD5 verification after writing")
	flashCmd.Flags().BoolVar(&flashVerbose, "verbose", false, "Show protocol-level log output")
	flashCmd.Flags().IntVar(&flashChunkSize, "chunk-size", 1024, "Data bytes per write command")
	flashCmd.Flags().IntVar(&flashSyncCycles, "sync-cycles", 7, "Reset and sync cycles before giving up")
	flashCmd.Flags().IntVar(&flashSizeMB, "flash-size", 4, "Flash chip size in MiB")
	flashCmd.Flags().IntVar(&flashBaudHigh, "baud-high", 0, "Switch to this baud rate after sync (0 = stay at --baud)")
	flashCmd.MarkFlagRequired("image")
}

func runFlash(cmd *cobra.Command, args []string) error {
	images, err := loadImageSet(flashImages)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Image error: %v\n", err)
		os.Exit(1)
	}

	transport, connInfo, err := OpenTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer transport.Close()

	if !flashNoTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		err = runFlashTUI(transport, connInfo, images)
	} else {
		err = runFlashText(transport, connInfo, images)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[1;31mFAILED:\033[0m %v\n", err)
		os.Exit(1)
	}

	os.Exit(0)
	return nil
}

// parseImageArg parses one ADDRESS=FILE argument into a region
func parseImageArg(arg string) (flasher.Region, error) {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return flasher.Region{}, fmt.Errorf("invalid image %q (want ADDRESS=FILE)", arg)
	}

	offset, err := strconv.ParseUint(parts[0], 0, 32)
	if err != nil {
		return flasher.Region{}, fmt.Errorf("invalid address in %q: %v", arg, err)
	}

	data, err := os.ReadFile(parts[1])
	if err != nil {
		return flasher.Region{}, fmt.Errorf("failed to read image %s: %v", parts[1], err)
	}

	return flasher.Region{
		Offset: uint32(offset),
		Data:   data,
		Name:   filepath.Base(parts[1]),
	}, nil
}

// loadImageSet reads all --image arguments into an ordered image set
func loadImageSet(args []string) (*flasher.ImageSet, error) {
	regions := make([]flasher.Region, 0, len(args))
	for _, arg := range args {
		region, err := parseImageArg(arg)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return flasher.NewImageSet(regions...)
}

// flashOptions builds the session options shared by text and TUI mode
func flashOptions() []flasher.Option {
	opts := []flasher.Option{
		flasher.WithChunkSize(flashChunkSize),
		flasher.WithSyncBudget(flashSyncCycles, 5),
		flasher.WithFlashSize(uint32(flashSizeMB) * 1024 * 1024),
	}
	if flashBaudHigh > 0 {
		opts = append(opts, flasher.WithHighBaud(flashBaudHigh))
	}
	if flashNoReset {
		opts = append(opts, flasher.WithSkipReset())
	}
	return opts
}

// runFlashText flashes with plain text output and a progress bar
func runFlashText(transport flasher.Transport, connInfo string, images *flasher.ImageSet) error {
	fmt.Printf("Cinder - Firmware Flash\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Images: %d region(s), %d bytes\n\n", images.Count(), images.TotalBytes())

	bar := progressbar.NewOptions(images.TotalBytes(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Writing"),
		progressbar.OptionShowBytes(true),
	)

	opts := append(flashOptions(),
		flasher.WithLogger(&textLogger{verbose: flashVerbose}),
		flasher.WithProgressCallback(func(p flasher.Progress) {
			bar.Set(p.BytesWritten)
		}),
	)
	session := flasher.New(transport, opts...)

	if err := session.Connect(); err != nil {
		return err
	}
	fmt.Printf("Synchronized: %s detected\n\n", session.Chip())

	if err := session.Flash(images); err != nil {
		return err
	}
	bar.Finish()
	fmt.Printf("\n\n")

	if !flashNoVerify {
		if err := session.Verify(images); err != nil {
			if errors.Is(err, flasher.ErrVerificationUnavailable) {
				fmt.Printf("\033[1;33mVerification skipped:\033[0m loader cannot hash flash contents\n")
			} else {
				return err
			}
		} else {
			fmt.Printf("\033[1;32mVerified:\033[0m all regions match\n")
		}
	}

	if err := session.Finalize(); err != nil {
		return err
	}
	fmt.Printf("\033[1;32mSUCCESS:\033[0m module rebooted into new firmware\n\n")
	fmt.Print(session.Statistics().String())
	return nil
}

// textLogger adapts session diagnostics to timestamped terminal lines
type textLogger struct {
	verbose bool
}

func (l *textLogger) Debug(msg string, keysAndValues ...interface{}) {
	if l.verbose {
		printLogLine("DEBUG", msg, keysAndValues)
	}
}

func (l *textLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.verbose {
		printLogLine("INFO", msg, keysAndValues)
	}
}

func (l *textLogger) Error(msg string, keysAndValues ...interface{}) {
	printLogLine("ERROR", msg, keysAndValues)
}

func printLogLine(level, msg string, keysAndValues []interface{}) {
	timestamp := time.Now().Format("15:04:05.000")
	color := "\033[1;32m"
	switch level {
	case "ERROR":
		color = "\033[1;31m"
	case "DEBUG":
		color = "\033[1;30m"
	}
	fmt.Printf("[%s] %s%s:\033[0m %s\n", timestamp, color, level, formatLogLine(msg, keysAndValues))
}

// formatLogLine flattens a structured log call into one line
func formatLogLine(msg string, keysAndValues []interface{}) string {
	out := msg
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return out
}
