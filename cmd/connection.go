// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/cinder/pkg/flasher"
	"github.com/Thermoquad/cinder/pkg/slate"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("CINDER_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenTransport opens either a serial port or a Slate bridge based on flags
func OpenTransport() (flasher.Transport, string, error) {
	if wsURL != "" {
		// Slate mode
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		opts := []slate.Option{
			slate.WithBaud(baudRate),
			slate.WithInsecureTLS(wsNoSSLVerify),
		}
		if portName != "" {
			opts = append(opts, slate.WithPort(portName))
		}

		bridge, err := slate.Dial(wsURL, wsUsername, password, opts...)
		if err != nil {
			return nil, "", err
		}

		return bridge, fmt.Sprintf("Slate: %s", wsURL), nil
	}

	if portName != "" {
		// Serial mode
		port, err := flasher.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return port, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
