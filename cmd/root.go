// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Host protocol flags
	station      uint8
	replyTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "coldlocker",
	Short: "Refrigerated locker controller",
	Long: `Coldlocker - controller and host tools for a refrigerated locker.

The run command starts the controller itself: compressor control, cabinet
temperature sampling, the door lock, the weighing scales and the host link.
The remaining commands talk to a running controller over its host link, or
listen in on one.

Connection modes:
  Serial:    --port /dev/ttyS1 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the COLDLOCKER_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Host protocol flags
	rootCmd.PersistentFlags().Uint8Var(&station, "station", hostlink.DefaultStation, "Controller station address")
	rootCmd.PersistentFlags().DurationVar(&replyTimeout, "timeout", 500*time.Millisecond, "Response timeout per request")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
