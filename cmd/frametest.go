// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

var frameTestTimeout int

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test a connection by waiting for a valid host link frame",
	Long: `Listen on the connection until one valid host link frame passes or the
timeout expires. Nothing is sent, so this is safe on a line where another host
is already talking to the controller.

Rejected frames are counted but do not end the wait.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without a valid frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "wait", 10, "Seconds to wait for a frame")
	rootCmd.AddCommand(frameTestCmd)
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Coldlocker - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for a valid frame...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(frameTestTimeout)*time.Second)
	defer cancel()

	rejected := 0
	for s := range sniff(ctx, conn, 5*time.Millisecond) {
		if s.final {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", s.err)
			os.Exit(2)
		}
		if s.err != nil {
			rejected++
			continue
		}

		if rejected > 0 {
			fmt.Printf("(skipped %d rejected frames)\n", rejected)
		}
		kind := "request"
		if s.frame.IsResponse() {
			kind = "response"
		}
		fmt.Printf("SUCCESS: Received valid %s\n", kind)
		fmt.Printf("  Opcode: %s (0x%02X)\n", hostlink.FormatOpcode(s.frame.Code()), byte(s.frame.Code()))
		fmt.Printf("  Station: 0x%02X\n", s.frame.Address())
		fmt.Printf("  Length: %d bytes\n", len(s.adu))
		fmt.Printf("  CRC: 0x%04X\n", s.frame.CRC())
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
	os.Exit(1)
	return nil
}
