// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure host link round trips with manufacturer queries",
	Long: `Send QUERY_MANUFACTURER requests to the controller and time the responses.

The query has no side effects, which makes it a safe probe for:
  - the serial line or WebSocket bridge being up
  - the station address and baud rate being right
  - the controller answering within the response window

Exit codes:
  0 - All pings answered
  1 - One or more pings failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().IntVar(&pingCount, "count", 5, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 200*time.Millisecond, "Delay between pings")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	client, conn, connInfo, err := OpenClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Coldlocker - Host Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Station: 0x%02X, timeout %v, %d pings\n\n", station, replyTimeout, pingCount)

	var rtts []float64
	failed := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		id, err := client.Manufacturer(context.Background())
		rtt := time.Since(start)
		switch {
		case errors.Is(err, hostlink.ErrNoResponse):
			fmt.Printf("TIMEOUT (no response in %v)\n", replyTimeout)
			failed++
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failed++
		default:
			fmt.Printf("manufacturer=0x%02X rtt=%v\n", id, rtt.Round(100*time.Microsecond))
			rtts = append(rtts, float64(rtt.Microseconds())/1000)
		}

		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, len(rtts), float64(failed)/float64(pingCount)*100)
	if len(rtts) > 1 {
		fmt.Printf("rtt min/avg/max/stddev = %.2f/%.2f/%.2f/%.2f ms\n",
			floats.Min(rtts), stat.Mean(rtts, nil), floats.Max(rtts), stat.StdDev(rtts, nil))
	} else if len(rtts) == 1 {
		fmt.Printf("rtt = %.2f ms\n", rtts[0])
	}

	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
