// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

var (
	discoveryFirst     uint8
	discoveryLast      uint8
	discoveryListPorts bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find controllers on a host link",
	Long: `Probe a range of station addresses with QUERY_MANUFACTURER.

Each station that answers is queried for its scale count and reported.
Stations that stay silent for the response timeout are skipped, so a wide
range takes a while on a quiet line.

With --list-ports, the serial devices on this machine are listed instead.

Examples:
  # Probe stations 1 to 8 on a USB adapter
  coldlocker discovery --port /dev/ttyUSB0

  # Probe through a WebSocket bridge
  coldlocker discovery --url ws://locker.local:8081/ --first 1 --last 4

Exit codes:
  0 - At least one controller found
  1 - No controller answered
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	discoveryCmd.Flags().Uint8Var(&discoveryFirst, "first", 1, "First station address to probe")
	discoveryCmd.Flags().Uint8Var(&discoveryLast, "last", 8, "Last station address to probe")
	discoveryCmd.Flags().BoolVar(&discoveryListPorts, "list-ports", false, "List serial ports and exit")
	rootCmd.AddCommand(discoveryCmd)
}

// discoveredController is one station that answered the probe
type discoveredController struct {
	station      byte
	manufacturer byte
	scales       int
}

// probeStations queries every station in [first, last] through client.
// Requests carry their own station, so one client serves the whole range.
func probeStations(ctx context.Context, client *hostlink.Client, first, last byte, found func(discoveredController)) int {
	query := func(req *hostlink.Frame) (byte, error) {
		rsp, err := client.Do(ctx, req)
		if err != nil {
			return 0, err
		}
		return hostlink.ParseByte(rsp)
	}

	count := 0
	for addr := int(first); addr <= int(last); addr++ {
		station := byte(addr)
		id, err := query(hostlink.NewQueryManufacturer(station))
		if err != nil {
			continue
		}
		d := discoveredController{station: station, manufacturer: id}
		if n, err := query(hostlink.NewQueryScaleCount(station)); err == nil {
			d.scales = int(n)
		}
		count++
		found(d)
	}
	return count
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	if discoveryListPorts {
		ports, err := serialport.List()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}
	if discoveryFirst > discoveryLast {
		return fmt.Errorf("--first %d is above --last %d", discoveryFirst, discoveryLast)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Coldlocker - Controller Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Stations: %d to %d, %v each\n\n", discoveryFirst, discoveryLast, replyTimeout)

	client := hostlink.NewClient(conn, discoveryFirst, replyTimeout)
	found := probeStations(context.Background(), client, discoveryFirst, discoveryLast, func(d discoveredController) {
		fmt.Printf("Controller found:\n")
		fmt.Printf("  Station: 0x%02X\n", d.station)
		fmt.Printf("  Manufacturer: 0x%02X\n", d.manufacturer)
		fmt.Printf("  Scales: %d\n", d.scales)
	})

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Controllers found: %d\n", found)
	if found == 0 {
		fmt.Printf("No controllers answered. Check the baud rate, wiring and controller power.\n")
		os.Exit(1)
	}
	return nil
}
