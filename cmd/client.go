// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

// errRefused reports a command the controller answered with FAIL
var errRefused = errors.New("controller refused the command")

// withClient connects, runs fn and disconnects. Ctrl+C cancels fn.
func withClient(fn func(ctx context.Context, c *hostlink.Client) error) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, client)
}

// clientCommand builds a subcommand that talks to the controller
func clientCommand(use, short string, args cobra.PositionalArgs, fn func(ctx context.Context, c *hostlink.Client, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *hostlink.Client) error {
				return fn(ctx, c, args)
			})
		},
	}
}

func printResult(name string, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("%s: FAIL\n", name)
		return errRefused
	}
	fmt.Printf("%s: SUCCESS\n", name)
	return nil
}

func parseScaleArg(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid scale address %q", s)
	}
	return byte(v), nil
}

func formatWeight(w int16) string {
	if w == hostlink.NetWeightFault {
		return "ERR"
	}
	return strconv.Itoa(int(w))
}

func formatTemperature(t int8, ok bool) string {
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%d C", t)
}

func init() {
	statusCmd := clientCommand("status", "Show door, lock, temperature and set point", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			open, err := c.DoorOpen(ctx)
			if err != nil {
				return fmt.Errorf("door: %w", err)
			}
			locked, err := c.Locked(ctx)
			if err != nil {
				return fmt.Errorf("lock: %w", err)
			}
			t, valid, err := c.Temperature(ctx)
			if err != nil {
				return fmt.Errorf("temperature: %w", err)
			}
			setpoint, err := c.Setpoint(ctx)
			if err != nil {
				return fmt.Errorf("setpoint: %w", err)
			}
			scales, err := c.ScaleCount(ctx)
			if err != nil {
				return fmt.Errorf("scale count: %w", err)
			}

			fmt.Printf("Door:        %s\n", doorText(open))
			fmt.Printf("Lock:        %s\n", lockText(locked))
			fmt.Printf("Temperature: %s\n", formatTemperature(t, valid))
			fmt.Printf("Set point:   %d C\n", setpoint)
			fmt.Printf("Scales:      %d\n", scales)
			return nil
		})

	doorCmd := clientCommand("door", "Query the door status", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			open, err := c.DoorOpen(ctx)
			if err != nil {
				return err
			}
			fmt.Println(doorText(open))
			return nil
		})

	lockStatusCmd := clientCommand("lock-status", "Query the lock status", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			locked, err := c.Locked(ctx)
			if err != nil {
				return err
			}
			fmt.Println(lockText(locked))
			return nil
		})

	lockCmd := clientCommand("lock", "Lock the door", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			ok, err := c.Lock(ctx)
			return printResult("LOCK", ok, err)
		})

	unlockCmd := clientCommand("unlock", "Unlock the door", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			ok, err := c.Unlock(ctx)
			return printResult("UNLOCK", ok, err)
		})

	temperatureCmd := clientCommand("temperature", "Query the cabinet temperature", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			t, valid, err := c.Temperature(ctx)
			if err != nil {
				return err
			}
			fmt.Println(formatTemperature(t, valid))
			return nil
		})

	setpointCmd := clientCommand("setpoint [celsius]", "Query or change the temperature set point", cobra.MaximumNArgs(1),
		func(ctx context.Context, c *hostlink.Client, args []string) error {
			if len(args) == 0 {
				v, err := c.Setpoint(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d C\n", v)
				return nil
			}
			v, err := strconv.ParseInt(args[0], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid set point %q", args[0])
			}
			ok, err := c.SetTemperature(ctx, int8(v))
			return printResult("SET_TEMPERATURE", ok, err)
		})

	weightsCmd := clientCommand("weights [scale]", "Query net weights of all scales or one", cobra.MaximumNArgs(1),
		func(ctx context.Context, c *hostlink.Client, args []string) error {
			addr := byte(hostlink.AllScales)
			if len(args) == 1 {
				var err error
				if addr, err = parseScaleArg(args[0]); err != nil {
					return err
				}
			}
			weights, err := c.NetWeights(ctx, addr)
			if err != nil {
				return err
			}
			if addr != hostlink.AllScales {
				fmt.Printf("scale %d: %s\n", addr, formatWeight(weights[0]))
				return nil
			}
			count, err := c.ScaleCount(ctx)
			if err != nil {
				return err
			}
			for i := 0; i < count && i < len(weights); i++ {
				fmt.Printf("slot %d: %s\n", i, formatWeight(weights[i]))
			}
			return nil
		})

	tareCmd := clientCommand("tare <scale>", "Remove the tare of one scale, or all with 0", cobra.ExactArgs(1),
		func(ctx context.Context, c *hostlink.Client, args []string) error {
			addr, err := parseScaleArg(args[0])
			if err != nil {
				return err
			}
			ok, err := c.RemoveTare(ctx, addr)
			return printResult("REMOVE_TARE", ok, err)
		})

	calibrateCmd := clientCommand("calibrate <scale> <weight>", "Calibrate a scale (weight 0 sets zero)", cobra.ExactArgs(2),
		func(ctx context.Context, c *hostlink.Client, args []string) error {
			addr, err := parseScaleArg(args[0])
			if err != nil {
				return err
			}
			weight, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid weight %q", args[1])
			}
			ok, err := c.Calibrate(ctx, addr, uint16(weight))
			return printResult("CALIBRATE", ok, err)
		})

	scalesCmd := clientCommand("scales", "Query the number of scales", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			n, err := c.ScaleCount(ctx)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		})

	manufacturerCmd := clientCommand("manufacturer", "Query the manufacturer id", cobra.NoArgs,
		func(ctx context.Context, c *hostlink.Client, _ []string) error {
			id, err := c.Manufacturer(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("0x%02X\n", id)
			return nil
		})

	rootCmd.AddCommand(statusCmd, doorCmd, lockStatusCmd, lockCmd, unlockCmd, temperatureCmd, setpointCmd,
		weightsCmd, tareCmd, calibrateCmd, scalesCmd, manufacturerCmd)
}

func doorText(open bool) string {
	if open {
		return "OPEN"
	}
	return "CLOSED"
}

func lockText(locked bool) string {
	if locked {
		return "LOCKED"
	}
	return "UNLOCKED"
}
