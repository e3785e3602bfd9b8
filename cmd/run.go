// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/coldlocker/internal/app"
	"github.com/Thermoquad/coldlocker/internal/bridge"
	"github.com/Thermoquad/coldlocker/internal/config"
	"github.com/Thermoquad/coldlocker/internal/log"
)

var (
	runConfigPath string
	runSimulate   bool
	runDebug      bool
	runCapture    string
	runBridge     string
	runBridgeUser string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the locker controller",
	Long: `Start the controller: compressor control, temperature sampling, the door
lock, the scale pollers and the host link server.

Configuration is read from --config over the built-in defaults, then from
COLDLOCKER_* environment variables (a .env file in the working directory is
loaded first). The --port and --baud flags override the host link settings.

With --simulate the board, the cabinet and the scales are simulated. When no
host port is given, the host link runs on an in-memory pipe which --bridge
exposes to WebSocket clients, so the other commands can reach it with --url.`,
	RunE: runController,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "YAML configuration file")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Simulate the board, cabinet and scales")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
	runCmd.Flags().StringVar(&runCapture, "capture", "", "Record host link frames to this CBOR file")
	runCmd.Flags().StringVar(&runBridge, "bridge", "", "Serve the simulated host link over WebSocket on this address")
	runCmd.Flags().StringVar(&runBridgeUser, "bridge-user", "", "Require HTTP Basic auth with this username ("+PasswordEnv+" holds the password)")
	rootCmd.AddCommand(runCmd)
}

func runController(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	cfg, err := config.Load(runConfigPath, func(c *config.Config) {
		if runSimulate {
			c.Simulate = true
		}
		if runDebug {
			c.Log.Debug = true
		}
		if runCapture != "" {
			c.Host.Capture = runCapture
		}
		if flags.Changed("port") {
			c.Host.Port = portName
		}
		if flags.Changed("baud") {
			c.Host.Baud = baudRate
		}
		if flags.Changed("station") {
			c.Host.Address = station
		}
	})
	if err != nil {
		return err
	}

	if err := log.Init(cfg.LogOptions()); err != nil {
		return err
	}
	defer log.Sync()

	controller, err := app.New(cfg, app.Deps{Logger: log.GetSugaredLogger()})
	if err != nil {
		// board, ports and env store are required to run at all
		log.Fatalf("build controller: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runBridge == "" {
		return stopped(controller.Run(ctx))
	}

	hostEnd := controller.HostEnd()
	if hostEnd == nil {
		return errors.New("--bridge needs the simulated host link (--simulate without --port)")
	}
	password := ""
	if runBridgeUser != "" {
		if password, err = GetPassword(); err != nil {
			return err
		}
	} else {
		log.Warnf("host link bridge on %s accepts clients without authentication", runBridge)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(ctx) })
	g.Go(func() error {
		b := bridge.New(hostEnd, runBridgeUser, password, log.With("component", "bridge"))
		log.Infof("host link bridge listening on %s", runBridge)
		return b.ListenAndServe(ctx, runBridge)
	})
	return stopped(g.Wait())
}

// stopped logs why the controller ended; a signal is a clean stop
func stopped(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		log.Infof("controller stopped")
		return nil
	}
	log.Errorf("controller failed: %v", err)
	return err
}
