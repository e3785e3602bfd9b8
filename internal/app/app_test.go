// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/coldlocker/internal/config"
	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

func simConfig() *config.Config {
	cfg := config.Default()
	cfg.Simulate = true
	cfg.ADC.Interval = 2 * time.Millisecond
	cfg.ADC.Samples = 2
	cfg.Lock.Timeout = 400 * time.Millisecond
	config.Normalize(cfg)
	return cfg
}

func simOptions() *SimOptions {
	opts := DefaultSimOptions()
	opts.Travel = 20 * time.Millisecond
	opts.Step = time.Hour
	opts.Start = 5
	opts.Noise = 0
	return &opts
}

type running struct {
	done chan struct{}
	err  error
}

// startApp runs a simulated controller and returns a host client on its link
func startApp(t *testing.T, cfg *config.Config) (*App, *hostlink.Client, *running) {
	t.Helper()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	a, err := New(cfg, Deps{Sim: simOptions()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &running{done: make(chan struct{})}
	go func() {
		run.err = a.Run(ctx)
		close(run.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-run.done:
		case <-time.After(2 * time.Second):
			t.Error("app did not stop")
		}
	})

	return a, hostlink.NewClient(a.HostEnd(), hostlink.DefaultStation, time.Second), run
}

// ============================================================
// Simulated Controller Tests
// ============================================================

func TestApp_HostRequests(t *testing.T) {
	a, c, _ := startApp(t, simConfig())
	ctx := context.Background()

	if id, err := c.Manufacturer(ctx); err != nil || id != 0x01 {
		t.Fatalf("Manufacturer = %#x, %v", id, err)
	}
	if n, err := c.ScaleCount(ctx); err != nil || n != 4 {
		t.Errorf("ScaleCount = %d, %v", n, err)
	}

	weights, err := c.NetWeights(ctx, hostlink.AllScales)
	if err != nil {
		t.Fatalf("NetWeights: %v", err)
	}
	want := []int16{100, 200, 300, 400, 0, 0, 0, 0}
	for i := range want {
		if weights[i] != want[i] {
			t.Errorf("slot %d: expected %d, got %d", i, want[i], weights[i])
		}
	}

	if ok, err := c.SetTemperature(ctx, 8); err != nil || !ok {
		t.Fatalf("SetTemperature = %v, %v", ok, err)
	}
	if v, err := c.Setpoint(ctx); err != nil || v != 8 {
		t.Errorf("Setpoint = %d, %v", v, err)
	}
	if v, ok := a.store.Get(compressor.SetpointKey); !ok || v != "8" {
		t.Errorf("set point not persisted: %q, %v", v, ok)
	}
	if ok, err := c.SetTemperature(ctx, 40); err != nil || ok {
		t.Errorf("out of range set point = %v, %v", ok, err)
	}
}

func TestApp_LockCycle(t *testing.T) {
	a, c, _ := startApp(t, simConfig())
	ctx := context.Background()

	if ok, err := c.Unlock(ctx); err != nil || !ok {
		t.Fatalf("Unlock = %v, %v", ok, err)
	}
	if locked, err := c.Locked(ctx); err != nil || locked {
		t.Errorf("Locked after unlock = %v, %v", locked, err)
	}

	a.Simulation().Board.OpenDoor(true)
	time.Sleep(200 * time.Millisecond)
	if open, err := c.DoorOpen(ctx); err != nil || !open {
		t.Errorf("DoorOpen = %v, %v", open, err)
	}
	a.Simulation().Board.OpenDoor(false)

	if ok, err := c.Lock(ctx); err != nil || !ok {
		t.Fatalf("Lock = %v, %v", ok, err)
	}
	if locked, err := c.Locked(ctx); err != nil || !locked {
		t.Errorf("Locked after lock = %v, %v", locked, err)
	}
}

func TestApp_Temperature(t *testing.T) {
	_, c, _ := startApp(t, simConfig())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, ok, err := c.Temperature(context.Background())
		if err != nil {
			t.Fatalf("Temperature: %v", err)
		}
		if ok {
			if v < 4 || v > 6 {
				t.Errorf("expected about 5 °C, got %d", v)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("temperature never became known")
}

func TestApp_HostLinkLossStopsEverything(t *testing.T) {
	a, _, run := startApp(t, simConfig())

	time.Sleep(20 * time.Millisecond)
	a.HostEnd().Close()

	select {
	case <-run.done:
		if run.err == nil {
			t.Error("expected an error after the host link closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("app kept running without its host link")
	}
}

func TestNew_BoardFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Host.Port = "/dev/null"
	cfg.Board.GPIORoot = filepath.Join(t.TempDir(), "missing")
	cfg.Board.ADCPath = filepath.Join(t.TempDir(), "adc")
	config.Normalize(cfg)

	if _, err := New(cfg, Deps{}); err == nil {
		t.Error("expected an error opening a missing board")
	}
}

// ============================================================
// Cabinet Tests
// ============================================================

func TestCabinet_CoolsAndWarms(t *testing.T) {
	board := hal.NewSimBoard(0)
	opts := DefaultSimOptions()
	opts.Noise = 0
	cab := NewCabinet(board, temperature.DefaultDivider(), opts)

	raw, _ := board.Thermistor.Read()
	if raw == 0 {
		t.Fatal("thermistor not initialised")
	}

	board.CompressorPower.Set(true)
	for i := 0; i < 100; i++ {
		cab.Step()
	}
	cooled := cab.Celsius()
	if cooled >= opts.Start {
		t.Fatalf("expected cooling below %.1f, got %.2f", opts.Start, cooled)
	}

	board.CompressorPower.Set(false)
	board.OpenDoor(true)
	for i := 0; i < 100; i++ {
		cab.Step()
	}
	if cab.Celsius() <= cooled {
		t.Errorf("expected warming above %.2f, got %.2f", cooled, cab.Celsius())
	}

	later, _ := board.Thermistor.Read()
	if later == raw {
		t.Error("thermistor did not follow the model")
	}
}
