// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/crc16"
	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/lock"
	"github.com/Thermoquad/coldlocker/pkg/scale"
	"github.com/Thermoquad/coldlocker/pkg/scalelink"
	"github.com/Thermoquad/coldlocker/pkg/serialport"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

type fakeLock struct {
	status lock.Status
	result bool
}

func (f *fakeLock) Unlock(context.Context, time.Duration) (bool, error) { return f.result, nil }
func (f *fakeLock) Lock(context.Context, time.Duration) (bool, error)   { return f.result, nil }
func (f *fakeLock) Status(context.Context, time.Duration) (lock.Status, error) {
	return f.status, nil
}

type fakeCompressor struct {
	mu       sync.Mutex
	setpoint int
}

func (f *fakeCompressor) SetSetpoint(_ context.Context, v int, _ time.Duration) error {
	if v < 2 || v > 26 {
		return fmt.Errorf("%w: %d", compressor.ErrSetpointRange, v)
	}
	f.mu.Lock()
	f.setpoint = v
	f.mu.Unlock()
	return nil
}

func (f *fakeCompressor) Setpoint(context.Context, time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setpoint, nil
}

type fakeThermometer struct {
	reading temperature.Reading
	err     error
}

func (f *fakeThermometer) Latest(context.Context, time.Duration) (temperature.Reading, error) {
	return f.reading, f.err
}

type fakeScales struct {
	weights []int16
	ok      bool
	last    uint16
}

func (f *fakeScales) Count() int { return len(f.weights) }

func (f *fakeScales) NetWeights(_ context.Context, addr byte) ([]int16, error) {
	if addr != 0 && addr != 11 {
		return nil, scale.ErrUnknownScale
	}
	return f.weights, nil
}

func (f *fakeScales) RemoveTare(context.Context, byte) (bool, error) { return f.ok, nil }

func (f *fakeScales) Calibrate(_ context.Context, _ byte, weight uint16) (bool, error) {
	f.last = weight
	return f.ok, nil
}

type record struct {
	dir, id string
	frame   []byte
	note    string
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []record
}

func (f *fakeRecorder) Record(dir, id string, frame []byte, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record{dir, id, append([]byte(nil), frame...), note})
	return nil
}

func (f *fakeRecorder) all() []record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record(nil), f.records...)
}

func testConfig(framing Framing) Config {
	cfg := DefaultConfig()
	cfg.Framing = framing
	cfg.FrameGap = 5 * time.Millisecond
	cfg.Poll = 20 * time.Millisecond
	cfg.SendTimeout = 50 * time.Millisecond
	cfg.TaskTimeout = 100 * time.Millisecond
	cfg.Manufacturer = 0x5A
	return cfg
}

func defaultDeps() Deps {
	return Deps{
		Lock:        &fakeLock{status: lock.Status{DoorOpen: true, Locked: true}, result: true},
		Compressor:  &fakeCompressor{setpoint: 6},
		Temperature: &fakeThermometer{reading: temperature.Reading{Rounded: -5, Valid: true}},
		Scales:      &fakeScales{weights: []int16{10, -20, hostlink.NetWeightFault, 40}, ok: true},
	}
}

// startServer runs a server on one end of a pipe and returns the host end
func startServer(t *testing.T, cfg Config, deps Deps) (serialport.Port, *Server) {
	t.Helper()
	host, dev := serialport.Pipe(0)
	srv := NewServer(cfg, serialport.NewLink(dev), deps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		host.Close()
		<-done
	})
	return host, srv
}

func newHost(t *testing.T, cfg Config, deps Deps) (*hostlink.Client, serialport.Port, *Server) {
	t.Helper()
	port, srv := startServer(t, cfg, deps)
	return hostlink.NewClient(port, hostlink.DefaultStation, 500*time.Millisecond), port, srv
}

// ============================================================
// Dispatch Tests
// ============================================================

func TestServer_Queries(t *testing.T) {
	for _, framing := range []Framing{FramingIdle, FramingStrict} {
		t.Run(framing.String(), func(t *testing.T) {
			c, _, _ := newHost(t, testConfig(framing), defaultDeps())
			ctx := context.Background()

			if open, err := c.DoorOpen(ctx); err != nil || !open {
				t.Errorf("DoorOpen = %v, %v", open, err)
			}
			if locked, err := c.Locked(ctx); err != nil || !locked {
				t.Errorf("Locked = %v, %v", locked, err)
			}
			if v, ok, err := c.Temperature(ctx); err != nil || !ok || v != -5 {
				t.Errorf("Temperature = %d, %v, %v", v, ok, err)
			}
			if v, err := c.Setpoint(ctx); err != nil || v != 6 {
				t.Errorf("Setpoint = %d, %v", v, err)
			}
			if n, err := c.ScaleCount(ctx); err != nil || n != 4 {
				t.Errorf("ScaleCount = %d, %v", n, err)
			}
			if id, err := c.Manufacturer(ctx); err != nil || id != 0x5A {
				t.Errorf("Manufacturer = %#x, %v", id, err)
			}
			weights, err := c.NetWeights(ctx, hostlink.AllScales)
			if err != nil {
				t.Fatalf("NetWeights: %v", err)
			}
			if weights[1] != -20 || weights[2] != hostlink.NetWeightFault || weights[7] != 0 {
				t.Errorf("unexpected weights %v", weights)
			}
		})
	}
}

func TestServer_Commands(t *testing.T) {
	deps := defaultDeps()
	scales := deps.Scales.(*fakeScales)
	comp := deps.Compressor.(*fakeCompressor)
	c, _, _ := newHost(t, testConfig(FramingIdle), deps)
	ctx := context.Background()

	if ok, err := c.SetTemperature(ctx, 10); err != nil || !ok {
		t.Fatalf("SetTemperature = %v, %v", ok, err)
	}
	if v, _ := comp.Setpoint(ctx, 0); v != 10 {
		t.Errorf("expected set point 10, got %d", v)
	}
	if ok, err := c.SetTemperature(ctx, 40); err != nil || ok {
		t.Errorf("out of range set point should Fail, got %v, %v", ok, err)
	}
	if ok, err := c.SetTemperature(ctx, -3); err != nil || ok {
		t.Errorf("negative set point should Fail, got %v, %v", ok, err)
	}

	if ok, err := c.Unlock(ctx); err != nil || !ok {
		t.Errorf("Unlock = %v, %v", ok, err)
	}
	if ok, err := c.Lock(ctx); err != nil || !ok {
		t.Errorf("Lock = %v, %v", ok, err)
	}
	if ok, err := c.RemoveTare(ctx, 11); err != nil || !ok {
		t.Errorf("RemoveTare = %v, %v", ok, err)
	}
	if ok, err := c.Calibrate(ctx, 11, 2500); err != nil || !ok || scales.last != 2500 {
		t.Errorf("Calibrate = %v, %v (weight %d)", ok, err, scales.last)
	}

	scales.ok = false
	if ok, err := c.RemoveTare(ctx, 11); err != nil || ok {
		t.Errorf("expected Fail, got %v, %v", ok, err)
	}
}

func TestServer_TemperatureUnknown(t *testing.T) {
	tests := []struct {
		name    string
		reading temperature.Reading
		err     error
	}{
		{"faulted", temperature.Reading{Rounded: 20, Valid: false}, nil},
		{"not yet read", temperature.Reading{Rounded: temperature.Unknown, Valid: true}, nil},
		{"task silent", temperature.Reading{}, errors.New("no reply")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := defaultDeps()
			deps.Temperature = &fakeThermometer{reading: tt.reading, err: tt.err}
			c, _, _ := newHost(t, testConfig(FramingIdle), deps)

			_, ok, err := c.Temperature(context.Background())
			if err != nil {
				t.Fatalf("Temperature: %v", err)
			}
			if ok {
				t.Error("expected the unknown marker")
			}
		})
	}
}

// ============================================================
// Drop Tests
// ============================================================

func TestServer_DropsWithoutResponse(t *testing.T) {
	tests := []struct {
		name string
		req  *hostlink.Frame
	}{
		{"other station", hostlink.NewQueryDoorStatus(0x02)},
		{"unknown scale", hostlink.NewQueryNetWeight(hostlink.DefaultStation, 99)},
		{"unknown opcode", hostlink.NewFrame(hostlink.DefaultStation, 0x99, nil)},
		{"wrong length", hostlink.NewFrame(hostlink.DefaultStation, hostlink.OpLock, []byte{0x00})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, srv := startServer(t, testConfig(FramingIdle), defaultDeps())
			c := hostlink.NewClient(port, hostlink.DefaultStation, 100*time.Millisecond)

			_, err := c.Do(context.Background(), tt.req)
			if !errors.Is(err, hostlink.ErrNoResponse) {
				t.Fatalf("expected no response, got %v", err)
			}

			// the link still serves the next request
			if _, err := c.Manufacturer(context.Background()); err != nil {
				t.Errorf("follow-up request failed: %v", err)
			}
			if srv.Stats().TotalFrames < 2 {
				t.Errorf("expected both frames counted, got %d", srv.Stats().TotalFrames)
			}
		})
	}
}

func TestServer_CorruptFrameRecovers(t *testing.T) {
	port, srv := startServer(t, testConfig(FramingIdle), defaultDeps())
	c := hostlink.NewClient(port, hostlink.DefaultStation, 200*time.Millisecond)

	// door status with a broken CRC
	bad := hostlink.MustEncode(hostlink.NewQueryDoorStatus(hostlink.DefaultStation))
	bad[len(bad)-1] ^= 0x01
	port.Write(bad)
	time.Sleep(30 * time.Millisecond)

	if open, err := c.DoorOpen(context.Background()); err != nil || !open {
		t.Fatalf("DoorOpen after corrupt frame = %v, %v", open, err)
	}
	if stats := srv.Stats(); stats.CRCErrors != 1 || stats.ValidFrames != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestServer_StrictUnknownOpcode(t *testing.T) {
	port, srv := startServer(t, testConfig(FramingStrict), defaultDeps())
	c := hostlink.NewClient(port, hostlink.DefaultStation, 200*time.Millisecond)

	port.Write(crc16.Append([]byte{hostlink.DefaultStation, 0x99}))
	time.Sleep(30 * time.Millisecond)

	if id, err := c.Manufacturer(context.Background()); err != nil || id != 0x5A {
		t.Fatalf("Manufacturer = %#x, %v", id, err)
	}
	if srv.Stats().UnknownOpcodes != 1 {
		t.Errorf("expected one unknown opcode, got %d", srv.Stats().UnknownOpcodes)
	}
}

// ============================================================
// Capture Tests
// ============================================================

func TestServer_Capture(t *testing.T) {
	deps := defaultDeps()
	rec := &fakeRecorder{}
	deps.Capture = rec
	c, _, _ := newHost(t, testConfig(FramingIdle), deps)

	if _, err := c.Manufacturer(context.Background()); err != nil {
		t.Fatalf("Manufacturer: %v", err)
	}

	var got []record
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got = rec.all(); len(got) >= 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if len(got) != 2 {
		t.Fatalf("expected rx and tx records, got %d", len(got))
	}
	if got[0].dir != DirRX || got[1].dir != DirTX || got[0].id != got[1].id || got[0].id == "" {
		t.Errorf("records not correlated: %+v", got)
	}
	want := hostlink.MustEncode(hostlink.NewQueryManufacturer(hostlink.DefaultStation))
	if string(got[0].frame) != string(want) {
		t.Errorf("rx frame % X, expected % X", got[0].frame, want)
	}
}

// ============================================================
// End-to-End Tests
// ============================================================

func TestServer_NetWeightSilentScale(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const aggregate = 80 * time.Millisecond
	var workers []*scale.Worker
	var devices []*scalelink.Device
	for i, addr := range []byte{11, 21, 31, 41} {
		host, dev := serialport.Pipe(0)
		t.Cleanup(func() { host.Close() })
		device := scalelink.NewDevice(scalelink.DefaultPollAddress)
		device.SetLoad(int16(100 + i))
		devices = append(devices, device)
		go scalelink.NewResponder(dev, device).Serve(ctx)

		timeouts := scalelink.DefaultTimeouts()
		timeouts.Response = 150 * time.Millisecond
		timeouts.Frame = 20 * time.Millisecond
		w := scale.NewWorker(i, addr, scalelink.NewClient(serialport.NewLink(host), scalelink.DefaultPollAddress, timeouts), 1, nil)
		go w.Run(ctx)
		workers = append(workers, w)
	}
	devices[3].SetSilent(true)

	poller, err := scale.NewPoller(workers, aggregate, nil)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	deps := defaultDeps()
	deps.Scales = poller
	c, _, _ := newHost(t, testConfig(FramingIdle), deps)

	start := time.Now()
	weights, err := c.NetWeights(context.Background(), hostlink.AllScales)
	if err != nil {
		t.Fatalf("NetWeights: %v", err)
	}
	if elapsed := time.Since(start); elapsed < aggregate {
		t.Errorf("response sent before the aggregate timeout: %v", elapsed)
	}

	want := []int16{100, 101, 102, hostlink.NetWeightFault, 0, 0, 0, 0}
	for i := range want {
		if weights[i] != want[i] {
			t.Errorf("slot %d: expected %d, got %d", i, want[i], weights[i])
		}
	}
}

func TestParseFraming(t *testing.T) {
	if f, err := ParseFraming("strict"); err != nil || f != FramingStrict {
		t.Errorf("ParseFraming(strict) = %v, %v", f, err)
	}
	if f, err := ParseFraming(""); err != nil || f != FramingIdle {
		t.Errorf("ParseFraming(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFraming("lines"); err == nil {
		t.Error("expected an error for an unknown framing")
	}
}

// ============================================================
// Statistics Report Tests
// ============================================================

func TestServer_ReportsStatistics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := testConfig(FramingIdle)
	cfg.StatsInterval = time.Minute
	_, dev := serialport.Pipe(0)
	srv := NewServer(cfg, serialport.NewLink(dev), defaultDeps(), zap.New(core).Sugar())

	t0 := time.Now()
	srv.lastReport = t0
	srv.count(nil)
	srv.count(hostlink.ErrCRCMismatch)

	srv.report(t0.Add(30 * time.Second))
	if n := logs.FilterMessage("host link statistics").Len(); n != 0 {
		t.Fatalf("reported before the interval: %d entries", n)
	}

	srv.report(t0.Add(time.Minute))
	entries := logs.FilterMessage("host link statistics").All()
	if len(entries) != 1 {
		t.Fatalf("expected one report, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["frames"] != uint64(2) || fields["crc_errors"] != uint64(1) {
		t.Errorf("unexpected report fields %v", fields)
	}

	// a quiet interval is not reported again
	srv.report(t0.Add(2 * time.Minute))
	if n := logs.FilterMessage("host link statistics").Len(); n != 1 {
		t.Errorf("quiet interval reported: %d entries", n)
	}
}
