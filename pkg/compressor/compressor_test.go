// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package compressor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/hal"
)

type fakeTimer struct {
	running bool
	last    time.Duration
	starts  int
}

func (f *fakeTimer) Start(d time.Duration) {
	f.running = true
	f.last = d
	f.starts++
}

func (f *fakeTimer) Stop() {
	f.running = false
}

type mapStore struct {
	vals   map[string]string
	writes int
	err    error
}

func newMapStore() *mapStore {
	return &mapStore{vals: map[string]string{}}
}

func (s *mapStore) Get(name string) (string, bool) {
	v, ok := s.vals[name]
	return v, ok
}

func (s *mapStore) Set(name, value string) error {
	if s.err != nil {
		return s.err
	}
	s.writes++
	s.vals[name] = value
	return nil
}

type rig struct {
	m     *Machine
	power *hal.Pin
	timer *fakeTimer
	store *mapStore
}

func newRig(t *testing.T, cfg Config, store *mapStore) *rig {
	t.Helper()
	if store == nil {
		store = newMapStore()
	}
	r := &rig{power: hal.NewPin(0), timer: &fakeTimer{}, store: store}
	r.m = NewMachine(cfg, r.power, r.timer, store, nil)
	return r
}

// ready powers on and finishes the power-on wait
func (r *rig) ready(t *testing.T) {
	t.Helper()
	r.m.PowerOn()
	r.timer.running = false
	r.m.TimerExpired()
}

func (r *rig) expect(t *testing.T, state State, on bool) {
	t.Helper()
	if r.m.State() != state {
		t.Fatalf("expected %s, got %s", state, r.m.State())
	}
	if r.power.On() != on {
		t.Fatalf("expected power %v in %s", on, state)
	}
}

func readyConfig() Config {
	cfg := DefaultConfig()
	cfg.PowerOnState = StateStopReady
	return cfg
}

// ============================================================
// Boot Tests
// ============================================================

func TestNewMachine_LoadSetpoint(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		has    bool
		want   int
	}{
		{"missing", "", false, 6},
		{"valid", "10", true, 10},
		{"lowest", "2", true, 2},
		{"highest", "26", true, 26},
		{"garbage", "abc", true, 6},
		{"below range", "1", true, 6},
		{"above range", "27", true, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMapStore()
			if tt.has {
				store.vals[SetpointKey] = tt.stored
			}
			r := newRig(t, DefaultConfig(), store)
			snap := r.m.Snapshot()
			if snap.Setpoint != tt.want {
				t.Fatalf("expected set point %d, got %d", tt.want, snap.Setpoint)
			}
			if snap.Stop != float64(tt.want-2) || snap.Work != float64(tt.want+2) {
				t.Errorf("unexpected thresholds %.1f/%.1f", snap.Stop, snap.Work)
			}
			if store.writes != 0 {
				t.Error("boot must not write the store")
			}
		})
	}
}

func TestMachine_PowerOnWait(t *testing.T) {
	r := newRig(t, DefaultConfig(), nil)
	r.m.PowerOn()
	r.expect(t, StateInit, false)
	if !r.timer.running || r.timer.last != 2*time.Minute {
		t.Fatalf("expected the power-on wait, got %v", r.timer.last)
	}

	// ignored until the wait finishes
	r.m.Temperature(20)
	r.expect(t, StateInit, false)

	r.m.TimerExpired()
	r.expect(t, StateWorking, true)
	if r.timer.last != 120*time.Minute {
		t.Errorf("expected the work timer, got %v", r.timer.last)
	}
}

func TestMachine_PowerOnState(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.m.Temperature(7)
	r.ready(t)
	// 7 is above stop but below work
	r.expect(t, StateStopReady, false)

	r = newRig(t, DefaultConfig(), nil)
	r.m.Temperature(7)
	r.ready(t)
	r.expect(t, StateWorking, true)
}

// ============================================================
// Hysteresis Tests
// ============================================================

func TestMachine_Hysteresis(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.ready(t)
	r.m.Temperature(7.9)
	r.expect(t, StateStopReady, false)

	r.m.Temperature(8)
	r.expect(t, StateWorking, true)
	changes := r.power.Changes()

	for _, c := range []float64{7.5, 5, 6.9, 4.1, 7.99, 4.01} {
		r.m.Temperature(c)
		r.expect(t, StateWorking, true)
	}
	if r.power.Changes() != changes {
		t.Fatalf("power toggled between thresholds")
	}

	r.m.Temperature(4)
	r.expect(t, StateStopWait, false)
	if r.timer.last != 5*time.Minute {
		t.Errorf("expected the wait timer, got %v", r.timer.last)
	}

	// warm again but still waiting
	r.m.Temperature(9)
	r.expect(t, StateStopWait, false)

	r.m.TimerExpired()
	r.expect(t, StateWorking, true)
}

func TestMachine_WaitThenReadyNeedsWorkThreshold(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.ready(t)
	r.m.Temperature(8)
	r.m.Temperature(3)
	r.expect(t, StateStopWait, false)

	r.m.Temperature(6)
	r.m.TimerExpired()
	r.expect(t, StateStopReady, false)
}

// ============================================================
// Duty Limit Tests
// ============================================================

func TestMachine_DutyLimit(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.ready(t)
	r.m.Temperature(20)
	r.expect(t, StateWorking, true)

	// work timer expires while still warm
	r.m.TimerExpired()
	r.expect(t, StateStopResting, false)
	if r.timer.last != 5*time.Minute {
		t.Errorf("expected the rest timer, got %v", r.timer.last)
	}

	r.m.Temperature(25)
	r.expect(t, StateStopResting, false)

	r.m.TimerExpired()
	r.expect(t, StateWorking, true)
}

func TestMachine_ContinueUsesStopThreshold(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.ready(t)
	r.m.Temperature(20)
	r.m.TimerExpired()
	r.m.Temperature(4)
	r.m.TimerExpired()
	r.expect(t, StateStopReadyContinue, false)

	// above stop, below work
	r.m.Temperature(5)
	r.expect(t, StateWorking, true)
}

// ============================================================
// Fault Tests
// ============================================================

func TestMachine_FaultWhileWorking(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.ready(t)
	r.m.Temperature(10)
	r.expect(t, StateWorking, true)

	r.m.Fault()
	r.expect(t, StateStopFaulted, false)
	if !r.m.Snapshot().Fault {
		t.Error("expected the fault flag")
	}

	r.m.TimerExpired()
	// still faulted, no evaluation
	r.expect(t, StateStopReadyContinue, false)

	r.m.Temperature(5)
	r.expect(t, StateWorking, true)
}

func TestMachine_FaultSuppressesEvaluation(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.ready(t)
	r.m.Temperature(8)
	r.m.Temperature(3)
	r.expect(t, StateStopWait, false)
	r.m.Temperature(10)

	r.m.Fault()
	r.expect(t, StateStopWait, false)

	r.m.TimerExpired()
	r.expect(t, StateStopReady, false)

	r.m.Temperature(10)
	r.expect(t, StateWorking, true)
}

// ============================================================
// Set Point Tests
// ============================================================

func TestMachine_SetSetpoint(t *testing.T) {
	store := newMapStore()
	r := newRig(t, DefaultConfig(), store)

	if err := r.m.SetSetpoint(27); !errors.Is(err, ErrSetpointRange) {
		t.Fatalf("expected ErrSetpointRange, got %v", err)
	}
	if err := r.m.SetSetpoint(1); !errors.Is(err, ErrSetpointRange) {
		t.Fatalf("expected ErrSetpointRange, got %v", err)
	}
	snap := r.m.Snapshot()
	if snap.Setpoint != 6 || snap.Stop != 4 || snap.Work != 8 || store.writes != 0 {
		t.Fatalf("rejected set point changed state: %+v writes=%d", snap, store.writes)
	}

	if err := r.m.SetSetpoint(6); err != nil || store.writes != 0 {
		t.Fatalf("unchanged set point: err=%v writes=%d", err, store.writes)
	}

	if err := r.m.SetSetpoint(10); err != nil {
		t.Fatalf("SetSetpoint: %v", err)
	}
	if store.vals[SetpointKey] != "10" || store.writes != 1 {
		t.Errorf("expected saved 10, got %q after %d writes", store.vals[SetpointKey], store.writes)
	}
	snap = r.m.Snapshot()
	if snap.Stop != 8 || snap.Work != 12 {
		t.Errorf("unexpected thresholds %.1f/%.1f", snap.Stop, snap.Work)
	}
}

func TestMachine_SetSetpointPersistFailure(t *testing.T) {
	store := newMapStore()
	store.err = errors.New("flash program failed")
	r := newRig(t, DefaultConfig(), store)

	err := r.m.SetSetpoint(12)
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	snap := r.m.Snapshot()
	if snap.Setpoint != 12 || snap.Stop != 10 || snap.Work != 14 {
		t.Errorf("thresholds should stay applied: %+v", snap)
	}
}

func TestMachine_SetSetpointReevaluates(t *testing.T) {
	r := newRig(t, readyConfig(), nil)
	r.ready(t)
	r.m.Temperature(9)
	r.expect(t, StateWorking, true)

	// the new stop threshold is above the current temperature
	if err := r.m.SetSetpoint(12); err != nil {
		t.Fatalf("SetSetpoint: %v", err)
	}
	r.expect(t, StateStopWait, false)
}

func TestMachine_LevelMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLevel
	cfg.Levels = DefaultLevels()
	cfg.SettingDefault = 2

	store := newMapStore()
	store.vals[SetpointKey] = "9"
	r := newRig(t, cfg, store)
	if snap := r.m.Snapshot(); snap.Setpoint != 2 || snap.Stop != 6 || snap.Work != 10 {
		t.Fatalf("expected default level 2, got %+v", snap)
	}

	if err := r.m.SetSetpoint(1); err != nil {
		t.Fatalf("SetSetpoint: %v", err)
	}
	if snap := r.m.Snapshot(); snap.Stop != 4 || snap.Work != 8 {
		t.Errorf("unexpected thresholds %.1f/%.1f", snap.Stop, snap.Work)
	}
	if err := r.m.SetSetpoint(len(cfg.Levels)); !errors.Is(err, ErrSetpointRange) {
		t.Errorf("expected ErrSetpointRange, got %v", err)
	}
}

// ============================================================
// Task Tests
// ============================================================

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PowerOnWait = 10 * time.Millisecond
	cfg.WorkTimeout = 80 * time.Millisecond
	cfg.RestTimeout = time.Hour
	cfg.WaitTimeout = time.Hour
	return cfg
}

func startTask(t *testing.T, cfg Config) (*Task, *hal.Pin) {
	t.Helper()
	power := hal.NewPin(0)
	task := NewTask(cfg, power, newMapStore(), DefaultDepth, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return task, power
}

func waitState(t *testing.T, task *Task, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap, err := task.Status(context.Background(), 50*time.Millisecond)
		if err == nil && snap.State == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task never reached %s", want)
	return Snapshot{}
}

func TestTask_CycleAndDutyLimit(t *testing.T) {
	task, power := startTask(t, fastConfig())

	task.Mailbox() <- TemperatureUpdate{Celsius: 15, Rounded: 15}
	snap := waitState(t, task, StateWorking)
	if !snap.PowerOn || !power.On() {
		t.Fatal("expected the compressor on")
	}

	// the work timer fires after 80ms
	waitState(t, task, StateStopResting)
	if power.On() {
		t.Error("expected the compressor off while resting")
	}
}

func TestTask_Setpoint(t *testing.T) {
	task, _ := startTask(t, fastConfig())
	ctx := context.Background()

	if v, err := task.Setpoint(ctx, 100*time.Millisecond); err != nil || v != 6 {
		t.Fatalf("Setpoint = %d, %v", v, err)
	}
	if err := task.SetSetpoint(ctx, 30, 100*time.Millisecond); !errors.Is(err, ErrSetpointRange) {
		t.Fatalf("expected ErrSetpointRange, got %v", err)
	}
	if err := task.SetSetpoint(ctx, 9, 100*time.Millisecond); err != nil {
		t.Fatalf("SetSetpoint: %v", err)
	}
	if v, _ := task.Setpoint(ctx, 100*time.Millisecond); v != 9 {
		t.Errorf("expected 9, got %d", v)
	}
}

func TestTask_StopSwitchesOff(t *testing.T) {
	power := hal.NewPin(0)
	task := NewTask(fastConfig(), power, newMapStore(), DefaultDepth, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	task.Mailbox() <- TemperatureUpdate{Celsius: 15}
	waitState(t, task, StateWorking)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if power.On() {
		t.Error("expected the compressor off after shutdown")
	}
}

func TestTask_NoReply(t *testing.T) {
	task := NewTask(fastConfig(), hal.NewPin(0), newMapStore(), 1, nil)
	// not running: the first post fits, the reply never comes
	_, err := task.Setpoint(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
}
