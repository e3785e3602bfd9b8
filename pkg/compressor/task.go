// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package compressor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/mailbox"
)

// DefaultDepth is the compressor mailbox depth
const DefaultDepth = 4

// ErrNoReply is returned when the task does not answer in time
var ErrNoReply = errors.New("compressor did not reply")

// Request is a message for the compressor task
type Request interface {
	compressorRequest()
}

// TemperatureUpdate carries a newly accepted temperature
type TemperatureUpdate struct {
	Celsius float64
	Rounded int16
}

// TemperatureFault reports that the sensor fault was asserted
type TemperatureFault struct{}

// SetSetpoint asks for a new set point
type SetSetpoint struct {
	Value int
	Reply chan error
}

// QuerySetpoint asks for the current set point
type QuerySetpoint struct {
	Reply chan int
}

// QueryStatus asks for a Snapshot
type QueryStatus struct {
	Reply chan Snapshot
}

func (TemperatureUpdate) compressorRequest() {}
func (TemperatureFault) compressorRequest()  {}
func (SetSetpoint) compressorRequest()       {}
func (QuerySetpoint) compressorRequest()     {}
func (QueryStatus) compressorRequest()       {}

// timer adapts a time.Timer to the Timer interface. Its channel is read by
// the task loop.
type timer struct {
	t *time.Timer
}

func (t *timer) Start(d time.Duration) {
	t.Stop()
	t.t = time.NewTimer(d)
}

func (t *timer) Stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *timer) C() <-chan time.Time {
	if t.t == nil {
		return nil
	}
	return t.t.C
}

// Task owns a Machine and serves its mailbox
type Task struct {
	machine *Machine
	timer   *timer
	inbox   chan Request
	log     *zap.SugaredLogger
}

// NewTask builds the machine and its mailbox
func NewTask(cfg Config, power hal.Output, store Store, depth int, logger *zap.SugaredLogger) *Task {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if depth < 1 {
		depth = DefaultDepth
	}
	t := &Task{
		timer: &timer{},
		inbox: make(chan Request, depth),
		log:   logger,
	}
	t.machine = NewMachine(cfg, power, t.timer, store, logger)
	return t
}

// Mailbox is where other tasks post requests
func (t *Task) Mailbox() chan<- Request {
	return t.inbox
}

// Run starts the power-on wait and serves requests until ctx is done. The
// compressor is switched off on return.
func (t *Task) Run(ctx context.Context) error {
	t.machine.PowerOn()
	defer func() {
		t.timer.Stop()
		t.machine.setPower(false)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.timer.C():
			t.timer.t = nil
			t.machine.TimerExpired()
		case req := <-t.inbox:
			t.handle(req)
		}
	}
}

func (t *Task) handle(req Request) {
	switch r := req.(type) {
	case TemperatureUpdate:
		t.machine.Temperature(r.Celsius)
	case TemperatureFault:
		t.machine.Fault()
	case SetSetpoint:
		reply(r.Reply, t.machine.SetSetpoint(r.Value))
	case QuerySetpoint:
		reply(r.Reply, t.machine.Setpoint())
	case QueryStatus:
		reply(r.Reply, t.machine.Snapshot())
	default:
		t.log.Warnf("unknown request %T", req)
	}
}

// reply never blocks the task; reply channels are buffered by the caller
func reply[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// call posts a request and waits for its reply within timeout
func call[T any](ctx context.Context, inbox chan<- Request, build func(chan T) Request, timeout time.Duration) (T, error) {
	var zero T
	deadline := mailbox.NewDeadline(timeout)
	ch := make(chan T, 1)
	if err := mailbox.Post(ctx, inbox, build(ch), deadline.Remaining()); err != nil {
		return zero, err
	}

	wait := time.NewTimer(deadline.Remaining())
	defer wait.Stop()
	select {
	case v := <-ch:
		return v, nil
	case <-wait.C:
		return zero, fmt.Errorf("%w within %v", ErrNoReply, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// SetSetpoint asks the task to apply v. The error wraps ErrSetpointRange,
// ErrPersist or a timeout.
func (t *Task) SetSetpoint(ctx context.Context, v int, timeout time.Duration) error {
	err, callErr := call(ctx, t.inbox, func(ch chan error) Request {
		return SetSetpoint{Value: v, Reply: ch}
	}, timeout)
	if callErr != nil {
		return callErr
	}
	return err
}

// Setpoint returns the task's current set point
func (t *Task) Setpoint(ctx context.Context, timeout time.Duration) (int, error) {
	return call(ctx, t.inbox, func(ch chan int) Request {
		return QuerySetpoint{Reply: ch}
	}, timeout)
}

// Status returns a Snapshot of the task's machine
func (t *Task) Status(ctx context.Context, timeout time.Duration) (Snapshot, error) {
	return call(ctx, t.inbox, func(ch chan Snapshot) Request {
		return QueryStatus{Reply: ch}
	}, timeout)
}
