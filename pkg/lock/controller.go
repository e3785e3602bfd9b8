// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lock drives the locker's solenoid lock and confirms every
// actuation against the debounced lock and hole sensors.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/mailbox"
)

// DefaultDepth is the lock mailbox depth
const DefaultDepth = 4

// ErrNoReply is returned when the controller does not answer in time
var ErrNoReply = errors.New("lock controller did not reply")

// Levels are the active levels of the board's lines
type Levels struct {
	Locked      int
	HoleOpen    int
	DoorOpen    int
	SwitchPress int
}

// Config tunes the controller
type Config struct {
	Tick         time.Duration
	HoldOn       time.Duration
	Timeout      time.Duration
	ManualRelock time.Duration
	Levels       Levels
}

// DefaultConfig returns the board timings
func DefaultConfig() Config {
	return Config{
		Tick:         10 * time.Millisecond,
		HoldOn:       100 * time.Millisecond,
		Timeout:      1700 * time.Millisecond,
		ManualRelock: 5 * time.Second,
		Levels: Levels{
			Locked:      hal.LockLocked,
			HoleOpen:    hal.HoleOpen,
			DoorOpen:    hal.DoorOpen,
			SwitchPress: hal.SwitchPress,
		},
	}
}

// Request is a message for the lock controller
type Request interface {
	lockRequest()
}

// Unlock opens the lock and replies true once the sensors confirm it
type Unlock struct{ Reply chan bool }

// Lock closes the lock and replies true once the sensors confirm it
type Lock struct{ Reply chan bool }

// QueryStatus asks for the debounced sensor state
type QueryStatus struct{ Reply chan Status }

// DebugUnlock opens the lock without confirmation or reply
type DebugUnlock struct{}

// DebugLock closes the lock without confirmation or reply
type DebugLock struct{}

type manualUnlock struct{}
type manualLock struct{}

func (Unlock) lockRequest()       {}
func (Lock) lockRequest()         {}
func (QueryStatus) lockRequest()  {}
func (DebugUnlock) lockRequest()  {}
func (DebugLock) lockRequest()    {}
func (manualUnlock) lockRequest() {}
func (manualLock) lockRequest()   {}

// Status is the debounced view of the lock's sensors
type Status struct {
	DoorOpen bool
	Locked   bool
	HoleOpen bool
	Manual   bool
}

// actuation is an Unlock or Lock waiting for sensor confirmation
type actuation struct {
	open     bool
	deadline mailbox.Deadline
	reply    chan bool
}

// Controller is the lock task. All sensor and actuator access happens on
// the goroutine running Run.
type Controller struct {
	cfg   Config
	board hal.Board
	inbox chan Request
	log   *zap.SugaredLogger

	door, lock, hole *Debouncer
	manual           bool
	manualHeld       time.Duration
	pending          *actuation
}

// NewController creates the controller and its mailbox
func NewController(cfg Config, board hal.Board, depth int, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Controller{
		cfg:   cfg,
		board: board,
		inbox: make(chan Request, depth),
		log:   logger,
	}
}

// Mailbox is where other tasks post requests
func (c *Controller) Mailbox() chan<- Request {
	return c.inbox
}

// Run samples the sensors every tick and serves requests until ctx is done.
// While an actuation waits for confirmation the mailbox is not read, so
// requests are handled strictly in arrival order.
func (c *Controller) Run(ctx context.Context) error {
	c.door = NewDebouncer(c.board.DoorSensor.Level(), c.cfg.HoldOn)
	c.lock = NewDebouncer(c.board.LockSensor.Level(), c.cfg.HoldOn)
	c.hole = NewDebouncer(c.board.HoleSensor.Level(), c.cfg.HoldOn)
	c.log.Infof("initial state %+v", c.status())

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		inbox := c.inbox
		if c.pending != nil {
			inbox = nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick(ctx)
		case req := <-inbox:
			c.handle(req)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	if c.lock.Update(c.board.LockSensor.Level(), c.cfg.Tick) {
		c.log.Infof("lock %s", lockWord(c.lockedNow()))
	}
	if c.hole.Update(c.board.HoleSensor.Level(), c.cfg.Tick) {
		c.log.Infof("hole %s", openWord(c.holeOpenNow()))
	}
	if c.door.Update(c.board.DoorSensor.Level(), c.cfg.Tick) {
		c.log.Infof("door %s", openWord(c.doorOpenNow()))
	}

	c.pollSwitch(ctx)

	if c.pending != nil {
		c.checkPending()
	}
}

// pollSwitch latches a switch press into a manual unlock and relocks once
// the latch expires. The latch only changes when its request is queued, so
// a full mailbox is retried on the next tick.
func (c *Controller) pollSwitch(ctx context.Context) {
	if c.pressed() && !c.manual {
		if err := mailbox.Post[Request](ctx, c.inbox, manualUnlock{}, 0); err != nil {
			c.log.Warnf("post manual unlock, retrying: %v", err)
			return
		}
		c.manual = true
		c.manualHeld = 0
	}
	if !c.manual {
		return
	}
	c.manualHeld += c.cfg.Tick
	if c.manualHeld >= c.cfg.ManualRelock {
		if err := mailbox.Post[Request](ctx, c.inbox, manualLock{}, 0); err != nil {
			c.log.Warnf("post manual lock, retrying: %v", err)
			return
		}
		c.manual = false
		c.manualHeld = 0
	}
}

func (c *Controller) pressed() bool {
	for _, sw := range c.board.Switches {
		if sw.Level() == c.cfg.Levels.SwitchPress {
			return true
		}
	}
	return false
}

func (c *Controller) handle(req Request) {
	switch r := req.(type) {
	case Unlock:
		c.log.Debug("unlocking")
		c.start(true, r.Reply)
	case Lock:
		c.log.Debug("locking")
		c.start(false, r.Reply)
	case QueryStatus:
		select {
		case r.Reply <- c.status():
		default:
		}
	case manualUnlock:
		c.log.Info("manual unlock")
		c.board.LockActuator.Set(true)
	case manualLock:
		c.log.Info("manual relock")
		c.board.LockActuator.Set(false)
	case DebugUnlock:
		c.log.Info("debug unlock")
		c.board.LockActuator.Set(true)
	case DebugLock:
		c.log.Info("debug lock")
		c.board.LockActuator.Set(false)
	default:
		c.log.Warnf("unknown request %T", req)
	}
}

func (c *Controller) start(open bool, reply chan bool) {
	c.board.LockActuator.Set(open)
	c.pending = &actuation{
		open:     open,
		deadline: mailbox.NewDeadline(c.cfg.Timeout),
		reply:    reply,
	}
	c.checkPending()
}

// checkPending finishes the pending actuation when the sensors confirm it
// or its time runs out. On timeout the actuator is driven back.
func (c *Controller) checkPending() {
	p := c.pending
	var confirmed bool
	if p.open {
		confirmed = !c.lockedNow() && c.holeOpenNow()
	} else {
		confirmed = c.lockedNow() && !c.holeOpenNow()
	}

	if !confirmed && !p.deadline.Expired() {
		return
	}
	c.pending = nil

	if confirmed {
		c.log.Debugf("%s confirmed", actionWord(p.open))
	} else {
		c.board.LockActuator.Set(!p.open)
		c.log.Errorf("%s not confirmed within %v, reversed", actionWord(p.open), c.cfg.Timeout)
	}
	select {
	case p.reply <- confirmed:
	default:
	}
}

func (c *Controller) lockedNow() bool {
	return c.lock.Status() == c.cfg.Levels.Locked
}

func (c *Controller) holeOpenNow() bool {
	return c.hole.Status() == c.cfg.Levels.HoleOpen
}

func (c *Controller) doorOpenNow() bool {
	return c.door.Status() == c.cfg.Levels.DoorOpen
}

func (c *Controller) status() Status {
	return Status{
		DoorOpen: c.doorOpenNow(),
		Locked:   c.lockedNow(),
		HoleOpen: c.holeOpenNow(),
		Manual:   c.manual,
	}
}

func lockWord(locked bool) string {
	if locked {
		return "locked"
	}
	return "unlocked"
}

func openWord(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

func actionWord(open bool) string {
	if open {
		return "unlock"
	}
	return "lock"
}

// actuate posts an Unlock or Lock and waits for the confirmation
func (c *Controller) actuate(ctx context.Context, req func(chan bool) Request, timeout time.Duration) (bool, error) {
	reply := make(chan bool, 1)
	deadline := mailbox.NewDeadline(timeout)
	if err := mailbox.Post(ctx, c.inbox, req(reply), deadline.Remaining()); err != nil {
		return false, err
	}
	return wait(ctx, reply, deadline)
}

func wait[T any](ctx context.Context, ch chan T, deadline mailbox.Deadline) (T, error) {
	var zero T
	timer := time.NewTimer(deadline.Remaining())
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, ErrNoReply
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Unlock opens the lock. timeout covers queueing and confirmation.
func (c *Controller) Unlock(ctx context.Context, timeout time.Duration) (bool, error) {
	return c.actuate(ctx, func(ch chan bool) Request { return Unlock{Reply: ch} }, timeout)
}

// Lock closes the lock. timeout covers queueing and confirmation.
func (c *Controller) Lock(ctx context.Context, timeout time.Duration) (bool, error) {
	return c.actuate(ctx, func(ch chan bool) Request { return Lock{Reply: ch} }, timeout)
}

// Status returns the debounced sensor state
func (c *Controller) Status(ctx context.Context, timeout time.Duration) (Status, error) {
	reply := make(chan Status, 1)
	deadline := mailbox.NewDeadline(timeout)
	if err := mailbox.Post[Request](ctx, c.inbox, QueryStatus{Reply: reply}, deadline.Remaining()); err != nil {
		return Status{}, err
	}
	s, err := wait(ctx, reply, deadline)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	return s, nil
}

// Debug drives the actuator directly, bypassing confirmation
func (c *Controller) Debug(ctx context.Context, open bool) error {
	var req Request = DebugLock{}
	if open {
		req = DebugUnlock{}
	}
	return mailbox.Post(ctx, c.inbox, req, c.cfg.Tick)
}
