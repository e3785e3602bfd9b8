// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

// SimOptions tunes the simulated cabinet
type SimOptions struct {
	Travel   time.Duration // lock actuator travel time
	Step     time.Duration // thermal model interval
	Start    float64       // initial cabinet temperature, °C
	Ambient  float64       // room temperature, °C
	CoolRate float64       // °C per step while the compressor runs
	Leak     float64       // fraction of the gap to ambient gained per step
	Noise    float64       // peak sensor noise, °C
}

// DefaultSimOptions returns a cabinet that cools about a degree a minute
func DefaultSimOptions() SimOptions {
	return SimOptions{
		Travel:   200 * time.Millisecond,
		Step:     time.Second,
		Start:    20,
		Ambient:  24,
		CoolRate: 0.02,
		Leak:     0.0005,
		Noise:    0.05,
	}
}

// Cabinet is a first-order thermal model of the locker. It drives the
// simulated thermistor from the compressor output and the door sensor.
type Cabinet struct {
	board   *hal.SimBoard
	divider temperature.Divider
	opts    SimOptions

	mu      sync.Mutex
	celsius float64
	rng     *rand.Rand
}

// NewCabinet creates a cabinet at opts.Start and sets the ADC to match
func NewCabinet(board *hal.SimBoard, divider temperature.Divider, opts SimOptions) *Cabinet {
	c := &Cabinet{
		board:   board,
		divider: divider,
		opts:    opts,
		celsius: opts.Start,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.publish(opts.Start)
	return c
}

// Celsius returns the modelled air temperature
func (c *Cabinet) Celsius() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.celsius
}

// Step advances the model by one interval
func (c *Cabinet) Step() {
	c.mu.Lock()
	leak := c.opts.Leak
	if c.board.DoorSensor.Level() == hal.DoorOpen {
		leak *= 20
	}
	c.celsius += (c.opts.Ambient - c.celsius) * leak
	if c.board.CompressorPower.On() {
		c.celsius -= c.opts.CoolRate
	}
	reading := c.celsius + (c.rng.Float64()*2-1)*c.opts.Noise
	c.mu.Unlock()

	c.publish(reading)
}

func (c *Cabinet) publish(celsius float64) {
	c.board.Thermistor.Set(c.divider.ADC(temperature.Ohms(celsius)))
}

// Run steps the model until ctx is done
func (c *Cabinet) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Step()
		}
	}
}
