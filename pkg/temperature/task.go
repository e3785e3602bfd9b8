// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package temperature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/mailbox"
)

const (
	// DefaultDepth is the temperature mailbox depth
	DefaultDepth = 2
	// postTimeout bounds a post to the compressor
	postTimeout = 5 * time.Millisecond
)

// ErrNoReply is returned when the task does not answer a query in time
var ErrNoReply = errors.New("temperature task did not reply")

// Query asks for the latest Reading
type Query struct {
	Reply chan Reading
}

// Task owns the Filter. It turns ADC averages into compressor messages and
// answers queries for the latest reading.
type Task struct {
	filter     *Filter
	samples    chan uint16
	queries    chan Query
	compressor chan<- compressor.Request
	log        *zap.SugaredLogger

	latest      Reading
	undelivered compressor.Request // last change the compressor has not taken
}

// NewTask creates the task. Published changes go to the compressor mailbox.
func NewTask(cfg Config, compressorBox chan<- compressor.Request, depth int, logger *zap.SugaredLogger) (*Task, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if depth < 1 {
		depth = DefaultDepth
	}
	filter, err := NewFilter(cfg)
	if err != nil {
		return nil, err
	}
	return &Task{
		filter:     filter,
		samples:    make(chan uint16, depth),
		queries:    make(chan Query, depth),
		compressor: compressorBox,
		log:        logger,
		latest:     Reading{Celsius: Unknown, Rounded: Unknown, Valid: true},
	}, nil
}

// Samples is where the sampler posts ADC averages
func (t *Task) Samples() chan<- uint16 {
	return t.samples
}

// Run serves samples and queries until ctx is done
func (t *Task) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-t.samples:
			t.sample(ctx, raw)
		case q := <-t.queries:
			select {
			case q.Reply <- t.latest:
			default:
			}
		}
	}
}

func (t *Task) sample(ctx context.Context, raw uint16) {
	r, changed := t.filter.Sample(raw)
	t.latest = r
	if changed {
		if r.Valid {
			t.log.Infof("temperature %.2f °C (%d)", r.Celsius, r.Rounded)
			t.undelivered = compressor.TemperatureUpdate{Celsius: r.Celsius, Rounded: r.Rounded}
		} else {
			t.log.Warnf("thermistor fault after %d bad samples, raw %d", r.Errors, r.Raw)
			t.undelivered = compressor.TemperatureFault{}
		}
	}
	if t.undelivered == nil {
		return
	}
	// a full mailbox keeps the change for the next sample
	if err := mailbox.Post(ctx, t.compressor, t.undelivered, postTimeout); err != nil {
		t.log.Warnf("post to compressor, retrying on the next sample: %v", err)
		return
	}
	t.undelivered = nil
}

// Latest asks the task for its latest reading
func (t *Task) Latest(ctx context.Context, timeout time.Duration) (Reading, error) {
	deadline := mailbox.NewDeadline(timeout)
	q := Query{Reply: make(chan Reading, 1)}
	if err := mailbox.Post(ctx, t.queries, q, deadline.Remaining()); err != nil {
		return Reading{}, err
	}

	wait := time.NewTimer(deadline.Remaining())
	defer wait.Stop()
	select {
	case r := <-q.Reply:
		return r, nil
	case <-wait.C:
		return Reading{}, fmt.Errorf("%w within %v", ErrNoReply, timeout)
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
}
