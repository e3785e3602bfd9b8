// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package temperature

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/mailbox"
)

// Sampler reads the thermistor ADC at a fixed interval and posts the average
// of every batch of samples
type Sampler struct {
	adc      hal.ADC
	interval time.Duration
	samples  int
	out      chan<- uint16
	log      *zap.SugaredLogger
}

// NewSampler creates a sampler posting averages to out
func NewSampler(adc hal.ADC, interval time.Duration, samples int, out chan<- uint16, logger *zap.SugaredLogger) *Sampler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if samples < 1 {
		samples = 1
	}
	return &Sampler{adc: adc, interval: interval, samples: samples, out: out, log: logger}
}

// Run samples until ctx is done. Failed conversions are left out of the
// average; a batch with none posts 0, which the filter treats as a fault.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var sum uint32
	var taken, good int
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		raw, err := s.adc.Read()
		taken++
		if err != nil {
			s.log.Debugf("adc read: %v", err)
		} else {
			sum += uint32(raw)
			good++
		}
		if taken < s.samples {
			continue
		}

		var avg uint16
		if good > 0 {
			avg = uint16(sum / uint32(good))
		}
		sum, taken, good = 0, 0, 0

		if err := mailbox.Post(ctx, s.out, avg, s.interval); err != nil {
			s.log.Warnf("post adc average: %v", err)
		}
	}
}
