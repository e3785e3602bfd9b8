// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

// Statistics tracks host link frame counts and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames       uint64
	ValidFrames       uint64
	CRCErrors         uint64
	AddressMismatches uint64
	LengthErrors      uint64
	UnknownOpcodes    uint64
	ShortFrames       uint64
	Overflows         uint64
	Timeouts          uint64
	OtherErrors       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one received frame and the error it produced, if any
func (s *Statistics) Update(err error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	switch {
	case err == nil:
		s.ValidFrames++
	case errors.Is(err, ErrCRCMismatch):
		s.CRCErrors++
	case errors.Is(err, ErrAddressMismatch):
		s.AddressMismatches++
	case errors.Is(err, ErrLengthMismatch), errors.Is(err, ErrCodeMismatch):
		s.LengthErrors++
	case errors.Is(err, ErrUnknownOpcode):
		s.UnknownOpcodes++
	case errors.Is(err, ErrShortFrame):
		s.ShortFrames++
	case errors.Is(err, ErrFrameOverflow), errors.Is(err, serialport.ErrOverflow):
		s.Overflows++
	case errors.Is(err, serialport.ErrTimeout):
		s.Timeouts++
	default:
		s.OtherErrors++
	}
}

// Errors returns the total number of rejected frames
func (s *Statistics) Errors() uint64 {
	return s.TotalFrames - s.ValidFrames
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	rows := []struct {
		label string
		count uint64
	}{
		{"CRC Errors:      ", s.CRCErrors},
		{"Addr Mismatch:   ", s.AddressMismatches},
		{"Length Errors:   ", s.LengthErrors},
		{"Unknown Opcode:  ", s.UnknownOpcodes},
		{"Short Frames:    ", s.ShortFrames},
		{"Overflows:       ", s.Overflows},
		{"Timeouts:        ", s.Timeouts},
		{"Other Errors:    ", s.OtherErrors},
	}
	for _, r := range rows {
		if r.count > 0 {
			result += fmt.Sprintf("%s%8d (%.1f%%)\n", r.label, r.count, percent(r.count))
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
