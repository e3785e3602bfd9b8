// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

// sniffed is one frame cut from a listened-in line
type sniffed struct {
	at    time.Time
	adu   []byte
	frame *hostlink.Frame // nil when err is set
	err   error
	final bool // err ended the stream rather than a frame
}

type chunk struct {
	at   time.Time
	data []byte
}

// sniff frames the bytes read from r by idle gaps and validates each frame
// in either direction. The channel closes when r fails or ctx is done; the
// read error, if any, is sent as a final frame without bytes.
func sniff(ctx context.Context, r io.Reader, gap time.Duration) <-chan sniffed {
	chunks := make(chan chunk, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(chunks)
		buf := make([]byte, 128)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case chunks <- chunk{at: time.Now(), data: append([]byte(nil), buf[:n]...)}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	out := make(chan sniffed, 16)
	go func() {
		defer close(out)
		decoder := hostlink.NewIdleDecoder(gap)
		timer := time.NewTimer(time.Hour)
		timer.Stop()

		emit := func(adu []byte, at time.Time, err error) bool {
			s := sniffed{at: at, adu: adu, err: err}
			if err == nil {
				s.frame, s.err = hostlink.ParseFrame(adu, station)
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var started time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case c, ok := <-chunks:
				if !ok {
					if adu := decoder.Flush(time.Now().Add(gap)); adu != nil {
						emit(adu, started, nil)
					}
					select {
					case err := <-readErr:
						select {
						case out <- sniffed{at: time.Now(), err: fmt.Errorf("read: %w", err), final: true}:
						case <-ctx.Done():
						}
					default:
					}
					return
				}
				adu, err := decoder.Feed(c.data, c.at)
				if adu != nil && !emit(adu, started, nil) {
					return
				}
				if adu != nil || started.IsZero() {
					started = c.at
				}
				if err != nil && !emit(nil, c.at, err) {
					return
				}
				if deadline, pending := decoder.Deadline(); pending {
					timer.Reset(time.Until(deadline))
				}

			case now := <-timer.C:
				if adu := decoder.Flush(now); adu != nil {
					if !emit(adu, started, nil) {
						return
					}
					started = time.Time{}
				} else if deadline, pending := decoder.Deadline(); pending {
					timer.Reset(time.Until(deadline))
				}
			}
		}
	}()
	return out
}

// describe renders a sniffed frame as one timestamped log line
func describe(s sniffed) string {
	return fmt.Sprintf("[%s] %s", s.at.Format("15:04:05.000"), describeBody(s))
}

func describeBody(s sniffed) string {
	if s.err != nil {
		if len(s.adu) == 0 {
			return fmt.Sprintf("[ERROR] %v", s.err)
		}
		return fmt.Sprintf("[ERROR] %v: %s", s.err, hostlink.FormatBytes(s.adu))
	}
	return describeFrame(s.frame)
}

// describeFrame renders direction, opcode, address and decoded payload
func describeFrame(f *hostlink.Frame) string {
	dir := "->"
	if f.IsResponse() {
		dir = "<-"
	}
	line := fmt.Sprintf("%s %s (0x%02X) addr=%02X", dir, hostlink.FormatOpcode(f.Code()), byte(f.Code()), f.Address())
	if detail := hostlink.FormatPayload(f); detail != "" {
		line += " " + detail
	}
	return line
}
