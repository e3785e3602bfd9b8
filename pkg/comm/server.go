// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package comm serves the host link: it receives request frames, dispatches
// them to the controller tasks and sends one response per accepted request.
package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/lock"
	"github.com/Thermoquad/coldlocker/pkg/serialport"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

// Framing selects how request frames are delimited on the wire
type Framing int

const (
	// FramingIdle ends a frame when the line goes quiet
	FramingIdle Framing = iota
	// FramingStrict reads exactly the size the opcode implies
	FramingStrict
)

func (f Framing) String() string {
	if f == FramingStrict {
		return "strict"
	}
	return "idle"
}

// ParseFraming parses the config spelling of a Framing
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "", "idle":
		return FramingIdle, nil
	case "strict":
		return FramingStrict, nil
	}
	return 0, fmt.Errorf("unknown framing %q", s)
}

// Capture directions
const (
	DirRX = "rx"
	DirTX = "tx"
)

// Config tunes the server
type Config struct {
	Station      byte
	Framing      Framing
	FrameGap     time.Duration
	Poll         time.Duration // how long one receive waits before checking ctx
	SendTimeout  time.Duration
	TaskTimeout  time.Duration // compressor and temperature replies
	LockTimeout  time.Duration // lock actuation, plus LockMargin
	Manufacturer byte

	// StatsInterval is how often receive statistics are logged while frames
	// arrive; zero disables the report
	StatsInterval time.Duration
}

// LockMargin is added to the lock timeout while waiting for a lock reply
const LockMargin = 500 * time.Millisecond

// DefaultConfig returns the production link settings
func DefaultConfig() Config {
	return Config{
		Station:      hostlink.DefaultStation,
		Framing:      FramingIdle,
		FrameGap:     3 * time.Millisecond,
		Poll:         100 * time.Millisecond,
		SendTimeout:  5 * time.Millisecond,
		TaskTimeout:  200 * time.Millisecond,
		LockTimeout:  1700 * time.Millisecond,
		Manufacturer: 0x01,

		StatsInterval: 10 * time.Minute,
	}
}

// Locker is the lock controller as seen by the host link
type Locker interface {
	Unlock(ctx context.Context, timeout time.Duration) (bool, error)
	Lock(ctx context.Context, timeout time.Duration) (bool, error)
	Status(ctx context.Context, timeout time.Duration) (lock.Status, error)
}

// Thermostat is the compressor controller's set point interface
type Thermostat interface {
	SetSetpoint(ctx context.Context, v int, timeout time.Duration) error
	Setpoint(ctx context.Context, timeout time.Duration) (int, error)
}

// Thermometer reports the latest filtered temperature
type Thermometer interface {
	Latest(ctx context.Context, timeout time.Duration) (temperature.Reading, error)
}

// Scales is the scale fan-out
type Scales interface {
	Count() int
	NetWeights(ctx context.Context, addr byte) ([]int16, error)
	RemoveTare(ctx context.Context, addr byte) (bool, error)
	Calibrate(ctx context.Context, addr byte, weight uint16) (bool, error)
}

// Recorder stores raw frames, e.g. a capture log
type Recorder interface {
	Record(dir, id string, frame []byte, note string) error
}

// Deps are the tasks the server dispatches to. Capture is optional.
type Deps struct {
	Lock        Locker
	Compressor  Thermostat
	Temperature Thermometer
	Scales      Scales
	Capture     Recorder
}

// Server is the communication task
type Server struct {
	cfg  Config
	link *serialport.Link
	deps Deps
	log  *zap.SugaredLogger

	mu    sync.Mutex
	stats *hostlink.Statistics

	lastReport time.Time
	reported   uint64 // frame count at the last report
}

// NewServer creates a server on link
func NewServer(cfg Config, link *serialport.Link, deps Deps, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:   cfg,
		link:  link,
		deps:  deps,
		log:   logger,
		stats: hostlink.NewStatistics(),
	}
}

// Stats returns a copy of the receive statistics
func (s *Server) Stats() hostlink.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.CalculateRates()
	return *s.stats
}

// report logs the receive statistics once per StatsInterval, skipping
// intervals without frames
func (s *Server) report(now time.Time) {
	if s.cfg.StatsInterval <= 0 || now.Sub(s.lastReport) < s.cfg.StatsInterval {
		return
	}
	s.lastReport = now

	st := s.Stats()
	if st.TotalFrames == s.reported {
		return
	}
	s.reported = st.TotalFrames
	s.log.Infow("host link statistics",
		"frames", st.TotalFrames,
		"valid", st.ValidFrames,
		"errors", st.Errors(),
		"crc_errors", st.CRCErrors,
		"timeouts", st.Timeouts,
		"frame_rate", st.FrameRate,
	)
}

func (s *Server) count(err error) {
	s.mu.Lock()
	s.stats.Update(err)
	s.mu.Unlock()
}

// Run serves requests until ctx is done or the port closes
func (s *Server) Run(ctx context.Context) error {
	s.log.Infof("serving station %#02x, %s framing", s.cfg.Station, s.cfg.Framing)
	s.lastReport = time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.report(time.Now())

		adu, err := s.receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, serialport.ErrClosed) {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("host link closed: %w", err)
			}
			s.count(err)
			s.log.Warnf("receive: %v", err)
			s.flush()
			continue
		}
		if adu == nil {
			continue
		}

		s.serve(ctx, adu)
	}
}

// serve handles one received frame
func (s *Server) serve(ctx context.Context, adu []byte) {
	id := uuid.NewString()
	s.record(DirRX, id, adu, "")

	req, err := hostlink.ParseRequest(adu, s.cfg.Station)
	s.count(err)
	if err != nil {
		s.log.Warnw("request dropped", "id", id, "frame", hostlink.FormatBytes(adu), "error", err)
		s.record(DirRX, id, nil, err.Error())
		s.flush()
		return
	}
	s.log.Debugw("request", "id", id, "frame", hostlink.FormatFrame(req))

	rsp := s.dispatch(ctx, req)
	if rsp == nil {
		s.log.Infow("no response", "id", id, "op", hostlink.FormatOpcode(req.Code()))
		return
	}

	out, err := hostlink.Encode(rsp)
	if err != nil {
		s.log.Errorw("encode response", "id", id, "error", err)
		return
	}
	if err := s.link.Send(out, s.cfg.SendTimeout); err != nil {
		s.log.Warnw("send response", "id", id, "error", err)
	}
	s.record(DirTX, id, out, "")
	s.log.Debugw("response", "id", id, "frame", hostlink.FormatFrame(rsp))
}

// receive reads one frame. A nil frame with a nil error means the line
// stayed idle for the poll interval.
func (s *Server) receive() ([]byte, error) {
	if s.cfg.Framing == FramingStrict {
		return s.receiveStrict()
	}
	adu, err := s.link.ReadIdle(hostlink.MaxFrameSize, s.cfg.Poll, s.cfg.FrameGap)
	if errors.Is(err, serialport.ErrTimeout) {
		return nil, nil
	}
	return adu, err
}

func (s *Server) receiveStrict() ([]byte, error) {
	head := make([]byte, hostlink.HeaderSize)
	n, err := s.link.ReadFull(head, s.cfg.Poll, s.cfg.FrameGap)
	if n == 0 && errors.Is(err, serialport.ErrTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	size, ok := hostlink.RequestFrameSize(hostlink.Opcode(head[1]))
	if !ok {
		return nil, fmt.Errorf("%w: %#02x", hostlink.ErrUnknownOpcode, head[1])
	}
	adu := make([]byte, size)
	copy(adu, head)
	if _, err := s.link.ReadFull(adu[hostlink.HeaderSize:], s.cfg.FrameGap, s.cfg.FrameGap); err != nil {
		return nil, err
	}
	return adu, nil
}

func (s *Server) flush() {
	if err := s.link.Flush(); err != nil {
		s.log.Debugf("flush: %v", err)
	}
}

func (s *Server) record(dir, id string, frame []byte, note string) {
	if s.deps.Capture == nil {
		return
	}
	if err := s.deps.Capture.Record(dir, id, frame, note); err != nil {
		s.log.Debugf("capture: %v", err)
	}
}
