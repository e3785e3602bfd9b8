// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

// ============================================================
// Parser Tests
// ============================================================

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		adu     []byte
		wantOp  Opcode
		wantLen int
		wantErr error
	}{
		{name: "door status", adu: []byte{0x01, 0x11, 0xC0, 0x2C}, wantOp: OpQueryDoorStatus},
		{name: "net weight all", adu: []byte{0x01, 0x03, 0x00, 0x20, 0xF0}, wantOp: OpQueryNetWeight, wantLen: 1},
		{name: "set temperature", adu: []byte{0x01, 0x0A, 0x06, 0xA6, 0xA2}, wantOp: OpSetTemperature, wantLen: 1},
		{name: "calibrate", adu: []byte{0x01, 0x02, 0x0B, 0x01, 0xF4, 0x69, 0xAD}, wantOp: OpCalibrate, wantLen: 3},
		{name: "too short", adu: []byte{0x01, 0x11, 0xC0}, wantErr: ErrShortFrame},
		{name: "bad crc", adu: []byte{0x01, 0x11, 0xC0, 0x2D}, wantErr: ErrCRCMismatch},
		{name: "wrong station", adu: []byte{0x02, 0x11, 0xC0, 0xDC}, wantErr: ErrAddressMismatch},
		{name: "unknown opcode", adu: []byte{0x01, 0x99, 0xC0, 0x4A}, wantErr: ErrUnknownOpcode},
		{name: "door status with payload", adu: []byte{0x01, 0x11, 0x01, 0xED, 0x90}, wantErr: ErrLengthMismatch},
		{name: "overflow", adu: make([]byte, MaxFrameSize+1), wantErr: ErrFrameOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseRequest(tt.adu, DefaultStation)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Code() != tt.wantOp {
				t.Errorf("expected opcode 0x%02X, got 0x%02X", byte(tt.wantOp), byte(f.Code()))
			}
			if f.Len() != tt.wantLen {
				t.Errorf("expected payload length %d, got %d", tt.wantLen, f.Len())
			}
			if f.IsResponse() {
				t.Error("parsed request should not be marked as a response")
			}
		})
	}
}

func TestParseRequest_CheckOrder(t *testing.T) {
	// Wrong address and unknown opcode but a bad CRC: the CRC check wins
	adu := []byte{0x07, 0x99, 0x00, 0x00}
	if _, err := ParseRequest(adu, DefaultStation); !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("expected CRC to be checked first, got %v", err)
	}

	// Valid CRC, wrong address and unknown opcode: the address wins
	adu = MustEncode(NewFrame(0x07, Opcode(0x99), nil))
	if _, err := ParseRequest(adu, DefaultStation); !errors.Is(err, ErrAddressMismatch) {
		t.Errorf("expected address to be checked before opcode, got %v", err)
	}
}

func TestParseRequest_PayloadIsCopied(t *testing.T) {
	adu := []byte{0x01, 0x03, 0x0B, 0x61, 0x37}
	f, err := ParseRequest(adu, DefaultStation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adu[2] = 0xFF
	if ScaleAddress(f) != 0x0B {
		t.Errorf("payload should not alias the input buffer")
	}
}

func TestParseResponse(t *testing.T) {
	open := []byte{0x01, 0x11, 0x01, 0xED, 0x90}

	f, err := ParseResponse(open, DefaultStation, OpQueryDoorStatus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.IsResponse() {
		t.Error("parsed response should be marked as a response")
	}
	if isOpen, err := ParseDoorStatus(f); err != nil || !isOpen {
		t.Errorf("expected door open, got %v (%v)", isOpen, err)
	}

	if _, err := ParseResponse(open, DefaultStation, OpQueryLockStatus); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("expected ErrCodeMismatch, got %v", err)
	}
}

func TestParseFrame_EitherDirection(t *testing.T) {
	tests := []struct {
		name     string
		adu      []byte
		response bool
		wantErr  error
	}{
		{"request", MustEncode(NewQueryDoorStatus(DefaultStation)), false, nil},
		{"response", MustEncode(NewByteResponse(DefaultStation, OpQueryDoorStatus, DoorOpen)), true, nil},
		{"weights", MustEncode(NewNetWeightResponse(DefaultStation, []int16{1, 2})), true, nil},
		{"other station", MustEncode(NewLock(0x02)), false, ErrAddressMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame(tt.adu, DefaultStation)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.IsResponse() != tt.response {
				t.Errorf("expected response=%v", tt.response)
			}
		})
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncode_KnownFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  []byte
	}{
		{"door status", NewQueryDoorStatus(DefaultStation), []byte{0x01, 0x11, 0xC0, 0x2C}},
		{"net weight all", NewQueryNetWeight(DefaultStation, AllScales), []byte{0x01, 0x03, 0x00, 0x20, 0xF0}},
		{"set temperature", NewSetTemperature(DefaultStation, 6), []byte{0x01, 0x0A, 0x06, 0xA6, 0xA2}},
		{"calibrate 500", NewCalibrate(DefaultStation, 11, 500), []byte{0x01, 0x02, 0x0B, 0x01, 0xF4, 0x69, 0xAD}},
		{"temperature unknown", NewByteResponse(DefaultStation, OpQueryTemperature, TemperatureUnknown), []byte{0x01, 0x41, 0x7F, 0x51, 0xB0}},
		{"temperature -5", NewByteResponse(DefaultStation, OpQueryTemperature, 0xFB), []byte{0x01, 0x41, 0xFB, 0x51, 0xD3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.frame)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("expected % X, got % X", tt.want, got)
			}
		})
	}
}

func TestEncode_TooLarge(t *testing.T) {
	f := NewFrame(DefaultStation, OpQueryNetWeight, make([]byte, MaxFrameSize))
	if _, err := Encode(f); err == nil {
		t.Error("expected error for oversized frame")
	}
}

func TestMustEncode_Panic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for oversized frame")
		}
	}()
	MustEncode(NewFrame(DefaultStation, OpLock, make([]byte, MaxFrameSize)))
}

func TestEncode_NetWeightResponseFitsFrame(t *testing.T) {
	adu := MustEncode(NewNetWeightResponse(DefaultStation, []int16{1, 2, 3}))
	if len(adu) != MaxFrameSize {
		t.Errorf("net weight response should fill the %d byte frame, got %d", MaxFrameSize, len(adu))
	}
}

// ============================================================
// Strict Decoder Tests
// ============================================================

func decodeAll(d *StrictDecoder, stream []byte) ([][]byte, int) {
	var frames [][]byte
	errs := 0
	for _, b := range stream {
		adu, err := d.DecodeByte(b)
		if err != nil {
			errs++
			continue
		}
		if adu != nil {
			frames = append(frames, adu)
		}
	}
	return frames, errs
}

func TestStrictDecoder_BackToBackRequests(t *testing.T) {
	var stream []byte
	stream = append(stream, MustEncode(NewQueryDoorStatus(DefaultStation))...)
	stream = append(stream, MustEncode(NewCalibrate(DefaultStation, 21, 1000))...)
	stream = append(stream, MustEncode(NewQueryNetWeight(DefaultStation, 0))...)

	frames, errs := decodeAll(NewRequestDecoder(), stream)
	if errs != 0 {
		t.Fatalf("unexpected decode errors: %d", errs)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}

	want := []Opcode{OpQueryDoorStatus, OpCalibrate, OpQueryNetWeight}
	for i, adu := range frames {
		f, err := ParseRequest(adu, DefaultStation)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Code() != want[i] {
			t.Errorf("frame %d: expected %s, got %s", i, FormatOpcode(want[i]), FormatOpcode(f.Code()))
		}
	}
}

func TestStrictDecoder_UnknownOpcodeResets(t *testing.T) {
	d := NewRequestDecoder()
	d.DecodeByte(0x01)
	if _, err := d.DecodeByte(0x99); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
	if d.Pending() {
		t.Error("decoder should be reset after an unknown opcode")
	}

	frames, errs := decodeAll(d, []byte{0x01, 0x11, 0xC0, 0x2C})
	if errs != 0 || len(frames) != 1 {
		t.Errorf("expected recovery on the next frame, got %d frames %d errors", len(frames), errs)
	}
}

func TestStrictDecoder_Reset(t *testing.T) {
	d := NewResponseDecoder()
	d.DecodeByte(0x01)
	d.DecodeByte(byte(OpQueryNetWeight))
	if !d.Pending() {
		t.Fatal("expected a pending frame")
	}
	d.Reset()
	if d.Pending() {
		t.Error("Reset should discard the partial frame")
	}
}

func TestStrictDecoder_ResponseSizes(t *testing.T) {
	adu := MustEncode(NewNetWeightResponse(DefaultStation, []int16{100, NetWeightFault}))
	frames, errs := decodeAll(NewResponseDecoder(), adu)
	if errs != 0 || len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d frames %d errors", len(frames), errs)
	}
	f, err := ParseResponse(frames[0], DefaultStation, OpQueryNetWeight)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	weights, err := ParseNetWeights(f)
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	if weights[0] != 100 || weights[1] != NetWeightFault || weights[2] != 0 {
		t.Errorf("unexpected weights %v", weights)
	}
}

// ============================================================
// Idle Decoder Tests
// ============================================================

func TestIdleDecoder_GapEndsFrame(t *testing.T) {
	d := NewIdleDecoder(3 * time.Millisecond)
	t0 := time.Unix(0, 0)

	if frame, err := d.Feed([]byte{0x01, 0x11}, t0); frame != nil || err != nil {
		t.Fatalf("unexpected frame %v err %v", frame, err)
	}
	if frame, _ := d.Feed([]byte{0xC0, 0x2C}, t0.Add(time.Millisecond)); frame != nil {
		t.Fatalf("bytes within the gap should extend the frame, got % X", frame)
	}

	deadline, ok := d.Deadline()
	if !ok || !deadline.Equal(t0.Add(4*time.Millisecond)) {
		t.Errorf("unexpected deadline %v %v", deadline, ok)
	}

	if frame := d.Flush(t0.Add(2 * time.Millisecond)); frame != nil {
		t.Error("Flush before the gap should return nothing")
	}
	frame := d.Flush(t0.Add(4 * time.Millisecond))
	if !bytes.Equal(frame, []byte{0x01, 0x11, 0xC0, 0x2C}) {
		t.Errorf("unexpected frame % X", frame)
	}
	if _, ok := d.Deadline(); ok {
		t.Error("no deadline expected after flush")
	}
}

func TestIdleDecoder_NextChunkCompletesPrevious(t *testing.T) {
	d := NewIdleDecoder(3 * time.Millisecond)
	t0 := time.Unix(0, 0)

	d.Feed([]byte{0x01, 0x11, 0xC0, 0x2C}, t0)
	frame, err := d.Feed([]byte{0x01, 0x23}, t0.Add(10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x01, 0x11, 0xC0, 0x2C}) {
		t.Errorf("expected the first frame, got % X", frame)
	}
}

func TestIdleDecoder_Overflow(t *testing.T) {
	d := NewIdleDecoder(3 * time.Millisecond)
	t0 := time.Unix(0, 0)

	_, err := d.Feed(make([]byte, MaxFrameSize+1), t0)
	if !errors.Is(err, ErrFrameOverflow) {
		t.Fatalf("expected ErrFrameOverflow, got %v", err)
	}

	// The tail of the oversized frame is discarded until the line goes idle
	if _, err := d.Feed([]byte{0xAA}, t0.Add(time.Millisecond)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame := d.Flush(t0.Add(10 * time.Millisecond)); frame != nil {
		t.Errorf("discarded bytes should not form a frame, got % X", frame)
	}

	d.Feed([]byte{0x01, 0x11, 0xC0, 0x2C}, t0.Add(20*time.Millisecond))
	frame := d.Flush(t0.Add(30 * time.Millisecond))
	if !bytes.Equal(frame, []byte{0x01, 0x11, 0xC0, 0x2C}) {
		t.Errorf("expected recovery after overflow, got % X", frame)
	}
}

func TestRequestFrameSize(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
		ok   bool
	}{
		{OpQueryDoorStatus, 4, true},
		{OpRemoveTare, 5, true},
		{OpCalibrate, 7, true},
		{Opcode(0x99), 0, false},
	}
	for _, tt := range tests {
		t.Run(FormatOpcode(tt.op), func(t *testing.T) {
			n, ok := RequestFrameSize(tt.op)
			if n != tt.want || ok != tt.ok {
				t.Errorf("RequestFrameSize = (%d, %v), want (%d, %v)", n, ok, tt.want, tt.ok)
			}
		})
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatOpcode(t *testing.T) {
	if got := FormatOpcode(OpQueryDoorStatus); got != "QUERY_DOOR_STATUS" {
		t.Errorf("unexpected name %q", got)
	}
	if got := FormatOpcode(Opcode(0x99)); got != "UNKNOWN_0x99" {
		t.Errorf("unexpected name %q", got)
	}
}

func TestFormatPayload(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  string
	}{
		{"tare request", NewRemoveTare(DefaultStation, 11), "scale=11"},
		{"tare response", NewResultResponse(DefaultStation, OpRemoveTare, true), "result=SUCCESS"},
		{"set temperature request", NewSetTemperature(DefaultStation, -2), "setpoint=-2"},
		{"set temperature response", NewResultResponse(DefaultStation, OpSetTemperature, false), "result=FAIL"},
		{"calibrate request", NewCalibrate(DefaultStation, 21, 2000), "scale=21 weight=2000"},
		{"door closed", NewByteResponse(DefaultStation, OpQueryDoorStatus, DoorClosed), "door=CLOSED"},
		{"lock locked", NewByteResponse(DefaultStation, OpQueryLockStatus, LockLocked), "lock=LOCKED"},
		{"temperature fault", NewByteResponse(DefaultStation, OpQueryTemperature, TemperatureUnknown), "temperature=ERR"},
		{"weights", NewNetWeightResponse(DefaultStation, []int16{5, NetWeightFault}), "weights=[5 ERR 0 0 0 0 0 0]"},
		{"empty request", NewLock(DefaultStation), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPayload(tt.frame); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFormatFrame(t *testing.T) {
	line := FormatFrame(NewByteResponse(DefaultStation, OpQueryLockStatus, LockUnlocked))
	if !strings.Contains(line, "QUERY_LOCK_STATUS (0x23) addr=01 len=1 lock=UNLOCKED") {
		t.Errorf("unexpected line %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("formatted frame should end with a newline")
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(nil)
	s.Update(nil)
	s.Update(ErrCRCMismatch)
	s.Update(ErrAddressMismatch)
	s.Update(ErrLengthMismatch)
	s.Update(ErrUnknownOpcode)
	s.Update(ErrShortFrame)
	s.Update(serialport.ErrOverflow)
	s.Update(serialport.ErrTimeout)
	s.Update(errors.New("other"))

	if s.TotalFrames != 10 || s.ValidFrames != 2 {
		t.Errorf("unexpected totals: %d total %d valid", s.TotalFrames, s.ValidFrames)
	}
	if s.Errors() != 8 {
		t.Errorf("expected 8 errors, got %d", s.Errors())
	}
	counts := []uint64{s.CRCErrors, s.AddressMismatches, s.LengthErrors, s.UnknownOpcodes, s.ShortFrames, s.Overflows, s.Timeouts, s.OtherErrors}
	for i, c := range counts {
		if c != 1 {
			t.Errorf("counter %d: expected 1, got %d", i, c)
		}
	}

	if !strings.Contains(s.String(), "CRC Errors:") {
		t.Error("summary should list CRC errors")
	}

	s.Reset()
	if s.TotalFrames != 0 || s.CRCErrors != 0 {
		t.Error("Reset should clear counters")
	}
}
