// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw host link frames to a CBOR log and reads them
// back for replay.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is one captured frame. Frame is empty for notes that are not tied
// to wire bytes, e.g. a parse error on the frame logged just before.
type Record struct {
	Time  time.Time `cbor:"ts"`
	Dir   string    `cbor:"dir"`
	ID    string    `cbor:"id"`
	Frame []byte    `cbor:"bytes"`
	Note  string    `cbor:"note,omitempty"`
}

var encMode = func() cbor.EncMode {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor options: %v", err))
	}
	return mode
}()

// Writer appends records to a stream
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	c     io.Closer
	enc   *cbor.Encoder
	count int
	now   func() time.Time
}

// NewWriter encodes records onto w
func NewWriter(w io.Writer) *Writer {
	cw := &Writer{w: w, enc: encMode.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		cw.c = c
	}
	return cw
}

// Create opens path for appending and returns a Writer on it
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return NewWriter(f), nil
}

// Record appends one frame
func (w *Writer) Record(dir, id string, frame []byte, note string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := Record{
		Time:  w.now(),
		Dir:   dir,
		ID:    id,
		Frame: append([]byte(nil), frame...),
		Note:  note,
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode capture record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying file, if any
func (w *Writer) Close() error {
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}

// Reader decodes records in order
type Reader struct {
	dec *cbor.Decoder
	c   io.Closer
}

// NewReader decodes records from r
func NewReader(r io.Reader) *Reader {
	cr := &Reader{dec: cbor.NewDecoder(r)}
	if c, ok := r.(io.Closer); ok {
		cr.c = c
	}
	return cr
}

// Open opens a capture file for reading
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return NewReader(f), nil
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode capture record: %w", err)
	}
	return rec, nil
}

// Close closes the underlying file, if any
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}
