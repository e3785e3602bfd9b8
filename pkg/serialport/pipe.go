// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialport

import (
	"io"
	"sync"
	"time"
)

// DefaultPipeSize is the per-direction buffer size of a Pipe
const DefaultPipeSize = 256

// ring is a power-of-two byte FIFO. head and tail run freely and are masked
// on access, so tail-head is always the fill level.
type ring struct {
	mu      sync.Mutex
	data    []byte
	mask    uint32
	head    uint32
	tail    uint32
	closed  bool
	changed chan struct{}
}

func newRing(size int) *ring {
	n := 1
	for n < size {
		n <<= 1
	}
	return &ring{
		data:    make([]byte, n),
		mask:    uint32(n - 1),
		changed: make(chan struct{}),
	}
}

// broadcast wakes every waiter; callers hold mu
func (r *ring) broadcast() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *ring) fill() uint32 {
	return r.tail - r.head
}

// read copies available bytes into p, waiting up to timeout for the first.
// A timeout returns 0 bytes and a nil error.
func (r *ring) read(p []byte, timeout time.Duration) (int, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		r.mu.Lock()
		if r.fill() > 0 {
			n := 0
			for n < len(p) && r.head != r.tail {
				p[n] = r.data[r.head&r.mask]
				r.head++
				n++
			}
			r.broadcast()
			r.mu.Unlock()
			return n, nil
		}
		if r.closed {
			r.mu.Unlock()
			return 0, io.EOF
		}
		wait := r.changed
		r.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			return 0, nil
		}
	}
}

// write appends p, blocking while the ring is full
func (r *ring) write(p []byte) (int, error) {
	written := 0
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return written, ErrClosed
		}
		for written < len(p) && r.fill() < uint32(len(r.data)) {
			r.data[r.tail&r.mask] = p[written]
			r.tail++
			written++
		}
		r.broadcast()
		wait := r.changed
		r.mu.Unlock()

		if written == len(p) {
			return written, nil
		}
		<-wait
	}
}

func (r *ring) reset() {
	r.mu.Lock()
	r.head = r.tail
	r.broadcast()
	r.mu.Unlock()
}

func (r *ring) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.broadcast()
	}
	r.mu.Unlock()
}

// pipePort is one end of an in-memory serial line
type pipePort struct {
	rx, tx *ring

	mu      sync.Mutex
	timeout time.Duration
}

// Pipe creates two connected in-memory ports; bytes written to one are read
// from the other. Each direction buffers size bytes (rounded up to a power
// of two); writers block while the buffer is full. Closing either end
// closes the line.
func Pipe(size int) (Port, Port) {
	if size <= 0 {
		size = DefaultPipeSize
	}
	ab := newRing(size)
	ba := newRing(size)
	a := &pipePort{rx: ba, tx: ab, timeout: Forever}
	b := &pipePort{rx: ab, tx: ba, timeout: Forever}
	return a, b
}

func (p *pipePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()
	return p.rx.read(b, timeout)
}

func (p *pipePort) Write(b []byte) (int, error) {
	return p.tx.write(b)
}

func (p *pipePort) Close() error {
	p.rx.close()
	p.tx.close()
	return nil
}

func (p *pipePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *pipePort) ResetInputBuffer() error {
	p.rx.reset()
	return nil
}

// Drain returns at once; bytes in the ring are already on the line
func (p *pipePort) Drain() error {
	return nil
}
