// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/mailbox"
	"github.com/Thermoquad/coldlocker/pkg/scalelink"
)

const (
	// AllScales addresses every configured scale
	AllScales = 0
	// DefaultTimeout bounds one fan-out request
	DefaultTimeout = 200 * time.Millisecond
)

var (
	ErrUnknownScale = errors.New("unknown scale address")
	ErrTooManyScales = fmt.Errorf("more than %d scales", mailbox.MaxPending)
)

// Identity is what a scale reports about itself
type Identity struct {
	Address  byte
	SensorID byte
	Firmware byte
	OK       bool
}

// Poller fans requests out to the workers and aggregates their replies
// within one deadline
type Poller struct {
	workers []*Worker
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewPoller creates a poller over workers, whose order defines the result
// slots
func NewPoller(workers []*Worker, timeout time.Duration, logger *zap.SugaredLogger) (*Poller, error) {
	if len(workers) > mailbox.MaxPending {
		return nil, ErrTooManyScales
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{workers: workers, timeout: timeout, log: logger}, nil
}

// Count is the number of configured scales
func (p *Poller) Count() int {
	return len(p.workers)
}

// Addresses lists the host-facing scale addresses in slot order
func (p *Poller) Addresses() []byte {
	out := make([]byte, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Address()
	}
	return out
}

// targets resolves an address to the slots it covers
func (p *Poller) targets(addr byte) (mailbox.Pending, error) {
	if addr == AllScales {
		return mailbox.PendingAll(len(p.workers)), nil
	}
	for i, w := range p.workers {
		if w.Address() == addr {
			var set mailbox.Pending
			set.Set(i)
			return set, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownScale, addr)
}

// fanOut posts one request per target and collects replies until every
// target answered or the deadline passed. Slots that never answered are
// returned in missing.
func (p *Poller) fanOut(ctx context.Context, addr byte, op Op, weight uint16) ([]Reply, mailbox.Pending, error) {
	set, err := p.targets(addr)
	if err != nil {
		return nil, 0, err
	}

	deadline := mailbox.NewDeadline(p.timeout)
	// sized so late replies never block a worker or reach a later request
	replies := make(chan Reply, len(set.Members()))
	results := make([]Reply, len(p.workers))
	pending := set

	for _, i := range set.Members() {
		req := Request{Op: op, Weight: weight, Reply: replies}
		if err := mailbox.Post(ctx, p.workers[i].inbox, req, deadline.Remaining()); err != nil {
			p.log.Warnf("post %s to scale %d: %v", op, p.workers[i].Address(), err)
		}
	}

	timer := time.NewTimer(deadline.Remaining())
	defer timer.Stop()
	for !pending.Empty() {
		select {
		case r := <-replies:
			results[r.Index] = r
			pending.Clear(r.Index)
		case <-timer.C:
			p.log.Warnf("%s: no reply from slots %v within %v", op, pending.Members(), p.timeout)
			return results, pending, nil
		case <-ctx.Done():
			return results, pending, ctx.Err()
		}
	}
	return results, 0, nil
}

// NetWeights returns one weight per configured slot. Slots outside addr are
// zero; targeted scales that fail or stay silent read WeightFault.
func (p *Poller) NetWeights(ctx context.Context, addr byte) ([]int16, error) {
	results, missing, err := p.fanOut(ctx, addr, OpNetWeight, 0)
	if err != nil {
		return nil, err
	}
	weights := make([]int16, len(p.workers))
	set, _ := p.targets(addr)
	for _, i := range set.Members() {
		if missing.Has(i) {
			weights[i] = scalelink.WeightFault
			continue
		}
		weights[i] = results[i].Weight
	}
	return weights, nil
}

// all reports whether every target answered OK
func (p *Poller) all(ctx context.Context, addr byte, op Op, weight uint16) (bool, error) {
	results, missing, err := p.fanOut(ctx, addr, op, weight)
	if err != nil {
		return false, err
	}
	if !missing.Empty() {
		return false, nil
	}
	set, _ := p.targets(addr)
	for _, i := range set.Members() {
		if !results[i].OK {
			return false, nil
		}
	}
	return true, nil
}

// RemoveTare tares the addressed scales. Any failure fails the whole request.
func (p *Poller) RemoveTare(ctx context.Context, addr byte) (bool, error) {
	return p.all(ctx, addr, OpRemoveTare, 0)
}

// Calibrate runs a zero calibration for weight 0 and a span calibration
// otherwise. Any failure fails the whole request.
func (p *Poller) Calibrate(ctx context.Context, addr byte, weight uint16) (bool, error) {
	op := OpCalibrateFull
	if weight == 0 {
		op = OpCalibrateZero
	}
	return p.all(ctx, addr, op, weight)
}

// Identify asks every addressed scale for its sensor id and firmware
func (p *Poller) Identify(ctx context.Context, addr byte) ([]Identity, error) {
	ids, missingIDs, err := p.fanOut(ctx, addr, OpSensorID, 0)
	if err != nil {
		return nil, err
	}
	fws, missingFWs, err := p.fanOut(ctx, addr, OpFirmwareVersion, 0)
	if err != nil {
		return nil, err
	}

	set, _ := p.targets(addr)
	out := make([]Identity, 0, len(set.Members()))
	for _, i := range set.Members() {
		id := Identity{Address: p.workers[i].Address()}
		if !missingIDs.Has(i) && !missingFWs.Has(i) && ids[i].OK && fws[i].OK {
			id.SensorID = ids[i].Value
			id.Firmware = fws[i].Value
			id.OK = true
		}
		out = append(out, id)
	}
	return out, nil
}
