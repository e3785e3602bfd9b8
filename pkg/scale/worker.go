// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package scale runs one worker per load-cell scale and fans host requests
// out to them.
package scale

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/scalelink"
)

// Op is a scale operation
type Op int

const (
	OpNetWeight Op = iota
	OpRemoveTare
	OpCalibrateZero
	OpCalibrateFull
	OpSensorID
	OpFirmwareVersion
)

func (o Op) String() string {
	switch o {
	case OpNetWeight:
		return "NetWeight"
	case OpRemoveTare:
		return "RemoveTare"
	case OpCalibrateZero:
		return "CalibrateZero"
	case OpCalibrateFull:
		return "CalibrateFull"
	case OpSensorID:
		return "SensorID"
	case OpFirmwareVersion:
		return "FirmwareVersion"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Request asks a worker to run one operation
type Request struct {
	Op     Op
	Weight uint16
	Reply  chan<- Reply
}

// Reply is a worker's answer, tagged with its slot
type Reply struct {
	Index  int
	Op     Op
	Weight int16
	Value  byte
	OK     bool
}

// Worker owns one scale link. It answers every request, using the fault
// value when the scale does not respond.
type Worker struct {
	index   int
	address byte
	client  *scalelink.Client
	inbox   chan Request
	log     *zap.SugaredLogger
}

// NewWorker creates the worker for slot index, known to the host as address
func NewWorker(index int, address byte, client *scalelink.Client, depth int, logger *zap.SugaredLogger) *Worker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if depth < 1 {
		depth = 1
	}
	return &Worker{
		index:   index,
		address: address,
		client:  client,
		inbox:   make(chan Request, depth),
		log:     logger,
	}
}

// Address is the host-facing address of the scale
func (w *Worker) Address() byte {
	return w.address
}

// Mailbox is where the poller posts requests
func (w *Worker) Mailbox() chan<- Request {
	return w.inbox
}

// Run serves requests until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.inbox:
			reply := w.do(req)
			select {
			case req.Reply <- reply:
			default:
				w.log.Warnf("%s reply dropped", req.Op)
			}
		}
	}
}

func (w *Worker) do(req Request) Reply {
	r := Reply{Index: w.index, Op: req.Op}
	var err error

	switch req.Op {
	case OpNetWeight:
		r.Weight, err = w.client.NetWeight()
		if err != nil {
			r.Weight = scalelink.WeightFault
		}
		r.OK = err == nil && r.Weight != scalelink.WeightFault
	case OpRemoveTare:
		r.OK, err = w.client.RemoveTare()
	case OpCalibrateZero:
		r.OK, err = w.client.CalibrateZero(req.Weight)
	case OpCalibrateFull:
		r.OK, err = w.client.CalibrateFull(req.Weight)
	case OpSensorID:
		r.Value, err = w.client.SensorID()
		r.OK = err == nil
	case OpFirmwareVersion:
		r.Value, err = w.client.FirmwareVersion()
		r.OK = err == nil
	default:
		err = fmt.Errorf("unsupported op %s", req.Op)
	}

	if err != nil {
		r.OK = false
		w.log.Warnf("scale %d %s: %v", w.address, req.Op, err)
	}
	return r
}
