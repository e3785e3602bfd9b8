// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package app wires the controller tasks together and supervises them.
package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/coldlocker/internal/capture"
	"github.com/Thermoquad/coldlocker/internal/config"
	"github.com/Thermoquad/coldlocker/pkg/comm"
	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/envstore"
	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/lock"
	"github.com/Thermoquad/coldlocker/pkg/scale"
	"github.com/Thermoquad/coldlocker/pkg/scalelink"
	"github.com/Thermoquad/coldlocker/pkg/serialport"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

// Deps replaces hardware that New would otherwise open. Nil fields use the
// configured devices, or simulated ones when the config asks for simulation.
type Deps struct {
	Logger     *zap.SugaredLogger
	HostPort   serialport.Port
	Board      *hal.Board
	EnvBackend envstore.Backend
	Sim        *SimOptions
}

// Simulation holds the simulated hardware behind a simulated app
type Simulation struct {
	Board   *hal.SimBoard
	Cabinet *Cabinet
	Scales  []*scalelink.Device
	ports   []serialport.Port
}

// App is a fully wired controller
type App struct {
	cfg *config.Config
	log *zap.SugaredLogger

	store      *envstore.Store
	sim        *Simulation
	hostEnd    serialport.Port
	capture    *capture.Writer
	compressor *compressor.Task
	thermo     *temperature.Task
	sampler    *temperature.Sampler
	lock       *lock.Controller
	workers    []*scale.Worker
	poller     *scale.Poller
	server     *comm.Server

	closers []io.Closer
}

// New builds every task. Nothing runs until Run.
func New(cfg *config.Config, deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &App{cfg: cfg, log: logger}

	if err := a.build(deps); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) component(name string) *zap.SugaredLogger {
	return a.log.With("component", name)
}

func (a *App) build(deps Deps) error {
	cfg := a.cfg

	if err := a.openStore(deps.EnvBackend); err != nil {
		return err
	}

	board, err := a.openBoard(deps)
	if err != nil {
		return err
	}

	compCfg, err := cfg.CompressorConfig()
	if err != nil {
		return err
	}
	a.compressor = compressor.NewTask(compCfg, board.CompressorPower, a.store, cfg.Mailbox.Compressor, a.component("compressor"))

	tempCfg, err := cfg.TemperatureConfig()
	if err != nil {
		return err
	}
	a.thermo, err = temperature.NewTask(tempCfg, a.compressor.Mailbox(), cfg.Mailbox.Temperature, a.component("temperature"))
	if err != nil {
		return fmt.Errorf("temperature task: %w", err)
	}
	a.sampler = temperature.NewSampler(board.Thermistor, cfg.ADC.Interval, cfg.ADC.Samples, a.thermo.Samples(), a.component("adc"))

	if a.sim != nil && a.sim.Board != nil {
		a.sim.Cabinet = NewCabinet(a.sim.Board, tempCfg.Divider, a.simOptions(deps))
	}

	a.lock = lock.NewController(cfg.LockConfig(), board, cfg.Mailbox.Lock, a.component("lock"))

	if err := a.openScales(); err != nil {
		return err
	}

	return a.openHost(deps)
}

func (a *App) simOptions(deps Deps) SimOptions {
	if deps.Sim != nil {
		return *deps.Sim
	}
	return DefaultSimOptions()
}

func (a *App) openStore(backend envstore.Backend) error {
	size := a.cfg.Env.RegionSize
	if backend == nil {
		if a.cfg.Env.Path == "" {
			backend = envstore.NewMemoryBackend(size)
		} else {
			fb, err := envstore.NewFileBackend(a.cfg.Env.Path, size)
			if err != nil {
				return fmt.Errorf("env store: %w", err)
			}
			backend = fb
		}
	}

	store, recovery, err := envstore.Open(backend)
	if err != nil {
		return fmt.Errorf("env store: %w", err)
	}
	a.component("env").Infow("env store opened", "recovery", recovery.String(), "counter", store.Counter(), "free", store.Free())
	a.store = store
	return nil
}

func (a *App) openBoard(deps Deps) (hal.Board, error) {
	if deps.Board != nil {
		return *deps.Board, nil
	}
	if a.cfg.Simulate {
		opts := a.simOptions(deps)
		a.sim = &Simulation{Board: hal.NewSimBoard(opts.Travel)}
		return a.sim.Board.Board(), nil
	}
	board, err := hal.NewSysfsBoard(a.cfg.SysfsConfig())
	if err != nil {
		return hal.Board{}, fmt.Errorf("board: %w", err)
	}
	return board, nil
}

func (a *App) openScales() error {
	for i, sc := range a.cfg.Scales.Devices {
		var port serialport.Port
		if a.cfg.Simulate {
			if a.sim == nil {
				a.sim = &Simulation{}
			}
			host, dev := serialport.Pipe(0)
			device := scalelink.NewDevice(sc.PollAddress)
			device.SetLoad(int16(100 * (i + 1)))
			a.sim.Scales = append(a.sim.Scales, device)
			a.sim.ports = append(a.sim.ports, dev)
			port = host
		} else {
			p, err := serialport.Open(a.cfg.DevicePath(sc), sc.Baud)
			if err != nil {
				return fmt.Errorf("scale %d: %w", sc.Address, err)
			}
			port = p
		}
		a.closers = append(a.closers, port)

		client := scalelink.NewClient(serialport.NewLink(port), sc.PollAddress, scalelink.DefaultTimeouts())
		logger := a.component("scale").With("address", sc.Address)
		a.workers = append(a.workers, scale.NewWorker(i, sc.Address, client, a.cfg.Mailbox.Scale, logger))
	}

	poller, err := scale.NewPoller(a.workers, a.cfg.Host.ResponseTimeout, a.component("scales"))
	if err != nil {
		return fmt.Errorf("scales: %w", err)
	}
	a.poller = poller
	return nil
}

func (a *App) openHost(deps Deps) error {
	port := deps.HostPort
	switch {
	case port != nil:
	case a.cfg.Host.Port != "":
		p, err := serialport.Open(a.cfg.Host.Port, a.cfg.Host.Baud)
		if err != nil {
			return fmt.Errorf("host link: %w", err)
		}
		port = p
	case a.cfg.Simulate:
		var dev serialport.Port
		a.hostEnd, dev = serialport.Pipe(0)
		port = dev
	default:
		return fmt.Errorf("host link: no port configured")
	}
	a.closers = append(a.closers, port)

	serverDeps := comm.Deps{
		Lock:        a.lock,
		Compressor:  a.compressor,
		Temperature: a.thermo,
		Scales:      a.poller,
	}
	if a.cfg.Host.Capture != "" {
		w, err := capture.Create(a.cfg.Host.Capture)
		if err != nil {
			return err
		}
		a.capture = w
		a.closers = append(a.closers, w)
		serverDeps.Capture = w
	}

	commCfg, err := a.cfg.CommConfig()
	if err != nil {
		return err
	}
	a.server = comm.NewServer(commCfg, serialport.NewLink(port), serverDeps, a.component("comm"))
	return nil
}

// HostEnd returns the host side of the simulated host link, or nil when the
// link runs on a real port
func (a *App) HostEnd() serialport.Port {
	return a.hostEnd
}

// Simulation returns the simulated hardware, or nil
func (a *App) Simulation() *Simulation {
	return a.sim
}

// Server returns the communication task
func (a *App) Server() *comm.Server {
	return a.server
}

// Run starts every task and blocks until ctx is done or a task fails.
// The first failure cancels the rest.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	if a.sim != nil {
		for i, port := range a.sim.ports {
			responder := scalelink.NewResponder(port, a.sim.Scales[i])
			g.Go(func() error { return responder.Serve(ctx) })
		}
		if a.sim.Cabinet != nil {
			g.Go(func() error { return a.sim.Cabinet.Run(ctx) })
		}
	}

	g.Go(func() error { return a.compressor.Run(ctx) })
	g.Go(func() error { return a.thermo.Run(ctx) })
	g.Go(func() error { return a.sampler.Run(ctx) })
	g.Go(func() error { return a.lock.Run(ctx) })
	for _, w := range a.workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error {
		a.identify(ctx)
		return nil
	})

	a.log.Infow("controller started",
		"station", fmt.Sprintf("%#02x", a.cfg.Host.Address),
		"scales", a.poller.Count(),
		"simulate", a.cfg.Simulate)

	err := g.Wait()
	if err != nil {
		a.log.Errorf("controller stopped: %v", err)
	} else {
		a.log.Info("controller stopped")
	}
	return err
}

// identify logs the sensor id and firmware of every scale
func (a *App) identify(ctx context.Context) {
	ids, err := a.poller.Identify(ctx, hostlink.AllScales)
	if err != nil {
		a.log.Warnf("identify scales: %v", err)
		return
	}
	for _, id := range ids {
		if !id.OK {
			a.log.Warnw("scale not answering", "address", id.Address)
			continue
		}
		a.log.Infow("scale found", "address", id.Address, "sensor", id.SensorID, "firmware", id.Firmware)
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Debugf("close: %v", err)
		}
	}
	a.closers = nil
	if a.sim != nil {
		for _, p := range a.sim.ports {
			p.Close()
		}
	}
	if a.hostEnd != nil {
		a.hostEnd.Close()
	}
}
