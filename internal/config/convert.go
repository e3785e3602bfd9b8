package config

import (
	"fmt"

	"github.com/Thermoquad/coldlocker/internal/log"
	"github.com/Thermoquad/coldlocker/pkg/comm"
	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/lock"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

// CommConfig returns the host link server settings
func (c *Config) CommConfig() (comm.Config, error) {
	framing, err := comm.ParseFraming(c.Host.Framing)
	if err != nil {
		return comm.Config{}, err
	}
	cfg := comm.DefaultConfig()
	cfg.Station = c.Host.Address
	cfg.Framing = framing
	cfg.FrameGap = c.Host.FrameGap
	cfg.SendTimeout = c.Host.SendTimeout
	cfg.TaskTimeout = c.Host.ResponseTimeout
	cfg.LockTimeout = c.Lock.Timeout
	cfg.Manufacturer = c.Host.ManufacturerID
	cfg.StatsInterval = c.Host.StatsInterval
	return cfg, nil
}

// CompressorConfig returns the compressor machine settings
func (c *Config) CompressorConfig() (compressor.Config, error) {
	mode, err := compressor.ParseSetpointMode(c.Compressor.SetpointMode)
	if err != nil {
		return compressor.Config{}, err
	}
	state, err := compressor.ParsePowerOnState(c.Compressor.PowerOnState)
	if err != nil {
		return compressor.Config{}, err
	}
	return compressor.Config{
		PowerOnWait:    c.Compressor.PowerOnWait,
		WorkTimeout:    c.Compressor.WorkTimeout,
		RestTimeout:    c.Compressor.RestTimeout,
		WaitTimeout:    c.Compressor.WaitTimeout,
		PowerOnState:   state,
		Mode:           mode,
		Offset:         c.Compressor.Offset,
		SettingMin:     c.Compressor.SettingMin,
		SettingMax:     c.Compressor.SettingMax,
		SettingDefault: c.Compressor.SettingDefault,
		Levels:         c.Compressor.Levels,
	}, nil
}

// TemperatureConfig returns the filter settings
func (c *Config) TemperatureConfig() (temperature.Config, error) {
	mode, err := temperature.ParseChangeMode(c.Temperature.ChangeMode)
	if err != nil {
		return temperature.Config{}, err
	}
	t := c.Temperature
	div := temperature.DefaultDivider()
	div.Bypass = t.BypassOhms
	div.Reference = t.VRef
	div.Supply = t.VSupply
	return temperature.Config{
		ChangeCount:  t.ChangeCount,
		ErrorCount:   t.ErrorCount,
		Accuracy:     t.Accuracy,
		Mode:         mode,
		Compensation: t.Compensation,
		AlarmMin:     t.AlarmMin,
		AlarmMax:     t.AlarmMax,
		ADCMin:       t.ADCMin,
		ADCMax:       t.ADCMax,
		Divider:      div,
	}, nil
}

// LockConfig returns the lock controller settings
func (c *Config) LockConfig() lock.Config {
	return lock.Config{
		Tick:         c.Lock.Tick,
		HoldOn:       c.Lock.HoldOn,
		Timeout:      c.Lock.Timeout,
		ManualRelock: c.Lock.ManualRelock,
		Levels: lock.Levels{
			Locked:      c.Lock.LockedLevel,
			HoleOpen:    c.Lock.HoleOpenLevel,
			DoorOpen:    c.Lock.DoorOpenLevel,
			SwitchPress: c.Lock.SwitchPressLevel,
		},
	}
}

// SysfsConfig returns the GPIO mapping of the real board
func (c *Config) SysfsConfig() hal.SysfsConfig {
	b := c.Board
	return hal.SysfsConfig{
		Root:            b.GPIORoot,
		CompressorPower: b.CompressorPower,
		LockActuator:    b.LockActuator,
		LockSensor:      b.LockSensor,
		HoleSensor:      b.HoleSensor,
		DoorSensor:      b.DoorSensor,
		Switches:        b.Switches,
		ADCPath:         b.ADCPath,
	}
}

// LogOptions returns the logger settings
func (c *Config) LogOptions() log.Options {
	return log.Options{
		Debug:      c.Log.Debug,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// DevicePath returns the serial device a scale is wired to
func (c *Config) DevicePath(s ScaleConfig) string {
	if s.Device != "" {
		return s.Device
	}
	return fmt.Sprintf(c.Scales.PortPattern, s.Port)
}
