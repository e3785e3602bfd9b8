package config

import (
	"time"

	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/envstore"
	"github.com/Thermoquad/coldlocker/pkg/hal"
	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/lock"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

// Default returns the board configuration. Scale devices are filled in by
// Normalize so a file listing its own scales replaces them entirely.
func Default() *Config {
	comp := compressor.DefaultConfig()
	temp := temperature.DefaultConfig()
	lk := lock.DefaultConfig()

	return &Config{
		Host: HostConfig{
			Baud:            9600,
			Address:         hostlink.DefaultStation,
			Framing:         "idle",
			FrameGap:        3 * time.Millisecond,
			ResponseTimeout: 200 * time.Millisecond,
			SendTimeout:     5 * time.Millisecond,
			ManufacturerID:  0x01,
			StatsInterval:   10 * time.Minute,
		},
		Scales: ScalesConfig{
			PortPattern: "/dev/ttyS%d",
		},
		Compressor: CompressorConfig{
			PowerOnWait:    comp.PowerOnWait,
			WorkTimeout:    comp.WorkTimeout,
			RestTimeout:    comp.RestTimeout,
			WaitTimeout:    comp.WaitTimeout,
			Offset:         comp.Offset,
			SettingMin:     comp.SettingMin,
			SettingMax:     comp.SettingMax,
			SettingDefault: comp.SettingDefault,
			SetpointMode:   "celsius",
			PowerOnState:   "ready_continue",
		},
		Temperature: TemperatureConfig{
			ChangeCount:  temp.ChangeCount,
			ErrorCount:   temp.ErrorCount,
			Accuracy:     temp.Accuracy,
			ChangeMode:   "integer",
			Compensation: temp.Compensation,
			AlarmMax:     temp.AlarmMax,
			AlarmMin:     temp.AlarmMin,
			ADCMin:       temp.ADCMin,
			ADCMax:       temp.ADCMax,
			BypassOhms:   temp.Divider.Bypass,
			VRef:         temp.Divider.Reference,
			VSupply:      temp.Divider.Supply,
		},
		ADC: ADCConfig{
			Interval: 40 * time.Millisecond,
			Samples:  25,
		},
		Lock: LockConfig{
			Tick:             lk.Tick,
			HoldOn:           lk.HoldOn,
			Timeout:          lk.Timeout,
			ManualRelock:     lk.ManualRelock,
			LockedLevel:      hal.LockLocked,
			HoleOpenLevel:    hal.HoleOpen,
			DoorOpenLevel:    hal.DoorOpen,
			SwitchPressLevel: hal.SwitchPress,
		},
		Board: BoardConfig{
			GPIORoot: "/sys/class/gpio",
		},
		Env: EnvConfig{
			RegionSize: envstore.DefaultRegionSize,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Mailbox: MailboxConfig{
			Temperature: temperature.DefaultDepth,
			Compressor:  compressor.DefaultDepth,
			Lock:        lock.DefaultDepth,
			Scale:       1,
		},
	}
}

// DefaultScaleAddresses are the scales fitted to a standard cabinet
var DefaultScaleAddresses = []uint8{11, 21, 31, 41}

// scalePorts maps a scale address to its serial port number
var scalePorts = map[uint8]int{
	11: 1, 12: 2,
	21: 3, 22: 4,
	31: 5, 32: 6,
	41: 7, 42: 8,
}

// ScalePort returns the serial port number wired to a scale address
func ScalePort(addr uint8) (int, bool) {
	p, ok := scalePorts[addr]
	return p, ok
}

const defaultScaleBaud = 115200
