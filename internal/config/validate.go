package config

import (
	"fmt"

	"github.com/Thermoquad/coldlocker/pkg/comm"
	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/envstore"
	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if err := validateHost(cfg); err != nil {
		return err
	}
	if err := validateScales(cfg); err != nil {
		return err
	}
	if err := validateCompressor(&cfg.Compressor); err != nil {
		return err
	}
	if err := validateTemperature(cfg); err != nil {
		return err
	}
	if err := validateLock(&cfg.Lock); err != nil {
		return err
	}

	if !cfg.Simulate && cfg.Board.ADCPath == "" {
		return fmt.Errorf("board: adc_path is required outside simulation")
	}
	if cfg.Env.RegionSize < envstore.MinRegionSize {
		return fmt.Errorf("env: region_size %d below minimum %d", cfg.Env.RegionSize, envstore.MinRegionSize)
	}

	depths := []struct {
		name  string
		depth int
	}{
		{"temperature", cfg.Mailbox.Temperature},
		{"compressor", cfg.Mailbox.Compressor},
		{"lock", cfg.Mailbox.Lock},
		{"scale", cfg.Mailbox.Scale},
	}
	for _, d := range depths {
		if d.depth < 1 {
			return fmt.Errorf("mailbox: %s depth must be at least 1", d.name)
		}
	}
	return nil
}

func validateHost(cfg *Config) error {
	h := &cfg.Host
	if _, err := comm.ParseFraming(h.Framing); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	if !cfg.Simulate && h.Port == "" {
		return fmt.Errorf("host: port is required outside simulation")
	}
	if h.Baud <= 0 {
		return fmt.Errorf("host: baud must be positive")
	}
	if h.FrameGap <= 0 || h.ResponseTimeout <= 0 || h.SendTimeout <= 0 {
		return fmt.Errorf("host: frame_gap, response_timeout and send_timeout must be positive")
	}
	return nil
}

func validateScales(cfg *Config) error {
	devices := cfg.Scales.Devices
	if len(devices) > MaxScales {
		return fmt.Errorf("scales: %d configured, at most %d", len(devices), MaxScales)
	}

	seen := make(map[uint8]bool)
	for _, s := range devices {
		if s.Address == hostlink.AllScales {
			return fmt.Errorf("scales: address %d is reserved for all scales", s.Address)
		}
		if seen[s.Address] {
			return fmt.Errorf("scales: duplicate address %d", s.Address)
		}
		seen[s.Address] = true

		if !cfg.Simulate && s.Device == "" && s.Port == 0 {
			return fmt.Errorf("scales: address %d has no port mapping, set port or device", s.Address)
		}
		if s.Baud <= 0 {
			return fmt.Errorf("scales: address %d baud must be positive", s.Address)
		}
	}
	return nil
}

func validateCompressor(c *CompressorConfig) error {
	if _, err := compressor.ParseSetpointMode(c.SetpointMode); err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	if _, err := compressor.ParsePowerOnState(c.PowerOnState); err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	if c.PowerOnWait <= 0 || c.WorkTimeout <= 0 || c.RestTimeout <= 0 || c.WaitTimeout <= 0 {
		return fmt.Errorf("compressor: timers must be positive")
	}
	if c.Offset < 0 {
		return fmt.Errorf("compressor: offset must not be negative")
	}
	if c.SettingMin > c.SettingMax {
		return fmt.Errorf("compressor: setting_min %d above setting_max %d", c.SettingMin, c.SettingMax)
	}
	if c.SettingMin < -128 || c.SettingMax > 127 {
		return fmt.Errorf("compressor: setting range must fit a signed byte")
	}
	if c.SettingDefault < c.SettingMin || c.SettingDefault > c.SettingMax {
		return fmt.Errorf("compressor: setting_default %d outside [%d, %d]", c.SettingDefault, c.SettingMin, c.SettingMax)
	}
	for i, l := range c.Levels {
		if l.Stop >= l.Work {
			return fmt.Errorf("compressor: level %d stop %.1f not below work %.1f", i, l.Stop, l.Work)
		}
	}
	return nil
}

func validateTemperature(cfg *Config) error {
	t := &cfg.Temperature
	if _, err := temperature.ParseChangeMode(t.ChangeMode); err != nil {
		return fmt.Errorf("temperature: %w", err)
	}
	if t.ChangeCount < 1 || t.ErrorCount < 1 {
		return fmt.Errorf("temperature: change_count and error_count must be at least 1")
	}
	if t.Accuracy <= 0 {
		return fmt.Errorf("temperature: accuracy must be positive")
	}
	if t.AlarmMin >= t.AlarmMax {
		return fmt.Errorf("temperature: alarm_min %d not below alarm_max %d", t.AlarmMin, t.AlarmMax)
	}
	if t.ADCMin >= t.ADCMax || t.ADCMax > 4095 {
		return fmt.Errorf("temperature: adc window [%d, %d] invalid", t.ADCMin, t.ADCMax)
	}
	if t.BypassOhms <= 0 || t.VRef <= 0 || t.VSupply <= 0 {
		return fmt.Errorf("temperature: divider values must be positive")
	}
	if cfg.ADC.Interval <= 0 || cfg.ADC.Samples < 1 {
		return fmt.Errorf("adc: interval and samples must be positive")
	}
	return nil
}

func validateLock(l *LockConfig) error {
	if l.Tick <= 0 {
		return fmt.Errorf("lock: tick must be positive")
	}
	if l.HoldOn < l.Tick {
		return fmt.Errorf("lock: hold_on %v shorter than tick %v", l.HoldOn, l.Tick)
	}
	if l.Timeout <= 0 || l.ManualRelock <= 0 {
		return fmt.Errorf("lock: timeout and manual_relock must be positive")
	}
	levels := []struct {
		name  string
		level int
	}{
		{"lock_locked_level", l.LockedLevel},
		{"hole_open_level", l.HoleOpenLevel},
		{"door_open_level", l.DoorOpenLevel},
		{"switch_press_level", l.SwitchPressLevel},
	}
	for _, lv := range levels {
		if lv.level != 0 && lv.level != 1 {
			return fmt.Errorf("lock: %s must be 0 or 1", lv.name)
		}
	}
	return nil
}
