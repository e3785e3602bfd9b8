// Package config loads the controller configuration: a YAML file laid over
// the board defaults, then COLDLOCKER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/coldlocker/pkg/compressor"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "COLDLOCKER_"

// MaxScales is the number of slots in a net weight response
const MaxScales = 8

type Config struct {
	Simulate    bool              `yaml:"simulate"`
	Host        HostConfig        `yaml:"host"`
	Scales      ScalesConfig      `yaml:"scales"`
	Compressor  CompressorConfig  `yaml:"compressor"`
	Temperature TemperatureConfig `yaml:"temperature"`
	ADC         ADCConfig         `yaml:"adc"`
	Lock        LockConfig        `yaml:"lock"`
	Board       BoardConfig       `yaml:"board"`
	Env         EnvConfig         `yaml:"env"`
	Log         LogConfig         `yaml:"log"`
	Mailbox     MailboxConfig     `yaml:"mailbox"`
}

// ---- HOST LINK ----

type HostConfig struct {
	Port            string        `yaml:"port"` // empty in simulation runs the link on a pipe
	Baud            int           `yaml:"baud"`
	Address         uint8         `yaml:"address"`
	Framing         string        `yaml:"framing"`
	FrameGap        time.Duration `yaml:"frame_gap"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	ManufacturerID  uint8         `yaml:"manufacturer_id"`
	Capture         string        `yaml:"capture"`
	StatsInterval   time.Duration `yaml:"stats_interval"` // 0 disables the statistics log
}

// ---- SCALES ----

type ScalesConfig struct {
	PortPattern string        `yaml:"port_pattern"`
	Devices     []ScaleConfig `yaml:"devices"`
}

type ScaleConfig struct {
	Address     uint8  `yaml:"address"`
	Port        int    `yaml:"port"`   // 0 derives the port from the address
	Device      string `yaml:"device"` // overrides port_pattern
	Baud        int    `yaml:"baud"`
	PollAddress uint8  `yaml:"poll_address"`
}

// ---- COMPRESSOR ----

type CompressorConfig struct {
	PowerOnWait    time.Duration      `yaml:"power_on_wait"`
	WorkTimeout    time.Duration      `yaml:"work_timeout"`
	RestTimeout    time.Duration      `yaml:"rest_timeout"`
	WaitTimeout    time.Duration      `yaml:"wait_timeout"`
	Offset         int                `yaml:"offset"`
	SettingMin     int                `yaml:"setting_min"`
	SettingMax     int                `yaml:"setting_max"`
	SettingDefault int                `yaml:"setting_default"`
	SetpointMode   string             `yaml:"setpoint_mode"`
	Levels         []compressor.Level `yaml:"levels"`
	PowerOnState   string             `yaml:"power_on_state"`
}

// ---- TEMPERATURE ----

type TemperatureConfig struct {
	ChangeCount  int     `yaml:"change_count"`
	ErrorCount   int     `yaml:"error_count"`
	Accuracy     float64 `yaml:"accuracy"`
	ChangeMode   string  `yaml:"change_mode"`
	Compensation float64 `yaml:"compensation"`
	AlarmMax     int16   `yaml:"alarm_max"`
	AlarmMin     int16   `yaml:"alarm_min"`
	ADCMin       uint16  `yaml:"adc_min"`
	ADCMax       uint16  `yaml:"adc_max"`
	BypassOhms   float64 `yaml:"bypass_ohms"`
	VRef         float64 `yaml:"vref"`
	VSupply      float64 `yaml:"vsupply"`
}

type ADCConfig struct {
	Interval time.Duration `yaml:"interval"`
	Samples  int           `yaml:"samples"`
}

// ---- LOCK ----

type LockConfig struct {
	Tick             time.Duration `yaml:"tick"`
	HoldOn           time.Duration `yaml:"hold_on"`
	Timeout          time.Duration `yaml:"timeout"`
	ManualRelock     time.Duration `yaml:"manual_relock"`
	LockedLevel      int           `yaml:"lock_locked_level"`
	HoleOpenLevel    int           `yaml:"hole_open_level"`
	DoorOpenLevel    int           `yaml:"door_open_level"`
	SwitchPressLevel int           `yaml:"switch_press_level"`
}

// ---- BOARD ----

// BoardConfig maps the board lines to Linux GPIO numbers. Unused in
// simulation.
type BoardConfig struct {
	GPIORoot        string `yaml:"gpio_root"`
	CompressorPower int    `yaml:"compressor_power"`
	LockActuator    int    `yaml:"lock_actuator"`
	LockSensor      int    `yaml:"lock_sensor"`
	HoleSensor      int    `yaml:"hole_sensor"`
	DoorSensor      int    `yaml:"door_sensor"`
	Switches        []int  `yaml:"switches"`
	ADCPath         string `yaml:"adc_path"`
}

// ---- STORAGE / LOGGING ----

type EnvConfig struct {
	Path       string `yaml:"path"` // empty keeps the store in memory
	RegionSize int    `yaml:"region_size"`
}

type LogConfig struct {
	Debug      bool   `yaml:"debug"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MailboxConfig struct {
	Temperature int `yaml:"temperature"`
	Compressor  int `yaml:"compressor"`
	Lock        int `yaml:"lock"`
	Scale       int `yaml:"scale"`
}

// Load reads path over the defaults, applies environment overrides and then
// the given overrides, and finally normalizes and validates. An empty path
// uses the defaults alone.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}

	Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from an optional dotenv file. Variables already
// set in the process environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies the COLDLOCKER_* overrides found by lookup
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		return strings.TrimSpace(v), ok
	}

	if v, ok := get("HOST_PORT"); ok {
		cfg.Host.Port = v
	}
	if v, ok := get("HOST_BAUD"); ok {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHOST_BAUD: %w", EnvPrefix, err)
		}
		cfg.Host.Baud = baud
	}
	if v, ok := get("ENV_PATH"); ok {
		cfg.Env.Path = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		switch strings.ToLower(v) {
		case "debug":
			cfg.Log.Debug = true
		case "", "info":
			cfg.Log.Debug = false
		default:
			return fmt.Errorf("%sLOG_LEVEL: unknown level %q", EnvPrefix, v)
		}
	}
	if v, ok := get("SIMULATE"); ok {
		sim, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSIMULATE: %w", EnvPrefix, err)
		}
		cfg.Simulate = sim
	}
	return nil
}
