package config

import (
	"strings"

	"github.com/Thermoquad/coldlocker/pkg/compressor"
	"github.com/Thermoquad/coldlocker/pkg/envstore"
	"github.com/Thermoquad/coldlocker/pkg/scalelink"
)

// Normalize fills derived defaults and canonical spellings.
// It is allowed to mutate configuration and runs before Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Host.Framing = strings.ToLower(strings.TrimSpace(cfg.Host.Framing))
	cfg.Compressor.SetpointMode = strings.ToLower(strings.TrimSpace(cfg.Compressor.SetpointMode))
	cfg.Compressor.PowerOnState = strings.ToLower(strings.TrimSpace(cfg.Compressor.PowerOnState))
	cfg.Temperature.ChangeMode = strings.ToLower(strings.TrimSpace(cfg.Temperature.ChangeMode))

	if len(cfg.Scales.Devices) == 0 {
		for _, addr := range DefaultScaleAddresses {
			cfg.Scales.Devices = append(cfg.Scales.Devices, ScaleConfig{Address: addr})
		}
	}
	for i := range cfg.Scales.Devices {
		s := &cfg.Scales.Devices[i]
		if s.Port == 0 {
			s.Port, _ = ScalePort(s.Address)
		}
		if s.Baud == 0 {
			s.Baud = defaultScaleBaud
		}
		if s.PollAddress == 0 {
			s.PollAddress = scalelink.DefaultPollAddress
		}
	}

	if cfg.Compressor.SetpointMode == "level" && len(cfg.Compressor.Levels) == 0 {
		cfg.Compressor.Levels = compressor.DefaultLevels()
	}

	if cfg.Env.RegionSize == 0 {
		cfg.Env.RegionSize = envstore.DefaultRegionSize
	}
}
