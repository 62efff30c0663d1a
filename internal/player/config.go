package player

import "tribeat/internal/config"

// OptionsFromConfig maps the shared live tunables onto engine options.
func OptionsFromConfig(cfg config.LiveConfig) []Option {
	return []Option{
		WithDefaultVolume(cfg.DefaultVolume),
		WithDriftTolerance(cfg.DriftToleranceSec),
	}
}
