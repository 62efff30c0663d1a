package coordinator

import (
	"time"

	"tribeat/internal/config"
)

// OptionsFromConfig maps the shared live tunables onto coordinator options.
func OptionsFromConfig(cfg config.LiveConfig) []Option {
	return []Option{
		WithReconnect(
			time.Duration(cfg.ReconnectBaseMs)*time.Millisecond,
			time.Duration(cfg.ReconnectMaxMs)*time.Millisecond,
			cfg.ReconnectMaxAttempts,
		),
	}
}
