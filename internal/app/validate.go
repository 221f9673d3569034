package app

import (
	"fmt"
	"time"

	"chatrelay/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATRELAY_DB_PATH env, or server.db_path in config")
	}
	if eff.Config == nil {
		return fmt.Errorf("no effective config")
	}
	cfg := eff.Config
	if ttl := time.Duration(cfg.Auth.TokenTTL); ttl < 0 {
		return fmt.Errorf("auth.token_ttl must not be negative")
	}
	if cfg.Broker.SubscriberBuffer < 0 {
		return fmt.Errorf("broker.subscriber_buffer must not be negative")
	}
	if cfg.Retention.Enabled && time.Duration(cfg.Retention.Period) <= 0 {
		return fmt.Errorf("retention enabled but retention.period is not set")
	}
	return nil
}
