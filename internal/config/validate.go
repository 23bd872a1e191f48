package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"timeanchor/internal/anchor"
)

// Validate checks the parts of cfg that can be judged without building
// components: durations, frame names, time zones, storage drivers and id
// uniqueness. Cron and run patterns are checked when providers are built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if f := strings.TrimSpace(cfg.Engine.Frame); f != "" {
		if _, err := anchor.ParseFrame(f); err != nil {
			add(fmt.Errorf("engine.frame: %w", err))
		}
	}
	_, err := ParseDurationField("engine.tick_interval", cfg.Engine.TickInterval)
	add(err)
	_, err = ParseDurationField("engine.provider_timeout", cfg.Engine.ProviderTimeout)
	add(err)
	if cfg.Engine.MaxConcurrentProviders < 0 {
		add(errors.New("engine.max_concurrent_providers must be >= 0"))
	}

	ids := map[string]bool{}
	for i, c := range cfg.Contexts {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			add(fmt.Errorf("contexts[%d].id required", i))
			continue
		}
		if ids[id] {
			add(fmt.Errorf("contexts[%d]: duplicate id %q", i, id))
		}
		ids[id] = true
		if tz := strings.TrimSpace(c.TZ); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("contexts[%d].tz: %w", i, err))
			}
		}
	}
	if a := strings.TrimSpace(cfg.Engine.ActiveContext); a != "" && !ids[a] {
		add(fmt.Errorf("engine.active_context %q is not a configured context", a))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "memory", "mem":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path is required when storage.driver=sqlite"))
			}
		default:
			add(fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	if cfg.Mailbox.Buffer < 0 {
		add(errors.New("mailbox.buffer must be >= 0"))
	}
	return errors.Join(errs...)
}
