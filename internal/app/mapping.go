package app

import (
	"fmt"
	"strings"
	"time"

	"timeanchor/internal/anchor"
	"timeanchor/internal/config"
	"timeanchor/internal/engine"
	"timeanchor/internal/provider/cronprov"
	"timeanchor/internal/runner"
	"timeanchor/internal/storage"
	logx "timeanchor/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file", "memory", "mem":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := cfg.Engine
	out := engine.Config{
		Frame:                  anchor.Daily,
		MaxConcurrentProviders: ec.MaxConcurrentProviders,
		FollowWallClock:        ec.FollowWallClock,
	}
	if f := strings.TrimSpace(ec.Frame); f != "" {
		frame, err := anchor.ParseFrame(f)
		if err != nil {
			return engine.Config{}, fmt.Errorf("engine.frame: %w", err)
		}
		out.Frame = frame
	}
	var err error
	if out.TickInterval, err = config.ParseDurationOrDefault("engine.tick_interval", ec.TickInterval, time.Second); err != nil {
		return engine.Config{}, err
	}
	if out.ProviderTimeout, err = config.ParseDurationField("engine.provider_timeout", ec.ProviderTimeout); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapContexts(cfg *config.Config) []anchor.Context {
	out := make([]anchor.Context, 0, len(cfg.Contexts))
	for _, c := range cfg.Contexts {
		out = append(out, anchor.Context{
			ID:     strings.TrimSpace(c.ID),
			Label:  c.Label,
			Lat:    c.Lat,
			Lng:    c.Lng,
			TZ:     strings.TrimSpace(c.TZ),
			Method: c.Method,
			Meta:   c.Meta,
		})
	}
	return out
}

func mapCronEntries(cfg *config.Config) []cronprov.Entry {
	if cfg.CronProvider == nil {
		return nil
	}
	out := make([]cronprov.Entry, 0, len(cfg.CronProvider.Entries))
	for _, e := range cfg.CronProvider.Entries {
		out = append(out, cronprov.Entry{
			ID:       e.ID,
			Label:    e.Label,
			Cron:     e.Cron,
			Category: e.Category,
			Contexts: e.Contexts,
			Priority: e.Priority,
		})
	}
	return out
}

func mapRuns(cfg *config.Config) []runner.Definition {
	out := make([]runner.Definition, 0, len(cfg.Runs))
	for _, r := range cfg.Runs {
		out = append(out, runner.Definition{
			ID:         strings.TrimSpace(r.ID),
			Label:      r.Label,
			SequenceID: strings.TrimSpace(r.Sequence),
			Contexts:   r.Contexts,
			Pattern: runner.Pattern{
				DailyAt:      r.DailyAt,
				EveryMinutes: r.EveryMinutes,
				Cron:         r.Cron,
			},
			Priority: r.Priority,
		})
	}
	return out
}

// validate is installed on the config manager so a bad hot reload is
// rejected before it is committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if err := cronprov.New("validate", logx.Nop()).SetEntries(mapCronEntries(cfg)); err != nil {
		return err
	}
	return runner.NewProvider("validate", nil, nil, logx.Nop()).SetRuns(mapRuns(cfg))
}
