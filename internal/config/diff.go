package config

import (
	"reflect"
	"sort"
	"strings"

	logx "timeanchor/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed top-level sections
// and safe structured attrs for logging them.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.frame", strings.TrimSpace(newCfg.Engine.Frame)),
			logx.String("engine.tick_interval", strings.TrimSpace(newCfg.Engine.TickInterval)),
			logx.String("engine.provider_timeout", strings.TrimSpace(newCfg.Engine.ProviderTimeout)),
			logx.Int("engine.max_concurrent_providers", newCfg.Engine.MaxConcurrentProviders),
			logx.Bool("engine.follow_wall_clock", newCfg.Engine.FollowWallClock),
		)
	}

	// Storage changes only take effect on restart; still worth surfacing.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Contexts, newCfg.Contexts) {
		changed = append(changed, "contexts")
		attrs = append(attrs, logx.Int("contexts.count", len(newCfg.Contexts)))
	}

	if !reflect.DeepEqual(oldCfg.CronProvider, newCfg.CronProvider) {
		changed = append(changed, "cron_provider")
		n := 0
		if newCfg.CronProvider != nil {
			n = len(newCfg.CronProvider.Entries)
		}
		attrs = append(attrs,
			logx.Bool("cron_provider.enabled", newCfg.CronProvider.IsEnabled()),
			logx.Int("cron_provider.entries", n),
		)
	}

	if !reflect.DeepEqual(oldCfg.Runs, newCfg.Runs) {
		changed = append(changed, "runs")
		attrs = append(attrs, logx.Int("runs.count", len(newCfg.Runs)))
	}

	if oldCfg.Mailbox != newCfg.Mailbox {
		changed = append(changed, "mailbox")
		attrs = append(attrs, logx.Int("mailbox.buffer", newCfg.Mailbox.Buffer))
	}

	sort.Strings(changed)
	return changed, attrs
}
