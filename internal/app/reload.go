package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"timeanchor/internal/anchor"
	"timeanchor/internal/config"
	"timeanchor/internal/eventbus"
	logx "timeanchor/pkg/logx"
)

// apply brings the running components in line with cfg. old is the
// previously applied config (nil on startup); settings that have not changed
// since old are left alone so runtime changes (SetFrame, SetActiveContext)
// survive unrelated reloads.
func (a *App) apply(ctx context.Context, old, cfg *config.Config) error {
	if old == nil {
		old = &config.Config{}
	}
	var errs []error

	if old.Logging != cfg.Logging {
		a.logs.Apply(mapLoggingConfig(cfg))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine.Apply(engCfg)

	if err := a.syncContexts(ctx, old, cfg); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(old.Engine.Frame) != strings.TrimSpace(cfg.Engine.Frame) && engCfg.Frame != a.engine.Frame() {
		if err := a.engine.SetFrame(ctx, engCfg.Frame); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.applyProviders(ctx, old, cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) syncContexts(ctx context.Context, old, cfg *config.Config) error {
	want := mapContexts(cfg)
	keep := make(map[string]bool, len(want))
	current := map[string]anchor.Context{}
	for _, c := range a.engine.ListContexts() {
		current[c.ID] = c
	}

	var errs []error
	for _, c := range want {
		keep[c.ID] = true
		if cur, ok := current[c.ID]; ok && reflect.DeepEqual(cur, c) {
			continue
		}
		if err := a.engine.AddContext(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	for id := range current {
		if keep[id] {
			continue
		}
		if err := a.engine.RemoveContext(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	want0 := strings.TrimSpace(cfg.Engine.ActiveContext)
	if want0 != "" && want0 != strings.TrimSpace(old.Engine.ActiveContext) {
		if err := a.engine.SetActiveContext(ctx, want0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) applyProviders(ctx context.Context, old, cfg *config.Config) error {
	var errs []error

	cronChanged := !reflect.DeepEqual(old.CronProvider, cfg.CronProvider)
	if cronChanged {
		if cfg.CronProvider != nil {
			a.cron.SetMaxPerEntry(cfg.CronProvider.MaxPerEntry)
		}
		if err := a.cron.SetEntries(mapCronEntries(cfg)); err != nil {
			errs = append(errs, err)
		}
		switch {
		case cfg.CronProvider.IsEnabled():
			if err := a.engine.RegisterProvider(ctx, a.cron); err != nil {
				errs = append(errs, err)
			}
		case a.engine.UnregisterProvider(a.cron.Name()):
			a.log.Info("cron provider disabled via config")
		}
	}

	runsChanged := !reflect.DeepEqual(old.Runs, cfg.Runs)
	if runsChanged {
		if err := a.runs.SetRuns(mapRuns(cfg)); err != nil {
			errs = append(errs, err)
		}
	}
	// The runs provider stays registered even with no runs so removing the
	// last run clears its anchors.
	if !containsString(a.engine.Providers(), a.runs.Name()) {
		if err := a.engine.RegisterProvider(ctx, a.runs); err != nil {
			errs = append(errs, err)
		}
	} else if runsChanged {
		if err := a.engine.Refresh(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// startConfigReload fans committed config changes out to the components.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}

				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					lastApplied = newCfg
					continue
				}
				a.sd.Reloading()
				for _, s := range sections {
					if s == "storage" || s == "mailbox" {
						a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
					}
				}
				if err := a.apply(c, lastApplied, newCfg); err != nil {
					a.log.Warn("config applied with errors", logx.Err(err))
				}
				lastApplied = newCfg
				a.sd.Ready()

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})
}

// startEventLog mirrors engine events into the log. Ticks are trace-level;
// everything else is debug except provider errors, which the engine already
// warns about.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(256)
	log := a.log.With(logx.String("comp", "events"))
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				logEvent(log, ev)
			}
		}
	})
}

func logEvent(log logx.Logger, ev eventbus.Event) {
	kind := logx.String("event", ev.Kind().String())
	switch e := ev.(type) {
	case eventbus.AnchorTick:
		if !log.Enabled(logx.LevelTrace) {
			return
		}
		cursor := e.At.Add(-time.Duration(e.ETASeconds) * time.Second)
		log.Trace("tick", kind,
			logx.String("context", e.ContextID),
			logx.String("anchor", e.AnchorID),
			logx.String("label", e.Label),
			logx.Int64("eta_s", e.ETASeconds),
			logx.String("eta", humanize.RelTime(e.At, cursor, "ago", "from now")),
		)
	case eventbus.BlendUpdated:
		log.Debug("blend updated", kind,
			logx.String("context", e.ContextID),
			logx.String("frame", e.Frame.String()),
			logx.Int("anchors", len(e.Anchors)),
		)
	case eventbus.ContextChanged:
		log.Debug("active context", kind, logx.String("context", e.ActiveContextID))
	case eventbus.CursorChanged:
		log.Debug("cursor moved", kind, logx.Time("cursor", e.Cursor), logx.String("frame", e.Frame.String()))
	case eventbus.SequencesUpdated:
		log.Debug("sequences updated", kind, logx.Strings("ids", e.IDs))
	case eventbus.ProviderError:
		log.Trace("provider error", kind, logx.String("provider", e.Provider), logx.String("message", e.Message))
	}
}
