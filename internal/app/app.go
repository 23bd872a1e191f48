// Package app wires configuration, logging, storage, the anchor engine, the
// sequence library and the built-in providers into one running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timeanchor/internal/blender"
	"timeanchor/internal/config"
	"timeanchor/internal/engine"
	"timeanchor/internal/eventbus"
	"timeanchor/internal/provider/cronprov"
	"timeanchor/internal/runner"
	"timeanchor/internal/runtime/supervisor"
	"timeanchor/internal/sequence"
	"timeanchor/internal/storage"
	logx "timeanchor/pkg/logx"
	"timeanchor/pkg/systemd"
)

const (
	cronProviderName = "cron"
	runsProviderName = "runs"
	defaultMailbox   = 64
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *engine.Engine
	library *sequence.Library
	mailbox *sequence.Mailbox
	blender *blender.Blender
	runner  *runner.Runner

	cron *cronprov.Provider
	runs *runner.Provider

	sd *systemd.Notifier
}

// NewApp loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	alog := log.With(logx.String("comp", "app"))
	bus := eventbus.New(log.With(logx.String("comp", "eventbus")))

	store, err := openStore(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	lib := sequence.NewLibrary(store, bus, log.With(logx.String("comp", "sequences")))
	if err := lib.Load(context.Background()); err != nil {
		// The library is a convenience cache; start empty rather than refuse to run.
		alog.Warn("sequence library load failed; starting empty", logx.Err(err))
	}
	mbox := cfg.Mailbox.Buffer
	if mbox <= 0 {
		mbox = defaultMailbox
	}
	mailbox := sequence.NewMailbox(lib, sequence.NewReplies(), mbox, log.With(logx.String("comp", "mailbox")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}
	eng := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)

	bl := blender.New(eng, lib)
	rn := runner.New(runner.WithClock(eng.Cursor))
	runs := runner.NewProvider(runsProviderName, rn, bl, log)
	cron := cronprov.New(providerName(cfg), log)

	return &App{
		cfgm:    cfgm,
		log:     alog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  eng,
		library: lib,
		mailbox: mailbox,
		blender: bl,
		runner:  rn,
		cron:    cron,
		runs:    runs,
		sd:      systemd.NewNotifier(log),
	}, nil
}

func providerName(cfg *config.Config) string {
	if cfg.CronProvider != nil && strings.TrimSpace(cfg.CronProvider.Name) != "" {
		return strings.TrimSpace(cfg.CronProvider.Name)
	}
	return cronProviderName
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))
	return st, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// OpenLibrary opens only the configured store and the sequence library, for
// tools that edit sequences without running the engine. The returned close
// function releases the store.
func OpenLibrary(ctx context.Context, cfgPath string, log logx.Logger) (*sequence.Library, func() error, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("sequences: %w (set storage.driver)", storage.ErrDisabled)
	}
	lib := sequence.NewLibrary(store, nil, log)
	if err := lib.Load(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return lib, store.Close, nil
}

func (a *App) Engine() *engine.Engine       { return a.engine }
func (a *App) Library() *sequence.Library   { return a.library }
func (a *App) Mailbox() *sequence.Mailbox   { return a.mailbox }
func (a *App) Blender() *blender.Blender    { return a.blender }
func (a *App) Runner() *runner.Runner       { return a.runner }
func (a *App) Config() *config.ConfigManager { return a.cfgm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start registers contexts and providers from the committed config, starts
// ticking, and launches the mailbox, event log, config watcher and systemd
// watchdog under the app supervisor.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	cfg := a.cfgm.Get()
	if err := a.apply(a.sup.Context(), nil, cfg); err != nil {
		return err
	}

	// Runs read their steps from the library, so sequence edits must re-run providers.
	a.bus.On(eventbus.KindSequencesUpdated, func(eventbus.Event) {
		a.sup.Go("refresh.sequences", a.engine.Refresh)
	})

	a.engine.Start(a.sup.Context())
	a.sup.Go("sequences.mailbox", a.mailbox.Serve)
	a.startEventLog()
	a.startConfigReload()
	// Restarted rather than fatal: a panicking watcher must not take the engine down.
	a.sup.GoRestart("config.watch", time.Second, time.Minute, a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	active, _ := a.engine.ActiveContext()
	a.sd.Status("context %s, frame %s", active.ID, a.engine.Frame())
	a.sd.Ready()
	a.log.Info("app started",
		logx.String("context", active.ID),
		logx.String("frame", a.engine.Frame().String()),
		logx.Strings("providers", a.engine.Providers()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("engine", 2*time.Second, a.engine.Close)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Any("goroutines", a.sup.Counters()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
