// Package app wires configuration, logging, the homework API client, the
// Telegram sender, optional storage and the poll loop into one process.
package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/homework"
	"hwbot/internal/poller"
	"hwbot/internal/practicum"
	"hwbot/internal/runtime/supervisor"
	"hwbot/internal/storage"
	telegram "hwbot/internal/transport/telegram/adapter"
	logx "hwbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	client *practicum.Client
	tg     *telegram.Adapter
	store  storage.Store
	poller *poller.Poller
	sd     *sdNotifier
}

// New loads and validates the configuration and builds every component.
// A missing credential is returned as a *homework.Error of KindConfigMissing.
func New(cfgm *config.ConfigManager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		var me *config.MissingError
		if errors.As(err, &me) {
			return nil, &homework.Error{Kind: homework.KindConfigMissing, Field: strings.Join(me.Names, ", "), Err: err}
		}
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	pcfg, err := mapPracticumConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := practicum.NewClient(pcfg, log.With(logx.String("comp", "practicum")))

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	spec, sched, err := mapSchedule(cfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		client: client,
		tg:     tg,
		store:  store,
		sd:     newSDNotifier(log.With(logx.String("comp", "systemd"))),
	}
	a.poller = poller.New(client, tg, sched, log.With(logx.String("comp", "poller")),
		poller.WithStore(store),
		poller.WithAfterPoll(func(error) { a.sd.Watchdog() }),
	)
	log.Info("configuration loaded",
		logx.String("config", cfgm.Path()),
		logx.String("schedule", spec.String()),
	)
	return a, nil
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Start restores saved state and launches the poll loop and the config watcher.
func (a *App) Start(ctx context.Context) error {
	if err := a.poller.Restore(ctx); err != nil {
		a.log.Warn("state restore failed; starting fresh", logx.Err(err))
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapSchedule(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapTelegramConfig(cfg)
		return err
	})

	a.sup.GoRestart("poller", a.poller.Run)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))

	sub := a.cfgm.Subscribe(1)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, cfg)
				last = cfg
			}
		}
	})

	a.sd.Ready()
	a.log.Info("started")
	return nil
}

// applyConfig hot-applies the log level/outputs and the poll schedule.
// Everything else needs a restart.
func (a *App) applyConfig(old, cfg *config.Config) {
	sections := summarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config changed", logx.String("sections", strings.Join(sections, ",")))

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogConfig(cfg))
	}
	if slices.Contains(sections, "poller") {
		if old.Poller.Interval != cfg.Poller.Interval {
			spec, sched, err := mapSchedule(cfg)
			if err != nil {
				// the validator already rejected bad schedules
				a.log.Warn("schedule not applied", logx.Err(err))
			} else {
				a.poller.SetSchedule(sched)
				a.log.Info("poll schedule updated", logx.String("schedule", spec.String()))
			}
		}
		if old.Poller.Endpoint != cfg.Poller.Endpoint || old.Poller.RequestTimeout != cfg.Poller.RequestTimeout {
			a.log.Warn("poller endpoint/timeout changed; restart required for changes to take effect")
		}
	}
	for _, s := range []string{"telegram", "storage"} {
		if slices.Contains(sections, s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
}

// Stop cancels the loop, waits for it and releases resources. Each step is
// bounded so one stuck component cannot stall shutdown.
func (a *App) Stop(ctx context.Context) error {
	a.sd.Stopping()
	a.log.Info("stopping")

	step := func(name string, timeout time.Duration, fn func(context.Context) error) {
		c, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
		}
	}

	var runErr error
	if a.sup != nil {
		step("supervisor", 5*time.Second, func(c context.Context) error {
			err := a.sup.Stop(c)
			if c.Err() != nil {
				return err
			}
			runErr = err
			return nil
		})
		for _, st := range a.sup.Stats() {
			a.log.Info("goroutine summary",
				logx.String("name", st.Name),
				logx.Int("restarts", int(st.Restarts)),
				logx.Int("panics", int(st.Panics)),
				logx.String("last_err", st.LastErr),
			)
		}
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.client.Close()

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return runErr
}
