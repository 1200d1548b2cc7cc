// Package app wires the naps components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"naps/internal/catalog"
	"naps/internal/config"
	"naps/internal/convert"
	"naps/internal/dispatch"
	"naps/internal/mailer"
	"naps/internal/runtime/supervisor"
	"naps/internal/scheduler"
	"naps/internal/storage"
	logx "naps/pkg/logx"
	"naps/pkg/systemd"
)

type Options struct {
	// LogLevel overrides logging.level from the config file when set.
	LogLevel string
}

type App struct {
	opts Options

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	catalog *catalog.Client
	mailer  *mailer.SMTP
	job     *dispatch.Job
	sched   *scheduler.Service
	sd      *systemd.Notifier
}

// New loads the config and builds every component. Nothing touches the
// network until Start.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogConfig(cfg, opts.LogLevel))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	settings, err := mapJobSettings(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	store, err := storage.Open(mapStorageConfig(cfg), root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	cat, err := catalog.New(mapCatalogConfig(cfg), root.With(logx.String("comp", "catalog")))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	ml, err := mailer.New(mapMailerConfig(cfg), root.With(logx.String("comp", "mailer")))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	job := dispatch.New(settings, dispatch.Deps{
		Catalog:   cat,
		Store:     store,
		Mailer:    ml,
		Converter: convert.New(root.With(logx.String("comp", "convert"))),
	}, root.With(logx.String("comp", "dispatch")))

	sched, err := scheduler.New(mapSchedulerConfig(cfg), job, root.With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	log.Info("app configured", logx.String("config", cfgPath), logx.String("summary", cfg.String()))
	return &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		store:   store,
		catalog: cat,
		mailer:  ml,
		job:     job,
		sched:   sched,
		sd:      systemd.NewNotifier(root.With(logx.String("comp", "systemd"))),
	}, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop()).
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

// Job exposes the dispatch job, e.g. for a one-off run.
func (a *App) Job() *dispatch.Job { return a.job }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Reject hot-reloads the running components could not apply.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapJobSettings(cfg); err != nil {
			return err
		}
		if _, err := scheduler.ParseSchedule(cfg.Schedule.Spec()); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		return nil
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.GoRestart("systemd.watchdog", a.sd.Watchdog, supervisor.WithRestartBackoff(time.Second, time.Minute))

	a.sd.Ready()
	if next := a.sched.Next(); !next.IsZero() {
		a.sd.Status("next run " + next.Format(time.RFC3339))
	}
	a.log.Info("app started")
	return nil
}

// reloadLoop applies published config changes. Bursts are coalesced so only
// the latest config is applied.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		var cfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			cfg = c
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					cfg = newer
				}
			default:
				break drain
			}
		}
		a.apply(applied, cfg)
		applied = cfg
	}
}

func (a *App) apply(oldCfg, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	a.logs.Apply(mapLogConfig(cfg, a.opts.LogLevel))

	if settings, err := mapJobSettings(cfg); err != nil {
		a.log.Warn("invalid job settings; keeping previous", logx.Err(err))
	} else {
		a.job.Apply(settings)
	}

	if err := a.sched.Apply(mapSchedulerConfig(cfg)); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	}

	if mapCatalogConfig(oldCfg) != mapCatalogConfig(cfg) {
		a.log.Warn("immich connection changed; restart required for changes to take effect")
	}
	if mapMailerConfig(oldCfg) != mapMailerConfig(cfg) {
		a.log.Warn("smtp config changed; restart required for changes to take effect")
	}
	if mapStorageConfig(oldCfg) != mapStorageConfig(cfg) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
}

// Stop shuts down in reverse start order. The running cycle, if any, sees
// its context cancelled; nothing it has not committed is recorded.
func (a *App) Stop(ctx context.Context) error {
	start := time.Now()
	a.sd.Stopping()
	a.log.Info("stop requested")

	a.sched.Stop(ctx)

	var supErr error
	if a.sup != nil {
		supErr = a.sup.Stop(ctx)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("app stopped", logx.Duration("took", time.Since(start)))
	_ = a.logs.Close()
	return supErr
}

// Run starts the app and blocks until ctx is cancelled or a supervised
// goroutine fails fatally.
func (a *App) Run(ctx context.Context, stopTimeout time.Duration) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	<-a.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := a.Stop(stopCtx)
	if fatal := a.Err(); fatal != nil {
		return fatal
	}
	return err
}

// ListSent writes every recorded asset id, one per line, in insertion order.
// Only the storage section of the config is used.
func ListSent(ctx context.Context, cfgPath string, opts Options, w io.Writer) error {
	cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
	if err != nil {
		return err
	}
	logs, root := logx.New(mapLogConfig(cfg, opts.LogLevel))
	defer logs.Close()

	store, err := storage.Open(mapStorageConfig(cfg), root.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}
