// Package app wires configuration into a runnable service: a single pass,
// the scheduled serve loop, and the run history.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wprecur/internal/config"
	"wprecur/internal/forecast"
	"wprecur/internal/notifier"
	"wprecur/internal/openproject"
	"wprecur/internal/run"
	"wprecur/internal/storage"
	logx "wprecur/pkg/logx"
)

// ErrNoJournal is returned by History when storage is disabled.
var ErrNoJournal = errors.New("app: run journal is disabled")

// ErrBusy is returned when a pass is triggered while another is running.
var ErrBusy = errors.New("app: a pass is already running")

type Options struct {
	// DryRun evaluates without writing to OpenProject.
	DryRun bool
	// Lookup replaces os.LookupEnv.
	Lookup func(string) (string, bool)
}

type App struct {
	opts Options
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	// mu guards st. A pass holds it for its whole duration so a reload never
	// closes the journal under a running pass.
	mu      sync.Mutex
	st      *stack
	running atomic.Bool
}

// stack is everything built from one config generation.
type stack struct {
	runner  *run.Runner
	journal storage.Journal
	notif   *notifier.Service
	timeout time.Duration
}

func (s *stack) close() error {
	if s == nil || s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// New loads and validates the config at cfgPath and builds the service.
// An empty cfgPath reads the environment only.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	if opts.Lookup != nil {
		cfgm.SetLookup(opts.Lookup)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, false); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("component", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("component", "config")))

	a := &App{opts: opts, cfgm: cfgm, logs: logs, log: log}
	st, err := a.build(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.st = st
	return a, nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) build(cfg *config.Config) (*stack, error) {
	root := a.logs.Logger()

	opc, err := mapOpenProject(cfg.OpenProject)
	if err != nil {
		return nil, err
	}
	client, err := openproject.New(opc, root)
	if err != nil {
		return nil, err
	}
	fcc, err := mapForecast(cfg.Forecast)
	if err != nil {
		return nil, err
	}
	fc, err := forecast.New(fcc, root)
	if err != nil {
		return nil, err
	}
	loc, err := location(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	timeout, err := config.ParseDurationField("schedule.run_timeout", cfg.Schedule.RunTimeout)
	if err != nil {
		return nil, err
	}

	st := &stack{timeout: timeout}
	var observers []run.Observer

	sc, enabled, err := mapStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if enabled {
		j, err := storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		st.journal = j
		observers = append(observers, run.JournalObserver{J: j})
		a.log.Debug("run journal enabled", logx.String("driver", sc.Driver))
	}

	nc, err := mapNotifier(cfg.Notifier)
	if err != nil {
		_ = st.close()
		return nil, err
	}
	if nc.Enabled {
		n, err := notifier.NewTelegram(nc, root)
		if err != nil {
			_ = st.close()
			return nil, err
		}
		st.notif = n
		observers = append(observers, n)
	}

	st.runner = run.New(client, fc, run.Options{
		Notify:   cfg.OpenProject.Notify,
		DryRun:   a.opts.DryRun,
		Location: loc,
		Workers:  cfg.Schedule.Workers,
	}, root, observers...)
	return st, nil
}

// RunOnce performs one pass. It fails with ErrBusy while another pass runs.
func (a *App) RunOnce(ctx context.Context) (run.Summary, error) {
	if !a.running.CompareAndSwap(false, true) {
		return run.Summary{}, ErrBusy
	}
	defer a.running.Store(false)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.st.runner == nil {
		return run.Summary{}, errors.New("app: closed")
	}
	if a.st.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.st.timeout)
		defer cancel()
	}
	return a.st.runner.RunOnce(ctx)
}

// History returns up to limit journaled runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.st.journal == nil {
		return nil, ErrNoJournal
	}
	return a.st.journal.RecentRuns(ctx, limit)
}

// apply rebuilds the stack for a reloaded config. The old stack is closed
// once no pass uses it.
func (a *App) apply(cfg *config.Config) error {
	a.logs.Apply(mapLogging(cfg.Logging))
	st, err := a.build(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	old := a.st
	a.st = st
	a.mu.Unlock()
	return old.close()
}

func (a *App) Close() error {
	a.mu.Lock()
	st := a.st
	a.st = &stack{}
	a.mu.Unlock()
	return errors.Join(st.close(), a.logs.Close())
}
