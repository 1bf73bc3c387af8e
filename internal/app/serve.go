package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wprecur/internal/config"
	"wprecur/internal/run"
	"wprecur/internal/runtime/supervisor"
	logx "wprecur/pkg/logx"
)

// Serve runs passes on schedule.spec until ctx ends, reloading the config
// file when it changes.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if err := config.Validate(cfg, true); err != nil {
		return err
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := sup.Context()

	sched, err := newScheduler(cfg.Schedule.Spec, cfg.Schedule.Timezone, func() { a.trigger(sctx, "schedule") }, a.log.With(logx.String("component", "scheduler")))
	if err != nil {
		sup.Cancel()
		return err
	}

	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c, true) })
	sub := a.cfgm.Subscribe(4)
	sup.GoRestart("config.watch", time.Second, 30*time.Second, a.cfgm.Watch)
	sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(ctx, sub, sched)
	})
	sup.Go0("systemd.watchdog", func(ctx context.Context) { watchdog(ctx, a.log) })

	sched.Start()
	if cfg.Schedule.RunOnStart {
		sup.Go0("run.start", func(ctx context.Context) { a.trigger(ctx, "start") })
	}
	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("serving", logx.String("spec", cfg.Schedule.Spec), logx.Bool("dry_run", a.opts.DryRun))

	<-sctx.Done()
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	sched.Stop(30 * time.Second)
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// trigger runs one pass unless one is already running.
func (a *App) trigger(ctx context.Context, source string) {
	sum, err := a.RunOnce(ctx)
	log := a.log.With(logx.String("trigger", source))
	switch {
	case errors.Is(err, ErrBusy):
		log.Warn("pass skipped; previous pass still running")
		return
	case err != nil && ctx.Err() != nil:
		log.Warn("pass interrupted", logx.String("run_id", sum.RunID), logx.Err(err))
	case err != nil:
		log.Error("pass failed", logx.String("run_id", sum.RunID), logx.Err(err))
	}
	sdNotify(a.log, status(sum, err))
}

func status(s run.Summary, err error) string {
	state := "ok"
	if err != nil {
		state = "failed"
	}
	return fmt.Sprintf("STATUS=last pass %s at %s: %d clones, %d updates, %d failures",
		state, s.Started.Format(time.RFC3339), s.Clones, s.Updates, s.Failures)
}

// reloadLoop applies published configs. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config, sched *scheduler) {
	applied := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
	drain:
		for {
			select {
			case c, ok := <-sub:
				if !ok {
					break drain
				}
				next = c
			default:
				break drain
			}
		}

		sections, attrs := config.SummarizeChange(applied, next)
		if len(sections) == 0 {
			a.log.Debug("config reload has no effective changes")
			continue
		}
		sdNotify(a.log, daemon.SdNotifyReloading)
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("applying config change", fields...)

		if err := sched.Reschedule(next.Schedule.Spec, next.Schedule.Timezone); err != nil {
			a.log.Error("reschedule failed; keeping previous schedule", logx.Err(err))
		}
		if err := a.apply(next); err != nil {
			a.log.Error("config apply failed", logx.Err(err))
		} else {
			applied = next
		}
		sdNotify(a.log, daemon.SdNotifyReady)
	}
}
