package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "wprecur/pkg/logx"
)

// CronParser accepts standard five-field specs and descriptors.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports every problem in cfg, each prefixed with its path.
// serve asks for the schedule to be checked too.
func Validate(cfg *Config, serve bool) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	op := cfg.OpenProject
	if strings.TrimSpace(op.Host) == "" && strings.TrimSpace(op.BaseURL) == "" {
		add(errors.New("openproject.host: required (or set " + EnvHost + ")"))
	}
	if strings.TrimSpace(op.APIKey) == "" {
		add(errors.New("openproject.api_key: required (or set " + EnvAPIKey + ")"))
	}
	if op.RatePerSec < 0 {
		add(errors.New("openproject.rate_per_sec: must be >= 0"))
	}
	if op.PageSize < 0 {
		add(errors.New("openproject.page_size: must be >= 0"))
	}
	dur("openproject.timeout", op.Timeout)
	dur("openproject.retry.base", op.Retry.Base)
	dur("openproject.retry.max_delay", op.Retry.MaxDelay)

	fc := cfg.Forecast
	if fc.Latitude < -90 || fc.Latitude > 90 {
		add(fmt.Errorf("forecast.latitude: %v out of range", fc.Latitude))
	}
	if fc.Longitude < -180 || fc.Longitude > 180 {
		add(fmt.Errorf("forecast.longitude: %v out of range", fc.Longitude))
	}
	if fc.Retries < 0 {
		add(errors.New("forecast.retries: must be >= 0"))
	}
	dur("forecast.timeout", fc.Timeout)

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	sc := cfg.Schedule
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("schedule.timezone: %w", err))
		}
	}
	if serve || strings.TrimSpace(sc.Spec) != "" {
		if strings.TrimSpace(sc.Spec) == "" {
			add(errors.New("schedule.spec: required for serve"))
		} else if _, err := CronParser.Parse(sc.Spec); err != nil {
			add(fmt.Errorf("schedule.spec: %w", err))
		}
	}
	dur("schedule.run_timeout", sc.RunTimeout)
	if sc.Workers < 0 {
		add(errors.New("schedule.workers: must be >= 0"))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path: required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if st.KeepRuns < 0 {
			add(errors.New("storage.keep_runs: must be >= 0"))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			add(errors.New("notifier.token: required when enabled (or set " + EnvTelegramToken + ")"))
		}
		if n.ChatID == 0 {
			add(errors.New("notifier.chat_id: required when enabled"))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
	}
	return errors.Join(errs...)
}
