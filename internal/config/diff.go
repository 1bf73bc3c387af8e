package config

import (
	"strings"

	logx "wprecur/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets are reported only
// as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	o, n := oldCfg.OpenProject, newCfg.OpenProject
	if o.Host != n.Host || o.HTTPS != n.HTTPS || o.BaseURL != n.BaseURL ||
		o.VerifySSLOrDefault() != n.VerifySSLOrDefault() || o.APIKey != n.APIKey ||
		o.Timeout != n.Timeout || o.RatePerSec != n.RatePerSec || o.PageSize != n.PageSize ||
		o.Retry != n.Retry || o.Notify != n.Notify {
		changed = append(changed, "openproject")
		attrs = append(attrs,
			logx.String("openproject.host", n.Host),
			logx.Bool("openproject.https", n.HTTPS),
			logx.Bool("openproject.api_key_set", set(n.APIKey)),
			logx.Int("openproject.rate_per_sec", n.RatePerSec),
		)
	}

	if oldCfg.Forecast != newCfg.Forecast {
		changed = append(changed, "forecast")
		attrs = append(attrs, logx.Any("forecast.location", [2]float64{newCfg.Forecast.Latitude, newCfg.Forecast.Longitude}))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.spec", newCfg.Schedule.Spec),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
			logx.Int("schedule.workers", newCfg.Schedule.Workers),
		)
	}

	var oldSt, newSt StorageConfig
	if oldCfg.Storage != nil {
		oldSt = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newSt = *newCfg.Storage
	}
	if oldSt != newSt {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newSt.Driver))
	}

	var on, nn NotifierConfig
	if oldCfg.Notifier != nil {
		on = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nn = *newCfg.Notifier
	}
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Bool("notifier.token_set", set(nn.Token)),
			logx.Bool("notifier.only_changes", nn.OnlyChanges),
		)
	}
	return changed, attrs
}
