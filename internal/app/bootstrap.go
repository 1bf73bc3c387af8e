package app

import (
	"strings"
	"time"

	"wprecur/internal/config"
	"wprecur/internal/forecast"
	"wprecur/internal/notifier"
	"wprecur/internal/openproject"
	"wprecur/internal/storage"
	logx "wprecur/pkg/logx"
)

// Config mapping. The config package has already validated durations, so
// the errors returned here only surface for unvalidated input.

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func mapOpenProject(c config.OpenProjectConfig) (openproject.Config, error) {
	timeout, err := config.ParseDurationOrDefault("openproject.timeout", c.Timeout, 30*time.Second)
	if err != nil {
		return openproject.Config{}, err
	}
	base, err := config.ParseDurationField("openproject.retry.base", c.Retry.Base)
	if err != nil {
		return openproject.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("openproject.retry.max_delay", c.Retry.MaxDelay)
	if err != nil {
		return openproject.Config{}, err
	}
	return openproject.Config{
		BaseURL:    strings.TrimSpace(c.BaseURL),
		Host:       strings.TrimSpace(c.Host),
		HTTPS:      c.HTTPS,
		VerifySSL:  c.VerifySSLOrDefault(),
		APIKey:     c.APIKey,
		Timeout:    timeout,
		RatePerSec: c.RatePerSec,
		PageSize:   c.PageSize,
		Retry:      openproject.RetryPolicy{Max: c.Retry.Max, Base: base, MaxDelay: maxDelay},
	}, nil
}

func mapForecast(c config.ForecastConfig) (forecast.Config, error) {
	timeout, err := config.ParseDurationOrDefault("forecast.timeout", c.Timeout, 20*time.Second)
	if err != nil {
		return forecast.Config{}, err
	}
	return forecast.Config{
		BaseURL:   strings.TrimSpace(c.BaseURL),
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		Timezone:  strings.TrimSpace(c.Timezone),
		Timeout:   timeout,
		Retries:   c.Retries,
	}, nil
}

// mapStorage reports false when the journal is off.
func mapStorage(c *config.StorageConfig) (storage.Config, bool, error) {
	if c == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(c.Path),
		BusyTimeout: busy,
		KeepRuns:    c.KeepRuns,
	}, true, nil
}

func mapNotifier(c *config.NotifierConfig) (notifier.Config, error) {
	if c == nil {
		return notifier.Config{}, nil
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", c.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", c.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       c.Enabled,
		Token:         strings.TrimSpace(c.Token),
		ChatID:        c.ChatID,
		ThreadID:      c.ThreadID,
		OnlyChanges:   c.OnlyChanges,
		RatePerSec:    c.RatePerSec,
		RetryMax:      c.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

// location resolves schedule.timezone; empty means local time.
func location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
