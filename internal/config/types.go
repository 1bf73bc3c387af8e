package config

// Config is the service configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	OpenProject OpenProjectConfig `json:"openproject"`
	Forecast    ForecastConfig    `json:"forecast"`
	Logging     LoggingConfig     `json:"logging"`
	Schedule    ScheduleConfig    `json:"schedule"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
}

// OpenProjectConfig is the API connection.
//
// Host, HTTPS, VerifySSL and APIKey can be overridden by the HOST, HTTPS,
// VERIFY_SSL and API_KEY environment variables.
//
// Defaults (when fields are omitted/zero):
//   - timeout: "30s"
//   - page_size: 1000
//   - rate_per_sec: 0 (unlimited)
type OpenProjectConfig struct {
	Host      string `json:"host"`
	HTTPS     bool   `json:"https"`
	VerifySSL *bool  `json:"verify_ssl,omitempty"` // default true
	APIKey    string `json:"api_key,omitempty"`    // prefer API_KEY
	BaseURL   string `json:"base_url,omitempty"`

	Timeout    string      `json:"timeout,omitempty"`
	RatePerSec int         `json:"rate_per_sec,omitempty"`
	PageSize   int         `json:"page_size,omitempty"`
	Retry      RetryConfig `json:"retry,omitempty"`

	// Notify asks OpenProject to send its own mails for created clones.
	Notify bool `json:"notify,omitempty"`
}

// RetryConfig applies to idempotent reads only.
type RetryConfig struct {
	Max      int    `json:"max,omitempty"`
	Base     string `json:"base,omitempty"`
	MaxDelay string `json:"max_delay,omitempty"`
}

// ForecastConfig locates the weather forecast used by the weather policy.
type ForecastConfig struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone,omitempty"` // default "auto"
	BaseURL   string  `json:"base_url,omitempty"`
	Timeout   string  `json:"timeout,omitempty"`
	Retries   int     `json:"retries,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScheduleConfig controls serve mode and the pass itself.
type ScheduleConfig struct {
	// Spec is a cron expression ("0 6 * * *", "@daily", "@every 1h").
	Spec string `json:"spec,omitempty"`
	// Timezone defines both the cron clock and "today". Default: local.
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
	// RunTimeout bounds one pass. "0s" disables.
	RunTimeout string `json:"run_timeout,omitempty"`
	Workers    int    `json:"workers,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./wprecur.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	KeepRuns    int    `json:"keep_runs,omitempty"`
}

// NotifierConfig controls Telegram run summaries. Token can come from
// TELEGRAM_TOKEN.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token,omitempty"`
	ChatID        int64  `json:"chat_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	OnlyChanges   bool   `json:"only_changes,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}
