package config

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		OpenProject: OpenProjectConfig{
			HTTPS:    true,
			Timeout:  "30s",
			PageSize: 1000,
		},
		Forecast: ForecastConfig{Timezone: "auto", Timeout: "20s", Retries: 2},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Schedule: ScheduleConfig{Spec: "0 6 * * *", RunTimeout: "10m", Workers: 8},
	}
}

// VerifySSLOrDefault reports the effective TLS verification setting.
func (c OpenProjectConfig) VerifySSLOrDefault() bool {
	return c.VerifySSL == nil || *c.VerifySSL
}
