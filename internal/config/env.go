package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables that override the file.
const (
	EnvAPIKey        = "API_KEY"
	EnvHost          = "HOST"
	EnvHTTPS         = "HTTPS"
	EnvVerifySSL     = "VERIFY_SSL"
	EnvTelegramToken = "TELEGRAM_TOKEN"
)

// ApplyEnv overlays environment variables onto cfg. lookup is os.LookupEnv
// when nil.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvAPIKey); ok && strings.TrimSpace(v) != "" {
		cfg.OpenProject.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvHost); ok && strings.TrimSpace(v) != "" {
		cfg.OpenProject.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvHTTPS); ok && strings.TrimSpace(v) != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHTTPS, err)
		}
		cfg.OpenProject.HTTPS = b
	}
	if v, ok := lookup(EnvVerifySSL); ok && strings.TrimSpace(v) != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVerifySSL, err)
		}
		cfg.OpenProject.VerifySSL = &b
	}
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		if cfg.Notifier == nil {
			cfg.Notifier = &NotifierConfig{}
		}
		cfg.Notifier.Token = strings.TrimSpace(v)
	}
	return nil
}

// parseBool also accepts yes/no and on/off.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}
