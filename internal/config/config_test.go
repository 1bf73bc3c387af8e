package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := write(t, "wprecur.yaml", `
openproject:
  host: op.example.com
  https: false
  api_key: secret
  retry:
    max: 2
forecast:
  latitude: 52.5
  longitude: 13.4
schedule:
  spec: "@hourly"
storage:
  driver: sqlite
  path: ./runs.db
`)
	m := NewManager(p)
	m.SetLookup(env(nil))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenProject.Host != "op.example.com" || cfg.OpenProject.HTTPS {
		t.Fatalf("openproject = %+v", cfg.OpenProject)
	}
	// Omitted fields keep their defaults.
	if cfg.OpenProject.PageSize != 1000 || cfg.Schedule.Workers != 8 || cfg.Forecast.Timezone != "auto" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Schedule.Spec != "@hourly" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("schedule/storage = %+v %+v", cfg.Schedule, cfg.Storage)
	}
	if err := Validate(cfg, true); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit")
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"unknown.json":  `{"openproject":{"hots":"x"}}`,
		"trailing.json": `{"openproject":{}} {}`,
	} {
		m := NewManager(write(t, name, body))
		m.SetLookup(env(nil))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	m := NewManager(write(t, "c.json", `{"openproject":{"host":"a","api_key":"file"}}`))
	m.SetLookup(env(map[string]string{
		EnvAPIKey:        "env-key",
		EnvHost:          "b.example.com",
		EnvHTTPS:         "no",
		EnvVerifySSL:     "false",
		EnvTelegramToken: "tg",
	}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	op := cfg.OpenProject
	if op.APIKey != "env-key" || op.Host != "b.example.com" || op.HTTPS || op.VerifySSLOrDefault() {
		t.Fatalf("openproject = %+v", op)
	}
	if cfg.Notifier == nil || cfg.Notifier.Token != "tg" {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}

	m.SetLookup(env(map[string]string{EnvHTTPS: "maybe"}))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), EnvHTTPS) {
		t.Fatalf("bad bool: err = %v", err)
	}
}

func TestEmptyPathUsesDefaultsAndEnv(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.SetLookup(env(map[string]string{EnvHost: "h", EnvAPIKey: "k"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg, false); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Forecast.Latitude = 91
	cfg.Logging.Level = "loud"
	cfg.Schedule.Spec = "every tuesday"
	cfg.Schedule.Timezone = "Mars/Olympus"
	cfg.OpenProject.Timeout = "soon"
	cfg.Storage = &StorageConfig{Driver: "redis"}
	cfg.Notifier = &NotifierConfig{Enabled: true}

	err := Validate(cfg, true)
	if err == nil {
		t.Fatal("want error")
	}
	var got []string
	for _, line := range strings.Split(err.Error(), "\n") {
		got = append(got, line[:strings.Index(line, ":")])
	}
	want := []string{
		"openproject.host",
		"openproject.api_key",
		"openproject.timeout",
		"forecast.latitude",
		"logging.level",
		"schedule.timezone",
		"schedule.spec",
		"storage.driver",
		"notifier.token",
		"notifier.chat_id",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("paths (-want +got):\n%s", diff)
	}
}

func TestCronParserAcceptsDescriptors(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{"0 6 * * *", "@daily", "@every 90m", "*/15 8-18 * * 1-5"} {
		if _, err := CronParser.Parse(spec); err != nil {
			t.Fatalf("%q: %v", spec, err)
		}
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a, b := Default(), Default()
	a.OpenProject.APIKey = "old-secret"
	b.OpenProject.APIKey = "new-secret"
	b.Notifier = &NotifierConfig{Enabled: true, Token: "tg-secret"}
	b.Schedule.Spec = "@hourly"

	changed, attrs := SummarizeChange(a, b)
	if diff := cmp.Diff([]string{"openproject", "schedule", "notifier"}, changed); diff != "" {
		t.Fatalf("changed (-want +got):\n%s", diff)
	}
	if len(attrs) == 0 {
		t.Fatal("want attrs")
	}
	if c, _ := SummarizeChange(a, a); len(c) != 0 {
		t.Fatalf("identical configs changed = %v", c)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	p := write(t, "c.json", `{"openproject":{"host":"a","api_key":"k"}}`)
	m := NewManager(p)
	m.SetLookup(env(nil))
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.OpenProject.Host == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`{"openproject":{"host":"bad","api_key":"k"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`{"openproject":{"host":"b","api_key":"k"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.OpenProject.Host != "b" {
			t.Fatalf("published host = %q", cfg.OpenProject.Host)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().OpenProject.Host != "b" {
		t.Fatal("reload not committed")
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join("..", "..", "config.example.yaml"))
	m.SetLookup(env(map[string]string{EnvAPIKey: "k"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg, true); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{raw: "", def: time.Second, want: time.Second},
		{raw: " 0s ", def: time.Second, want: time.Second},
		{raw: "250ms", def: time.Second, want: 250 * time.Millisecond},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x.timeout", tt.raw, tt.def)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v", tt.raw, err)
		}
		if err != nil {
			if !strings.HasPrefix(err.Error(), "x.timeout: ") {
				t.Fatalf("%q: error lacks path: %v", tt.raw, err)
			}
			continue
		}
		if got != tt.want {
			t.Fatalf("%q: got %v, want %v", tt.raw, got, tt.want)
		}
	}
}
