package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wprecur/internal/config"
	"wprecur/internal/run"
	logx "wprecur/pkg/logx"
)

func noEnv(string) (string, bool) { return "", false }

// emptyOpenProject answers every collection request with no elements.
func emptyOpenProject(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if u, p, ok := r.BasicAuth(); !ok || u != "apikey" || p != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/hal+json")
		_, _ = w.Write([]byte(`{"_type":"Collection","total":0,"count":0,"_embedded":{"elements":[]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "wprecur.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Tests that build an App run serially; logx.New sets zerolog globals.
func TestRunOnceJournalsPass(t *testing.T) {
	var hits atomic.Int32
	srv := emptyOpenProject(t, &hits)
	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`{
		"openproject": {"base_url": %q, "api_key": "k"},
		"logging": {"level": "error"},
		"storage": {"driver": "file", "path": %q}
	}`, srv.URL, filepath.Join(dir, "journal")))

	a, err := New(cfgPath, Options{Lookup: noEnv})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	sum, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Templates != 0 || sum.RunID == "" {
		t.Fatalf("summary = %+v", sum)
	}
	if hits.Load() == 0 {
		t.Fatal("OpenProject was never asked")
	}
	runs, err := a.History(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != sum.RunID {
		t.Fatalf("history = %+v", runs)
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	var hits atomic.Int32
	srv := emptyOpenProject(t, &hits)
	a, err := New(writeConfig(t, fmt.Sprintf(`{"openproject":{"base_url":%q,"api_key":"k"},"logging":{"level":"error"}}`, srv.URL)), Options{Lookup: noEnv})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	a.running.Store(true)
	if _, err := a.RunOnce(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if hits.Load() != 0 {
		t.Fatal("overlapping pass must not reach OpenProject")
	}
	if _, err := a.History(context.Background(), 1); !errors.Is(err, ErrNoJournal) {
		t.Fatalf("history err = %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, `{"openproject":{"host":"op"}}`), Options{Lookup: noEnv})
	if err == nil || !strings.Contains(err.Error(), "openproject.api_key") {
		t.Fatalf("err = %v", err)
	}
}

func TestMapStorage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		busy    time.Duration
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "None"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "j"}, enabled: true, busy: time.Second},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"}, enabled: true, busy: 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc, ok, err := mapStorage(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.enabled {
				t.Fatalf("enabled = %v", ok)
			}
			if ok && (sc.BusyTimeout != tt.busy || sc.Driver != strings.ToLower(tt.in.Driver)) {
				t.Fatalf("config = %+v", sc)
			}
		})
	}
}

func TestMapOpenProjectDefaults(t *testing.T) {
	t.Parallel()
	oc, err := mapOpenProject(config.OpenProjectConfig{Host: " op ", APIKey: "k", Retry: config.RetryConfig{Max: 2, Base: "100ms"}})
	if err != nil {
		t.Fatal(err)
	}
	if oc.Host != "op" || !oc.VerifySSL || oc.Timeout != 30*time.Second || oc.Retry.Base != 100*time.Millisecond || oc.Retry.Max != 2 {
		t.Fatalf("config = %+v", oc)
	}
}

func TestSchedulerReschedule(t *testing.T) {
	t.Parallel()
	s, err := newScheduler("@every 1h", "UTC", func() {}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(time.Second)

	first := s.c
	if err := s.Reschedule("@every 1h", "UTC"); err != nil || s.c != first {
		t.Fatalf("unchanged reschedule must keep the cron: err = %v", err)
	}
	if err := s.Reschedule("every hour", "UTC"); err == nil {
		t.Fatal("want spec error")
	}
	if s.spec != "@every 1h" {
		t.Fatalf("failed reschedule changed spec to %q", s.spec)
	}
	if err := s.Reschedule("0 6 * * *", "Europe/Berlin"); err != nil {
		t.Fatal(err)
	}
	next := s.Next()
	if next.IsZero() || next.In(time.UTC).Minute() != 0 {
		t.Fatalf("next = %v", next)
	}
}

func TestSchedulerFiresJob(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 1)
	s, err := newScheduler("@every 1s", "", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(time.Second)
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
}

func TestStatusLine(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	got := status(run.Summary{Started: at, Clones: 2, Updates: 1}, nil)
	want := "STATUS=last pass ok at 2024-06-01T06:00:00Z: 2 clones, 1 updates, 0 failures"
	if got != want {
		t.Fatalf("status = %q", got)
	}
	if !strings.Contains(status(run.Summary{Started: at}, errors.New("x")), "failed") {
		t.Fatal("failure not reported")
	}
}
