package app_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
)

// testConfig returns a config suitable for in-process tests: telemetry off
// so the global OTel providers stay untouched, storage off unless a test
// turns it on.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Telemetry.Enabled = false
	cfg.Storage.Enabled = false
	cfg.Limits.RequestsPerSecond = 0
	cfg.ASR.APIKey = "sk-test"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

func TestNew_ServesHealthRoutes(t *testing.T) {
	a := newTestApp(t, testConfig())
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	for _, path := range []string{"/live", "/ready", "/health"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestNew_ServesStreamingHealth(t *testing.T) {
	a := newTestApp(t, testConfig())
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/streaming/health")
	if err != nil {
		t.Fatalf("GET /v1/streaming/health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestNew_CreatesArchiveDir(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Enabled = true
	cfg.Storage.DataDir = t.TempDir()

	newTestApp(t, cfg)

	dir := filepath.Join(cfg.Storage.DataDir, "asr")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("archive dir not created: %v", err)
	}
}

func TestNew_NilConfigFails(t *testing.T) {
	if _, err := app.New(context.Background(), nil); err == nil {
		t.Fatal("New(nil) succeeded, want error")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

const reloadBaseYAML = `
asr:
  api_url: "https://asr.example.com/v1"
  api_key: "sk-test"
telemetry:
  enabled: false
storage:
  enabled: false
limits:
  requests_per_second: 0
logging:
  level: info
`

const reloadDebugYAML = `
asr:
  api_url: "https://asr.example.com/v1"
  api_key: "sk-test"
telemetry:
  enabled: false
storage:
  enabled: false
limits:
  requests_per_second: 0
logging:
  level: debug
`

func TestWatchConfig_UpdatesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(reloadBaseYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Telemetry.Enabled = false

	level := new(slog.LevelVar)
	a := newTestApp(t, cfg, app.WithLevelVar(level))
	if err := a.WatchConfig(path, config.WithInterval(10*time.Millisecond)); err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}

	if got := level.Level(); got != slog.LevelInfo {
		t.Fatalf("initial level = %v, want info", got)
	}

	// Let the mtime tick before rewriting so the poll sees the change.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte(reloadDebugYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for level.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatalf("level = %v after reload, want debug", level.Level())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
