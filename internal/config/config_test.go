package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "Australia/Sydney" || cfg.RefreshCron != "0 */6 * * *" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Site.PageQuery != cfg.Site.PageQuery || again.Site.PageTimeout != cfg.Site.PageTimeout {
		t.Fatalf("round trip changed site: %+v vs %+v", again.Site, cfg.Site)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "listen: 0.0.0.0:9000\n" +
		"site:\n  page_timeout: 10s\n" +
		"ingest:\n  categorise: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.Site.PageTimeout != 10*time.Second {
		t.Fatalf("page_timeout = %s", cfg.Site.PageTimeout)
	}
	if !cfg.Ingest.Categorise || cfg.Ingest.Workers != defaultWorkers {
		t.Fatalf("ingest = %+v", cfg.Ingest)
	}
	if cfg.HorizonDays != 30 || cfg.DefaultWindow() != 30*24*time.Hour {
		t.Fatalf("horizon %d window %s", cfg.HorizonDays, cfg.DefaultWindow())
	}
	if cfg.Database.Path == "" || cfg.Site.BaseURL == "" {
		t.Fatalf("missing defaults: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CAMPUSCAL_LISTEN", ":7000")
	t.Setenv("CAMPUSCAL_DB_PATH", "/tmp/x.db")
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.test,http://b.test")

	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Listen != ":7000" || cfg.Database.Path != "/tmp/x.db" || cfg.Classifier.APIKey != "k" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "http://b.test" {
		t.Fatalf("cors = %v", cfg.CORSAllowOrigins)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("unset env overwrote log level: %q", cfg.LogLevel)
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Australia/Sydney" {
		t.Fatalf("loc = %v, err %v", loc, err)
	}

	cfg.Timezone = "Nowhere/Special"
	loc, err = cfg.Location()
	if err == nil || loc != time.UTC {
		t.Fatalf("expected UTC fallback with error, got %v %v", loc, err)
	}
}

func TestSaveNormalizesAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{Listen: ":9100", Ingest: IngestConfig{Workers: 8, RunOnStart: true}}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if cfg.Timezone != defaultTimezone {
		t.Fatalf("Save did not normalize: %+v", cfg)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Listen != ":9100" || loaded.Ingest.Workers != 8 || !loaded.Ingest.RunOnStart {
		t.Fatalf("loaded = %+v", loaded)
	}
	if err := Save("", cfg); err == nil {
		t.Fatal("expected error for empty path")
	}
}
