package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dialix.yaml")
	body := []byte(`
db_dsn: postgres://localhost/dialix
pricing:
  general_per_ms: 0.5
pbx:
  span_limit: 48h
transcription:
  max_wait: 10m
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Timezone != "Asia/Tashkent" {
		t.Fatalf("expected default timezone, got %q", cfg.Timezone)
	}
	if cfg.Pricing.GeneralPerMS != 0.5 {
		t.Fatalf("expected general rate 0.5, got %v", cfg.Pricing.GeneralPerMS)
	}
	if cfg.Pricing.TranscriptionPerMS != 1.05 {
		t.Fatalf("expected default transcription rate, got %v", cfg.Pricing.TranscriptionPerMS)
	}
	if cfg.PBX.SpanLimit != 48*time.Hour {
		t.Fatalf("expected span limit 48h, got %v", cfg.PBX.SpanLimit)
	}
	if cfg.Transcription.MaxWait != 10*time.Minute {
		t.Fatalf("expected max wait 10m, got %v", cfg.Transcription.MaxWait)
	}
	if cfg.AMQP.AnalysisQueue != "api" || cfg.AMQP.FinalizerQueue != "data" {
		t.Fatalf("unexpected queue names %q %q", cfg.AMQP.AnalysisQueue, cfg.AMQP.FinalizerQueue)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dialix.yaml")
	if err := os.WriteFile(path, []byte("db_dsn: postgres://file/dsn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://env/dsn")
	t.Setenv("PBX_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDSN != "postgres://env/dsn" {
		t.Fatalf("expected env dsn, got %q", cfg.DBDSN)
	}
	if cfg.PBX.Key != "secret" {
		t.Fatalf("expected pbx key from env, got %q", cfg.PBX.Key)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
