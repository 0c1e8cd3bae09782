package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("TASK_DISPATCH", "")
	t.Setenv("BATCH_CONCURRENCY", "")
	t.Setenv("BATCH_INTER_JOB_DELAY_MS", "")
	t.Setenv("DB_MAX_CONNS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL = %q, want %q", cfg.StorageBaseURL, "http://localhost:8080/static")
	}
	if cfg.TaskDispatch != DispatchInline {
		t.Fatalf("TaskDispatch = %q, want %q", cfg.TaskDispatch, DispatchInline)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("DBMaxConns = %d, want 10", cfg.DBMaxConns)
	}
	if cfg.Batch.Concurrency != 3 {
		t.Fatalf("Batch.Concurrency = %d, want 3", cfg.Batch.Concurrency)
	}
	if !cfg.Batch.FallbackEnabled {
		t.Fatalf("Batch.FallbackEnabled = false, want true")
	}
	if cfg.Batch.InterJobDelay != 0 {
		t.Fatalf("Batch.InterJobDelay = %v, want 0", cfg.Batch.InterJobDelay)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigBatchOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("BATCH_CONCURRENCY", "1")
	t.Setenv("BATCH_INTER_JOB_DELAY_MS", "15000")
	t.Setenv("BATCH_FALLBACK_ENABLED", "false")
	t.Setenv("BATCH_ITEM_TIMEOUT_SECONDS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Batch.InterJobDelay != 15*time.Second {
		t.Fatalf("Batch.InterJobDelay = %v, want 15s", cfg.Batch.InterJobDelay)
	}
	if cfg.Batch.FallbackEnabled {
		t.Fatalf("Batch.FallbackEnabled = true, want false")
	}
	if cfg.Batch.ItemTimeout != 30*time.Second {
		t.Fatalf("Batch.ItemTimeout = %v, want 30s", cfg.Batch.ItemTimeout)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}},
		{name: "zero db conns", env: map[string]string{"DB_MAX_CONNS": "0"}},
		{name: "zero concurrency", env: map[string]string{"BATCH_CONCURRENCY": "0"}},
		{name: "amqp without url", env: map[string]string{"TASK_DISPATCH": "amqp", "AMQP_URL": ""}},
		{name: "unknown dispatch", env: map[string]string{"TASK_DISPATCH": "kafka"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://example")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("LoadConfig() returned nil error")
			}
		})
	}
}
