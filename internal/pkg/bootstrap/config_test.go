package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.DispatchTopic != "orders" || cfg.Pipeline.ConsumerGroup != "warehouse-group" {
		t.Fatalf("unexpected defaults: %+v", cfg.Pipeline)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
app:
  httpPort: 9090
pipeline:
  mode: embedded
  stockBackend: memory
  workers: 5
  storeTimeout: 250ms
  admissionRules:
    - "quantity <= 100"
`)
	t.Setenv("HTTP_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTPPort != 9191 {
		t.Errorf("HTTPPort = %d, want env override 9191", cfg.App.HTTPPort)
	}
	if cfg.Pipeline.Workers != 5 || cfg.Pipeline.Mode != ModeEmbedded {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.StoreTimeout != 250*time.Millisecond {
		t.Errorf("StoreTimeout = %v", cfg.Pipeline.StoreTimeout)
	}
	if cfg.Pipeline.PublishTimeout != 5*time.Second {
		t.Errorf("PublishTimeout default lost: %v", cfg.Pipeline.PublishTimeout)
	}
	if len(cfg.Pipeline.AdmissionRules) != 1 {
		t.Errorf("AdmissionRules = %v", cfg.Pipeline.AdmissionRules)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Pipeline.Mode = "grpc" }, "pipeline.mode"},
		{"unknown backend", func(c *Config) { c.Pipeline.StockBackend = "mongo" }, "stockBackend"},
		{"memory with kafka", func(c *Config) { c.Pipeline.StockBackend = BackendMemory }, "embedded"},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }, "workers"},
		{"no brokers", func(c *Config) { c.Infra.Kafka.Brokers = nil }, "brokers"},
		{"bad dsn", func(c *Config) { c.Infra.MySQL.DSN = "not a dsn" }, "dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestMySQLTargetHidesPassword(t *testing.T) {
	cfg := Default()
	got := cfg.MySQLTarget()
	if strings.Contains(got, ":root@") {
		t.Fatalf("password leaked: %s", got)
	}
	if got != "root@tcp(localhost:3306)/stockflow" {
		t.Fatalf("MySQLTarget = %s", got)
	}
}
