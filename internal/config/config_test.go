package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvPort, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.ResultTTL() != 30*24*time.Hour {
		t.Errorf("ttl = %s, want 720h", cfg.ResultTTL())
	}
	if len(cfg.CORS.AllowedOrigins) != len(DefaultAllowedOrigins) {
		t.Errorf("allowed origins = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.CORS.AllowedOrigins[0] != "https://latindance.kr" {
		t.Errorf("first origin = %q", cfg.CORS.AllowedOrigins[0])
	}
	if cfg.Upstream.APIBaseURL != cfg.Upstream.UploadBaseURL {
		t.Errorf("api base = %q, want upload base %q", cfg.Upstream.APIBaseURL, cfg.Upstream.UploadBaseURL)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
cors:
  allowedOrigins: ["https://a.example"]
upstream:
  apiKey: from-file
  model: gemini-test
store:
  driver: mysql
  ttlDays: 7
database:
  host: db
  port: 3306
  user: u
  password: p
  name: results
`)
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream.APIKey != "from-env" {
		t.Errorf("api key = %q, want from-env", cfg.Upstream.APIKey)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Upstream.Model != "gemini-test" {
		t.Errorf("model = %q", cfg.Upstream.Model)
	}
	if cfg.ResultTTL() != 7*24*time.Hour {
		t.Errorf("ttl = %s", cfg.ResultTTL())
	}
	want := "u:p@tcp(db:3306)/results?parseTime=true&charset=utf8mb4&loc=UTC"
	if got := cfg.MySQLDSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	t.Setenv(EnvPort, "not-a-number")
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestLoad_UnknownStoreDriver(t *testing.T) {
	t.Setenv(EnvPort, "")
	path := writeConfig(t, "store:\n  driver: redis\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := Default()
	cfg.Postgres.Host = "pg"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "u"
	cfg.Postgres.Password = "p"
	cfg.Postgres.Name = "results"

	want := "host=pg port=5432 user=u password=p dbname=results sslmode=disable"
	if got := cfg.PostgresDSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}
