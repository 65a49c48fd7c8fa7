package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Output.Backend != BackendParquet {
		t.Errorf("backend = %q, want parquet", cfg.Output.Backend)
	}
	if cfg.Pipeline.IDStrategy != "snowflake" {
		t.Errorf("id strategy = %q", cfg.Pipeline.IDStrategy)
	}
	if !strings.HasPrefix(cfg.Input.SongData, "s3a://udacity-dend/song_data/") {
		t.Errorf("song data = %q", cfg.Input.SongData)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if loc, _ := cfg.Location(); loc != time.Local {
		t.Errorf("location = %v, want Local", loc)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "songplay.yaml", `
input:
  song_data: ./data/song_data
  log_data: ./data/log_data
output:
  backend: sqlite
  sqlite_path: /tmp/lake.db
  mirror: parquet
pipeline:
  workers: 16
  id_strategy: sequence
  timezone: UTC
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if cfg.Output.Backend != BackendSQLite || cfg.Output.Mirror != BackendParquet {
		t.Errorf("output = %+v", cfg.Output)
	}
	if cfg.Pipeline.Workers != 16 || cfg.Pipeline.IDStrategy != "sequence" {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if loc, _ := cfg.Location(); loc != time.UTC {
		t.Errorf("location = %v, want UTC", loc)
	}
	// Unset keys keep their defaults.
	if cfg.RunLog.MaxRuns != 50 {
		t.Errorf("max runs = %d, want default 50", cfg.RunLog.MaxRuns)
	}
}

func TestLoadINI(t *testing.T) {
	path := writeConfig(t, "dl.cfg", `[AWS]
AWS_ACCESS_KEY_ID=AKIAEXAMPLE
AWS_SECRET_ACCESS_KEY=secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AWS.AccessKeyID != "AKIAEXAMPLE" || cfg.AWS.SecretAccessKey != "secret" {
		t.Errorf("aws = %+v", cfg.AWS)
	}
	if cfg.AWS.Region != "us-west-2" {
		t.Errorf("region = %q, want default", cfg.AWS.Region)
	}
}

func TestFindConfigFile(t *testing.T) {
	empty := t.TempDir()
	withINI := t.TempDir()
	if err := os.WriteFile(filepath.Join(withINI, "dl.cfg"), []byte("[AWS]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	withBoth := t.TempDir()
	for _, name := range []string{"dl.cfg", "songplay.yaml"} {
		if err := os.WriteFile(filepath.Join(withBoth, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		dirs []string
		want string
	}{
		{"nothing", []string{empty}, ""},
		{"dl.cfg", []string{empty, withINI}, filepath.Join(withINI, "dl.cfg")},
		{"yaml first", []string{withBoth}, filepath.Join(withBoth, "songplay.yaml")},
		{"first dir wins", []string{withINI, withBoth}, filepath.Join(withINI, "dl.cfg")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigFile(tt.dirs); got != tt.want {
				t.Errorf("findConfigFile = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadDiscoversINI(t *testing.T) {
	path := writeConfig(t, "dl.cfg", `[AWS]
AWS_ACCESS_KEY_ID=AKIAFOUND
AWS_SECRET_ACCESS_KEY=found
`)
	t.Chdir(filepath.Dir(path))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.File != "dl.cfg" {
		t.Errorf("File = %q, want dl.cfg", cfg.File)
	}
	if cfg.AWS.AccessKeyID != "AKIAFOUND" {
		t.Errorf("access key = %q", cfg.AWS.AccessKeyID)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SONGPLAY_OUTPUT_BACKEND", "memory")
	t.Setenv("SONGPLAY_PIPELINE_WORKERS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Output.Backend != BackendMemory {
		t.Errorf("backend = %q, want memory", cfg.Output.Backend)
	}
	if cfg.Pipeline.Workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.Pipeline.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"too many workers", func(c *Config) { c.Pipeline.Workers = MaxWorkers + 1 }},
		{"negative workers", func(c *Config) { c.Pipeline.Workers = -1 }},
		{"unknown id strategy", func(c *Config) { c.Pipeline.IDStrategy = "uuid" }},
		{"bad timezone", func(c *Config) { c.Pipeline.Timezone = "Mars/Olympus" }},
		{"unknown backend", func(c *Config) { c.Output.Backend = "hdfs" }},
		{"mirror equals backend", func(c *Config) { c.Output.Mirror = c.Output.Backend }},
		{"missing input", func(c *Config) { c.Input.LogData = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON warn line, got %s", out)
	}
}

func TestNewAWSSession(t *testing.T) {
	if _, err := NewAWSSession(AWSConfig{Region: "us-west-2", AccessKeyID: "only-id"}, nil); err == nil {
		t.Error("expected error for incomplete static credentials")
	}

	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json"}, &buf)

	sess, err := NewAWSSession(AWSConfig{Region: "eu-north-1", Endpoint: "http://localhost:9000"}, logger)
	if err != nil {
		t.Fatalf("NewAWSSession failed: %v", err)
	}
	if got := *sess.Config.Region; got != "eu-north-1" {
		t.Errorf("region = %q", got)
	}
	if !strings.Contains(buf.String(), "using default credential chain") {
		t.Errorf("expected default chain log line, got %q", buf.String())
	}

	buf.Reset()
	if _, err := NewAWSSession(AWSConfig{Region: "eu-north-1", AccessKeyID: "id", SecretAccessKey: "secret"}, logger); err != nil {
		t.Fatalf("NewAWSSession with static keys failed: %v", err)
	}
	if strings.Contains(buf.String(), "default credential chain") {
		t.Errorf("static keys should not log the default chain, got %q", buf.String())
	}
}
