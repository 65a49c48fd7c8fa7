// Package config loads pipeline configuration from an optional config file,
// SONGPLAY_* environment variables and a .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fidde/songplay_lake/internal/transform"
	"github.com/go-viper/encoding/ini"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SONGPLAY_OUTPUT_BACKEND.
const EnvPrefix = "SONGPLAY"

// MaxWorkers bounds pipeline parallelism. Snowflake ids carry the worker
// index in a 10-bit node field.
const MaxWorkers = 1024

// Backend names accepted by output.backend and output.mirror.
const (
	BackendParquet    = "parquet"
	BackendS3         = "s3"
	BackendClickHouse = "clickhouse"
	BackendSQLite     = "sqlite"
	BackendMemory     = "memory"
)

// Config holds application configuration.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Output     OutputConfig     `mapstructure:"output"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Server     ServerConfig     `mapstructure:"server"`
	RunLog     RunLogConfig     `mapstructure:"runlog"`
	Log        LogConfig        `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type InputConfig struct {
	SongData string `mapstructure:"song_data"` // glob, directory or s3 uri
	LogData  string `mapstructure:"log_data"`
	Workers  int    `mapstructure:"workers"` // Concurrent file reads
}

type OutputConfig struct {
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"` // Directory or s3://bucket/prefix
	Compression string `mapstructure:"compression"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	Mirror      string `mapstructure:"mirror"` // Optional secondary backend
}

type ClickHouseConfig struct {
	Addr       string `mapstructure:"addr"`
	Database   string `mapstructure:"database"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	BatchSize  int    `mapstructure:"batch_size"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// AWSConfig matches the [AWS] section of dl.cfg.
type AWSConfig struct {
	AccessKeyID     string `mapstructure:"aws_access_key_id"`
	SecretAccessKey string `mapstructure:"aws_secret_access_key"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"` // S3-compatible endpoint, e.g. MinIO
}

type PipelineConfig struct {
	Workers    int    `mapstructure:"workers"` // 0 means one per CPU
	IDStrategy string `mapstructure:"id_strategy"`
	Timezone   string `mapstructure:"timezone"` // IANA name; "Local" or empty for the process zone
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RunLogConfig struct {
	Dir     string `mapstructure:"dir"`
	MaxRuns int    `mapstructure:"max_runs"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.song_data", "s3a://udacity-dend/song_data/A/A/*/*.json")
	v.SetDefault("input.log_data", "s3a://udacity-dend/log_data/*/*/*.json")
	v.SetDefault("input.workers", 8)

	v.SetDefault("output.backend", BackendParquet)
	v.SetDefault("output.path", "./output")
	v.SetDefault("output.compression", "snappy")
	v.SetDefault("output.sqlite_path", "./data/songplays.db")
	v.SetDefault("output.mirror", "")

	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.batch_size", 10000)
	v.SetDefault("clickhouse.max_retries", 3)

	v.SetDefault("aws.aws_access_key_id", "")
	v.SetDefault("aws.aws_secret_access_key", "")
	v.SetDefault("aws.region", "us-west-2")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("pipeline.workers", 0)
	v.SetDefault("pipeline.id_strategy", transform.IDStrategySnowflake)
	v.SetDefault("pipeline.timezone", "Local")

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("runlog.dir", "./data/runs")
	v.SetDefault("runlog.max_runs", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. When path is empty, songplay.{yaml,yml} and
// dl.cfg are looked up in the working directory and /etc/songplay; a missing
// file is not an error. A path ending in .cfg or .ini is parsed as INI.
func Load(path string) (*Config, error) {
	v := newViper()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file, err := readConfigFile(v, path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configSearchPaths and configCandidates drive config file discovery.
var (
	configSearchPaths = []string{".", "/etc/songplay"}
	configCandidates  = []string{"songplay.yaml", "songplay.yml", "dl.cfg"}
)

// newViper returns a viper instance that also decodes INI files.
func newViper() *viper.Viper {
	codecs := viper.NewCodecRegistry()
	_ = codecs.RegisterCodec("ini", ini.Codec{})
	return viper.NewWithOptions(viper.WithCodecRegistry(codecs))
}

func readConfigFile(v *viper.Viper, path string) (string, error) {
	if path == "" {
		path = findConfigFile(configSearchPaths)
		if path == "" {
			log.Printf("[config] no config file found, using defaults and %s_* environment", EnvPrefix)
			return "", nil
		}
	}

	v.SetConfigFile(path)
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".cfg" || ext == ".ini" {
		v.SetConfigType("ini")
	}
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("reading config %s: %w", path, err)
	}
	return v.ConfigFileUsed(), nil
}

// findConfigFile returns the first candidate present in dirs, in order.
func findConfigFile(dirs []string) string {
	for _, dir := range dirs {
		for _, name := range configCandidates {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Input.SongData == "" || c.Input.LogData == "" {
		return errors.New("input.song_data and input.log_data are required")
	}
	if c.Pipeline.Workers < 0 || c.Pipeline.Workers > MaxWorkers {
		return fmt.Errorf("pipeline.workers must be between 0 and %d, got %d", MaxWorkers, c.Pipeline.Workers)
	}
	if _, err := transform.NewIDSource(c.Pipeline.IDStrategy); err != nil {
		return fmt.Errorf("pipeline.id_strategy: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := validBackend("output.backend", c.Output.Backend); err != nil {
		return err
	}
	if c.Output.Mirror != "" {
		if err := validBackend("output.mirror", c.Output.Mirror); err != nil {
			return err
		}
		if c.Output.Mirror == c.Output.Backend {
			return errors.New("output.mirror must differ from output.backend")
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func validBackend(key, name string) error {
	switch name {
	case BackendParquet, BackendS3, BackendClickHouse, BackendSQLite, BackendMemory:
		return nil
	}
	return fmt.Errorf("%s: unknown backend %q", key, name)
}

// Location resolves pipeline.timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Pipeline.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return nil, fmt.Errorf("pipeline.timezone: %w", err)
	}
	return loc, nil
}
