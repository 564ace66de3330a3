// Package config loads flowstore configuration from YAML or CUE files.
//
// Fields absent from the file take the values from Default. The merged
// result is validated before it is returned, so a *Config from Load is
// always usable.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flowstore/internal/blob"
	"github.com/roach88/flowstore/internal/checkpoint"
	"github.com/roach88/flowstore/internal/recorder"
	"github.com/roach88/flowstore/internal/recovery"
)

// Config is the complete flowstore configuration.
type Config struct {
	Database      Database      `yaml:"database" json:"database"`
	Integrity     Integrity     `yaml:"integrity" json:"integrity"`
	Metadata      Metadata      `yaml:"metadata" json:"metadata"`
	Compatibility Compatibility `yaml:"compatibility" json:"compatibility"`
	Log           Log           `yaml:"log" json:"log"`
	Metrics       Metrics       `yaml:"metrics" json:"metrics"`
}

// Database selects the backend.
type Database struct {
	Driver string `yaml:"driver" json:"driver" validate:"oneof=sqlite3 pgx"`
	DSN    string `yaml:"dsn" json:"dsn" validate:"required"`
}

// Integrity holds the blob HMAC key. At most one of KeyHex and KeyFile
// may be set; commands that read or write blobs require one.
type Integrity struct {
	KeyHex               string `yaml:"key_hex" json:"key_hex" validate:"omitempty,hexadecimal,min=32,excluded_with=KeyFile"`
	KeyFile              string `yaml:"key_file" json:"key_file"`
	AcceptLegacyZeroTags bool   `yaml:"accept_legacy_zero_tags" json:"accept_legacy_zero_tags"`
}

// Metadata controls checkpoint creation without a flow_metadata row.
type Metadata struct {
	AllowPlaceholder bool `yaml:"allow_placeholder" json:"allow_placeholder"`
}

// Compatibility is the recovery policy.
type Compatibility struct {
	PlatformVersion    int               `yaml:"platform_version" json:"platform_version" validate:"gte=1"`
	MinPlatformVersion int               `yaml:"min_platform_version" json:"min_platform_version" validate:"gte=0,ltefield=PlatformVersion"`
	InstalledApps      map[string]string `yaml:"installed_apps" json:"installed_apps" validate:"dive,keys,required,endkeys,required"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

// Metrics selects performance recorders. Both may be enabled.
type Metrics struct {
	Prometheus bool   `yaml:"prometheus" json:"prometheus"`
	RedisAddr  string `yaml:"redis_addr" json:"redis_addr" validate:"omitempty,hostname_port"`
	RedisKey   string `yaml:"redis_key" json:"redis_key"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: Database{
			Driver: "sqlite3",
			DSN:    "flowstore.db",
		},
		Compatibility: Compatibility{
			PlatformVersion: checkpoint.PlatformVersion,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			RedisKey: "flowstore:checkpoint:stats",
		},
	}
}

// Load reads path, choosing the decoder from its extension (.yaml, .yml
// or .cue).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes data as the format implied by name's extension.
func Parse(name string, data []byte) (*Config, error) {
	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		if err := v.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fillDefaults copies Default values into zero fields.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Database.DSN == "" {
		c.Database.DSN = d.Database.DSN
	}
	if c.Compatibility.PlatformVersion == 0 {
		c.Compatibility.PlatformVersion = d.Compatibility.PlatformVersion
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.RedisKey == "" {
		c.Metrics.RedisKey = d.Metrics.RedisKey
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ErrNoKey is returned by Key when no integrity key is configured.
var ErrNoKey = errors.New("no integrity key configured (set integrity.key_hex or integrity.key_file)")

// Key returns the configured HMAC key bytes.
func (i Integrity) Key() ([]byte, error) {
	switch {
	case i.KeyHex != "":
		return blob.KeyFromHex(i.KeyHex)
	case i.KeyFile != "":
		return blob.LoadKeyFile(i.KeyFile)
	default:
		return nil, ErrNoKey
	}
}

// Adapter builds the blob adapter for the configured key.
func (i Integrity) Adapter() (*blob.Adapter, error) {
	key, err := i.Key()
	if err != nil {
		return nil, err
	}
	return blob.NewAdapter(key, blob.WithLegacyZeroTags(i.AcceptLegacyZeroTags))
}

// Policy converts the section into a recovery policy.
func (c Compatibility) Policy() recovery.Policy {
	apps := make(map[string]string, len(c.InstalledApps))
	for name, hash := range c.InstalledApps {
		apps[name] = hash
	}
	return recovery.Policy{
		PlatformVersion:    c.PlatformVersion,
		MinPlatformVersion: c.MinPlatformVersion,
		InstalledApps:      apps,
	}
}

// Recorder builds the performance recorder for a process that writes
// checkpoints. Prometheus collectors go to reg. The returned close func
// releases the Redis client, if any, and is never nil.
func (m Metrics) Recorder(reg prometheus.Registerer, logger *slog.Logger) (checkpoint.PerformanceRecorder, func() error, error) {
	var recs []checkpoint.PerformanceRecorder
	closeFn := func() error { return nil }

	if m.Prometheus {
		p, err := recorder.NewPrometheus(reg)
		if err != nil {
			return nil, closeFn, err
		}
		recs = append(recs, p)
	}
	if m.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: m.RedisAddr})
		closeFn = client.Close
		recs = append(recs, recorder.NewRedis(client,
			recorder.WithRedisKey(m.RedisKey),
			recorder.WithRedisLogger(logger),
		))
	}
	return recorder.Combine(recs...), closeFn, nil
}

// NewLogger builds a logger writing to w. Verbose forces debug level.
func (l Log) NewLogger(w io.Writer, verbose bool) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
