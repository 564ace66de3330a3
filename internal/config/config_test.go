package config

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowstore/internal/checkpoint"
	"github.com/roach88/flowstore/internal/recorder"
	"github.com/roach88/flowstore/internal/recovery"
	"github.com/roach88/flowstore/internal/store"
	"github.com/roach88/flowstore/internal/testutil"
)

var testKeyHex = strings.Repeat("5a", 32)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, checkpoint.PlatformVersion, cfg.Compatibility.PlatformVersion)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "flowstore.yaml", `
database:
  driver: pgx
  dsn: postgres://flows@localhost/flows
integrity:
  key_hex: `+testKeyHex+`
  accept_legacy_zero_tags: true
compatibility:
  platform_version: 9
  min_platform_version: 7
  installed_apps:
    payments: hash-1
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://flows@localhost/flows", cfg.Database.DSN)
	assert.True(t, cfg.Integrity.AcceptLegacyZeroTags)
	assert.Equal(t, 9, cfg.Compatibility.PlatformVersion)
	assert.Equal(t, 7, cfg.Compatibility.MinPlatformVersion)
	assert.Equal(t, "json", cfg.Log.Format)
	// Absent fields take defaults.
	assert.False(t, cfg.Metadata.AllowPlaceholder)
	assert.Equal(t, "flowstore:checkpoint:stats", cfg.Metrics.RedisKey)
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, "flowstore.cue", `
database: dsn: "/var/lib/flowstore/flows.db"
metadata: allow_placeholder: true
compatibility: installed_apps: {
	payments: "hash-1"
	shipping: "hash-2"
}
metrics: {
	prometheus: true
	redis_addr: "localhost:6379"
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/flowstore/flows.db", cfg.Database.DSN)
	assert.True(t, cfg.Metadata.AllowPlaceholder)
	assert.Len(t, cfg.Compatibility.InstalledApps, 2)
	assert.True(t, cfg.Metrics.Prometheus)
	assert.Equal(t, "localhost:6379", cfg.Metrics.RedisAddr)
	assert.Equal(t, checkpoint.PlatformVersion, cfg.Compatibility.PlatformVersion)
}

func TestLoad_CUESyntaxError(t *testing.T) {
	path := writeFile(t, "broken.cue", `database: {`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeFile(t, "flowstore.toml", "x = 1"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(writeFile(t, "bad.yaml", "database: [unclosed"))
	assert.ErrorContains(t, err, "parse")
}

func TestParse_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown driver", "database: {driver: mysql}", "Driver"},
		{"short key", "integrity: {key_hex: abcd}", "KeyHex"},
		{"non-hex key", "integrity: {key_hex: " + strings.Repeat("zz", 16) + "}", "KeyHex"},
		{"both key sources", "integrity: {key_hex: " + testKeyHex + ", key_file: /tmp/key}", "KeyHex"},
		{"min above current", "compatibility: {platform_version: 5, min_platform_version: 6}", "MinPlatformVersion"},
		{"negative min", "compatibility: {min_platform_version: -1}", "MinPlatformVersion"},
		{"empty app hash", "compatibility: {installed_apps: {payments: ''}}", "InstalledApps"},
		{"bad level", "log: {level: trace}", "Level"},
		{"bad format", "log: {format: xml}", "Format"},
		{"bad redis addr", "metrics: {redis_addr: localhost}", "RedisAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("cfg.yaml", []byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestIntegrity_Key(t *testing.T) {
	_, err := Integrity{}.Key()
	assert.ErrorIs(t, err, ErrNoKey)

	key, err := Integrity{KeyHex: testKeyHex}.Key()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	path := writeFile(t, "key.hex", hex.EncodeToString(bytes.Repeat([]byte{7}, 24))+"\n")
	key, err = Integrity{KeyFile: path}.Key()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{7}, 24), key)
}

func TestIntegrity_Adapter(t *testing.T) {
	a, err := Integrity{KeyHex: testKeyHex}.Adapter()
	require.NoError(t, err)

	b, err := a.Wrap([]byte("state"), []byte("flow"))
	require.NoError(t, err)
	require.NoError(t, a.Verify(checkpoint.RunID("run"), b))

	_, err = Integrity{}.Adapter()
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestCompatibility_Policy(t *testing.T) {
	c := Compatibility{
		PlatformVersion:    8,
		MinPlatformVersion: 6,
		InstalledApps:      map[string]string{"payments": "hash-1"},
	}
	p := c.Policy()
	assert.Equal(t, recovery.Policy{
		PlatformVersion:    8,
		MinPlatformVersion: 6,
		InstalledApps:      map[string]string{"payments": "hash-1"},
	}, p)

	p.InstalledApps["shipping"] = "hash-2"
	assert.Len(t, c.InstalledApps, 1, "policy must not alias config map")
}

func TestLog_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Log{Level: "warn", Format: "json"}.NewLogger(&buf, false)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "flow", "f1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"flow":"f1"`)

	buf.Reset()
	logger, err = Log{Level: "error", Format: "text"}.NewLogger(&buf, true)
	require.NoError(t, err)
	logger.Debug("verbose wins")
	assert.Contains(t, buf.String(), "msg=\"verbose wins\"")

	_, err = Log{Level: "loud"}.NewLogger(&buf, false)
	assert.Error(t, err)
}

func TestMetrics_RecorderDisabled(t *testing.T) {
	rec, closeFn, err := Metrics{}.Recorder(prometheus.NewRegistry(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	assert.IsType(t, checkpoint.NoopRecorder{}, rec)
	assert.NoError(t, closeFn())
}

func TestMetrics_RecorderCountsStoreWrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, closeFn, err := Metrics{Prometheus: true}.Recorder(reg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "flows.db"))
	require.NoError(t, err)
	defer db.Close()
	st := db.Checkpoints(testutil.NewAdapter(t), store.WithRecorder(rec))

	cp := testutil.NewCheckpoint(testutil.InvocationID(1))
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := st.AddMetadata(ctx, tx, testutil.NewMetadata(cp.InvocationID.Value)); err != nil {
			return err
		}
		return st.AddCheckpoint(ctx, tx, testutil.RunID(1), cp, testutil.FlowState(1))
	})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var recorded float64
	for _, mf := range families {
		if mf.GetName() == "flowstore_checkpoint_recorded_total" {
			recorded = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, recorded)
}

func TestMetrics_RecorderRegistrationConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, _, err := Metrics{Prometheus: true}.Recorder(reg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, closeFn, err := Metrics{Prometheus: true}.Recorder(reg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.NoError(t, closeFn())
}

func TestMetrics_RecorderRedisClientClosed(t *testing.T) {
	rec, closeFn, err := Metrics{RedisAddr: "127.0.0.1:1", RedisKey: "k"}.Recorder(nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.IsType(t, &recorder.Redis{}, rec)
	assert.NoError(t, closeFn())
}
