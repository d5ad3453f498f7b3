package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "8MiB", config.Log.FileSize)
	assert.EqualValues(t, 8*1024*1024, config.FileSizeBytes())
	assert.Equal(t, 128, config.Tree.PageMaxSize)
	assert.Equal(t, 8, config.Transactions.Permits)
	assert.Equal(t, 30*time.Second, config.GC.Interval)
	assert.Empty(t, ValidateConfig(config))
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
dir: /tmp/db
log:
  fileSize: 1MiB
  syncOnEndWrite: true
tree:
  pageMaxSize: 64
transactions:
  permits: 2
  replayMaxAge: 500ms
gc:
  interval: 1m
  minUtilization: 40
logging:
  level: debug
`)

	config, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/db", config.Dir)
	assert.EqualValues(t, 1024*1024, config.FileSizeBytes())
	assert.True(t, config.Log.SyncOnEndWrite)
	assert.Equal(t, 64, config.Tree.PageMaxSize)
	assert.Equal(t, 32, config.Tree.DupPageMaxSize, "unset fields keep defaults")
	assert.Equal(t, 2, config.Transactions.Permits)
	assert.Equal(t, 500*time.Millisecond, config.Transactions.ReplayMaxAge)
	assert.Equal(t, time.Minute, config.GC.Interval)
	assert.Equal(t, 40, config.GC.MinUtilization)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestParseConfigEnvSubstitution(t *testing.T) {
	t.Setenv("COWDB_TEST_DIR", "/srv/cowdb")

	config, err := ParseConfig([]byte("dir: ${COWDB_TEST_DIR}\nlogging:\n  level: ${COWDB_TEST_LEVEL:-warn}\n"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/cowdb", config.Dir)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestParseConfigInvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte("tree: [unterminated"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dir: /data\n"), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", config.Dir)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{"empty dir", func(c *Config) { c.Dir = "" }, "dir"},
		{"tiny file", func(c *Config) { c.Log.FileSize = "1KiB" }, "log.fileSize"},
		{"bad size", func(c *Config) { c.Log.FileSize = "lots" }, "log.fileSize"},
		{"small page", func(c *Config) { c.Tree.PageMaxSize = 2 }, "tree.pageMaxSize"},
		{"no permits", func(c *Config) { c.Transactions.Permits = 0 }, "transactions.permits"},
		{"utilization", func(c *Config) { c.GC.MinUtilization = 95 }, "gc.minUtilization"},
		{"bloom rate", func(c *Config) { c.GC.BloomFalsePositiveRate = 1 }, "gc.bloomFalsePositiveRate"},
		{"level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)

			errs := ValidateConfig(config)
			require.Len(t, errs, 1)
			var verr ValidationError
			require.ErrorAs(t, errs[0], &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestConvertOptions(t *testing.T) {
	config, err := ParseConfig([]byte(`
log:
  fileSize: 64KiB
  cacheSize: 16
tree:
  pageMaxSize: 48
  dupPageMaxSize: 12
transactions:
  permits: 3
  replayMaxCount: 5
gc:
  minUtilization: 30
  filesToKeep: 4
  utilizationFromScratch: true
`))
	require.NoError(t, err)
	logger := config.NewLogger()

	opts := config.EnvOptions(logger)
	assert.EqualValues(t, 64*1024, opts.Log.FileSize)
	assert.Equal(t, 16, opts.Log.CacheSize)
	assert.Equal(t, 48, opts.Tree.PageMaxSize)
	assert.Equal(t, 12, opts.Tree.DupPageMaxSize)
	assert.Equal(t, 3, opts.Permits)
	assert.Equal(t, 5, opts.ReplayMaxCount)
	assert.Equal(t, 2*time.Second, opts.ReplayMaxAge)
	assert.True(t, opts.DowngradeAfterFlush)
	assert.Equal(t, logger, opts.Logger)

	gcOpts := config.GCOptions(logger)
	assert.Equal(t, 30, gcOpts.MinUtilization)
	assert.Equal(t, 4, gcOpts.FilesToKeep)
	assert.True(t, gcOpts.UtilizationFromScratch)
	assert.Equal(t, 0.01, gcOpts.BloomFalsePositiveRate)
	assert.Equal(t, 30*time.Second, gcOpts.Interval)
}
