package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data_inputs", cfg.Paths.DataDir)
	assert.Equal(t, "data_outputs", cfg.Paths.OutputDir)
	assert.Equal(t, filepath.Join("catalogs", "dataset_catalog.csv"), cfg.Paths.Catalog)
	assert.InDelta(t, 99, cfg.Analysis.Percentile, 1e-9)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, cfg.Analysis.BinFractions)
	assert.InDelta(t, 1e-3, cfg.Analysis.CentroidTolerance, 1e-12)
	assert.Equal(t, 10, cfg.Analysis.CentroidMaxIterations)
	assert.InDelta(t, 0.01, cfg.Analysis.DiscardFraction, 1e-12)
	assert.InDelta(t, 1.0, cfg.Analysis.LandUseBufferDegrees, 1e-12)
	assert.InDelta(t, 0.1, cfg.Analysis.NullFractionWarning, 1e-12)
	assert.Equal(t, "fs", cfg.Store.Driver)
	assert.Equal(t, int32(4), cfg.Database.MaxConns)
	assert.Equal(t, filepath.Join("data_outputs", "runlog.db"), cfg.RunLog.Path)
	assert.Equal(t, "gdal2tiles.py", cfg.Tiles.Command)
	assert.Equal(t, "viridis", cfg.Tiles.ColourRamp)
	assert.Equal(t, 1000, cfg.Tiles.Stops)
	assert.Equal(t, 8, cfg.Tiles.UploadConcurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)

	for _, mode := range []string{"analyze", "tiles", "run", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: redis
  redis_url: redis://localhost:6379/0
log:
  level: debug
  format: console
analysis:
  bin_fractions: [0, 0.5, 1]
tiles:
  args: ["--webviewer=none"]
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []float64{0, 0.5, 1}, cfg.Analysis.BinFractions)
	assert.Equal(t, []string{"--webviewer=none"}, cfg.Tiles.Args)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Analysis.CentroidMaxIterations)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("SDM_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SDM_SERVER_PORT=3000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("SDM_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestNewLoggerConsole(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNewLoggerJSON(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.True(t, errors.Is(err, ErrLogLevel))
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Paths.Catalog = "catalog.csv"
	cfg.Paths.Adm0 = "adm0.gpkg"
	cfg.Analysis.Percentile = 99
	cfg.Analysis.BinFractions = []float64{0, 0.25, 0.5, 0.75, 1}
	cfg.Analysis.CentroidTolerance = 1e-3
	cfg.Analysis.CentroidMaxIterations = 10
	cfg.Analysis.DiscardFraction = 0.01
	cfg.Store.Driver = "fs"
	cfg.Store.Root = "/tmp/remote"
	cfg.Tiles.Command = "gdal2tiles.py"
	cfg.Tiles.Stops = 1000
	cfg.Tiles.UploadConcurrency = 8
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAnalysis(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("analyze"))

	cfg.Paths.Catalog = ""
	cfg.Analysis.BinFractions = []float64{0, 0.5, 0.5}
	cfg.Analysis.Percentile = 0
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paths.catalog is required")
	assert.Contains(t, err.Error(), "bin_fractions must be strictly increasing")
	assert.Contains(t, err.Error(), "analysis.percentile")
}

func TestValidateStoreDrivers(t *testing.T) {
	tests := []struct {
		driver string
		set    func(*StoreConfig)
		want   string
	}{
		{"fs", func(s *StoreConfig) { s.Root = "" }, "store.root"},
		{"ftp", func(*StoreConfig) {}, "store.ftp_url"},
		{"postgres", func(*StoreConfig) {}, "store.database_url"},
		{"redis", func(*StoreConfig) {}, "store.redis_url"},
		{"s3", func(*StoreConfig) {}, "must be fs, ftp, postgres or redis"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := validDefaults()
			cfg.Store.Driver = tt.driver
			tt.set(&cfg.Store)
			err := cfg.Validate("analyze")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateTiles(t *testing.T) {
	cfg := validDefaults()
	cfg.Tiles.UploadConcurrency = 0
	err := cfg.Validate("tiles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload_concurrency must be between 1 and 64")

	cfg.Tiles.UploadConcurrency = 64
	assert.NoError(t, cfg.Validate("tiles"))
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateExport(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")

	cfg.Database.URL = "postgres://localhost/sdm"
	assert.NoError(t, cfg.Validate("export"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
