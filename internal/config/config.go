package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	RunLog   RunLogConfig   `yaml:"runlog" mapstructure:"runlog"`
	Tiles    TilesConfig    `yaml:"tiles" mapstructure:"tiles"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
}

// PathsConfig locates the input and output files.
type PathsConfig struct {
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	OutputDir      string `yaml:"output_dir" mapstructure:"output_dir"`
	Catalog        string `yaml:"catalog" mapstructure:"catalog"`
	Adm0           string `yaml:"adm0" mapstructure:"adm0"`
	Adm1           string `yaml:"adm1" mapstructure:"adm1"`
	ProtectedAreas string `yaml:"protected_areas" mapstructure:"protected_areas"`
	LandUse        string `yaml:"land_use" mapstructure:"land_use"`
	ColourRampDir  string `yaml:"colour_ramp_dir" mapstructure:"colour_ramp_dir"`
}

// AnalysisConfig tunes the per-raster analysis.
type AnalysisConfig struct {
	Percentile            float64   `yaml:"percentile" mapstructure:"percentile"`
	BinFractions          []float64 `yaml:"bin_fractions" mapstructure:"bin_fractions"`
	CentroidTolerance     float64   `yaml:"centroid_tolerance" mapstructure:"centroid_tolerance"`
	CentroidMaxIterations int       `yaml:"centroid_max_iterations" mapstructure:"centroid_max_iterations"`
	DiscardFraction       float64   `yaml:"discard_fraction" mapstructure:"discard_fraction"`
	LandUseBufferDegrees  float64   `yaml:"landuse_buffer_degrees" mapstructure:"landuse_buffer_degrees"`
	NullFractionWarning   float64   `yaml:"null_fraction_warning" mapstructure:"null_fraction_warning"`
}

// StoreConfig configures the remote blob store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Root        string `yaml:"root" mapstructure:"root"`
	FTPURL      string `yaml:"ftp_url" mapstructure:"ftp_url"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	RedisURL    string `yaml:"redis_url" mapstructure:"redis_url"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix"`
}

// DatabaseConfig points at the PostgreSQL database holding PostGIS layers
// and exported results.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RunLogConfig locates the run log database.
type RunLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TilesConfig configures tile generation and upload.
type TilesConfig struct {
	Command           string   `yaml:"command" mapstructure:"command"`
	ColourCommand     string   `yaml:"colour_command" mapstructure:"colour_command"`
	Args              []string `yaml:"args" mapstructure:"args"`
	ColourRamp        string   `yaml:"colour_ramp" mapstructure:"colour_ramp"`
	Palettes          string   `yaml:"palettes" mapstructure:"palettes"`
	Stops             int      `yaml:"stops" mapstructure:"stops"`
	EstimateZoom      bool     `yaml:"estimate_zoom" mapstructure:"estimate_zoom"`
	UploadConcurrency int      `yaml:"upload_concurrency" mapstructure:"upload_concurrency"`
	UploadRate        float64  `yaml:"upload_rate" mapstructure:"upload_rate"`
}

// ServerConfig configures the preview API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RetryConfig configures retries of remote store operations.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Load reads configuration from a .env file, config.yaml and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.data_dir", "data_inputs")
	v.SetDefault("paths.output_dir", "data_outputs")
	v.SetDefault("paths.catalog", filepath.Join("catalogs", "dataset_catalog.csv"))
	v.SetDefault("paths.adm0", filepath.Join("data_inputs", "vector", "admin", "adm0.gpkg"))
	v.SetDefault("paths.adm1", filepath.Join("data_inputs", "vector", "admin", "adm1.gpkg"))
	v.SetDefault("paths.protected_areas", filepath.Join("data_inputs", "vector", "WDPA", "protected_areas.gpkg"))
	v.SetDefault("paths.land_use", filepath.Join("data_inputs", "raster", "land_use", "land_use.tif"))
	v.SetDefault("paths.colour_ramp_dir", "")
	v.SetDefault("analysis.percentile", 99.0)
	v.SetDefault("analysis.bin_fractions", []float64{0, 0.25, 0.5, 0.75, 1})
	v.SetDefault("analysis.centroid_tolerance", 1e-3)
	v.SetDefault("analysis.centroid_max_iterations", 10)
	v.SetDefault("analysis.discard_fraction", 0.01)
	v.SetDefault("analysis.landuse_buffer_degrees", 1.0)
	v.SetDefault("analysis.null_fraction_warning", 0.1)
	v.SetDefault("store.driver", "fs")
	v.SetDefault("store.root", filepath.Join("data_outputs", "remote"))
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("runlog.path", filepath.Join("data_outputs", "runlog.db"))
	v.SetDefault("tiles.command", "gdal2tiles.py")
	v.SetDefault("tiles.colour_command", "gdaldem")
	v.SetDefault("tiles.colour_ramp", "viridis")
	v.SetDefault("tiles.stops", 1000)
	v.SetDefault("tiles.upload_concurrency", 8)
	v.SetDefault("tiles.upload_rate", 20.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by one command.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "analyze":
		errs = append(errs, c.validateAnalysis()...)
		errs = append(errs, c.validateStore()...)
	case "tiles":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateTiles()...)
	case "run":
		errs = append(errs, c.validateAnalysis()...)
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateTiles()...)
	case "export":
		if c.Database.URL == "" {
			errs = append(errs, "database.url is required")
		}
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAnalysis() []string {
	var errs []string
	a := c.Analysis
	if c.Paths.Catalog == "" {
		errs = append(errs, "paths.catalog is required")
	}
	if c.Paths.Adm0 == "" {
		errs = append(errs, "paths.adm0 is required")
	}
	if a.Percentile <= 0 || a.Percentile > 100 {
		errs = append(errs, "analysis.percentile must be in (0, 100]")
	}
	if len(a.BinFractions) < 2 {
		errs = append(errs, "analysis.bin_fractions needs at least two values")
	}
	for i := 1; i < len(a.BinFractions); i++ {
		if a.BinFractions[i] <= a.BinFractions[i-1] {
			errs = append(errs, "analysis.bin_fractions must be strictly increasing")
			break
		}
	}
	if a.DiscardFraction < 0 || a.DiscardFraction >= 1 {
		errs = append(errs, "analysis.discard_fraction must be in [0, 1)")
	}
	if a.CentroidTolerance <= 0 {
		errs = append(errs, "analysis.centroid_tolerance must be > 0")
	}
	if a.CentroidMaxIterations < 1 {
		errs = append(errs, "analysis.centroid_max_iterations must be >= 1")
	}
	return errs
}

func (c *Config) validateStore() []string {
	s := c.Store
	switch s.Driver {
	case "fs":
		if s.Root == "" {
			return []string{"store.root is required for the fs driver"}
		}
	case "ftp":
		if s.FTPURL == "" {
			return []string{"store.ftp_url is required for the ftp driver"}
		}
	case "postgres":
		if s.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	case "redis":
		if s.RedisURL == "" {
			return []string{"store.redis_url is required for the redis driver"}
		}
	default:
		return []string{fmt.Sprintf("store.driver %q must be fs, ftp, postgres or redis", s.Driver)}
	}
	return nil
}

func (c *Config) validateTiles() []string {
	var errs []string
	t := c.Tiles
	if t.Command == "" {
		errs = append(errs, "tiles.command is required")
	}
	if t.Stops < 2 {
		errs = append(errs, "tiles.stops must be >= 2")
	}
	if t.UploadConcurrency < 1 || t.UploadConcurrency > 64 {
		errs = append(errs, "tiles.upload_concurrency must be between 1 and 64")
	}
	return errs
}

// ErrLogLevel is returned for an unparseable log level.
var ErrLogLevel = eris.New("config: invalid log level")

// NewLogger builds the application logger. The console format uses the
// development encoder; anything else logs JSON.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrapf(ErrLogLevel, "config: parse log level %q", cfg.Level)
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}
