package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config holds all configuration values for an ingestion run.
type Config struct {
	M2M        M2MConfig       `mapstructure:"m2m"`
	Search     SearchConfig    `mapstructure:"search"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Partitions PartitionConfig `mapstructure:"partitions"`
	Download   DownloadConfig  `mapstructure:"download"`
	Ingest     IngestConfig    `mapstructure:"ingest"`
	Archive    ArchiveConfig   `mapstructure:"archive"`
	Server     ServerConfig    `mapstructure:"server"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// M2MConfig configures the catalog API client.
type M2MConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Username     string        `mapstructure:"username"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollCeiling  time.Duration `mapstructure:"poll_ceiling"`
	PageSize     int           `mapstructure:"page_size"`
}

// SearchConfig defines the scene filter for a run.
type SearchConfig struct {
	AOIPath       string   `mapstructure:"aoi_path"`
	DateStart     string   `mapstructure:"date_start"`
	DateEnd       string   `mapstructure:"date_end"`
	MaxCloudCover float64  `mapstructure:"max_cloud_cover"`
	Datasets      []string `mapstructure:"datasets"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Schema   string `mapstructure:"schema"`
}

// PartitionConfig bounds the provisioned acquisition-year range.
type PartitionConfig struct {
	StartYear int `mapstructure:"start_year"`
	EndYear   int `mapstructure:"end_year"`
}

// DownloadConfig controls the download worker pool.
type DownloadConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	TempDir     string `mapstructure:"temp_dir"`
}

// IngestConfig controls the raster staging step.
type IngestConfig struct {
	TileSize string `mapstructure:"tile_size"`
	SRID     int    `mapstructure:"srid"`
}

// ArchiveConfig configures optional raw-file archival to object storage.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

// LoggingConfig configures console and rotating file output.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadConfig reads config.yaml (path optional), layers .env secrets over it,
// and validates the result. A missing config file is not an error; defaults
// plus environment variables are enough for a minimal run.
func LoadConfig(path string) (*Config, error) {
	// .env is optional and only used for local development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("m2m.base_url", "https://m2m.cr.usgs.gov/api/api/json/stable/")
	v.SetDefault("m2m.timeout", "60s")
	v.SetDefault("m2m.rate_interval", "500ms")
	v.SetDefault("m2m.max_attempts", 3)
	v.SetDefault("m2m.backoff_base", "2s")
	v.SetDefault("m2m.backoff_cap", "30s")
	v.SetDefault("m2m.poll_interval", "20s")
	v.SetDefault("m2m.poll_ceiling", "10m")
	v.SetDefault("m2m.page_size", 100)
	v.SetDefault("search.max_cloud_cover", 30.0)
	v.SetDefault("search.datasets", []string{"landsat_ot_c2_l2"})
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.schema", "bronze")
	v.SetDefault("partitions.start_year", 1982)
	v.SetDefault("partitions.end_year", 2031)
	v.SetDefault("download.concurrency", 5)
	v.SetDefault("download.temp_dir", os.TempDir())
	v.SetDefault("ingest.tile_size", "512x512")
	v.SetDefault("ingest.srid", 4326)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "landsat-raw")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", "8081")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
}

// applyEnvOverrides lets environment variables win over file values for
// credentials and connection settings.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("M2M_USERNAME"); v != "" {
		cfg.M2M.Username = v
	}
	if v := os.Getenv("M2M_TOKEN"); v != "" {
		cfg.M2M.Token = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
}

// Validate checks that required fields are present and bounds are sane.
func (c *Config) Validate() error {
	if c.M2M.Username == "" || c.M2M.Token == "" {
		return fmt.Errorf("m2m credentials are incomplete")
	}
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
		return fmt.Errorf("database configuration is incomplete")
	}
	if c.Search.DateStart == "" || c.Search.DateEnd == "" {
		return fmt.Errorf("search date range is incomplete")
	}
	if len(c.Search.Datasets) == 0 {
		return fmt.Errorf("at least one dataset must be configured")
	}
	if c.Partitions.StartYear >= c.Partitions.EndYear {
		return fmt.Errorf("partition year range is invalid: [%d, %d)", c.Partitions.StartYear, c.Partitions.EndYear)
	}
	if c.Download.Concurrency < 1 {
		return fmt.Errorf("download concurrency must be at least 1")
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.AccessKey == "" || c.Archive.SecretKey == "" || c.Archive.Bucket == "") {
		return fmt.Errorf("archive configuration is incomplete")
	}
	return nil
}

// ConnectDatabase initializes a GORM database connection to PostgreSQL.
func ConnectDatabase(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}
