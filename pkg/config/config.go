// Package config loads server configuration from an optional YAML file with
// environment-variable overrides. Environment always wins over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AgRenaud/nest/pkg/blobstore"
)

// Config holds the full server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            string `yaml:"port"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	RateLimitPerSec int    `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int    `yaml:"rate_limit_burst"`
}

// DatabaseConfig selects and configures the metadata index backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	// URL is the postgres connection string or the sqlite file path.
	URL string `yaml:"url"`
}

// StorageConfig configures the artifact blob store.
type StorageConfig struct {
	// Type is "fs", "s3" or "gcs".
	Type   string `yaml:"type"`
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint, for MinIO-style deployments.
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// RedisConfig configures the optional listing cache. An empty Addr disables
// caching entirely.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ObservabilityConfig configures logging and trace export.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// OTLPEndpoint is the gRPC collector address. Empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.Server.Host, "NEST_HOST")
	envString(&c.Server.Port, "NEST_PORT")
	envInt64(&c.Server.MaxUploadBytes, "NEST_MAX_UPLOAD_BYTES")
	envString(&c.Database.Driver, "NEST_DB_DRIVER")
	envString(&c.Database.URL, "DATABASE_URL")
	envString(&c.Storage.Type, "NEST_STORAGE_TYPE")
	envString(&c.Storage.Path, "NEST_STORAGE_PATH")
	envString(&c.Storage.Bucket, "NEST_STORAGE_BUCKET")
	envString(&c.Storage.Region, "NEST_STORAGE_REGION")
	envString(&c.Storage.Endpoint, "NEST_STORAGE_ENDPOINT")
	envString(&c.Redis.Addr, "NEST_REDIS_ADDR")
	envString(&c.Redis.Password, "NEST_REDIS_PASSWORD")
	envString(&c.Observability.LogLevel, "LOG_LEVEL")
	envString(&c.Observability.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	envString(&c.Observability.ServiceName, "OTEL_SERVICE_NAME")
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 256 << 20
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 20
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 40
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.URL == "" {
		if c.Database.Driver == "sqlite" {
			c.Database.URL = "nest.db"
		} else {
			c.Database.URL = "postgres://nest@localhost:5432/nest?sslmode=disable"
		}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = string(blobstore.StoreTypeFS)
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "INFO"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "nest"
	}
}

// BlobStore translates the storage section into a blob store factory config.
func (c *Config) BlobStore() blobstore.Config {
	return blobstore.Config{
		Type: blobstore.StoreType(c.Storage.Type),
		Path: c.Storage.Path,
		S3: blobstore.S3StoreConfig{
			Bucket:   c.Storage.Bucket,
			Region:   c.Storage.Region,
			Endpoint: c.Storage.Endpoint,
			Prefix:   c.Storage.Prefix,
		},
		GCS: blobstore.GCSStoreConfig{
			Bucket: c.Storage.Bucket,
			Prefix: c.Storage.Prefix,
		},
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
