package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Database DatabaseConfig
	Import   ImportConfig
	Logging  LoggingConfig
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable require verify-ca verify-full"`
}

// ImportConfig tunes the import pipeline. BatchSize is rows per multi-row
// INSERT; DownloadDir holds acquired archives until the import finishes.
type ImportConfig struct {
	DownloadDir  string        `validate:"required"`
	FetchTimeout time.Duration `validate:"gt=0"`
	BatchSize    int           `validate:"gt=0"`
}

type LoggingConfig struct {
	Level    string
	FilePath string `validate:"required"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "transitbridge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Import: ImportConfig{
			DownloadDir:  getEnv("GTFS_DOWNLOAD_DIR", "/tmp/transitbridge-gtfs"),
			FetchTimeout: getDurationEnv("GTFS_FETCH_TIMEOUT", 5*time.Minute),
			BatchSize:    getIntEnv("GTFS_IMPORT_BATCH_SIZE", 1000),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "transitbridge.log"),
		},
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil && n != 0 {
			return n
		}
	}
	return defaultValue
}
