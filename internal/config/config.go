package config

import (
	"os"

	"github.com/dukerupert/photobackup/internal/backup"
)

// Config holds all runtime configuration for the photo backup service.
type Config struct {
	Port      string
	DBPath    string
	PhotosDir string
	LogLevel  string
	LogFormat string
	Backup    backup.Config
}

func Load() *Config {
	return &Config{
		Port:      getEnv("PHOTOBACKUP_PORT", "8080"),
		DBPath:    getEnv("PHOTOBACKUP_DB_PATH", "photobackup.db"),
		PhotosDir: getEnv("PHOTOS_DIR", "./photos"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		Backup: backup.Config{
			LocalPath: getEnv("BACKUP_LOCAL_PATH", ""),
			S3: backup.S3Config{
				Endpoint:  getEnv("S3_ENDPOINT", ""),
				Bucket:    getEnv("S3_BUCKET", ""),
				Region:    getEnv("S3_REGION", "us-east-1"),
				AccessKey: getEnv("S3_ACCESS_KEY", ""),
				SecretKey: getEnv("S3_SECRET_KEY", ""),
			},
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
