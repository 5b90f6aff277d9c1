package config

import (
	"os"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	CacheDir    string
	DownloadDir string
	LogLevel    string
	DB          *DBConfig
	Swarm       *SwarmConfig
}

func NewAppConfig() *AppConfig {
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "storage/cache"
	}

	downloadDir := os.Getenv("DOWNLOAD_DIR")
	if downloadDir == "" {
		downloadDir = "storage/downloads"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "debug"
	}

	return &AppConfig{
		CacheDir:    cacheDir,
		DownloadDir: downloadDir,
		LogLevel:    logLevel,
		DB:          NewDBConfig(),
		Swarm:       NewSwarmConfig(),
	}
}

var Main *AppConfig

func init() {
	_ = godotenv.Load()
	Main = NewAppConfig()
}
