package config

import (
	"fmt"

	"github.com/danghamo/docidentity/pkg/logger"
)

// Initialize loads configuration and sets up global logger
func Initialize() (*Config, *logger.Logger, error) {
	cfg, err := Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(cfg.Log.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.SetGlobalLogger(appLogger)

	appLogger.WithFields(map[string]interface{}{
		"environment":       cfg.Server.Environment,
		"server_port":       cfg.Server.Port,
		"store_backend":     cfg.Store.Backend,
		"store_collection":  cfg.Store.Collection,
		"store_partitioned": cfg.Store.Partitioned,
		"log_level":         cfg.Log.Level,
	}).Info("Configuration and logger initialized successfully")

	return cfg, appLogger, nil
}

// LoggerConfig converts the log section into a logger.Config
func (l LogConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:        logger.ParseLevel(l.Level),
		Environment:  l.Environment,
		Encoding:     l.Encoding,
		File:         l.File,
		MaxAge:       l.MaxAge,
		RotationTime: l.RotationTime,
	}
}
