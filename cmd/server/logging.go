package main

import (
	"fmt"
	"strings"
	"time"

	"whatsapp-provider/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func configureLogging(cfg *config.Config) error {
	level := strings.TrimSpace(cfg.Log.Level)
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Log.Level, err)
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	if parsed < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	return nil
}
