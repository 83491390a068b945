package database

import (
	"fmt"
	"strconv"
	"time"

	"whatsapp-provider/internal/config"
	"whatsapp-provider/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database and migrates every model.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Driver, err)
	}
	logrus.WithField("driver", cfg.Driver).Info("Connected to database")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a sqlite file without migrating it.
func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logrus.Debug("Database migration completed")
	return nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		dsn := cfg.URL
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
				cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func logLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// SyncSettings reconciles provider settings with the system_settings table.
// A non-empty value stored in the database wins; otherwise the environment
// value is persisted so the next start sees it.
func SyncSettings(db *gorm.DB, cfg *config.Config) error {
	settings := []struct {
		Key   string
		Value *string
	}{
		{"META_APP_ID", &cfg.Meta.AppID},
		{"META_APP_SECRET", &cfg.Meta.AppSecret},
		{"META_CONFIGURATION_ID", &cfg.Meta.ConfigurationID},
		{"META_API_VERSION", &cfg.Meta.APIVersion},
		{"VERIFY_TOKEN", &cfg.Meta.WebhookVerifyToken},
		{"JANUS_WS_URL", &cfg.Janus.WSURL},
		{"JANUS_ADMIN_URL", &cfg.Janus.AdminURL},
		{"TURN_SERVER_URL", &cfg.Janus.TURNURL},
		{"TURN_USERNAME", &cfg.Janus.TURNUsername},
		{"TURN_CREDENTIAL", &cfg.Janus.TURNCredential},
	}

	for _, s := range settings {
		if err := syncSetting(db, s.Key, s.Value); err != nil {
			return err
		}
	}

	durations := []struct {
		Key   string
		Value *time.Duration
	}{
		{"OAUTH_TOKEN_EXPIRY_SECONDS", &cfg.OAuth.AccessExpiry},
		{"OAUTH_REFRESH_EXPIRY_SECONDS", &cfg.OAuth.RefreshExpiry},
	}
	for _, d := range durations {
		raw := strconv.Itoa(int(d.Value.Seconds()))
		if err := syncSetting(db, d.Key, &raw); err != nil {
			return err
		}
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			*d.Value = time.Duration(seconds) * time.Second
		}
	}

	logrus.Info("System settings synchronized from database")
	return nil
}

func syncSetting(db *gorm.DB, key string, value *string) error {
	var setting models.SystemSetting
	err := db.Where("key = ?", key).Limit(1).Find(&setting).Error
	if err != nil {
		return fmt.Errorf("read setting %s: %w", key, err)
	}
	if setting.Key != "" {
		if setting.Value != "" {
			*value = setting.Value
		}
		return nil
	}
	if *value == "" {
		return nil
	}
	if err := SaveSetting(db, key, *value); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// SaveSetting upserts a single provider setting.
func SaveSetting(db *gorm.DB, key, value string) error {
	return db.Save(&models.SystemSetting{Key: key, Value: value}).Error
}
