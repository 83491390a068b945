package database

import (
	"fmt"

	"whatsapp-provider/internal/models"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CopyAll copies every table from src into dst, parents first.
// Each table is written in its own transaction so one failure does not
// roll back tables that already copied.
func CopyAll(src, dst *gorm.DB) error {
	var result error
	steps := []func() error{
		func() error { return copyTable[models.SystemSetting](src, dst, "system_settings") },
		func() error { return copyTable[models.SubscriptionPlan](src, dst, "subscription_plans") },
		func() error { return copyTable[models.Customer](src, dst, "customers") },
		func() error { return copyTable[models.DailyUsageMetrics](src, dst, "daily_usage_metrics") },
		func() error { return copyTable[models.MonthlyUsageSummary](src, dst, "monthly_usage_summaries") },
		func() error { return copyTable[models.CustomerInvoice](src, dst, "customer_invoices") },
		func() error { return copyTable[models.EmbeddedSignupSession](src, dst, "embedded_signup_sessions") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func copyTable[T any](src, dst *gorm.DB, table string) error {
	log := logrus.WithField("table", table)
	log.Info("Migrating table")

	var rows []T
	if err := src.Find(&rows).Error; err != nil {
		return fmt.Errorf("read %s: %w", table, err)
	}
	if len(rows) == 0 {
		log.Info("Nothing to migrate")
		return nil
	}

	err := dst.Transaction(func(tx *gorm.DB) error {
		// Hooks would recompute derived totals; copy rows as stored.
		return tx.Session(&gorm.Session{SkipHooks: true}).CreateInBatches(&rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	log.WithField("rows", len(rows)).Info("Migrated table")
	return nil
}

// SyncSequences resets postgres serial sequences after rows were copied with explicit ids.
func SyncSequences(db *gorm.DB) error {
	tables := []string{
		"daily_usage_metrics",
		"monthly_usage_summaries",
		"customer_invoices",
		"embedded_signup_sessions",
	}

	var result error
	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			result = multierror.Append(result, fmt.Errorf("sync sequence for %s: %w", table, err))
			continue
		}
		logrus.WithField("table", table).Info("Synced sequence")
	}
	return result
}
