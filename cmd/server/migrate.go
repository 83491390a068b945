package main

import (
	"whatsapp-provider/internal/config"
	"whatsapp-provider/internal/database"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateSource string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		if _, err := database.Open(cfg.Database); err != nil {
			logrus.WithError(err).Fatal("Migration failed")
		}
		logrus.Info("Schema is up to date")
	},
}

var migrateDataCmd = &cobra.Command{
	Use:   "migrate-data",
	Short: "Copy every table from a sqlite file into the configured postgres database",
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		if cfg.Database.Driver != "postgres" {
			logrus.WithField("driver", cfg.Database.Driver).Fatal("Destination must be postgres")
		}

		src, err := database.OpenSQLite(migrateSource)
		if err != nil {
			logrus.WithError(err).WithField("path", migrateSource).Fatal("Failed to open sqlite source")
		}
		logrus.WithField("path", migrateSource).Info("Connected to sqlite source")

		dst, err := database.Open(cfg.Database)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to open destination database")
		}

		logrus.Info("Starting data migration")
		if err := database.CopyAll(src, dst); err != nil {
			logrus.WithError(err).Error("Some tables failed to migrate")
		}
		if err := database.SyncSequences(dst); err != nil {
			logrus.WithError(err).Error("Failed to sync sequences")
		}
		logrus.Info("Data migration finished")
	},
}

var syncSequencesCmd = &cobra.Command{
	Use:   "sync-sequences",
	Short: "Reset postgres id sequences to the current maximum id",
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		db, err := database.Open(cfg.Database)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to open database")
		}
		if err := database.SyncSequences(db); err != nil {
			logrus.WithError(err).Fatal("Failed to sync sequences")
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, migrateDataCmd, syncSequencesCmd)
	migrateDataCmd.Flags().StringVar(&migrateSource, "from", "./provider.db", "Path of the sqlite database to copy from")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}
