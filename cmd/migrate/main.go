package main

import (
	"github.com/sirupsen/logrus"

	"rdreport/internal/config"
	"rdreport/internal/database"
	"rdreport/internal/di"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := di.ProvideLogger(cfg)

	// Create database connection
	dbCfg := database.FromAppConfig(cfg)
	dbCfg.Debug = true

	db, err := database.NewDatabase(dbCfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// Run migrations
	if err := database.AutoMigrate(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	logger.WithField("driver", dbCfg.Driver).Info("Migrations completed successfully")
}
