// Package di собирает зависимости приложения для fx.
package di

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"rdreport/internal/config"
	"rdreport/internal/database"
	"rdreport/internal/metrics"
	"rdreport/internal/server"
	"rdreport/internal/service"
	"rdreport/internal/storage"
	"rdreport/internal/terminal"
)

// Module поставщики зависимостей формы отчета: конфигурация, логгер,
// БД истории, хранилище, метрики, сервис и оба контроллера формы
var Module = fx.Options(
	fx.NopLogger,
	fx.Provide(
		ProvideConfig,
		ProvideLogger,
		provideDatabase,
		provideRegistry,
		func(r *prometheus.Registry) prometheus.Registerer { return r },
		func(r *prometheus.Registry) prometheus.Gatherer { return r },
		metrics.NewRecorder,
		storage.NewStorageFromConfig,
		service.NewReportServiceFromConfig,
		fx.Annotate(server.NewServer, fx.As(new(server.HTTPServer))),
		provideController,
	),
)

// ProvideConfig загружает и предоставляет конфигурацию приложения
func ProvideConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// ProvideLogger создает и настраивает логгер на основе конфигурации
func ProvideLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	// Устанавливаем уровень логирования
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Неверный уровень логирования, используется info")
	}
	logger.SetLevel(level)

	// Устанавливаем формат вывода
	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	logger.WithField("config", cfg.String()).Debug("Конфигурация загружена")
	return logger
}

// provideDatabase открывает БД истории, создает таблицы и закрывает
// соединение при остановке
func provideDatabase(lc fx.Lifecycle, cfg config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := database.NewDatabase(database.FromAppConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db, logger); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

// provideRegistry реестр метрик процесса и сервиса
func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideController(svc service.ReportService, logger *logrus.Logger) *terminal.Controller {
	return terminal.NewController(svc, terminal.NewSurveyDriver(os.Stdout), logger)
}
