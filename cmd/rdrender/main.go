// Command rdrender renders a saved project without the form:
//
//	rdrender <project.rdrproj> <output-path>
//
// The format follows the extension of output-path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"rdreport/internal/config"
	"rdreport/internal/database"
	"rdreport/internal/di"
	"rdreport/internal/metrics"
	"rdreport/internal/render"
	"rdreport/internal/report"
	"rdreport/internal/service"
	"rdreport/internal/storage"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: rdrender <project"+report.ProjectExt+"> <output-path>")
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2]); err != nil {
		var verr *report.ValidationError
		switch {
		case errors.As(err, &verr):
			fmt.Fprintln(os.Stderr, "project is incomplete:", verr)
			os.Exit(3)
		case render.IsError(err, render.KindIO):
			fmt.Fprintln(os.Stderr, "cannot write report:", err)
			os.Exit(4)
		default:
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, projectPath, outPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := di.ProvideLogger(cfg)

	f, err := os.Open(projectPath)
	if err != nil {
		return err
	}
	p, err := report.ReadProject(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", projectPath, err)
	}

	db, err := database.NewDatabase(database.FromAppConfig(cfg))
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := database.AutoMigrate(db, logger); err != nil {
		return err
	}

	store, err := storage.NewStorageFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	recorder, err := metrics.NewRecorder(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	svc, err := service.NewReportServiceFromConfig(cfg, db, store, recorder, logger)
	if err != nil {
		return err
	}

	out, err := svc.RenderTo(ctx, p, "", outPath)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"path":     out.Path,
		"format":   out.Format,
		"size":     out.SizeBytes,
		"checksum": out.Checksum,
	}).Info("Report written")
	fmt.Println(out.Path)
	return nil
}
