package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/couchcryptid/climate-region-etl/internal/adapter/cds"
	"github.com/couchcryptid/climate-region-etl/internal/adapter/csvexport"
	httpadapter "github.com/couchcryptid/climate-region-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/climate-region-etl/internal/adapter/kafka"
	"github.com/couchcryptid/climate-region-etl/internal/adapter/naturalearth"
	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
	"github.com/couchcryptid/climate-region-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client := cds.NewClient(cfg.CDSAPIURL, cfg.CDSAPIKey, cfg.CDSTimeout, cfg.CDSPollInterval, logger)
	retriever := cds.NewFieldService(client, cds.Request{
		Dataset:     cfg.Dataset,
		ProductType: cfg.ProductType,
		Years:       cfg.Years(),
		Months:      cfg.Months,
		Time:        cfg.TimeOfDay,
	}, filepath.Join(cfg.OutputDir, "downloads"))

	loader := naturalearth.NewLoader(cfg.CDSTimeout, logger)
	exporter := csvexport.NewWriter(cfg.OutputDir, logger)

	// Series sink is feature-flagged via KAFKA_BROKERS / KAFKA_ENABLED.
	var publisher pipeline.SeriesPublisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka series sink enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka series sink disabled")
	}

	job := pipeline.New(loader, retriever, exporter, publisher, cfg, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, job, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Operational endpoints run for the duration of the batch.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := job.Run(ctx)
	if runErr != nil {
		logger.Error("job error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
