package main

import (
	"os"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/backend"
	"gastos/internal/cli"
	"gastos/internal/config"
	applog "gastos/internal/log"
	"gastos/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting gastos-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	exporter, err := backend.NewFactory(logger).CreateExporter(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize exporter", "error", err)
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPPrefetch)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}

	w := worker.NewExportWorker(exporter, 30*time.Second)
	exitCode := 0
	if err := w.Run(ctx, client); err != nil {
		logger.LogError(ctx, "Export worker stopped", err, applog.OpExport,
			applog.NewFields().WithComponent(applog.ComponentWorker))
		exitCode = 1
	}

	if err := client.Close(); err != nil {
		logger.Warn("AMQP close failed", "error", err)
	}
	logger.Info("Worker shutdown complete")
	os.Exit(exitCode)
}
