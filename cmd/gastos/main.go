package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"gastos/internal/backend"
	"gastos/internal/cache"
	"gastos/internal/cli"
	"gastos/internal/config"
	"gastos/internal/core"
	apphttp "gastos/internal/http"
	applog "gastos/internal/log"
	"gastos/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	components, err := backend.NewFactory(logger).CreateComponents(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}

	reportCache := cache.NewLRUCache[core.Report](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(reportCache)
	cacheManager.StartCleanup(cfg.ReportCacheTTL)

	reports := services.NewReportService(components.Repo, reportCache, logger)
	opts := services.ExpenseServiceOptions{
		Invalidator: reports,
		LinkTTL:     cfg.SignedURLTTL,
		Logger:      logger,
	}
	if components.Publisher != nil {
		opts.Publisher = components.Publisher
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Catalog:  services.NewCatalogService(components.Repo, reports, logger),
		Expenses: services.NewExpenseService(components.Repo, components.Files, opts),
		Reports:  reports,
		Ready:    components.Repo,
	}, apphttp.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting gastos server",
			"port", cfg.Port,
			"blob_backend", cfg.BlobBackend,
			"events", components.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.LogError(ctx, "Server error", err, applog.OpStartup, applog.NewFields())
			exitCode = 1
		}
	}

	cli.GracefulShutdown(logger, 30*time.Second,
		srv.Shutdown,
		func(context.Context) error { cacheManager.Stop(); return nil },
		func(context.Context) error { return components.Cleanup() },
	)
	os.Exit(exitCode)
}
