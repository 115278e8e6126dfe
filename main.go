package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n0rdy/qakka/api"
	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/jobs/maintenance"
	"github.com/n0rdy/qakka/metrics"
	"github.com/n0rdy/qakka/payloads"
	"github.com/n0rdy/qakka/services"
	"github.com/n0rdy/qakka/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath, flagAuthSecret string
	flag.StringVar(&configPath, "config", os.Getenv("QAKKA_CONFIG"), "Path to the YAML config file")
	flag.StringVar(&flagAuthSecret, "auth-secret", "", "Authentication secret")
	flag.Parse()

	appConfigs, err := configs.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configs")
	}
	setupLogger(appConfigs)

	authSecret := os.Getenv("QAKKA_AUTH_SECRET")
	if authSecret == "" {
		authSecret = flagAuthSecret
	}
	if authSecret == "" {
		log.Fatal().Msg("auth secret is not provided: either set QAKKA_AUTH_SECRET environment variable or pass it as a command line argument --auth-secret")
	}

	dataPaths, err := utils.GetOrCreateDataPaths(appConfigs.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get or create data directory")
	}
	log.Info().Str("dir", dataPaths.Dir).Str("region", appConfigs.LocalRegion).Msg("starting qakka")

	// migrations are applied on open
	repo, err := db.NewSQLiteRepo(dataPaths.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SQLite repository")
	}
	defer repo.Close()

	payloadStore, err := payloads.OpenBoltStore(dataPaths.PayloadsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open payload store")
	}
	defer payloadStore.Close()

	var metricsHandler http.Handler
	registry := prometheus.NewRegistry()
	if appConfigs.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	metricsService := metrics.NewMetricsService(appConfigs.Metrics.Enabled, registry)

	queueService := services.NewDistributedQueueService(repo, payloadStore, metricsService, appConfigs, nil)
	if err := queueService.Init(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize queue service")
	}
	monitoringService := services.NewMonitoringService(repo)

	dbOptimizationJob := maintenance.NewDbOptimizationJob(repo, appConfigs.JobsIntervals.DbOptimizationMs, appConfigs.JobsIntervals.DbOptimizationMaxDurationMs)
	defer dbOptimizationJob.Close()

	qakkaRouter := api.NewRouter(queueService, monitoringService, metricsHandler, appConfigs, authSecret)

	// enforcing HTTP2 only
	var protocols http.Protocols
	protocols.SetUnencryptedHTTP2(true)
	protocols.SetHTTP1(false)

	qakkaServer := &http.Server{
		Addr:              appConfigs.ServerConfig.Addr,
		Handler:           http.TimeoutHandler(qakkaRouter.NewRouter(), appConfigs.ServerConfig.Timeouts.Handle, "timeout"),
		WriteTimeout:      appConfigs.ServerConfig.Timeouts.Write,
		ReadTimeout:       appConfigs.ServerConfig.Timeouts.Read,
		ReadHeaderTimeout: appConfigs.ServerConfig.Timeouts.ReadHeader,
		IdleTimeout:       appConfigs.ServerConfig.Timeouts.Idle,
		Protocols:         &protocols,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", qakkaServer.Addr).Msg("server listening")
		serverErrCh <- qakkaServer.ListenAndServe()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalCh:
		log.Info().Str("signal", sig.String()).Msg("server shutdown requested")
	case err := <-serverErrCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := qakkaServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to shutdown server gracefully")
		if err := qakkaServer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close server")
		}
	}
	if err := queueService.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to shutdown queue service")
	}
	log.Info().Msg("server shutdown")
}

func setupLogger(appConfigs *configs.AppConfigs) {
	level, err := zerolog.ParseLevel(appConfigs.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if appConfigs.Env == common.LocalEnv {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}
