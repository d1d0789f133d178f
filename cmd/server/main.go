package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/secure-webapp/internal/application"
	"github.com/eugenenazirov/secure-webapp/internal/config"
	"github.com/eugenenazirov/secure-webapp/internal/logging"
)

var signalNotify = signal.Notify

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func main() {
	kingpinApp := kingpin.New("secure-webapp", "Secure web application host with Azure Key Vault backed configuration")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	environment := kingpinApp.Flag("environment", "Hosting environment (Development, Staging, Production)").String()
	keyVaultURL := kingpinApp.Flag("keyvault-url", "Azure Key Vault URL used outside development").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile:     *configFile,
		Port:           port,
		Environment:    environment,
		KeyVaultURL:    keyVaultURL,
		LogLevel:       logLevel,
		RateLimitRPS:   rateLimitRPSFlag,
		RateLimitBurst: rateLimitBurstFlag,
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Mode().IsDevelopment())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

func shutdown(app shutdowner, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
