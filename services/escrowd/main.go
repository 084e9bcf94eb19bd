package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	gormlogger "gorm.io/gorm/logger"

	"pactum/config"
	"pactum/escrow"
	"pactum/notify"
	"pactum/observability"
	"pactum/observability/logging"
	telemetry "pactum/observability/otel"
	"pactum/payments"
	escrowmw "pactum/services/escrowd/middleware"
	"pactum/services/escrowd/server"
	"pactum/storage/escrowdb"
)

const serviceName = "escrowd"

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("escrowd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", strings.TrimSpace(os.Getenv("ESCROW_CONFIG")), "path to escrowd configuration (yaml or toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return err
	}
	logger, logCloser := logging.Setup(serviceName, cfg.Environment,
		logging.WithLevel(level),
		logging.WithFile(logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}))
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        cfg.Telemetry.Headers,
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := escrowdb.Open(cfg.Database.Driver, cfg.Database.URL, escrowdb.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	store := escrowdb.NewStore(db)

	fee, err := cfg.Escrow.FeeRate()
	if err != nil {
		return err
	}
	emitters := escrow.MultiEmitter{escrowdb.NewAuditEmitter(db, logger)}
	var dispatcher *notify.Dispatcher
	if len(cfg.Webhooks) > 0 {
		subscribers := make([]notify.Subscriber, 0, len(cfg.Webhooks))
		for _, hook := range cfg.Webhooks {
			subscribers = append(subscribers, notify.Subscriber{URL: hook.URL, Secret: hook.Secret, Events: hook.Events})
		}
		dispatcher, err = notify.NewDispatcher(subscribers, notify.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("init webhooks: %w", err)
		}
		emitters = append(emitters, dispatcher)
	}
	opts := []escrow.Option{
		escrow.WithLogger(logger),
		escrow.WithMetrics(observability.Escrow()),
		escrow.WithEmitter(emitters),
	}
	if cfg.PSP.Enabled() {
		rail, err := payments.NewPSPClient(payments.PSPConfig{
			BaseURL:       cfg.PSP.BaseURL,
			APIKey:        cfg.PSP.APIKey,
			PixKey:        cfg.PSP.PixKey,
			Currency:      cfg.Escrow.Currency,
			Timeout:       cfg.PSP.Timeout.Duration,
			RatePerMinute: cfg.PSP.RatePerMinute,
			ChargeTTL:     cfg.PSP.ChargeTTL.Duration,
		})
		if err != nil {
			return fmt.Errorf("init psp client: %w", err)
		}
		opts = append(opts, escrow.WithRail(rail))
	} else {
		logger.Warn("psp base url not configured; deposit instructions and settlement sync are disabled")
	}
	engine, err := escrow.NewEngine(store, escrow.Config{
		FeePercent:     fee,
		Currency:       cfg.Escrow.Currency,
		StatementDueIn: time.Duration(cfg.Escrow.BoletoDueDays) * 24 * time.Hour,
	}, opts...)
	if err != nil {
		return fmt.Errorf("init escrow engine: %w", err)
	}

	srv, err := server.New(server.Config{
		Engine: engine,
		DB:     db,
		Events: store,
		Logger: logger,
		RateLimit: escrowmw.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go srv.RateLimiter().Run(ctx)
	if dispatcher != nil {
		go dispatcher.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			slog.String("addr", cfg.Server.ListenAddress),
			slog.String("fee_percent", fee.String()),
			slog.String("currency", cfg.Escrow.Currency),
			slog.String("db_driver", cfg.Database.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("escrowd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
