package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pathlabs/trackmate/internal"
	"github.com/pathlabs/trackmate/internal/email"
	"github.com/pathlabs/trackmate/internal/handler"
	"github.com/pathlabs/trackmate/internal/metrics"
	"github.com/pathlabs/trackmate/internal/middleware"
	"github.com/pathlabs/trackmate/internal/storage"
)

func run() error {
	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize mailer
	mailer := email.NewSMTPMailer(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		Timeout:  cfg.SMTPTimeout,
	}, logger)
	logger.Info("Mailer ready", "host", cfg.SMTPHost, "port", cfg.SMTPPort, "recipients", len(cfg.ReportRecipients))

	// Optional archive of every relayed CSV
	archive, err := storage.New(cfg.ArchiveProvider,
		storage.LocalConfig{BasePath: cfg.LocalStoragePath},
		storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("archive initialization failed: %w", err)
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	corsMw := middleware.NewCORSMiddleware(cfg.AllowedOrigins)
	metricsAuthMw := middleware.NewBasicAuth("trackmate metrics", cfg.MetricsUsername, cfg.MetricsPassword, logger)

	// Initialize handlers
	relayHandler := handler.NewRelayHandler(mailer, cfg.ReportRecipients, archive, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	relayHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Metrics sits next to the mux so it sees the matched route pattern.
	stack := middleware.Stack(
		loggingMw.Handler,
		securityMw.Handler,
		corsMw.Handler,
		middleware.MaxBodyBytes(cfg.MaxBodyBytes),
		metrics.Middleware,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
		// Large photo uploads over slow field connections
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: cfg.SMTPTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Relay started", "address", server.Addr, "env", cfg.Env, "archive", cfg.ArchiveProvider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
