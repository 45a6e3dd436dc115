package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kassza/internal/config"
	"kassza/internal/httpapi"
	"kassza/internal/ledger"
	"kassza/internal/logger"
	"kassza/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := validateSecurityConfig(cfg); err != nil {
				return fmt.Errorf("invalid security configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	log := logger.New(cfg.LogLevel)
	if cfg.ConfigFile != "" {
		log.Info("config loaded from file", "file", cfg.ConfigFile)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, 15*time.Second)
	defer cancelStart()

	closers := make([]closer, 0, 3)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close error", "error", err)
			}
		}
	}()

	port, closeStore, err := openStore(startCtx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	publisher, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, publisher.Close)

	reports, closeArchive, err := openArchive(startCtx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeArchive)

	svc := service.New(port, publisher, reports, log, service.Config{
		Location:        cfg.Location(),
		DefaultLoanDays: cfg.DefaultLoanDays,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), svc, log)
	if n, err := auth.UpgradeLegacyPasswords(startCtx); err != nil {
		log.Warn("legacy password upgrade failed", "error", err)
	} else if n > 0 {
		log.Info("legacy passwords upgraded", "count", n)
	}
	if err := bootstrapAdmin(startCtx, auth, cfg.AdminPassword, log); err != nil {
		return err
	}

	projection := ledger.NewProjection(port, log, cfg.Location())
	projectionDone := make(chan struct{})
	go func() {
		defer close(projectionDone)
		if err := projection.Run(ctx); err != nil {
			log.Error("till projection stopped", "error", err)
		}
	}()

	api := httpapi.New(svc, auth, projection, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        log,
	})

	// No WriteTimeout: the till stream holds its response open.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("kassza listening", "addr", cfg.Address(), "timezone", cfg.Timezone, "backend", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	stop()
	<-projectionDone

	log.Info("server stopped")
	return nil
}
