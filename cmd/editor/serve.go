package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codepad/apps/editor/internal/app"
	"codepad/apps/editor/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	envFile, envErr := loadEnvFile()

	cfg, err := opts.settings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stderr"}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logging.Sync() }()

	if envErr != nil {
		logging.Warn("load env file failed", zap.String("path", envFile.Path), zap.Error(envErr))
	} else if len(envFile.Loaded) > 0 {
		logging.Info("env file loaded",
			zap.String("path", envFile.Path),
			zap.Strings("keys", envFile.Loaded),
			zap.Strings("kept_from_environment", envFile.Skipped),
		)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	// Port 0 picks a free port; the server and the log line use the real one.
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		cfg.Port = strconv.Itoa(tcpAddr.Port)
	}

	srv, err := app.NewServer(cfg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("init server: %w", err)
	}
	defer srv.Close()
	if warning := srv.ConfigWarning(); warning != "" {
		logging.Warn("editor config loaded with defaults", zap.String("warning", warning))
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logging.Info("editor backend listening",
		zap.String("url", cfg.BaseURL()),
		zap.String("config_file", srv.ConfigPath()),
		zap.String("version", app.Version),
	)
	return g.Wait()
}
