package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"communitychat/auth"
	"communitychat/config"
	"communitychat/database"
	"communitychat/directory"
	"communitychat/handlers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "communitychat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database initialized", "driver", store.Driver())

	verifiers := auth.Chain{}
	if cfg.JWTSecret != "" {
		verifiers = append(verifiers, auth.NewJWTVerifier(cfg.JWTSecret))
	} else {
		logger.Warn("JWT_SECRET not set, only session tokens are accepted")
	}
	verifiers = append(verifiers, auth.NewSessionVerifier(store))

	hub := handlers.NewHub(logger)
	dir := directory.New(store, store, cfg.DefaultAdminID)
	dir.SetPresence(hub)

	gateway := handlers.NewGateway(store, dir, verifiers, hub, logger, handlers.Options{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	users := handlers.NewUserHandler(store, hub, logger)
	sessions := handlers.NewSessionHandler(store, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(gateway, users, sessions, verifiers, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("chat gateway listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// sockets are hijacked and outlive srv.Shutdown; they must be gone
	// before the deferred store.Close
	return errors.Join(srv.Shutdown(shutdownCtx), gateway.Shutdown(shutdownCtx))
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
