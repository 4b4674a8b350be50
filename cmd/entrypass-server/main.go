// ABOUTME: Entry point for the entrypass-server check-in service
// ABOUTME: Serves the entry pass action endpoint over HTTP with graceful shutdown

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/matsuri-dev/entrypass/internal/config"
	"github.com/matsuri-dev/entrypass/internal/mail"
	"github.com/matsuri-dev/entrypass/internal/pass"
	"github.com/matsuri-dev/entrypass/internal/store"
	"github.com/matsuri-dev/entrypass/internal/token"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _
   ___ _ __ | |_ _ __ _   _ _ __   __ _ ___ ___
  / _ \ '_ \| __| '__| | | | '_ \ / _' / __/ __|
 |  __/ | | | |_| |  | |_| | |_) | (_| \__ \__ \
  \___|_| |_|\__|_|   \__, | .__/ \__,_|___/___/
                      |___/|_|
`

// getConfigPath returns the path to the server config file.
// Priority: ENTRYPASS_CONFIG env var > XDG_CONFIG_HOME/entrypass/entrypass.yaml > ~/.config/entrypass/entrypass.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ENTRYPASS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "entrypass.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "entrypass", "entrypass.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// A missing signing secret leaves the service up but unable to issue or
	// verify passes; every token action then fails with a config error.
	var codec *token.Codec
	if cfg.Auth.SigningSecret == "" {
		logger.Error("signing secret not configured; token actions will fail")
	} else {
		codec, err = token.NewCodec([]byte(cfg.Auth.SigningSecret))
		if err != nil {
			return fmt.Errorf("creating token codec: %w", err)
		}
	}
	if cfg.Auth.AdminPIN == "" {
		logger.Warn("admin PIN not configured; check_in will fail")
	}

	var identity pass.IdentityResolver
	if cfg.Identity.URL != "" {
		identity = pass.NewHTTPIdentityResolver(cfg.Identity.URL, cfg.Identity.AnonKey)
	}

	handler := pass.New(cfg, codec, st, mail.NewResendClient(cfg.Mail.ResendAPIKey), identity)

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/entry_pass", handler)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting entrypass-server", "addr", cfg.Server.HTTPAddr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
