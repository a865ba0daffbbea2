package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/application"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/logger"
	httpserver "github.com/ngoclaw/ai-gateway/internal/interfaces/http"
)

const (
	appName    = "ai-gateway"
	appVersion = "0.2.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "ai-gateway — single-process local AI gateway",
		Version: appVersion,
		RunE:    runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "start the gateway HTTP server",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "print the effective configuration and exit",
		RunE:  runPrintConfig,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "list registered tools and exit",
		RunE:  runListTools,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	return logger.NewLogger(logger.Config{
		Level:      "info",
		Format:     "json",
		OutputPath: "stdout",
	})
}

// runServe starts the gateway: builds the transport-agnostic App, wraps
// it in the HTTP server, and runs both until a shutdown signal arrives.
func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting ai-gateway", zap.String("version", appVersion))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	server := httpserver.NewServer(app, cfg.Gateway, log)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down http server", zap.Error(err))
	}
	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		return err
	}

	log.Info("application stopped successfully")
	return nil
}

// runPrintConfig loads the layered configuration and prints it, for
// operators diagnosing what a deployment actually resolved to.
func runPrintConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	fmt.Printf("%+v\n", cfg)
	return nil
}

// runListTools boots just enough of the application to enumerate the
// Tool Bus's registered definitions, without opening a network listener.
func runListTools(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := application.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	for _, def := range app.ToolBus().List() {
		fmt.Printf("%-20s %s\n", def.Name, def.Description)
	}
	return nil
}
