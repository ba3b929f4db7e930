package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/application"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/logger"
)

const (
	appName    = "shesha"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName + " [question]",
		Short: "Shesha — recursive language model execution engine",
		Args:  cobra.ArbitraryArgs,
		RunE:  runQuery,
	}
	rootCmd.Flags().StringSliceP("doc", "d", nil, "path to a document file (repeatable); content is loaded into context[]")
	rootCmd.Flags().StringP("model", "m", "", "driver model identifier (overrides config default)")
	rootCmd.Flags().IntP("max-iterations", "i", 0, "iteration budget override")
	rootCmd.Flags().Bool("no-verify", false, "disable citation verification")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the HTTP query surface",
		RunE:  runServe,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	question := strings.Join(args, " ")

	log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if m, _ := cmd.Flags().GetString("model"); m != "" {
		cfg.Engine.DriverModel = m
	}

	docPaths, _ := cmd.Flags().GetStringSlice("doc")
	docs := make(entity.DocumentSet, 0, len(docPaths))
	for i, path := range docPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read document %q: %w", path, err)
		}
		docs = append(docs, entity.Document{ID: path, Index: i, Content: string(content)})
	}
	if len(docs) == 0 {
		return fmt.Errorf("at least one --doc is required")
	}

	opts := entity.DefaultQueryOptions()
	if maxIter, _ := cmd.Flags().GetInt("max-iterations"); maxIter > 0 {
		opts.MaxIterations = maxIter
	}
	if noVerify, _ := cmd.Flags().GetBool("no-verify"); noVerify {
		opts.VerifyCitations = entity.BoolPtr(false)
	}

	app, err := application.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	query := entity.NewQuery(uuid.NewString(), question, docs, cfg.Engine.DriverModel, opts)
	result, err := app.Engine().Run(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Println(result.Answer)
	fmt.Fprintf(os.Stderr, "terminal=%s iterations-used trace=%s duration=%s\n", result.Terminal, result.TraceID, result.Duration)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("starting shesha gateway", zap.String("version", appVersion))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("failed to start application", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info("application stopped successfully")
	return nil
}
