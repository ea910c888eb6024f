package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	configloader "github.com/foxseedlab/livescribe/external/config"
	"github.com/foxseedlab/livescribe/external/discord"
	"github.com/foxseedlab/livescribe/external/recorder"
	repositoryimpl "github.com/foxseedlab/livescribe/external/repository"
	transcriberimpl "github.com/foxseedlab/livescribe/external/transcriber"
	webhookimpl "github.com/foxseedlab/livescribe/external/webhook"
	"github.com/foxseedlab/livescribe/internal/config"
	discordpkg "github.com/foxseedlab/livescribe/internal/discord"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/session"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "livescribe",
	Short:         "Stream microphone audio to a transcription service and print the transcript",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTranscription()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Record from the microphone and transcribe until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTranscription()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Call the transcription service health check",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealthCheck(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "livescribe v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", configloader.DefaultEnvFile, "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("livescribe failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	slog.Info("startup: loading configuration", "env_file", envFile)
	cfg, err := configloader.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "backend", cfg.TranscriberBackend)
	return cfg, nil
}

// initLogger writes JSON logs to stderr; stdout carries the transcript.
func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	recorder.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func runTranscription() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve session manager: %w", err)
	}
	defer closeSinks(injector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("startup: starting transcription")
	if err := manager.Run(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		slog.Info("shutting down")
	}
	return nil
}

func closeSinks(injector do.Injector) {
	if repo, err := do.Invoke[repository.Repository](injector); err == nil {
		repo.Close()
	}
	if dc, err := do.Invoke[discordpkg.Client](injector); err == nil {
		if err := dc.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}
}

func runHealthCheck(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.TranscriberBackend != config.BackendWhisper {
		return errors.New("health check is only available for the whisper backend")
	}
	injector := setupDI(cfg)
	checker := do.MustInvoke[transcriber.HealthChecker](injector)
	target := do.MustInvoke[transcriber.Target](injector)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ConnectTimeout()+5*time.Second)
	defer cancel()
	code, err := checker.Check(ctx, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s status_code=%d\n", target.Address(), code)
	return nil
}
