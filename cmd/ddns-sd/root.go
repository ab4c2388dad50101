package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auto-dns/ddns-sd/internal/app"
	"github.com/auto-dns/ddns-sd/internal/config"
	"github.com/auto-dns/ddns-sd/internal/logger"
)

type contextKey string

const configKey = contextKey("config")

// shutdownEnqueueTimeout bounds how long Shutdown waits to enqueue its
// control messages onto a full queue; it does not bound the backend
// work those messages trigger.
const shutdownEnqueueTimeout = 5 * time.Second

var suppressOnShutdown bool

var rootCmd = &cobra.Command{
	Use:   "ddns-sd",
	Short: "Publish DNS-SD records for this host's containers",
	Long:  "ddns-sd watches the Docker event stream and reconciles DNS-SD (RFC 6763) records for running containers against one or more pluggable DNS backends.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("ddns-sd: reading config file %s: %w", path, err)
			}
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cmd.Context().Value(configKey).(*config.Config)
		log := logger.Setup(cfg.Logging, "ddns-sd")

		gitRevision := os.Getenv("DDNSSD_GIT_REVISION")
		application, err := app.New(cfg, log, gitRevision)
		if err != nil {
			return fmt.Errorf("ddns-sd: create app: %w", err)
		}
		defer application.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			log.Info().Str("signal", sig.String()).Msg("ddns-sd: received shutdown signal")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownEnqueueTimeout)
			defer shutdownCancel()
			if err := application.Shutdown(shutdownCtx, suppressOnShutdown); err != nil {
				log.Warn().Err(err).Msg("ddns-sd: failed to enqueue graceful shutdown, cancelling instead")
				cancel()
			}
		}()

		if err := application.Run(ctx); err != nil {
			return fmt.Errorf("ddns-sd: run: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "INFO", "log level (e.g. INFO, DEBUG, WARN)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.Flags().BoolVar(&suppressOnShutdown, "suppress-on-shutdown", true, "suppress all published records on graceful shutdown")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ddns-sd: %v\n", err)
		os.Exit(1)
	}
}
