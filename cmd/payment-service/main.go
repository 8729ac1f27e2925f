package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmehra2102/payment-orchestrator/internal/app"
	"github.com/dmehra2102/payment-orchestrator/internal/config"
	merchant "github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/logging"
	"github.com/dmehra2102/payment-orchestrator/pkg/shutdown"
	"github.com/dmehra2102/payment-orchestrator/pkg/tracing"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "payment-service",
		Short:         "Payment orchestration service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or env)")

	load := func() (config.Config, error) { return config.Load(cfgFile) }

	root.AddCommand(serveCmd(load))
	root.AddCommand(migrateCmd(load))
	root.AddCommand(streamCmd(load))
	root.AddCommand(seedCmd(load))
	return root
}

func serveCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health service and outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel)

			ctx, cancel := shutdown.WithSignals(cmd.Context())
			defer cancel()

			tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTELEndpoint, log)
			if err != nil {
				return fmt.Errorf("otel init: %w", err)
			}
			defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error("close failed", "err", err)
				}
			}()

			if err := a.Run(ctx); err != nil {
				return err
			}
			log.Info("payment-service shutdown complete")
			return nil
		},
	}
}

func migrateCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return app.Migrate(cfg, logging.New(cfg.LogLevel))
		},
	}
}

func streamCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Republish lifecycle events from Kafka to the Redis realtime channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel)

			ctx, cancel := shutdown.WithSignals(cmd.Context())
			defer cancel()

			tp, err := tracing.Init(ctx, cfg.ServiceName+"-stream", cfg.OTELEndpoint, log)
			if err != nil {
				return fmt.Errorf("otel init: %w", err)
			}
			defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

			s := app.NewStream(cfg, log)
			defer func() { _ = s.Close() }()
			return s.Run(ctx)
		},
	}
}

func seedCmd(load func() (config.Config, error)) *cobra.Command {
	var m merchant.Merchant
	var credential string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update a merchant and register an API key for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if m.ID == "" {
				m.ID = uuid.NewString()
			} else if _, err := uuid.Parse(m.ID); err != nil {
				return fmt.Errorf("merchant id: %w", err)
			}
			m.Active = true
			return app.Seed(cmd.Context(), cfg, logging.New(cfg.LogLevel), m, credential)
		},
	}
	cmd.Flags().StringVar(&m.ID, "id", "", "merchant id (generated when empty)")
	cmd.Flags().StringVar(&m.Name, "name", "", "merchant name")
	cmd.Flags().StringVar(&m.Email, "email", "", "merchant contact email")
	cmd.Flags().BoolVar(&m.AllowLargePayments, "allow-large", false, "allow payments above the fraud threshold")
	cmd.Flags().StringVar(&credential, "key", "", "API key to register")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
