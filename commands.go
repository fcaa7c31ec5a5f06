package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/currency-check/internal/auth"
	"github.com/example/currency-check/internal/config"
	"github.com/example/currency-check/internal/grpchealth"
	"github.com/example/currency-check/internal/logging"
	"github.com/example/currency-check/internal/repository"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "currency-check",
		Short:         "Banknote authenticity checks backed by a multimodal model",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (defaults to ./config.yaml if present)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		newAddUserCommand(&configPath),
		newHealthcheckCommand(),
	)
	return root
}

func newAddUserCommand(configPath *string) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username = strings.TrimSpace(username)
			if err := auth.ValidateUsername(username); err != nil {
				return err
			}
			if err := auth.ValidatePassword(password); err != nil {
				return err
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.DatabaseDebug)
			if err != nil {
				return err
			}
			if err := repository.AutoMigrate(ctx, db, logger); err != nil {
				return err
			}

			store := auth.NewCredentialStore(repository.NewUserRepository(db), cfg.BcryptCost, logger)
			if err := store.Register(ctx, username, password); err != nil {
				if errors.Is(err, auth.ErrUsernameTaken) {
					return fmt.Errorf("user %q already exists", username)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newHealthcheckCommand() *cobra.Command {
	var addr, service string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the gRPC health endpoint of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			status, err := grpchealth.Check(ctx, addr, service, zap.NewNop())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service %q is %s", service, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "gRPC health address")
	cmd.Flags().StringVar(&service, "service", "", "service name; empty checks the whole process, \"oracle\" checks prediction readiness")
	return cmd
}
