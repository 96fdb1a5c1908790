package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chat-session/internal/app"
	"chat-session/internal/auth"
	"chat-session/internal/config"
	"chat-session/internal/events"
	"chat-session/internal/observability"
	"chat-session/internal/presence"
)

func main() {
	loadEnvFiles()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "chat-session",
	Short:        "Multi-user chat session service",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC servers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-presence",
	Short: "Mark users with stale presence offline once and exit",
	RunE:  runSweep,
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Sign a development token for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("name", "", "Display name claim")
	tokenCmd.Flags().String("email", "", "Email claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	log, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("init logger: %w", err)
	}
	log = log.With().Str("service", cfg.ServiceName).Logger()
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.EnableTracing, cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown tracing")
		}
	}()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info().
		Str("store", cfg.StoreDriver).
		Str("storage", cfg.StorageDriver).
		Str("http", cfg.HTTPAddr()).
		Str("grpc", cfg.GRPCAddr()).
		Str("environment", cfg.Environment).
		Msg("starting chat-session")

	if err := application.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("chat-session exited cleanly")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != "postgres" {
		return fmt.Errorf("migrate requires STORE_DRIVER=postgres")
	}
	_, database, _, err := app.OpenStores(cmd.Context(), cfg, events.NewHub(log), log)
	if err != nil {
		return err
	}
	return database.Close()
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	stores, database, _, err := app.OpenStores(cmd.Context(), cfg, events.NewHub(log), log)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	manager := presence.NewManager(stores.Profiles, cfg.PresenceStaleAfter, log)
	expired, err := presence.NewSweeper(manager, cfg.PresenceSweepInterval, log).SweepOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d\n", expired)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).Issue(args[0], name, email, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
