package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/AutoRouter/internal/app"
	"github.com/router-for-me/AutoRouter/internal/config"
	"github.com/router-for-me/AutoRouter/internal/security"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := newRootCmd().ExecuteContext(ctx); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command runs the server.
func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "autorouter",
		Short:         "Authenticating reverse proxy for OpenAI and Anthropic upstreams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (or env "+config.EnvConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gateway server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cfgPath)
				if err != nil {
					return err
				}
				if errMigrate := app.Migrate(cmd.Context(), cfg); errMigrate != nil {
					return errMigrate
				}
				log.Info("migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "gen-key",
			Short: "Print a new base64 encryption key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				key, err := security.GenerateKey()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
				return err
			},
		},
		newInitCmd(&cfgPath),
	)
	return root
}

func newInitCmd(cfgPath *string) *cobra.Command {
	var req app.InitRequest

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with generated secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(*cfgPath)
			result, err := app.InitConfig(path, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config written to %s\n", result.ConfigPath)
			fmt.Fprintf(out, "admin token: %s\n", result.AdminToken)
			fmt.Fprintln(out, "store the admin token now, it is not shown again")
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.DatabaseType, "db-type", "sqlite", "database type: sqlite or postgres")
	flags.StringVar(&req.DatabasePath, "db-path", "", "sqlite database file")
	flags.StringVar(&req.DatabaseHost, "db-host", "localhost", "postgres host")
	flags.IntVar(&req.DatabasePort, "db-port", 5432, "postgres port")
	flags.StringVar(&req.DatabaseUser, "db-user", "", "postgres user")
	flags.StringVar(&req.DatabasePassword, "db-password", "", "postgres password")
	flags.StringVar(&req.DatabaseName, "db-name", "autorouter", "postgres database name")
	flags.StringVar(&req.DatabaseSSLMode, "db-sslmode", "disable", "postgres sslmode")
	flags.IntVar(&req.Port, "port", config.DefaultPort, "server port")
	return cmd
}

func serve(ctx context.Context, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	return app.RunServer(ctx, cfg)
}

// loadConfig resolves the config path from the flag or environment and loads it.
func loadConfig(cfgPath string) (*config.Config, error) {
	path := resolveConfigPath(cfgPath)
	if !app.ConfigExists(path) && strings.TrimSpace(os.Getenv(config.EnvDBConnection)) == "" {
		return nil, fmt.Errorf("config file %s not found and %s is not set; run 'autorouter init' first", path, config.EnvDBConnection)
	}
	return config.Load(path)
}

func resolveConfigPath(cfgPath string) string {
	if strings.TrimSpace(cfgPath) != "" {
		return config.ResolveConfigPath(cfgPath)
	}
	appCfg, _ := config.LoadFromEnv()
	return appCfg.ConfigPath
}
