package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/printdesk/internal/gateway/app"
)

// newRootCmd builds the command tree. Without a subcommand the gateway
// serves.
func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "printdesk-gateway",
		Short: "Backend-for-frontend gateway of the PrintDesk admin app",
		Long: `printdesk-gateway keeps the browser's backend credentials in HttpOnly
cookies, proxies API calls to the managed-print backend and refreshes
expired credentials transparently.

Configuration is read from the environment. A .env file is loaded first
when present.`,
		Version:      app.BuildVersion,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Variables already set in the environment win over the file.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.SetVersionTemplate(`{{printf "printdesk-gateway version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newRoutesCmd(),
		newAuditCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	application, err := app.New(app.LoadConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run()
}
