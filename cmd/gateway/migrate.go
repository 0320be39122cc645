package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/printdesk/internal/gateway/app"
)

func newMigrateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the audit ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = app.LoadConfig().AuditDatabaseFile
			}
			if file == "" {
				return errors.New("no ledger file: set AUDIT_DATABASE_FILE or --file")
			}

			ledger, err := app.OpenLedger(file)
			if err != nil {
				return err
			}
			defer ledger.Close()

			version, dirty, err := ledger.SchemaVersion()
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d (dirty: %t)\n", file, version, dirty)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "ledger SQLite file (default $AUDIT_DATABASE_FILE)")
	return cmd
}
