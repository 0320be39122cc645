package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/printdesk/internal/gateway/app"
	"github.com/aussiebroadwan/printdesk/internal/gateway/audit/sqlite"
)

func newAuditCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune the auth event ledger",
	}
	cmd.PersistentFlags().StringVar(&file, "file", "", "ledger SQLite file (default $AUDIT_DATABASE_FILE)")

	open := func() (*sqlite.Store, error) {
		if file == "" {
			file = os.Getenv("AUDIT_DATABASE_FILE")
		}
		if file == "" {
			return nil, errors.New("no ledger file: set AUDIT_DATABASE_FILE or --file")
		}
		return app.OpenLedger(file)
	}

	cmd.AddCommand(newAuditRecentCmd(open), newAuditPruneCmd(open))
	return cmd
}

func newAuditRecentCmd(open func() (*sqlite.Store, error)) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest auth events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := open()
			if err != nil {
				return err
			}
			defer ledger.Close()

			events, err := ledger.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tUSER\tTENANT\tSTATUS\tFINGERPRINT\tREMOTE")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.CreatedAt.UTC().Format(time.RFC3339), e.Type, dash(e.UserID), dash(e.TenantID),
					e.Status, dash(e.Fingerprint), dash(e.RemoteAddr))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}

func newAuditPruneCmd(open func() (*sqlite.Store, error)) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete events older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}

			ledger, err := open()
			if err != nil {
				return err
			}
			defer ledger.Close()

			n, err := ledger.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d events\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the newest event to delete")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
