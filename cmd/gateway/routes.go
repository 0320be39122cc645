package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/printdesk/internal/gateway/routes"
)

func newRoutesCmd() *cobra.Command {
	var (
		file   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Validate and print the route table",
		Long: `Loads the route table from --file, $GATEWAY_ROUTES_FILE or the built-in
defaults, validates it and prints it. A table that fails validation is an
error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("file") {
				file = os.Getenv("GATEWAY_ROUTES_FILE")
			}

			table, err := routes.Load(file)
			if err != nil {
				return err
			}
			if err := table.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(table); err != nil {
					return err
				}
				return enc.Close()

			case "table":
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tMETHOD\tPATTERN\tUPSTREAM")
				for _, r := range table.Routes {
					method, upstreamMethod := orAny(r.Method), r.UpstreamMethod
					if upstreamMethod == "" {
						upstreamMethod = method
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\n", r.Name, method, r.Pattern, upstreamMethod, r.Upstream)
				}
				return tw.Flush()

			default:
				return fmt.Errorf("unknown format %q (want table or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML route table (default $GATEWAY_ROUTES_FILE, else built-in)")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table or yaml")
	return cmd
}

func orAny(method string) string {
	if method == "" {
		return "*"
	}
	return method
}
