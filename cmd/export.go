package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/export"
)

func newExportCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every DuckDB table to a sheet of an .xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if out == "" {
				out = a.cfg.Export.XLSXPath
			}

			store, err := duckdb.OpenReadOnly(cmd.Context(), a.cfg.DuckDB.Path, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := export.Workbook(cmd.Context(), store, out, a.logger)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Wrote workbook: %s\n", summary.Path)
			fmt.Fprintf(w, "Tables exported: %d\n", len(summary.Sheets))
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "workbook path (default export.xlsx_path)")
	return cmd
}
