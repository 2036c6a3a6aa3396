package cmd

import (
	"github.com/spf13/cobra"

	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/query"
)

func newQueryCommand() *cobra.Command {
	var sqlPath string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a read-only SQL file against the store",
		Long: `Run a SQL file against the DuckDB store opened read-only and print the
result tab-separated. Without --sql the built-in top paths query runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if sqlPath == "" {
				sqlPath = a.cfg.Query.SQLPath
			}
			q, err := query.LoadSQL(sqlPath)
			if err != nil {
				return err
			}

			store, err := duckdb.OpenReadOnly(cmd.Context(), a.cfg.DuckDB.Path, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			_, err = query.Run(cmd.Context(), store.DB(), q, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVar(&sqlPath, "sql", "", "SQL file to run (default query.sql_path or the built-in top paths query)")
	return cmd
}
