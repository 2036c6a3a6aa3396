package cmd

import (
	"github.com/spf13/cobra"

	"github.com/withObsrvr/webstats/internal/api"
	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/ledger"
)

func newServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only JSON views of the store over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if port > 0 {
				a.cfg.API.Port = port
			}

			// Handles are opened per request so ingest can lock the file
			// while the API is up.
			view := duckdb.NewView(a.cfg.DuckDB.Path, a.logger)
			if err := view.Do(cmd.Context(), func(*duckdb.Client) error { return nil }); err != nil {
				return err
			}

			runs := ledger.NewRunView(view, a.cfg.Service.JobName, a.logger)
			server := api.NewServer(a.cfg.API, a.cfg.Service.Name, view, runs, a.logger)
			return server.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default api.port)")
	return cmd
}
