package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/webstats/internal/goatcounter"
	"github.com/withObsrvr/webstats/internal/snapshot"
)

func newSnapshotCommand() *cobra.Command {
	var (
		out  string
		days int
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Append the last few days of raw hits to a parquet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			cfg := a.cfg

			if err := cfg.ValidateSource(); err != nil {
				return err
			}
			if out == "" {
				out = cfg.Snapshot.ParquetPath
			}
			if days <= 0 {
				days = cfg.Snapshot.Days
			}

			s := snapshot.New(goatcounter.NewClient(cfg.GoatCounter, a.logger), out, days, a.logger)
			res, err := s.Run(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !res.Written {
				fmt.Fprintln(w, "No new rows")
				return nil
			}
			fmt.Fprintf(w, "Saved %d new rows. Total=%d\n", res.NewRows, res.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "parquet file (default snapshot.parquet_path)")
	cmd.Flags().IntVar(&days, "days", 0, "days to fetch (default snapshot.days)")
	return cmd
}
