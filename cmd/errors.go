package cmd

import (
	"errors"

	"github.com/withObsrvr/webstats/internal/config"
	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/goatcounter"
)

// Describe prefixes err with its class for the operator.
func Describe(err error) string {
	var (
		cfgErr       *config.ConfigError
		transportErr *goatcounter.TransportError
		storageErr   *duckdb.StorageError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "config error: " + err.Error()
	case errors.As(err, &transportErr):
		return "transport error: " + err.Error()
	case errors.As(err, &storageErr):
		return "storage error: " + err.Error()
	default:
		return "error: " + err.Error()
	}
}
