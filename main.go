package main

import (
	"fmt"
	"os"

	"github.com/withObsrvr/webstats/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cmd.Describe(err))
		os.Exit(1)
	}
}
