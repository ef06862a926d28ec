package main

import (
	"os"

	"github.com/clrfund/setup-mpc-ui/cmd/contribute"
	"github.com/clrfund/setup-mpc-ui/cmd/db"
	"github.com/clrfund/setup-mpc-ui/cmd/server"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "setup-mpc",
		Short: "Trusted setup ceremony coordination",
	}

	root.AddCommand(
		contribute.New(),
		db.New(),
		server.New(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
