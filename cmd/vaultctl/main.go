package main

import (
	"os"

	"github.com/nidhogg/golem-vault/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
