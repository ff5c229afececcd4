package main

import (
	"os"

	"github.com/odyssey-erp/multipay/cmd/multipayctl/cli"
)

func main() {
	if err := cli.NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
