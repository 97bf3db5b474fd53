package main

import (
	"os"

	"github.com/tkingovr/adminsync/cmd/adminsync/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
