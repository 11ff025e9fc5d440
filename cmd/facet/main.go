package main

import (
	"os"

	"facet/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
