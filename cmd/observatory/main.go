package main

import (
	"os"

	"github.com/virgolamobile/observatory/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
