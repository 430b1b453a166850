package main

import (
	"os"

	"github.com/endorhq/rover/cmd/rover/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
