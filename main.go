package main

import (
	"os"

	"github.com/sayakyi/nergrid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
