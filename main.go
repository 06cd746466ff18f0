package main

import (
	"os"

	"github.com/kebairia/backman/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
