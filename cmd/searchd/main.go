package main

import (
	"os"

	"github.com/quickparts/searchd/cmd/searchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
