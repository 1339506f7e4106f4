package main

import (
	"os"

	"github.com/bebsworthy/diagmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
