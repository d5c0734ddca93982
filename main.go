package main

import (
	"os"

	"github.com/claudepings/claudepings/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
