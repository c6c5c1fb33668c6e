package main

import (
	"os"

	"go.pilab.hu/socialcore/cmd/socialctl/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
