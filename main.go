package main

import (
	"os"

	"github.com/ghlabs/embedsrv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
