package main

import (
	"os"

	"github.com/vladbarosan/oav-express/cmd/oavctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
