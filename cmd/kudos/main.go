package main

import (
	"os"

	"github.com/kudos-app/kudos/cmd/kudos/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
