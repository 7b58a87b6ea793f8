package main

import (
	"os"

	"github.com/book-expert/vocu-service/cmd/vocu/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
