package main

import (
	"os"

	"github.com/wonny/aegis/exitengine/cmd/exitengine/commands"
)

// main is the entry point for the exit engine CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/exitengine [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
